// Package bytesize parses and formats human-readable byte sizes used
// throughout configuration, such as metadata reserves ("2Ki"), compression
// thresholds ("64B"), and cache capacities ("256Mi").
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes. It unmarshals from strings like "2Ki",
// "64B", "100MB", or plain numbers, and is signed so it can carry the
// int64 content lengths reported by object storage.
type ByteSize int64

// Common byte size constants
const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

// suffixes is ordered longest-first so "KiB" wins over "B" when matching.
var suffixes = []struct {
	unit string
	mult ByteSize
}{
	{"kib", KiB}, {"mib", MiB}, {"gib", GiB}, {"tib", TiB},
	{"ki", KiB}, {"mi", MiB}, {"gi", GiB}, {"ti", TiB},
	{"kb", KB}, {"mb", MB}, {"gb", GB}, {"tb", TB},
	{"k", KB}, {"m", MB}, {"g", GB}, {"t", TB},
	{"b", B},
}

// Parse converts a human-readable byte size string into a ByteSize.
// It accepts binary units (Ki/KiB, ×1024), decimal units (K/KB, ×1000),
// a bare "B", or a plain number. Unit matching is case-insensitive and
// whitespace around or between number and unit is ignored.
func Parse(s string) (ByteSize, error) {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	if trimmed == "" {
		return 0, fmt.Errorf("empty byte size string")
	}

	mult := B
	for _, sfx := range suffixes {
		if rest, ok := strings.CutSuffix(trimmed, sfx.unit); ok {
			trimmed = strings.TrimSpace(rest)
			mult = sfx.mult
			break
		}
	}

	if trimmed == "" {
		return 0, fmt.Errorf("invalid byte size format: %q", s)
	}

	if strings.Contains(trimmed, ".") {
		num, err := strconv.ParseFloat(trimmed, 64)
		if err != nil || num < 0 {
			return 0, fmt.Errorf("invalid byte size format: %q", s)
		}
		return ByteSize(num * float64(mult)), nil
	}

	num, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || num < 0 {
		return 0, fmt.Errorf("invalid byte size format: %q", s)
	}
	return ByteSize(num) * mult, nil
}

// UnmarshalText implements encoding.TextUnmarshaler so ByteSize can be
// used directly in structs decoded with mapstructure or JSON.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// String returns a human-readable representation using the largest
// binary unit that fits.
func (b ByteSize) String() string {
	switch {
	case b >= TiB:
		return fmt.Sprintf("%.2fTiB", float64(b)/float64(TiB))
	case b >= GiB:
		return fmt.Sprintf("%.2fGiB", float64(b)/float64(GiB))
	case b >= MiB:
		return fmt.Sprintf("%.2fMiB", float64(b)/float64(MiB))
	case b >= KiB:
		return fmt.Sprintf("%.2fKiB", float64(b)/float64(KiB))
	default:
		return fmt.Sprintf("%dB", b)
	}
}

// Int64 returns the ByteSize as an int64.
func (b ByteSize) Int64() int64 {
	return int64(b)
}

// Int returns the ByteSize as an int.
func (b ByteSize) Int() int {
	return int(b)
}
