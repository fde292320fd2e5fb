// Package output renders command results in the format selected by the
// -o flag: a borderless table for humans, JSON or YAML for scripts.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Format names a rendering for command results.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat maps a -o flag value to a Format. The empty string means
// table; "yml" is accepted for yaml.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected table, json or yaml)", s)
	}
}

func (f Format) String() string {
	return string(f)
}

// Printer renders values in one fixed format. Commands build a Printer
// per invocation from the parsed -o flag.
type Printer struct {
	out    io.Writer
	format Format
}

// NewPrinter returns a Printer writing to out.
func NewPrinter(out io.Writer, format Format) *Printer {
	return &Printer{out: out, format: format}
}

// Print renders v. Table output requires v to implement TableRenderer;
// values that do not, such as nested status documents, fall back to
// JSON so -o table never fails.
func (p *Printer) Print(v any) error {
	switch p.format {
	case FormatJSON:
		return PrintJSON(p.out, v)
	case FormatYAML:
		return PrintYAML(p.out, v)
	default:
		if r, ok := v.(TableRenderer); ok {
			return PrintTable(p.out, r)
		}
		return PrintJSON(p.out, v)
	}
}
