// Package idgen provides the pluggable record ID generators: fixed-length
// random (the default), UUID v1/v4, prefix-formatted incremental counters
// backed by a blob sequence object, and caller-supplied functions.
package idgen

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// Generator produces record IDs. Implementations must be safe for
// concurrent use.
type Generator interface {
	Next(ctx context.Context) (string, error)
}

// Func adapts a caller-supplied function.
type Func func(ctx context.Context) (string, error)

// Next implements Generator.
func (f Func) Next(ctx context.Context) (string, error) {
	return f(ctx)
}

// DefaultRandomLength is the default size for random IDs.
const DefaultRandomLength = 22

// randomAlphabet is URL-safe and case-sensitive: 62 symbols give about
// 5.95 bits per character, so 22 characters carry ~131 bits.
const randomAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Random generates fixed-length random IDs.
type Random struct {
	Length int
}

// NewRandom returns a Random generator; size 0 selects the default.
func NewRandom(size int) *Random {
	if size <= 0 {
		size = DefaultRandomLength
	}
	return &Random{Length: size}
}

// Next implements Generator.
func (r *Random) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	out := make([]byte, r.Length)
	max := big.NewInt(int64(len(randomAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate random id: %w", err)
		}
		out[i] = randomAlphabet[n.Int64()]
	}
	return string(out), nil
}

// UUIDv4 generates random UUIDs.
type UUIDv4 struct{}

// Next implements Generator.
func (UUIDv4) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid v4: %w", err)
	}
	return id.String(), nil
}

// UUIDv1 generates time-ordered UUIDs.
type UUIDv1 struct{}

// Next implements Generator.
func (UUIDv1) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := uuid.NewUUID()
	if err != nil {
		return "", fmt.Errorf("generate uuid v1: %w", err)
	}
	return id.String(), nil
}
