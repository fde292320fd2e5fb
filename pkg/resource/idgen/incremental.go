package idgen

import (
	"context"
	"encoding/json"
	"fmt"
	mrand "math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/s3db-io/s3db/internal/logger"
	"github.com/s3db-io/s3db/pkg/blob"
	"github.com/s3db-io/s3db/pkg/errs"
)

// IncrementalMode selects the allocation strategy.
type IncrementalMode string

const (
	// ModeSync coordinates one allocation per ID: strongest ordering,
	// one claim round trip per Next.
	ModeSync IncrementalMode = "sync"

	// ModeFast reserves a batch per claim round trip and draws from it
	// locally. IDs stay unique across workers but may interleave and
	// leave gaps when a process stops mid-batch.
	ModeFast IncrementalMode = "fast"
)

// DefaultBatchSize is the fast-mode reservation size.
const DefaultBatchSize = 100

// claimAttempts bounds contention retries on the sequence object.
const claimAttempts = 10

// settleDelay is the pause between writing a claim and verifying it, long
// enough for contending writes to land in the store.
func settleDelay() time.Duration {
	return time.Duration(20+mrand.IntN(10)) * time.Millisecond
}

// IncrementalConfig configures an Incremental generator.
type IncrementalConfig struct {
	// Store holds the sequence object.
	Store blob.Store

	// Key is the sequence object key, e.g. "seq/invoices".
	Key string

	// Mode defaults to ModeSync.
	Mode IncrementalMode

	// BatchSize is the fast-mode reservation size (default 100).
	BatchSize int64

	// Prefix is prepended to the formatted number ("INV-0001").
	Prefix string

	// Pad zero-pads the numeric part to this width; 0 disables padding.
	Pad int
}

// sequence is the stored allocation state. Owner and Nonce implement the
// write-and-re-read claim protocol: a writer only owns the range it wrote
// if the object still carries its nonce on re-read.
type sequence struct {
	Value int64  `json:"value"`
	Owner string `json:"owner"`
	Nonce string `json:"nonce"`
}

// Incremental allocates monotonically increasing IDs through a blob
// sequence object, without conditional writes.
type Incremental struct {
	cfg IncrementalConfig
	id  string // claim identity of this generator instance

	mu   sync.Mutex
	next int64 // next unreturned ID in the local batch
	end  int64 // exclusive end of the local batch
}

// NewIncremental returns an incremental generator.
func NewIncremental(cfg IncrementalConfig) (*Incremental, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("idgen: store is required")
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("idgen: sequence key is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeSync
	}
	if cfg.Mode != ModeSync && cfg.Mode != ModeFast {
		return nil, fmt.Errorf("idgen: unknown mode %q", cfg.Mode)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Incremental{
		cfg: cfg,
		id:  uuid.NewString(),
	}, nil
}

// Next implements Generator.
func (g *Incremental) Next(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.next >= g.end {
		size := int64(1)
		if g.cfg.Mode == ModeFast {
			size = g.cfg.BatchSize
		}
		start, err := g.reserve(ctx, size)
		if err != nil {
			return "", err
		}
		g.next = start
		g.end = start + size
	}

	n := g.next
	g.next++
	return g.format(n), nil
}

// reserve claims [start, start+size) on the sequence object and returns
// start. Mutual exclusion without conditional writes follows the lease
// protocol: write the bumped value with our nonce, wait a settle period so
// contending writes land, re-read, and concede on mismatch. Like the
// leader lease, the exclusion is bounded, not linearizable; if the chosen
// backend offers conditional PUTs the claim write is the place to use them.
func (g *Incremental) reserve(ctx context.Context, size int64) (int64, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		current, err := g.read(ctx)
		if err != nil {
			return 0, err
		}

		claim := sequence{
			Value: current + size,
			Owner: g.id,
			Nonce: uuid.NewString(),
		}
		if err := g.write(ctx, claim); err != nil {
			return 0, err
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(settleDelay()):
		}

		verify, err := g.readFull(ctx)
		if err != nil {
			return 0, err
		}
		if verify.Owner == claim.Owner && verify.Nonce == claim.Nonce {
			return current + 1, nil
		}

		logger.Debug("sequence claim contended, retrying",
			"key", g.cfg.Key, "attempt", attempt+1)
		// Brief jittered pause keeps contending workers from replaying
		// the same interleaving.
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Duration(10+attempt*10) * time.Millisecond):
		}
	}

	return 0, fmt.Errorf("idgen: sequence %q contended beyond %d attempts", g.cfg.Key, claimAttempts)
}

func (g *Incremental) read(ctx context.Context) (int64, error) {
	seq, err := g.readFull(ctx)
	if err != nil {
		return 0, err
	}
	return seq.Value, nil
}

func (g *Incremental) readFull(ctx context.Context) (sequence, error) {
	obj, err := g.cfg.Store.Get(ctx, g.cfg.Key)
	if err != nil {
		if errs.KindOf(err) == errs.KindNoSuchKey {
			return sequence{}, nil
		}
		return sequence{}, fmt.Errorf("read sequence %q: %w", g.cfg.Key, err)
	}

	var seq sequence
	if err := json.Unmarshal(obj.Body, &seq); err != nil {
		return sequence{}, fmt.Errorf("parse sequence %q: %w", g.cfg.Key, err)
	}
	return seq, nil
}

func (g *Incremental) write(ctx context.Context, seq sequence) error {
	body, err := json.Marshal(seq)
	if err != nil {
		return err
	}
	return g.cfg.Store.Put(ctx, blob.PutInput{
		Key:         g.cfg.Key,
		Body:        body,
		ContentType: "application/json",
	})
}

func (g *Incremental) format(n int64) string {
	if g.cfg.Pad > 0 {
		return fmt.Sprintf("%s%0*d", g.cfg.Prefix, g.cfg.Pad, n)
	}
	return fmt.Sprintf("%s%d", g.cfg.Prefix, n)
}
