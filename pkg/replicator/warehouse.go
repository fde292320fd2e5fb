package replicator

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/s3db-io/s3db/internal/logger"
	"github.com/s3db-io/s3db/pkg/blob"
)

// defaultWarehouseFlushSize caps the buffer before an automatic flush.
const defaultWarehouseFlushSize = 500

// warehouseDriver accumulates mutations and flushes them as
// date-partitioned gzip NDJSON batches under a blob prefix:
//
//	<prefix>/<resource>/dt=<day>/<batch>.ndjson.gz
//
// Deletes appear as tombstone rows, so a downstream loader can replay
// the full mutation stream.
type warehouseDriver struct {
	store     blob.Store
	prefix    string
	flushSize int

	mu   sync.Mutex
	rows map[string][][]byte // (resource, day) batch key -> NDJSON lines
	n    int
}

// WarehouseOption tunes the warehouse driver.
type WarehouseOption func(*warehouseDriver)

// WithWarehouseFlushSize overrides the automatic flush threshold.
func WithWarehouseFlushSize(n int) WarehouseOption {
	return func(d *warehouseDriver) {
		if n > 0 {
			d.flushSize = n
		}
	}
}

// NewWarehouse returns the warehouse driver writing batches under
// prefix on store.
func NewWarehouse(store blob.Store, prefix string, opts ...WarehouseOption) Driver {
	d := &warehouseDriver{
		store:     store,
		prefix:    prefix,
		flushSize: defaultWarehouseFlushSize,
		rows:      make(map[string][][]byte),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *warehouseDriver) Name() string { return "warehouse" }

// Apply buffers one row. The drain worker flushes after each batch;
// a full buffer flushes inline.
func (d *warehouseDriver) Apply(ctx context.Context, e Entry) error {
	row := map[string]any{
		"op":       e.Op,
		"resource": e.Resource,
		"id":       e.RecordID,
		"at":       time.Now().UTC().Format(time.RFC3339),
	}
	if e.Record != nil {
		row["record"] = e.Record
	}
	line, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal warehouse row: %w", err)
	}

	day := time.Now().UTC().Format("2006-01-02")
	batch := e.Resource + "/dt=" + day

	d.mu.Lock()
	d.rows[batch] = append(d.rows[batch], line)
	d.n++
	full := d.n >= d.flushSize
	d.mu.Unlock()

	if full {
		return d.Flush(ctx)
	}
	return nil
}

// Flush writes every buffered batch as one gzip NDJSON object. The
// buffer survives a failed flush so rows are retried next cycle.
func (d *warehouseDriver) Flush(ctx context.Context) error {
	d.mu.Lock()
	pending := d.rows
	count := d.n
	d.rows = make(map[string][][]byte)
	d.n = 0
	d.mu.Unlock()

	if count == 0 {
		return nil
	}

	for batch, lines := range pending {
		key := blob.JoinKey(d.prefix, batch, uuid.NewString()+".ndjson.gz")

		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		for _, line := range lines {
			gz.Write(line)
			gz.Write([]byte{'\n'})
		}
		if err := gz.Close(); err != nil {
			d.restore(pending)
			return fmt.Errorf("compress warehouse batch: %w", err)
		}

		if err := d.store.Put(ctx, blob.PutInput{
			Key:         key,
			Body:        buf.Bytes(),
			ContentType: "application/gzip",
		}); err != nil {
			d.restore(pending)
			return fmt.Errorf("write warehouse batch %s: %w", key, err)
		}
		delete(pending, batch)
		logger.Debug("warehouse batch written", "key", key, "rows", len(lines))
	}
	return nil
}

// restore requeues unwritten batches after a failed flush.
func (d *warehouseDriver) restore(pending map[string][][]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for batch, lines := range pending {
		d.rows[batch] = append(lines, d.rows[batch]...)
		d.n += len(lines)
	}
}
