package replicator

import "context"

// Mutation operations carried by replication entries.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Entry is one replication unit handed to a driver. Record is nil for
// deletes.
type Entry struct {
	ID       string
	Op       string
	Resource string
	RecordID string
	Record   map[string]any
	Attempts int
}

// Driver applies replication entries to an external sink. Apply must be
// idempotent: the drain worker replays entries after crashes and
// retries.
type Driver interface {
	Name() string
	Apply(ctx context.Context, e Entry) error
}

// Flusher is implemented by batching drivers. The drain worker flushes
// after each batch so buffered rows never outlive a drain cycle.
type Flusher interface {
	Flush(ctx context.Context) error
}

// ApplyFunc adapts a plain function into a Driver.
type ApplyFunc func(ctx context.Context, e Entry) error

type customDriver struct {
	name string
	fn   ApplyFunc
}

// NewCustom wraps a user-supplied apply function as a driver.
func NewCustom(name string, fn ApplyFunc) Driver {
	return &customDriver{name: name, fn: fn}
}

func (d *customDriver) Name() string { return d.name }

func (d *customDriver) Apply(ctx context.Context, e Entry) error {
	return d.fn(ctx, e)
}
