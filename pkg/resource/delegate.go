package resource

import (
	"context"

	"github.com/s3db-io/s3db/pkg/errs"
)

// BindCounter attaches the counter engine. Called by the database when the
// counter plugin is enabled for this resource.
func (r *Resource) BindCounter(c Counter) {
	r.delegMu.Lock()
	defer r.delegMu.Unlock()
	r.counter = c
}

// BindQueue attaches the queue runtime.
func (r *Resource) BindQueue(q Queue) {
	r.delegMu.Lock()
	defer r.delegMu.Unlock()
	r.queue = q
}

// Add applies an eventually-consistent increment to a numeric field.
// Requires the counter engine.
func (r *Resource) Add(ctx context.Context, id, field string, amount float64) (float64, error) {
	r.delegMu.RLock()
	c := r.counter
	r.delegMu.RUnlock()
	if c == nil {
		return 0, errs.NewDependencyMissing(r.name, "counter engine",
			"enable the counter plugin for this resource before calling Add/Sub")
	}
	return c.Add(ctx, id, field, amount)
}

// Sub applies an eventually-consistent decrement to a numeric field.
func (r *Resource) Sub(ctx context.Context, id, field string, amount float64) (float64, error) {
	r.delegMu.RLock()
	c := r.counter
	r.delegMu.RUnlock()
	if c == nil {
		return 0, errs.NewDependencyMissing(r.name, "counter engine",
			"enable the counter plugin for this resource before calling Add/Sub")
	}
	return c.Sub(ctx, id, field, amount)
}

// Set pins a counter-controlled field to an absolute value through the
// transaction log.
func (r *Resource) Set(ctx context.Context, id, field string, value float64) (float64, error) {
	r.delegMu.RLock()
	c := r.counter
	r.delegMu.RUnlock()
	if c == nil {
		return 0, errs.NewDependencyMissing(r.name, "counter engine",
			"enable the counter plugin for this resource before calling Set")
	}
	return c.Set(ctx, id, field, value)
}

// Enqueue submits a payload to this resource's queue. Requires the queue
// runtime.
func (r *Resource) Enqueue(ctx context.Context, payload map[string]any) (string, error) {
	r.delegMu.RLock()
	q := r.queue
	r.delegMu.RUnlock()
	if q == nil {
		return "", errs.NewDependencyMissing(r.name, "queue runtime",
			"enable the queue plugin for this resource before calling Enqueue")
	}
	return q.Enqueue(ctx, payload)
}

// QueueStats returns message counts by state.
func (r *Resource) QueueStats(ctx context.Context) (map[string]int64, error) {
	r.delegMu.RLock()
	q := r.queue
	r.delegMu.RUnlock()
	if q == nil {
		return nil, errs.NewDependencyMissing(r.name, "queue runtime",
			"enable the queue plugin for this resource before calling QueueStats")
	}
	return q.Stats(ctx)
}
