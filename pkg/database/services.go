package database

import (
	"context"
	"fmt"

	"github.com/s3db-io/s3db/pkg/codec"
	"github.com/s3db-io/s3db/pkg/counter"
	"github.com/s3db-io/s3db/pkg/queue"
	"github.com/s3db-io/s3db/pkg/replicator"
	"github.com/s3db-io/s3db/pkg/resource"
)

// CreateQueue declares a queue-enabled resource and binds a stopped
// queue runtime to it. The queue consumes only while this process holds
// the default-namespace lease; call Start on the returned queue (or
// StartServices) to begin processing.
func (db *DB) CreateQueue(ctx context.Context, name string, handler queue.Handler) (*queue.Queue, error) {
	db.mu.RLock()
	q, exists := db.queues[name]
	db.mu.RUnlock()
	if exists {
		return q, nil
	}

	r, err := db.CreateResource(ctx, ResourceOptions{
		Name:       name,
		Attributes: queue.Schema(),
		Partitions: queue.Partitions(),
		// Payloads are opaque JSON and routinely exceed the metadata cap.
		Behavior: codec.BehaviorBodyOverflow,
	})
	if err != nil {
		return nil, err
	}

	svc, err := db.Coordinator(ctx, "")
	if err != nil {
		return nil, err
	}

	q, err = queue.New(queue.Config{
		Resource:          r,
		Handler:           handler,
		Coordinator:       svc,
		BatchSize:         db.cfg.Queue.BatchSize,
		PollInterval:      db.cfg.Queue.PollInterval,
		VisibilityTimeout: db.cfg.Queue.VisibilityTimeout,
		MaxAttempts:       db.cfg.Queue.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	r.BindQueue(q)

	db.mu.Lock()
	db.queues[name] = q
	db.mu.Unlock()
	return q, nil
}

// Queue returns a previously created queue runtime by resource name.
func (db *DB) Queue(name string) (*queue.Queue, error) {
	db.mu.RLock()
	q, ok := db.queues[name]
	db.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("database: no queue bound to resource %q", name)
	}
	return q, nil
}

// CreateCounter puts one numeric field of a resource under counter
// control: the sibling transactions resource (and, when enabled, the
// daily analytics resource) is declared, the engine is built per the
// counter configuration, and the base resource delegates Add/Sub to it.
func (db *DB) CreateCounter(ctx context.Context, base *resource.Resource, field string) (*counter.Engine, error) {
	key := counterKey(base.Name(), field)

	db.mu.RLock()
	e, exists := db.counters[key]
	db.mu.RUnlock()
	if exists {
		return e, nil
	}

	txns, err := db.CreateResource(ctx, ResourceOptions{
		Name:       counter.TransactionsName(base.Name(), field),
		Attributes: counter.TransactionsSchema(),
		Partitions: counter.TransactionsPartitions(),
	})
	if err != nil {
		return nil, err
	}

	var analytics *resource.Resource
	if db.cfg.Counter.Analytics {
		analytics, err = db.CreateResource(ctx, ResourceOptions{
			Name:       counter.AnalyticsName(base.Name(), field),
			Attributes: counter.AnalyticsSchema(),
			Partitions: counter.AnalyticsPartitions(),
		})
		if err != nil {
			return nil, err
		}
	}

	mode := counter.Mode(db.cfg.Counter.Mode)
	cfg := counter.Config{
		Resource:     base,
		Field:        field,
		Transactions: txns,
		Analytics:    analytics,
		Mode:         mode,
		Interval:     db.cfg.Counter.ConsolidateInterval,
	}
	if mode == counter.ModeAsync {
		coord, cerr := db.Coordinator(ctx, "")
		if cerr != nil {
			return nil, cerr
		}
		cfg.Coordinator = coord
	}

	e, err = counter.New(cfg)
	if err != nil {
		return nil, err
	}
	base.BindCounter(e)

	db.mu.Lock()
	db.counters[key] = e
	db.mu.Unlock()
	return e, nil
}

func counterKey(resourceName, field string) string {
	return resourceName + "." + field
}

// Replicator returns the replication manager, building it on first use.
// Targets are added by the caller; the drain loop starts with
// StartServices (or an explicit Start).
func (db *DB) Replicator(ctx context.Context) (*replicator.Manager, error) {
	db.mu.RLock()
	m := db.repl
	db.mu.RUnlock()
	if m != nil {
		return m, nil
	}

	svc, err := db.Coordinator(ctx, "")
	if err != nil {
		return nil, err
	}

	m, err = replicator.New(replicator.Config{
		Bus:         db.bus,
		Coordinator: svc,
		Interval:    db.cfg.Replication.DrainInterval,
		NewLog: func(ctx context.Context, name string) (*resource.Resource, error) {
			return db.CreateResource(ctx, ResourceOptions{
				Name:       name,
				Attributes: replicator.LogSchema(),
				Partitions: replicator.LogPartitions(),
				// Entry records embed the replicated record itself.
				Behavior: codec.BehaviorBodyOverflow,
			})
		},
	})
	if err != nil {
		return nil, err
	}

	db.mu.Lock()
	if db.repl == nil {
		db.repl = m
	}
	m = db.repl
	db.mu.Unlock()
	return m, nil
}

// StartServices starts every bound queue, async counter, and the
// replication drain loop. Idempotent per service; Close stops them.
func (db *DB) StartServices(ctx context.Context) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, q := range db.queues {
		q.Start(ctx)
	}
	for _, c := range db.counters {
		c.Start(ctx)
	}
	if db.repl != nil {
		db.repl.Start(ctx)
	}
}
