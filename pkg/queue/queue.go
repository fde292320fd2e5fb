// Package queue implements the message queue runtime layered on a
// resource. Messages are records partitioned by state; claiming is the
// same write-and-re-read protocol the lease uses, so delivery is
// at-least-once and handlers must be idempotent.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/s3db-io/s3db/internal/logger"
	"github.com/s3db-io/s3db/pkg/coordinator"
	"github.com/s3db-io/s3db/pkg/errs"
	"github.com/s3db-io/s3db/pkg/resource"
	"github.com/s3db-io/s3db/pkg/schema"
)

// Message states.
const (
	StatePending    = "pending"
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateFailed     = "failed"
)

// States lists every message state, for stats output.
var States = []string{StatePending, StateProcessing, StateCompleted, StateFailed}

// PartitionByState is the partition every queue resource carries.
const PartitionByState = "byState"

// Defaults.
const (
	DefaultBatchSize         = 10
	DefaultPollInterval      = time.Second
	DefaultVisibilityTimeout = 30 * time.Second
	DefaultMaxAttempts       = 5
	DefaultBackoffBase       = time.Second
)

// Schema returns the attribute set a queue resource must carry. The
// payload travels as a JSON string so arbitrary shapes survive the
// metadata codec untouched.
func Schema() schema.Attributes {
	return schema.Attributes{
		"payload":        {Type: schema.TypeString},
		"state":          {Type: schema.TypeString, Required: true, Default: StatePending},
		"attempts":       {Type: schema.TypeNumber, Default: 0},
		"enqueuedAt":     {Type: schema.TypeDate, Required: true},
		"availableAt":    {Type: schema.TypeDate},
		"leasedBy":       {Type: schema.TypeString},
		"leaseExpiresAt": {Type: schema.TypeDate},
		"lastError":      {Type: schema.TypeString},
		"epoch":          {Type: schema.TypeNumber},
	}
}

// Partitions returns the partition definitions for a queue resource.
func Partitions() map[string]map[string]string {
	return map[string]map[string]string{
		PartitionByState: {"state": "string"},
	}
}

// Handler processes one message payload. An error triggers retry with
// backoff until maxAttempts, then dead-letters the message.
type Handler func(ctx context.Context, payload map[string]any) error

// Config assembles a queue.
type Config struct {
	// Resource is the queue-specialized resource (Schema + Partitions).
	Resource *resource.Resource

	// Handler consumes messages. Required to Start; Enqueue works
	// without it.
	Handler Handler

	// Coordinator gates processing to the current leader. Nil runs
	// unconditionally (single-process deployments, tests).
	Coordinator *coordinator.Service

	// WorkerID identifies this consumer in claims; defaults to a UUID.
	WorkerID string

	BatchSize         int
	PollInterval      time.Duration
	VisibilityTimeout time.Duration
	MaxAttempts       int

	// BackoffBase doubles per attempt: base, 2*base, 4*base, ...
	BackoffBase time.Duration
}

// Queue is the runtime. Safe for concurrent use.
type Queue struct {
	cfg Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
	started   bool
}

// New validates the configuration and returns a stopped queue.
func New(cfg Config) (*Queue, error) {
	if cfg.Resource == nil {
		return nil, fmt.Errorf("queue: resource is required")
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = uuid.NewString()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase < 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	return &Queue{cfg: cfg}, nil
}

// Enqueue submits a payload and returns the message ID. Implements
// resource.Queue so the resource can delegate.
func (q *Queue) Enqueue(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal queue payload: %w", err)
	}

	rec, err := q.cfg.Resource.Insert(ctx, map[string]any{
		"payload":    string(body),
		"state":      StatePending,
		"attempts":   0,
		"enqueuedAt": time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	id, _ := rec[resource.FieldID].(string)
	return id, nil
}

// Stats returns message counts by state. Implements resource.Queue.
func (q *Queue) Stats(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(States))
	for _, state := range States {
		n, err := q.cfg.Resource.CountPartition(ctx, PartitionByState, map[string]any{"state": state})
		if err != nil {
			return nil, err
		}
		out[state] = n
	}
	return out, nil
}

// Start begins the poll loop. Processing only happens while this process
// leads the queue's coordination namespace.
func (q *Queue) Start(ctx context.Context) {
	if q.started {
		return
	}
	q.started = true
	q.stopCh = make(chan struct{})
	q.stoppedCh = make(chan struct{})

	logger.Info("queue runtime starting",
		"resource", q.cfg.Resource.Name(), "worker", q.cfg.WorkerID,
		"batchSize", q.cfg.BatchSize, "poll", q.cfg.PollInterval)

	go func() {
		defer close(q.stoppedCh)
		for {
			if _, err := q.ProcessOnce(ctx); err != nil {
				logger.Warn("queue poll failed", "resource", q.cfg.Resource.Name(), "error", err)
			}
			if _, err := q.Reap(ctx); err != nil {
				logger.Warn("queue reap failed", "resource", q.cfg.Resource.Name(), "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-q.stopCh:
				return
			case <-time.After(q.cfg.PollInterval):
			}
		}
	}()
}

// Stop halts the poll loop, letting the in-flight batch finish.
func (q *Queue) Stop() {
	if !q.started {
		return
	}
	q.started = false
	close(q.stopCh)
	<-q.stoppedCh
	logger.Info("queue runtime stopped", "resource", q.cfg.Resource.Name())
}

// ProcessOnce runs one poll round: claim up to batchSize pending
// messages and process them. Returns how many messages completed or
// failed this round. Exported for deterministic tests.
func (q *Queue) ProcessOnce(ctx context.Context) (int, error) {
	if q.cfg.Handler == nil {
		return 0, nil
	}
	if q.cfg.Coordinator != nil && !q.cfg.Coordinator.IsLeader() {
		return 0, nil
	}

	batch, err := q.pendingBatch(ctx)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, msg := range batch {
		claimed, rec, err := q.claim(ctx, msg)
		if err != nil {
			logger.Warn("message claim failed",
				"resource", q.cfg.Resource.Name(), "id", msg.id, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		q.handle(ctx, msg.id, rec)
		processed++
	}
	return processed, nil
}

type pendingMessage struct {
	id         string
	enqueuedAt string // RFC 3339; lexicographic order is time order
	attempts   int
}

// pendingBatch lists claimable pending messages in enqueue order.
func (q *Queue) pendingBatch(ctx context.Context) ([]pendingMessage, error) {
	records, err := q.cfg.Resource.ListPartition(ctx, resource.PartitionOptions{
		Partition: PartitionByState,
		Values:    map[string]any{"state": StatePending},
		Limit:     q.cfg.BatchSize * 2,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	batch := make([]pendingMessage, 0, len(records))
	for _, rec := range records {
		// Backoff delay not yet elapsed. Dates decode as RFC 3339 strings,
		// which compare correctly in lexicographic order.
		if at, ok := rec["availableAt"].(string); ok && at > now {
			continue
		}
		id, _ := rec[resource.FieldID].(string)
		at, _ := rec["enqueuedAt"].(string)
		attempts := 0
		if n, ok := rec["attempts"].(float64); ok {
			attempts = int(n)
		}
		batch = append(batch, pendingMessage{id: id, enqueuedAt: at, attempts: attempts})
	}

	sort.Slice(batch, func(i, j int) bool {
		if batch[i].enqueuedAt != batch[j].enqueuedAt {
			return batch[i].enqueuedAt < batch[j].enqueuedAt
		}
		return batch[i].id < batch[j].id
	})
	if len(batch) > q.cfg.BatchSize {
		batch = batch[:q.cfg.BatchSize]
	}
	return batch, nil
}

// claim writes the processing lease and re-reads it. Contended claims
// resolve to whichever worker's write landed last; the loser skips.
// attempts counts deliveries and is bumped here, not at settle, so a
// handler that crashes without settling still consumes its budget.
func (q *Queue) claim(ctx context.Context, msg pendingMessage) (bool, map[string]any, error) {
	now := time.Now().UTC()
	claim := map[string]any{
		"state":          StateProcessing,
		"leasedBy":       q.cfg.WorkerID,
		"leaseExpiresAt": now.Add(q.cfg.VisibilityTimeout),
		"attempts":       msg.attempts + 1,
	}
	if q.cfg.Coordinator != nil {
		claim["epoch"] = q.cfg.Coordinator.Epoch()
	}

	if _, err := q.cfg.Resource.Update(ctx, msg.id, claim); err != nil {
		if errs.IsNotFound(err) {
			return false, nil, nil // deleted between list and claim
		}
		return false, nil, err
	}

	rec, err := q.cfg.Resource.GetOrNil(ctx, msg.id)
	if err != nil || rec == nil {
		return false, nil, err
	}
	if owner, _ := rec["leasedBy"].(string); owner != q.cfg.WorkerID {
		logger.Debug("message claim contended, skipping",
			"resource", q.cfg.Resource.Name(), "id", msg.id, "winner", owner)
		return false, nil, nil
	}
	return true, rec, nil
}

// handle invokes the handler and settles the message state.
func (q *Queue) handle(ctx context.Context, id string, rec map[string]any) {
	var payload map[string]any
	if raw, ok := rec["payload"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			q.settle(ctx, id, rec, fmt.Errorf("unparseable payload: %w", err))
			return
		}
	}
	q.settle(ctx, id, rec, q.cfg.Handler(ctx, payload))
}

// settle writes the post-processing state: completed, pending with
// backoff, or failed (dead-letter) once attempts run out.
func (q *Queue) settle(ctx context.Context, id string, rec map[string]any, handlerErr error) {
	if handlerErr == nil {
		if _, err := q.cfg.Resource.Update(ctx, id, map[string]any{
			"state":    StateCompleted,
			"lastError": "",
		}); err != nil {
			logger.Error("message completion write failed",
				"resource", q.cfg.Resource.Name(), "id", id, "error", err)
		}
		return
	}

	// The claim already counted this delivery.
	attempts := 1
	if n, ok := rec["attempts"].(float64); ok {
		attempts = int(n)
	}

	changes := map[string]any{
		"lastError": handlerErr.Error(),
	}
	if attempts < q.cfg.MaxAttempts {
		changes["state"] = StatePending
		changes["availableAt"] = time.Now().UTC().Add(q.backoff(attempts))
	} else {
		changes["state"] = StateFailed
		logger.Warn("message dead-lettered",
			"resource", q.cfg.Resource.Name(), "id", id,
			"attempts", attempts, "error", handlerErr)
	}

	if _, err := q.cfg.Resource.Update(ctx, id, changes); err != nil {
		logger.Error("message settle write failed",
			"resource", q.cfg.Resource.Name(), "id", id, "error", err)
	}
}

// backoff doubles per attempt.
func (q *Queue) backoff(attempts int) time.Duration {
	d := q.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}

// Reap returns expired processing messages to pending so crashed workers
// never strand a message; messages whose delivery budget is spent go to
// failed instead. Returns how many were returned to pending.
func (q *Queue) Reap(ctx context.Context) (int, error) {
	if q.cfg.Coordinator != nil && !q.cfg.Coordinator.IsLeader() {
		return 0, nil
	}

	records, err := q.cfg.Resource.ListPartition(ctx, resource.PartitionOptions{
		Partition: PartitionByState,
		Values:    map[string]any{"state": StateProcessing},
	})
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	reclaimed := 0
	for _, rec := range records {
		expires, ok := rec["leaseExpiresAt"].(string)
		if ok && expires > now {
			continue
		}
		id, _ := rec[resource.FieldID].(string)

		// The expired claim already consumed a delivery. A message out
		// of budget dead-letters here instead of cycling forever.
		attempts := 0
		if n, ok := rec["attempts"].(float64); ok {
			attempts = int(n)
		}
		if attempts >= q.cfg.MaxAttempts {
			if _, err := q.cfg.Resource.Update(ctx, id, map[string]any{
				"state":     StateFailed,
				"lastError": "visibility timeout expired",
			}); err != nil {
				logger.Warn("message reap failed",
					"resource", q.cfg.Resource.Name(), "id", id, "error", err)
				continue
			}
			logger.Warn("message dead-lettered",
				"resource", q.cfg.Resource.Name(), "id", id,
				"attempts", attempts, "leasedBy", rec["leasedBy"])
			continue
		}

		if _, err := q.cfg.Resource.Update(ctx, id, map[string]any{
			"state":    StatePending,
			"leasedBy": "",
		}); err != nil {
			logger.Warn("message reap failed",
				"resource", q.cfg.Resource.Name(), "id", id, "error", err)
			continue
		}
		reclaimed++
		logger.Info("reaped expired message",
			"resource", q.cfg.Resource.Name(), "id", id, "leasedBy", rec["leasedBy"])
	}
	return reclaimed, nil
}
