// Package replicator fans resource mutations out to external sinks
// through per-target retry logs.
//
// Every inserted/updated/deleted event on the bus is filtered per
// target and appended to that target's log resource. A drain worker,
// gated to the cluster leader, walks pending entries in enqueue order
// and invokes the target driver with exponential backoff until the
// entry succeeds or exhausts its attempts and is dead-lettered. Sync
// targets are drained immediately after enqueue from the bus
// subscriber, which keeps per-target ordering without blocking the
// mutating caller.
package replicator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/s3db-io/s3db/internal/logger"
	"github.com/s3db-io/s3db/pkg/bus"
	"github.com/s3db-io/s3db/pkg/coordinator"
	"github.com/s3db-io/s3db/pkg/resource"
	"github.com/s3db-io/s3db/pkg/schema"
)

// Entry states in the per-target log.
const (
	StatePending = "pending"
	StateDead    = "dead"
)

// PartitionByStatus indexes log entries by state for the drain scan.
const PartitionByStatus = "byStatus"

// logPrefix namespaces per-target log resources. Events from these
// resources never replicate, so fan-out cannot feed back on itself.
const logPrefix = "replication_"

// Defaults.
const (
	DefaultMaxAttempts = 5
	DefaultBackoffBase = time.Second
	DefaultInterval    = 5 * time.Second
	DefaultBatchSize   = 25
)

// LogName returns the log resource name for a target.
func LogName(target string) string {
	return logPrefix + target
}

// IsLogResource reports whether a resource name is a replication log.
func IsLogResource(name string) bool {
	return len(name) > len(logPrefix) && name[:len(logPrefix)] == logPrefix
}

// LogSchema returns the replication log attribute set.
func LogSchema() schema.Attributes {
	return schema.Attributes{
		"op":            {Type: schema.TypeString, Required: true},
		"resource":      {Type: schema.TypeString, Required: true},
		"recordId":      {Type: schema.TypeString, Required: true},
		"payload":       {Type: schema.TypeString},
		"status":        {Type: schema.TypeString, Default: StatePending},
		"attempts":      {Type: schema.TypeNumber, Default: 0},
		"enqueuedAt":    {Type: schema.TypeDate, Required: true},
		"nextAttemptAt": {Type: schema.TypeDate},
		"lastError":     {Type: schema.TypeString},
		"epoch":         {Type: schema.TypeNumber},
	}
}

// LogPartitions returns the log's partition definitions.
func LogPartitions() map[string]map[string]string {
	return map[string]map[string]string{
		PartitionByStatus: {"status": "string"},
	}
}

// Target configures one replication sink.
type Target struct {
	// ID names the target; it keys the log resource.
	ID string

	// Driver applies entries to the sink.
	Driver Driver

	// Resources filters which resources replicate. Empty means all.
	Resources []string

	// Sync drains each entry immediately after enqueue instead of
	// waiting for the leader's drain loop.
	Sync bool

	// MaxAttempts caps retries before dead-lettering (default 5).
	MaxAttempts int

	// BackoffBase seeds the exponential retry delay (default 1s).
	BackoffBase time.Duration
}

// Config assembles a replication manager.
type Config struct {
	// Bus supplies the mutation stream.
	Bus *bus.Bus

	// NewLog builds the per-target log resource. The database layer
	// registers it in the catalog like any other resource.
	NewLog func(ctx context.Context, name string) (*resource.Resource, error)

	// Coordinator gates the drain loop to the leader. Optional: without
	// one every process drains.
	Coordinator *coordinator.Service

	// Interval paces the drain loop (default 5s).
	Interval time.Duration

	// BatchSize caps entries drained per target per cycle (default 25).
	BatchSize int
}

type targetState struct {
	Target
	log *resource.Resource
}

// Manager owns the targets, the bus subscription, and the drain worker.
type Manager struct {
	cfg Config

	mu      sync.RWMutex
	targets map[string]*targetState

	unsubscribe []func()
	stopCh      chan struct{}
	stoppedCh   chan struct{}
	started     bool
}

// New validates the configuration and returns a manager with no targets.
func New(cfg Config) (*Manager, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("replicator: bus is required")
	}
	if cfg.NewLog == nil {
		return nil, fmt.Errorf("replicator: log resource factory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Manager{cfg: cfg, targets: make(map[string]*targetState)}, nil
}

// AddTarget registers a sink and opens its log resource.
func (m *Manager) AddTarget(ctx context.Context, t Target) error {
	if t.ID == "" {
		return fmt.Errorf("replicator: target id is required")
	}
	if t.Driver == nil {
		return fmt.Errorf("replicator: target %q needs a driver", t.ID)
	}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = DefaultMaxAttempts
	}
	if t.BackoffBase <= 0 {
		t.BackoffBase = DefaultBackoffBase
	}

	log, err := m.cfg.NewLog(ctx, LogName(t.ID))
	if err != nil {
		return fmt.Errorf("open replication log for %q: %w", t.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.targets[t.ID]; exists {
		return fmt.Errorf("replicator: target %q already registered", t.ID)
	}
	m.targets[t.ID] = &targetState{Target: t, log: log}
	logger.Info("replication target registered",
		"target", t.ID, "driver", t.Driver.Name(), "sync", t.Sync, "resources", t.Resources)
	return nil
}

// Targets returns the registered target IDs, sorted.
func (m *Manager) Targets() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.targets))
	for id := range m.targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Start subscribes to the mutation stream and launches the drain loop.
func (m *Manager) Start(ctx context.Context) {
	if m.started {
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	m.stoppedCh = make(chan struct{})

	for _, name := range []string{bus.EventInserted, bus.EventUpdated, bus.EventDeleted} {
		m.unsubscribe = append(m.unsubscribe, m.cfg.Bus.Subscribe(name, func(ev bus.Event) {
			m.onMutation(ctx, ev)
		}))
	}

	go func() {
		defer close(m.stoppedCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-time.After(m.cfg.Interval):
			}
			if m.cfg.Coordinator != nil && !m.cfg.Coordinator.IsLeader() {
				continue
			}
			if _, err := m.DrainAll(ctx); err != nil {
				logger.Warn("replication drain failed", "error", err)
			}
		}
	}()
}

// Stop cancels the subscriptions and halts the drain loop.
func (m *Manager) Stop() {
	if !m.started {
		return
	}
	m.started = false
	for _, unsub := range m.unsubscribe {
		unsub()
	}
	m.unsubscribe = nil
	close(m.stopCh)
	<-m.stoppedCh
}

// onMutation fans one bus event out to every matching target log.
func (m *Manager) onMutation(ctx context.Context, ev bus.Event) {
	if IsLogResource(ev.Resource) {
		return
	}
	op := opForEvent(ev.Name)
	if op == "" {
		return
	}
	record, _ := ev.Payload.(map[string]any)

	m.mu.RLock()
	states := make([]*targetState, 0, len(m.targets))
	for _, st := range m.targets {
		states = append(states, st)
	}
	m.mu.RUnlock()

	for _, st := range states {
		if !st.matches(ev.Resource) {
			continue
		}
		if _, err := m.enqueue(ctx, st, op, ev.Resource, ev.ID, record); err != nil {
			logger.Error("replication enqueue failed",
				"target", st.ID, "resource", ev.Resource, "id", ev.ID, "error", err)
			continue
		}
		if st.Sync {
			if _, err := m.drainTarget(ctx, st); err != nil {
				logger.Warn("sync replication drain failed", "target", st.ID, "error", err)
			}
		}
	}
}

func (st *targetState) matches(res string) bool {
	if len(st.Resources) == 0 {
		return true
	}
	for _, name := range st.Resources {
		if name == res {
			return true
		}
	}
	return false
}

func opForEvent(name string) string {
	switch name {
	case bus.EventInserted:
		return OpInsert
	case bus.EventUpdated:
		return OpUpdate
	case bus.EventDeleted:
		return OpDelete
	}
	return ""
}

// enqueue appends one entry to a target log and announces it.
func (m *Manager) enqueue(ctx context.Context, st *targetState, op, res, id string, record map[string]any) (string, error) {
	now := time.Now().UTC()
	fields := map[string]any{
		"op":            op,
		"resource":      res,
		"recordId":      id,
		"status":        StatePending,
		"attempts":      0,
		"enqueuedAt":    now,
		"nextAttemptAt": now,
	}
	if record != nil {
		body, err := json.Marshal(record)
		if err != nil {
			return "", fmt.Errorf("marshal replication payload: %w", err)
		}
		fields["payload"] = string(body)
	}
	if m.cfg.Coordinator != nil {
		fields["epoch"] = m.cfg.Coordinator.Epoch()
	}

	entry, err := st.log.Insert(ctx, fields)
	if err != nil {
		return "", err
	}
	entryID, _ := entry[resource.FieldID].(string)
	m.cfg.Bus.Emit(bus.Event{
		Name:     bus.EventReplicatorQueued,
		Resource: res,
		ID:       id,
		Payload:  map[string]any{"target": st.ID, "op": op, "entryId": entryID},
	})
	return entryID, nil
}

// SyncAllData enumerates a source resource and enqueues a synthetic
// insert per record for a bulk catch-up on one target. Returns the
// number of entries enqueued.
func (m *Manager) SyncAllData(ctx context.Context, targetID string, source *resource.Resource) (int, error) {
	m.mu.RLock()
	st := m.targets[targetID]
	m.mu.RUnlock()
	if st == nil {
		return 0, fmt.Errorf("replicator: unknown target %q", targetID)
	}

	ids, err := source.ListIDs(ctx, resource.ListOptions{})
	if err != nil {
		return 0, fmt.Errorf("list %s for sync: %w", source.Name(), err)
	}

	queued := 0
	for _, id := range ids {
		record, err := source.GetOrNil(ctx, id)
		if err != nil {
			return queued, err
		}
		if record == nil {
			continue // deleted under us
		}
		if _, err := m.enqueue(ctx, st, OpInsert, source.Name(), id, record); err != nil {
			return queued, err
		}
		queued++
	}
	logger.Info("bulk replication sync queued",
		"target", targetID, "resource", source.Name(), "entries", queued)
	return queued, nil
}

// Stats returns per-target pending and dead entry counts.
func (m *Manager) Stats(ctx context.Context) (map[string]map[string]int64, error) {
	m.mu.RLock()
	states := make(map[string]*targetState, len(m.targets))
	for id, st := range m.targets {
		states[id] = st
	}
	m.mu.RUnlock()

	out := make(map[string]map[string]int64, len(states))
	for id, st := range states {
		counts := make(map[string]int64, 2)
		for _, state := range []string{StatePending, StateDead} {
			n, err := st.log.CountPartition(ctx, PartitionByStatus, map[string]any{"status": state})
			if err != nil {
				return nil, err
			}
			counts[state] = n
		}
		out[id] = counts
	}
	return out, nil
}
