// Package counter implements eventually-consistent numeric fields
// through a transaction log. Increments never touch the base record
// directly: they append to a sibling transactions resource, and
// consolidation folds unapplied transactions into the record in
// deterministic order. The record write always lands before transactions
// are marked applied, so the counter is never below the sum of applied
// transactions; replay after a crash is detected by the applied flag.
package counter

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/s3db-io/s3db/internal/logger"
	"github.com/s3db-io/s3db/pkg/coordinator"
	"github.com/s3db-io/s3db/pkg/resource"
	"github.com/s3db-io/s3db/pkg/schema"
)

// Transaction operations.
const (
	OpAdd = "add"
	OpSub = "sub"
	OpSet = "set"
)

// Consolidation modes.
type Mode string

const (
	// ModeSync consolidates inline with every Add/Sub.
	ModeSync Mode = "sync"

	// ModeAsync leaves consolidation to the leader-scheduled sweep.
	ModeAsync Mode = "async"
)

// DefaultInterval paces async consolidation sweeps.
const DefaultInterval = 30 * time.Second

// Transaction log partitions.
const (
	PartitionByOriginal = "byOriginal"
	PartitionByDay      = "byDay"
	PartitionByApplied  = "byApplied"
)

// dayLayout formats cohort days.
const dayLayout = "2006-01-02"

// TransactionsName returns the sibling transaction-log resource name for
// a counter field.
func TransactionsName(res, field string) string {
	return res + "_transactions_" + field
}

// AnalyticsName returns the sibling analytics resource name.
func AnalyticsName(res, field string) string {
	return res + "_analytics_" + field
}

// TransactionsSchema returns the transaction log attribute set.
func TransactionsSchema() schema.Attributes {
	return schema.Attributes{
		"originalId": {Type: schema.TypeString, Required: true},
		"field":      {Type: schema.TypeString, Required: true},
		"op":         {Type: schema.TypeString, Required: true},
		"value":      {Type: schema.TypeNumber, Required: true},
		"timestamp":  {Type: schema.TypeDate, Required: true},
		"day":        {Type: schema.TypeString, Required: true},
		"applied":    {Type: schema.TypeBoolean, Default: false},
		"epoch":      {Type: schema.TypeNumber},
	}
}

// TransactionsPartitions returns the log's partition definitions. The
// byApplied partition keeps consolidation proportional to the unapplied
// backlog instead of the log's full history.
func TransactionsPartitions() map[string]map[string]string {
	return map[string]map[string]string{
		PartitionByOriginal: {"originalId": "string"},
		PartitionByDay:      {"day": "string"},
		PartitionByApplied:  {"applied": "boolean"},
	}
}

// AnalyticsSchema returns the daily cohort attribute set.
func AnalyticsSchema() schema.Attributes {
	return schema.Attributes{
		"day":        {Type: schema.TypeString, Required: true},
		"originalId": {Type: schema.TypeString, Required: true},
		"sum":        {Type: schema.TypeNumber, Default: 0},
		"count":      {Type: schema.TypeNumber, Default: 0},
	}
}

// AnalyticsPartitions returns the cohort partition definitions.
func AnalyticsPartitions() map[string]map[string]string {
	return map[string]map[string]string{
		PartitionByDay: {"day": "string"},
	}
}

// Config assembles a counter engine for one field of one resource.
type Config struct {
	// Resource is the base resource carrying the counter field.
	Resource *resource.Resource

	// Field is the numeric field under counter control.
	Field string

	// Transactions is the sibling log resource (TransactionsSchema +
	// TransactionsPartitions).
	Transactions *resource.Resource

	// Analytics is the optional daily cohort resource.
	Analytics *resource.Resource

	// Mode defaults to ModeSync.
	Mode Mode

	// Coordinator gates async sweeps to the leader and stamps epochs
	// into transactions. Optional.
	Coordinator *coordinator.Service

	// Interval paces async sweeps (default 30s).
	Interval time.Duration
}

// Engine is the counter runtime for one field. Implements
// resource.Counter.
type Engine struct {
	cfg Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
	started   bool
}

// New validates the configuration and returns an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Resource == nil {
		return nil, fmt.Errorf("counter: resource is required")
	}
	if cfg.Field == "" {
		return nil, fmt.Errorf("counter: field is required")
	}
	if cfg.Transactions == nil {
		return nil, fmt.Errorf("counter: transactions resource is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeSync
	}
	if cfg.Mode != ModeSync && cfg.Mode != ModeAsync {
		return nil, fmt.Errorf("counter: unknown mode %q", cfg.Mode)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if attr := cfg.Resource.Schema().Leaf(cfg.Field); attr == nil || attr.Type != schema.TypeNumber {
		return nil, fmt.Errorf("counter: field %q is not a declared number on %s", cfg.Field, cfg.Resource.Name())
	}
	return &Engine{cfg: cfg}, nil
}

// Add appends an increment transaction. In sync mode it consolidates
// before returning the new value; in async mode it returns the projected
// value and leaves the record to the sweep.
func (e *Engine) Add(ctx context.Context, id, field string, amount float64) (float64, error) {
	return e.apply(ctx, id, field, OpAdd, amount)
}

// Sub appends a decrement transaction.
func (e *Engine) Sub(ctx context.Context, id, field string, amount float64) (float64, error) {
	return e.apply(ctx, id, field, OpSub, amount)
}

// Set appends a transaction that pins the field to value. Increments
// logged before the set are absorbed by it; increments after it build
// on top.
func (e *Engine) Set(ctx context.Context, id, field string, value float64) (float64, error) {
	return e.apply(ctx, id, field, OpSet, value)
}

func (e *Engine) apply(ctx context.Context, id, field, op string, amount float64) (float64, error) {
	if field != e.cfg.Field {
		return 0, fmt.Errorf("counter: field %q is not under counter control (expected %q)", field, e.cfg.Field)
	}
	if _, err := e.cfg.Resource.Get(ctx, id); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	txn := map[string]any{
		"originalId": id,
		"field":      field,
		"op":         op,
		"value":      amount,
		"timestamp":  now,
		"day":        now.Format(dayLayout),
		"applied":    false,
	}
	if e.cfg.Coordinator != nil {
		txn["epoch"] = e.cfg.Coordinator.Epoch()
	}
	if _, err := e.cfg.Transactions.Insert(ctx, txn); err != nil {
		return 0, fmt.Errorf("append counter transaction: %w", err)
	}

	if e.cfg.Mode == ModeSync {
		return e.ConsolidateRecord(ctx, id)
	}
	return e.Project(ctx, id)
}

// Project returns the record's value with unapplied transactions folded
// in, without writing anything.
func (e *Engine) Project(ctx context.Context, id string) (float64, error) {
	current, err := e.currentValue(ctx, id)
	if err != nil {
		return 0, err
	}
	txns, err := e.unapplied(ctx, id)
	if err != nil {
		return 0, err
	}
	return fold(current, txns), nil
}

// ConsolidateRecord folds the record's unapplied transactions into the
// counter field and marks them applied. Safe to replay: an interrupted
// run re-applies only what is still unapplied.
func (e *Engine) ConsolidateRecord(ctx context.Context, id string) (float64, error) {
	current, err := e.currentValue(ctx, id)
	if err != nil {
		return 0, err
	}

	txns, err := e.unapplied(ctx, id)
	if err != nil {
		return 0, err
	}
	if len(txns) == 0 {
		return current, nil
	}

	value := fold(current, txns)

	// Record first. Marking applied before this write could undercount
	// forever; the reverse merely replays on the next consolidation.
	if _, err := e.cfg.Resource.Update(ctx, id, map[string]any{e.cfg.Field: value}); err != nil {
		return 0, fmt.Errorf("write consolidated value: %w", err)
	}

	for _, t := range txns {
		if _, err := e.cfg.Transactions.Update(ctx, t.id, map[string]any{"applied": true}); err != nil {
			logger.Warn("marking transaction applied failed, will replay",
				"resource", e.cfg.Resource.Name(), "txn", t.id, "error", err)
			continue
		}
		e.bumpAnalytics(ctx, t)
	}

	logger.Debug("counter consolidated",
		"resource", e.cfg.Resource.Name(), "id", id, "field", e.cfg.Field,
		"transactions", len(txns), "value", value)
	return value, nil
}

// Consolidate sweeps every record with unapplied transactions. Returns
// the number of records consolidated.
func (e *Engine) Consolidate(ctx context.Context) (int, error) {
	pending, err := e.cfg.Transactions.ListPartition(ctx, resource.PartitionOptions{
		Partition: PartitionByApplied,
		Values:    map[string]any{"applied": false},
	})
	if err != nil {
		return 0, err
	}

	ids := make(map[string]bool)
	for _, t := range pending {
		if id, ok := t["originalId"].(string); ok {
			ids[id] = true
		}
	}

	done := 0
	for id := range ids {
		if _, err := e.ConsolidateRecord(ctx, id); err != nil {
			logger.Warn("record consolidation failed",
				"resource", e.cfg.Resource.Name(), "id", id, "error", err)
			continue
		}
		done++
	}
	return done, nil
}

// Start begins the async sweep loop; a no-op in sync mode. Sweeps run
// only while this process leads.
func (e *Engine) Start(ctx context.Context) {
	if e.cfg.Mode != ModeAsync || e.started {
		return
	}
	e.started = true
	e.stopCh = make(chan struct{})
	e.stoppedCh = make(chan struct{})

	logger.Info("counter sweep starting",
		"resource", e.cfg.Resource.Name(), "field", e.cfg.Field, "interval", e.cfg.Interval)

	go func() {
		defer close(e.stoppedCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopCh:
				return
			case <-time.After(e.cfg.Interval):
			}
			if e.cfg.Coordinator != nil && !e.cfg.Coordinator.IsLeader() {
				continue
			}
			if _, err := e.Consolidate(ctx); err != nil {
				logger.Warn("counter sweep failed",
					"resource", e.cfg.Resource.Name(), "error", err)
			}
		}
	}()
}

// Stop halts the async sweep loop.
func (e *Engine) Stop() {
	if !e.started {
		return
	}
	e.started = false
	close(e.stopCh)
	<-e.stoppedCh
}

// ----------------------------------------------------------------------------
// Internals
// ----------------------------------------------------------------------------

type txn struct {
	id        string
	original  string
	op        string
	value     float64
	timestamp string
	day       string
}

func (t txn) delta() float64 {
	if t.op == OpSub {
		return -t.value
	}
	return t.value
}

// fold applies ordered transactions to a starting value. A set replaces
// the running value; add and sub adjust it.
func fold(value float64, txns []txn) float64 {
	for _, t := range txns {
		if t.op == OpSet {
			value = t.value
			continue
		}
		value += t.delta()
	}
	return value
}

func (e *Engine) currentValue(ctx context.Context, id string) (float64, error) {
	rec, err := e.cfg.Resource.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if v, ok := rec[e.cfg.Field].(float64); ok {
		return v, nil
	}
	return 0, nil
}

// unapplied lists the record's unapplied transactions in (timestamp, id)
// order.
func (e *Engine) unapplied(ctx context.Context, id string) ([]txn, error) {
	records, err := e.cfg.Transactions.ListPartition(ctx, resource.PartitionOptions{
		Partition: PartitionByOriginal,
		Values:    map[string]any{"originalId": id},
	})
	if err != nil {
		return nil, err
	}

	txns := make([]txn, 0, len(records))
	for _, rec := range records {
		if applied, _ := rec["applied"].(bool); applied {
			continue
		}
		t := txn{}
		t.id, _ = rec[resource.FieldID].(string)
		t.original, _ = rec["originalId"].(string)
		t.op, _ = rec["op"].(string)
		t.value, _ = rec["value"].(float64)
		t.timestamp, _ = rec["timestamp"].(string)
		t.day, _ = rec["day"].(string)
		txns = append(txns, t)
	}

	sort.Slice(txns, func(i, j int) bool {
		if txns[i].timestamp != txns[j].timestamp {
			return txns[i].timestamp < txns[j].timestamp
		}
		return txns[i].id < txns[j].id
	})
	return txns, nil
}
