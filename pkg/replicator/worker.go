package replicator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/s3db-io/s3db/internal/logger"
	"github.com/s3db-io/s3db/pkg/bus"
	"github.com/s3db-io/s3db/pkg/resource"
)

// DrainAll drains every target once. Returns the number of entries
// applied successfully across all targets.
func (m *Manager) DrainAll(ctx context.Context) (int, error) {
	m.mu.RLock()
	states := make([]*targetState, 0, len(m.targets))
	for _, st := range m.targets {
		states = append(states, st)
	}
	m.mu.RUnlock()

	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })

	total := 0
	var firstErr error
	for _, st := range states {
		n, err := m.drainTarget(ctx, st)
		total += n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return total, firstErr
}

// Drain drains one target by ID.
func (m *Manager) Drain(ctx context.Context, targetID string) (int, error) {
	m.mu.RLock()
	st := m.targets[targetID]
	m.mu.RUnlock()
	if st == nil {
		return 0, fmt.Errorf("replicator: unknown target %q", targetID)
	}
	return m.drainTarget(ctx, st)
}

// pendingEntry is one claimable log entry.
type pendingEntry struct {
	id         string
	enqueuedAt string
}

// drainTarget applies due pending entries in enqueue order. Successes
// delete the entry; failures reschedule with exponential backoff until
// maxAttempts dead-letters them.
func (m *Manager) drainTarget(ctx context.Context, st *targetState) (int, error) {
	batch, err := m.dueBatch(ctx, st)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, pe := range batch {
		select {
		case <-ctx.Done():
			return applied, ctx.Err()
		default:
		}
		ok, err := m.applyEntry(ctx, st, pe.id)
		if err != nil {
			logger.Warn("replication entry settle failed",
				"target", st.ID, "entry", pe.id, "error", err)
			continue
		}
		if ok {
			applied++
		}
	}

	if flusher, is := st.Driver.(Flusher); is && applied > 0 {
		if err := flusher.Flush(ctx); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

// dueBatch lists pending entries whose nextAttemptAt has passed, in
// (enqueuedAt, id) order, capped to the batch size. Dates decode as
// RFC 3339 UTC strings, so lexicographic order is chronological.
func (m *Manager) dueBatch(ctx context.Context, st *targetState) ([]pendingEntry, error) {
	records, err := st.log.ListPartition(ctx, resource.PartitionOptions{
		Partition: PartitionByStatus,
		Values:    map[string]any{"status": StatePending},
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	batch := make([]pendingEntry, 0, len(records))
	for _, rec := range records {
		if at, _ := rec["nextAttemptAt"].(string); at > now {
			continue
		}
		pe := pendingEntry{}
		pe.id, _ = rec[resource.FieldID].(string)
		pe.enqueuedAt, _ = rec["enqueuedAt"].(string)
		batch = append(batch, pe)
	}

	sort.Slice(batch, func(i, j int) bool {
		if batch[i].enqueuedAt != batch[j].enqueuedAt {
			return batch[i].enqueuedAt < batch[j].enqueuedAt
		}
		return batch[i].id < batch[j].id
	})
	if len(batch) > m.cfg.BatchSize {
		batch = batch[:m.cfg.BatchSize]
	}
	return batch, nil
}

// applyEntry re-reads one entry, invokes the driver, and settles the
// outcome. Returns whether the entry was applied.
func (m *Manager) applyEntry(ctx context.Context, st *targetState, entryID string) (bool, error) {
	rec, err := st.log.GetOrNil(ctx, entryID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil // settled by a racing drain
	}
	if status, _ := rec["status"].(string); status != StatePending {
		return false, nil
	}

	entry, err := decodeEntry(entryID, rec)
	if err != nil {
		// Undecodable payloads never succeed; dead-letter immediately.
		return false, m.deadLetter(ctx, st, entryID, entry, err)
	}

	if err := st.Driver.Apply(ctx, entry); err != nil {
		return false, m.settleFailure(ctx, st, entryID, entry, err)
	}

	if err := st.log.Delete(ctx, entryID); err != nil {
		return false, err
	}
	m.cfg.Bus.Emit(bus.Event{
		Name:     bus.EventReplicatorSuccess,
		Resource: entry.Resource,
		ID:       entry.RecordID,
		Payload:  map[string]any{"target": st.ID, "op": entry.Op, "entryId": entryID, "attempts": entry.Attempts + 1},
	})
	return true, nil
}

// settleFailure bumps attempts and either reschedules or dead-letters.
func (m *Manager) settleFailure(ctx context.Context, st *targetState, entryID string, entry Entry, cause error) error {
	attempts := entry.Attempts + 1
	m.cfg.Bus.Emit(bus.Event{
		Name:     bus.EventReplicatorFailed,
		Resource: entry.Resource,
		ID:       entry.RecordID,
		Payload:  map[string]any{"target": st.ID, "op": entry.Op, "entryId": entryID, "attempts": attempts, "error": cause.Error()},
	})

	if attempts >= st.MaxAttempts {
		return m.deadLetter(ctx, st, entryID, entry, cause)
	}

	backoff := st.BackoffBase
	for i := 1; i < attempts; i++ {
		backoff *= 2
	}
	logger.Warn("replication apply failed, rescheduling",
		"target", st.ID, "entry", entryID, "attempts", attempts, "backoff", backoff, "error", cause)
	_, err := st.log.Update(ctx, entryID, map[string]any{
		"attempts":      attempts,
		"nextAttemptAt": time.Now().UTC().Add(backoff),
		"lastError":     cause.Error(),
	})
	return err
}

// deadLetter parks an entry permanently after exhausted retries.
func (m *Manager) deadLetter(ctx context.Context, st *targetState, entryID string, entry Entry, cause error) error {
	logger.Error("replication entry dead-lettered",
		"target", st.ID, "entry", entryID, "resource", entry.Resource, "id", entry.RecordID, "error", cause)
	_, err := st.log.Update(ctx, entryID, map[string]any{
		"status":    StateDead,
		"attempts":  entry.Attempts + 1,
		"lastError": cause.Error(),
	})
	return err
}

// decodeEntry rebuilds the driver-facing entry from a log record.
func decodeEntry(entryID string, rec map[string]any) (Entry, error) {
	e := Entry{ID: entryID}
	e.Op, _ = rec["op"].(string)
	e.Resource, _ = rec["resource"].(string)
	e.RecordID, _ = rec["recordId"].(string)
	if attempts, ok := rec["attempts"].(float64); ok {
		e.Attempts = int(attempts)
	}
	if payload, _ := rec["payload"].(string); payload != "" {
		if err := json.Unmarshal([]byte(payload), &e.Record); err != nil {
			return e, err
		}
	}
	return e, nil
}
