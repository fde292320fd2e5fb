package database

import (
	"context"
	"time"

	"github.com/s3db-io/s3db/internal/logger"
	"github.com/s3db-io/s3db/pkg/blob"
	"github.com/s3db-io/s3db/pkg/cache"
	"github.com/s3db-io/s3db/pkg/coordinator"
	"github.com/s3db-io/s3db/pkg/manifest"
	"github.com/s3db-io/s3db/pkg/metrics"
)

// Status is the JSON document served by the ops /status endpoint.
type Status struct {
	Connection   string                      `json:"connection"`
	Resources    []string                    `json:"resources"`
	Coordination []coordinator.Metrics       `json:"coordination,omitempty"`
	Queues       map[string]map[string]int64 `json:"queues,omitempty"`
	Replication  map[string]map[string]int64 `json:"replication,omitempty"`
	Costs        blob.CostReport             `json:"costs"`
	Cache        *cache.Stats                `json:"cache,omitempty"`
}

// Ready reports whether the manifest is reachable through the blob
// store. Implements the ops server's readiness probe.
func (db *DB) Ready(ctx context.Context) bool {
	ok, err := db.store.Exists(ctx, manifest.Key)
	return err == nil && ok
}

// StatusDoc assembles the status document: one blob round-trip per
// queue; everything else is in-process state.
func (db *DB) StatusDoc(ctx context.Context) (*Status, error) {
	doc := &Status{
		Connection: db.conn.Redacted(),
		Resources:  db.Resources(),
		Costs:      db.store.Costs().Report(),
	}

	doc.Coordination = db.registry.Metrics(ctx)

	db.mu.RLock()
	queues := make(map[string]*queueHandle, len(db.queues))
	for name, q := range db.queues {
		queues[name] = &queueHandle{stats: q.Stats}
	}
	repl := db.repl
	db.mu.RUnlock()

	if len(queues) > 0 {
		doc.Queues = make(map[string]map[string]int64, len(queues))
		for name, q := range queues {
			stats, err := q.stats(ctx)
			if err != nil {
				logger.Warn("queue stats failed", "queue", name, "error", err)
				continue
			}
			doc.Queues[name] = stats
		}
	}

	if repl != nil {
		stats, err := repl.Stats(ctx)
		if err != nil {
			logger.Warn("replication stats failed", "error", err)
		} else {
			doc.Replication = stats
		}
	}

	if db.recCache != nil {
		stats := db.recCache.Stats()
		doc.Cache = &stats
	}

	return doc, nil
}

// Status implements the ops server's StatusProvider.
func (db *DB) Status(ctx context.Context) (any, error) {
	return db.StatusDoc(ctx)
}

type queueHandle struct {
	stats func(ctx context.Context) (map[string]int64, error)
}

// SampleMetrics supplies the Prometheus database collector. Scrapes are
// bounded so a slow blob store cannot hang the metrics endpoint.
func (db *DB) SampleMetrics() metrics.Snapshot {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	report := db.store.Costs().Report()
	snap := metrics.Snapshot{
		Requests: report.Requests,
		CostUSD:  report.EstimatedUSD,
	}

	for _, m := range db.registry.Metrics(ctx) {
		snap.Leaders = append(snap.Leaders, metrics.LeaderStatus{
			Namespace: m.Namespace,
			IsLeader:  m.IsLeader,
			Epoch:     m.Epoch,
			Workers:   m.Workers,
		})
	}

	db.mu.RLock()
	queues := make(map[string]func(context.Context) (map[string]int64, error), len(db.queues))
	for name, q := range db.queues {
		queues[name] = q.Stats
	}
	repl := db.repl
	db.mu.RUnlock()

	if len(queues) > 0 {
		snap.Queues = make(map[string]map[string]int64, len(queues))
		for name, stats := range queues {
			counts, err := stats(ctx)
			if err != nil {
				continue
			}
			snap.Queues[name] = counts
		}
	}

	if repl != nil {
		if stats, err := repl.Stats(ctx); err == nil {
			snap.Replication = stats
		}
	}

	return snap
}
