package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/s3db-io/s3db/internal/logger"
	"github.com/s3db-io/s3db/pkg/config"
	"github.com/s3db-io/s3db/pkg/database"
	"github.com/s3db-io/s3db/pkg/resource"
)

// ttlPageSize bounds how many records one sweep pass decodes at a time.
const ttlPageSize = 200

// TTLReaper deletes records whose configured date field lies in the
// past. Sweeps run on the leader only: expiry is enforced lazily, so a
// record may outlive its deadline by up to one sweep interval.
type TTLReaper struct {
	cfg config.TTLConfig

	db        *database.DB
	scheduler *Scheduler
}

// NewTTLReaper returns a reaper for the configured resource/field map.
func NewTTLReaper(cfg config.TTLConfig) *TTLReaper {
	return &TTLReaper{cfg: cfg}
}

// Install validates the configuration against the database. Resources
// may be declared after install; unknown names are skipped per sweep
// with a warning rather than failing here.
func (p *TTLReaper) Install(db *database.DB) error {
	if len(p.cfg.Resources) == 0 {
		return fmt.Errorf("ttl: no resources configured")
	}
	if p.cfg.SweepInterval <= 0 {
		return fmt.Errorf("ttl: sweep interval must be positive")
	}
	p.db = db
	return nil
}

// Start attaches to the shared coordination service and begins sweeping.
func (p *TTLReaper) Start(ctx context.Context) error {
	svc, err := p.db.Coordinator(ctx, "")
	if err != nil {
		return err
	}
	p.scheduler = NewScheduler("ttl-reaper", svc, p.cfg.SweepInterval, p.Sweep)
	p.scheduler.Start(ctx)
	return nil
}

// Stop halts the sweep loop.
func (p *TTLReaper) Stop(context.Context) error {
	if p.scheduler != nil {
		p.scheduler.Stop()
	}
	return nil
}

// Sweep runs one pass over every configured resource. Exported for
// deterministic tests.
func (p *TTLReaper) Sweep(ctx context.Context) error {
	now := time.Now().UTC()
	var firstErr error
	for name, field := range p.cfg.Resources {
		r, err := p.db.Resource(name)
		if err != nil {
			logger.Warn("ttl sweep skipping unknown resource", "resource", name)
			continue
		}
		n, err := p.sweepResource(ctx, r, field, now)
		if err != nil {
			logger.Warn("ttl sweep failed", "resource", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if n > 0 {
			logger.Info("ttl sweep removed expired records", "resource", name, "removed", n)
		}
	}
	return firstErr
}

// sweepResource pages through the resource and deletes every record
// whose expiry field parses to an instant at or before now. Records
// without the field, or with an unparseable value, never expire.
func (p *TTLReaper) sweepResource(ctx context.Context, r *resource.Resource, field string, now time.Time) (int, error) {
	removed := 0
	offset := 0
	for {
		page, err := r.PageRecords(ctx, resource.PageOptions{
			Offset:    offset,
			Size:      ttlPageSize,
			SkipCount: true,
		})
		if err != nil {
			return removed, err
		}

		var expired []string
		for _, rec := range page.Items {
			deadline, ok := rec[field].(string)
			if !ok {
				continue
			}
			at, err := time.Parse(time.RFC3339, deadline)
			if err != nil {
				continue
			}
			if !at.After(now) {
				if id, ok := rec[resource.FieldID].(string); ok {
					expired = append(expired, id)
				}
			}
		}

		if len(expired) > 0 {
			n, err := r.DeleteMany(ctx, expired)
			removed += n
			if err != nil {
				return removed, err
			}
		}

		if !page.HasMore {
			return removed, nil
		}
		// Deletions shift the listing left; only advance past survivors.
		offset += len(page.Items) - len(expired)
	}
}
