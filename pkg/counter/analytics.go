package counter

import (
	"context"
	"sort"
	"time"

	"github.com/s3db-io/s3db/internal/logger"
	"github.com/s3db-io/s3db/pkg/errs"
	"github.com/s3db-io/s3db/pkg/resource"
)

// DayStat is one day of a cohort series.
type DayStat struct {
	Day   string  `json:"day"`
	Sum   float64 `json:"sum"`
	Count int64   `json:"count"`
}

// RecordTotal is one record's all-time rollup.
type RecordTotal struct {
	ID    string  `json:"id"`
	Sum   float64 `json:"sum"`
	Count int64   `json:"count"`
}

// cohortID keys one (day, record) rollup deterministically so repeated
// bumps upsert the same object.
func cohortID(day, originalID string) string {
	return day + "#" + originalID
}

// bumpAnalytics folds one applied transaction into its daily cohort.
// Best effort: analytics lag never blocks consolidation.
func (e *Engine) bumpAnalytics(ctx context.Context, t txn) {
	if e.cfg.Analytics == nil {
		return
	}
	// A set pins the value rather than contributing a delta, so it has
	// nothing to add to the cohort sums.
	if t.op == OpSet {
		return
	}

	id := cohortID(t.day, t.original)
	current, err := e.cfg.Analytics.GetOrNil(ctx, id)
	if err != nil {
		logger.Warn("analytics cohort read failed", "cohort", id, "error", err)
		return
	}

	var sum float64
	var count float64
	if current != nil {
		sum, _ = current["sum"].(float64)
		count, _ = current["count"].(float64)
	}

	_, err = e.cfg.Analytics.Upsert(ctx, id, map[string]any{
		"day":        t.day,
		"originalId": t.original,
		"sum":        sum + t.delta(),
		"count":      count + 1,
	})
	if err != nil {
		logger.Warn("analytics cohort write failed", "cohort", id, "error", err)
	}
}

// GetLastNDays returns the field's daily series for the last n days, most
// recent last. With fillGaps, days without activity appear as zeros.
func (e *Engine) GetLastNDays(ctx context.Context, n int, fillGaps bool) ([]DayStat, error) {
	if e.cfg.Analytics == nil {
		return nil, errAnalyticsDisabled(e.cfg.Resource.Name(), e.cfg.Field)
	}
	if n <= 0 {
		n = 7
	}

	today := time.Now().UTC()
	out := make([]DayStat, 0, n)
	for i := n - 1; i >= 0; i-- {
		day := today.AddDate(0, 0, -i).Format(dayLayout)
		cohorts, err := e.cfg.Analytics.ListPartition(ctx, resource.PartitionOptions{
			Partition: PartitionByDay,
			Values:    map[string]any{"day": day},
		})
		if err != nil {
			return nil, err
		}

		stat := DayStat{Day: day}
		for _, c := range cohorts {
			if s, ok := c["sum"].(float64); ok {
				stat.Sum += s
			}
			if cnt, ok := c["count"].(float64); ok {
				stat.Count += int64(cnt)
			}
		}
		if stat.Count == 0 && !fillGaps {
			continue
		}
		out = append(out, stat)
	}
	return out, nil
}

// GetTopRecords returns records ranked by all-time rollup sum, largest
// first.
func (e *Engine) GetTopRecords(ctx context.Context, limit int) ([]RecordTotal, error) {
	if e.cfg.Analytics == nil {
		return nil, errAnalyticsDisabled(e.cfg.Resource.Name(), e.cfg.Field)
	}
	if limit <= 0 {
		limit = 10
	}

	cohorts, err := e.cfg.Analytics.List(ctx, resource.ListOptions{})
	if err != nil {
		return nil, err
	}

	totals := make(map[string]*RecordTotal)
	for _, c := range cohorts {
		id, _ := c["originalId"].(string)
		if id == "" {
			continue
		}
		t := totals[id]
		if t == nil {
			t = &RecordTotal{ID: id}
			totals[id] = t
		}
		if s, ok := c["sum"].(float64); ok {
			t.Sum += s
		}
		if cnt, ok := c["count"].(float64); ok {
			t.Count += int64(cnt)
		}
	}

	out := make([]RecordTotal, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sum != out[j].Sum {
			return out[i].Sum > out[j].Sum
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func errAnalyticsDisabled(res, field string) error {
	return errs.NewDependencyMissing(res, "counter analytics for "+field,
		"configure an analytics resource on the counter engine")
}
