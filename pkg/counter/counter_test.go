package counter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3db-io/s3db/pkg/blob/memory"
	"github.com/s3db-io/s3db/pkg/codec"
	"github.com/s3db-io/s3db/pkg/errs"
	"github.com/s3db-io/s3db/pkg/resource"
	"github.com/s3db-io/s3db/pkg/schema"
)

func newTestResource(t *testing.T, name string, attrs schema.Attributes, parts map[string]map[string]string) *resource.Resource {
	t.Helper()
	v, err := schema.NewVersion("v1", attrs)
	require.NoError(t, err)
	c, err := codec.New(codec.Config{Resource: name, Version: v})
	require.NoError(t, err)
	r, err := resource.New(resource.Config{
		Name:       name,
		Store:      memory.New(),
		Codec:      c,
		Partitions: parts,
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func testEngine(t *testing.T, mutate func(*Config)) (*Engine, *resource.Resource) {
	t.Helper()

	base := newTestResource(t, "players", schema.Attributes{
		"name":   {Type: schema.TypeString, Required: true},
		"points": {Type: schema.TypeNumber, Default: 0},
	}, nil)

	cfg := Config{
		Resource:     base,
		Field:        "points",
		Transactions: newTestResource(t, TransactionsName("players", "points"), TransactionsSchema(), TransactionsPartitions()),
		Analytics:    newTestResource(t, AnalyticsName("players", "points"), AnalyticsSchema(), AnalyticsPartitions()),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	base.BindCounter(e)
	return e, base
}

func TestNewRejectsNonNumericField(t *testing.T) {
	t.Parallel()

	base := newTestResource(t, "players", schema.Attributes{
		"name": {Type: schema.TypeString, Required: true},
	}, nil)
	log := newTestResource(t, "players_transactions_name", TransactionsSchema(), TransactionsPartitions())

	_, err := New(Config{Resource: base, Field: "name", Transactions: log})
	assert.Error(t, err)
}

func TestSyncAddConsolidatesImmediately(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, base := testEngine(t, nil)

	_, err := base.Insert(ctx, map[string]any{"id": "p1", "name": "Ada"})
	require.NoError(t, err)

	v, err := e.Add(ctx, "p1", "points", 10)
	require.NoError(t, err)
	assert.Equal(t, float64(10), v)

	v, err = e.Sub(ctx, "p1", "points", 3)
	require.NoError(t, err)
	assert.Equal(t, float64(7), v)

	rec, err := base.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, float64(7), rec["points"])

	// Counter ops on the wrong field or a missing record fail fast.
	_, err = e.Add(ctx, "p1", "coins", 1)
	assert.Error(t, err)
	_, err = e.Add(ctx, "ghost", "points", 1)
	assert.True(t, errs.IsNotFound(err))
}

func TestResourceDelegatesAddSub(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, base := testEngine(t, nil)

	_, err := base.Insert(ctx, map[string]any{"id": "p1", "name": "Ada"})
	require.NoError(t, err)

	v, err := base.Add(ctx, "p1", "points", 5)
	require.NoError(t, err)
	assert.Equal(t, float64(5), v)

	v, err = base.Set(ctx, "p1", "points", 40)
	require.NoError(t, err)
	assert.Equal(t, float64(40), v)
}

func TestSetPinsValueAndLaterIncrementsBuildOnIt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, base := testEngine(t, func(cfg *Config) { cfg.Mode = ModeAsync })

	_, err := base.Insert(ctx, map[string]any{"id": "p1", "name": "Ada"})
	require.NoError(t, err)

	_, err = e.Add(ctx, "p1", "points", 9)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond) // RFC 3339 second resolution
	_, err = e.Set(ctx, "p1", "points", 100)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)

	v, err := e.Add(ctx, "p1", "points", 1)
	require.NoError(t, err)
	assert.Equal(t, float64(101), v, "the add before the set is absorbed by it")

	_, err = e.ConsolidateRecord(ctx, "p1")
	require.NoError(t, err)

	rec, err := base.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, float64(101), rec["points"])
}

func TestAsyncAddProjectsAndSweepConsolidates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, base := testEngine(t, func(cfg *Config) { cfg.Mode = ModeAsync })

	_, err := base.Insert(ctx, map[string]any{"id": "p1", "name": "Ada"})
	require.NoError(t, err)

	v, err := e.Add(ctx, "p1", "points", 4)
	require.NoError(t, err)
	assert.Equal(t, float64(4), v, "projection includes unapplied transactions")

	// The base record is untouched until consolidation.
	rec, err := base.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, float64(0), rec["points"])

	n, err := e.Consolidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err = base.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, float64(4), rec["points"])
}

func TestConsolidationIsReplaySafe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, base := testEngine(t, func(cfg *Config) { cfg.Mode = ModeAsync })

	_, err := base.Insert(ctx, map[string]any{"id": "p1", "name": "Ada"})
	require.NoError(t, err)
	_, err = e.Add(ctx, "p1", "points", 2)
	require.NoError(t, err)

	v, err := e.ConsolidateRecord(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, float64(2), v)

	// Re-running with nothing unapplied changes nothing.
	v, err = e.ConsolidateRecord(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, float64(2), v)

	rec, err := base.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, float64(2), rec["points"])
}

func TestConsolidationOrderIsDeterministic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, base := testEngine(t, func(cfg *Config) { cfg.Mode = ModeAsync })

	_, err := base.Insert(ctx, map[string]any{"id": "p1", "name": "Ada"})
	require.NoError(t, err)

	// Same-timestamp transactions tie-break by transaction ID, so the
	// result is stable regardless of insertion interleaving.
	for _, amt := range []float64{1, 2, 3} {
		_, err = e.Add(ctx, "p1", "points", amt)
		require.NoError(t, err)
	}

	v, err := e.ConsolidateRecord(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, float64(6), v)
}

func TestAnalyticsCohortsAndQueries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, base := testEngine(t, nil)

	for _, id := range []string{"p1", "p2"} {
		_, err := base.Insert(ctx, map[string]any{"id": id, "name": "n"})
		require.NoError(t, err)
	}
	_, err := e.Add(ctx, "p1", "points", 10)
	require.NoError(t, err)
	_, err = e.Add(ctx, "p1", "points", 5)
	require.NoError(t, err)
	_, err = e.Add(ctx, "p2", "points", 8)
	require.NoError(t, err)

	today := time.Now().UTC().Format("2006-01-02")

	series, err := e.GetLastNDays(ctx, 3, true)
	require.NoError(t, err)
	require.Len(t, series, 3, "fillGaps keeps empty days")
	last := series[len(series)-1]
	assert.Equal(t, today, last.Day)
	assert.Equal(t, float64(23), last.Sum)
	assert.Equal(t, int64(3), last.Count)

	sparse, err := e.GetLastNDays(ctx, 3, false)
	require.NoError(t, err)
	require.Len(t, sparse, 1, "without fillGaps only active days appear")

	top, err := e.GetTopRecords(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "p1", top[0].ID)
	assert.Equal(t, float64(15), top[0].Sum)
	assert.Equal(t, "p2", top[1].ID)
}

func TestAnalyticsDisabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := testEngine(t, func(cfg *Config) { cfg.Analytics = nil })

	_, err := e.GetLastNDays(ctx, 7, true)
	assert.Equal(t, errs.KindDependencyMissing, errs.KindOf(err))
}
