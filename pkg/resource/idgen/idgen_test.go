package idgen

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3db-io/s3db/pkg/blob/memory"
)

func TestRandomLengthAndUniqueness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	g := NewRandom(0)
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, err := g.Next(ctx)
		require.NoError(t, err)
		assert.Len(t, id, DefaultRandomLength)
		assert.False(t, seen[id], "duplicate random id %q", id)
		seen[id] = true
	}

	short := NewRandom(8)
	id, err := short.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, id, 8)
}

func TestUUIDGenerators(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	v4, err := UUIDv4{}.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, v4, 36)

	v1a, err := UUIDv1{}.Next(ctx)
	require.NoError(t, err)
	v1b, err := UUIDv1{}.Next(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, v1a, v1b)
}

func TestFuncGenerator(t *testing.T) {
	t.Parallel()

	n := 0
	g := Func(func(context.Context) (string, error) {
		n++
		return strings.Repeat("x", n), nil
	})

	a, err := g.Next(context.Background())
	require.NoError(t, err)
	b, err := g.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", a)
	assert.Equal(t, "xx", b)
}

func TestIncrementalSyncSequence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	g, err := NewIncremental(IncrementalConfig{
		Store: memory.New(),
		Key:   "seq/orders",
		Mode:  ModeSync,
	})
	require.NoError(t, err)

	for want := 1; want <= 5; want++ {
		id, err := g.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(want), id)
	}
}

func TestIncrementalPrefixAndPadding(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	g, err := NewIncremental(IncrementalConfig{
		Store:  memory.New(),
		Key:    "seq/invoices",
		Mode:   ModeSync,
		Prefix: "INV-",
		Pad:    4,
	})
	require.NoError(t, err)

	id, err := g.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "INV-0001", id)

	id, err = g.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "INV-0002", id)
}

func TestIncrementalFastBatchesAreDisjoint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()

	// Two generators alternate; each reserves a batch and draws locally.
	a, err := NewIncremental(IncrementalConfig{Store: store, Key: "seq/r", Mode: ModeFast, BatchSize: 10})
	require.NoError(t, err)
	b, err := NewIncremental(IncrementalConfig{Store: store, Key: "seq/r", Mode: ModeFast, BatchSize: 10})
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 15; i++ {
		for _, g := range []*Incremental{a, b} {
			id, err := g.Next(ctx)
			require.NoError(t, err)
			assert.False(t, seen[id], "duplicate id %q", id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, 30)
}

func TestIncrementalFastParallelWorkersNoDuplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	g, err := NewIncremental(IncrementalConfig{
		Store:     memory.New(),
		Key:       "seq/burst",
		Mode:      ModeFast,
		BatchSize: 100,
	})
	require.NoError(t, err)

	const workers = 10
	const perWorker = 1000

	var mu sync.Mutex
	seen := make(map[string]int, workers*perWorker)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, err := g.Next(ctx)
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				seen[id]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
	for id, count := range seen {
		assert.Equal(t, 1, count, "id %q drawn %d times", id, count)
	}
}
