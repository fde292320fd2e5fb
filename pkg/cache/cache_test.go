package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3db-io/s3db/pkg/blob/memory"
	"github.com/s3db-io/s3db/pkg/codec"
	"github.com/s3db-io/s3db/pkg/resource"
	"github.com/s3db-io/s3db/pkg/schema"
)

func testResource(t *testing.T, store *memory.Store) *resource.Resource {
	t.Helper()
	v, err := schema.NewVersion("v1", schema.Attributes{
		"name": {Type: schema.TypeString, Required: true},
	})
	require.NoError(t, err)
	c, err := codec.New(codec.Config{Resource: "users", Version: v})
	require.NoError(t, err)
	r, err := resource.New(resource.Config{Name: "users", Store: store, Codec: c})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

// ============================================================================
// Memory driver
// ============================================================================

func TestMemoryGetSetDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory(0)

	_, ok, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 0))
	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, m.Delete(ctx, "k"))
	_, ok, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryTTLExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory(0)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(25 * time.Millisecond)

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "entry past its ttl is gone")
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory(30) // room for three 10-byte values

	pad := func(s string) []byte { return []byte(fmt.Sprintf("%-10s", s)) }
	require.NoError(t, m.Set(ctx, "a", pad("a"), 0))
	require.NoError(t, m.Set(ctx, "b", pad("b"), 0))
	require.NoError(t, m.Set(ctx, "c", pad("c"), 0))

	// Touch "a" so "b" becomes the eviction candidate.
	_, _, err := m.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, m.Set(ctx, "d", pad("d"), 0))

	_, ok, _ := m.Get(ctx, "b")
	assert.False(t, ok, "least recently used entry was evicted")
	_, ok, _ = m.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), m.Evictions())
	assert.Equal(t, 3, m.Len())
}

// ============================================================================
// Badger driver
// ============================================================================

func TestBadgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	b, err := OpenBadger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	_, ok, err := b.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Set(ctx, "k", []byte(`{"name":"Ada"}`), 0))
	got, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"name":"Ada"}`, string(got))

	require.NoError(t, b.Delete(ctx, "k"))
	require.NoError(t, b.Delete(ctx, "k"), "double delete is a no-op")
	_, ok, err = b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

// ============================================================================
// Read-through attachment
// ============================================================================

func TestAttachServesSecondGetFromCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	r := testResource(t, store)

	c := New(NewMemory(0), 0)
	c.Attach(r)

	rec, err := r.Insert(ctx, map[string]any{"name": "Ada"})
	require.NoError(t, err)
	id := rec["id"].(string)

	first, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ada", first["name"])

	before := store.Costs().Total()
	second, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ada", second["name"])
	assert.Equal(t, before, store.Costs().Total(), "cache hit issues no blob requests")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestAttachInvalidatesOnWrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := testResource(t, memory.New())

	c := New(NewMemory(0), 0)
	c.Attach(r)

	rec, err := r.Insert(ctx, map[string]any{"name": "Ada"})
	require.NoError(t, err)
	id := rec["id"].(string)

	_, err = r.Get(ctx, id)
	require.NoError(t, err)

	_, err = r.Update(ctx, id, map[string]any{"name": "Grace"})
	require.NoError(t, err)

	got, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Grace", got["name"], "stale entry was invalidated")
	assert.GreaterOrEqual(t, c.Stats().Invalidated, uint64(1))
}

func TestAttachInvalidatesOnDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := testResource(t, memory.New())

	c := New(NewMemory(0), 0)
	c.Attach(r)

	rec, err := r.Insert(ctx, map[string]any{"name": "Ada"})
	require.NoError(t, err)
	id := rec["id"].(string)

	_, err = r.Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, r.Delete(ctx, id))

	_, err = r.Get(ctx, id)
	assert.Error(t, err, "deleted record is not served from cache")
}
