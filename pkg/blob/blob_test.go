package blob_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3db-io/s3db/pkg/blob"
	"github.com/s3db-io/s3db/pkg/blob/memory"
)

func testStore(t *testing.T) blob.Store {
	t.Helper()
	return memory.Open(uuid.NewString(), "db")
}

// ============================================================================
// Metadata
// ============================================================================

func TestMetadataSize(t *testing.T) {
	t.Parallel()

	m := blob.Metadata{"a": "xx", "bb": "y"}
	assert.Equal(t, 6, m.Size())
	assert.Equal(t, 0, blob.Metadata{}.Size())
}

func TestMetadataClone(t *testing.T) {
	t.Parallel()

	m := blob.Metadata{"a": "1"}
	clone := m.Clone()
	clone["a"] = "2"
	assert.Equal(t, "1", m["a"])

	var nilMeta blob.Metadata
	assert.Nil(t, nilMeta.Clone())
}

func TestJoinKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a/b/c", blob.JoinKey("a", "b", "c"))
	assert.Equal(t, "a/c", blob.JoinKey("/a/", "", "c/"))
	assert.Equal(t, "", blob.JoinKey("", "/"))
}

// ============================================================================
// Prefix helpers
// ============================================================================

func TestListAllAndCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Put(ctx, blob.PutInput{
			Key:  fmt.Sprintf("resource=users/id=u%d", i),
			Body: []byte("{}"),
		}))
	}
	require.NoError(t, store.Put(ctx, blob.PutInput{Key: "resource=posts/id=p0", Body: []byte("{}")}))

	keys, err := blob.ListAll(ctx, store, "resource=users/")
	require.NoError(t, err)
	assert.Len(t, keys, 5)

	n, err := blob.Count(ctx, store, "resource=users/")
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
}

func TestDeleteAllRemovesOnlyThePrefix(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Put(ctx, blob.PutInput{
			Key:  fmt.Sprintf("resource=users/id=u%d", i),
			Body: []byte("{}"),
		}))
	}
	require.NoError(t, store.Put(ctx, blob.PutInput{Key: "resource=posts/id=p0", Body: []byte("{}")}))

	deleted, err := blob.DeleteAll(ctx, store, "resource=users/")
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	n, err := blob.Count(ctx, store, "resource=")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

// ============================================================================
// Cost meter
// ============================================================================

func TestCostsReport(t *testing.T) {
	t.Parallel()

	costs := blob.NewCosts()
	costs.Add(blob.ClassPut)
	costs.Add(blob.ClassPut)
	costs.Add(blob.ClassGet)
	costs.Add(blob.ClassDelete)

	report := costs.Report()
	assert.EqualValues(t, 4, report.Total)
	assert.EqualValues(t, 2, report.Requests[blob.ClassPut])
	assert.EqualValues(t, 1, report.Requests[blob.ClassGet])
	// DELETE is free; PUT and GET carry the published per-request rates.
	assert.InDelta(t, 2*0.000005+0.0000004, report.EstimatedUSD, 1e-12)

	costs.Reset()
	assert.EqualValues(t, 0, costs.Total())
}

func TestCostsNilIsSafe(t *testing.T) {
	t.Parallel()

	var costs *blob.Costs
	costs.Add(blob.ClassGet)
	report := costs.Report()
	assert.EqualValues(t, 0, report.Total)
}
