package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3db-io/s3db/pkg/codec"
	"github.com/s3db-io/s3db/pkg/config"
	"github.com/s3db-io/s3db/pkg/errs"
	"github.com/s3db-io/s3db/pkg/schema"
)

// testConfig returns a default config pointed at a fresh in-memory
// bucket, so parallel tests never share state.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.GetDefaultConfig()
	cfg.Connection.String = "memory://" + uuid.NewString() + "/db"
	cfg.Counter.Mode = "sync"
	return cfg
}

func testConnect(t *testing.T, cfg *config.Config) *DB {
	t.Helper()
	db, err := Connect(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(context.Background()) })
	return db
}

func userAttributes() schema.Attributes {
	return schema.Attributes{
		"name":   {Type: schema.TypeString, Required: true},
		"email":  {Type: schema.TypeEmail},
		"status": {Type: schema.TypeString, Default: "active"},
	}
}

func TestConnectCreatesManifestAndReportsReady(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := testConnect(t, testConfig(t))

	assert.True(t, db.Ready(ctx))
	assert.Empty(t, db.Resources())

	ok, err := db.Store().Exists(ctx, "s3db.json")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConnectRejectsBadConnectionString(t *testing.T) {
	t.Parallel()
	cfg := config.GetDefaultConfig()
	cfg.Connection.String = "redis://nope"

	_, err := Connect(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported connection scheme")
}

func TestCreateResourceIsIdempotentPerSchema(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := testConnect(t, testConfig(t))

	r1, err := db.CreateResource(ctx, ResourceOptions{Name: "users", Attributes: userAttributes()})
	require.NoError(t, err)
	assert.Equal(t, "v1", r1.Schema().ID)

	// Identical declaration reuses the stored version and the handle.
	r2, err := db.CreateResource(ctx, ResourceOptions{Name: "users", Attributes: userAttributes()})
	require.NoError(t, err)
	assert.Same(t, r1, r2)

	// A changed schema mints v2 and repoints currentVersion.
	attrs := userAttributes()
	attrs["age"] = &schema.Attribute{Type: schema.TypeNumber}
	r3, err := db.CreateResource(ctx, ResourceOptions{Name: "users", Attributes: attrs})
	require.NoError(t, err)
	assert.Equal(t, "v2", r3.Schema().ID)

	entry := db.Catalog().Resource("users")
	require.NotNil(t, entry)
	assert.Equal(t, "v2", entry.CurrentVersion)
	assert.Len(t, entry.Versions, 2)
}

func TestResourceLookup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := testConnect(t, testConfig(t))

	_, err := db.Resource("missing")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))

	_, err = db.CreateResource(ctx, ResourceOptions{Name: "users", Attributes: userAttributes()})
	require.NoError(t, err)

	r, err := db.Resource("users")
	require.NoError(t, err)
	assert.Equal(t, "users", r.Name())
	assert.Equal(t, []string{"users"}, db.Resources())
}

func TestRehydrateAcrossConnections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig(t)

	db1 := testConnect(t, cfg)
	r, err := db1.CreateResource(ctx, ResourceOptions{
		Name:       "users",
		Attributes: userAttributes(),
		Partitions: map[string]map[string]string{"byStatus": {"status": "string"}},
	})
	require.NoError(t, err)

	rec, err := r.Insert(ctx, map[string]any{"id": "u1", "name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "active", rec["status"])
	require.NoError(t, db1.Close(ctx))

	// A second connection over the same bucket restores the resource from
	// the manifest, token map and partitions included.
	db2 := testConnect(t, cfg)
	r2, err := db2.Resource("users")
	require.NoError(t, err)

	got, err := r2.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got["name"])
	assert.Equal(t, map[string]map[string]string{"byStatus": {"status": "string"}}, r2.Partitions())
}

func TestSecretFieldsNeedPassphrase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	attrs := schema.Attributes{
		"name":  {Type: schema.TypeString, Required: true},
		"token": {Type: schema.TypeSecret},
	}

	db := testConnect(t, testConfig(t))
	_, err := db.CreateResource(ctx, ResourceOptions{Name: "accounts", Attributes: attrs})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "passphrase")
}

func TestSecretRoundTripAcrossConnections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Connection.Passphrase = "correct horse battery staple"

	attrs := schema.Attributes{
		"name":  {Type: schema.TypeString, Required: true},
		"token": {Type: schema.TypeSecret},
	}

	db1 := testConnect(t, cfg)
	r, err := db1.CreateResource(ctx, ResourceOptions{Name: "accounts", Attributes: attrs})
	require.NoError(t, err)
	_, err = r.Insert(ctx, map[string]any{"id": "a1", "name": "Ada", "token": "s3cr3t"})
	require.NoError(t, err)
	require.NoError(t, db1.Close(ctx))

	// The salt persists in the manifest, so the same passphrase decrypts
	// after reconnect.
	db2 := testConnect(t, cfg)
	r2, err := db2.Resource("accounts")
	require.NoError(t, err)
	got, err := r2.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", got["token"])
}

func TestCreateQueueProcessesMessages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := testConnect(t, testConfig(t))

	var processed []string
	q, err := db.CreateQueue(ctx, "emails", func(ctx context.Context, payload map[string]any) error {
		processed = append(processed, payload["to"].(string))
		return nil
	})
	require.NoError(t, err)

	// The queue resource is a regular catalog entry.
	require.NotNil(t, db.Catalog().Resource("emails"))

	_, err = q.Enqueue(ctx, map[string]any{"to": "ada@example.com"})
	require.NoError(t, err)

	// Processing is leader-gated; with one process the lease lands on the
	// first coordination tick.
	svc, err := db.Coordinator(ctx, "")
	require.NoError(t, err)
	require.Eventually(t, svc.IsLeader, 2*time.Second, 10*time.Millisecond)

	n, err := q.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"ada@example.com"}, processed)

	// Enqueue also works through the resource delegation.
	r, err := db.Resource("emails")
	require.NoError(t, err)
	_, err = r.Enqueue(ctx, map[string]any{"to": "bob@example.com"})
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["pending"])
	assert.Equal(t, int64(1), stats["completed"])
}

func TestCreateCounterAppliesDeltas(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := testConnect(t, testConfig(t))

	attrs := userAttributes()
	attrs["views"] = &schema.Attribute{Type: schema.TypeNumber, Default: 0}
	r, err := db.CreateResource(ctx, ResourceOptions{Name: "posts", Attributes: attrs})
	require.NoError(t, err)

	_, err = db.CreateCounter(ctx, r, "views")
	require.NoError(t, err)

	_, err = r.Insert(ctx, map[string]any{"id": "p1", "name": "hello"})
	require.NoError(t, err)

	v, err := r.Add(ctx, "p1", "views", 3)
	require.NoError(t, err)
	assert.Equal(t, float64(3), v)

	v, err = r.Sub(ctx, "p1", "views", 1)
	require.NoError(t, err)
	assert.Equal(t, float64(2), v)

	// Sync mode folds into the base record immediately.
	got, err := r.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, float64(2), got["views"])
}

func TestReplicatorLogResourceIsDeclaredOnDemand(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := testConnect(t, testConfig(t))

	m, err := db.Replicator(ctx)
	require.NoError(t, err)

	// Second call returns the same manager.
	m2, err := db.Replicator(ctx)
	require.NoError(t, err)
	assert.Same(t, m, m2)
}

func TestStatusDocument(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := testConnect(t, testConfig(t))

	_, err := db.CreateResource(ctx, ResourceOptions{Name: "users", Attributes: userAttributes()})
	require.NoError(t, err)
	_, err = db.CreateQueue(ctx, "jobs", nil)
	require.NoError(t, err)

	doc, err := db.StatusDoc(ctx)
	require.NoError(t, err)

	assert.Contains(t, doc.Connection, "memory://")
	assert.Contains(t, doc.Resources, "users")
	assert.Contains(t, doc.Resources, "jobs")
	assert.Greater(t, doc.Costs.Total, uint64(0))
	require.Contains(t, doc.Queues, "jobs")
}

func TestSampleMetricsSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := testConnect(t, testConfig(t))

	_, err := db.CreateResource(ctx, ResourceOptions{Name: "users", Attributes: userAttributes()})
	require.NoError(t, err)

	snap := db.SampleMetrics()
	assert.NotEmpty(t, snap.Requests)
	assert.GreaterOrEqual(t, snap.CostUSD, 0.0)
}

func TestCacheAttachedWhenEnabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Cache.Enabled = true
	cfg.Cache.Driver = "memory"

	db := testConnect(t, cfg)
	require.NotNil(t, db.Cache())

	r, err := db.CreateResource(ctx, ResourceOptions{Name: "users", Attributes: userAttributes()})
	require.NoError(t, err)
	_, err = r.Insert(ctx, map[string]any{"id": "u1", "name": "Ada"})
	require.NoError(t, err)

	// Warm the cache, then confirm a repeat read skips the blob store.
	_, err = r.Get(ctx, "u1")
	require.NoError(t, err)
	before := db.Store().Costs().Total()
	_, err = r.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before, db.Store().Costs().Total())
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := testConnect(t, testConfig(t))

	require.NoError(t, db.Close(ctx))
	require.NoError(t, db.Close(ctx))
}

func TestBodyOverflowBehaviorPersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := testConfig(t)

	db1 := testConnect(t, cfg)
	_, err := db1.CreateResource(ctx, ResourceOptions{
		Name:       "docs",
		Attributes: schema.Attributes{"body": {Type: schema.TypeString}},
		Behavior:   codec.BehaviorBodyOverflow,
	})
	require.NoError(t, err)
	require.NoError(t, db1.Close(ctx))

	db2 := testConnect(t, cfg)
	r, err := db2.Resource("docs")
	require.NoError(t, err)
	assert.Equal(t, codec.BehaviorBodyOverflow, r.Codec().Behavior())
}
