package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3db-io/s3db/pkg/blob"
	"github.com/s3db-io/s3db/pkg/blob/memory"
)

func testService(t *testing.T, store blob.Store, id string, mutate func(*Config)) *Service {
	t.Helper()
	cfg := Config{
		Store:             store,
		Namespace:         "jobs",
		ID:                id,
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatJitter:   5 * time.Millisecond,
		LeaseTimeout:      60 * time.Millisecond,
		WorkerTimeout:     80 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := New(cfg)
	require.NoError(t, err)
	return svc
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Namespace: "x"})
	assert.Error(t, err)

	_, err = New(Config{Store: memory.New()})
	assert.Error(t, err)

	_, err = New(Config{
		Store:             memory.New(),
		Namespace:         "x",
		HeartbeatInterval: 10 * time.Second,
		LeaseTimeout:      15 * time.Second, // < 2x heartbeat
	})
	assert.Error(t, err)
}

func TestFirstTickAcquiresLeadership(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	svc := testService(t, store, "p1", nil)

	require.NoError(t, svc.Tick(ctx))
	assert.True(t, svc.IsLeader())
	assert.Equal(t, int64(1), svc.Epoch())

	// Heartbeat written.
	ok, err := store.Exists(ctx, "coord/jobs/workers/p1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSecondProcessDefersToHolder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	a := testService(t, store, "a", nil)
	b := testService(t, store, "b", nil)

	require.NoError(t, a.Tick(ctx))
	require.NoError(t, b.Tick(ctx))

	assert.True(t, a.IsLeader())
	assert.False(t, b.IsLeader())
	assert.Equal(t, int64(1), b.Epoch(), "follower observes the holder's epoch")
}

func TestExpiredLeaseIsTakenOverWithBumpedEpoch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	a := testService(t, store, "a", nil)
	b := testService(t, store, "b", nil)

	require.NoError(t, a.Tick(ctx))
	require.True(t, a.IsLeader())

	// Let the lease lapse without renewal.
	time.Sleep(80 * time.Millisecond)

	require.NoError(t, b.Tick(ctx))
	assert.True(t, b.IsLeader())
	assert.Equal(t, int64(2), b.Epoch())

	// The stale leader notices on its next tick.
	require.NoError(t, a.Tick(ctx))
	assert.False(t, a.IsLeader())
}

func TestRenewalKeepsEpoch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := testService(t, memory.New(), "p1", nil)

	require.NoError(t, svc.Tick(ctx))
	require.NoError(t, svc.Tick(ctx))
	require.NoError(t, svc.Tick(ctx))

	assert.True(t, svc.IsLeader())
	assert.Equal(t, int64(1), svc.Epoch(), "renewals never bump the epoch")
}

func TestLeaderChangeNotificationsInEpochOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	a := testService(t, store, "a", nil)
	b := testService(t, store, "b", nil)

	var mu sync.Mutex
	var changes []Change
	b.Subscribe(func(c Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	require.NoError(t, a.Tick(ctx))
	require.NoError(t, b.Tick(ctx)) // observes a as leader, epoch 1

	time.Sleep(80 * time.Millisecond)
	require.NoError(t, b.Tick(ctx)) // takes over, epoch 2

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 2)
	assert.Equal(t, "a", changes[0].NewLeader)
	assert.Equal(t, int64(1), changes[0].Epoch)
	assert.Equal(t, "a", changes[1].PreviousLeader)
	assert.Equal(t, "b", changes[1].NewLeader)
	assert.Equal(t, int64(2), changes[1].Epoch)
	assert.Less(t, changes[0].Epoch, changes[1].Epoch)
}

func TestLeaderSweepsStaleWorkers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	leader := testService(t, store, "leader", nil)
	ghost := testService(t, store, "ghost", nil)

	require.NoError(t, ghost.Tick(ctx))

	time.Sleep(100 * time.Millisecond) // ghost goes stale past workerTimeout

	require.NoError(t, leader.Tick(ctx))
	require.NoError(t, leader.Tick(ctx))

	workers, err := leader.Workers(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(workers))
	for _, w := range workers {
		ids = append(ids, w.WorkerID)
	}
	assert.Contains(t, ids, "leader")
	assert.NotContains(t, ids, "ghost")
}

func TestStopReleasesLease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	a := testService(t, store, "a", nil)
	b := testService(t, store, "b", nil)

	a.Start(ctx)
	require.Eventually(t, a.IsLeader, time.Second, 5*time.Millisecond)

	a.Stop(ctx)

	// Successor acquires immediately, without waiting out the timeout,
	// and the epoch keeps climbing across the handover.
	require.NoError(t, b.Tick(ctx))
	assert.True(t, b.IsLeader())
	assert.Equal(t, int64(2), b.Epoch())
}

func TestMetricsView(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := testService(t, memory.New(), "p1", nil)
	require.NoError(t, svc.Tick(ctx))

	m := svc.Metrics(ctx)
	assert.Equal(t, "jobs", m.Namespace)
	assert.True(t, m.IsLeader)
	assert.Equal(t, "p1", m.Leader)
	assert.Equal(t, int64(1), m.Epoch)
	assert.Equal(t, 1, m.Workers)
}

func TestObserveIsReadOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	observer := testService(t, store, "watcher", nil)

	obs, err := observer.Observe(ctx)
	require.NoError(t, err)
	assert.Empty(t, obs.Leader)
	assert.Empty(t, obs.Workers)

	leader := testService(t, store, "p1", nil)
	require.NoError(t, leader.Tick(ctx))

	obs, err = observer.Observe(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p1", obs.Leader)
	assert.Equal(t, int64(1), obs.Epoch)
	assert.False(t, obs.Expired)
	require.Len(t, obs.Workers, 1)
	assert.Equal(t, "p1", obs.Workers[0].WorkerID)

	// Observing must not have heartbeated the watcher into the namespace.
	workers, err := observer.Workers(ctx)
	require.NoError(t, err)
	assert.Len(t, workers, 1)
}

func TestRegistrySharesServicePerNamespace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	reg := NewRegistry(store, nil, "proc-1")
	defer reg.StopAll(ctx)

	a, err := reg.Service(ctx, "jobs", func(cfg *Config) {
		cfg.HeartbeatInterval = 20 * time.Millisecond
		cfg.LeaseTimeout = 60 * time.Millisecond
	})
	require.NoError(t, err)
	b, err := reg.Service(ctx, "jobs", nil)
	require.NoError(t, err)
	assert.Same(t, a, b)

	other, err := reg.Service(ctx, "ttl", func(cfg *Config) {
		cfg.HeartbeatInterval = 20 * time.Millisecond
		cfg.LeaseTimeout = 60 * time.Millisecond
	})
	require.NoError(t, err)
	assert.NotSame(t, a, other)
	assert.Len(t, reg.Metrics(ctx), 2)
}
