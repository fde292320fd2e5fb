package replicator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestRelationalDriverPostgres exercises the postgres path end to end.
// Needs Docker; skipped in short mode or when no daemon is reachable.
func TestRelationalDriverPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("s3db_test"),
		tcpostgres.WithUsername("s3db_test"),
		tcpostgres.WithPassword("s3db_test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := OpenRelational("postgres", dsn)
	require.NoError(t, err)
	d, err := NewRelational(db, "replica")
	require.NoError(t, err)

	err = d.Apply(ctx, Entry{Op: OpInsert, Resource: "orders", RecordID: "o1",
		Record: map[string]any{"total": 1.0}})
	require.NoError(t, err)
	err = d.Apply(ctx, Entry{Op: OpUpdate, Resource: "orders", RecordID: "o1",
		Record: map[string]any{"total": 3.0}})
	require.NoError(t, err)

	var rows []ReplicaRow
	require.NoError(t, db.Table("replica").Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0].Document, `"total":3`)

	err = d.Apply(ctx, Entry{Op: OpDelete, Resource: "orders", RecordID: "o1"})
	require.NoError(t, err)
	var count int64
	require.NoError(t, db.Table("replica").Count(&count).Error)
	assert.Equal(t, int64(0), count)
}
