package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/dirsync/logging"
	"github.com/c0deZ3R0/dirsync/storage/storetest"
	"github.com/c0deZ3R0/dirsync/synckit"
)

func newMemoryStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(&Config{DataSourceName: ":memory:", Logger: logging.Discard()})
	require.NoError(t, err)
	return store
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) synckit.Store { return newMemoryStore(t) })
}

func TestNewRequiresDataSource(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{})
	assert.Error(t, err)
}

func TestSchemaVersion(t *testing.T) {
	store := newMemoryStore(t)
	defer store.Close()

	var version int
	require.NoError(t, store.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestUniqueIndexEnforced(t *testing.T) {
	store := newMemoryStore(t)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.EnsureUnique(ctx, "signin_logs", "logId"))
	_, err := store.db.Exec(`INSERT INTO "signin_logs" (key, doc, updated_at) VALUES ('a', '{}', CURRENT_TIMESTAMP)`)
	require.NoError(t, err)
	_, err = store.db.Exec(`INSERT INTO "signin_logs" (key, doc, updated_at) VALUES ('a', '{}', CURRENT_TIMESTAMP)`)
	assert.Error(t, err, "storage must reject a second row with the same key")
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dirsync.db")
	ctx := context.Background()

	store, err := New(&Config{DataSourceName: path, EnableWAL: true, Logger: logging.Discard()})
	require.NoError(t, err)
	require.NoError(t, store.EnsureUnique(ctx, "audit_logs", "logId"))
	_, err = store.Upsert(ctx, "audit_logs", "logId", "a1", synckit.Document{"logId": "a1"})
	require.NoError(t, err)
	require.NoError(t, store.SetWatermark(ctx, "directoryAudits", "2024-05-01T10:00:00Z", "a1"))
	require.NoError(t, store.Close())

	store, err = New(&Config{DataSourceName: path, EnableWAL: true, Logger: logging.Discard()})
	require.NoError(t, err)
	defer store.Close()

	n, err := store.Count(ctx, "audit_logs")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	wm, err := store.GetWatermark(ctx, "directoryAudits")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, "a1", wm.LastID)
}

func TestClosed(t *testing.T) {
	store := newMemoryStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "close is idempotent")

	_, err := store.Count(context.Background(), "users")
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.Zero(t, store.Stats().OpenConnections)
}
