// Package storetest is a conformance suite run against every storage backend.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/dirsync/synckit"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) synckit.Store

// Run exercises the DocumentStore and CheckpointStore contracts.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s synckit.Store)
	}{
		{"EnsureUniqueIdempotent", testEnsureUniqueIdempotent},
		{"UpsertReportsInserted", testUpsertReportsInserted},
		{"UpsertOverwrites", testUpsertOverwrites},
		{"FindMissing", testFindMissing},
		{"InsertThenFind", testInsertThenFind},
		{"UpdateTouchesOnlyGivenFields", testUpdateTouchesOnlyGivenFields},
		{"CountPerCollection", testCountPerCollection},
		{"WatermarkAbsent", testWatermarkAbsent},
		{"WatermarkSingleRowPerStream", testWatermarkSingleRowPerStream},
		{"RejectsBadCollection", testRejectsBadCollection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func testEnsureUniqueIdempotent(t *testing.T, s synckit.Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureUnique(ctx, "signin_logs", "logId"))
	require.NoError(t, s.EnsureUnique(ctx, "signin_logs", "logId"))
}

func testUpsertReportsInserted(t *testing.T, s synckit.Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureUnique(ctx, "signin_logs", "logId"))

	doc := synckit.Document{"logId": "a", "createdDateTime": "2024-01-01T00:00:00Z"}

	inserted, err := s.Upsert(ctx, "signin_logs", "logId", "a", doc)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.Upsert(ctx, "signin_logs", "logId", "a", doc)
	require.NoError(t, err)
	assert.False(t, inserted, "second upsert of the same key is a duplicate")

	count, err := s.Count(ctx, "signin_logs")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func testUpsertOverwrites(t *testing.T, s synckit.Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureUnique(ctx, "audit_logs", "logId"))

	_, err := s.Upsert(ctx, "audit_logs", "logId", "x", synckit.Document{"logId": "x", "category": "Old"})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "audit_logs", "logId", "x", synckit.Document{"logId": "x", "category": "New"})
	require.NoError(t, err)

	doc, found, err := s.Find(ctx, "audit_logs", "logId", "x")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "New", doc["category"])
}

func testFindMissing(t *testing.T, s synckit.Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureUnique(ctx, "users", "userId"))

	doc, found, err := s.Find(ctx, "users", "userId", "nobody")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, doc)
}

func testInsertThenFind(t *testing.T, s synckit.Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureUnique(ctx, "users", "userId"))

	want := synckit.Document{
		"userId":         "u1",
		"displayName":    "Ada",
		"businessPhones": []any{"+1 555 0100"},
		"accountEnabled": true,
		"mail":           nil,
	}
	require.NoError(t, s.Insert(ctx, "users", "userId", "u1", want))

	got, found, err := s.Find(ctx, "users", "userId", "u1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, got)

	assert.Error(t, s.Insert(ctx, "users", "userId", "u1", want), "duplicate insert must fail")
}

func testUpdateTouchesOnlyGivenFields(t *testing.T, s synckit.Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureUnique(ctx, "users", "userId"))
	require.NoError(t, s.Insert(ctx, "users", "userId", "u1", synckit.Document{
		"userId":      "u1",
		"displayName": "Ada",
		"jobTitle":    "Engineer",
		"extra":       "kept",
	}))

	require.NoError(t, s.Update(ctx, "users", "userId", "u1", synckit.Document{"jobTitle": "Manager"}))

	got, found, err := s.Find(ctx, "users", "userId", "u1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, synckit.Document{
		"userId":      "u1",
		"displayName": "Ada",
		"jobTitle":    "Manager",
		"extra":       "kept",
	}, got)
}

func testCountPerCollection(t *testing.T, s synckit.Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureUnique(ctx, "signin_logs", "logId"))
	require.NoError(t, s.EnsureUnique(ctx, "audit_logs", "logId"))

	for _, id := range []string{"1", "2", "3"} {
		_, err := s.Upsert(ctx, "signin_logs", "logId", id, synckit.Document{"logId": id})
		require.NoError(t, err)
	}
	_, err := s.Upsert(ctx, "audit_logs", "logId", "1", synckit.Document{"logId": "1"})
	require.NoError(t, err)

	n, err := s.Count(ctx, "signin_logs")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.Count(ctx, "audit_logs")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func testWatermarkAbsent(t *testing.T, s synckit.Store) {
	wm, err := s.GetWatermark(context.Background(), "signIns")
	require.NoError(t, err)
	assert.Nil(t, wm)
}

func testWatermarkSingleRowPerStream(t *testing.T, s synckit.Store) {
	ctx := context.Background()

	require.NoError(t, s.SetWatermark(ctx, "signIns", "2024-01-01T00:00:00Z", "a"))
	require.NoError(t, s.SetWatermark(ctx, "signIns", "2024-01-02T00:00:00Z", "b"))
	require.NoError(t, s.SetWatermark(ctx, "directoryAudits", "2024-01-03T00:00:00Z", "c"))

	wm, err := s.GetWatermark(ctx, "signIns")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, "signIns", wm.Stream)
	assert.Equal(t, "2024-01-02T00:00:00Z", wm.Timestamp)
	assert.Equal(t, "b", wm.LastID)
	assert.False(t, wm.UpdatedAt.IsZero())

	wm, err = s.GetWatermark(ctx, "directoryAudits")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, "c", wm.LastID)
}

func testRejectsBadCollection(t *testing.T, s synckit.Store) {
	ctx := context.Background()
	assert.Error(t, s.EnsureUnique(ctx, "bad name", "id"))
	_, err := s.Count(ctx, "x; DROP TABLE users")
	assert.Error(t, err)
}
