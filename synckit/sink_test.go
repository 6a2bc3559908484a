package synckit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/dirsync/errors"
	"github.com/c0deZ3R0/dirsync/logging"
	"github.com/c0deZ3R0/dirsync/storage/memory"
	"github.com/c0deZ3R0/dirsync/synckit"
)

// failingStore wraps a DocumentStore and fails writes for selected keys.
type failingStore struct {
	synckit.Store
	failKeys    map[string]bool
	failIndex   bool
	updateCalls int
	updates     []synckit.Document
}

func (f *failingStore) EnsureUnique(ctx context.Context, c, k string) error {
	if f.failIndex {
		return errors.New("index build failed")
	}
	return f.Store.EnsureUnique(ctx, c, k)
}

func (f *failingStore) Upsert(ctx context.Context, c, kf, key string, doc synckit.Document) (bool, error) {
	if f.failKeys[key] {
		return false, errors.New("write conflict")
	}
	return f.Store.Upsert(ctx, c, kf, key, doc)
}

func (f *failingStore) Insert(ctx context.Context, c, kf, key string, doc synckit.Document) error {
	if f.failKeys[key] {
		return errors.New("write conflict")
	}
	return f.Store.Insert(ctx, c, kf, key, doc)
}

func (f *failingStore) Update(ctx context.Context, c, kf, key string, fields synckit.Document) error {
	f.updateCalls++
	f.updates = append(f.updates, fields)
	return f.Store.Update(ctx, c, kf, key, fields)
}

func eventStream() *synckit.Stream {
	return &synckit.Stream{
		Type:           "signIns",
		Endpoint:       "/auditLogs/signIns",
		TimestampField: "createdDateTime",
		Collection:     "signin_logs",
		KeyField:       "logId",
		Policy:         synckit.AppendUpsert,
		Normalizer:     eventNormalizer("createdDateTime"),
	}
}

func userStream() *synckit.Stream {
	return &synckit.Stream{
		Type:       "users",
		Endpoint:   "/users",
		Collection: "users",
		KeyField:   "userId",
		Policy:     synckit.DiffUpsert,
		Normalizer: userNormalizer(),
	}
}

func TestAppendUpsert(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sink := synckit.NewRecordSink(store, eventStream(), logging.Discard())
	require.NoError(t, sink.Prepare(ctx))

	rec := synckit.Record{Key: "a", Doc: synckit.Document{"logId": "a"}}

	outcome, err := sink.Merge(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, synckit.OutcomeInserted, outcome)

	outcome, err = sink.Merge(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, synckit.OutcomeDuplicate, outcome)

	n, err := store.Count(ctx, "signin_logs")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDiffUpsert(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: memory.New()}
	sink := synckit.NewRecordSink(store, userStream(), logging.Discard())
	require.NoError(t, sink.Prepare(ctx))

	base := synckit.Document{
		"userId":         "u1",
		"displayName":    "Ada",
		"businessPhones": []string{"1", "2"},
		"jobTitle":       nil,
	}

	outcome, err := sink.Merge(ctx, synckit.Record{Key: "u1", Doc: base})
	require.NoError(t, err)
	assert.Equal(t, synckit.OutcomeNew, outcome)

	outcome, err = sink.Merge(ctx, synckit.Record{Key: "u1", Doc: base})
	require.NoError(t, err)
	assert.Equal(t, synckit.OutcomeUnchanged, outcome)
	assert.Zero(t, store.updateCalls, "unchanged records are not written")

	changed := synckit.Document{
		"userId":         "u1",
		"displayName":    "Ada",
		"businessPhones": []string{"2", "1"},
		"jobTitle":       "Engineer",
	}
	outcome, err = sink.Merge(ctx, synckit.Record{Key: "u1", Doc: changed})
	require.NoError(t, err)
	assert.Equal(t, synckit.OutcomeModified, outcome)
	assert.Equal(t, 1, store.updateCalls)
	assert.Equal(t, synckit.Document{
		"businessPhones": []string{"2", "1"},
		"jobTitle":       "Engineer",
	}, store.updates[0])

	got, found, err := store.Find(ctx, "users", "userId", "u1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []any{"2", "1"}, got["businessPhones"])
	assert.Equal(t, "Engineer", got["jobTitle"])
}

func TestDiffUpsertWritesOnlyTheChangedField(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: memory.New()}
	sink := synckit.NewRecordSink(store, userStream(), logging.Discard())
	require.NoError(t, sink.Prepare(ctx))

	doc := func(title string) synckit.Document {
		return synckit.Document{
			"userId":         "u1",
			"displayName":    "Ada",
			"businessPhones": []any{"1"},
			"accountEnabled": true,
			"jobTitle":       title,
		}
	}

	_, err := sink.Merge(ctx, synckit.Record{Key: "u1", Doc: doc("Analyst")})
	require.NoError(t, err)

	outcome, err := sink.Merge(ctx, synckit.Record{Key: "u1", Doc: doc("Engineer")})
	require.NoError(t, err)
	assert.Equal(t, synckit.OutcomeModified, outcome)
	require.Len(t, store.updates, 1)
	assert.Equal(t, synckit.Document{"jobTitle": "Engineer"}, store.updates[0])

	got, _, err := store.Find(ctx, "users", "userId", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got["displayName"])
	assert.Equal(t, true, got["accountEnabled"])
	assert.Equal(t, []any{"1"}, got["businessPhones"])
}

func TestDiffUpsertKeepsUntrackedFields(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Insert(ctx, "users", "userId", "u1", synckit.Document{
		"userId":      "u1",
		"displayName": "Ada",
		"note":        "added by hand",
	}))

	sink := synckit.NewRecordSink(store, userStream(), logging.Discard())
	outcome, err := sink.Merge(ctx, synckit.Record{Key: "u1", Doc: synckit.Document{
		"userId":      "u1",
		"displayName": "Ada Lovelace",
	}})
	require.NoError(t, err)
	assert.Equal(t, synckit.OutcomeModified, outcome)

	got, _, err := store.Find(ctx, "users", "userId", "u1")
	require.NoError(t, err)
	assert.Equal(t, "added by hand", got["note"])
	assert.Equal(t, "Ada Lovelace", got["displayName"])
}

func TestMergeFailureIsRecordScoped(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: memory.New(), failKeys: map[string]bool{"bad": true}}
	sink := synckit.NewRecordSink(store, eventStream(), logging.Discard())

	outcome, err := sink.Merge(ctx, synckit.Record{Key: "bad", Doc: synckit.Document{"logId": "bad"}})
	require.Error(t, err)
	assert.Equal(t, synckit.OutcomeFailed, outcome)
	assert.True(t, syncErrors.IsMergeError(err))

	var se *syncErrors.SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "bad", se.Metadata["key"])

	outcome, err = sink.Merge(ctx, synckit.Record{Key: "good", Doc: synckit.Document{"logId": "good"}})
	require.NoError(t, err)
	assert.Equal(t, synckit.OutcomeInserted, outcome)
}

func TestMergeRejectsMissingKey(t *testing.T) {
	sink := synckit.NewRecordSink(memory.New(), eventStream(), logging.Discard())
	outcome, err := sink.Merge(context.Background(), synckit.Record{Doc: synckit.Document{}})
	require.Error(t, err)
	assert.Equal(t, synckit.OutcomeFailed, outcome)
}

func TestPrepareFailure(t *testing.T) {
	store := &failingStore{Store: memory.New(), failIndex: true}
	sink := synckit.NewRecordSink(store, eventStream(), logging.Discard())

	err := sink.Prepare(context.Background())
	require.Error(t, err)
	assert.True(t, syncErrors.IsMergeError(err))
}
