package synckit

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	syncErrors "github.com/c0deZ3R0/dirsync/errors"
	"github.com/c0deZ3R0/dirsync/logging"
)

// Outcome is the result of merging a single record.
type Outcome int

const (
	// OutcomeFailed means the record was not persisted.
	OutcomeFailed Outcome = iota
	// OutcomeInserted means an append-upsert created a new document.
	OutcomeInserted
	// OutcomeDuplicate means an append-upsert matched an existing key.
	OutcomeDuplicate
	// OutcomeNew means a diff-upsert inserted a previously unseen entity.
	OutcomeNew
	// OutcomeModified means a diff-upsert updated at least one field.
	OutcomeModified
	// OutcomeUnchanged means a diff-upsert found nothing to write.
	OutcomeUnchanged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeNew:
		return "new"
	case OutcomeModified:
		return "modified"
	case OutcomeUnchanged:
		return "unchanged"
	default:
		return "failed"
	}
}

// RecordSink merges normalized records of one stream into a DocumentStore.
type RecordSink struct {
	store      DocumentStore
	collection string
	keyField   string
	policy     MergePolicy
	logger     *logging.Logger
}

// NewRecordSink creates a sink for the stream's collection and policy.
func NewRecordSink(store DocumentStore, stream *Stream, logger *logging.Logger) *RecordSink {
	return &RecordSink{
		store:      store,
		collection: stream.Collection,
		keyField:   stream.KeyField,
		policy:     stream.Policy,
		logger:     logging.OrDefault(logger).WithComponent(logging.Component("sink")),
	}
}

// Prepare ensures the collection's unique index. Call once before merging.
func (s *RecordSink) Prepare(ctx context.Context) error {
	if err := s.store.EnsureUnique(ctx, s.collection, s.keyField); err != nil {
		return syncErrors.NewMergeError(syncErrors.OpEnsureIndex,
			fmt.Errorf("ensure unique %s.%s: %w", s.collection, s.keyField, err)).
			WithMetadata("collection", s.collection)
	}
	return nil
}

// Merge persists rec under the sink's policy. A returned error is always a
// MergeError and applies to this record only.
func (s *RecordSink) Merge(ctx context.Context, rec Record) (Outcome, error) {
	if rec.Key == "" {
		return OutcomeFailed, s.mergeError(rec, fmt.Errorf("record has no %s", s.keyField))
	}

	switch s.policy {
	case AppendUpsert:
		return s.appendUpsert(ctx, rec)
	case DiffUpsert:
		return s.diffUpsert(ctx, rec)
	default:
		return OutcomeFailed, s.mergeError(rec, fmt.Errorf("unsupported merge policy %s", s.policy))
	}
}

func (s *RecordSink) appendUpsert(ctx context.Context, rec Record) (Outcome, error) {
	inserted, err := s.store.Upsert(ctx, s.collection, s.keyField, rec.Key, rec.Doc)
	if err != nil {
		return OutcomeFailed, s.mergeError(rec, err)
	}
	if inserted {
		return OutcomeInserted, nil
	}
	return OutcomeDuplicate, nil
}

func (s *RecordSink) diffUpsert(ctx context.Context, rec Record) (Outcome, error) {
	stored, found, err := s.store.Find(ctx, s.collection, s.keyField, rec.Key)
	if err != nil {
		return OutcomeFailed, s.mergeError(rec, err)
	}

	if !found {
		if err := s.store.Insert(ctx, s.collection, s.keyField, rec.Key, rec.Doc); err != nil {
			return OutcomeFailed, s.mergeError(rec, err)
		}
		return OutcomeNew, nil
	}

	candidate, err := Canonicalize(rec.Doc)
	if err != nil {
		return OutcomeFailed, s.mergeError(rec, err)
	}
	current, err := Canonicalize(stored)
	if err != nil {
		return OutcomeFailed, s.mergeError(rec, err)
	}

	changed := DiffFields(current, candidate)
	if len(changed) == 0 {
		return OutcomeUnchanged, nil
	}

	// write the candidate values, not their canonical copies
	fields := make(Document, len(changed))
	for field := range changed {
		fields[field] = rec.Doc[field]
	}
	if err := s.store.Update(ctx, s.collection, s.keyField, rec.Key, fields); err != nil {
		return OutcomeFailed, s.mergeError(rec, err)
	}

	s.logger.DebugContext(ctx, "updated fields",
		slog.String("key", rec.Key),
		slog.Any("fields", slices.Sorted(maps.Keys(fields))),
	)
	return OutcomeModified, nil
}

func (s *RecordSink) mergeError(rec Record, err error) error {
	return syncErrors.NewMergeError(syncErrors.OpMerge, err).
		WithMetadata("collection", s.collection).
		WithMetadata("key", rec.Key)
}
