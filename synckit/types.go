// Package synckit is the incremental synchronization engine: it walks a paged
// source, normalizes each record, merges it into a document store and commits
// a per-stream watermark so the next run resumes where this one stopped.
package synckit

import (
	"context"
	"encoding/json"

	"github.com/c0deZ3R0/dirsync/cursor"
)

// Document is the persisted form of a record.
type Document map[string]any

// Page is one batch of raw records returned by a PageSource.
type Page struct {
	// Number is the 1-based position of the page within a walk.
	Number int

	Records []json.RawMessage

	// Next is the continuation request, used verbatim. Empty means last page.
	Next string
}

// HasNext reports whether the source announced another page.
func (p *Page) HasNext() bool { return p != nil && p.Next != "" }

// PageSource fetches a single page for a request. The request is either a
// collection path with query, or a continuation returned in Page.Next.
type PageSource interface {
	Fetch(ctx context.Context, request string) (*Page, error)
}

// Record is a normalized record ready to be merged.
type Record struct {
	// Key is the value of the stream's unique key field.
	Key string

	// Timestamp is the record's position in the source's time order.
	// Empty for streams that are not incremental.
	Timestamp string

	Doc Document
}

// Normalizer maps a raw record to its persisted shape.
type Normalizer interface {
	Normalize(raw json.RawMessage) (Record, error)
}

// NormalizerFunc adapts a function to the Normalizer interface.
type NormalizerFunc func(raw json.RawMessage) (Record, error)

func (f NormalizerFunc) Normalize(raw json.RawMessage) (Record, error) { return f(raw) }

// DocumentStore is the storage surface the RecordSink merges into.
// Collections hold documents addressed by a single unique key field.
type DocumentStore interface {
	// EnsureUnique makes the storage layer enforce uniqueness of keyField
	// within collection. It is idempotent.
	EnsureUnique(ctx context.Context, collection, keyField string) error

	// Upsert inserts doc if key is absent, otherwise overwrites it. It
	// reports whether a new document was created.
	Upsert(ctx context.Context, collection, keyField, key string, doc Document) (inserted bool, err error)

	// Find returns the stored document for key; found is false when absent.
	Find(ctx context.Context, collection, keyField, key string) (doc Document, found bool, err error)

	// Insert stores a new document.
	Insert(ctx context.Context, collection, keyField, key string, doc Document) error

	// Update sets the given top-level fields on the stored document,
	// leaving every other field untouched.
	Update(ctx context.Context, collection, keyField, key string, fields Document) error

	// Count returns the number of documents in collection.
	Count(ctx context.Context, collection string) (int64, error)
}

// CheckpointStore persists one watermark per stream type.
type CheckpointStore interface {
	// GetWatermark returns nil, nil when the stream has never been synced.
	GetWatermark(ctx context.Context, stream string) (*cursor.Watermark, error)

	// SetWatermark creates or replaces the stream's watermark.
	SetWatermark(ctx context.Context, stream, timestamp, id string) error
}

// Store is a storage backend serving both documents and checkpoints.
type Store interface {
	DocumentStore
	CheckpointStore
	Close() error
}
