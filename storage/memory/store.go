// Package memory provides an in-process document and checkpoint store. It
// backs dry runs and tests; nothing survives Close.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/c0deZ3R0/dirsync/cursor"
	"github.com/c0deZ3R0/dirsync/storage/internal/docs"
	"github.com/c0deZ3R0/dirsync/synckit"
)

var (
	ErrStoreClosed = errors.New("store is closed")
	ErrNotFound    = errors.New("document not found")
	ErrDuplicate   = errors.New("duplicate key")
)

type collection struct {
	keyField string
	unique   bool
	docs     map[string][]byte
}

// Store is a synckit.Store held in memory. Documents are kept encoded so
// callers never share maps with the store.
type Store struct {
	mu          sync.RWMutex
	closed      bool
	collections map[string]*collection
	watermarks  map[string]cursor.Watermark
	now         func() time.Time
}

var _ synckit.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		collections: make(map[string]*collection),
		watermarks:  make(map[string]cursor.Watermark),
		now:         time.Now,
	}
}

// EnsureUnique records that keyField is the collection's unique key.
func (s *Store) EnsureUnique(ctx context.Context, name, keyField string) error {
	if err := docs.ValidateCollection(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	c := s.collectionLocked(name)
	if c.unique && c.keyField != keyField {
		return fmt.Errorf("collection %s is already unique on %s", name, c.keyField)
	}
	c.keyField = keyField
	c.unique = true
	return nil
}

func (s *Store) Upsert(ctx context.Context, name, keyField, key string, doc synckit.Document) (bool, error) {
	data, err := docs.Encode(doc)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(ctx, name); err != nil {
		return false, err
	}

	c := s.collectionLocked(name)
	_, exists := c.docs[key]
	c.docs[key] = data
	return !exists, nil
}

func (s *Store) Find(ctx context.Context, name, keyField, key string) (synckit.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkLocked(ctx, name); err != nil {
		return nil, false, err
	}

	c, ok := s.collections[name]
	if !ok {
		return nil, false, nil
	}
	data, ok := c.docs[key]
	if !ok {
		return nil, false, nil
	}
	doc, err := docs.Decode(data)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (s *Store) Insert(ctx context.Context, name, keyField, key string, doc synckit.Document) error {
	data, err := docs.Encode(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(ctx, name); err != nil {
		return err
	}

	c := s.collectionLocked(name)
	if _, exists := c.docs[key]; exists {
		return fmt.Errorf("%w: %s.%s=%s", ErrDuplicate, name, keyField, key)
	}
	c.docs[key] = data
	return nil
}

func (s *Store) Update(ctx context.Context, name, keyField, key string, fields synckit.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(ctx, name); err != nil {
		return err
	}

	c := s.collectionLocked(name)
	data, ok := c.docs[key]
	if !ok {
		return fmt.Errorf("%w: %s.%s=%s", ErrNotFound, name, keyField, key)
	}
	doc, err := docs.Decode(data)
	if err != nil {
		return err
	}
	updated, err := docs.Encode(docs.Apply(doc, fields))
	if err != nil {
		return err
	}
	c.docs[key] = updated
	return nil
}

func (s *Store) Count(ctx context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkLocked(ctx, name); err != nil {
		return 0, err
	}
	if c, ok := s.collections[name]; ok {
		return int64(len(c.docs)), nil
	}
	return 0, nil
}

func (s *Store) GetWatermark(ctx context.Context, stream string) (*cursor.Watermark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	wm, ok := s.watermarks[stream]
	if !ok {
		return nil, nil
	}
	return &wm, nil
}

func (s *Store) SetWatermark(ctx context.Context, stream, timestamp, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.watermarks[stream] = cursor.Watermark{
		Stream:    stream,
		Timestamp: timestamp,
		LastID:    id,
		UpdatedAt: s.now().UTC(),
	}
	return nil
}

// Close drops every document and watermark.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.collections = nil
	s.watermarks = nil
	return nil
}

func (s *Store) checkLocked(ctx context.Context, name string) error {
	if s.closed {
		return ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return docs.ValidateCollection(name)
}

func (s *Store) collectionLocked(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{docs: make(map[string][]byte)}
		s.collections[name] = c
	}
	return c
}
