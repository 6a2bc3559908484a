// Package mongo provides a MongoDB implementation of the dirsync document and
// checkpoint stores. Documents are stored as-is, addressed by their key field.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdSync "sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/c0deZ3R0/dirsync/cursor"
	syncErrors "github.com/c0deZ3R0/dirsync/errors"
	"github.com/c0deZ3R0/dirsync/logging"
	"github.com/c0deZ3R0/dirsync/storage/internal/docs"
	"github.com/c0deZ3R0/dirsync/synckit"
)

const component = "storage/mongo"

var (
	ErrStoreClosed = errors.New("store is closed")
	ErrNotFound    = errors.New("document not found")
)

// Config holds configuration options for the Store.
type Config struct {
	// URI is a mongodb:// or mongodb+srv:// connection string.
	URI string

	// Database is required.
	Database string

	// ConnectTimeout bounds the initial connection and ping. Default 10s.
	ConnectTimeout time.Duration

	Logger *logging.Logger
}

func (c *Config) setDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	c.Logger = logging.OrDefault(c.Logger)
}

// metadataRow is the fetch_metadata document of one stream type.
type metadataRow struct {
	Type               string    `bson:"type"`
	LastFetchTimestamp string    `bson:"lastFetchTimestamp"`
	LastLogID          string    `bson:"lastLogId"`
	UpdatedAt          time.Time `bson:"updatedAt"`
}

// Store implements synckit.Store on MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	mu     stdSync.RWMutex
	closed bool
	logger *logging.Logger
	now    func() time.Time
}

var _ synckit.Store = (*Store)(nil)

// New connects, pings the primary and ensures the fetch_metadata index.
func New(ctx context.Context, config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.setDefaults()
	if config.URI == "" {
		return nil, fmt.Errorf("URI is required")
	}
	if config.Database == "" {
		return nil, fmt.Errorf("Database is required")
	}

	logger := config.Logger.WithComponent(logging.Component("mongo-store"))

	connectCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	store := &Store{
		client: client,
		db:     client.Database(config.Database),
		logger: logger,
		now:    time.Now,
	}

	_, err = store.db.Collection(docs.MetadataCollection).Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "type", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create metadata index: %w", err)
	}

	logger.DebugContext(ctx, "MongoDB store initialized", slog.String("database", config.Database))
	return store, nil
}

func (s *Store) collection(name string) (*mongo.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if err := docs.ValidateCollection(name); err != nil {
		return nil, err
	}
	return s.db.Collection(name), nil
}

// EnsureUnique creates a unique ascending index on keyField.
func (s *Store) EnsureUnique(ctx context.Context, name, keyField string) error {
	coll, err := s.collection(name)
	if err != nil {
		return err
	}

	indexName, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: keyField, Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return syncErrors.WrapOpComponent(err, syncErrors.OpEnsureIndex, component)
	}

	s.logger.DebugContext(ctx, "unique index ensured",
		slog.String("collection", name),
		slog.String("index", indexName),
	)
	return nil
}

// Upsert sets every field of doc, creating the document when absent.
func (s *Store) Upsert(ctx context.Context, name, keyField, key string, doc synckit.Document) (bool, error) {
	coll, err := s.collection(name)
	if err != nil {
		return false, err
	}

	res, err := coll.UpdateOne(ctx,
		bson.M{keyField: key},
		bson.M{"$set": bson.M(doc)},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, syncErrors.WrapOpComponent(err, syncErrors.OpMerge, component)
	}
	return res.UpsertedID != nil, nil
}

func (s *Store) Find(ctx context.Context, name, keyField, key string) (synckit.Document, bool, error) {
	coll, err := s.collection(name)
	if err != nil {
		return nil, false, err
	}

	var raw bson.M
	err = coll.FindOne(ctx, bson.M{keyField: key},
		options.FindOne().SetProjection(bson.M{"_id": 0})).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, syncErrors.WrapOpComponent(err, syncErrors.OpMerge, component)
	}
	return fromBSON(raw), true, nil
}

func (s *Store) Insert(ctx context.Context, name, keyField, key string, doc synckit.Document) error {
	coll, err := s.collection(name)
	if err != nil {
		return err
	}

	// never mutate the caller's map
	row := docs.Apply(doc, synckit.Document{keyField: key})
	if _, err := coll.InsertOne(ctx, bson.M(row)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return syncErrors.WrapOpComponent(fmt.Errorf("duplicate %s=%s: %w", keyField, key, err), syncErrors.OpMerge, component)
		}
		return syncErrors.WrapOpComponent(err, syncErrors.OpMerge, component)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, name, keyField, key string, fields synckit.Document) error {
	coll, err := s.collection(name)
	if err != nil {
		return err
	}

	res, err := coll.UpdateOne(ctx, bson.M{keyField: key}, bson.M{"$set": bson.M(fields)})
	if err != nil {
		return syncErrors.WrapOpComponent(err, syncErrors.OpMerge, component)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s.%s=%s", ErrNotFound, name, keyField, key)
	}
	return nil
}

func (s *Store) Count(ctx context.Context, name string) (int64, error) {
	coll, err := s.collection(name)
	if err != nil {
		return 0, err
	}
	n, err := coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, syncErrors.WrapOpComponent(err, syncErrors.OpSync, component)
	}
	return n, nil
}

func (s *Store) metadata() (*mongo.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.db.Collection(docs.MetadataCollection), nil
}

func (s *Store) GetWatermark(ctx context.Context, stream string) (*cursor.Watermark, error) {
	coll, err := s.metadata()
	if err != nil {
		return nil, err
	}

	var row metadataRow
	err = coll.FindOne(ctx, bson.M{"type": stream}).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, syncErrors.NewCheckpointError(fmt.Errorf("read watermark %s: %w", stream, err))
	}
	return &cursor.Watermark{
		Stream:    stream,
		Timestamp: row.LastFetchTimestamp,
		LastID:    row.LastLogID,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func (s *Store) SetWatermark(ctx context.Context, stream, timestamp, id string) error {
	coll, err := s.metadata()
	if err != nil {
		return err
	}

	_, err = coll.UpdateOne(ctx,
		bson.M{"type": stream},
		bson.M{"$set": metadataRow{
			Type:               stream,
			LastFetchTimestamp: timestamp,
			LastLogID:          id,
			UpdatedAt:          s.now().UTC(),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return syncErrors.NewCheckpointError(fmt.Errorf("write watermark %s: %w", stream, err))
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// fromBSON converts decoded BSON into plain Go values so stored documents
// compare equal to freshly normalized ones.
func fromBSON(m bson.M) synckit.Document {
	out := make(synckit.Document, len(m))
	for k, v := range m {
		out[k] = plain(v)
	}
	return out
}

func plain(v any) any {
	switch t := v.(type) {
	case bson.M:
		return map[string]any(fromBSON(t))
	case map[string]any:
		return map[string]any(fromBSON(bson.M(t)))
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = plain(e.Value)
		}
		return m
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	case []any:
		return plain(bson.A(t))
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}
