// Package sqlite provides a SQLite implementation of the dirsync document and
// checkpoint stores. Each collection is a table of (key, doc, updated_at) with
// the document held as JSON text.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	"github.com/c0deZ3R0/dirsync/cursor"
	syncErrors "github.com/c0deZ3R0/dirsync/errors"
	"github.com/c0deZ3R0/dirsync/logging"
	"github.com/c0deZ3R0/dirsync/storage/internal/docs"
	"github.com/c0deZ3R0/dirsync/synckit"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - empty database
// 1 - fetch_metadata table
const currentSchemaVersion = 1

const component = "storage/sqlite"

var (
	ErrStoreClosed = errors.New("store is closed")
	ErrNotFound    = errors.New("document not found")
)

// Config holds configuration options for the Store.
type Config struct {
	// DataSourceName is a file path or a go-sqlite3 DSN. ":memory:" opens a
	// private in-memory database.
	DataSourceName string

	// EnableWAL switches file databases to write-ahead logging.
	EnableWAL bool

	// BusyTimeout is how long a writer waits on a locked database.
	BusyTimeout time.Duration

	Logger *logging.Logger
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.BusyTimeout == 0 {
		c.BusyTimeout = 5 * time.Second
	}
	c.Logger = logging.OrDefault(c.Logger)
}

// DefaultConfig returns a Config with WAL enabled and a 5 second busy timeout.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// Store implements synckit.Store on SQLite.
type Store struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
	logger *logging.Logger
	now    func() time.Time
}

// Compile-time check to ensure Store satisfies synckit.Store
var _ synckit.Store = (*Store)(nil)

// New opens the database, applies pragmas and migrations.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := config.Logger.WithComponent(logging.Component("sqlite-store"))
	logger.Debug("opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// one connection: a single writer, and ":memory:" stays one database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	if err := applyPragmas(db, config); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	logger.Debug("SQLite store initialized")
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

func applyPragmas(db *sql.DB, config *Config) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", config.BusyTimeout.Milliseconds()),
		"PRAGMA synchronous = NORMAL",
	}
	if config.EnableWAL && !strings.Contains(config.DataSourceName, ":memory:") {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates the fixed tables and records the schema version.
func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version >= currentSchemaVersion {
		return nil
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// ensureTable creates the collection's table. Names are validated first, so
// they are safe to splice into SQL.
func (s *Store) ensureTable(ctx context.Context, name string) error {
	if err := docs.ValidateCollection(name); err != nil {
		return err
	}
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
        key        TEXT NOT NULL,
        doc        TEXT NOT NULL,
        updated_at TIMESTAMP NOT NULL
    )`, name)
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// EnsureUnique creates the collection table and a unique index on its key.
func (s *Store) EnsureUnique(ctx context.Context, name, keyField string) error {
	const op = "sqlite.EnsureUnique"
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.ensureTable(ctx, name); err != nil {
		return syncErrors.WrapOpComponent(err, syncErrors.OpEnsureIndex, component)
	}

	query := fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %q ON %q (key)`, "ux_"+name+"_key", name)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return syncErrors.WrapOpComponent(fmt.Errorf("%s: %w", op, err), syncErrors.OpEnsureIndex, component)
	}

	s.logger.DebugContext(ctx, "unique index ensured",
		slog.String("collection", name),
		slog.String("key_field", keyField),
	)
	return nil
}

// Upsert inserts doc or replaces the stored one, reporting whether a new row
// was created.
func (s *Store) Upsert(ctx context.Context, name, keyField, key string, doc synckit.Document) (inserted bool, err error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if err := s.ensureTable(ctx, name); err != nil {
		return false, syncErrors.WrapOpComponent(err, syncErrors.OpMerge, component)
	}
	data, err := docs.Encode(doc)
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, syncErrors.WrapOpComponent(err, syncErrors.OpMerge, component)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := s.now().UTC()
	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %q (key, doc, updated_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`, name),
		key, string(data), now)
	if err != nil {
		return false, syncErrors.WrapOpComponent(err, syncErrors.OpMerge, component)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, syncErrors.WrapOpComponent(err, syncErrors.OpMerge, component)
	}

	if affected == 0 {
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %q SET doc = ?, updated_at = ? WHERE key = ?`, name),
			string(data), now, key)
		if err != nil {
			return false, syncErrors.WrapOpComponent(err, syncErrors.OpMerge, component)
		}
	}

	if err = tx.Commit(); err != nil {
		return false, syncErrors.WrapOpComponent(err, syncErrors.OpMerge, component)
	}
	return affected == 1, nil
}

func (s *Store) Find(ctx context.Context, name, keyField, key string) (synckit.Document, bool, error) {
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}
	if err := s.ensureTable(ctx, name); err != nil {
		return nil, false, syncErrors.WrapOpComponent(err, syncErrors.OpMerge, component)
	}

	var data string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT doc FROM %q WHERE key = ?`, name), key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, syncErrors.WrapOpComponent(err, syncErrors.OpMerge, component)
	}

	doc, err := docs.Decode([]byte(data))
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (s *Store) Insert(ctx context.Context, name, keyField, key string, doc synckit.Document) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.ensureTable(ctx, name); err != nil {
		return syncErrors.WrapOpComponent(err, syncErrors.OpMerge, component)
	}
	data, err := docs.Encode(doc)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %q (key, doc, updated_at) VALUES (?, ?, ?)`, name),
		key, string(data), s.now().UTC())
	return syncErrors.WrapOpComponent(err, syncErrors.OpMerge, component)
}

// Update merges fields into the stored document inside one transaction.
func (s *Store) Update(ctx context.Context, name, keyField, key string, fields synckit.Document) (err error) {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.ensureTable(ctx, name); err != nil {
		return syncErrors.WrapOpComponent(err, syncErrors.OpMerge, component)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.WrapOpComponent(err, syncErrors.OpMerge, component)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var data string
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT doc FROM %q WHERE key = ?`, name), key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s.%s=%s", ErrNotFound, name, keyField, key)
	}
	if err != nil {
		return syncErrors.WrapOpComponent(err, syncErrors.OpMerge, component)
	}

	stored, err := docs.Decode([]byte(data))
	if err != nil {
		return err
	}
	updated, err := docs.Encode(docs.Apply(stored, fields))
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %q SET doc = ?, updated_at = ? WHERE key = ?`, name),
		string(updated), s.now().UTC(), key)
	if err != nil {
		return syncErrors.WrapOpComponent(err, syncErrors.OpMerge, component)
	}

	if err = tx.Commit(); err != nil {
		return syncErrors.WrapOpComponent(err, syncErrors.OpMerge, component)
	}
	return nil
}

func (s *Store) Count(ctx context.Context, name string) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if err := s.ensureTable(ctx, name); err != nil {
		return 0, syncErrors.WrapOpComponent(err, syncErrors.OpSync, component)
	}

	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %q`, name)).Scan(&n)
	if err != nil {
		return 0, syncErrors.WrapOpComponent(err, syncErrors.OpSync, component)
	}
	return n, nil
}

func (s *Store) GetWatermark(ctx context.Context, stream string) (*cursor.Watermark, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	wm := cursor.Watermark{Stream: stream}
	err := s.db.QueryRowContext(ctx,
		`SELECT last_fetch_timestamp, last_log_id, updated_at FROM fetch_metadata WHERE type = ?`, stream).
		Scan(&wm.Timestamp, &wm.LastID, &wm.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, syncErrors.NewCheckpointError(fmt.Errorf("read watermark %s: %w", stream, err))
	}
	return &wm, nil
}

func (s *Store) SetWatermark(ctx context.Context, stream, timestamp, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO fetch_metadata (type, last_fetch_timestamp, last_log_id, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (type) DO UPDATE SET
            last_fetch_timestamp = excluded.last_fetch_timestamp,
            last_log_id          = excluded.last_log_id,
            updated_at           = excluded.updated_at`,
		stream, timestamp, id, s.now().UTC())
	if err != nil {
		return syncErrors.NewCheckpointError(fmt.Errorf("write watermark %s: %w", stream, err))
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Stats returns database statistics for monitoring
func (s *Store) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return sql.DBStats{}
	}
	return s.db.Stats()
}
