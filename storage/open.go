// Package storage selects a storage backend from a connection URI.
package storage

import (
	"context"
	"fmt"
	"strings"

	syncErrors "github.com/c0deZ3R0/dirsync/errors"
	"github.com/c0deZ3R0/dirsync/logging"
	"github.com/c0deZ3R0/dirsync/storage/memory"
	"github.com/c0deZ3R0/dirsync/storage/mongo"
	"github.com/c0deZ3R0/dirsync/storage/postgres"
	"github.com/c0deZ3R0/dirsync/storage/sqlite"
	"github.com/c0deZ3R0/dirsync/synckit"
)

// Kind names a storage backend.
type Kind string

const (
	KindMemory   Kind = "memory"
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
	KindMongo    Kind = "mongo"
)

// Detect returns the backend a URI selects. Anything without a known scheme
// is taken as a SQLite file path.
func Detect(uri string) Kind {
	switch {
	case uri == "memory://" || strings.HasPrefix(uri, "memory:"):
		return KindMemory
	case strings.HasPrefix(uri, "mongodb://"), strings.HasPrefix(uri, "mongodb+srv://"):
		return KindMongo
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		return KindPostgres
	default:
		return KindSQLite
	}
}

// Open connects to the backend named by uri. database names the Mongo
// database or the Postgres schema and is ignored by the other backends.
func Open(ctx context.Context, uri, database string, logger *logging.Logger) (synckit.Store, error) {
	if uri == "" {
		return nil, syncErrors.NewConfigError(fmt.Errorf("storage URI is required"))
	}
	logger = logging.OrDefault(logger)

	var (
		store synckit.Store
		err   error
	)
	switch Detect(uri) {
	case KindMemory:
		store = memory.New()
	case KindMongo:
		store, err = mongo.New(ctx, &mongo.Config{URI: uri, Database: database, Logger: logger})
	case KindPostgres:
		cfg := postgres.DefaultConfig(uri, database)
		cfg.Logger = logger
		store, err = postgres.New(ctx, cfg)
	default:
		cfg := sqlite.DefaultConfig(strings.TrimPrefix(uri, "sqlite://"))
		cfg.Logger = logger
		store, err = sqlite.New(cfg)
	}
	if err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpConnect, "storage", err)
	}
	return store, nil
}
