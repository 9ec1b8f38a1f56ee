package acousticprint

import (
	"context"
	"fmt"
	"time"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint/storage"
)

// NewSQLiteStorage opens the gorm/SQLite catalog at dbPath.
func NewSQLiteStorage(dbPath string) (Storage, error) {
	return storage.NewSQLiteStore(dbPath)
}

// NewBadgerStorage opens a badger catalog in dir; an empty dir keeps the
// catalog in memory.
func NewBadgerStorage(dir string, log Logger) (Storage, error) {
	var bl storage.BadgerLogger
	if log != nil {
		bl = log
	}
	return storage.NewBadgerStore(dir, bl)
}

func NewMongoStorage(ctx context.Context, uri string) (Storage, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo backend requires a connection uri")
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return storage.NewMongoStore(ctx, uri, "")
}

func openStorage(cfg *Config) (Storage, error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		return NewSQLiteStorage(cfg.DBPath)
	case BackendBadger:
		return NewBadgerStorage(cfg.DBPath, cfg.Logger)
	case BackendMongo:
		return NewMongoStorage(context.Background(), cfg.MongoURI)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
