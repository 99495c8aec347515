// Package store provides the durable key/value backends for session
// persistence. All backends implement ports.SessionStore over the exact
// storage keys the session lifecycle owns.
package store

import (
	"context"
	"fmt"

	"github.com/tutorlink/auth-client/internal/core/ports"
	"github.com/tutorlink/auth-client/internal/pkg/config"
)

// Open builds the session store selected by configuration.
func Open(ctx context.Context, cfg config.StoreConfig) (ports.SessionStore, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "file", "":
		return NewFileStore(cfg.FilePath)
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	case "redis":
		return NewRedisStore(ctx, RedisConfig{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	case "mongo":
		return NewMongoStore(ctx, MongoConfig{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
