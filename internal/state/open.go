package state

import (
	"context"
	"fmt"
	"path/filepath"
)

// Backend names accepted by OpenStore.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// OpenStore opens the substrate named by backend. path is a directory for
// the file backend and a database file for sqlite; redisURL is only used by redis.
func OpenStore(ctx context.Context, backend, path, redisURL string) (Store, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStore(path)
	case BackendSQLite:
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, "state.db")
		}
		return NewSQLiteStore(ctx, path)
	case BackendRedis:
		return NewRedisStore(ctx, redisURL, "")
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}
