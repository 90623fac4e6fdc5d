// Package state persists wave checkpoints so an interrupted wave can resume.
package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when no checkpoint exists for a key.
var ErrNotFound = errors.New("checkpoint not found")

// Store is a persistence substrate for encoded checkpoints.
// Put must replace the previous value atomically: a reader sees either the
// old document or the new one, never a mix.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// validKey rejects keys that cannot be used as file names or would escape
// a store's namespace.
func validKey(key string) error {
	if key == "" {
		return errors.New("empty key")
	}
	if strings.ContainsAny(key, `/\:*?"<>|`) || strings.HasPrefix(key, ".") {
		return fmt.Errorf("invalid key %q", key)
	}
	return nil
}
