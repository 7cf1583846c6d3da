package storage

import (
	"fmt"
	"log/slog"
)

// Backend names accepted by NewStore.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// NewStore builds an uninitialized store. path is the badger directory or the
// sqlite file; an empty badger path keeps the database in memory.
func NewStore(kind, path string, logger *slog.Logger) (Store, error) {
	switch kind {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendBadger:
		return NewBadgerStore(BadgerOptions{Path: path, InMemory: path == "", Logger: logger}), nil
	case BackendSQLite:
		return newSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
