package storage

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnsupportedBackend = errors.New("unsupported store backend")

// Backends lists the store kinds NewStore understands. sqlite is only
// usable in binaries built with the sqlite tag.
func Backends() []string {
	return []string{"memory", "sqlite"}
}

// NewStore builds the backend named by kind. The sqlite path is ignored by
// the memory backend.
func NewStore(kind, sqlitePath string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if sqlitePath == "" {
			return nil, errors.New("sqlite backend requires a database path")
		}
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("%w: %s (want one of %s)", ErrUnsupportedBackend, kind, strings.Join(Backends(), "|"))
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
