// Package storage persists the user's credential and schema text in named
// string slots.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Slot names. They match the keys the browser version kept in localStorage so
// exported settings stay recognizable.
const (
	SlotAPIKey = "query_genie_openai_api_key"
	SlotSchema = "query_genie_schema"
)

// ErrNotFound is returned by Get when a slot has no value.
var ErrNotFound = errors.New("slot not found")

// Store is a get/set/remove port over named string slots.
// Implementations are safe for concurrent use.
type Store interface {
	Get(ctx context.Context, slot string) (string, error)
	Set(ctx context.Context, slot, value string) error
	Remove(ctx context.Context, slot string) error
	Close() error
}

// DefaultURL is the store used when STORE_URL is unset.
const DefaultURL = "querygenie.yaml"

// Open creates a store from a URL. Supported forms:
//
//	memory://
//	file://path/settings.yaml or a bare path
//	postgres://... (database/sql with sqlDriver, "postgres" or "pgx")
//	sqlite://path/settings.db
//	redis://host:6379/0
//	mongodb://host:27017/dbname
func Open(ctx context.Context, rawURL, sqlDriver string) (Store, error) {
	if strings.TrimSpace(rawURL) == "" {
		rawURL = DefaultURL
	}

	scheme, rest, found := strings.Cut(rawURL, "://")
	if !found {
		return NewFileStore(rawURL)
	}

	switch strings.ToLower(scheme) {
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(rest)
	case "postgres", "postgresql":
		if sqlDriver == "" {
			sqlDriver = "postgres"
		}
		return OpenSQLStore(ctx, sqlDriver, rawURL)
	case "sqlite", "sqlite3":
		return OpenSQLStore(ctx, "sqlite3", rest)
	case "redis", "rediss":
		return OpenRedisStore(ctx, rawURL)
	case "mongodb", "mongodb+srv":
		return OpenMongoStore(ctx, rawURL)
	default:
		return nil, fmt.Errorf("unsupported store scheme: %q", scheme)
	}
}

// GetOrEmpty returns the slot value, or "" when the slot is unset.
func GetOrEmpty(ctx context.Context, s Store, slot string) (string, error) {
	v, err := s.Get(ctx, slot)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}
