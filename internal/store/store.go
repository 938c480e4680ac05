// Package store persists the inventory ledger together with the last sequence it reflects.
package store

import (
	"context"
	"strings"

	"poscheck/internal/schema"
	"poscheck/pkg/exception"
)

const (
	KindMemory   = "memory"
	KindBadger   = "badger"
	KindPostgres = "postgres"
)

// Store is a durable keyed mirror of the ledger.
type Store interface {
	// Load returns every persisted record and the sequence they reflect.
	Load(ctx context.Context) (map[string]schema.InventoryRecord, uint64, error)
	// Save upserts records and advances the persisted sequence atomically.
	Save(ctx context.Context, records []schema.InventoryRecord, lastSeq uint64) error
	// Delete removes records by key.
	Delete(ctx context.Context, keys []string) error
	// Replace drops every record and writes the given set.
	Replace(ctx context.Context, records []schema.InventoryRecord, lastSeq uint64) error
	Close() error
}

// Options selects and configures a store.
type Options struct {
	Kind        string
	Path        string
	PostgresDSN string
}

// Open builds the configured store.
func Open(ctx context.Context, opt Options) (Store, error) {
	switch strings.ToLower(opt.Kind) {
	case KindMemory:
		return NewMemory(), nil
	case KindBadger, "":
		return OpenBadger(opt.Path)
	case KindPostgres:
		return OpenPostgres(ctx, opt.PostgresDSN)
	default:
		return nil, exception.ErrUnknownStore
	}
}

// ValidKind reports whether kind names a supported store.
func ValidKind(kind string) bool {
	switch strings.ToLower(kind) {
	case "", KindMemory, KindBadger, KindPostgres:
		return true
	default:
		return false
	}
}
