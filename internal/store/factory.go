package store

import (
	"fmt"
	"sort"
	"sync"
)

// Builder creates a store from config.
type Builder func(cfg Config) (Store, error)

var (
	buildersMu sync.RWMutex
	builders   = map[string]Builder{}
)

func init() {
	RegisterStoreType("sqlite", func(cfg Config) (Store, error) { return NewSQLite(cfg.Path) })
	RegisterStoreType("postgres", func(cfg Config) (Store, error) { return NewPostgres(cfg.DSN) })
	RegisterStoreType("postgresql", func(cfg Config) (Store, error) { return NewPostgres(cfg.DSN) })
}

// RegisterStoreType registers a backend under a type name, replacing any
// previous registration for that name.
func RegisterStoreType(storeType string, b Builder) {
	buildersMu.Lock()
	builders[storeType] = b
	buildersMu.Unlock()
}

// New builds the store selected by cfg.Type (sqlite when empty).
func New(cfg Config) (Store, error) {
	t := cfg.Type
	if t == "" {
		t = "sqlite"
	}
	buildersMu.RLock()
	b, ok := builders[t]
	buildersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported store type: %s (supported: %v)", t, SupportedTypes())
	}
	return b(cfg)
}

// SupportedTypes lists the registered backend type names.
func SupportedTypes() []string {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	types := make([]string, 0, len(builders))
	for t := range builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
