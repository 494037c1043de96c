package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownKind is returned by New for an unregistered backend kind.
var ErrUnknownKind = errors.New("storage: unknown backend kind")

// Config is the minimal configuration needed to create a Repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is the relational sink the pipeline writes its output tables to.
//
// ReplaceTable must fully replace any existing table of the same name (drop and
// recreate) and then insert rows. Rows are positional and aligned with
// spec.Columns. Backends decide their own transaction scope per table; there is
// no transaction spanning several ReplaceTable calls.
type Repository interface {
	ReplaceTable(ctx context.Context, spec TableSpec, rows [][]any) (int64, error)

	// Close releases backend resources. Call it once.
	Close()
}

// Factory constructs a Repository for one backend kind.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. Backend packages call it from
// init().
//
// Panics if kind is empty, f is nil, or kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New constructs a Repository using the registered backend factory.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
	return f(ctx, cfg)
}
