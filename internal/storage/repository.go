package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to open a Repository.
//
// Edge cases:
//   - Kind must match a registered backend kind ("sqlite", "postgres", "mssql").
//   - DSN is passed through to the backend; for sqlite it is a file path or a
//     "file:" URI.
//   - Recreate asks the backend to discard any existing store at DSN before
//     opening. File backends delete the file; server backends rely on
//     DropTables.
type Config struct {
	Kind     string
	DSN      string
	Recreate bool
}

// Repository is a backend-agnostic handle to one relational store.
//
// It is intentionally minimal: the persistence writer drops, creates and
// fills the tables inside one transaction and needs nothing else.
type Repository interface {
	// Close releases the connection. Call once.
	Close() error

	// DropTables removes the given tables if they exist, children first.
	DropTables(ctx context.Context, tables []TableSpec) error

	// BeginTx starts the single write transaction of a run.
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is one write transaction. Exactly one of Commit or Rollback must be
// called.
type Tx interface {
	// CreateTables creates the tables, parents first.
	CreateTables(ctx context.Context, tables []TableSpec) error

	// InsertRows bulk-inserts rows; every row has len(columns) values.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// AddForeignKeys declares any foreign keys that the backend could not
	// declare inline. Called after all rows are inserted.
	AddForeignKeys(ctx context.Context, tables []TableSpec) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Factory opens a Repository for a backend kind.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under kind.
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered.
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

// New opens a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists registered backend kinds in sorted order.
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
