// Package sink defines the backend-agnostic persistence interface for
// normalized market-statistics tables, plus the backend registry.
//
// Backends register themselves from init() (see sink/all) and are selected by
// config kind, mirroring the usual storage-factory layout.
package sink

import (
	"context"
	"fmt"
	"sync"
)

// Config is the minimal configuration needed to construct a Repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory: a file path for the
//     workbook backend, a connection string for the relational ones.
type Config struct {
	Kind string
	DSN  string
}

// ColumnSpec is one persisted column with its logical kind.
// Kind is one of "text", "numeric", "timestamp"; each backend maps it to its
// own native type.
type ColumnSpec struct {
	Name string
	Kind string
}

// TableSpec describes one logical table's persisted layout.
type TableSpec struct {
	Name    string
	Columns []ColumnSpec
}

// Repository is the sink contract the reconciler depends on.
//
// IMPORTANT: this interface is intentionally minimal — exactly the operations
// the append-only reconciliation needs. Each backend implements the semantics
// its own way (CREATE TABLE IF NOT EXISTS vs. creating a sheet, per-row
// INSERT vs. full-sheet rewrite).
type Repository interface {
	// Close releases backend resources. Call once at run end, on all exit
	// paths including partial failure.
	Close()

	// EnsureTable creates the table if it does not exist. Existing tables are
	// left untouched, whatever their column set.
	EnsureTable(ctx context.Context, spec TableSpec) error

	// EnsureColumn adds the column to an existing table when it is missing.
	// The migration is one-directional: columns are only ever added.
	EnsureColumn(ctx context.Context, table string, col ColumnSpec) error

	// LoadRows reads all persisted rows of the table in insertion order,
	// projected onto columns (missing columns yield nil). The second return
	// is false when the table does not exist — a normal outcome on first run,
	// not an error.
	LoadRows(ctx context.Context, table string, columns []string) ([][]any, bool, error)

	// AppendRows persists new rows after the existing ones and returns the
	// number actually added. Row-oriented backends insert per row and must
	// skip (not abort on) individual row failures; the workbook backend
	// rewrites the whole sheet as existing ++ new.
	AppendRows(ctx context.Context, table string, columns []string, rowSet [][]any) (int64, error)
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	regMu     sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "sqlite", "workbook").
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered. Failing fast
//     here avoids ambiguous backend selection.
func Register(kind string, f factory) {
	regMu.Lock()
	defer regMu.Unlock()

	if kind == "" {
		panic("sink: Register called with empty kind")
	}
	if f == nil {
		panic("sink: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("sink: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository for the configured backend kind.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unregistered, or whatever the
//     backend factory returns. Failure here is the one run-level failure of
//     the pipeline: without a sink there is nothing to do.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("sink: missing sink.kind")
	}

	regMu.RLock()
	f := factories[cfg.Kind]
	regMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("sink: unsupported sink.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
