// Package reconcile lands built row batches in the sink without ever losing
// or rewriting history: tables only grow, columns are only added, and every
// batch is a pure append after the existing rows.
package reconcile

import (
	"context"
	"log"

	"marketstats/internal/rows"
	"marketstats/internal/schema"
	"marketstats/internal/sink"
)

// Logger is the minimal logging dependency.
type Logger interface {
	Printf(format string, v ...any)
}

// Reconciler appends batches for one run. The repository is owned by the
// caller, which acquires it once per run and closes it when the run ends.
type Reconciler struct {
	Repo sink.Repository
	Log  Logger
}

// New wires a Reconciler; a nil logger falls back to the stdlib default.
func New(repo sink.Repository, logger Logger) *Reconciler {
	if logger == nil {
		logger = log.Default()
	}
	return &Reconciler{Repo: repo, Log: logger}
}

// Reconcile ensures table can hold s plus ScrapedAt, then appends batch
// after whatever rows are already persisted. It returns the count of newly
// added rows, not the total.
//
// Edge cases:
//   - A missing table is created, not an error.
//   - Tables persisted before the batch timestamp existed get a ScrapedAt
//     column added; their old rows read back with it null. Columns are never
//     removed or retyped.
//   - An empty batch leaves the table untouched and returns 0.
//
// Errors:
//   - Structural failures (create/alter/read) abort this table only; the
//     caller moves on to the next endpoint.
func (r *Reconciler) Reconcile(ctx context.Context, s schema.Schema, table string, batch [][]any) (int64, error) {
	if err := r.Repo.EnsureTable(ctx, tableSpec(table, s)); err != nil {
		return 0, err
	}
	if err := r.Repo.EnsureColumn(ctx, table, sink.ColumnSpec{Name: schema.ScrapedAtColumn, Kind: "timestamp"}); err != nil {
		return 0, err
	}

	columns := rows.Columns(s)
	existing, _, err := r.Repo.LoadRows(ctx, table, columns)
	if err != nil {
		return 0, err
	}

	if len(batch) == 0 {
		r.Log.Printf("stage=reconcile table=%s existing=%d new=0 status=noop", table, len(existing))
		return 0, nil
	}

	added, err := r.Repo.AppendRows(ctx, table, columns, batch)
	if err != nil {
		return added, err
	}
	r.Log.Printf("stage=reconcile table=%s existing=%d new=%d added=%d", table, len(existing), len(batch), added)
	return added, nil
}

// tableSpec derives the sink column layout from a schema: canonical fields
// in declaration order, then ScrapedAt.
func tableSpec(table string, s schema.Schema) sink.TableSpec {
	cols := make([]sink.ColumnSpec, 0, len(s.Fields)+1)
	for _, f := range s.Fields {
		cols = append(cols, sink.ColumnSpec{Name: f.Name, Kind: string(f.Kind)})
	}
	cols = append(cols, sink.ColumnSpec{Name: schema.ScrapedAtColumn, Kind: "timestamp"})
	return sink.TableSpec{Name: table, Columns: cols}
}
