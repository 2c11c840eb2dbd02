// Package postgres implements sink.Repository on jackc/pgx.
package postgres

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"marketstats/internal/sink"
)

// Repo implements sink.Repository for Postgres.
//
// Numeric columns use double precision: the pipeline's values are market
// statistics where float semantics are acceptable and integral values come in
// as int64 bind parameters, which Postgres widens losslessly.
type Repo struct {
	pool *pgxpool.Pool
	logf func(format string, v ...any)
}

func init() {
	sink.Register("postgres", New)
}

// New connects a pool to cfg.DSN.
func New(ctx context.Context, cfg sink.Config) (sink.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool, logf: log.Printf}, nil
}

func (r *Repo) Close() { r.pool.Close() }

// EnsureTable creates the table when absent; existing tables are untouched.
func (r *Repo) EnsureTable(ctx context.Context, spec sink.TableSpec) error {
	ddl, err := buildCreateTableSQL(spec)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres: create table %s: %w", spec.Name, err)
	}
	return nil
}

// EnsureColumn adds col when the persisted table lacks it. The check goes
// through information_schema rather than ADD COLUMN IF NOT EXISTS so the
// migration decision is explicit and loggable.
func (r *Repo) EnsureColumn(ctx context.Context, table string, col sink.ColumnSpec) error {
	exists, err := r.columnExists(ctx, table, col.Name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	q := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", sqlIdent(table), sqlIdent(col.Name), columnType(col.Kind))
	if _, err := r.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("postgres: add column %s.%s: %w", table, col.Name, err)
	}
	return nil
}

// LoadRows returns all rows in insertion order, projected onto columns.
func (r *Repo) LoadRows(ctx context.Context, table string, columns []string) ([][]any, bool, error) {
	exists, err := r.tableExists(ctx, table)
	if err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, nil
	}

	physical, err := r.tableColumns(ctx, table)
	if err != nil {
		return nil, true, err
	}

	present := make([]string, 0, len(columns))
	for _, c := range columns {
		if physical[strings.ToLower(c)] {
			present = append(present, c)
		}
	}
	if len(present) == 0 {
		return nil, true, nil
	}

	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		joinIdentList(present), sqlIdent(table), sqlIdent("row_id"))
	dbRows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, true, err
	}
	defer dbRows.Close()

	presentIdx := make(map[string]int, len(present))
	for i, c := range present {
		presentIdx[c] = i
	}

	var out [][]any
	for dbRows.Next() {
		scan, err := dbRows.Values()
		if err != nil {
			return nil, true, err
		}
		row := make([]any, len(columns))
		for i, c := range columns {
			if j, ok := presentIdx[c]; ok {
				row[i] = scan[j]
			}
		}
		out = append(out, row)
	}
	return out, true, dbRows.Err()
}

// AppendRows inserts each row independently; a failing row is logged and
// skipped so the rest of the batch still lands.
func (r *Repo) AppendRows(ctx context.Context, table string, columns []string, rowSet [][]any) (int64, error) {
	if len(rowSet) == 0 {
		return 0, nil
	}

	q := buildInsertSQL(table, columns)

	var inserted int64
	for _, row := range rowSet {
		if _, err := r.pool.Exec(ctx, q, row...); err != nil {
			r.logf("stage=append table=%s status=row_skipped err=%v values=%v", table, err, row)
			continue
		}
		inserted++
	}
	return inserted, nil
}

func (r *Repo) tableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`, table,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: table lookup %s: %w", table, err)
	}
	return exists, nil
}

func (r *Repo) columnExists(ctx context.Context, table, column string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1 AND lower(column_name) = lower($2)
		)`, table, column,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: column lookup %s.%s: %w", table, column, err)
	}
	return exists, nil
}

func (r *Repo) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	dbRows, err := r.pool.Query(ctx,
		`SELECT column_name FROM information_schema.columns
		 WHERE table_schema = current_schema() AND table_name = $1`, table)
	if err != nil {
		return nil, fmt.Errorf("postgres: columns of %s: %w", table, err)
	}
	defer dbRows.Close()

	out := map[string]bool{}
	for dbRows.Next() {
		var name string
		if err := dbRows.Scan(&name); err != nil {
			return nil, err
		}
		out[strings.ToLower(name)] = true
	}
	return out, dbRows.Err()
}

func buildCreateTableSQL(spec sink.TableSpec) (string, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return "", fmt.Errorf("postgres: table name is empty")
	}

	parts := []string{`"row_id" bigserial PRIMARY KEY`}
	for _, c := range spec.Columns {
		parts = append(parts, fmt.Sprintf("%s %s", sqlIdent(c.Name), columnType(c.Kind)))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(spec.Name), strings.Join(parts, ",\n  ")), nil
}

func buildInsertSQL(table string, columns []string) string {
	ph := make([]string, 0, len(columns))
	for i := range columns {
		ph = append(ph, fmt.Sprintf("$%d", i+1))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		sqlIdent(table), joinIdentList(columns), strings.Join(ph, ", "))
}

// columnType maps logical column kinds to Postgres types.
func columnType(kind string) string {
	switch kind {
	case "numeric":
		return "double precision"
	case "timestamp":
		return "text"
	default:
		return "text"
	}
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, sqlIdent(c))
	}
	return strings.Join(out, ", ")
}
