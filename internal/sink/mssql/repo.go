// Package mssql implements sink.Repository on the microsoft/go-mssqldb driver.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"marketstats/internal/sink"
)

// Repo implements sink.Repository for SQL Server.
type Repo struct {
	db   *sql.DB
	logf func(format string, v ...any)
}

func init() {
	sink.Register("mssql", New)
}

// New connects to SQL Server at cfg.DSN (sqlserver:// URL or ADO string).
func New(ctx context.Context, cfg sink.Config) (sink.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db, logf: log.Printf}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTable creates the table when absent. SQL Server has no
// CREATE TABLE IF NOT EXISTS, so existence is checked first.
func (r *Repo) EnsureTable(ctx context.Context, spec sink.TableSpec) error {
	exists, err := r.tableExists(ctx, spec.Name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	ddl, err := buildCreateTableSQL(spec)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("mssql: create table %s: %w", spec.Name, err)
	}
	return nil
}

// EnsureColumn adds col when the persisted table lacks it.
func (r *Repo) EnsureColumn(ctx context.Context, table string, col sink.ColumnSpec) error {
	exists, err := r.columnExists(ctx, table, col.Name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	q := fmt.Sprintf("ALTER TABLE %s ADD %s %s", sqlIdent(table), sqlIdent(col.Name), columnType(col.Kind))
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("mssql: add column %s.%s: %w", table, col.Name, err)
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
	dbRows, err := r.db.QueryContext(ctx, q)
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
		scan := make([]any, len(present))
		ptrs := make([]any, len(present))
		for i := range scan {
			ptrs[i] = &scan[i]
		}
		if err := dbRows.Scan(ptrs...); err != nil {
			return nil, true, err
		}

		row := make([]any, len(columns))
		for i, c := range columns {
			if j, ok := presentIdx[c]; ok {
				row[i] = normalizeScanned(scan[j])
			}
		}
		out = append(out, row)
	}
	return out, true, dbRows.Err()
}

// AppendRows inserts each row independently; a failing row is logged with its
// values and skipped.
func (r *Repo) AppendRows(ctx context.Context, table string, columns []string, rowSet [][]any) (int64, error) {
	if len(rowSet) == 0 {
		return 0, nil
	}

	q := buildInsertSQL(table, columns)

	var inserted int64
	for _, row := range rowSet {
		if _, err := r.db.ExecContext(ctx, q, row...); err != nil {
			r.logf("stage=append table=%s status=row_skipped err=%v values=%v", table, err, row)
			continue
		}
		inserted++
	}
	return inserted, nil
}

func (r *Repo) tableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME = @p1`, table,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("mssql: table lookup %s: %w", table, err)
	}
	return n > 0, nil
}

func (r *Repo) columnExists(ctx context.Context, table, column string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM INFORMATION_SCHEMA.COLUMNS
		 WHERE TABLE_NAME = @p1 AND LOWER(COLUMN_NAME) = LOWER(@p2)`, table, column,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("mssql: column lookup %s.%s: %w", table, column, err)
	}
	return n > 0, nil
}

func (r *Repo) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	dbRows, err := r.db.QueryContext(ctx,
		`SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = @p1`, table)
	if err != nil {
		return nil, fmt.Errorf("mssql: columns of %s: %w", table, err)
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
		return "", fmt.Errorf("mssql: table name is empty")
	}

	parts := []string{`[row_id] BIGINT IDENTITY(1,1) PRIMARY KEY`}
	for _, c := range spec.Columns {
		parts = append(parts, fmt.Sprintf("%s %s", sqlIdent(c.Name), columnType(c.Kind)))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", sqlIdent(spec.Name), strings.Join(parts, ",\n  ")), nil
}

func buildInsertSQL(table string, columns []string) string {
	ph := make([]string, 0, len(columns))
	for i := range columns {
		ph = append(ph, fmt.Sprintf("@p%d", i+1))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		sqlIdent(table), joinIdentList(columns), strings.Join(ph, ", "))
}

// columnType maps logical column kinds to SQL Server types.
func columnType(kind string) string {
	switch kind {
	case "numeric":
		return "FLOAT"
	case "timestamp":
		return "NVARCHAR(32)"
	default:
		return "NVARCHAR(255)"
	}
}

func normalizeScanned(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// sqlIdent uses bracket quoting, the SQL Server convention.
func sqlIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, sqlIdent(c))
	}
	return strings.Join(out, ", ")
}
