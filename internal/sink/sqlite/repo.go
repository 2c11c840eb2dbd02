// Package sqlite implements sink.Repository on modernc.org/sqlite.
//
// Storage notes:
//   - numeric columns use NUMERIC affinity so integral values stay integers
//     and decimals stay REAL
//   - ScrapedAt is stored as TEXT in its "YYYY-MM-DD HH:MM:SS" form, matching
//     the workbook artifact
//   - every table carries a hidden row_id INTEGER PRIMARY KEY so LoadRows can
//     return rows in insertion order
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	_ "modernc.org/sqlite"

	"marketstats/internal/sink"
)

// Repo implements sink.Repository for SQLite.
type Repo struct {
	db   *sql.DB
	logf func(format string, v ...any)
}

func init() {
	sink.Register("sqlite", New)
}

// New opens (creating if needed) the SQLite database at cfg.DSN.
func New(ctx context.Context, cfg sink.Config) (sink.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
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

// EnsureTable creates the table when absent. Creation is idempotent; an
// existing table is never altered here (EnsureColumn handles migration).
func (r *Repo) EnsureTable(ctx context.Context, spec sink.TableSpec) error {
	ddl, err := buildCreateTableSQL(spec)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlite: create table %s: %w", spec.Name, err)
	}
	return nil
}

// EnsureColumn adds col to the table when missing (one-directional migration).
func (r *Repo) EnsureColumn(ctx context.Context, table string, col sink.ColumnSpec) error {
	existing, err := r.tableColumns(ctx, table)
	if err != nil {
		return err
	}
	if existing[strings.ToLower(col.Name)] {
		return nil
	}

	q := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", sqlIdent(table), sqlIdent(col.Name), columnType(col.Kind))
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("sqlite: add column %s.%s: %w", table, col.Name, err)
	}
	return nil
}

// LoadRows returns all rows in insertion order, projected onto columns.
// Columns the physical table lacks come back as nil.
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
		return nil, false, err
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

// AppendRows inserts each row independently. A failing row is logged with its
// values and skipped; the rest of the batch continues. Returns the number of
// rows actually inserted.
func (r *Repo) AppendRows(ctx context.Context, table string, columns []string, rowSet [][]any) (int64, error) {
	if len(rowSet) == 0 {
		return 0, nil
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		sqlIdent(table),
		joinIdentList(columns),
		strings.TrimRight(strings.Repeat("?,", len(columns)), ","),
	)

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
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: table lookup %s: %w", table, err)
	}
	return n > 0, nil
}

// tableColumns returns the lowercase names of the table's physical columns.
func (r *Repo) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	q := fmt.Sprintf("PRAGMA table_info(%s)", sqlIdent(table))
	dbRows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlite: table_info %s: %w", table, err)
	}
	defer dbRows.Close()

	out := map[string]bool{}
	for dbRows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := dbRows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		out[strings.ToLower(name)] = true
	}
	return out, dbRows.Err()
}

// buildCreateTableSQL generates idempotent DDL for one table, including the
// hidden row_id ordering key.
func buildCreateTableSQL(spec sink.TableSpec) (string, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return "", fmt.Errorf("sqlite: table name is empty")
	}

	parts := []string{`"row_id" INTEGER PRIMARY KEY AUTOINCREMENT`}
	for _, c := range spec.Columns {
		parts = append(parts, fmt.Sprintf("%s %s", sqlIdent(c.Name), columnType(c.Kind)))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(spec.Name), strings.Join(parts, ",\n  ")), nil
}

// columnType maps logical column kinds to SQLite types.
func columnType(kind string) string {
	switch kind {
	case "numeric":
		return "NUMERIC"
	case "timestamp":
		return "TEXT"
	default:
		return "TEXT"
	}
}

// normalizeScanned converts driver-specific scan results to plain values.
// modernc.org/sqlite can return TEXT as []byte depending on declared affinity.
func normalizeScanned(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
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
