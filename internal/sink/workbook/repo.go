// Package workbook implements sink.Repository on an xlsx workbook, one sheet
// per logical table. This is the document-sink variant: appends are full-sheet
// rewrites of existing ++ new, matching the artifact the pipeline historically
// produced.
package workbook

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"

	"marketstats/internal/sink"
)

// Repo implements sink.Repository for a single workbook file.
//
// The workbook handle is held open for the whole run and written back to disk
// after every mutation, so a crash mid-run loses at most the current table.
type Repo struct {
	path string
	f    *excelize.File

	// fresh marks a workbook we created ourselves; the default empty sheet
	// excelize starts with is dropped once a real sheet exists.
	fresh bool
}

func init() {
	sink.Register("workbook", New)
}

// New opens the workbook at cfg.DSN, creating it lazily if absent.
func New(ctx context.Context, cfg sink.Config) (sink.Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("workbook: missing path (sink.dsn)")
	}

	if _, err := os.Stat(cfg.DSN); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("workbook: stat %s: %w", cfg.DSN, err)
		}
		return &Repo{path: cfg.DSN, f: excelize.NewFile(), fresh: true}, nil
	}

	f, err := excelize.OpenFile(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("workbook: open %s: %w", cfg.DSN, err)
	}
	return &Repo{path: cfg.DSN, f: f}, nil
}

func (r *Repo) Close() { _ = r.f.Close() }

// EnsureTable creates the sheet with a header row when absent.
func (r *Repo) EnsureTable(ctx context.Context, spec sink.TableSpec) error {
	if r.sheetExists(spec.Name) {
		return nil
	}

	if _, err := r.f.NewSheet(spec.Name); err != nil {
		return fmt.Errorf("workbook: new sheet %s: %w", spec.Name, err)
	}
	header := make([]string, 0, len(spec.Columns))
	for _, c := range spec.Columns {
		header = append(header, c.Name)
	}
	if err := r.writeRow(spec.Name, 1, toAnySlice(header)); err != nil {
		return err
	}
	r.dropDefaultSheet()
	return r.save()
}

// EnsureColumn extends the sheet's header row when the column is missing.
// Existing data rows keep their width; the extended column reads back as nil
// for them.
func (r *Repo) EnsureColumn(ctx context.Context, table string, col sink.ColumnSpec) error {
	if !r.sheetExists(table) {
		return nil
	}
	header, err := r.header(table)
	if err != nil {
		return err
	}
	for _, h := range header {
		if h == col.Name {
			return nil
		}
	}

	cell, err := excelize.CoordinatesToCellName(len(header)+1, 1)
	if err != nil {
		return err
	}
	if err := r.f.SetCellValue(table, cell, col.Name); err != nil {
		return fmt.Errorf("workbook: extend header %s: %w", table, err)
	}
	return r.save()
}

// LoadRows reads the sheet's data rows in order, projected onto columns via
// the header row. Cells come back as strings (the workbook's native value
// form); absent cells and columns are nil.
func (r *Repo) LoadRows(ctx context.Context, table string, columns []string) ([][]any, bool, error) {
	if !r.sheetExists(table) {
		return nil, false, nil
	}

	all, err := r.f.GetRows(table)
	if err != nil {
		return nil, true, fmt.Errorf("workbook: read sheet %s: %w", table, err)
	}
	if len(all) == 0 {
		return nil, true, nil
	}

	headerIdx := make(map[string]int, len(all[0]))
	for i, h := range all[0] {
		headerIdx[h] = i
	}

	out := make([][]any, 0, len(all)-1)
	for _, raw := range all[1:] {
		row := make([]any, len(columns))
		for i, c := range columns {
			j, ok := headerIdx[c]
			if !ok || j >= len(raw) || raw[j] == "" {
				continue
			}
			row[i] = raw[j]
		}
		out = append(out, row)
	}
	return out, true, nil
}

// AppendRows rewrites the sheet as header + existing + new and returns the
// number of new rows. The rewrite keeps prior history byte-for-byte in sheet
// order; nothing is deduplicated or deleted.
func (r *Repo) AppendRows(ctx context.Context, table string, columns []string, rowSet [][]any) (int64, error) {
	if len(rowSet) == 0 {
		return 0, nil
	}

	existing, found, err := r.LoadRows(ctx, table, columns)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("workbook: sheet %s does not exist", table)
	}

	if err := r.f.DeleteSheet(table); err != nil {
		return 0, fmt.Errorf("workbook: reset sheet %s: %w", table, err)
	}
	if _, err := r.f.NewSheet(table); err != nil {
		return 0, fmt.Errorf("workbook: recreate sheet %s: %w", table, err)
	}

	if err := r.writeRow(table, 1, toAnySlice(columns)); err != nil {
		return 0, err
	}
	line := 2
	for _, row := range append(existing, rowSet...) {
		if err := r.writeRow(table, line, row); err != nil {
			return 0, err
		}
		line++
	}

	if err := r.save(); err != nil {
		return 0, err
	}
	return int64(len(rowSet)), nil
}

func (r *Repo) sheetExists(name string) bool {
	idx, err := r.f.GetSheetIndex(name)
	return err == nil && idx >= 0
}

func (r *Repo) header(table string) ([]string, error) {
	all, err := r.f.GetRows(table)
	if err != nil {
		return nil, fmt.Errorf("workbook: read sheet %s: %w", table, err)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], nil
}

func (r *Repo) writeRow(sheet string, line int, values []any) error {
	for i, v := range values {
		if v == nil {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(i+1, line)
		if err != nil {
			return err
		}
		if err := r.f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("workbook: write %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

// dropDefaultSheet removes excelize's initial "Sheet1" from workbooks this
// process created, once at least one real sheet exists.
func (r *Repo) dropDefaultSheet() {
	if !r.fresh {
		return
	}
	if idx, err := r.f.GetSheetIndex("Sheet1"); err == nil && idx >= 0 && r.f.SheetCount > 1 {
		_ = r.f.DeleteSheet("Sheet1")
		r.fresh = false
	}
}

func (r *Repo) save() error {
	if err := r.f.SaveAs(r.path); err != nil {
		return fmt.Errorf("workbook: save %s: %w", r.path, err)
	}
	return nil
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
