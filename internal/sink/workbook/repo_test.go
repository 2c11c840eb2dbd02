package workbook

import (
	"context"
	"path/filepath"
	"testing"

	"marketstats/internal/sink"
)

func newTestRepo(t *testing.T) (*Repo, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "out.xlsx")
	repo, err := New(context.Background(), sink.Config{Kind: "workbook", DSN: path})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	t.Cleanup(repo.Close)
	return repo.(*Repo), path
}

func indexSpec() sink.TableSpec {
	return sink.TableSpec{
		Name: "DailyActivity_1",
		Columns: []sink.ColumnSpec{
			{Name: "Name", Kind: "text"},
			{Name: "Close", Kind: "numeric"},
			{Name: "ScrapedAt", Kind: "timestamp"},
		},
	}
}

func TestEnsureTable_WritesHeaderRow(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepo(t)
	ctx := context.Background()

	if err := repo.EnsureTable(ctx, indexSpec()); err != nil {
		t.Fatalf("EnsureTable() err=%v", err)
	}

	rows, found, err := repo.LoadRows(ctx, "DailyActivity_1", []string{"Name", "Close", "ScrapedAt"})
	if err != nil || !found {
		t.Fatalf("LoadRows() rows=%v found=%v err=%v", rows, found, err)
	}
	if len(rows) != 0 {
		t.Fatalf("fresh sheet has %d data rows, want 0", len(rows))
	}
}

func TestLoadRows_MissingSheet(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepo(t)

	_, found, err := repo.LoadRows(context.Background(), "nope", []string{"a"})
	if err != nil {
		t.Fatalf("LoadRows() err=%v", err)
	}
	if found {
		t.Fatal("LoadRows() found=true for missing sheet")
	}
}

func TestAppendRows_AccumulatesAcrossBatches(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepo(t)
	ctx := context.Background()
	cols := []string{"Name", "Close", "ScrapedAt"}

	if err := repo.EnsureTable(ctx, indexSpec()); err != nil {
		t.Fatalf("EnsureTable() err=%v", err)
	}

	n, err := repo.AppendRows(ctx, "DailyActivity_1", cols, [][]any{
		{"KSE100", int64(45200), "2026-08-20 17:30:00"},
	})
	if err != nil || n != 1 {
		t.Fatalf("AppendRows() n=%d err=%v", n, err)
	}
	n, err = repo.AppendRows(ctx, "DailyActivity_1", cols, [][]any{
		{"KSE100", int64(45350), "2026-08-21 17:30:00"},
		{"KMI30", nil, "2026-08-21 17:30:00"},
	})
	if err != nil || n != 2 {
		t.Fatalf("AppendRows() n=%d err=%v", n, err)
	}

	rows, _, err := repo.LoadRows(ctx, "DailyActivity_1", cols)
	if err != nil {
		t.Fatalf("LoadRows() err=%v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("LoadRows() returned %d rows, want 3", len(rows))
	}
	if rows[0][2] != "2026-08-20 17:30:00" || rows[2][0] != "KMI30" {
		t.Fatalf("rows out of order: %v", rows)
	}
	if rows[2][1] != nil {
		t.Fatalf("nil cell read back as %v, want nil", rows[2][1])
	}
}

func TestAppendRows_EmptyBatchIsNoop(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepo(t)
	ctx := context.Background()

	if err := repo.EnsureTable(ctx, indexSpec()); err != nil {
		t.Fatalf("EnsureTable() err=%v", err)
	}
	n, err := repo.AppendRows(ctx, "DailyActivity_1", []string{"Name"}, nil)
	if err != nil || n != 0 {
		t.Fatalf("AppendRows(empty) n=%d err=%v", n, err)
	}
}

func TestEnsureColumn_ExtendsHeader(t *testing.T) {
	t.Parallel()

	repo, _ := newTestRepo(t)
	ctx := context.Background()

	spec := sink.TableSpec{
		Name: "DailyActivity_2",
		Columns: []sink.ColumnSpec{
			{Name: "SECTOR", Kind: "text"},
			{Name: "VOLUME", Kind: "numeric"},
		},
	}
	if err := repo.EnsureTable(ctx, spec); err != nil {
		t.Fatalf("EnsureTable() err=%v", err)
	}
	if _, err := repo.AppendRows(ctx, "DailyActivity_2", []string{"SECTOR", "VOLUME"}, [][]any{
		{"BANKS", int64(120000)},
	}); err != nil {
		t.Fatalf("AppendRows() err=%v", err)
	}

	if err := repo.EnsureColumn(ctx, "DailyActivity_2", sink.ColumnSpec{Name: "ScrapedAt", Kind: "timestamp"}); err != nil {
		t.Fatalf("EnsureColumn() err=%v", err)
	}
	header, err := repo.header("DailyActivity_2")
	if err != nil {
		t.Fatalf("header() err=%v", err)
	}
	if len(header) != 3 || header[2] != "ScrapedAt" {
		t.Fatalf("header=%v, want SECTOR VOLUME ScrapedAt", header)
	}

	// Pre-migration rows read back with nil for the new column.
	rows, _, err := repo.LoadRows(ctx, "DailyActivity_2", []string{"SECTOR", "VOLUME", "ScrapedAt"})
	if err != nil {
		t.Fatalf("LoadRows() err=%v", err)
	}
	if len(rows) != 1 || rows[0][2] != nil {
		t.Fatalf("rows=%v, want one row with nil ScrapedAt", rows)
	}
}

func TestWorkbookPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	repo, path := newTestRepo(t)
	ctx := context.Background()

	if err := repo.EnsureTable(ctx, indexSpec()); err != nil {
		t.Fatalf("EnsureTable() err=%v", err)
	}
	if _, err := repo.AppendRows(ctx, "DailyActivity_1", []string{"Name"}, [][]any{{"KSE100"}}); err != nil {
		t.Fatalf("AppendRows() err=%v", err)
	}
	repo.Close()

	again, err := New(ctx, sink.Config{Kind: "workbook", DSN: path})
	if err != nil {
		t.Fatalf("reopen err=%v", err)
	}
	defer again.Close()

	rows, found, err := again.LoadRows(ctx, "DailyActivity_1", []string{"Name"})
	if err != nil || !found || len(rows) != 1 || rows[0][0] != "KSE100" {
		t.Fatalf("reopened rows=%v found=%v err=%v", rows, found, err)
	}
}
