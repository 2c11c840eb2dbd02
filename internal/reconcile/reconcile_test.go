package reconcile

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"marketstats/internal/schema"
	"marketstats/internal/sink"
)

// fakeRepo is an in-memory sink.Repository with append semantics.
type fakeRepo struct {
	tables  map[string][][]any
	specs   map[string]sink.TableSpec
	ensured []sink.ColumnSpec

	ensureTableErr error
	ensureColErr   error
	appendErr      error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		tables: map[string][][]any{},
		specs:  map[string]sink.TableSpec{},
	}
}

func (f *fakeRepo) Close() {}

func (f *fakeRepo) EnsureTable(ctx context.Context, spec sink.TableSpec) error {
	if f.ensureTableErr != nil {
		return f.ensureTableErr
	}
	if _, ok := f.tables[spec.Name]; !ok {
		f.tables[spec.Name] = nil
		f.specs[spec.Name] = spec
	}
	return nil
}

func (f *fakeRepo) EnsureColumn(ctx context.Context, table string, col sink.ColumnSpec) error {
	if f.ensureColErr != nil {
		return f.ensureColErr
	}
	f.ensured = append(f.ensured, col)
	return nil
}

func (f *fakeRepo) LoadRows(ctx context.Context, table string, columns []string) ([][]any, bool, error) {
	rows, ok := f.tables[table]
	return rows, ok, nil
}

func (f *fakeRepo) AppendRows(ctx context.Context, table string, columns []string, rowSet [][]any) (int64, error) {
	if f.appendErr != nil {
		return 0, f.appendErr
	}
	f.tables[table] = append(f.tables[table], rowSet...)
	return int64(len(rowSet)), nil
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

func TestReconcile_AppendsBatchesInOrder(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	r := New(repo, nopLogger{})
	ctx := context.Background()
	s := schema.IndexSummary()

	b1 := [][]any{
		{"KSE100", int64(1), int64(2), int64(3), int64(4), nil, int64(-1), "2026-08-20 17:30:00"},
	}
	b2 := [][]any{
		{"KSE100", int64(5), int64(6), int64(7), int64(8), nil, int64(1), "2026-08-21 17:30:00"},
		{"KMI30", nil, nil, nil, nil, nil, nil, "2026-08-21 17:30:00"},
	}

	n1, err := r.Reconcile(ctx, s, "DailyActivity_1", b1)
	if err != nil || n1 != 1 {
		t.Fatalf("Reconcile(b1) n=%d err=%v", n1, err)
	}
	n2, err := r.Reconcile(ctx, s, "DailyActivity_1", b2)
	if err != nil || n2 != 2 {
		t.Fatalf("Reconcile(b2) n=%d err=%v", n2, err)
	}

	want := append(append([][]any{}, b1...), b2...)
	if !reflect.DeepEqual(repo.tables["DailyActivity_1"], want) {
		t.Fatalf("persisted=%v, want b1 ++ b2", repo.tables["DailyActivity_1"])
	}
}

func TestReconcile_EmptyBatchLeavesTableUnchanged(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	r := New(repo, nopLogger{})
	ctx := context.Background()
	s := schema.IndexSummary()

	if _, err := r.Reconcile(ctx, s, "t", [][]any{{"KSE100", nil, nil, nil, nil, nil, nil, "x"}}); err != nil {
		t.Fatalf("seed err=%v", err)
	}
	before := append([][]any{}, repo.tables["t"]...)

	n, err := r.Reconcile(ctx, s, "t", nil)
	if err != nil || n != 0 {
		t.Fatalf("Reconcile(empty) n=%d err=%v", n, err)
	}
	if !reflect.DeepEqual(repo.tables["t"], before) {
		t.Fatalf("empty batch mutated table: %v", repo.tables["t"])
	}
}

func TestReconcile_EnsuresScrapedAtColumn(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	r := New(repo, nopLogger{})

	if _, err := r.Reconcile(context.Background(), schema.SectorActivity(), "DailyActivity_2", nil); err != nil {
		t.Fatalf("Reconcile() err=%v", err)
	}

	if len(repo.ensured) != 1 {
		t.Fatalf("EnsureColumn calls=%d, want 1", len(repo.ensured))
	}
	got := repo.ensured[0]
	if got.Name != schema.ScrapedAtColumn || got.Kind != "timestamp" {
		t.Fatalf("EnsureColumn got %+v", got)
	}
}

func TestReconcile_TableSpecCoversSchemaPlusScrapedAt(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	r := New(repo, nopLogger{})

	if _, err := r.Reconcile(context.Background(), schema.IndexSummary(), "DailyActivity_1", nil); err != nil {
		t.Fatalf("Reconcile() err=%v", err)
	}

	spec := repo.specs["DailyActivity_1"]
	var names []string
	for _, c := range spec.Columns {
		names = append(names, c.Name)
	}
	want := []string{"Name", "Open", "High", "Low", "Close", "Value", "Change", "ScrapedAt"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("table columns=%v, want %v", names, want)
	}
	last := spec.Columns[len(spec.Columns)-1]
	if last.Kind != "timestamp" {
		t.Fatalf("ScrapedAt kind=%s, want timestamp", last.Kind)
	}
	if spec.Columns[1].Kind != "numeric" || spec.Columns[0].Kind != "text" {
		t.Fatalf("field kinds not carried: %+v", spec.Columns)
	}
}

func TestReconcile_StructuralFailureAborts(t *testing.T) {
	t.Parallel()

	boom := errors.New("no ALTER for you")
	repo := newFakeRepo()
	repo.ensureColErr = boom
	r := New(repo, nopLogger{})

	_, err := r.Reconcile(context.Background(), schema.IndexSummary(), "t", [][]any{{"x"}})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v, want %v", err, boom)
	}
	if len(repo.tables["t"]) != 0 {
		t.Fatalf("rows appended despite structural failure")
	}
}
