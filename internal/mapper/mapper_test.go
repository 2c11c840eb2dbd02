package mapper

import (
	"reflect"
	"testing"

	"marketstats/internal/schema"
)

func TestResolve_ExactDictionary(t *testing.T) {
	t.Parallel()

	got := Resolve([]string{"kse_index_type", "kse_index_open"}, schema.IndexSummary())
	want := map[string]string{
		"kse_index_type": "Name",
		"kse_index_open": "Open",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Resolve()=%v, want %v", got, want)
	}
}

func TestResolve_KeywordFallback(t *testing.T) {
	t.Parallel()

	got := Resolve(
		[]string{"mkt_sector_desc", "scrip_code", "company_name", "day_open", "day_high", "day_low", "day_close", "total_volume", "net_change"},
		schema.SectorActivity(),
	)
	want := map[string]string{
		"mkt_sector_desc": "SECTOR",
		"scrip_code":      "CODE",
		"company_name":    "NAME",
		"day_open":        "OPEN",
		"day_high":        "HIGH",
		"day_low":         "LOW",
		"day_close":       "CLOSE",
		"total_volume":    "VOLUME",
		"net_change":      "CHANGE",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Resolve()=%v, want %v", got, want)
	}
}

// TestResolve_FirstMatchWins verifies the claim semantics: once a canonical
// field is bound, later raw candidates for the same field are dropped.
func TestResolve_FirstMatchWins(t *testing.T) {
	t.Parallel()

	got := Resolve([]string{"day_high", "intraday_high", "weekly_high"}, schema.SectorActivity())
	want := map[string]string{"day_high": "HIGH"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Resolve()=%v, want %v", got, want)
	}
}

// TestResolve_ExactClaimsBeforeKeywords verifies the exact pass runs to
// completion before any keyword binding, so a keyword hit on an earlier raw
// field cannot steal a canonical field an exact spelling claims later.
func TestResolve_ExactClaimsBeforeKeywords(t *testing.T) {
	t.Parallel()

	got := Resolve([]string{"some_open_estimate", "kse_index_open"}, schema.IndexSummary())
	want := map[string]string{"kse_index_open": "Open"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Resolve()=%v, want %v", got, want)
	}
}

func TestResolve_UnmappedFieldsDropped(t *testing.T) {
	t.Parallel()

	got := Resolve([]string{"irrelevant", "another_junk_field"}, schema.IndexSummary())
	if len(got) != 0 {
		t.Fatalf("Resolve()=%v, want empty", got)
	}
}

func TestResolve_CaseInsensitiveKeywords(t *testing.T) {
	t.Parallel()

	got := Resolve([]string{"TOTAL_VOLUME"}, schema.SectorActivity())
	want := map[string]string{"TOTAL_VOLUME": "VOLUME"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Resolve()=%v, want %v", got, want)
	}
}
