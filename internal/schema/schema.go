// Package schema defines the canonical column sets rows are normalized into.
//
// Each configured endpoint corresponds to exactly one schema. Schemas are fixed
// at build time and never inferred from payloads: the canonical schema, not the
// source field names, defines what is kept.
package schema

import "fmt"

// Kind is the logical type of a canonical field.
type Kind string

const (
	Text    Kind = "text"
	Numeric Kind = "numeric"
)

// ScrapedAtColumn is the batch-timestamp column the row builder appends to
// every schema. It is never sourced from a payload.
const ScrapedAtColumn = "ScrapedAt"

// Field is one canonical column.
type Field struct {
	Name string
	Kind Kind
}

// Keyword binds a lowercase substring of a raw source field name to a
// canonical field. Keywords are applied in slice order, so more specific
// substrings must come before substrings they contain (e.g. "close" before
// "lo" would matter if "lo" were a keyword; the concrete lists below are
// ordered the way the upstream feeds require).
type Keyword struct {
	Substring string
	Field     string
}

// Schema is a named, ordered canonical column set plus its field-resolution
// hints.
type Schema struct {
	// Name identifies the schema in config ("index_summary", "sector_activity").
	Name string

	Fields []Field

	// Exact maps known raw API spellings directly to canonical fields.
	Exact map[string]string

	// Keywords is the ordered substring fallback for raw names Exact does not
	// know about.
	Keywords []Keyword
}

// Columns returns the canonical field names in declaration order, without
// ScrapedAt.
func (s Schema) Columns() []string {
	out := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		out = append(out, f.Name)
	}
	return out
}

// KindOf returns the kind of a canonical field and whether the field exists.
func (s Schema) KindOf(name string) (Kind, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Kind, true
		}
	}
	return "", false
}

// IndexSummary is the schema for the exchange-wide index snapshot feed
// (chartind). The feed spells its fields kse_index_*.
func IndexSummary() Schema {
	return Schema{
		Name: "index_summary",
		Fields: []Field{
			{Name: "Name", Kind: Text},
			{Name: "Open", Kind: Numeric},
			{Name: "High", Kind: Numeric},
			{Name: "Low", Kind: Numeric},
			{Name: "Close", Kind: Numeric},
			{Name: "Value", Kind: Numeric},
			{Name: "Change", Kind: Numeric},
		},
		Exact: map[string]string{
			"kse_index_type":   "Name",
			"kse_index_open":   "Open",
			"kse_index_high":   "High",
			"kse_index_low":    "Low",
			"kse_index_close":  "Close",
			"kse_index_value":  "Value",
			"kse_index_change": "Change",
		},
		Keywords: []Keyword{
			{Substring: "type", Field: "Name"},
			{Substring: "name", Field: "Name"},
			{Substring: "open", Field: "Open"},
			{Substring: "high", Field: "High"},
			{Substring: "low", Field: "Low"},
			{Substring: "close", Field: "Close"},
			{Substring: "value", Field: "Value"},
			{Substring: "change", Field: "Change"},
		},
	}
}

// SectorActivity is the schema for the per-sector activity feed (chartact).
// That feed has no stable spelling at all, so it has no exact dictionary and
// relies entirely on the keyword fallback.
func SectorActivity() Schema {
	return Schema{
		Name: "sector_activity",
		Fields: []Field{
			{Name: "SECTOR", Kind: Text},
			{Name: "CODE", Kind: Text},
			{Name: "NAME", Kind: Text},
			{Name: "OPEN", Kind: Numeric},
			{Name: "HIGH", Kind: Numeric},
			{Name: "LOW", Kind: Numeric},
			{Name: "CLOSE", Kind: Numeric},
			{Name: "VOLUME", Kind: Numeric},
			{Name: "CHANGE", Kind: Numeric},
		},
		Keywords: []Keyword{
			{Substring: "sector", Field: "SECTOR"},
			{Substring: "code", Field: "CODE"},
			{Substring: "name", Field: "NAME"},
			{Substring: "open", Field: "OPEN"},
			{Substring: "high", Field: "HIGH"},
			{Substring: "low", Field: "LOW"},
			{Substring: "close", Field: "CLOSE"},
			{Substring: "vol", Field: "VOLUME"},
			{Substring: "change", Field: "CHANGE"},
		},
	}
}

// ByName resolves a schema identifier from config.
//
// Errors:
//   - Returns an error for unknown names; config validation reports this
//     before a run starts, so hitting it at runtime indicates a config edit
//     raced the process.
func ByName(name string) (Schema, error) {
	switch name {
	case "index_summary":
		return IndexSummary(), nil
	case "sector_activity":
		return SectorActivity(), nil
	default:
		return Schema{}, fmt.Errorf("schema: unknown schema %q", name)
	}
}
