// Package rows turns raw payload records into typed positional rows aligned to
// a canonical schema.
package rows

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"marketstats/internal/numeric"
	"marketstats/internal/schema"
)

// TimestampLayout is the text form ScrapedAt is persisted in, matching the
// workbook artifact's original format.
const TimestampLayout = "2006-01-02 15:04:05"

// Columns returns the persisted column order for a schema: the canonical
// fields followed by ScrapedAt. Every sink table uses this layout.
func Columns(s schema.Schema) []string {
	return append(s.Columns(), schema.ScrapedAtColumn)
}

// Warning reports a canonical field the payload could not populate. Warnings
// are advisory: the row is still built, with nil in the affected positions.
type Warning struct {
	Field string
	Count int
}

// Build converts raw records into positional rows aligned with Columns(s).
//
// Per field:
//   - text: trimmed string, or nil when the source value is null/absent
//   - numeric: numeric.Parse on the stringified value; any parse failure
//     collapses to nil here (the normalizer's error shapes stop at this
//     boundary)
//
// Canonical fields absent from a record are present in the row as nil, never
// omitted: row shape is always the full canonical schema. Every row carries
// scrapedAt formatted as TimestampLayout; one batch timestamp is shared by all
// rows of a fetch cycle.
func Build(recs []map[string]any, s schema.Schema, fieldMap map[string]string, scrapedAt time.Time) ([][]any, []Warning) {
	cols := s.Columns()
	colIdx := make(map[string]int, len(cols))
	for i, c := range cols {
		colIdx[c] = i
	}

	missing := make([]int, len(cols))

	out := make([][]any, 0, len(recs))
	stamp := scrapedAt.Format(TimestampLayout)

	for _, rec := range recs {
		row := make([]any, len(cols)+1)
		filled := make([]bool, len(cols))

		for raw, canon := range fieldMap {
			i, ok := colIdx[canon]
			if !ok {
				continue
			}
			v, present := rec[raw]
			if !present {
				continue
			}
			kind, _ := s.KindOf(canon)
			row[i] = coerce(v, kind)
			filled[i] = true
		}

		for i := range cols {
			if !filled[i] {
				missing[i]++
			}
		}

		row[len(cols)] = stamp
		out = append(out, row)
	}

	var warns []Warning
	for i, n := range missing {
		if n > 0 {
			warns = append(warns, Warning{Field: cols[i], Count: n})
		}
	}
	return out, warns
}

// coerce applies the schema kind to one raw value.
func coerce(v any, kind schema.Kind) any {
	if v == nil {
		return nil
	}

	if kind == schema.Numeric {
		n, err := numeric.Parse(stringify(v))
		if err != nil {
			return nil
		}
		return n.Value()
	}

	s := strings.TrimSpace(stringify(v))
	if s == "" {
		return nil
	}
	return s
}

// stringify renders a raw JSON value the way the numeric parser and text
// trimming expect. json.Number keeps its literal text.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(t)
	}
}
