// Package mapper resolves raw payload field names onto a canonical schema.
//
// Source field names and their order are not stable across runs, so the
// mapping is recomputed per fetch. Resolution is two-phase and deterministic:
// an exact-dictionary pass, then an ordered keyword scan over only the
// canonical fields the first pass left unclaimed.
package mapper

import (
	"strings"

	"marketstats/internal/schema"
)

// Resolve maps raw field names to canonical field names for one schema.
//
// Rules:
//   - Pass 1: exact lookups from the schema's static dictionary.
//   - Pass 2: for each still-unmapped raw name (in input order), the schema's
//     keywords are scanned in order; a case-insensitive substring hit binds the
//     raw name to the keyword's canonical field.
//   - At most one raw field maps to each canonical field; the first claimant
//     wins and later candidates are ignored.
//   - Raw fields matching nothing are dropped silently: the canonical schema,
//     not the payload, defines what is kept.
func Resolve(rawFields []string, s schema.Schema) map[string]string {
	out := make(map[string]string, len(rawFields))
	claimed := make(map[string]bool, len(s.Fields))

	for _, raw := range rawFields {
		canon, ok := s.Exact[raw]
		if !ok || claimed[canon] {
			continue
		}
		out[raw] = canon
		claimed[canon] = true
	}

	for _, raw := range rawFields {
		if _, done := out[raw]; done {
			continue
		}
		low := strings.ToLower(raw)
		for _, kw := range s.Keywords {
			if claimed[kw.Field] {
				continue
			}
			if strings.Contains(low, kw.Substring) {
				out[raw] = kw.Field
				claimed[kw.Field] = true
				break
			}
		}
	}

	return out
}
