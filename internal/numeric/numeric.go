// Package numeric parses the messy numeric strings found in market-statistics
// payloads into typed numbers.
//
// The two source endpoints mix accounting-style negatives, thousands
// separators, percent signs, and unicode dash variants inconsistently across
// rows. A single tolerant parser is cheaper and more auditable than per-field
// format assumptions, so all numeric coercion in the pipeline goes through
// Parse.
package numeric

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrNoValue is returned by Parse for inputs that carry no value at all:
// empty strings, whitespace, and the null tokens the endpoints emit
// ("na", "n/a", "-", "--", case-insensitive).
//
// Callers that only care about "number or not" can treat ErrNoValue and
// *ParseError the same; callers reporting data quality can distinguish
// "field was blank" from "field was garbage".
var ErrNoValue = errors.New("numeric: no value")

// ParseError reports input that survived cleaning but still failed to parse
// as a float.
type ParseError struct {
	Raw string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("numeric: cannot parse %q", e.Raw)
}

// Number is a parsed numeric value that remembers whether it is integral.
//
// Integral values surface as int64 from Value() so that "123" is not stored
// as 123.0 in the sink.
type Number struct {
	f        float64
	integral bool
}

// Float returns the value as a float64 regardless of integrality.
func (n Number) Float() float64 { return n.f }

// Integral reports whether the value is (within float tolerance) a whole number.
func (n Number) Integral() bool { return n.integral }

// Value returns int64 for integral values and float64 otherwise.
func (n Number) Value() any {
	if n.integral {
		return int64(n.f)
	}
	return n.f
}

// nullTokens are the endpoint spellings of "no value", compared lowercase.
var nullTokens = map[string]struct{}{
	"na":  {},
	"n/a": {},
	"-":   {},
	"--":  {},
}

// cleaner strips thousands separators and percent signs, drops em-dashes,
// and translates the unicode minus sign to ASCII.
var cleaner = strings.NewReplacer(
	",", "",
	"%", "",
	"—", "", // em dash
	"−", "-", // unicode minus
)

// Parse converts a raw field string into a Number.
//
// Cleaning applied before parsing:
//   - thousands separators (",") and percent signs removed
//   - em-dash removed, unicode minus translated to "-"
//   - accounting negatives "(12)" rewritten to "-12"
//
// Errors:
//   - ErrNoValue for empty/whitespace input and recognized null tokens.
//   - *ParseError when the cleaned string is not a valid float.
//
// Parse never panics and never partially succeeds: any failure maps to one of
// the two error shapes above. Collapsing errors to an absent value is the
// caller's decision (the row builder does exactly that).
func Parse(raw string) (Number, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Number{}, ErrNoValue
	}
	if _, ok := nullTokens[strings.ToLower(s)]; ok {
		return Number{}, ErrNoValue
	}

	s = cleaner.Replace(s)
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = "-" + s[1:len(s)-1]
	}
	if s == "" {
		return Number{}, &ParseError{Raw: raw}
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Number{}, &ParseError{Raw: raw}
	}

	return Number{f: f, integral: isIntegral(f)}, nil
}

// isIntegral reports whether f is numerically equal to its own integer
// truncation within relative tolerance, and representable as int64.
func isIntegral(f float64) bool {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return false
	}
	if f < math.MinInt64 || f > math.MaxInt64 {
		return false
	}
	t := math.Trunc(f)
	if f == t {
		return true
	}
	// Mirrors isclose semantics with a 1e-9 relative tolerance.
	return math.Abs(f-t) <= 1e-9*math.Max(math.Abs(f), math.Abs(t))
}
