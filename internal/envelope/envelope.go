// Package envelope locates the record list inside an ambiguously-shaped JSON
// payload.
//
// The upstream endpoints wrap their data three different ways: an ASP.NET-style
// {"d": [...]} envelope, a bare array, or an object with exactly one
// list-valued field. The shape is decided once here and tagged on the result;
// nothing downstream re-inspects the payload.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Shape tags how the record list was located.
type Shape int

const (
	// None means no usable list of record objects was found. This is a
	// normal, reportable outcome, not an error.
	None Shape = iota

	// Envelope means the payload was an object with a "d" key holding the list.
	Envelope

	// Array means the payload itself was the list.
	Array

	// Scanned means the payload was an object and the first list-of-objects
	// value (in document order) was taken.
	Scanned
)

func (s Shape) String() string {
	switch s {
	case Envelope:
		return "envelope"
	case Array:
		return "array"
	case Scanned:
		return "scanned"
	default:
		return "none"
	}
}

// Result is the unwrapped payload.
type Result struct {
	Shape   Shape
	Records []map[string]any

	// Fields holds the raw field names in document order: the keys of the
	// first record, extended by keys later records introduce, each in first
	// appearance order. Go maps randomize iteration order, so this slice is
	// the only stable view of the payload's own field ordering; the field
	// mapper's "first match wins" semantics depend on it.
	Fields []string
}

// Unwrap extracts the record objects from a raw JSON body.
//
// Resolution order:
//  1. object with a list-valued "d" key: the list decides the outcome
//     (Envelope when it is a non-empty list of objects, None otherwise —
//     other list fields are never consulted)
//  2. bare list of objects
//  3. object scanned in document order for the first list-of-objects value
//  4. otherwise Shape None
//
// Numbers decode as json.Number so string/number source inconsistencies reach
// the numeric parser unharmed. null elements inside a candidate list are
// skipped; a list containing non-object elements is not a usable candidate.
//
// Errors:
//   - Returns an error only for malformed JSON. A well-formed payload with no
//     usable list is (Result{Shape: None}, nil).
func Unwrap(raw []byte) (Result, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return Result{Shape: None}, nil
		}
		return Result{}, fmt.Errorf("envelope: read first token: %w", err)
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		// Scalar root: well-formed, but carries no records.
		return Result{Shape: None}, nil
	}

	switch delim {
	case '[':
		list, err := decodeRecordList(dec)
		if err != nil {
			return Result{}, err
		}
		if !list.usable() {
			return Result{Shape: None}, nil
		}
		return Result{Shape: Array, Records: list.records, Fields: list.fields}, nil

	case '{':
		return unwrapObject(dec)

	default:
		return Result{}, fmt.Errorf("envelope: unsupported root delimiter %q", delim)
	}
}

// unwrapObject walks a root object's fields in document order, remembering the
// "d" candidate and the first other list-of-objects candidate. Non-list values
// are skipped token-by-token without materializing them.
//
// A list-valued "d" always decides the outcome: an empty or poisoned "d" list
// means the endpoint published an envelope with no data, and scanning other
// fields would pick up whatever unrelated list the payload happens to carry.
// Only a non-list "d" leaves the document-order scan in play.
func unwrapObject(dec *json.Decoder) (Result, error) {
	var dList, firstList recordList
	var dIsList bool

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return Result{}, fmt.Errorf("envelope: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return Result{}, fmt.Errorf("envelope: object key not a string (got %T)", keyTok)
		}

		valTok, err := dec.Token()
		if err != nil {
			return Result{}, fmt.Errorf("envelope: read value of %q: %w", key, err)
		}

		d, isDelim := valTok.(json.Delim)
		if !isDelim || d != '[' {
			if err := skipValueFromFirstToken(dec, valTok); err != nil {
				return Result{}, err
			}
			continue
		}

		list, err := decodeRecordList(dec)
		if err != nil {
			return Result{}, err
		}
		switch {
		case key == "d":
			dList = list
			dIsList = true
		case list.usable() && !firstList.usable():
			firstList = list
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return Result{}, err
	}

	if dIsList {
		if dList.usable() {
			return Result{Shape: Envelope, Records: dList.records, Fields: dList.fields}, nil
		}
		return Result{Shape: None}, nil
	}
	if firstList.usable() {
		return Result{Shape: Scanned, Records: firstList.records, Fields: firstList.fields}, nil
	}
	return Result{Shape: None}, nil
}

// recordList is a parsed candidate list plus its document-order field names.
type recordList struct {
	records []map[string]any
	fields  []string
	invalid bool // contained a non-object element
}

func (l recordList) usable() bool { return !l.invalid && len(l.records) > 0 }

// decodeRecordList consumes array elements after '[' has been read, including
// the closing ']'. Each element must be an object or null (nulls are skipped);
// any other element marks the whole list unusable, but the array is still
// consumed so the caller can keep walking.
func decodeRecordList(dec *json.Decoder) (recordList, error) {
	var list recordList
	seen := make(map[string]bool)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return list, fmt.Errorf("envelope: read array element: %w", err)
		}

		if d, ok := tok.(json.Delim); ok && d == '{' {
			rec, keys, err := decodeOrderedObject(dec)
			if err != nil {
				return list, err
			}
			list.records = append(list.records, rec)
			for _, k := range keys {
				if !seen[k] {
					seen[k] = true
					list.fields = append(list.fields, k)
				}
			}
			continue
		}

		if tok == nil {
			continue
		}

		// Non-object element: poison the list, consume the rest.
		list.invalid = true
		if err := skipValueFromFirstToken(dec, tok); err != nil {
			return list, err
		}
	}
	if err := expectDelim(dec, ']'); err != nil {
		return list, err
	}
	if list.invalid {
		return recordList{invalid: true}, nil
	}
	return list, nil
}

// decodeOrderedObject reads one object after '{' has been consumed, returning
// the materialized map and its keys in document order.
func decodeOrderedObject(dec *json.Decoder) (map[string]any, []string, error) {
	rec := make(map[string]any)
	var keys []string

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("envelope: read record key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("envelope: record key not a string (got %T)", keyTok)
		}

		var val any
		if err := dec.Decode(&val); err != nil {
			return nil, nil, fmt.Errorf("envelope: decode value of %q: %w", key, err)
		}

		if _, dup := rec[key]; !dup {
			keys = append(keys, key)
		}
		rec[key] = val
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, nil, err
	}
	return rec, keys, nil
}

// skipValueFromFirstToken consumes the remainder of a JSON value whose first
// token has already been read, without materializing it.
func skipValueFromFirstToken(dec *json.Decoder, tok json.Token) error {
	d, ok := tok.(json.Delim)
	if !ok {
		return nil // scalar: nothing left to consume
	}

	switch d {
	case '{':
		for dec.More() {
			if _, err := dec.Token(); err != nil {
				return fmt.Errorf("envelope: skip object key: %w", err)
			}
			next, err := dec.Token()
			if err != nil {
				return fmt.Errorf("envelope: skip object value: %w", err)
			}
			if err := skipValueFromFirstToken(dec, next); err != nil {
				return err
			}
		}
		return expectDelim(dec, '}')

	case '[':
		for dec.More() {
			next, err := dec.Token()
			if err != nil {
				return fmt.Errorf("envelope: skip array element: %w", err)
			}
			if err := skipValueFromFirstToken(dec, next); err != nil {
				return err
			}
		}
		return expectDelim(dec, ']')

	default:
		return fmt.Errorf("envelope: unexpected delimiter %q", d)
	}
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("envelope: read %q: %w", want, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("envelope: expected %q, got %v", want, tok)
	}
	return nil
}
