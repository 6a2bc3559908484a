package synckit

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/google/go-cmp/cmp"
)

// SequenceEqual reports whether a and b are both sequences of the same
// length whose elements are deeply equal position by position. Order
// matters. A sequence never equals a non-sequence.
func SequenceEqual(a, b any) bool {
	av, ok := sequenceValue(a)
	if !ok {
		return false
	}
	bv, ok := sequenceValue(b)
	if !ok {
		return false
	}
	if av.Len() != bv.Len() {
		return false
	}
	for i := 0; i < av.Len(); i++ {
		if !cmp.Equal(av.Index(i).Interface(), bv.Index(i).Interface()) {
			return false
		}
	}
	return true
}

// FieldEqual compares two field values: sequences with SequenceEqual,
// everything else by value.
func FieldEqual(stored, candidate any) bool {
	if isSequence(stored) || isSequence(candidate) {
		return SequenceEqual(stored, candidate)
	}
	return cmp.Equal(stored, candidate)
}

// DiffFields returns the top-level fields of candidate whose value differs
// from stored, or is missing from it. Fields only present in stored are
// ignored. The result is empty when nothing changed.
func DiffFields(stored, candidate Document) Document {
	changed := Document{}
	for field, value := range candidate {
		current, ok := stored[field]
		if !ok || !FieldEqual(current, value) {
			changed[field] = value
		}
	}
	return changed
}

// Canonicalize round-trips doc through JSON so that values produced by a
// normalizer and values read back from storage share one representation
// (numbers as float64, sequences as []any, objects as map[string]any).
func Canonicalize(doc Document) (Document, error) {
	if doc == nil {
		return nil, nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("canonicalize document: %w", err)
	}
	var out Document
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("canonicalize document: %w", err)
	}
	return out, nil
}

func isSequence(v any) bool {
	_, ok := sequenceValue(v)
	return ok
}

func sequenceValue(v any) (reflect.Value, bool) {
	if v == nil {
		return reflect.Value{}, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv, true
	default:
		return reflect.Value{}, false
	}
}
