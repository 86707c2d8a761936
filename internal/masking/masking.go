// Package masking implements the enforcement pipeline's field-redaction
// walk: a pure, total function over arbitrary JSON-shaped values that
// never fails, never shortens lists, and never removes keys (spec §4.7
// step 5, §9).
package masking

import (
	"fmt"
	"reflect"
)

// Apply walks value recursively, replacing the value of any map key
// named in fields with the literal [REDACTED]. Lists are walked
// element-wise; primitives (and any value that is neither a map nor a
// slice) pass through unchanged.
//
// value is walked as applied, not as it would look after a JSON
// round-trip: KB adapters hand back native Go shapes like
// []map[string]any (pgx rows, neo4j records) rather than the
// map[string]any/[]any shapes json.Unmarshal produces, so the walk
// uses reflection over any map or slice kind to stay total across both.
//
// Apply never mutates its input; it returns a new tree so callers can
// safely retain the original raw result for audit purposes without it
// acquiring masked values later.
func Apply(value any, fields []string) any {
	if len(fields) == 0 {
		return value
	}
	redact := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		redact[f] = struct{}{}
	}
	return walk(value, redact)
}

const Redacted = "[REDACTED]"

func walk(value any, redact map[string]struct{}) any {
	switch v := value.(type) {
	case map[string]any:
		return walkMap(v, redact)
	case []any:
		return walkSlice(v, redact)
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := fmt.Sprint(iter.Key().Interface())
			if _, hit := redact[k]; hit {
				out[k] = Redacted
				continue
			}
			out[k] = walk(iter.Value().Interface(), redact)
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = walk(rv.Index(i).Interface(), redact)
		}
		return out
	default:
		return value
	}
}

func walkMap(v map[string]any, redact map[string]struct{}) map[string]any {
	out := make(map[string]any, len(v))
	for k, val := range v {
		if _, hit := redact[k]; hit {
			out[k] = Redacted
			continue
		}
		out[k] = walk(val, redact)
	}
	return out
}

func walkSlice(v []any, redact map[string]struct{}) []any {
	out := make([]any, len(v))
	for i, elem := range v {
		out[i] = walk(elem, redact)
	}
	return out
}

// ContainsAny deep-checks whether value holds, at any key in fields and
// at any depth, a value for which forbidden returns true.
func ContainsAny(value any, fields []string, forbidden func(v any) bool) bool {
	redact := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		redact[f] = struct{}{}
	}
	return scanForbidden(value, redact, forbidden)
}

func scanForbidden(value any, redact map[string]struct{}, forbidden func(v any) bool) bool {
	switch v := value.(type) {
	case map[string]any:
		for k, val := range v {
			if _, hit := redact[k]; hit {
				if forbidden(val) {
					return true
				}
				continue
			}
			if scanForbidden(val, redact, forbidden) {
				return true
			}
		}
		return false
	case []any:
		for _, elem := range v {
			if scanForbidden(elem, redact, forbidden) {
				return true
			}
		}
		return false
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			k := fmt.Sprint(iter.Key().Interface())
			val := iter.Value().Interface()
			if _, hit := redact[k]; hit {
				if forbidden(val) {
					return true
				}
				continue
			}
			if scanForbidden(val, redact, forbidden) {
				return true
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if scanForbidden(rv.Index(i).Interface(), redact, forbidden) {
				return true
			}
		}
	}
	return false
}
