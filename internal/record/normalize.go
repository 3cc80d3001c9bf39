package record

import (
	"reflect"
	"time"
)

// Normalize rewrites a record so it is safe to merge into the remote
// store: every absent value becomes an explicit null, because the store
// treats a literally missing field as a matching-query hazard. Sequences
// map element-wise, mappings value-wise; times and scalars pass through.
// Normalize is pure and idempotent.
func Normalize(r Record) Record {
	if r == nil {
		return nil
	}
	return Record(normalizeValue(map[string]any(r)).(map[string]any))
}

func normalizeValue(v any) any {
	if isAbsent(v) {
		return nil
	}
	switch tv := v.(type) {
	case Record:
		return normalizeValue(map[string]any(tv))
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, item := range tv {
			out[k] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = normalizeValue(item)
		}
		return out
	case time.Time, *time.Time:
		return tv
	default:
		return tv
	}
}

// isAbsent reports whether v is nil or a typed nil hiding inside an
// interface, the shape that survives json round-trips as a real value but
// confuses the remote store's merge semantics.
func isAbsent(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
