package record

import (
	"sort"
)

// SetPath assigns value at the nested key sequence, creating intermediate
// mapping nodes where absent. Existing non-mapping intermediates are
// replaced; the caller is expected to operate on a clone.
func SetPath(r Record, path []string, value any) {
	if len(path) == 0 {
		return
	}
	node := map[string]any(r)
	for _, key := range path[:len(path)-1] {
		next, ok := node[key].(map[string]any)
		if !ok {
			if nested, isRecord := node[key].(Record); isRecord {
				next = map[string]any(nested)
			} else {
				next = make(map[string]any)
			}
			node[key] = next
		}
		node = next
	}
	node[path[len(path)-1]] = value
}

// ValueAtPath walks the nested key sequence and returns the value found,
// or nil and false when any hop is missing.
func ValueAtPath(r Record, path []string) (any, bool) {
	var current any = map[string]any(r)
	for _, key := range path {
		node, ok := current.(map[string]any)
		if !ok {
			if nested, isRecord := current.(Record); isRecord {
				node = map[string]any(nested)
			} else {
				return nil, false
			}
		}
		current, ok = node[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

const timedEntryKey = "time"

// SortTimed re-sorts a list of timed entries (vitals observations)
// chronologically by their embedded time field. Entries are recorded in
// the field as they happened, not in the order staff got around to typing
// them in, so append order and clinical order disagree. The sort is
// stable and string-ordered, which is correct for both ISO timestamps and
// HH:MM clock values.
func SortTimed(list []any) {
	sort.SliceStable(list, func(i, j int) bool {
		return timedKey(list[i]) < timedKey(list[j])
	})
}

func timedKey(entry any) string {
	node, ok := entry.(map[string]any)
	if !ok {
		return ""
	}
	key, _ := node[timedEntryKey].(string)
	return key
}

// AllTimed reports whether every element of the list is a mapping
// carrying a time field, the shape SortTimed knows how to order.
func AllTimed(list []any) bool {
	if len(list) == 0 {
		return false
	}
	for _, entry := range list {
		node, ok := entry.(map[string]any)
		if !ok {
			return false
		}
		if _, ok := node[timedEntryKey].(string); !ok {
			return false
		}
	}
	return true
}
