// Package record defines the encounter draft document and the pure
// transforms applied to it before storage or transmission.
package record

import (
	"time"
)

const (
	FieldID          = "id"
	FieldOwnerID     = "ownerId"
	FieldStatus      = "status"
	FieldLastUpdated = "lastUpdated"
)

const (
	StatusDraft     = "Draft"
	StatusSubmitted = "Submitted"
)

// Record is one patient encounter draft: a deeply nested mapping keyed by
// a stable identifier, revision-stamped on every accepted mutation.
type Record map[string]any

// New returns a default draft for the given identifier and owner.
func New(id, ownerID string) Record {
	return Record{
		FieldID:          id,
		FieldOwnerID:     ownerID,
		FieldStatus:      StatusDraft,
		FieldLastUpdated: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func (r Record) ID() string {
	id, _ := r[FieldID].(string)
	return id
}

func (r Record) Status() string {
	status, _ := r[FieldStatus].(string)
	return status
}

func (r Record) Submitted() bool {
	return r.Status() == StatusSubmitted
}

// Revision parses the record's lastUpdated stamp. The zero time is
// returned for a missing or malformed stamp, which orders it before any
// real revision.
func (r Record) Revision() time.Time {
	raw, _ := r[FieldLastUpdated].(string)
	if raw == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// Stamp rewrites lastUpdated, never moving it backwards.
func (r Record) Stamp(now time.Time) {
	if prev := r.Revision(); now.Before(prev) {
		now = prev
	}
	r[FieldLastUpdated] = now.UTC().Format(time.RFC3339Nano)
}

// Clone returns a structural deep copy. Mutating the copy never alters the
// original, so snapshots handed to renderers stay consistent.
func Clone(r Record) Record {
	if r == nil {
		return nil
	}
	return cloneValue(map[string]any(r)).(map[string]any)
}

// CloneValue deep-copies an arbitrary record value. Callers merging
// externally supplied mappings copy them through here so the live
// record never aliases memory the caller can still mutate.
func CloneValue(v any) any {
	return cloneValue(v)
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case Record:
		return Record(cloneValue(map[string]any(tv)).(map[string]any))
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, item := range tv {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
