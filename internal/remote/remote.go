// Package remote implements the shared remote document store: per-record
// get, upsert-with-merge, and a change subscription keyed by record
// identity that delivers full-document snapshots.
package remote

import (
	"context"
	"errors"

	"fieldchart/sync/internal/record"
)

var ErrNotFound = errors.New("record not found")

// Store is the remote document store contract required of the backing
// service. Upsert merges the given record into any existing document
// rather than replacing it, so partial writers never erase unrelated
// top-level sections. Subscribe returns a snapshot channel for one record
// and a cancel func that releases the subscription; the channel closes
// once the subscription ends.
type Store interface {
	Get(ctx context.Context, id string) (record.Record, error)
	Upsert(ctx context.Context, id string, rec record.Record) error
	Delete(ctx context.Context, id string) error
	Subscribe(ctx context.Context, id string) (<-chan record.Record, func(), error)
	Ping(ctx context.Context) error
}
