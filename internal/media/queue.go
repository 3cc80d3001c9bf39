// Package media resolves attachment placeholders captured while offline.
//
// An attachment leaf is either a durable blob reference or an inline
// placeholder of the form "offline:<folder>:<base64 payload>" written by
// a capture widget while no network was available. The queue walks a
// record, uploads each pending payload and rewrites the leaf to the
// resulting reference. Nothing else in the system inspects the payload.
package media

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fieldchart/sync/internal/blob"
	"fieldchart/sync/internal/record"
)

const placeholderMarker = "offline"

// Placeholder builds the inline encoding for a payload destined for
// folder, the form capture widgets write while offline.
func Placeholder(folder string, payload []byte) string {
	return placeholderMarker + ":" + folder + ":" + base64.StdEncoding.EncodeToString(payload)
}

type Queue struct {
	blobs  blob.Store
	logger *zap.Logger
}

func NewQueue(blobs blob.Store, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{blobs: blobs, logger: logger}
}

// Sweep visits every string leaf of rec, uploading and rewriting each
// placeholder it finds. It reports whether any leaf was rewritten, so the
// caller knows whether one more coalesced write is needed. Each upload is
// attempted independently: a failed upload is logged and its placeholder
// left in place for the next sweep, so one bad attachment never blocks
// the rest of the record.
func (q *Queue) Sweep(ctx context.Context, rec record.Record) bool {
	return q.sweepMap(ctx, map[string]any(rec))
}

func (q *Queue) sweepMap(ctx context.Context, node map[string]any) bool {
	changed := false
	for key, value := range node {
		if replacement, ok := q.sweepValue(ctx, value); ok {
			node[key] = replacement
			changed = true
		}
	}
	return changed
}

func (q *Queue) sweepList(ctx context.Context, list []any) bool {
	changed := false
	for i, value := range list {
		if replacement, ok := q.sweepValue(ctx, value); ok {
			list[i] = replacement
			changed = true
		}
	}
	return changed
}

// sweepValue returns the replacement value and whether anything beneath
// this node changed.
func (q *Queue) sweepValue(ctx context.Context, value any) (any, bool) {
	switch tv := value.(type) {
	case string:
		ref, ok := q.resolve(ctx, tv)
		if !ok {
			return nil, false
		}
		return ref, true
	case map[string]any:
		return tv, q.sweepMap(ctx, tv)
	case record.Record:
		return tv, q.sweepMap(ctx, map[string]any(tv))
	case []any:
		return tv, q.sweepList(ctx, tv)
	default:
		return nil, false
	}
}

// resolve uploads one placeholder and returns the durable reference.
func (q *Queue) resolve(ctx context.Context, leaf string) (string, bool) {
	folder, payload, ok := parsePlaceholder(leaf)
	if !ok {
		return "", false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		q.logger.Warn("attachment payload is not valid base64, leaving placeholder",
			zap.String("folder", folder), zap.Error(err))
		return "", false
	}
	name := uuid.NewString()
	ref, err := q.blobs.Upload(ctx, folder, name, data, "application/octet-stream")
	if err != nil {
		q.logger.Warn("attachment upload failed, placeholder retained for retry",
			zap.String("folder", folder), zap.Error(err))
		return "", false
	}
	q.logger.Info("offline attachment uploaded",
		zap.String("folder", folder), zap.String("ref", ref))
	return ref, true
}

// parsePlaceholder splits marker:folder:payload. The payload may contain
// further colons, so only the first two separators count.
func parsePlaceholder(leaf string) (folder, payload string, ok bool) {
	parts := strings.SplitN(leaf, ":", 3)
	if len(parts) != 3 || parts[0] != placeholderMarker || parts[1] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
