package media

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fieldchart/sync/internal/blob"
	"fieldchart/sync/internal/record"
)

func TestSweepRewritesPlaceholders(t *testing.T) {
	store := blob.NewMemoryStore()
	queue := NewQueue(store, zap.NewNop())

	rec := record.New("rec-1", "usr-1")
	rec["wound"] = map[string]any{
		"photo": Placeholder("photos", []byte("jpeg-bytes")),
	}
	rec["signatures"] = []any{Placeholder("signatures", []byte("sig-bytes"))}
	rec["notes"] = "free text with a colon: untouched"

	require.True(t, queue.Sweep(context.Background(), rec), "expected sweep to report a rewrite")

	photo := rec["wound"].(map[string]any)["photo"].(string)
	require.True(t, strings.HasPrefix(photo, "blob://photos/"), "photo leaf not rewritten to a reference: %q", photo)
	sig := rec["signatures"].([]any)[0].(string)
	require.True(t, strings.HasPrefix(sig, "blob://signatures/"), "signature leaf not rewritten to a reference: %q", sig)
	require.Equal(t, "free text with a colon: untouched", rec["notes"], "non-placeholder leaf was modified")
	require.Equal(t, 2, store.Len())
}

func TestSweepNoPlaceholders(t *testing.T) {
	store := blob.NewMemoryStore()
	queue := NewQueue(store, zap.NewNop())

	rec := record.New("rec-1", "usr-1")
	rec["photo"] = "blob://photos/already-uploaded"

	require.False(t, queue.Sweep(context.Background(), rec), "sweep of a clean record must not report changes")
	require.Equal(t, 0, store.Len())
}

func TestSweepFailedUploadRetainsPlaceholder(t *testing.T) {
	store := blob.NewMemoryStore()
	queue := NewQueue(store, zap.NewNop())

	pendingA := Placeholder("photos", []byte("first"))
	pendingB := Placeholder("photos", []byte("second"))
	rec := record.New("rec-1", "usr-1")
	rec["a"] = pendingA
	rec["b"] = pendingB

	store.FailNext(errors.New("bucket unavailable"))
	require.True(t, queue.Sweep(context.Background(), rec), "one successful upload should still report a change")

	resolved, retained := 0, 0
	for _, key := range []string{"a", "b"} {
		leaf := rec[key].(string)
		switch {
		case strings.HasPrefix(leaf, "blob://"):
			resolved++
		case leaf == pendingA || leaf == pendingB:
			retained++
		default:
			t.Fatalf("unexpected leaf %q", leaf)
		}
	}
	require.Equal(t, 1, resolved, "expected exactly one resolved leaf")
	require.Equal(t, 1, retained, "expected exactly one retained placeholder")

	// Next sweep picks up the survivor.
	require.True(t, queue.Sweep(context.Background(), rec), "retry sweep should resolve the retained placeholder")
	require.Equal(t, 2, store.Len(), "both payloads uploaded after retry")
}

func TestParsePlaceholderShape(t *testing.T) {
	_, _, ok := parsePlaceholder("offline:photos")
	require.False(t, ok, "two-part value is not a placeholder")
	_, _, ok = parsePlaceholder("https://bucket/photos:object")
	require.False(t, ok, "reference URLs must not parse as placeholders")
	folder, payload, ok := parsePlaceholder("offline:photos:aGk=")
	require.True(t, ok)
	require.Equal(t, "photos", folder)
	require.Equal(t, "aGk=", payload)
}
