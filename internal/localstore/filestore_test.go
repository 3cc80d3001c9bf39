package localstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"fieldchart/sync/internal/record"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	rec := record.New("rec-1", "usr-1")
	rec["notes"] = "patient stable"
	require.NoError(t, store.Put(SlotCurrentDraft, rec))

	got, err := store.Get(SlotCurrentDraft)
	require.NoError(t, err)
	require.Equal(t, "rec-1", got.ID())
	require.Equal(t, "patient stable", got["notes"])
}

func TestFileStorePutOverwrites(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(SlotCurrentDraft, record.New("rec-1", "usr-1")))
	require.NoError(t, store.Put(SlotCurrentDraft, record.New("rec-2", "usr-1")))

	got, err := store.Get(SlotCurrentDraft)
	require.NoError(t, err)
	require.Equal(t, "rec-2", got.ID(), "expected overwritten shadow")
}

func TestFileStoreMissingSlot(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Get(SlotCurrentDraft)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreDeleteIsIdempotent(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(SlotCurrentDraft, record.New("rec-1", "usr-1")))
	require.NoError(t, store.Delete(SlotCurrentDraft))
	require.NoError(t, store.Delete(SlotCurrentDraft), "repeat Delete should be a no-op")
	_, err = store.Get(SlotCurrentDraft)
	require.ErrorIs(t, err, ErrNotFound, "expected ErrNotFound after delete")
}
