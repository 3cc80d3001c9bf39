package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fieldchart/sync/internal/blob"
	"fieldchart/sync/internal/localstore"
	"fieldchart/sync/internal/media"
	"fieldchart/sync/internal/record"
)

type fakeRemote struct {
	mu       sync.Mutex
	writes   []record.Record
	failNext error
}

func (f *fakeRemote) Get(ctx context.Context, id string) (record.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.writes) - 1; i >= 0; i-- {
		if f.writes[i].ID() == id {
			return record.Clone(f.writes[i]), nil
		}
	}
	return nil, errors.New("record not found")
}

func (f *fakeRemote) Upsert(ctx context.Context, id string, rec record.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.writes = append(f.writes, record.Clone(rec))
	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, id string) error { return nil }

func (f *fakeRemote) Subscribe(ctx context.Context, id string) (<-chan record.Record, func(), error) {
	ch := make(chan record.Record)
	return ch, func() { close(ch) }, nil
}

func (f *fakeRemote) Ping(ctx context.Context) error { return nil }

func (f *fakeRemote) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeRemote) lastWrite() record.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return nil
	}
	return record.Clone(f.writes[len(f.writes)-1])
}

func newTestEngine(t *testing.T) (*Engine, *fakeRemote, *blob.MemoryStore, localstore.Store) {
	t.Helper()
	remoteStore := &fakeRemote{}
	local, err := localstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	blobs := blob.NewMemoryStore()
	queue := media.NewQueue(blobs, zap.NewNop())
	eng := New(remoteStore, local, queue, zap.NewNop(), WithQuietWindow(50*time.Millisecond))
	return eng, remoteStore, blobs, local
}

func TestCoalescingProducesOneWrite(t *testing.T) {
	eng, remoteStore, _, _ := newTestEngine(t)
	ctx := context.Background()

	for i, notes := range []string{"first", "second", "third"} {
		rec := record.New("rec-1", "usr-1")
		rec["notes"] = notes
		rec["mutation"] = i
		require.NoError(t, eng.Save(ctx, rec, false))
	}

	require.Eventually(t, func() bool {
		return remoteStore.writeCount() == 1
	}, time.Second, 10*time.Millisecond, "expected exactly one coalesced write")

	// The write carries the state after the last mutation, not any
	// intermediate burst state.
	got := remoteStore.lastWrite()
	require.Equal(t, "third", got["notes"])

	time.Sleep(120 * time.Millisecond)
	require.Equal(t, 1, remoteStore.writeCount(), "no further writes after the quiet window")
}

func TestImmediateBypassesDebounce(t *testing.T) {
	eng, remoteStore, _, _ := newTestEngine(t)
	ctx := context.Background()

	rec := record.New("rec-1", "usr-1")
	rec["notes"] = "debounced"
	require.NoError(t, eng.Save(ctx, rec, false))

	final := record.New("rec-1", "usr-1")
	final["notes"] = "submitted"
	require.NoError(t, eng.Save(ctx, final, true))

	require.Equal(t, 1, remoteStore.writeCount(), "immediate save writes before returning")
	require.Equal(t, "submitted", remoteStore.lastWrite()["notes"])

	time.Sleep(120 * time.Millisecond)
	require.Equal(t, 1, remoteStore.writeCount(), "pending debounce must be cancelled by immediate save")
}

func TestCancelPendingSuppressesWrite(t *testing.T) {
	eng, remoteStore, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Save(ctx, record.New("rec-1", "usr-1"), false))
	eng.CancelPending()

	time.Sleep(120 * time.Millisecond)
	require.Equal(t, 0, remoteStore.writeCount())
}

func TestFailedRemoteWriteSetsErrorAndKeepsShadow(t *testing.T) {
	eng, remoteStore, _, local := newTestEngine(t)
	ctx := context.Background()

	remoteStore.failNext = errors.New("backend down")
	rec := record.New("rec-1", "usr-1")
	rec["notes"] = "still safe locally"
	err := eng.Save(ctx, rec, true)
	require.Error(t, err)
	require.Equal(t, StatusError, eng.Status())

	shadow, err := local.Get(localstore.SlotCurrentDraft)
	require.NoError(t, err)
	require.Equal(t, "still safe locally", shadow["notes"])
}

func TestWriteWhileUnreachableReportsOffline(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	eng.SetReachable(ctx, false)
	require.Equal(t, StatusOffline, eng.Status())

	// The local shadow write succeeds even with the network leg down.
	require.NoError(t, eng.Save(ctx, record.New("rec-1", "usr-1"), true))
	require.Equal(t, StatusOffline, eng.Status())
}

func TestReconnectSweepUploadsAndWritesOnce(t *testing.T) {
	eng, remoteStore, blobs, _ := newTestEngine(t)
	ctx := context.Background()

	eng.SetReachable(ctx, false)
	rec := record.New("rec-1", "usr-1")
	rec["photo"] = media.Placeholder("photos", []byte("jpeg"))
	require.NoError(t, eng.Save(ctx, rec, true))
	before := remoteStore.writeCount()

	var swept record.Record
	eng.OnSwept(func(r record.Record) { swept = r })
	eng.SetReachable(ctx, true)

	require.Equal(t, before+1, remoteStore.writeCount(), "sweep triggers exactly one immediate write")
	require.Equal(t, 1, blobs.Len())
	got := remoteStore.lastWrite()
	require.True(t, strings.HasPrefix(got["photo"].(string), "blob://photos/"))
	require.NotNil(t, swept, "in-memory copy must be offered the rewritten record")
	require.Equal(t, got["photo"], swept["photo"])
	require.Equal(t, StatusSynced, eng.Status())
}

func TestReconnectWithoutPlaceholders(t *testing.T) {
	eng, remoteStore, _, _ := newTestEngine(t)
	ctx := context.Background()

	eng.SetReachable(ctx, false)
	require.NoError(t, eng.Save(ctx, record.New("rec-1", "usr-1"), true))
	before := remoteStore.writeCount()

	eng.SetReachable(ctx, true)
	require.Equal(t, before, remoteStore.writeCount(), "clean sweep triggers no extra write")
	require.Equal(t, StatusSynced, eng.Status())
}

func TestFiredFlushLeavesSupersedingTaskCancellable(t *testing.T) {
	eng, remoteStore, _, _ := newTestEngine(t)
	ctx := context.Background()

	rec := record.New("rec-1", "usr-1")
	rec["notes"] = "first burst"
	require.NoError(t, eng.Save(ctx, rec, false))

	// Install a newer task the way a superseding Save would while the
	// first timer is still armed, then let the first flush fire around
	// it. The flush must only release its own slot.
	eng.mu.Lock()
	superseding := deferTask(time.Hour, func(*deferredTask) {})
	eng.pending = superseding
	eng.mu.Unlock()
	defer superseding.Cancel()

	require.Eventually(t, func() bool {
		return remoteStore.writeCount() == 1
	}, time.Second, 5*time.Millisecond, "first flush still fires")

	eng.mu.Lock()
	still := eng.pending
	eng.mu.Unlock()
	require.Same(t, superseding, still, "fired flush must not clear a task it no longer owns")

	eng.CancelPending()
	superseding.mu.Lock()
	cancelled := superseding.cancelled
	superseding.mu.Unlock()
	require.True(t, cancelled, "cancellation must reach the live task, not a vacated slot")
}

func TestDeferredTaskCancel(t *testing.T) {
	fired := make(chan struct{}, 1)
	task := deferTask(20*time.Millisecond, func(*deferredTask) { fired <- struct{}{} })
	require.True(t, task.Cancel())

	select {
	case <-fired:
		t.Fatal("cancelled task must not fire")
	case <-time.After(60 * time.Millisecond):
	}

	done := make(chan struct{})
	task = deferTask(10*time.Millisecond, func(*deferredTask) { close(done) })
	<-done
	require.False(t, task.Cancel(), "cancelling a fired task reports false")
}
