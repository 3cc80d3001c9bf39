package watch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fieldchart/sync/internal/record"
)

type fakeSubscriber struct {
	events chan record.Record
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, id string) (<-chan record.Record, func(), error) {
	return f.events, func() {}, nil
}

type fakeAdopter struct {
	mu      sync.Mutex
	active  record.Record
	adopted []record.Record
}

func (f *fakeAdopter) Active() (record.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return nil, false
	}
	return record.Clone(f.active), true
}

func (f *fakeAdopter) AdoptRemote(rec record.Record) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = record.Clone(rec)
	f.adopted = append(f.adopted, rec)
	return true
}

func (f *fakeAdopter) adoptedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.adopted)
}

func stampedRecord(id string, at time.Time) record.Record {
	rec := record.New(id, "usr-2")
	rec[record.FieldLastUpdated] = at.UTC().Format(time.RFC3339Nano)
	return rec
}

func TestSkewGate(t *testing.T) {
	base := time.Now()
	sub := &fakeSubscriber{events: make(chan record.Record)}
	drafts := &fakeAdopter{active: stampedRecord("rec-1", base)}

	listener := NewListener(sub, drafts, zap.NewNop())
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	stop, err := listener.Watch(ctx, "rec-1")
	require.NoError(t, err)
	defer stop()

	// 1999 ms ahead: inside the tolerance, presumed echo, ignored.
	echo := stampedRecord("rec-1", base.Add(1999*time.Millisecond))
	echo["notes"] = "echo"
	sub.events <- echo

	// 2001 ms ahead: materially newer, replaces the local copy wholesale.
	newer := stampedRecord("rec-1", base.Add(2001*time.Millisecond))
	newer["notes"] = "from another device"
	sub.events <- newer

	require.Eventually(t, func() bool {
		return drafts.adoptedCount() == 1
	}, time.Second, 5*time.Millisecond)

	got, _ := drafts.Active()
	require.Equal(t, "from another device", got["notes"])
}

func TestIgnoresOtherRecords(t *testing.T) {
	base := time.Now()
	sub := &fakeSubscriber{events: make(chan record.Record)}
	drafts := &fakeAdopter{active: stampedRecord("rec-1", base)}

	listener := NewListener(sub, drafts, zap.NewNop())
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	stop, err := listener.Watch(ctx, "rec-1")
	require.NoError(t, err)
	defer stop()

	stray := stampedRecord("rec-9", base.Add(time.Hour))
	sub.events <- stray

	time.Sleep(50 * time.Millisecond)
	require.Zero(t, drafts.adoptedCount(), "a different record id must never be adopted")
}

func TestShortenedSkewForTests(t *testing.T) {
	base := time.Now()
	sub := &fakeSubscriber{events: make(chan record.Record)}
	drafts := &fakeAdopter{active: stampedRecord("rec-1", base)}

	listener := NewListener(sub, drafts, zap.NewNop()).WithSkewTolerance(10 * time.Millisecond)
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	stop, err := listener.Watch(ctx, "rec-1")
	require.NoError(t, err)
	defer stop()

	sub.events <- stampedRecord("rec-1", base.Add(20*time.Millisecond))
	require.Eventually(t, func() bool {
		return drafts.adoptedCount() == 1
	}, time.Second, 5*time.Millisecond)
}
