// Package watch subscribes to the remote copy of the active record and
// merges materially newer remote versions back into memory.
package watch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fieldchart/sync/internal/record"
)

// DefaultSkewTolerance is the minimum revision delta before a remote
// change is trusted over the local copy. Anything closer is presumed to
// be the echo of this device's own recent write.
const DefaultSkewTolerance = 2000 * time.Millisecond

// subscriber is the slice of the remote store the listener consumes.
type subscriber interface {
	Subscribe(ctx context.Context, id string) (<-chan record.Record, func(), error)
}

// adopter is the slice of the draft controller the listener writes into.
type adopter interface {
	Active() (record.Record, bool)
	AdoptRemote(rec record.Record) bool
}

// Listener applies a coarse last-writer-wins policy at record
// granularity: when the remote revision beats the local one by more than
// the skew tolerance, the whole record is replaced. No field-level merge
// is attempted.
type Listener struct {
	remote subscriber
	drafts adopter
	skew   time.Duration
	logger *zap.Logger
}

func NewListener(remote subscriber, drafts adopter, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		remote: remote,
		drafts: drafts,
		skew:   DefaultSkewTolerance,
		logger: logger,
	}
}

// WithSkewTolerance overrides the merge skew window.
func (l *Listener) WithSkewTolerance(d time.Duration) *Listener {
	l.skew = d
	return l
}

// Watch subscribes to one record's remote shadow and consumes change
// events until the returned stop func runs or ctx ends. The caller
// restarts the watch whenever the active record's identity changes.
func (l *Listener) Watch(ctx context.Context, id string) (func(), error) {
	events, cancel, err := l.remote.Subscribe(ctx, id)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case remoteRec, ok := <-events:
				if !ok {
					return
				}
				l.handle(remoteRec)
			case <-ctx.Done():
				cancel()
				return
			}
		}
	}()
	return cancel, nil
}

func (l *Listener) handle(remoteRec record.Record) {
	local, ok := l.drafts.Active()
	if !ok || local.ID() != remoteRec.ID() {
		return
	}

	delta := remoteRec.Revision().Sub(local.Revision())
	if delta <= l.skew {
		// Out-of-order remote events inside the tolerance are not an
		// error; they are almost always our own write coming back.
		return
	}

	if l.drafts.AdoptRemote(remoteRec) {
		l.logger.Info("adopted newer remote revision",
			zap.String("recordId", remoteRec.ID()),
			zap.Duration("ahead", delta))
	}
}
