// Package engine coalesces high-frequency draft mutations into
// infrequent remote writes and tracks the online state machine.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"fieldchart/sync/internal/localstore"
	"fieldchart/sync/internal/media"
	"fieldchart/sync/internal/record"
	"fieldchart/sync/internal/remote"
)

// DefaultQuietWindow is how long a burst of mutations must go quiet
// before the coalesced remote write happens.
const DefaultQuietWindow = 2 * time.Second

const remoteWriteTimeout = 15 * time.Second

// Engine drives the four-state sync machine. Every save normalizes the
// record and writes the local shadow before anything touches the
// network, so the caller's later reads stay consistent even if the
// remote leg never completes.
type Engine struct {
	remote remote.Store
	local  localstore.Store
	media  *media.Queue
	logger *zap.Logger
	quiet  time.Duration

	mu        sync.Mutex
	status    Status
	reachable bool
	pending   *deferredTask
	onStatus  func(Status)
	onSwept   func(record.Record)
}

type Option func(*Engine)

// WithQuietWindow overrides the debounce quiet period.
func WithQuietWindow(d time.Duration) Option {
	return func(e *Engine) { e.quiet = d }
}

func New(remoteStore remote.Store, local localstore.Store, mediaQueue *media.Queue, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		remote:    remoteStore,
		local:     local,
		media:     mediaQueue,
		logger:    logger,
		quiet:     DefaultQuietWindow,
		status:    StatusSynced,
		reachable: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnStatus registers a callback invoked on every status transition.
func (e *Engine) OnStatus(fn func(Status)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStatus = fn
}

// OnSwept registers a callback invoked with the rewritten record after a
// reconnect sweep resolves at least one placeholder, so the in-memory
// copy can adopt the new attachment references.
func (e *Engine) OnSwept(fn func(record.Record)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSwept = fn
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) Reachable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reachable
}

func (e *Engine) setStatus(next Status) {
	e.mu.Lock()
	if e.status == next {
		e.mu.Unlock()
		return
	}
	e.status = next
	notify := e.onStatus
	e.mu.Unlock()
	if notify != nil {
		notify(next)
	}
}

// Save persists the record. The local shadow is always written first and
// synchronously; a failure there is returned because it would leave the
// durable tier behind the in-memory copy. The remote leg is debounced
// over the quiet window unless immediate is true, in which case the
// write happens before Save returns and any pending debounce is
// cancelled. N saves inside one quiet window produce exactly one remote
// write carrying the last record handed in.
func (e *Engine) Save(ctx context.Context, rec record.Record, immediate bool) error {
	normalized := record.Normalize(rec)
	if err := e.local.Put(localstore.SlotCurrentDraft, normalized); err != nil {
		return err
	}
	e.setStatus(StatusSyncing)

	if immediate {
		e.CancelPending()
		return e.writeRemote(ctx, normalized)
	}

	e.mu.Lock()
	if e.pending != nil {
		e.pending.Cancel()
	}
	e.pending = deferTask(e.quiet, func(task *deferredTask) {
		e.clearPending(task)
		flushCtx, cancel := context.WithTimeout(context.Background(), remoteWriteTimeout)
		defer cancel()
		// Debounced failures surface only through the status indicator;
		// the application keeps working against the local shadow.
		_ = e.writeRemote(flushCtx, normalized)
	})
	e.mu.Unlock()
	return nil
}

// clearPending releases the slot only if it still holds task. A fired
// timer racing a superseding Save must not clobber the newer task, or
// CancelPending would have nothing left to cancel.
func (e *Engine) clearPending(task *deferredTask) {
	e.mu.Lock()
	if e.pending == task {
		e.pending = nil
	}
	e.mu.Unlock()
}

// CancelPending drops any debounced write so a stale flush cannot
// resurrect a discarded record.
func (e *Engine) CancelPending() {
	e.mu.Lock()
	task := e.pending
	e.pending = nil
	e.mu.Unlock()
	task.Cancel()
}

func (e *Engine) writeRemote(ctx context.Context, rec record.Record) error {
	if err := e.remote.Upsert(ctx, rec.ID(), rec); err != nil {
		e.logger.Error("remote write failed, continuing against local shadow",
			zap.String("recordId", rec.ID()), zap.Error(err))
		e.setStatus(StatusError)
		return err
	}
	if e.Reachable() {
		e.setStatus(StatusSynced)
	} else {
		// The transport retries underneath; a locally acknowledged write
		// while the link is down is Offline, not Error.
		e.setStatus(StatusOffline)
	}
	return nil
}

// SetReachable feeds a reachability change into the state machine. On
// the transition to reachable the offline media queue sweeps the current
// shadow; a sweep that resolved anything triggers exactly one immediate
// write, otherwise the state simply reverts to Synced.
func (e *Engine) SetReachable(ctx context.Context, reachable bool) {
	e.mu.Lock()
	wasReachable := e.reachable
	e.reachable = reachable
	e.mu.Unlock()

	if !reachable {
		if wasReachable {
			e.setStatus(StatusOffline)
		}
		return
	}
	if wasReachable {
		return
	}

	shadow, err := e.local.Get(localstore.SlotCurrentDraft)
	if err != nil {
		if err != localstore.ErrNotFound {
			e.logger.Warn("reconnect sweep could not read shadow", zap.Error(err))
		}
		e.setStatus(StatusSynced)
		return
	}

	if !e.media.Sweep(ctx, shadow) {
		e.setStatus(StatusSynced)
		return
	}

	e.mu.Lock()
	notify := e.onSwept
	e.mu.Unlock()
	if notify != nil {
		notify(record.Clone(shadow))
	}
	_ = e.Save(ctx, shadow, true)
}
