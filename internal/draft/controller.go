// Package draft owns the single active encounter record in memory and
// is the only legal mutation surface for form tabs and widgets.
package draft

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"fieldchart/sync/internal/localstore"
	"fieldchart/sync/internal/record"
)

var (
	// ErrNoActiveRecord is returned when an operation is attempted with
	// nothing open. Caller misuse, not fatal.
	ErrNoActiveRecord = errors.New("no active record")
	// ErrRecordLocked is returned for any mutation or discard attempted
	// against a submitted record.
	ErrRecordLocked = errors.New("record is submitted and locked")
)

const (
	FieldSubmissionToken = "submissionToken"
	FieldExportRef       = "exportRef"
)

// syncEngine is the slice of the sync engine the controller drives.
type syncEngine interface {
	Save(ctx context.Context, rec record.Record, immediate bool) error
	CancelPending()
}

// remoteShadow is the slice of the remote store discard needs.
type remoteShadow interface {
	Delete(ctx context.Context, id string) error
}

// Controller holds the in-memory authoritative copy of whichever record
// the UI currently has open. It is an explicit context object handed to
// every collaborator, never package state, so two controllers can
// coexist in one process without cross-talk.
type Controller struct {
	local  localstore.Store
	engine syncEngine
	remote remoteShadow
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	active record.Record
}

func NewController(local localstore.Store, eng syncEngine, remote remoteShadow, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		local:  local,
		engine: eng,
		remote: remote,
		logger: logger,
		now:    time.Now,
	}
}

// SetActive replaces the in-memory record. A non-nil record is also
// written to the local durable shadow so it survives a restart before
// any mutation happens; nil clears both the memory copy and the shadow.
func (c *Controller) SetActive(ctx context.Context, rec record.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec == nil {
		c.active = nil
		return c.local.Delete(localstore.SlotCurrentDraft)
	}
	c.active = record.Clone(rec)
	return c.local.Put(localstore.SlotCurrentDraft, c.active)
}

// Active returns an immutable snapshot of the current record for
// rendering. Mutating the snapshot has no effect on the draft.
func (c *Controller) Active() (record.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil, false
	}
	return record.Clone(c.active), true
}

// Update shallow-merges partial fields into the active record, stamps
// the revision and persists through the sync engine.
func (c *Controller) Update(ctx context.Context, partial map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return ErrNoActiveRecord
	}
	if c.active.Submitted() {
		return ErrRecordLocked
	}

	next := record.Clone(c.active)
	for k, v := range partial {
		next[k] = record.CloneValue(v)
	}
	return c.commit(ctx, next, false)
}

// MutateAtPath deep-copies the active record, walks the path creating
// intermediate mapping nodes, assigns the value at the final key, stamps
// and persists. The copy-before-mutate is mandatory: stale readers
// holding the previous snapshot must never observe a half-applied
// nested write.
func (c *Controller) MutateAtPath(ctx context.Context, path []string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mutateAtPathLocked(ctx, path, value)
}

func (c *Controller) mutateAtPathLocked(ctx context.Context, path []string, value any) error {
	if c.active == nil {
		return ErrNoActiveRecord
	}
	if c.active.Submitted() {
		return ErrRecordLocked
	}
	if len(path) == 0 {
		return errors.New("empty mutation path")
	}

	next := record.Clone(c.active)
	record.SetPath(next, path, record.CloneValue(value))
	return c.commit(ctx, next, false)
}

// AppendToList appends item to the sequence at path, starting one when
// absent. Time-keyed collections (vitals observations) are re-sorted
// chronologically, since entries get recorded out of order relative to
// wall-clock append order.
func (c *Controller) AppendToList(ctx context.Context, path []string, item any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return ErrNoActiveRecord
	}
	if c.active.Submitted() {
		return ErrRecordLocked
	}

	var list []any
	if existing, ok := record.ValueAtPath(c.active, path); ok {
		if seq, isSeq := existing.([]any); isSeq {
			list = append(list, seq...)
		}
	}
	list = append(list, item)
	if record.AllTimed(list) {
		record.SortTimed(list)
	}
	return c.mutateAtPathLocked(ctx, path, list)
}

// Finalize transitions the record to Submitted, attaches the
// authorization token and the optional pre-rendered export reference,
// performs one immediate persist and clears the local durable shadow.
// The record stays in memory, locked, as the read-only system of record
// for the closing screens.
func (c *Controller) Finalize(ctx context.Context, token, artifactRef string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return ErrNoActiveRecord
	}
	if c.active.Submitted() {
		return ErrRecordLocked
	}

	next := record.Clone(c.active)
	next[record.FieldStatus] = record.StatusSubmitted
	next[FieldSubmissionToken] = token
	if artifactRef != "" {
		next[FieldExportRef] = artifactRef
	}
	next.Stamp(c.now())

	if err := c.engine.Save(ctx, next, true); err != nil {
		return err
	}
	c.active = next
	if err := c.local.Delete(localstore.SlotCurrentDraft); err != nil {
		c.logger.Warn("could not clear local shadow after submission", zap.Error(err))
	}
	c.logger.Info("record submitted", zap.String("recordId", next.ID()))
	return nil
}

// Discard cancels any pending coalesced write, then deletes the remote
// and local shadows and clears the in-memory record. A pending write
// must die first so a stale flush cannot resurrect the record.
func (c *Controller) Discard(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return ErrNoActiveRecord
	}
	if c.active.Submitted() {
		return ErrRecordLocked
	}

	c.engine.CancelPending()
	id := c.active.ID()
	if err := c.remote.Delete(ctx, id); err != nil {
		c.logger.Warn("remote shadow delete failed during discard",
			zap.String("recordId", id), zap.Error(err))
	}
	if err := c.local.Delete(localstore.SlotCurrentDraft); err != nil {
		return err
	}
	c.active = nil
	c.logger.Info("record discarded", zap.String("recordId", id))
	return nil
}

// AdoptRemote replaces the in-memory record with a newer remote version
// chosen by the change listener. The local shadow follows so a restart
// resumes from the merged state. Adoption is refused for a different
// record id or once the local copy is submitted.
func (c *Controller) AdoptRemote(remoteRec record.Record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil || c.active.ID() != remoteRec.ID() || c.active.Submitted() {
		return false
	}
	c.active = record.Clone(remoteRec)
	if err := c.local.Put(localstore.SlotCurrentDraft, c.active); err != nil {
		c.logger.Warn("could not shadow merged remote record", zap.Error(err))
	}
	return true
}

// commit stamps and persists an already-validated successor record,
// then swaps it in as the active copy. Callers hold the lock.
func (c *Controller) commit(ctx context.Context, next record.Record, immediate bool) error {
	next.Stamp(c.now())
	if err := c.engine.Save(ctx, next, immediate); err != nil {
		return err
	}
	c.active = next
	return nil
}
