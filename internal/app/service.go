package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"fieldchart/sync/internal/config"
	"fieldchart/sync/internal/draft"
	"fieldchart/sync/internal/engine"
	"fieldchart/sync/internal/export"
	"fieldchart/sync/internal/localstore"
	"fieldchart/sync/internal/record"
	"fieldchart/sync/internal/remote"
	"fieldchart/sync/internal/util"
	"fieldchart/sync/internal/watch"
)

// Service is the application facade over the sync core: it owns the
// draft controller, the sync engine and the remote change listener for
// whichever record is currently open, and is what the HTTP layer talks
// to. One Service per process; the active record is scoped to it, not to
// package state.
type Service struct {
	cfg      config.Config
	drafts   *draft.Controller
	engine   *engine.Engine
	listener *watch.Listener
	remote   remote.Store
	local    localstore.Store
	exports  *export.Service
	logger   *zap.Logger

	watchMu   sync.Mutex
	stopWatch func()
}

func New(cfg config.Config, drafts *draft.Controller, eng *engine.Engine, listener *watch.Listener, remoteStore remote.Store, local localstore.Store, exports *export.Service, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		cfg:      cfg,
		drafts:   drafts,
		engine:   eng,
		listener: listener,
		remote:   remoteStore,
		local:    local,
		exports:  exports,
		logger:   logger,
	}
	// A reconnect sweep rewrites attachment leaves in the shadow; the
	// in-memory copy has to follow or the next mutation would resurrect
	// the placeholders.
	eng.OnSwept(func(rec record.Record) {
		s.drafts.AdoptRemote(rec)
	})
	return s
}

// Resume reopens the draft left in the local shadow by a previous
// process, if any. Called once at startup.
func (s *Service) Resume(ctx context.Context) error {
	shadow, err := s.local.Get(localstore.SlotCurrentDraft)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.drafts.SetActive(ctx, shadow); err != nil {
		return err
	}
	s.rewatch(ctx, shadow.ID())
	s.logger.Info("resumed draft from local shadow", zap.String("recordId", shadow.ID()))
	return nil
}

// Open makes a record the active draft. With an empty id a fresh default
// record is created; otherwise the remote copy is fetched and opened.
func (s *Service) Open(ctx context.Context, id, ownerID string) (record.Record, error) {
	var rec record.Record
	if strings.TrimSpace(id) == "" {
		rec = record.New(util.NewID("rec"), ownerID)
	} else {
		fetched, err := s.remote.Get(ctx, id)
		if errors.Is(err, remote.ErrNotFound) {
			return nil, domainError(http.StatusNotFound, "RECORD_NOT_FOUND", "no such record in the remote store", nil)
		}
		if err != nil {
			return nil, err
		}
		rec = fetched
	}

	if err := s.drafts.SetActive(ctx, rec); err != nil {
		return nil, err
	}
	s.rewatch(ctx, rec.ID())
	snapshot, _ := s.drafts.Active()
	return snapshot, nil
}

// rewatch points the change listener at the new active record,
// releasing any previous subscription first.
func (s *Service) rewatch(ctx context.Context, id string) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.stopWatch != nil {
		s.stopWatch()
		s.stopWatch = nil
	}
	stop, err := s.listener.Watch(ctx, id)
	if err != nil {
		// A broken subscription degrades multi-device merge, nothing
		// else; local editing continues.
		s.logger.Warn("could not subscribe to remote changes",
			zap.String("recordId", id), zap.Error(err))
		return
	}
	s.stopWatch = stop
}

func (s *Service) unwatch() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.stopWatch != nil {
		s.stopWatch()
		s.stopWatch = nil
	}
}

// Snapshot returns the current draft for rendering.
func (s *Service) Snapshot() (record.Record, error) {
	rec, ok := s.drafts.Active()
	if !ok {
		return nil, draft.ErrNoActiveRecord
	}
	return rec, nil
}

func (s *Service) Update(ctx context.Context, partial map[string]any) error {
	return s.drafts.Update(ctx, partial)
}

func (s *Service) MutateAtPath(ctx context.Context, path []string, value any) error {
	return s.drafts.MutateAtPath(ctx, path, value)
}

func (s *Service) AppendToList(ctx context.Context, path []string, item any) error {
	return s.drafts.AppendToList(ctx, path, item)
}

// ForceSync flushes the active draft to the remote store immediately,
// bypassing the quiet window.
func (s *Service) ForceSync(ctx context.Context) error {
	rec, ok := s.drafts.Active()
	if !ok {
		return draft.ErrNoActiveRecord
	}
	return s.engine.Save(ctx, rec, true)
}

// Finalize renders the export artifact, then submits the record with
// the authorization token and the artifact reference attached. It
// returns once the remote write completes.
func (s *Service) Finalize(ctx context.Context, token string) (record.Record, error) {
	rec, ok := s.drafts.Active()
	if !ok {
		return nil, draft.ErrNoActiveRecord
	}
	if rec.Submitted() {
		return nil, draft.ErrRecordLocked
	}

	artifact, err := s.exports.Export(ctx, rec)
	if err != nil {
		return nil, err
	}
	if err := s.drafts.Finalize(ctx, token, artifact.Ref); err != nil {
		return nil, err
	}
	s.unwatch()
	submitted, _ := s.drafts.Active()
	return submitted, nil
}

// Discard drops the active draft and both of its shadows.
func (s *Service) Discard(ctx context.Context) error {
	if err := s.drafts.Discard(ctx); err != nil {
		return err
	}
	s.unwatch()
	return nil
}

// SyncState is the surfaced status indicator; there is no blocking
// error dialog for transient failures anywhere in the system.
type SyncState struct {
	Status    engine.Status `json:"status"`
	Reachable bool          `json:"reachable"`
}

func (s *Service) SyncState() SyncState {
	return SyncState{
		Status:    s.engine.Status(),
		Reachable: s.engine.Reachable(),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.remote.Ping(ctx)
}

// Close releases the change subscription.
func (s *Service) Close() {
	s.unwatch()
}
