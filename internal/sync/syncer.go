package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/steveyegge/docgallery/internal/gallery"
	"github.com/steveyegge/docgallery/internal/remote"
)

// syncer implements the Syncer interface.
type syncer struct {
	lib      *gallery.Library
	settings SettingsStore
	factory  ClientFactory

	// credential overrides the stored one when set (never persisted).
	credential string

	mu        gosync.Mutex
	fileLock  *flock.Flock
	state     atomic.Int32
	observers []Observer
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Syncer.
type Option func(*syncer)

// WithLogger sets the logger. nil keeps the default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *syncer) {
		if logger != nil {
			s.logger = logger.With("component", "sync")
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *syncer) {
		s.now = now
	}
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(s *syncer) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithLockFile guards cycles across processes with an advisory lock on
// path.
func WithLockFile(path string) Option {
	return func(s *syncer) {
		if path != "" {
			s.fileLock = flock.New(path)
		}
	}
}

// WithCredential overrides the stored credential for every cycle.
func WithCredential(credential string) Option {
	return func(s *syncer) {
		s.credential = credential
	}
}

// New creates a Syncer over the live library.
//
// Example:
//
//	st, _ := store.Open(dbPath)
//	lib := gallery.NewLibrary(st.LoadCollection(ctx), st)
//	s := sync.New(lib, st, remote.NewFactory(remote.WithBlobStore(st)),
//	    sync.WithLockFile(filepath.Join(dataDir, "sync.lock")))
func New(lib *gallery.Library, settings SettingsStore, factory ClientFactory, opts ...Option) Syncer {
	s := &syncer{
		lib:      lib,
		settings: settings,
		factory:  factory,
		now:      time.Now,
		logger:   slog.Default().With("component", "sync"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State implements Syncer.State.
func (s *syncer) State() State {
	return State(s.state.Load())
}

func (s *syncer) setState(state State) {
	s.state.Store(int32(state))
	for _, o := range s.observers {
		o.OnState(state)
	}
}

// Sync implements Syncer.Sync.
func (s *syncer) Sync(ctx context.Context) (*Result, error) {
	if !s.mu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer s.mu.Unlock()

	if s.fileLock != nil {
		locked, err := s.fileLock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
		}
		if !locked {
			return nil, ErrSyncInProgress
		}
		defer func() {
			if err := s.fileLock.Unlock(); err != nil {
				s.logger.Warn("failed to release sync lock", "error", err)
			}
		}()
	}

	stored := s.settings.LoadSyncConfig(ctx)
	cfg := s.effective(stored)
	if !cfg.Configured() {
		s.notifyComplete(nil, ErrNotConfigured)
		return nil, ErrNotConfigured
	}

	res := &Result{Backend: cfg.Backend, StartedAt: s.now()}
	err := s.run(ctx, stored, cfg, res)
	res.FinishedAt = s.now()
	s.setState(Idle)

	if err != nil {
		s.logger.Error("sync failed", "backend", cfg.Backend, "error", err, "duration", res.Duration())
	} else {
		s.logger.Info("sync completed",
			"backend", cfg.Backend,
			"changed", res.Changed,
			"written", res.Written,
			"duration", res.Duration())
	}
	s.notifyComplete(res, err)
	return res, err
}

func (s *syncer) notifyComplete(res *Result, err error) {
	for _, o := range s.observers {
		o.OnComplete(res, err)
	}
}

func (s *syncer) effective(cfg gallery.SyncConfig) gallery.SyncConfig {
	if s.credential != "" {
		cfg.Credential = s.credential
	}
	return cfg
}

func (s *syncer) client(cfg gallery.SyncConfig) (remote.Client, func(), error) {
	client, err := s.factory.Create(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid sync settings: %w", err)
	}
	release := func() {
		if c, ok := client.(io.Closer); ok {
			if err := c.Close(); err != nil {
				s.logger.Warn("failed to close remote client", "error", err)
			}
		}
	}
	return client, release, nil
}

func (s *syncer) run(ctx context.Context, stored, cfg gallery.SyncConfig, res *Result) error {
	client, release, err := s.client(cfg)
	if err != nil {
		return err
	}
	defer release()

	// Fetch
	s.setState(FetchingRemote)
	snap, err := client.Fetch(ctx)
	switch {
	case err == nil:
		res.RemoteExisted = true
	case errors.Is(err, remote.ErrNotFound):
		s.logger.Info("remote not found, uploading local data", "backend", cfg.Backend)
		snap = &remote.Snapshot{Collection: gallery.Collection{}}
	case errors.Is(err, remote.ErrMalformedData) && snap != nil:
		s.logger.Warn("remote data is malformed, treating it as empty", "error", err)
		res.RemoteExisted = true
		res.Warnings = append(res.Warnings, "remote data could not be read and will be overwritten")
	default:
		return fmt.Errorf("failed to fetch remote: %w", err)
	}
	if len(snap.Dropped) > 0 {
		s.logger.Warn("skipped invalid remote documents", "ids", snap.Dropped)
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d invalid remote documents skipped (kept on the remote)", len(snap.Dropped)))
	}

	// Merge against the live collection so edits made during the fetch
	// are kept.
	s.setState(Merging)
	var overwritten []string
	merged := s.lib.Update(func(current gallery.Collection) gallery.Collection {
		var m gallery.Collection
		m, overwritten = MergeReport(current, snap.Collection)
		return m
	})
	res.Changed = len(overwritten) > 0
	res.Overwritten = overwritten
	if res.Changed {
		s.logger.Info("merged remote documents", "count", len(overwritten))
	}

	// Persist locally before the remote write; failures do not block it.
	s.setState(PersistingLocal)
	if err := s.lib.Persist(ctx); err != nil {
		s.logger.Warn("failed to save merged collection", "error", err)
		res.LocalSaveErr = err
	}

	// Write back a stamped copy. Invalid remote documents go back as they
	// were unless a valid local document took their id.
	s.setState(WritingRemote)
	at := s.now()
	merged.Stamp(at)
	payload := merged
	if len(snap.Invalid) > 0 {
		payload = merged.Clone()
		for id, doc := range snap.Invalid {
			if _, ok := payload[id]; !ok {
				payload[id] = doc
			}
		}
	}
	written, err := client.Write(ctx, payload, snap.Revision)
	if err != nil {
		return fmt.Errorf("failed to write remote: %w", err)
	}
	res.Written = len(merged)
	res.Revision = written.Revision
	res.Locator = written.Locator

	s.lib.Stamp(ids(merged), at)
	if err := s.lib.Persist(ctx); err != nil {
		s.logger.Warn("failed to save synced timestamps", "error", err)
		if res.LocalSaveErr == nil {
			res.LocalSaveErr = err
		}
	}

	stored.MarkSynced(at)
	if written.Locator != "" {
		stored.Locator = written.Locator
	}
	if err := s.settings.SaveSyncConfig(ctx, stored); err != nil {
		s.logger.Warn("failed to save sync settings", "error", err)
		if res.LocalSaveErr == nil {
			res.LocalSaveErr = err
		}
	}
	return nil
}

func ids(c gallery.Collection) []string {
	out := make([]string, 0, len(c))
	for id := range c {
		out = append(out, id)
	}
	return out
}

// Check implements Syncer.Check.
func (s *syncer) Check(ctx context.Context) error {
	cfg := s.effective(s.settings.LoadSyncConfig(ctx))
	if !cfg.Configured() {
		return ErrNotConfigured
	}
	client, release, err := s.client(cfg)
	if err != nil {
		return err
	}
	defer release()

	_, err = client.Fetch(ctx)
	if err == nil || errors.Is(err, remote.ErrNotFound) || errors.Is(err, remote.ErrMalformedData) {
		return nil
	}
	return err
}
