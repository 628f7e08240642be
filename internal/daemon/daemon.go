package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/steveyegge/docgallery/internal/gallery"
	"github.com/steveyegge/docgallery/internal/intake"
	"github.com/steveyegge/docgallery/internal/sync"
)

// Subdirectories of the inbox that hold handled files.
const (
	ImportedDir = "imported"
	FailedDir   = "failed"
)

// Config holds configuration for the daemon.
type Config struct {
	// InboxDir is watched for new image files.
	InboxDir string

	// DocumentName is the document new images are added to. It is created
	// when missing.
	DocumentName string

	// SyncSchedule is a cron spec such as "@every 15m". Empty disables
	// scheduled syncs.
	SyncSchedule string

	// SyncAfterImport triggers a sync once a batch has been added.
	SyncAfterImport bool

	// DebounceInterval is how long a file must be quiet before import.
	DebounceInterval time.Duration

	// OnBatch is called after each imported batch.
	OnBatch func(*intake.Batch)

	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DocumentName:     "Inbox",
		SyncSchedule:     "@every 15m",
		DebounceInterval: 500 * time.Millisecond,
		Logger:           slog.Default(),
	}
}

// Daemon imports inbox files into the library and runs scheduled syncs.
type Daemon struct {
	lib    *gallery.Library
	syncer sync.Syncer
	config *Config
	logger *slog.Logger

	watcher *FileWatcher
	cron    *cron.Cron
	session *intake.Session
	docID   string

	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu gosync.Mutex

	// Serializes imports so a file is never submitted twice.
	importMu gosync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup
	once   gosync.Once
}

// New creates a daemon. syncer may be nil when sync is not set up; the
// daemon then only imports.
func New(lib *gallery.Library, syncer sync.Syncer, config *Config) (*Daemon, error) {
	if lib == nil {
		return nil, fmt.Errorf("library cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.InboxDir == "" {
		return nil, fmt.Errorf("inbox directory cannot be empty")
	}
	if strings.TrimSpace(config.DocumentName) == "" {
		config.DocumentName = "Inbox"
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var c *cron.Cron
	if config.SyncSchedule != "" && syncer != nil {
		if _, err := cron.ParseStandard(config.SyncSchedule); err != nil {
			return nil, fmt.Errorf("invalid sync schedule %q: %w", config.SyncSchedule, err)
		}
		c = cron.New()
	}

	watcher, err := NewFileWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		lib:         lib,
		syncer:      syncer,
		config:      config,
		logger:      logger.With("component", "daemon"),
		watcher:     watcher,
		cron:        c,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start runs the daemon until ctx is cancelled.
//
// It resolves the target document, queues files already in the inbox,
// starts the watcher and the sync schedule, and then blocks.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Info("starting daemon", "inbox", d.config.InboxDir, "document", d.config.DocumentName)

	for _, dir := range []string{d.config.InboxDir, d.subdir(ImportedDir), d.subdir(FailedDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	docID, err := d.resolveDocument(ctx)
	if err != nil {
		return err
	}
	d.docID = docID
	d.session = intake.NewSession(d.lib, docID, intake.WithLogger(d.config.Logger))

	if err := d.watcher.Start(d.config.InboxDir); err != nil {
		return err
	}
	if err := d.queueExisting(); err != nil {
		d.logger.Warn("failed to scan inbox", "error", err)
	}

	if d.cron != nil {
		if _, err := d.cron.AddFunc(d.config.SyncSchedule, d.scheduledSync); err != nil {
			return fmt.Errorf("failed to schedule sync: %w", err)
		}
		d.cron.Start()
		d.logger.Info("scheduled sync", "schedule", d.config.SyncSchedule)
	}

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()

	select {
	case <-ctx.Done():
		d.logger.Info("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop shuts the daemon down. Imports in progress finish first.
func (d *Daemon) Stop() error {
	d.once.Do(func() {
		d.logger.Info("stopping daemon")
		d.cancel()

		if d.cron != nil {
			<-d.cron.Stop().Done()
		}
		if err := d.watcher.Stop(); err != nil {
			d.logger.Warn("failed to close watcher", "error", err)
		}
		d.wg.Wait()
		if d.session != nil {
			d.session.Close()
		}
		d.logger.Info("daemon stopped")
	})
	return nil
}

func (d *Daemon) subdir(name string) string {
	return filepath.Join(d.config.InboxDir, name)
}

// resolveDocument returns the id of the target document, creating it when
// no document has that name. The oldest match wins.
func (d *Daemon) resolveDocument(ctx context.Context) (string, error) {
	var match *gallery.Document
	for _, doc := range d.lib.Snapshot() {
		if doc.Name != d.config.DocumentName {
			continue
		}
		if match == nil || doc.CreatedAt.Before(match.CreatedAt) {
			match = doc
		}
	}
	if match != nil {
		return match.ID, nil
	}

	doc, err := d.lib.Create(ctx, d.config.DocumentName)
	if doc == nil {
		return "", fmt.Errorf("failed to create inbox document: %w", err)
	}
	if err != nil {
		d.logger.Warn("inbox document created but not saved", "error", err)
	}
	return doc.ID, nil
}

func (d *Daemon) queueExisting() error {
	entries, err := os.ReadDir(d.config.InboxDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Type().IsRegular() && IsImageName(e.Name()) {
			d.queueChange(filepath.Join(d.config.InboxDir, e.Name()))
		}
	}
	return nil
}

func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	events := d.watcher.Events()
	errs := d.watcher.Errors()
	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			d.logger.Debug("file event", "op", event.Op, "path", event.Path)
			d.queueChange(event.Path)

		case err, ok := <-errs:
			if !ok {
				return
			}
			d.logger.Warn("watcher error", "error", err)
		}
	}
}

// queueChange records path, restarting its debounce window.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// readyPaths removes and returns the paths quiet for a full debounce
// interval, sorted for a stable image order.
func (d *Daemon) readyPaths() []string {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	sort.Strings(ready)
	return ready
}

// processPendingChanges imports the files whose debounce window elapsed.
func (d *Daemon) processPendingChanges() {
	paths := d.readyPaths()
	if len(paths) == 0 {
		return
	}
	if _, err := d.Import(d.ctx, paths); err != nil {
		d.logger.Error("inbox import failed", "error", err)
	}
}

// Import adds the files at paths to the inbox document and moves each one
// to the imported or failed subdirectory.
func (d *Daemon) Import(ctx context.Context, paths []string) (*intake.Batch, error) {
	d.importMu.Lock()
	defer d.importMu.Unlock()

	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil, nil
	}

	batch, err := d.session.Submit(ctx, existing)
	if err != nil {
		return nil, err
	}

	failed := make(map[string]bool, len(batch.Failed))
	for _, f := range batch.Failed {
		failed[f.Path] = true
	}
	for _, p := range existing {
		dest := ImportedDir
		if failed[p] {
			dest = FailedDir
		}
		if err := os.Rename(p, uniquePath(d.subdir(dest), filepath.Base(p))); err != nil {
			d.logger.Warn("failed to move inbox file", "path", p, "error", err)
		}
	}

	d.logger.Info(batch.Message(), "document", d.config.DocumentName)
	if d.config.OnBatch != nil {
		d.config.OnBatch(batch)
	}
	if d.config.SyncAfterImport && len(batch.Added) > 0 {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.TriggerSync(d.ctx)
		}()
	}
	return batch, nil
}

// uniquePath returns dir/name, or dir/"stem (n).ext" with the lowest n that
// does not exist yet.
func uniquePath(dir, name string) string {
	target := filepath.Join(dir, name)
	if _, err := os.Lstat(target); errors.Is(err, os.ErrNotExist) {
		return target
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		target = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
		if _, err := os.Lstat(target); errors.Is(err, os.ErrNotExist) {
			return target
		}
	}
}

func (d *Daemon) scheduledSync() {
	d.TriggerSync(d.ctx)
}

// TriggerSync runs one sync cycle. A cycle already in flight is skipped,
// not queued.
func (d *Daemon) TriggerSync(ctx context.Context) (*sync.Result, error) {
	if d.syncer == nil {
		return nil, sync.ErrNotConfigured
	}

	res, err := d.syncer.Sync(ctx)
	switch {
	case errors.Is(err, sync.ErrSyncInProgress):
		d.logger.Info("sync already running, skipping")
	case err != nil:
		d.logger.Warn(sync.Message(err), "error", err)
	default:
		d.logger.Info("sync finished", "changed", res.Changed, "written", res.Written)
	}
	return res, err
}

// DocumentID returns the id of the inbox document once started.
func (d *Daemon) DocumentID() string {
	return d.docID
}
