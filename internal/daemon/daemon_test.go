package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/steveyegge/docgallery/internal/gallery"
	"github.com/steveyegge/docgallery/internal/intake"
	"github.com/steveyegge/docgallery/internal/sync"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

// fakeSyncer counts cycles and returns err.
type fakeSyncer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSyncer) Sync(ctx context.Context) (*sync.Result, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &sync.Result{Backend: "fake"}, nil
}

func (f *fakeSyncer) Check(ctx context.Context) error { return nil }
func (f *fakeSyncer) State() sync.State               { return sync.Idle }

// setupDaemon starts a daemon on a fresh inbox and stops it on cleanup.
func setupDaemon(t *testing.T, syncer sync.Syncer, mutate func(*Config)) (*Daemon, *gallery.Library, string) {
	t.Helper()

	inbox := filepath.Join(t.TempDir(), "inbox")
	if err := os.MkdirAll(inbox, 0755); err != nil {
		t.Fatalf("Failed to create inbox: %v", err)
	}

	cfg := DefaultConfig()
	cfg.InboxDir = inbox
	cfg.SyncSchedule = ""
	cfg.DebounceInterval = 50 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	lib := gallery.NewLibrary(nil, nil)
	d, err := New(lib, syncer, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	waitFor(t, func() bool { return d.watcher.IsRunning() })
	return d, lib, inbox
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func imageCount(lib *gallery.Library, docID string) int {
	doc, ok := lib.Get(docID)
	if !ok {
		return -1
	}
	return len(doc.Images)
}

func TestNew(t *testing.T) {
	lib := gallery.NewLibrary(nil, nil)

	tests := []struct {
		name    string
		lib     *gallery.Library
		cfg     *Config
		wantErr bool
	}{
		{name: "valid", lib: lib, cfg: &Config{InboxDir: t.TempDir()}},
		{name: "nil library", lib: nil, cfg: &Config{InboxDir: t.TempDir()}, wantErr: true},
		{name: "no inbox", lib: lib, cfg: &Config{}, wantErr: true},
		{name: "bad schedule", lib: lib, cfg: &Config{InboxDir: t.TempDir(), SyncSchedule: "every so often"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.lib, &fakeSyncer{}, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if d != nil {
				d.Stop()
			}
		})
	}
}

func TestDaemon_ImportsExistingAndNewFiles(t *testing.T) {
	var batches atomic.Int32
	d, lib, inbox := setupDaemon(t, nil, func(c *Config) {
		c.OnBatch = func(*intake.Batch) { batches.Add(1) }
	})

	if err := os.WriteFile(filepath.Join(inbox, "one.png"), pngBytes, 0644); err != nil {
		t.Fatalf("Failed to write image: %v", err)
	}
	waitFor(t, func() bool { return imageCount(lib, d.DocumentID()) == 1 })

	if err := os.WriteFile(filepath.Join(inbox, "bad.png"), []byte("not an image"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	waitFor(t, func() bool {
		_, err := os.Stat(filepath.Join(inbox, FailedDir, "bad.png"))
		return err == nil
	})

	if _, err := os.Stat(filepath.Join(inbox, ImportedDir, "one.png")); err != nil {
		t.Errorf("imported file not moved: %v", err)
	}
	if imageCount(lib, d.DocumentID()) != 1 {
		t.Errorf("images = %d, want 1", imageCount(lib, d.DocumentID()))
	}
	if batches.Load() < 2 {
		t.Errorf("OnBatch calls = %d, want at least 2", batches.Load())
	}

	doc, _ := lib.Get(d.DocumentID())
	if doc.Name != "Inbox" {
		t.Errorf("document name = %q, want Inbox", doc.Name)
	}
}

func TestDaemon_KeepsSameNamedInboxFiles(t *testing.T) {
	d, lib, inbox := setupDaemon(t, nil, nil)

	for i, moved := range []string{"scan.png", "scan (1).png"} {
		if err := os.WriteFile(filepath.Join(inbox, "scan.png"), pngBytes, 0644); err != nil {
			t.Fatalf("Failed to write image: %v", err)
		}
		waitFor(t, func() bool {
			_, err := os.Stat(filepath.Join(inbox, ImportedDir, moved))
			return err == nil && imageCount(lib, d.DocumentID()) == i+1
		})
	}
	if err := os.WriteFile(filepath.Join(inbox, "scan.png"), []byte("not an image"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	waitFor(t, func() bool {
		_, err := os.Stat(filepath.Join(inbox, FailedDir, "scan.png"))
		return err == nil
	})

	if _, err := os.Stat(filepath.Join(inbox, ImportedDir, "scan (2).png")); err == nil {
		t.Error("failed file was moved to imported")
	}
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()
	if got := uniquePath(dir, "a.png"); got != filepath.Join(dir, "a.png") {
		t.Errorf("uniquePath() = %q, want a.png", got)
	}
	for _, name := range []string{"a.png", "a (1).png"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	if got := uniquePath(dir, "a.png"); got != filepath.Join(dir, "a (2).png") {
		t.Errorf("uniquePath() = %q, want a (2).png", got)
	}
	if got := uniquePath(dir, "README"); got != filepath.Join(dir, "README") {
		t.Errorf("uniquePath() = %q, want README", got)
	}
}

func TestDaemon_ReusesExistingDocument(t *testing.T) {
	inbox := t.TempDir()
	lib := gallery.NewLibrary(nil, nil)
	existing, err := lib.Create(context.Background(), "Scans")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(inbox, "queued.png"), pngBytes, 0644); err != nil {
		t.Fatalf("Failed to write image: %v", err)
	}

	d, err := New(lib, nil, &Config{InboxDir: inbox, DocumentName: "Scans", DebounceInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Start(ctx)

	waitFor(t, func() bool { return imageCount(lib, existing.ID) == 1 })
	if lib.Len() != 1 {
		t.Errorf("documents = %d, want the existing one only", lib.Len())
	}
	d.Stop()
}

func TestDaemon_TriggerSync(t *testing.T) {
	t.Run("runs a cycle", func(t *testing.T) {
		s := &fakeSyncer{}
		d, _, _ := setupDaemon(t, s, nil)
		if _, err := d.TriggerSync(context.Background()); err != nil {
			t.Fatalf("TriggerSync failed: %v", err)
		}
		if s.calls.Load() != 1 {
			t.Errorf("sync calls = %d, want 1", s.calls.Load())
		}
	})

	t.Run("in progress is skipped", func(t *testing.T) {
		d, _, _ := setupDaemon(t, &fakeSyncer{err: sync.ErrSyncInProgress}, nil)
		if _, err := d.TriggerSync(context.Background()); !errors.Is(err, sync.ErrSyncInProgress) {
			t.Errorf("TriggerSync error = %v, want ErrSyncInProgress", err)
		}
	})

	t.Run("no syncer", func(t *testing.T) {
		d, _, _ := setupDaemon(t, nil, nil)
		if _, err := d.TriggerSync(context.Background()); !errors.Is(err, sync.ErrNotConfigured) {
			t.Errorf("TriggerSync error = %v, want ErrNotConfigured", err)
		}
	})
}

func TestDaemon_SyncAfterImport(t *testing.T) {
	s := &fakeSyncer{}
	_, _, inbox := setupDaemon(t, s, func(c *Config) { c.SyncAfterImport = true })

	if err := os.WriteFile(filepath.Join(inbox, "a.png"), pngBytes, 0644); err != nil {
		t.Fatalf("Failed to write image: %v", err)
	}
	waitFor(t, func() bool { return s.calls.Load() >= 1 })
}

func TestDaemon_ScheduledSync(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the cron schedule")
	}
	s := &fakeSyncer{}
	setupDaemon(t, s, func(c *Config) { c.SyncSchedule = "@every 1s" })
	waitFor(t, func() bool { return s.calls.Load() >= 1 })
}

func TestDaemon_StopIsIdempotent(t *testing.T) {
	d, _, _ := setupDaemon(t, nil, nil)
	var wg gosync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Stop()
		}()
	}
	wg.Wait()
}
