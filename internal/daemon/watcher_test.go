package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestNewFileWatcher verifies that creating a new FileWatcher succeeds.
func TestNewFileWatcher(t *testing.T) {
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if fw.IsRunning() {
		t.Error("Newly created watcher should not be running")
	}
}

// TestFileWatcher_StartStop verifies that the watcher can start and stop cleanly.
func TestFileWatcher_StartStop(t *testing.T) {
	dir := t.TempDir()

	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	if err := fw.Start(dir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !fw.IsRunning() {
		t.Error("Watcher should be running after Start()")
	}
	if err := fw.Start(dir); err == nil {
		t.Error("Start() on a running watcher should fail")
	}

	if err := fw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if fw.IsRunning() {
		t.Error("Watcher should not be running after Stop()")
	}
	if err := fw.Stop(); err != nil {
		t.Errorf("second Stop() failed: %v", err)
	}
	if _, ok := <-fw.Events(); ok {
		t.Error("Events channel should be closed after Stop()")
	}
}

func TestFileWatcher_MissingDir(t *testing.T) {
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if err := fw.Start(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Start() on a missing directory should fail")
	}
}

// TestFileWatcher_ImageEvents verifies that only image files produce events.
func TestFileWatcher_ImageEvents(t *testing.T) {
	dir := t.TempDir()

	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	if err := fw.Start(dir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer fw.Stop()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	imgPath := filepath.Join(dir, "scan.PNG")
	if err := os.WriteFile(imgPath, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	select {
	case ev := <-fw.Events():
		if ev.Path != imgPath {
			t.Errorf("event path = %s, want %s", ev.Path, imgPath)
		}
		if ev.Op != OpCreate && ev.Op != OpModify {
			t.Errorf("event op = %v", ev.Op)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event for image file")
	}
}

func TestIsImageName(t *testing.T) {
	tests := map[string]bool{
		"a.png":       true,
		"b.JPG":       true,
		"c.heic":      true,
		"d.txt":       false,
		"noext":       false,
		".png.swp":    false,
		"archive.zip": false,
	}
	for name, want := range tests {
		if got := IsImageName(name); got != want {
			t.Errorf("IsImageName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestEventOp_String(t *testing.T) {
	if OpCreate.String() != "create" || OpModify.String() != "modify" || EventOp(9).String() != "unknown" {
		t.Error("unexpected EventOp strings")
	}
}
