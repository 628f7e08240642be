package gallery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recordingSaver captures saved collections and can be told to fail.
type recordingSaver struct {
	mu    sync.Mutex
	saved []Collection
	err   error
}

func (s *recordingSaver) SaveCollection(_ context.Context, c Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, c.Clone())
	return nil
}

func (s *recordingSaver) last() Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		return nil
	}
	return s.saved[len(s.saved)-1]
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestLibrary_MutationsPersist(t *testing.T) {
	ctx := context.Background()
	saver := &recordingSaver{}
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	lib := NewLibrary(nil, saver, WithClock(fixedClock(now)))

	doc, err := lib.Create(ctx, "Trip")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if got := saver.last(); got == nil || got[doc.ID] == nil {
		t.Fatal("Create did not persist the new document")
	}
	if saver.last()[doc.ID].LastModified != nil {
		t.Error("new document should not carry lastModified")
	}

	changed, err := lib.Rename(ctx, doc.ID, "Trip 2024")
	if err != nil || !changed {
		t.Fatalf("Rename = %v, %v", changed, err)
	}
	saved := saver.last()[doc.ID]
	if saved.Name != "Trip 2024" {
		t.Errorf("saved name = %q", saved.Name)
	}
	if saved.LastModified == nil || !saved.LastModified.Equal(now) {
		t.Errorf("rename should bump lastModified at persistence, got %v", saved.LastModified)
	}

	saves := len(saver.saved)
	if changed, _ := lib.Rename(ctx, doc.ID, "Trip 2024"); changed {
		t.Error("identical rename reported a change")
	}
	if len(saver.saved) != saves {
		t.Error("no-op rename should not persist")
	}

	if err := lib.AppendImages(ctx, doc.ID, testImage("a.png")); err != nil {
		t.Fatalf("AppendImages failed: %v", err)
	}
	if _, err := lib.RemoveImage(ctx, doc.ID, 5); !errors.Is(err, ErrIndex) {
		t.Errorf("RemoveImage out of range error = %v, want ErrIndex", err)
	}

	removed, err := lib.Delete(ctx, doc.ID)
	if err != nil || !removed {
		t.Fatalf("Delete = %v, %v", removed, err)
	}
	if removed, err := lib.Delete(ctx, doc.ID); err != nil || removed {
		t.Errorf("second Delete = %v, %v; want false, nil", removed, err)
	}
	if len(saver.last()) != 0 {
		t.Errorf("saved collection has %d documents after delete", len(saver.last()))
	}
}

func TestLibrary_SaveFailureKeepsMemoryState(t *testing.T) {
	ctx := context.Background()
	storageErr := errors.New("quota exceeded")
	saver := &recordingSaver{err: storageErr}
	lib := NewLibrary(nil, saver)

	doc, err := lib.Create(ctx, "Trip")
	if !errors.Is(err, storageErr) {
		t.Fatalf("Create error = %v, want wrapped storage error", err)
	}
	if doc == nil {
		t.Fatal("Create should still return the document on save failure")
	}
	if _, ok := lib.Get(doc.ID); !ok {
		t.Error("document missing from memory after failed save")
	}
}

func TestLibrary_UpdateKeepsConcurrentEdits(t *testing.T) {
	ctx := context.Background()
	lib := NewLibrary(nil, &recordingSaver{})

	a, _ := lib.Create(ctx, "A")
	b, _ := lib.Create(ctx, "B")

	// Simulate an edit that lands after a sync took its snapshot.
	if _, err := lib.Rename(ctx, b.ID, "B edited"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}

	merged := lib.Update(func(current Collection) Collection {
		current[a.ID].Name = "A from remote"
		return current
	})

	if merged[b.ID].Name != "B edited" {
		t.Errorf("edit lost by Update: %q", merged[b.ID].Name)
	}
	got, _ := lib.Get(a.ID)
	if got.Name != "A from remote" {
		t.Errorf("Update not applied: %q", got.Name)
	}
}

func TestLibrary_StampOnlyExisting(t *testing.T) {
	ctx := context.Background()
	lib := NewLibrary(nil, nil)
	a, _ := lib.Create(ctx, "A")

	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lib.Stamp([]string{a.ID, "doc_gone"}, at)

	got, _ := lib.Get(a.ID)
	if got.LastModified == nil || !got.LastModified.Equal(at) {
		t.Errorf("LastModified = %v, want %v", got.LastModified, at)
	}
	if lib.Len() != 1 {
		t.Errorf("Stamp created documents: len = %d", lib.Len())
	}
}

func TestLibrary_SnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	lib := NewLibrary(nil, nil)
	a, _ := lib.Create(ctx, "A")

	snap := lib.Snapshot()
	snap[a.ID].Name = "mutated"

	got, _ := lib.Get(a.ID)
	if got.Name != "A" {
		t.Errorf("snapshot mutation leaked into library: %q", got.Name)
	}
}

func TestLibrary_StampKeepsLaterEdits(t *testing.T) {
	ctx := context.Background()
	edit := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	lib := NewLibrary(nil, &recordingSaver{}, WithClock(fixedClock(edit)))
	a, _ := lib.Create(ctx, "A")
	if _, err := lib.Rename(ctx, a.ID, "A edited"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}

	lib.Stamp([]string{a.ID}, edit.Add(-time.Hour))

	got, _ := lib.Get(a.ID)
	if !got.ModifiedAt().Equal(edit) {
		t.Errorf("LastModified = %v, want later edit %v kept", got.LastModified, edit)
	}
}

func TestLibrary_Replace(t *testing.T) {
	ctx := context.Background()
	lib := NewLibrary(nil, nil)
	_, _ = lib.Create(ctx, "A")

	next := Collection{}
	b, _ := next.Create("B", time.Now())
	lib.Replace(next)
	next[b.ID].Name = "mutated after replace"

	if lib.Len() != 1 {
		t.Fatalf("Len = %d, want 1", lib.Len())
	}
	got, ok := lib.Get(b.ID)
	if !ok || got.Name != "B" {
		t.Errorf("Replace did not take a copy: %+v", got)
	}
}

// sharedRecord is an Updater over one in-memory record, standing in for a
// store that several libraries write to.
type sharedRecord struct {
	mu   sync.Mutex
	data Collection
}

func (r *sharedRecord) SaveCollection(ctx context.Context, c Collection) error {
	return r.UpdateCollection(ctx, func(Collection) Collection { return c })
}

func (r *sharedRecord) UpdateCollection(_ context.Context, fn func(Collection) Collection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = fn(r.data.Clone()).Clone()
	return nil
}

func TestLibrary_SaveMergesStoredRecord(t *testing.T) {
	ctx := context.Background()
	record := &sharedRecord{}
	t0 := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	first := NewLibrary(nil, record, WithClock(fixedClock(t0)))
	shared, _ := first.Create(ctx, "Shared")

	second := NewLibrary(record.data.Clone(), record, WithClock(fixedClock(t0.Add(time.Hour))))
	if _, err := second.Rename(ctx, shared.ID, "Renamed later"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	extra, _ := second.Create(ctx, "Extra")

	mine, err := first.Create(ctx, "Mine")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	for _, id := range []string{shared.ID, extra.ID, mine.ID} {
		if record.data[id] == nil {
			t.Errorf("record lost document %s", id)
		}
	}
	if got, _ := first.Get(shared.ID); got.Name != "Renamed later" {
		t.Errorf("first library name = %q, want the newer stored copy", got.Name)
	}

	// an older local edit does not overwrite a newer stored one
	if _, err := first.Rename(ctx, shared.ID, "Renamed earlier"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if got := record.data[shared.ID].Name; got != "Renamed later" {
		t.Errorf("stored name = %q, want the later rename to win", got)
	}

	if _, err := second.Delete(ctx, extra.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := first.Persist(ctx); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if record.data[extra.ID] != nil {
		t.Error("deleted document revived by the other library")
	}
	if _, ok := first.Get(extra.ID); ok {
		t.Error("deleted document still live in the other library")
	}
}
