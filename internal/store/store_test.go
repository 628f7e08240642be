package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/steveyegge/docgallery/internal/gallery"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	st, err := Open(filepath.Join(t.TempDir(), "nested", "gallery.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t)

	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	if err := st.Save(ctx, "k", record{Name: "a", Count: 1}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := st.Save(ctx, "k", record{Name: "b", Count: 2}); err != nil {
		t.Fatalf("Save overwrite failed: %v", err)
	}

	var got record
	if !st.Load(ctx, "k", &got) {
		t.Fatal("Load reported missing record")
	}
	if got != (record{Name: "b", Count: 2}) {
		t.Errorf("Load = %+v, want overwritten value", got)
	}
}

func TestStore_LoadMissingAndMalformed(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t)

	var v map[string]any
	if st.Load(ctx, "absent", &v) {
		t.Error("Load(absent) = true")
	}

	if err := st.SaveRaw(ctx, "broken", []byte("{not json")); err != nil {
		t.Fatalf("SaveRaw failed: %v", err)
	}
	if st.Load(ctx, "broken", &v) {
		t.Error("Load(malformed) = true, want false")
	}
	if v != nil {
		t.Errorf("malformed load modified target: %v", v)
	}
}

func TestStore_DeleteAndKeys(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t)

	for _, key := range []string{SyncCodeKeyPrefix + "ZZZ999", SyncCodeKeyPrefix + "ABC123", KeyCollection} {
		if err := st.SaveRaw(ctx, key, []byte(`{}`)); err != nil {
			t.Fatalf("SaveRaw(%s) failed: %v", key, err)
		}
	}

	keys, err := st.Keys(ctx, SyncCodeKeyPrefix)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	want := []string{"syncCode:ABC123", "syncCode:ZZZ999"}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("Keys mismatch (-want +got):\n%s", diff)
	}

	if err := st.Delete(ctx, SyncCodeKeyPrefix+"ABC123"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := st.Delete(ctx, "never-there"); err != nil {
		t.Errorf("Delete(missing) = %v, want nil", err)
	}
	if _, ok := st.LoadRaw(ctx, SyncCodeKeyPrefix+"ABC123"); ok {
		t.Error("record still present after Delete")
	}
}

func TestStore_SaveAfterCloseWrapsErrStorage(t *testing.T) {
	ctx := context.Background()
	st, err := Open(filepath.Join(t.TempDir(), "gallery.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	conn := st.conn
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	st.conn = conn

	if err := st.Save(ctx, "k", 1); !errors.Is(err, ErrStorage) {
		t.Errorf("Save on closed store = %v, want ErrStorage", err)
	}
	st.conn = nil
}

func TestStore_CollectionRecord(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t)

	if got := st.LoadCollection(ctx); got == nil || len(got) != 0 {
		t.Fatalf("LoadCollection on empty store = %v, want empty collection", got)
	}

	c := gallery.Collection{}
	doc, err := c.Create("Trip", time.Date(2024, 6, 10, 7, 59, 12, 0, time.UTC))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := st.SaveCollection(ctx, c); err != nil {
		t.Fatalf("SaveCollection failed: %v", err)
	}

	got := st.LoadCollection(ctx)
	if diff := cmp.Diff(c, got); diff != "" {
		t.Errorf("collection round trip mismatch (-want +got):\n%s", diff)
	}
	if got[doc.ID].ID != doc.ID {
		t.Errorf("ID not restored from key: %q", got[doc.ID].ID)
	}
}

func TestStore_LoadCollectionSkipsInvalidDocuments(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t)

	raw := `{
		"doc_good": {"name": "Good", "images": [], "createdDate": "2024-06-10T07:59:12Z"},
		"doc_bad": {"name": "   ", "images": [], "createdDate": "2024-06-10T07:59:12Z"}
	}`
	if err := st.SaveRaw(ctx, KeyCollection, []byte(raw)); err != nil {
		t.Fatalf("SaveRaw failed: %v", err)
	}

	got := st.LoadCollection(ctx)
	if len(got) != 1 || got["doc_good"] == nil {
		t.Errorf("LoadCollection = %v, want only doc_good", got.IDs())
	}
}

func TestStore_SaveCollectionKeepsInvalidDocuments(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t)

	raw := `{
		"doc_good": {"name": "Good", "images": [], "createdDate": "2024-06-10T07:59:12Z"},
		"doc_bad": {"name": "   ", "images": [], "createdDate": "2024-06-10T07:59:12Z"}
	}`
	if err := st.SaveRaw(ctx, KeyCollection, []byte(raw)); err != nil {
		t.Fatalf("SaveRaw failed: %v", err)
	}

	lib := gallery.NewLibrary(st.LoadCollection(ctx), st)
	if _, err := lib.Create(ctx, "New"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	var record map[string]json.RawMessage
	if !st.Load(ctx, KeyCollection, &record) {
		t.Fatal("collection record missing")
	}
	if len(record) != 3 {
		t.Errorf("stored ids = %d, want 3", len(record))
	}
	if _, ok := record["doc_bad"]; !ok {
		t.Error("invalid document was removed from the record")
	}
	if got := st.LoadCollection(ctx); len(got) != 2 {
		t.Errorf("LoadCollection = %v, want 2 valid documents", got.IDs())
	}
}

// openPair opens two handles on one database, as two processes would.
func openPair(t *testing.T) (*Store, *Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gallery.db")
	a, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	b, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open second handle: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return a, b
}

func TestStore_ConcurrentLibrariesKeepEachOthersDocuments(t *testing.T) {
	ctx := context.Background()
	stA, stB := openPair(t)

	base := gallery.NewLibrary(nil, stA)
	existing, err := base.Create(ctx, "Existing")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// daemon loads once and keeps running
	daemon := gallery.NewLibrary(stB.LoadCollection(ctx), stB)

	// another command creates, edits and deletes meanwhile
	cli := gallery.NewLibrary(stA.LoadCollection(ctx), stA)
	created, err := cli.Create(ctx, "CreatedElsewhere")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := cli.Rename(ctx, existing.ID, "Renamed"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}

	inbox, err := daemon.Create(ctx, "Inbox")
	if err != nil {
		t.Fatalf("daemon Create failed: %v", err)
	}

	stored := stA.LoadCollection(ctx)
	for _, id := range []string{existing.ID, created.ID, inbox.ID} {
		if stored[id] == nil {
			t.Errorf("document %s lost from the record", id)
		}
	}
	if got := stored[existing.ID].Name; got != "Renamed" {
		t.Errorf("existing name = %q, want the later rename", got)
	}
	if _, ok := daemon.Get(created.ID); !ok {
		t.Error("daemon library did not pick up the other document")
	}

	// deletions made elsewhere stay deleted
	if _, err := cli.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := daemon.AppendImages(ctx, inbox.ID, gallery.ImageRecord{
		Name: "a.png", MimeType: "image/png", SizeBytes: 1,
		Content: "data:image/png;base64,AA==", UploadedAt: time.Now(),
	}); err != nil {
		t.Fatalf("AppendImages failed: %v", err)
	}
	stored = stA.LoadCollection(ctx)
	if stored[created.ID] != nil {
		t.Error("deleted document came back")
	}
	if _, ok := daemon.Get(created.ID); ok {
		t.Error("daemon library still holds the deleted document")
	}
	if n := len(stored[inbox.ID].Images); n != 1 {
		t.Errorf("inbox images = %d, want 1", n)
	}

	// and a document deleted here is not revived from the record
	if _, err := daemon.Delete(ctx, inbox.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := cli.Rename(ctx, existing.ID, "Again"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if stA.LoadCollection(ctx)[inbox.ID] != nil {
		t.Error("document deleted by one library was restored by the other")
	}
}

func TestStore_SyncConfigRecord(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t)

	if cfg := st.LoadSyncConfig(ctx); cfg.Configured() {
		t.Fatalf("first-run config = %+v, want inactive", cfg)
	}

	cfg := gallery.SyncConfig{Active: true, Backend: "github", Credential: "ghp_example", Locator: "me/gallery"}
	cfg.MarkSynced(time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC))
	if err := st.SaveSyncConfig(ctx, cfg); err != nil {
		t.Fatalf("SaveSyncConfig failed: %v", err)
	}

	got := st.LoadSyncConfig(ctx)
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("sync config mismatch (-want +got):\n%s", diff)
	}
}
