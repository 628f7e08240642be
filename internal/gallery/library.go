package gallery

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Saver persists a collection.
type Saver interface {
	SaveCollection(ctx context.Context, c Collection) error
}

// Updater is a Saver that can rewrite the stored collection in one locked
// read-modify-write. fn receives the collection as currently stored, which
// may include documents written by other processes, and returns the
// collection to store; fn may modify stored. The Local Store implements it.
type Updater interface {
	Saver
	UpdateCollection(ctx context.Context, fn func(stored Collection) Collection) error
}

// Library owns the live Collection for one session.
//
// It is the explicit application state handed to whatever drives the UI
// (CLI commands, the daemon, the status feed). Every mutation runs under a
// single mutex and is persisted immediately; a failed save leaves the
// in-memory state authoritative and is returned to the caller, wrapped, so
// it can be reported as a warning.
//
// When the saver is an Updater, every save merges the stored record first:
// documents another process added or modified later are taken in, and
// documents it deleted are dropped unless edited here since the last save.
type Library struct {
	mu    sync.Mutex
	docs  Collection
	dirty map[string]struct{}
	saver Saver
	now   func() time.Time

	// Tracking since the last successful save.
	known   map[string]struct{}
	changed map[string]struct{}
	deleted map[string]struct{}
}

// LibraryOption configures a Library.
type LibraryOption func(*Library)

// WithClock overrides the time source.
func WithClock(now func() time.Time) LibraryOption {
	return func(l *Library) {
		l.now = now
	}
}

// NewLibrary returns a Library holding docs. A nil docs starts empty.
// saver may be nil, in which case nothing is persisted.
func NewLibrary(docs Collection, saver Saver, opts ...LibraryOption) *Library {
	if docs == nil {
		docs = Collection{}
	}
	l := &Library{
		docs:  docs,
		dirty: make(map[string]struct{}),
		saver: saver,
		now:   time.Now,
	}
	l.resetTracking()
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Snapshot returns a deep copy of the live collection.
func (l *Library) Snapshot() Collection {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.docs.Clone()
}

// Get returns a copy of document id.
func (l *Library) Get(id string) (*Document, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, ok := l.docs[id]
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}

// Len returns the number of documents.
func (l *Library) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.docs)
}

// Create adds a document and persists the collection.
// On a save failure the document is still returned along with the error.
func (l *Library) Create(ctx context.Context, name string) (*Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.docs.Create(name, l.now())
	if err != nil {
		return nil, err
	}
	l.changed[doc.ID] = struct{}{}
	return doc.Clone(), l.persistLocked(ctx)
}

// Rename renames document id. Renames that change nothing are not persisted.
func (l *Library) Rename(ctx context.Context, id, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	changed, err := l.docs.Rename(id, name)
	if err != nil || !changed {
		return changed, err
	}
	l.markEdited(id)
	return true, l.persistLocked(ctx)
}

// Delete removes document id. Unknown ids are a no-op.
func (l *Library) Delete(ctx context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.docs.Delete(id) {
		return false, nil
	}
	delete(l.dirty, id)
	delete(l.changed, id)
	l.deleted[id] = struct{}{}
	return true, l.persistLocked(ctx)
}

// AppendImages appends images to document id and persists.
func (l *Library) AppendImages(ctx context.Context, id string, images ...ImageRecord) error {
	if len(images) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.docs.AppendImages(id, images...); err != nil {
		return err
	}
	l.markEdited(id)
	return l.persistLocked(ctx)
}

// RemoveImage removes the image at index from document id and persists.
func (l *Library) RemoveImage(ctx context.Context, id string, index int) (ImageRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed, err := l.docs.RemoveImage(id, index)
	if err != nil {
		return ImageRecord{}, err
	}
	l.markEdited(id)
	return removed, l.persistLocked(ctx)
}

// Update replaces the live collection with fn's result in one step.
// fn receives a deep copy of the current collection. Documents that were
// edited and are still present stay marked as edited; documents fn leaves
// out count as deleted.
func (l *Library) Update(fn func(current Collection) Collection) Collection {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := fn(l.docs.Clone())
	if next == nil {
		next = Collection{}
	}
	for id := range l.docs {
		if _, ok := next[id]; !ok {
			delete(l.dirty, id)
			delete(l.changed, id)
			l.deleted[id] = struct{}{}
		}
	}
	l.docs = next
	return next.Clone()
}

// Replace swaps the whole collection for c. Pending edits are dropped.
func (l *Library) Replace(c Collection) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c == nil {
		c = Collection{}
	}
	l.docs = c.Clone()
	l.dirty = make(map[string]struct{})
	for id := range l.known {
		if _, ok := c[id]; !ok {
			l.deleted[id] = struct{}{}
		}
	}
	for id := range c {
		delete(l.deleted, id)
		l.changed[id] = struct{}{}
	}
}

// Stamp sets LastModified to t on the listed documents that still exist.
// Documents already modified after t keep their timestamp. Stamped
// documents are no longer considered edited.
func (l *Library) Stamp(ids []string, t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range ids {
		doc, ok := l.docs[id]
		if !ok || doc.ModifiedAt().After(t) {
			continue
		}
		doc.Touch(t)
		delete(l.dirty, id)
	}
}

// Persist stamps edited documents and saves the collection.
func (l *Library) Persist(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.persistLocked(ctx)
}

func (l *Library) markEdited(id string) {
	l.dirty[id] = struct{}{}
	l.changed[id] = struct{}{}
}

func (l *Library) resetTracking() {
	l.known = make(map[string]struct{}, len(l.docs))
	for id := range l.docs {
		l.known[id] = struct{}{}
	}
	l.changed = make(map[string]struct{})
	l.deleted = make(map[string]struct{})
}

func (l *Library) persistLocked(ctx context.Context) error {
	if len(l.dirty) > 0 {
		now := l.now()
		for id := range l.dirty {
			if doc, ok := l.docs[id]; ok {
				doc.Touch(now)
			}
		}
		l.dirty = make(map[string]struct{})
	}

	switch saver := l.saver.(type) {
	case nil:
		return nil
	case Updater:
		var merged Collection
		err := saver.UpdateCollection(ctx, func(stored Collection) Collection {
			merged = l.mergeStoredLocked(stored)
			return merged
		})
		if err != nil {
			return fmt.Errorf("failed to persist collection: %w", err)
		}
		l.docs = merged
	default:
		if err := saver.SaveCollection(ctx, l.docs); err != nil {
			return fmt.Errorf("failed to persist collection: %w", err)
		}
	}
	l.resetTracking()
	return nil
}

// mergeStoredLocked folds stored into a copy of the live collection.
func (l *Library) mergeStoredLocked(stored Collection) Collection {
	merged := l.docs.Clone()
	for id := range merged {
		if _, ok := stored[id]; ok {
			continue
		}
		_, wasStored := l.known[id]
		_, edited := l.changed[id]
		if wasStored && !edited {
			delete(merged, id)
		}
	}
	for id := range l.deleted {
		delete(stored, id)
	}
	merged.Absorb(stored)
	return merged
}
