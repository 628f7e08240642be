package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"github.com/steveyegge/docgallery/internal/gallery"
)

// lockRetryDelay is how often a blocked collection save retries the lock.
const lockRetryDelay = 25 * time.Millisecond

// LoadCollection returns the stored collection, or an empty one when the
// record is missing or malformed. Invalid documents are left out with a
// warning so one bad entry does not hide the rest; they stay in the record.
func (s *Store) LoadCollection(ctx context.Context) gallery.Collection {
	c, _ := s.readCollection(ctx)
	return c
}

// SaveCollection implements gallery.Saver. Stored documents that fail
// validation and are absent from c are written back unchanged.
func (s *Store) SaveCollection(ctx context.Context, c gallery.Collection) error {
	return s.UpdateCollection(ctx, func(gallery.Collection) gallery.Collection { return c })
}

// UpdateCollection implements gallery.Updater. The read, fn and the write
// run under an exclusive file lock next to the database, so concurrent
// processes never overwrite each other's documents unseen.
func (s *Store) UpdateCollection(ctx context.Context, fn func(stored gallery.Collection) gallery.Collection) error {
	lock := flock.New(s.path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("%w: failed to lock %s: %v", ErrStorage, KeyCollection, err)
	}
	if !locked {
		return fmt.Errorf("%w: failed to lock %s", ErrStorage, KeyCollection)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("failed to release collection lock", "error", err)
		}
	}()

	stored, invalid := s.readCollection(ctx)
	next := fn(stored)

	record := make(map[string]json.RawMessage, len(next)+len(invalid))
	for id, raw := range invalid {
		record[id] = raw
	}
	for id, doc := range next {
		if doc == nil {
			continue
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("%w: failed to encode document %s: %v", ErrStorage, id, err)
		}
		record[id] = data
	}
	return s.Save(ctx, KeyCollection, record)
}

// readCollection decodes the collection record entry by entry. Entries
// that do not decode or validate are returned raw in invalid.
func (s *Store) readCollection(ctx context.Context) (valid gallery.Collection, invalid map[string]json.RawMessage) {
	valid = gallery.Collection{}
	var entries map[string]json.RawMessage
	if !s.Load(ctx, KeyCollection, &entries) {
		return valid, nil
	}

	for id, raw := range entries {
		if string(raw) == "null" {
			continue
		}
		var doc gallery.Document
		err := json.Unmarshal(raw, &doc)
		if err == nil {
			doc.ID = id
			doc.SetDefaults()
			err = doc.Validate()
		}
		if err != nil {
			s.logger.Warn("skipping invalid document", "id", id, "error", err)
			if invalid == nil {
				invalid = make(map[string]json.RawMessage)
			}
			invalid[id] = raw
			continue
		}
		valid[id] = &doc
	}
	return valid, invalid
}

// LoadSyncConfig returns the stored sync configuration, or an inactive one.
func (s *Store) LoadSyncConfig(ctx context.Context) gallery.SyncConfig {
	var cfg gallery.SyncConfig
	if !s.Load(ctx, KeySyncConfig, &cfg) {
		return gallery.SyncConfig{}
	}
	return cfg
}

// SaveSyncConfig persists cfg.
func (s *Store) SaveSyncConfig(ctx context.Context, cfg gallery.SyncConfig) error {
	return s.Save(ctx, KeySyncConfig, cfg)
}
