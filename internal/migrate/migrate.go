// Package migrate moves collections in and out of docgallery as files.
//
// Import reads three shapes:
//
//   - a bare collection object, as stored under documentGalleryData
//   - a browser storage dump, {"documentGalleryData": "<collection JSON>"}
//   - a remote payload, {"documents": {...}, "lastSync": ..., "version": "1.0"}
//
// Export always writes the remote payload format.
package migrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/steveyegge/docgallery/internal/gallery"
	"github.com/steveyegge/docgallery/internal/remote"
	"github.com/steveyegge/docgallery/internal/store"
	"github.com/steveyegge/docgallery/internal/sync"
)

// Formats recognized by ReadFile.
const (
	FormatCollection = "collection"
	FormatBrowser    = "browser"
	FormatPayload    = "payload"
)

// ImportOptions configures Import.
type ImportOptions struct {
	Path string

	// Replace swaps the whole collection instead of merging.
	Replace bool

	// DryRun reports what would change without touching the library.
	DryRun bool
}

// ImportResult contains statistics about an import.
type ImportResult struct {
	Format   string
	Read     int
	Added    []string
	Updated  []string
	Dropped  []string
	Replaced bool

	// SaveErr is set when the library changed but was not persisted.
	SaveErr error
}

// ExportOptions configures Export.
type ExportOptions struct {
	Path string

	// Backup copies an existing file at Path to Path + ".bak" first.
	Backup bool
}

// ExportResult contains statistics about an export.
type ExportResult struct {
	Documents     int
	Images        int
	Bytes         int
	BackupCreated string
}

// ReadFile parses the collection in path and reports its format.
// Invalid documents are left out and returned in dropped.
func ReadFile(path string) (c gallery.Collection, format string, dropped []string, err error) {
	// #nosec G304 - controlled path from CLI
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse is ReadFile on in-memory data.
func Parse(data []byte) (gallery.Collection, string, []string, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, "", nil, fmt.Errorf("%w: %v", remote.ErrMalformedData, err)
	}

	if raw, ok := top[store.KeyCollection]; ok {
		// Browser storage holds the collection as a JSON string.
		var inner string
		if err := json.Unmarshal(raw, &inner); err == nil {
			raw = json.RawMessage(inner)
		}
		c, dropped, err := parseCollection(raw)
		return c, FormatBrowser, dropped, err
	}

	if docs, ok := top["documents"]; ok && bytes.HasPrefix(bytes.TrimSpace(docs), []byte("{")) {
		p, dropped, err := remote.Decode(data)
		if err != nil {
			return nil, "", nil, err
		}
		return p.Documents, FormatPayload, dropped, nil
	}

	c, dropped, err := parseCollection(data)
	return c, FormatCollection, dropped, err
}

func parseCollection(data []byte) (gallery.Collection, []string, error) {
	var c gallery.Collection
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", remote.ErrMalformedData, err)
	}
	if c == nil {
		c = gallery.Collection{}
	}
	var dropped []string
	for id, doc := range c {
		if err := doc.Validate(); err != nil {
			dropped = append(dropped, id)
			delete(c, id)
		}
	}
	sort.Strings(dropped)
	return c, dropped, nil
}

// Import reads opts.Path and merges it into lib with the sync merge rule,
// so newer documents in the file win and ties keep the library version.
func Import(ctx context.Context, lib *gallery.Library, opts ImportOptions) (*ImportResult, error) {
	incoming, format, dropped, err := ReadFile(opts.Path)
	if err != nil {
		return nil, err
	}

	res := &ImportResult{Format: format, Read: len(incoming), Dropped: dropped}

	if opts.Replace {
		current := lib.Snapshot()
		for _, id := range incoming.IDs() {
			if _, ok := current[id]; ok {
				res.Updated = append(res.Updated, id)
			} else {
				res.Added = append(res.Added, id)
			}
		}
		res.Replaced = true
		if opts.DryRun {
			return res, nil
		}
		lib.Replace(incoming)
	} else {
		classify := func(current gallery.Collection) gallery.Collection {
			merged, taken := sync.MergeReport(current, incoming)
			for _, id := range taken {
				if _, ok := current[id]; ok {
					res.Updated = append(res.Updated, id)
				} else {
					res.Added = append(res.Added, id)
				}
			}
			return merged
		}
		if opts.DryRun {
			classify(lib.Snapshot())
			return res, nil
		}
		lib.Update(classify)
	}

	if err := lib.Persist(ctx); err != nil {
		res.SaveErr = err
	}
	return res, nil
}

// Export writes c to opts.Path in the remote payload format.
// The file is replaced atomically.
func Export(c gallery.Collection, opts ExportOptions, now time.Time) (*ExportResult, error) {
	data, err := remote.Encode(c, now)
	if err != nil {
		return nil, err
	}

	res := &ExportResult{Documents: len(c), Images: c.ImageCount(), Bytes: len(data)}

	if opts.Backup {
		if old, err := os.ReadFile(opts.Path); err == nil {
			backup := opts.Path + ".bak"
			if err := os.WriteFile(backup, old, 0o600); err != nil {
				return nil, fmt.Errorf("failed to write backup: %w", err)
			}
			res.BackupCreated = backup
		}
	}

	if dir := filepath.Dir(opts.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(opts.Path), ".export-*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to write export: %w", err)
	}
	if err := os.Rename(tmp.Name(), opts.Path); err != nil {
		return nil, fmt.Errorf("failed to move export into place: %w", err)
	}
	return res, nil
}
