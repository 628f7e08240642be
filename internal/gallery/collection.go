package gallery

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Collection maps document id to Document.
// Keys are unique; iteration order carries no meaning.
type Collection map[string]*Document

// UnmarshalJSON decodes a collection and restores each document's ID from
// its key. Null entries are dropped.
func (c *Collection) UnmarshalJSON(data []byte) error {
	var raw map[string]*Document
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(Collection, len(raw))
	for id, doc := range raw {
		if doc == nil {
			continue
		}
		doc.ID = id
		doc.SetDefaults()
		out[id] = doc
	}
	*c = out
	return nil
}

// Create adds a new, empty document named name and returns it.
// Names are trimmed; an empty or whitespace-only name is rejected with
// ErrValidation and the collection is left unchanged.
func (c Collection) Create(name string, now time.Time) (*Document, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: document name is required", ErrValidation)
	}

	id := NewID(now)
	for c[id] != nil {
		id = NewID(now)
	}

	doc := &Document{
		ID:        id,
		Name:      name,
		Images:    []ImageRecord{},
		CreatedAt: now.UTC(),
	}
	c[id] = doc
	return doc, nil
}

// Rename changes the name of document id.
// It is a no-op, reporting false, when name is empty or equal to the
// current name.
func (c Collection) Rename(id, name string) (bool, error) {
	doc, ok := c[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	name = strings.TrimSpace(name)
	if name == "" || name == doc.Name {
		return false, nil
	}

	doc.Name = name
	return true, nil
}

// Delete removes document id and all its images.
// Deleting an unknown id is a no-op. It reports whether anything was removed.
func (c Collection) Delete(id string) bool {
	if _, ok := c[id]; !ok {
		return false
	}
	delete(c, id)
	return true
}

// AppendImages appends images to document id, preserving their order.
// Existing entries are never modified.
func (c Collection) AppendImages(id string, images ...ImageRecord) error {
	doc, ok := c[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	doc.Images = append(doc.Images, images...)
	return nil
}

// RemoveImage removes the image at index from document id and returns it.
func (c Collection) RemoveImage(id string, index int) (ImageRecord, error) {
	doc, ok := c[id]
	if !ok {
		return ImageRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if index < 0 || index >= len(doc.Images) {
		return ImageRecord{}, fmt.Errorf("%w: %d (document has %d images)", ErrIndex, index, len(doc.Images))
	}

	removed := doc.Images[index]
	images := make([]ImageRecord, 0, len(doc.Images)-1)
	images = append(images, doc.Images[:index]...)
	images = append(images, doc.Images[index+1:]...)
	doc.Images = images
	return removed, nil
}

// Clone returns a deep copy of the collection.
func (c Collection) Clone() Collection {
	out := make(Collection, len(c))
	for id, doc := range c {
		out[id] = doc.Clone()
	}
	return out
}

// Absorb copies into c every document of other that c lacks or that other
// modified strictly later. A missing lastModified counts as the oldest
// possible, so ties keep c's copy. It returns the sorted ids taken.
func (c Collection) Absorb(other Collection) []string {
	var taken []string
	for id, o := range other {
		if o == nil {
			continue
		}
		if mine, ok := c[id]; ok && !o.ModifiedAt().After(mine.ModifiedAt()) {
			continue
		}
		doc := o.Clone()
		doc.ID = id
		c[id] = doc
		taken = append(taken, id)
	}
	sort.Strings(taken)
	return taken
}

// IDs returns the document ids in display order: creation time, then id.
func (c Collection) IDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := c[ids[i]], c[ids[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Stamp sets LastModified to t on every document.
func (c Collection) Stamp(t time.Time) {
	for _, doc := range c {
		doc.Touch(t)
	}
}

// Validate validates every document and returns the first error.
func (c Collection) Validate() error {
	for _, id := range c.IDs() {
		doc := c[id]
		if doc.ID != id {
			return fmt.Errorf("document key %s does not match id %q", id, doc.ID)
		}
		if err := doc.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ImageCount returns the number of images across all documents.
func (c Collection) ImageCount() int {
	n := 0
	for _, doc := range c {
		n += len(doc.Images)
	}
	return n
}
