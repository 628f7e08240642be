package gallery

import (
	"fmt"
	"strings"
	"time"
)

// ImageRecord is one image inside a Document.
// Content is a self-contained data URL; nothing references external files.
type ImageRecord struct {
	Name       string    `json:"name"`
	Content    string    `json:"url"`
	UploadedAt time.Time `json:"uploadDate"`
	SizeBytes  int64     `json:"size"`
	MimeType   string    `json:"type"`

	// OriginalName is set only when Name differs from the name the user
	// supplied, e.g. after the extension was normalized.
	OriginalName string `json:"originalName,omitempty"`
}

// Validate checks if the ImageRecord has valid field values.
func (r *ImageRecord) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("image name is required")
	}
	if r.Content == "" {
		return fmt.Errorf("image %s has no content", r.Name)
	}
	if r.SizeBytes < 0 {
		return fmt.Errorf("image %s has negative size %d", r.Name, r.SizeBytes)
	}
	return nil
}

// Document is a named grouping of images.
//
// ID is the collection key; it is not repeated inside the JSON object and is
// restored from the key when a Collection is decoded.
type Document struct {
	ID     string        `json:"-"`
	Name   string        `json:"name"`
	Images []ImageRecord `json:"images"`

	// ===== Timestamps (last-writer-wins) =====
	CreatedAt time.Time `json:"createdDate"`
	// LastModified is nil until the document is edited or synced.
	// Merge treats nil as the oldest possible time.
	LastModified *time.Time `json:"lastModified,omitempty"`
}

// Validate checks if the Document has valid field values.
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("document %s: name is required", d.ID)
	}
	for i := range d.Images {
		if err := d.Images[i].Validate(); err != nil {
			return fmt.Errorf("document %s: image %d: %w", d.ID, i, err)
		}
	}
	return nil
}

// SetDefaults fills optional fields that older records may omit.
func (d *Document) SetDefaults() {
	if d.Images == nil {
		d.Images = []ImageRecord{}
	}
}

// Touch sets LastModified to t.
func (d *Document) Touch(t time.Time) {
	t = t.UTC()
	d.LastModified = &t
}

// ModifiedAt returns LastModified, or the zero time when it is unset.
func (d *Document) ModifiedAt() time.Time {
	if d.LastModified == nil {
		return time.Time{}
	}
	return *d.LastModified
}

// TotalSize returns the sum of the image sizes in bytes.
func (d *Document) TotalSize() int64 {
	var total int64
	for _, img := range d.Images {
		total += img.SizeBytes
	}
	return total
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Images = make([]ImageRecord, len(d.Images))
	copy(c.Images, d.Images)
	if d.LastModified != nil {
		t := *d.LastModified
		c.LastModified = &t
	}
	return &c
}
