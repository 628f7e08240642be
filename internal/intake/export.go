package intake

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/steveyegge/docgallery/internal/gallery"
)

// Export writes the images of doc into dir and returns the written paths.
// Unnamed images are written as <doc>_image_<n>. Existing files are not
// overwritten; a numeric suffix is added instead.
func Export(doc *gallery.Document, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	written := make([]string, 0, len(doc.Images))
	for i, img := range doc.Images {
		mimeType, data, err := DecodeDataURL(img.Content)
		if err != nil {
			return written, fmt.Errorf("image %d: %w", i+1, err)
		}

		name := exportName(doc.Name, i, img.Name, mimeType)
		path, err := uniquePath(dir, name)
		if err != nil {
			return written, err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func exportName(docName string, index int, name, mimeType string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name != "" && name != "." && name != string(filepath.Separator) {
		return name
	}
	base := fmt.Sprintf("%s_image_%d", sanitize(docName), index+1)
	if mt := mimetype.Lookup(mimeType); mt != nil {
		base += mt.Extension()
	}
	return base
}

func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
	if s == "" {
		return "document"
	}
	return s
}

func uniquePath(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 0; n < 1000; n++ {
		candidate := name
		if n > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
		}
		path := filepath.Join(dir, candidate)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path, nil
		}
	}
	return "", fmt.Errorf("no free file name for %s in %s", name, dir)
}
