package intake

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/steveyegge/docgallery/internal/gallery"
)

// DefaultMaxSize caps a single image file.
const DefaultMaxSize = 25 << 20

var (
	// ErrNotImage is returned for files whose content is not an image.
	ErrNotImage = errors.New("not an image")

	// ErrTooLarge is returned for files over the size cap.
	ErrTooLarge = errors.New("file too large")
)

// Extensions that name the same format as the detected one.
var extAliases = map[string]string{
	".jpeg": ".jpg",
	".jpe":  ".jpg",
	".tif":  ".tiff",
}

// Convert reads the file at path into an ImageRecord with an inline data URL.
//
// The type comes from the file content, not its name. When the extension
// does not match the detected type the name is rewritten and OriginalName
// keeps what the user picked.
func Convert(ctx context.Context, path string, maxSize int64, now time.Time) (gallery.ImageRecord, error) {
	if err := ctx.Err(); err != nil {
		return gallery.ImageRecord{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return gallery.ImageRecord{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return gallery.ImageRecord{}, fmt.Errorf("%s is a directory", path)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return gallery.ImageRecord{}, fmt.Errorf("%w: %s is %d bytes (max %d)", ErrTooLarge, path, info.Size(), maxSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return gallery.ImageRecord{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	mt := mimetype.Detect(data)
	mimeType, _, _ := strings.Cut(mt.String(), ";")
	if !strings.HasPrefix(mimeType, "image/") {
		return gallery.ImageRecord{}, fmt.Errorf("%w: %s is %s", ErrNotImage, filepath.Base(path), mimeType)
	}

	rec := gallery.ImageRecord{
		Name:       filepath.Base(path),
		Content:    EncodeDataURL(mimeType, data),
		UploadedAt: now.UTC(),
		SizeBytes:  int64(len(data)),
		MimeType:   mimeType,
	}
	if name, changed := normalizeName(rec.Name, mt.Extension()); changed {
		rec.OriginalName = rec.Name
		rec.Name = name
	}
	return rec, nil
}

func normalizeName(name, ext string) (string, bool) {
	if ext == "" {
		return name, false
	}
	cur := strings.ToLower(filepath.Ext(name))
	if alias, ok := extAliases[cur]; ok {
		cur = alias
	}
	if cur == ext {
		return name, false
	}
	return strings.TrimSuffix(name, filepath.Ext(name)) + ext, true
}

// EncodeDataURL builds a base64 data URL.
func EncodeDataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL splits a base64 data URL into its media type and bytes.
func DecodeDataURL(url string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("data URL has no payload")
	}
	mimeType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("data URL is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("invalid data URL payload: %w", err)
	}
	return mimeType, data, nil
}
