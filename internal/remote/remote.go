// Package remote defines the Remote Store Client used by the sync
// orchestrator and the pieces shared by its backends.
//
// A remote is a single JSON blob (see Encode) addressed by a backend-specific
// locator and guarded by an opaque revision token for optimistic
// concurrency. Backends live in subpackages and register themselves:
//
//	import _ "github.com/steveyegge/docgallery/internal/remote/github"
//
//	client, err := remote.NewFactory(remote.WithLogger(logger)).Create(syncCfg)
//	snap, err := client.Fetch(ctx)
//	res, err := client.Write(ctx, merged, snap.Revision)
//
// Backends never retry. Every failure is returned as an *Error carrying a
// Kind so callers can tell "not there yet" apart from a rejected credential
// or an unreachable host.
package remote

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/steveyegge/docgallery/internal/gallery"
)

// Type identifies a backend variant.
type Type string

const (
	// TypeGitHub stores the blob as a file in a GitHub repository.
	TypeGitHub Type = "github"

	// TypeGist stores the blob as a file in a GitHub gist.
	TypeGist Type = "gist"

	// TypeCode keeps snapshots in the local store under a 6-character code.
	TypeCode Type = "code"

	// TypeS3 stores the blob as an object in an S3-compatible bucket.
	TypeS3 Type = "s3"

	// TypeRedis stores the blob in a Redis hash.
	TypeRedis Type = "redis"
)

// Client reads and writes the remote snapshot.
type Client interface {
	// Fetch returns the current remote snapshot. A remote that does not
	// exist yet is reported as an error of KindNotFound.
	Fetch(ctx context.Context) (*Snapshot, error)

	// Write replaces the remote blob with coll. revision must be the token
	// from the preceding Fetch when the remote existed, and empty otherwise.
	Write(ctx context.Context, coll gallery.Collection, revision string) (*WriteResult, error)
}

// Snapshot is a fetched remote state. It is never persisted locally.
type Snapshot struct {
	Collection gallery.Collection

	// Revision is the opaque token to hand back to Write.
	Revision string

	// LastSync is the writer's timestamp from the payload, if present.
	LastSync *time.Time

	// Dropped lists document ids that failed validation and were skipped.
	Dropped []string

	// Invalid holds the skipped documents as decoded, so a write can carry
	// them back unchanged.
	Invalid gallery.Collection
}

// WriteResult describes a completed write.
type WriteResult struct {
	Revision string

	// Locator is set when the backend created a new resource and the
	// configuration must remember where it lives.
	Locator string
}

// BlobStore is the subset of the local store the code backend needs.
type BlobStore interface {
	LoadRaw(ctx context.Context, key string) ([]byte, bool)
	SaveRaw(ctx context.Context, key string, data []byte) error
}

// Config is what a backend constructor receives.
type Config struct {
	Credential string
	Locator    string

	// BaseURL overrides the backend's API endpoint.
	BaseURL string

	// Region is used by the s3 backend.
	Region string

	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Logger     *slog.Logger
	Blobs      BlobStore
	Now        func() time.Time
	UserAgent  string
}

// DefaultUserAgent is sent by HTTP backends unless overridden.
const DefaultUserAgent = "docgallery-sync/1.0"

// Clock returns the configured time source.
func (c Config) Clock() func() time.Time {
	if c.Now != nil {
		return c.Now
	}
	return time.Now
}

// LoggerFor returns the configured logger tagged for backend t.
func (c Config) LoggerFor(t Type) *slog.Logger {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", "remote", "backend", string(t))
}
