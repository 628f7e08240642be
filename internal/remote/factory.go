package remote

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/steveyegge/docgallery/internal/gallery"
)

// Factory builds Clients from a persisted SyncConfig.
//
// The factory holds the process-wide pieces (HTTP client, limiter, logger,
// local blob store) and combines them with the per-configuration backend,
// credential and locator.
type Factory struct {
	base     Config
	baseURLs map[Type]string
}

// FactoryOption configures the factory
type FactoryOption func(*Factory)

// NewFactory creates a new Factory with the specified options.
//
// Default behavior:
//   - http.Client with a 60s timeout
//   - 5 requests/second, burst 5, shared by every client it creates
//   - slog.Default() for logging
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		base: Config{
			HTTPClient: &http.Client{Timeout: 60 * time.Second},
			Limiter:    rate.NewLimiter(rate.Limit(5), 5),
			UserAgent:  DefaultUserAgent,
		},
		baseURLs: make(map[Type]string),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithHTTPClient sets the HTTP client used by HTTP backends
func WithHTTPClient(c *http.Client) FactoryOption {
	return func(f *Factory) {
		f.base.HTTPClient = c
	}
}

// WithLimiter sets the shared request limiter. nil disables limiting.
func WithLimiter(l *rate.Limiter) FactoryOption {
	return func(f *Factory) {
		f.base.Limiter = l
	}
}

// WithLogger sets the logger handed to backends
func WithLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) {
		f.base.Logger = logger
	}
}

// WithBlobStore sets the local store used by the code backend
func WithBlobStore(b BlobStore) FactoryOption {
	return func(f *Factory) {
		f.base.Blobs = b
	}
}

// WithClock sets the time source used for payload timestamps
func WithClock(now func() time.Time) FactoryOption {
	return func(f *Factory) {
		f.base.Now = now
	}
}

// WithRegion sets the region used by the s3 backend
func WithRegion(region string) FactoryOption {
	return func(f *Factory) {
		f.base.Region = region
	}
}

// WithBaseURL overrides the API endpoint for one backend type
func WithBaseURL(t Type, url string) FactoryOption {
	return func(f *Factory) {
		if url != "" {
			f.baseURLs[t] = url
		}
	}
}

// Create builds the Client for sc.
//
// It does not talk to the remote; constructors only validate the locator
// and assemble the client. That makes Create usable for setup validation.
func (f *Factory) Create(sc gallery.SyncConfig) (Client, error) {
	t := Type(sc.Backend)
	constructor := getConstructor(t)
	if constructor == nil {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownBackend, sc.Backend, RegisteredTypes())
	}

	cfg := f.base
	cfg.Credential = sc.Credential
	cfg.Locator = sc.Locator
	cfg.BaseURL = f.baseURLs[t]

	client, err := constructor(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", t, err)
	}
	return client, nil
}
