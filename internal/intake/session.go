// Package intake turns selected image files into document images.
//
// Each file in a batch is converted on its own; one bad file never aborts
// the others. A batch returns only after every file is accounted for.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/docgallery/internal/gallery"
)

// DefaultConcurrency bounds conversions running at once.
const DefaultConcurrency = 4

var (
	// ErrNoFiles is returned for an empty selection.
	ErrNoFiles = fmt.Errorf("%w: no files selected", gallery.ErrValidation)

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("intake session closed")
)

// Failure is one file that could not be converted.
type Failure struct {
	Path string
	Err  error
}

// Batch is the outcome of one Submit.
type Batch struct {
	// Added holds the appended images in selection order.
	Added []gallery.ImageRecord

	Failed []Failure

	// SaveErr is set when the images were appended but persisting failed.
	SaveErr error
}

// Message summarizes the batch for the user.
func (b *Batch) Message() string {
	var sb strings.Builder
	switch {
	case len(b.Added) > 0:
		fmt.Fprintf(&sb, "Uploaded %d image(s)", len(b.Added))
	default:
		sb.WriteString("No images were uploaded")
	}
	if n := len(b.Failed); n > 0 {
		fmt.Fprintf(&sb, ", %d file(s) failed", n)
	}
	return sb.String()
}

// Session appends converted files to one document.
//
// Close stops new submissions. Batches already running finish and append
// their images.
type Session struct {
	lib   *gallery.Library
	docID string

	concurrency int
	maxSize     int64
	now         func() time.Time
	logger      *slog.Logger

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// Option configures a Session.
type Option func(*Session)

// WithConcurrency bounds parallel conversions. Values below 1 are ignored.
func WithConcurrency(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithMaxSize caps the size of one file. Zero disables the cap.
func WithMaxSize(n int64) Option {
	return func(s *Session) {
		s.maxSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger.With("component", "intake")
		}
	}
}

// WithClock overrides the upload timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// NewSession returns a Session adding images to document docID.
func NewSession(lib *gallery.Library, docID string, opts ...Option) *Session {
	s := &Session{
		lib:         lib,
		docID:       docID,
		concurrency: DefaultConcurrency,
		maxSize:     DefaultMaxSize,
		now:         time.Now,
		logger:      slog.Default().With("component", "intake"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit converts paths and appends the images that succeeded.
//
// Per-file failures are reported in the batch, not as an error. The error
// is non-nil only when nothing could be appended: an empty selection, a
// closed session or a document that no longer exists.
func (s *Session) Submit(ctx context.Context, paths []string) (*Batch, error) {
	if len(paths) == 0 {
		return nil, ErrNoFiles
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	type outcome struct {
		rec gallery.ImageRecord
		err error
	}
	results := make([]outcome, len(paths))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, path := range paths {
		g.Go(func() error {
			rec, err := Convert(ctx, path, s.maxSize, s.now())
			results[i] = outcome{rec: rec, err: err}
			return nil
		})
	}
	_ = g.Wait()

	batch := &Batch{}
	for i, r := range results {
		if r.err != nil {
			s.logger.Warn("failed to convert file", "path", paths[i], "error", r.err)
			batch.Failed = append(batch.Failed, Failure{Path: paths[i], Err: r.err})
			continue
		}
		batch.Added = append(batch.Added, r.rec)
	}
	if len(batch.Added) == 0 {
		return batch, nil
	}

	// Appending does not depend on the caller still waiting.
	if err := s.lib.AppendImages(context.WithoutCancel(ctx), s.docID, batch.Added...); err != nil {
		if errors.Is(err, gallery.ErrNotFound) {
			return nil, err
		}
		s.logger.Warn("images appended but not saved", "doc", s.docID, "error", err)
		batch.SaveErr = err
	}
	s.logger.Info("images added", "doc", s.docID, "added", len(batch.Added), "failed", len(batch.Failed))
	return batch, nil
}

// Close stops accepting submissions and waits for running batches.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.inflight.Wait()
}
