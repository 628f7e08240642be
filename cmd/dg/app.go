package main

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/time/rate"

	"github.com/steveyegge/docgallery/internal/gallery"
	"github.com/steveyegge/docgallery/internal/remote"
	"github.com/steveyegge/docgallery/internal/store"
	"github.com/steveyegge/docgallery/internal/sync"

	// Remote backends register themselves with the factory.
	_ "github.com/steveyegge/docgallery/internal/remote/code"
	_ "github.com/steveyegge/docgallery/internal/remote/gist"
	_ "github.com/steveyegge/docgallery/internal/remote/github"
	_ "github.com/steveyegge/docgallery/internal/remote/redis"
	_ "github.com/steveyegge/docgallery/internal/remote/s3"
)

// app holds the pieces every data command needs.
type app struct {
	store   *store.Store
	lib     *gallery.Library
	factory *remote.Factory
}

// openApp opens the local store and loads the collection.
func openApp(ctx context.Context) (*app, error) {
	st, err := store.Open(cfg.DBPath(), store.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return &app{
		store:   st,
		lib:     gallery.NewLibrary(st.LoadCollection(ctx), st),
		factory: newFactory(st),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// newFactory builds the remote client factory from the loaded config.
func newFactory(blobs remote.BlobStore) *remote.Factory {
	var limiter *rate.Limiter
	if cfg.Sync.RateLimit > 0 {
		burst := cfg.Sync.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Sync.RateLimit), burst)
	}
	return remote.NewFactory(
		remote.WithHTTPClient(&http.Client{Timeout: cfg.Sync.Timeout}),
		remote.WithLimiter(limiter),
		remote.WithLogger(logger),
		remote.WithBlobStore(blobs),
		remote.WithRegion(cfg.Sync.S3Region),
		remote.WithBaseURL(remote.TypeGitHub, cfg.Sync.GitHubURL),
		remote.WithBaseURL(remote.TypeGist, cfg.Sync.GistURL),
		remote.WithBaseURL(remote.TypeS3, cfg.Sync.S3URL),
	)
}

// syncer builds a Syncer over the library. DG_SYNC_TOKEN overrides the
// stored credential for this process only.
func (a *app) syncer(observers ...sync.Observer) sync.Syncer {
	opts := []sync.Option{
		sync.WithLogger(logger),
		sync.WithLockFile(cfg.LockPath()),
	}
	if cfg.Sync.Token != "" {
		opts = append(opts, sync.WithCredential(cfg.Sync.Token))
	}
	for _, o := range observers {
		opts = append(opts, sync.WithObserver(o))
	}
	return sync.New(a.lib, a.store, a.factory, opts...)
}

// resolveDocument finds a document by id, unique id prefix, or unique name.
func resolveDocument(lib *gallery.Library, ref string) (*gallery.Document, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: document reference is empty", gallery.ErrValidation)
	}
	if doc, ok := lib.Get(ref); ok {
		return doc, nil
	}

	snap := lib.Snapshot()
	var byPrefix, byName []*gallery.Document
	for _, id := range snap.IDs() {
		doc := snap[id]
		if strings.HasPrefix(id, ref) {
			byPrefix = append(byPrefix, doc)
		}
		if doc.Name == ref {
			byName = append(byName, doc)
		}
	}
	for _, matches := range [][]*gallery.Document{byPrefix, byName} {
		switch len(matches) {
		case 0:
			continue
		case 1:
			return matches[0], nil
		default:
			ids := make([]string, len(matches))
			for i, d := range matches {
				ids[i] = d.ID
			}
			sort.Strings(ids)
			return nil, fmt.Errorf("%q is ambiguous: %s", ref, strings.Join(ids, ", "))
		}
	}
	return nil, fmt.Errorf("%w: %s", gallery.ErrNotFound, ref)
}
