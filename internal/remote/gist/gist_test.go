package gist

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/docgallery/internal/gallery"
	"github.com/steveyegge/docgallery/internal/remote"
)

// fakeGists is an in-memory gist API honoring If-Match.
type fakeGists struct {
	mu       sync.Mutex
	gists    map[string]string
	versions map[string]int
	server   *httptest.Server
	truncate bool
}

func newFakeGists(t *testing.T) *fakeGists {
	t.Helper()
	f := &fakeGists{gists: map[string]string{}, versions: map[string]int{}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /gists", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Requires authentication"}`))
			return
		}
		var req gistRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.Public)
		assert.False(t, *req.Public)

		id := fmt.Sprintf("g%d", len(f.gists)+1)
		f.gists[id] = req.Files[FileName].Content
		f.versions[id] = 1
		w.Header().Set("ETag", f.etag(id))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
	})
	mux.HandleFunc("GET /gists/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id := r.PathValue("id")
		content, ok := f.gists[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		file := map[string]any{"content": content}
		if f.truncate {
			file = map[string]any{"content": content[:10], "truncated": true, "raw_url": f.server.URL + "/raw/" + id}
		}
		w.Header().Set("ETag", f.etag(id))
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "files": map[string]any{FileName: file}})
	})
	mux.HandleFunc("GET /raw/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_, _ = w.Write([]byte(f.gists[r.PathValue("id")]))
	})
	mux.HandleFunc("PATCH /gists/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id := r.PathValue("id")
		if _, ok := f.gists[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if m := r.Header.Get("If-Match"); m != "" && m != f.etag(id) {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		var req gistRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.gists[id] = req.Files[FileName].Content
		f.versions[id]++
		w.Header().Set("ETag", f.etag(id))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeGists) etag(id string) string {
	return fmt.Sprintf(`W/"%s-%d"`, id, f.versions[id])
}

func newClient(t *testing.T, f *fakeGists, id, token string) *Client {
	t.Helper()
	c, err := New(remote.Config{
		Credential: token,
		Locator:    id,
		BaseURL:    f.server.URL,
		Now:        func() time.Time { return time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return c
}

func oneDoc(t *testing.T) gallery.Collection {
	t.Helper()
	c := gallery.Collection{}
	_, err := c.Create("Receipts", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return c
}

func TestClient_CreatesGistOnFirstWrite(t *testing.T) {
	ctx := context.Background()
	f := newFakeGists(t)
	c := newClient(t, f, "", "tok")

	_, err := c.Fetch(ctx)
	assert.ErrorIs(t, err, remote.ErrNotFound)

	res, err := c.Write(ctx, oneDoc(t), "")
	require.NoError(t, err)
	assert.Equal(t, "g1", res.Locator)
	assert.Equal(t, `W/"g1-1"`, res.Revision)
	assert.Equal(t, "g1", c.ID())

	snap, err := c.Fetch(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Collection, 1)
	assert.Equal(t, `W/"g1-1"`, snap.Revision)

	res, err = c.Write(ctx, snap.Collection, snap.Revision)
	require.NoError(t, err)
	assert.Empty(t, res.Locator)
	assert.Equal(t, `W/"g1-2"`, res.Revision)
}

func TestClient_StaleETagIsConflict(t *testing.T) {
	ctx := context.Background()
	f := newFakeGists(t)
	c := newClient(t, f, "", "tok")
	_, err := c.Write(ctx, oneDoc(t), "")
	require.NoError(t, err)

	_, err = c.Write(ctx, oneDoc(t), `W/"g1-0"`)
	assert.ErrorIs(t, err, remote.ErrConflict)
}

func TestClient_AnonymousReadAndCreateNeedsToken(t *testing.T) {
	ctx := context.Background()
	f := newFakeGists(t)
	owner := newClient(t, f, "", "tok")
	_, err := owner.Write(ctx, oneDoc(t), "")
	require.NoError(t, err)

	reader := newClient(t, f, "g1", "")
	snap, err := reader.Fetch(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Collection, 1)

	anon := newClient(t, f, "", "")
	_, err = anon.Write(ctx, oneDoc(t), "")
	assert.ErrorIs(t, err, remote.ErrUnauthorized)
}

func TestClient_TruncatedFileReadsRawURL(t *testing.T) {
	ctx := context.Background()
	f := newFakeGists(t)
	c := newClient(t, f, "", "tok")
	_, err := c.Write(ctx, oneDoc(t), "")
	require.NoError(t, err)

	f.mu.Lock()
	f.truncate = true
	f.mu.Unlock()

	snap, err := c.Fetch(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Collection, 1)
}

func TestNew_RejectsBadID(t *testing.T) {
	_, err := New(remote.Config{Locator: "abc/def"})
	assert.ErrorIs(t, err, remote.ErrInvalidLocator)
}
