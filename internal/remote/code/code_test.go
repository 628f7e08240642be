package code

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/docgallery/internal/gallery"
	"github.com/steveyegge/docgallery/internal/remote"
	"github.com/steveyegge/docgallery/internal/store"
	"github.com/steveyegge/docgallery/internal/sync"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "gallery.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestNewCode(t *testing.T) {
	seen := map[string]bool{}
	counts := map[rune]int{}
	for i := 0; i < 2000; i++ {
		c, err := NewCode()
		require.NoError(t, err)
		require.Regexp(t, codePattern, c)
		seen[c] = true
		for _, r := range c {
			counts[r]++
		}
	}
	// 36^6 codes; 2000 draws colliding more than a couple of times means
	// the generator is broken.
	assert.Greater(t, len(seen), 1990)
	assert.Len(t, counts, len(Alphabet), "every symbol should appear")
}

func TestNormalize(t *testing.T) {
	got, err := Normalize(" ab12cd ")
	require.NoError(t, err)
	assert.Equal(t, "AB12CD", got)

	for _, bad := range []string{"", "ABC", "ABCDEFG", "AB-12C", "ÄBCDEF"} {
		_, err := Normalize(bad)
		assert.ErrorIs(t, err, remote.ErrInvalidLocator, "input %q", bad)
	}
}

func TestClient_Lifecycle(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)

	c, err := New(remote.Config{Locator: "abc123", Blobs: st})
	require.NoError(t, err)
	assert.Equal(t, "ABC123", c.Code())

	_, err = c.Fetch(ctx)
	assert.True(t, errors.Is(err, remote.ErrNotFound))

	coll := gallery.Collection{}
	_, err = coll.Create("Trip", time.Now())
	require.NoError(t, err)

	res, err := c.Write(ctx, coll, "")
	require.NoError(t, err)
	assert.Len(t, res.Revision, 64)

	keys, err := st.Keys(ctx, store.SyncCodeKeyPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"syncCode:ABC123"}, keys)

	snap, err := c.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Revision, snap.Revision)
	assert.Len(t, snap.Collection, 1)

	// Second writer with the same token wins, first one then conflicts.
	other, err := New(remote.Config{Locator: "ABC123", Blobs: st})
	require.NoError(t, err)
	_, err = other.Write(ctx, snap.Collection, snap.Revision)
	require.NoError(t, err)

	_, err = c.Write(ctx, snap.Collection, snap.Revision)
	assert.Equal(t, remote.KindConflict, remote.KindOf(err))

	_, err = c.Write(ctx, snap.Collection, "")
	assert.Equal(t, remote.KindConflict, remote.KindOf(err))
}

func TestClient_MalformedBlob(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	require.NoError(t, st.SaveRaw(ctx, Key("ZZZ999"), []byte("garbage")))

	c, err := New(remote.Config{Locator: "ZZZ999", Blobs: st})
	require.NoError(t, err)

	snap, err := c.Fetch(ctx)
	assert.Equal(t, remote.KindMalformedData, remote.KindOf(err))
	require.NotNil(t, snap)

	// The revision of the broken blob still allows overwriting it.
	_, err = c.Write(ctx, gallery.Collection{}, snap.Revision)
	require.NoError(t, err)
	raw, ok := st.LoadRaw(ctx, Key("ZZZ999"))
	require.True(t, ok)
	assert.True(t, strings.Contains(string(raw), `"version": "1.0"`))
}

func TestSync_KeepsInvalidRemoteDocuments(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)

	blob := `{
		"documents": {
			"good": {"name": "Good", "images": [], "createdDate": "2024-06-10T07:59:12Z"},
			"other": {"name": "Other", "createdDate": "2024-06-10T07:59:12Z",
				"images": [{"name": "", "url": "data:image/png;base64,AA==", "size": 1, "type": "image/png", "uploadDate": "2024-06-10T08:00:00Z"}]}
		},
		"version": "1.0"
	}`
	require.NoError(t, st.SaveRaw(ctx, Key("ABC123"), []byte(blob)))
	require.NoError(t, st.SaveSyncConfig(ctx, gallery.SyncConfig{Active: true, Backend: string(remote.TypeCode), Locator: "ABC123"}))

	lib := gallery.NewLibrary(st.LoadCollection(ctx), st)
	_, err := lib.Create(ctx, "Local")
	require.NoError(t, err)

	s := sync.New(lib, st, remote.NewFactory(remote.WithBlobStore(st)))
	res, err := s.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "1 invalid remote documents skipped")

	_, ok := lib.Get("other")
	assert.False(t, ok, "invalid document must not enter the local collection")

	raw, ok := st.LoadRaw(ctx, Key("ABC123"))
	require.True(t, ok)
	p, dropped, err := remote.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, dropped)
	assert.Len(t, p.Documents, 2)
	require.Contains(t, p.Invalid, "other")
	assert.Equal(t, "Other", p.Invalid["other"].Name)
	assert.Nil(t, p.Invalid["other"].LastModified, "invalid document written back unstamped")

	// a second cycle keeps it too
	_, err = s.Sync(ctx)
	require.NoError(t, err)
	raw, _ = st.LoadRaw(ctx, Key("ABC123"))
	_, dropped, err = remote.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, dropped)
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(remote.Config{Locator: "ABC123"})
	assert.Error(t, err)
}
