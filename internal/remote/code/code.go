// Package code implements sync-code mode: snapshots are kept in the local
// store under a 6-character code instead of on a server.
//
// A code only resolves on the machine that created it; there is no shared
// lookup table. The SHA-256 of the stored blob is the revision token so
// two processes writing the same code still detect each other.
package code

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/steveyegge/docgallery/internal/gallery"
	"github.com/steveyegge/docgallery/internal/remote"
	"github.com/steveyegge/docgallery/internal/store"
)

const (
	// Length is the number of symbols in a sync code.
	Length = 6

	// Alphabet is the set codes are drawn from.
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

func init() {
	remote.Register(remote.TypeCode, func(cfg remote.Config) (remote.Client, error) {
		return New(cfg)
	})
}

// NewCode returns a fresh code with every symbol drawn uniformly from
// Alphabet.
func NewCode() (string, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(Alphabet)))
	for i := 0; i < Length; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate sync code: %w", err)
		}
		b.WriteByte(Alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Normalize upper-cases code and checks it is a valid sync code.
func Normalize(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != Length {
		return "", fmt.Errorf("%w: sync code must be %d characters, got %q", remote.ErrInvalidLocator, Length, code)
	}
	for _, r := range code {
		if !strings.ContainsRune(Alphabet, r) {
			return "", fmt.Errorf("%w: sync code %q contains %q", remote.ErrInvalidLocator, code, r)
		}
	}
	return code, nil
}

// Key returns the local store key holding code's snapshot.
func Key(code string) string {
	return store.SyncCodeKeyPrefix + code
}

// writeMu serializes compare-and-set within this process.
var writeMu sync.Mutex

// Client is the sync-code backend.
type Client struct {
	blobs  remote.BlobStore
	code   string
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Client for cfg.Locator, which must be a valid code.
func New(cfg remote.Config) (*Client, error) {
	code, err := Normalize(cfg.Locator)
	if err != nil {
		return nil, err
	}
	if cfg.Blobs == nil {
		return nil, fmt.Errorf("sync code backend needs a local store")
	}
	return &Client{
		blobs:  cfg.Blobs,
		code:   code,
		now:    cfg.Clock(),
		logger: cfg.LoggerFor(remote.TypeCode),
	}, nil
}

// Code returns the normalized code.
func (c *Client) Code() string {
	return c.code
}

func revisionOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fetch implements remote.Client.
func (c *Client) Fetch(ctx context.Context) (*remote.Snapshot, error) {
	data, ok := c.blobs.LoadRaw(ctx, Key(c.code))
	if !ok {
		return nil, remote.NewError(remote.TypeCode, remote.KindNotFound, 0, "no snapshot for code "+c.code, nil)
	}
	return remote.DecodeSnapshot(remote.TypeCode, data, revisionOf(data))
}

// Write implements remote.Client.
func (c *Client) Write(ctx context.Context, coll gallery.Collection, revision string) (*remote.WriteResult, error) {
	writeMu.Lock()
	defer writeMu.Unlock()

	key := Key(c.code)
	current, exists := c.blobs.LoadRaw(ctx, key)
	switch {
	case exists && revision == "":
		return nil, remote.NewError(remote.TypeCode, remote.KindConflict, 0, "snapshot exists, revision required", nil)
	case exists && revision != revisionOf(current):
		return nil, remote.NewError(remote.TypeCode, remote.KindConflict, 0, "snapshot changed since fetch", nil)
	case !exists && revision != "":
		return nil, remote.NewError(remote.TypeCode, remote.KindConflict, 0, "snapshot was removed since fetch", nil)
	}

	data, err := remote.Encode(coll, c.now())
	if err != nil {
		return nil, err
	}
	if err := c.blobs.SaveRaw(ctx, key, data); err != nil {
		return nil, remote.NewError(remote.TypeCode, remote.KindUnknown, 0, "failed to store snapshot", err)
	}

	c.logger.Info("stored snapshot", "code", c.code, "documents", len(coll), "bytes", len(data))
	return &remote.WriteResult{Revision: revisionOf(data)}, nil
}
