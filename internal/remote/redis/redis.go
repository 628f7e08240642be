// Package redis stores the sync payload in a Redis hash. It registers
// itself with the remote factory on import.
//
// The locator is a redis URL with the hash key as fragment, for example
// "redis://localhost:6379/0#gallery". The hash holds two fields, content
// and rev. Writes WATCH the key, compare rev with the caller's revision and
// replace both fields in one MULTI/EXEC, so a concurrent writer makes the
// transaction fail and is reported as a conflict.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/steveyegge/docgallery/internal/gallery"
	"github.com/steveyegge/docgallery/internal/remote"
)

// DefaultKey is the hash key used when the locator has no fragment.
const DefaultKey = "docgallery:sync"

const (
	fieldContent = "content"
	fieldRev     = "rev"
)

func init() {
	remote.Register(remote.TypeRedis, func(cfg remote.Config) (remote.Client, error) {
		return New(cfg)
	})
}

// ParseLocator splits a locator into client options and hash key.
func ParseLocator(locator string) (*goredis.Options, string, error) {
	u, err := url.Parse(strings.TrimSpace(locator))
	if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
		return nil, "", fmt.Errorf("%w: want redis://host:port/db#key, got %q", remote.ErrInvalidLocator, locator)
	}
	key := u.Fragment
	if key == "" {
		key = DefaultKey
	}
	u.Fragment = ""

	opts, err := goredis.ParseURL(u.String())
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", remote.ErrInvalidLocator, err)
	}
	return opts, key, nil
}

// Client is the Redis backend.
type Client struct {
	rdb     *goredis.Client
	key     string
	limiter *rate.Limiter
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a Client. A non-empty credential is used as the password.
func New(cfg remote.Config) (*Client, error) {
	opts, key, err := ParseLocator(cfg.Locator)
	if err != nil {
		return nil, err
	}
	if cfg.Credential != "" {
		opts.Password = cfg.Credential
	}
	// Failures are reported, never retried.
	opts.MaxRetries = -1

	return &Client{
		rdb:     goredis.NewClient(opts),
		key:     key,
		limiter: cfg.Limiter,
		now:     cfg.Clock(),
		logger:  cfg.LoggerFor(remote.TypeRedis),
	}, nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return remote.NewError(remote.TypeRedis, remote.KindNetwork, 0, "request not sent", err)
	}
	return nil
}

// Fetch implements remote.Client.
func (c *Client) Fetch(ctx context.Context) (*remote.Snapshot, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	fields, err := c.rdb.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, classify(err)
	}
	if len(fields) == 0 {
		return nil, remote.NewError(remote.TypeRedis, remote.KindNotFound, 0, "key "+c.key+" does not exist", nil)
	}

	rev, ok := fields[fieldRev]
	if !ok || rev == "" {
		return nil, remote.NewError(remote.TypeRedis, remote.KindMalformedResponse, 0, "hash has no rev field", nil)
	}
	return remote.DecodeSnapshot(remote.TypeRedis, []byte(fields[fieldContent]), rev)
}

// Write implements remote.Client.
func (c *Client) Write(ctx context.Context, coll gallery.Collection, revision string) (*remote.WriteResult, error) {
	data, err := remote.Encode(coll, c.now())
	if err != nil {
		return nil, err
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	next := uuid.NewString()
	err = c.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := tx.HGet(ctx, c.key, fieldRev).Result()
		if errors.Is(err, goredis.Nil) {
			current = ""
		} else if err != nil {
			return err
		}
		if current != revision {
			return remote.NewError(remote.TypeRedis, remote.KindConflict, 0, "revision changed since fetch", nil)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, c.key, fieldContent, string(data), fieldRev, next)
			return nil
		})
		return err
	}, c.key)
	if err != nil {
		return nil, classify(err)
	}

	c.logger.Info("wrote hash", "key", c.key, "documents", len(coll), "bytes", len(data))
	return &remote.WriteResult{Revision: next}, nil
}

func classify(err error) error {
	var re *remote.Error
	if errors.As(err, &re) {
		return err
	}
	if errors.Is(err, goredis.TxFailedErr) {
		return remote.NewError(remote.TypeRedis, remote.KindConflict, 0, "key modified during write", err)
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "NOAUTH") || strings.HasPrefix(msg, "WRONGPASS") {
		return remote.NewError(remote.TypeRedis, remote.KindUnauthorized, 0, "", err)
	}
	return remote.NewError(remote.TypeRedis, remote.KindNetwork, 0, "", err)
}
