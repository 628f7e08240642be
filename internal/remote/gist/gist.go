// Package gist stores the sync payload as a single file in a GitHub gist.
// It registers itself with the remote factory on import.
//
// The locator is the gist id. An empty locator means no gist exists yet:
// Fetch reports NotFound and the first Write creates a secret gist and
// returns its id in WriteResult.Locator so the configuration can keep it.
// Gists carry no content sha, so the ETag of the last response is used as
// the revision token and sent back as If-Match.
package gist

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/steveyegge/docgallery/internal/gallery"
	"github.com/steveyegge/docgallery/internal/remote"
)

const (
	// DefaultBaseURL is the public GitHub REST API.
	DefaultBaseURL = "https://api.github.com"

	// FileName is the gist file holding the payload.
	FileName = "gallery-data.json"

	description = "Document gallery sync data"
)

func init() {
	remote.Register(remote.TypeGist, func(cfg remote.Config) (remote.Client, error) {
		return New(cfg)
	})
}

// Client is the gist backend.
type Client struct {
	http   *remote.HTTP
	id     string
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Client. Reading a public gist works without a credential;
// writing always needs one.
func New(cfg remote.Config) (*Client, error) {
	id := strings.TrimSpace(cfg.Locator)
	if strings.ContainsAny(id, "/?# ") {
		return nil, fmt.Errorf("%w: gist id %q", remote.ErrInvalidLocator, id)
	}
	h := remote.NewHTTP(remote.TypeGist, cfg, DefaultBaseURL)
	h.AuthScheme = "token"
	return &Client{
		http:   h,
		id:     id,
		now:    cfg.Clock(),
		logger: cfg.LoggerFor(remote.TypeGist),
	}, nil
}

// ID returns the gist id, which is empty until the first write.
func (c *Client) ID() string {
	return c.id
}

type gistFile struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
	RawURL    string `json:"raw_url,omitempty"`
}

type gistResponse struct {
	ID    string               `json:"id"`
	Files map[string]*gistFile `json:"files"`
}

type gistRequest struct {
	Description string               `json:"description,omitempty"`
	Public      *bool                `json:"public,omitempty"`
	Files       map[string]*gistFile `json:"files"`
}

// Fetch implements remote.Client.
func (c *Client) Fetch(ctx context.Context) (*remote.Snapshot, error) {
	if c.id == "" {
		return nil, remote.NewError(remote.TypeGist, remote.KindNotFound, 0, "no gist created yet", nil)
	}

	resp, err := c.http.Do(ctx, remote.Request{Method: http.MethodGet, Path: "/gists/" + url.PathEscape(c.id)})
	if err != nil {
		return nil, err
	}

	var g gistResponse
	if err := c.http.DecodeJSON(resp, &g); err != nil {
		return nil, err
	}
	etag := resp.Header.Get("ETag")

	file, ok := g.Files[FileName]
	if !ok || file == nil {
		return nil, remote.NewError(remote.TypeGist, remote.KindNotFound, resp.Status, "gist has no "+FileName, nil)
	}

	content := file.Content
	if file.Truncated && file.RawURL != "" {
		c.logger.Debug("gist file truncated, reading raw content")
		raw, err := c.http.Do(ctx, remote.Request{Method: http.MethodGet, URL: file.RawURL})
		if err != nil {
			return nil, err
		}
		content = string(raw.Body)
	}

	return remote.DecodeSnapshot(remote.TypeGist, []byte(content), etag)
}

// Write implements remote.Client.
func (c *Client) Write(ctx context.Context, coll gallery.Collection, revision string) (*remote.WriteResult, error) {
	data, err := remote.Encode(coll, c.now())
	if err != nil {
		return nil, err
	}
	body := gistRequest{
		Description: description,
		Files:       map[string]*gistFile{FileName: {Content: string(data)}},
	}

	if c.id == "" {
		return c.create(ctx, body, len(coll))
	}

	req := remote.Request{
		Method: http.MethodPatch,
		Path:   "/gists/" + url.PathEscape(c.id),
		Body:   body,
	}
	if revision != "" {
		req.Header = map[string]string{"If-Match": revision}
	}
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	c.logger.Info("updated gist", "id", c.id, "documents", len(coll), "bytes", len(data))
	return &remote.WriteResult{Revision: resp.Header.Get("ETag")}, nil
}

func (c *Client) create(ctx context.Context, body gistRequest, docs int) (*remote.WriteResult, error) {
	public := false
	body.Public = &public

	resp, err := c.http.Do(ctx, remote.Request{Method: http.MethodPost, Path: "/gists", Body: body})
	if err != nil {
		return nil, err
	}

	var g gistResponse
	if err := c.http.DecodeJSON(resp, &g); err != nil {
		return nil, err
	}
	if g.ID == "" {
		return nil, remote.NewError(remote.TypeGist, remote.KindMalformedResponse, resp.Status, "response has no gist id", nil)
	}

	c.id = g.ID
	c.logger.Info("created gist", "id", g.ID, "documents", docs)
	return &remote.WriteResult{Revision: resp.Header.Get("ETag"), Locator: g.ID}, nil
}
