// Package github stores the sync payload as a file in a GitHub repository
// through the contents API. It registers itself with the remote factory on
// import.
//
// The locator is "owner/repo[@branch][:path]". The branch defaults to main
// and the path to data/gallery-data.json. The file's blob sha is the
// revision token; GitHub rejects a PUT without it when the file exists and
// with a stale one after another writer, both reported as conflicts.
//
// Usage:
//
//	import _ "github.com/steveyegge/docgallery/internal/remote/github" // Auto-registers via init()
package github

import (
	"context"
	"encoding/base64"
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

	DefaultBranch = "main"
	DefaultPath   = "data/gallery-data.json"
)

func init() {
	remote.Register(remote.TypeGitHub, func(cfg remote.Config) (remote.Client, error) {
		return New(cfg)
	})
}

// Locator addresses one file in one branch.
type Locator struct {
	Owner  string
	Repo   string
	Branch string
	Path   string
}

func (l Locator) String() string {
	return fmt.Sprintf("%s/%s@%s:%s", l.Owner, l.Repo, l.Branch, l.Path)
}

// ParseLocator parses "owner/repo[@branch][:path]".
func ParseLocator(s string) (Locator, error) {
	s = strings.TrimSpace(s)
	loc := Locator{Branch: DefaultBranch, Path: DefaultPath}

	if i := strings.Index(s, ":"); i >= 0 {
		if p := strings.Trim(s[i+1:], "/"); p != "" {
			loc.Path = p
		}
		s = s[:i]
	}
	if i := strings.Index(s, "@"); i >= 0 {
		if b := s[i+1:]; b != "" {
			loc.Branch = b
		}
		s = s[:i]
	}

	owner, repo, ok := strings.Cut(s, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return Locator{}, fmt.Errorf("%w: want owner/repo[@branch][:path], got %q", remote.ErrInvalidLocator, s)
	}
	loc.Owner = owner
	loc.Repo = repo
	return loc, nil
}

// Client is the GitHub repository-file backend.
type Client struct {
	http   *remote.HTTP
	loc    Locator
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Client. An empty credential allows reading public
// repositories only.
func New(cfg remote.Config) (*Client, error) {
	loc, err := ParseLocator(cfg.Locator)
	if err != nil {
		return nil, err
	}
	h := remote.NewHTTP(remote.TypeGitHub, cfg, DefaultBaseURL)
	h.AuthScheme = "token"
	return &Client{
		http:   h,
		loc:    loc,
		now:    cfg.Clock(),
		logger: cfg.LoggerFor(remote.TypeGitHub),
	}, nil
}

// Locator returns the parsed locator.
func (c *Client) Locator() Locator {
	return c.loc
}

type contentResponse struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	Size     int64  `json:"size"`
}

type blobResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

type putResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

func (c *Client) contentsPath() string {
	segments := strings.Split(c.loc.Path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("/repos/%s/%s/contents/%s",
		url.PathEscape(c.loc.Owner), url.PathEscape(c.loc.Repo), strings.Join(segments, "/"))
}

// Fetch implements remote.Client.
func (c *Client) Fetch(ctx context.Context) (*remote.Snapshot, error) {
	resp, err := c.http.Do(ctx, remote.Request{
		Method: http.MethodGet,
		Path:   c.contentsPath() + "?ref=" + url.QueryEscape(c.loc.Branch),
	})
	if err != nil {
		return nil, err
	}

	var content contentResponse
	if err := c.http.DecodeJSON(resp, &content); err != nil {
		return nil, err
	}
	if content.SHA == "" {
		return nil, remote.NewError(remote.TypeGitHub, remote.KindMalformedResponse, resp.Status, "response has no sha", nil)
	}

	encoded, encoding := content.Content, content.Encoding
	// Files over 1 MB come back without inline content.
	if encoding == "none" || (encoded == "" && content.Size > 0) {
		c.logger.Debug("reading large file through blob API", "size", content.Size)
		blob, err := c.fetchBlob(ctx, content.SHA)
		if err != nil {
			return nil, err
		}
		encoded, encoding = blob.Content, blob.Encoding
	}

	data, err := decodeContent(encoded, encoding)
	if err != nil {
		return nil, remote.NewError(remote.TypeGitHub, remote.KindMalformedResponse, resp.Status, "content is not valid base64", err)
	}

	return remote.DecodeSnapshot(remote.TypeGitHub, data, content.SHA)
}

func (c *Client) fetchBlob(ctx context.Context, sha string) (*blobResponse, error) {
	resp, err := c.http.Do(ctx, remote.Request{
		Method: http.MethodGet,
		Path: fmt.Sprintf("/repos/%s/%s/git/blobs/%s",
			url.PathEscape(c.loc.Owner), url.PathEscape(c.loc.Repo), url.PathEscape(sha)),
	})
	if err != nil {
		return nil, err
	}
	var blob blobResponse
	if err := c.http.DecodeJSON(resp, &blob); err != nil {
		return nil, err
	}
	return &blob, nil
}

func decodeContent(content, encoding string) ([]byte, error) {
	switch encoding {
	case "", "base64":
		// The API wraps base64 at 60 columns.
		clean := strings.NewReplacer("\n", "", "\r", "").Replace(content)
		return base64.StdEncoding.DecodeString(clean)
	case "utf-8":
		return []byte(content), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}

// Write implements remote.Client.
func (c *Client) Write(ctx context.Context, coll gallery.Collection, revision string) (*remote.WriteResult, error) {
	now := c.now()
	data, err := remote.Encode(coll, now)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(ctx, remote.Request{
		Method: http.MethodPut,
		Path:   c.contentsPath(),
		Body: putRequest{
			Message: "Sync gallery data - " + now.UTC().Format(time.RFC3339),
			Content: base64.StdEncoding.EncodeToString(data),
			Branch:  c.loc.Branch,
			SHA:     revision,
		},
	})
	if err != nil {
		return nil, err
	}

	var out putResponse
	if err := c.http.DecodeJSON(resp, &out); err != nil {
		return nil, err
	}
	if out.Content.SHA == "" {
		return nil, remote.NewError(remote.TypeGitHub, remote.KindMalformedResponse, resp.Status, "response has no sha", nil)
	}

	c.logger.Info("wrote remote file", "locator", c.loc.String(), "documents", len(coll), "bytes", len(data))
	return &remote.WriteResult{Revision: out.Content.SHA}, nil
}
