package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// maxErrorBody bounds how much of an error response is kept for messages.
const maxErrorBody = 512

// HTTP performs authenticated JSON requests for HTTP backends and turns
// failures into *Error values. It never retries.
type HTTP struct {
	Backend   Type
	BaseURL   string
	Token     string
	UserAgent string

	// AuthScheme prefixes the token in the Authorization header.
	AuthScheme string

	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewHTTP builds an HTTP helper for backend from cfg. defaultBase is used
// when cfg.BaseURL is empty.
func NewHTTP(backend Type, cfg Config, defaultBase string) *HTTP {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBase
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	return &HTTP{
		Backend:    backend,
		BaseURL:    strings.TrimRight(base, "/"),
		Token:      cfg.Credential,
		UserAgent:  ua,
		AuthScheme: "Bearer",
		client:     client,
		limiter:    cfg.Limiter,
		logger:     cfg.LoggerFor(backend),
	}
}

// Response is a completed 2xx response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Request describes one call.
type Request struct {
	Method string
	Path   string
	Body   any
	Header map[string]string

	// URL, when set, is used as-is instead of BaseURL+Path.
	URL string
}

// Do sends req. Non-2xx statuses come back as classified *Error values.
func (h *HTTP) Do(ctx context.Context, req Request) (*Response, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, NewError(h.Backend, KindNetwork, 0, "request not sent", err)
		}
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	target := req.URL
	if target == "" {
		target = h.BaseURL + req.Path
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", h.UserAgent)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if h.Token != "" {
		httpReq.Header.Set("Authorization", h.AuthScheme+" "+h.Token)
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, NewError(h.Backend, KindNetwork, 0, "", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(h.Backend, KindNetwork, resp.StatusCode, "failed to read response", err)
	}

	h.logger.Debug("remote request",
		"method", req.Method,
		"path", req.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, Classify(h.Backend, resp.StatusCode, resp.Header, data)
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// DecodeJSON unmarshals resp into out, reporting failures as
// KindMalformedResponse with the raw status kept for diagnostics.
func (h *HTTP) DecodeJSON(resp *Response, out any) error {
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return NewError(h.Backend, KindMalformedResponse, resp.Status, snippet(resp.Body), err)
	}
	return nil
}

// Classify maps an error status to a Kind.
func Classify(backend Type, status int, header http.Header, body []byte) *Error {
	kind := KindUnknown
	switch {
	case status == http.StatusUnauthorized:
		kind = KindUnauthorized
	case status == http.StatusForbidden:
		// GitHub reports exhausted quotas as 403.
		if header.Get("X-RateLimit-Remaining") == "0" || header.Get("Retry-After") != "" {
			kind = KindRateLimited
		} else {
			kind = KindUnauthorized
		}
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status == http.StatusConflict,
		status == http.StatusPreconditionFailed,
		status == http.StatusUnprocessableEntity:
		kind = KindConflict
	case status >= 500:
		kind = KindNetwork
	}
	return NewError(backend, kind, status, errorMessage(body), nil)
}

// errorMessage extracts {"message": "..."} when present.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return snippet(body)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	return s
}

// IsStatus reports whether err is an *Error with the given HTTP status.
func IsStatus(err error, status int) bool {
	var re *Error
	return errors.As(err, &re) && re.Status == status
}
