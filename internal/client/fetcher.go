// Package client implements the transcript fetch and live protocols over
// HTTP and WebSocket against a thinkt-browse feed server.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wethinkt/thinkt-browse/internal/transcript"
	"github.com/wethinkt/thinkt-browse/internal/tuilog"
)

// DefaultTimeout bounds a single page request.
const DefaultTimeout = 5 * time.Second

// StatusError is a non-2xx answer from the feed server.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("feed server returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("feed server returned %d", e.StatusCode)
}

// HTTPFetcher fetches transcript pages from a feed server.
type HTTPFetcher struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPFetcher creates a fetcher for the server at baseURL (for example
// http://127.0.0.1:8786). A non-empty token is sent as a Bearer header.
func NewHTTPFetcher(baseURL, token string) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithHTTPClient replaces the underlying client.
func (f *HTTPFetcher) WithHTTPClient(c *http.Client) *HTTPFetcher {
	f.client = c
	return f
}

// FetchPage implements transcript.Fetcher.
func (f *HTTPFetcher) FetchPage(ctx context.Context, req transcript.PageRequest) (transcript.Page, error) {
	u, err := sessionURL(f.baseURL, req.SessionID, "messages")
	if err != nil {
		return transcript.Page{}, err
	}
	q := url.Values{}
	if req.PageSize > 0 {
		q.Set("first", strconv.Itoa(req.PageSize))
	}
	if req.After != "" {
		q.Set("after", string(req.After))
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return transcript.Page{}, fmt.Errorf("create page request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if f.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+f.token)
	}

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return transcript.Page{}, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return transcript.Page{}, readStatusError(resp)
	}

	var page transcript.Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return transcript.Page{}, fmt.Errorf("decode page: %w", err)
	}
	tuilog.Log.Debug("Fetched page",
		"session_id", req.SessionID,
		"after", req.After,
		"edges", len(page.Edges),
		"has_next", page.PageInfo.HasNextPage,
		"duration", time.Since(start),
	)
	return page, nil
}

// Ping checks that the feed server answers its health endpoint.
func (f *HTTPFetcher) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/v1/health", nil)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping feed server: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("feed server unhealthy: %d", resp.StatusCode)
	}
	return nil
}

func readStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	se := &StatusError{StatusCode: resp.StatusCode}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		se.Code, se.Message = payload.Error, payload.Message
	} else {
		se.Message = strings.TrimSpace(string(body))
	}
	return se
}

// sessionURL builds {base}/v1/sessions/{id}/{suffix}.
func sessionURL(base, sessionID, suffix string) (*url.URL, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", base, err)
	}
	u = u.JoinPath("v1", "sessions", sessionID, suffix)
	return u, nil
}
