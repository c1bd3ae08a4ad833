package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.browserbase.com"
	httpTimeout    = 30 * time.Second
	// maxErrorBody bounds how much of an error response is quoted back.
	maxErrorBody = 512
)

// Browserbase provisions sessions through the Browserbase REST API.
type Browserbase struct {
	BaseURL   string
	APIKey    string
	ProjectID string
	Region    string
	client    *http.Client
}

// BrowserbaseOpts holds parameters for creating a Browserbase provider.
type BrowserbaseOpts struct {
	BaseURL   string
	APIKey    string
	ProjectID string
	Region    string
	// Client overrides the HTTP client, for tests.
	Client *http.Client
}

// NewBrowserbase creates a Browserbase provider.
func NewBrowserbase(opts BrowserbaseOpts) (*Browserbase, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("browser: browserbase api key is required")
	}
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("browser: browserbase project id is required")
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: httpTimeout}
	}
	return &Browserbase{
		BaseURL:   base,
		APIKey:    opts.APIKey,
		ProjectID: opts.ProjectID,
		Region:    opts.Region,
		client:    client,
	}, nil
}

type createRequest struct {
	ProjectID    string            `json:"projectId"`
	Region       string            `json:"region,omitempty"`
	KeepAlive    bool              `json:"keepAlive"`
	UserMetadata map[string]string `json:"userMetadata,omitempty"`
}

type createResponse struct {
	ID         string `json:"id"`
	ConnectURL string `json:"connectUrl"`
	Status     string `json:"status"`
}

type debugResponse struct {
	DebuggerFullscreenURL string `json:"debuggerFullscreenUrl"`
	DebuggerURL           string `json:"debuggerUrl"`
}

type updateRequest struct {
	ProjectID string `json:"projectId"`
	Status    string `json:"status"`
}

// Create provisions a session and looks up its live view URL. A failed live
// view lookup is not fatal; the session is returned without one.
func (b *Browserbase) Create(ctx context.Context, opts CreateOpts) (*Session, error) {
	req := createRequest{ProjectID: b.ProjectID, Region: b.Region}
	if opts.Platform != "" || opts.JobID != "" {
		req.UserMetadata = map[string]string{"platform": opts.Platform, "jobId": opts.JobID}
	}

	var created createResponse
	if err := b.do(ctx, http.MethodPost, "/v1/sessions", req, &created); err != nil {
		return nil, fmt.Errorf("browser: create session: %w", err)
	}
	if created.ID == "" {
		return nil, fmt.Errorf("browser: create session: response has no id")
	}

	sess := &Session{ID: created.ID, ConnectURL: created.ConnectURL}

	var debug debugResponse
	if err := b.do(ctx, http.MethodGet, "/v1/sessions/"+created.ID+"/debug", nil, &debug); err == nil {
		sess.LiveViewURL = debug.DebuggerFullscreenURL
		if sess.LiveViewURL == "" {
			sess.LiveViewURL = debug.DebuggerURL
		}
	}
	return sess, nil
}

// Release asks Browserbase to end the session.
func (b *Browserbase) Release(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	req := updateRequest{ProjectID: b.ProjectID, Status: "REQUEST_RELEASE"}
	if err := b.do(ctx, http.MethodPost, "/v1/sessions/"+sessionID, req, nil); err != nil {
		return fmt.Errorf("browser: release session %s: %w", sessionID, err)
	}
	return nil
}

// do sends a JSON request and decodes a JSON response into out (if non-nil).
func (b *Browserbase) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-BB-API-Key", b.APIKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
