package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zulandar/quotescout/internal/session"
)

// maxEventSize bounds one SSE data line. contractors_found events carry whole
// listings with reviews, so the default scanner limit is too small.
const maxEventSize = 4 << 20

// apiClient talks to a running quotescout server.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) (*apiClient, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", base)
	}
	return &apiClient{base: u.String(), http: &http.Client{}}, nil
}

type startRequest struct {
	JobID          string `json:"jobId"`
	ZipCode        string `json:"zipCode"`
	City           string `json:"city,omitempty"`
	Category       string `json:"category"`
	Subcategory    string `json:"subcategory,omitempty"`
	ProblemSummary string `json:"problemSummary,omitempty"`
	ScopeOfWork    string `json:"scopeOfWork,omitempty"`
}

type startResponse struct {
	Success        bool   `json:"success"`
	JobID          string `json:"jobId"`
	AlreadyRunning bool   `json:"alreadyRunning"`
	Error          string `json:"error"`
}

func (c *apiClient) start(ctx context.Context, req startRequest) (*startResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/search/start", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("start search: %w", err)
	}
	defer resp.Body.Close()

	var out startResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("start search: decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if !out.Success {
		if out.Error == "" {
			out.Error = resp.Status
		}
		return nil, fmt.Errorf("start search: %s", out.Error)
	}
	return &out, nil
}

// stream follows the progress stream for jobID, calling fn for each event
// until fn returns done, the server closes the stream, or ctx ends.
func (c *apiClient) stream(ctx context.Context, jobID string, fn func(session.Event) (done bool, err error)) error {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/search/"+url.PathEscape(jobID)+"/stream", nil)
	if err != nil {
		return err
	}
	hreq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(hreq)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("open stream: %s", resp.Status)
	}
	return readEvents(resp.Body, fn)
}

// readEvents parses data-only SSE frames. Comment lines (heartbeats) and
// blank separators are skipped.
func readEvents(r io.Reader, fn func(session.Event) (bool, error)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	for sc.Scan() {
		line := sc.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		var evt session.Event
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &evt); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		done, err := fn(evt)
		if err != nil || done {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

type historyItem struct {
	JobID            string    `json:"jobId"`
	ZipCode          string    `json:"zipCode"`
	City             string    `json:"city"`
	Category         string    `json:"category"`
	Subcategory      string    `json:"subcategory"`
	Outcome          string    `json:"outcome"`
	Error            string    `json:"error"`
	TotalContractors int       `json:"totalContractors"`
	CreatedAt        time.Time `json:"createdAt"`
	CompletedAt      time.Time `json:"completedAt"`
}

type historyWorker struct {
	Platform string `json:"platform"`
	Status   string `json:"status"`
	Error    string `json:"error"`
}

type historyContractor struct {
	Name        string  `json:"name"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"reviewCount"`
	Pricing     string  `json:"pricing"`
	Platform    string  `json:"platform"`
	ProfileURL  string  `json:"profileUrl"`
}

type historyDetail struct {
	historyItem
	ProblemSummary string              `json:"problemSummary"`
	ScopeOfWork    string              `json:"scopeOfWork"`
	Workers        []historyWorker     `json:"workers"`
	Contractors    []historyContractor `json:"contractors"`
}

func (c *apiClient) history(ctx context.Context, limit int) ([]historyItem, error) {
	var out struct {
		Searches []historyItem `json:"searches"`
	}
	path := fmt.Sprintf("/api/history?limit=%d", limit)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Searches, nil
}

func (c *apiClient) historyDetail(ctx context.Context, jobID string) (*historyDetail, error) {
	var out historyDetail
	if err := c.getJSON(ctx, "/api/history/"+url.PathEscape(jobID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) getJSON(ctx context.Context, path string, v any) error {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(hreq)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("GET %s: %s", path, e.Error)
		}
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return nil
}
