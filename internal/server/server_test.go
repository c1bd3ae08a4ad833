package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/quotescout/internal/archive"
	"github.com/zulandar/quotescout/internal/models"
	"github.com/zulandar/quotescout/internal/orchestrator"
	"github.com/zulandar/quotescout/internal/session"
)

type fakeSearcher struct {
	res  orchestrator.Result
	err  error
	reqs []orchestrator.Request
}

func (f *fakeSearcher) StartSearch(_ context.Context, req orchestrator.Request) (orchestrator.Result, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return orchestrator.Result{}, f.err
	}
	if err := req.Validate(); err != nil {
		return orchestrator.Result{}, err
	}
	res := f.res
	res.JobID = req.JobID
	return res, nil
}

type fakeHistory struct {
	recs []models.SearchRecord
}

func (f *fakeHistory) List(_ context.Context, limit int) ([]models.SearchRecord, error) {
	if limit > 0 && limit < len(f.recs) {
		return f.recs[:limit], nil
	}
	return f.recs, nil
}

func (f *fakeHistory) Get(_ context.Context, jobID string) (*models.SearchRecord, error) {
	for i := range f.recs {
		if f.recs[i].JobID == jobID {
			return &f.recs[i], nil
		}
	}
	return nil, archive.ErrNotFound
}

func newTestServer(t *testing.T, searcher Searcher, history History) (*Server, *session.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := session.NewRegistry(session.RegistryOpts{})
	t.Cleanup(reg.Close)
	s, err := New(Opts{Searcher: searcher, Registry: reg, History: history, Heartbeat: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, reg
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{Registry: session.NewRegistry(session.RegistryOpts{})}); err == nil {
		t.Error("expected error without searcher")
	}
	if _, err := New(Opts{Searcher: &fakeSearcher{}}); err == nil {
		t.Error("expected error without registry")
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, &fakeSearcher{}, nil)
	w := do(s.Router(), http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestRequestID_Reused(t *testing.T) {
	s, _ := newTestServer(t, &fakeSearcher{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	s, _ := newTestServer(t, &fakeSearcher{}, nil)
	w := do(s.Router(), http.MethodOptions, "/api/search/start", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Allow-Origin = %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID(), Recovery())
	router.GET("/boom", func(*gin.Context) { panic("boom") })
	w := do(router, http.MethodGet, "/boom", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestStart(t *testing.T) {
	tests := []struct {
		name     string
		searcher *fakeSearcher
		body     string
		wantCode int
		wantBody string
	}{
		{
			name:     "success",
			searcher: &fakeSearcher{},
			body:     `{"jobId":"job-1","zipCode":"94103","city":"San Francisco","category":"Plumbing"}`,
			wantCode: http.StatusOK,
			wantBody: `{"success":true,"jobId":"job-1"}`,
		},
		{
			name:     "already running",
			searcher: &fakeSearcher{res: orchestrator.Result{AlreadyRunning: true}},
			body:     `{"jobId":"job-1","zipCode":"94103","category":"Plumbing"}`,
			wantCode: http.StatusOK,
			wantBody: `{"success":true,"jobId":"job-1","alreadyRunning":true}`,
		},
		{
			name:     "missing fields",
			searcher: &fakeSearcher{},
			body:     `{"jobId":"job-1"}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "malformed json",
			searcher: &fakeSearcher{},
			body:     `{"jobId":`,
			wantCode: http.StatusBadRequest,
			wantBody: `{"success":false,"error":"invalid JSON body"}`,
		},
		{
			name:     "shutting down",
			searcher: &fakeSearcher{err: orchestrator.ErrShuttingDown},
			body:     `{"jobId":"job-1","zipCode":"94103","category":"Plumbing"}`,
			wantCode: http.StatusServiceUnavailable,
		},
		{
			name:     "internal error",
			searcher: &fakeSearcher{err: errors.New("disk full")},
			body:     `{"jobId":"job-1","zipCode":"94103","category":"Plumbing"}`,
			wantCode: http.StatusInternalServerError,
			wantBody: `{"success":false,"error":"failed to start search"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, tt.searcher, nil)
			w := do(s.Router(), http.MethodPost, "/api/search/start", tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantBody != "" && strings.TrimSpace(w.Body.String()) != tt.wantBody {
				t.Errorf("body = %s, want %s", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestStart_PassesFields(t *testing.T) {
	f := &fakeSearcher{}
	s, _ := newTestServer(t, f, nil)
	body := `{"jobId":"j","zipCode":"1","city":"c","category":"cat","subcategory":"sub","problemSummary":"ps","scopeOfWork":"sow"}`
	do(s.Router(), http.MethodPost, "/api/search/start", body)
	want := orchestrator.Request{JobID: "j", ZipCode: "1", City: "c", Category: "cat", Subcategory: "sub", ProblemSummary: "ps", ScopeOfWork: "sow"}
	if len(f.reqs) != 1 || f.reqs[0] != want {
		t.Errorf("reqs = %+v, want %+v", f.reqs, want)
	}
}

func TestSnapshot(t *testing.T) {
	s, reg := newTestServer(t, &fakeSearcher{}, nil)
	sess, _ := reg.Create("job-1", session.Params{ZipCode: "94103"})
	sess.AddWorker("thumbtack")

	w := do(s.Router(), http.MethodGet, "/api/search/job-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !snap.IsRunning || len(snap.Workers) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}

	if w := do(s.Router(), http.MethodGet, "/api/search/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown job status = %d, want 404", w.Code)
	}
}

// readEvents reads data lines from an SSE body until n events or EOF.
func readEvents(t *testing.T, sc *bufio.Scanner, n int) []session.Event {
	t.Helper()
	var out []session.Event
	for len(out) < n && sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt session.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, evt)
	}
	return out
}

func TestStream_UnknownJob(t *testing.T) {
	s, _ := newTestServer(t, &fakeSearcher{}, nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/search/missing/stream")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q", ct)
	}
	events := readEvents(t, bufio.NewScanner(resp.Body), 10)
	if len(events) != 1 {
		t.Fatalf("events = %+v, want exactly one", events)
	}
	if events[0].Type != session.EventError || events[0].JobID != "missing" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestStream_ReplayThenLive(t *testing.T) {
	s, reg := newTestServer(t, &fakeSearcher{}, nil)
	sess, _ := reg.Create("job-1", session.Params{ZipCode: "94103"})
	sess.AddWorker("thumbtack")
	sess.AddWorker("angi")
	sess.UpdateWorker("thumbtack", session.Update{Status: models.StatusSearching, Progress: 30})

	srv := httptest.NewServer(s.Router())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/api/search/job-1/stream")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	sc := bufio.NewScanner(resp.Body)

	replay := readEvents(t, sc, 2)
	if len(replay) != 2 {
		t.Fatalf("replay = %+v", replay)
	}
	if replay[0].Worker.Platform != "thumbtack" || replay[0].Worker.Progress != 30 {
		t.Errorf("replay[0] = %+v", replay[0].Worker)
	}

	b := session.NewBroadcaster(reg, nil)
	state, _ := sess.CompleteWorker("angi", []models.Contractor{{ID: "a"}}, "done")
	b.Broadcast("job-1", session.SessionUpdate("job-1", state))
	sess.Finish(session.OutcomeComplete, "")

	live := readEvents(t, sc, 2)
	if len(live) != 2 || live[0].Type != session.EventSessionUpdate || live[1].Type != session.EventComplete {
		t.Fatalf("live = %+v", live)
	}

	reg.Remove("job-1")
	if rest := readEvents(t, sc, 1); len(rest) != 0 {
		t.Errorf("events after removal = %+v", rest)
	}
}

func TestStream_FinishedSessionReplaysTerminal(t *testing.T) {
	s, reg := newTestServer(t, &fakeSearcher{}, nil)
	sess, _ := reg.Create("job-1", session.Params{})
	sess.AddWorker("thumbtack")
	sess.FailWorker("thumbtack", "timeout")
	sess.Finish(session.OutcomeComplete, "")

	srv := httptest.NewServer(s.Router())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/api/search/job-1/stream")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	events := readEvents(t, bufio.NewScanner(resp.Body), 2)
	if len(events) != 2 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Worker.Error != "timeout" {
		t.Errorf("worker error = %q", events[0].Worker.Error)
	}
	if events[1].Type != session.EventComplete || *events[1].TotalContractors != 0 {
		t.Errorf("terminal = %+v", events[1])
	}
}

func TestHistory(t *testing.T) {
	end := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h := &fakeHistory{recs: []models.SearchRecord{
		{
			JobID:            "job-1",
			ZipCode:          "94103",
			Category:         "Plumbing",
			Outcome:          "complete",
			TotalContractors: 1,
			CompletedAt:      end,
			Workers:          []models.SearchWorker{{Platform: "angi", Status: "completed", Logs: `[{"message":"done","type":"success"}]`}},
			Contractors:      []models.SearchContractor{{LeadID: "a", Payload: `{"id":"a","name":"Ace","platform":"angi"}`}},
		},
		{JobID: "job-0", Outcome: "error"},
	}}
	s, _ := newTestServer(t, &fakeSearcher{}, h)
	router := s.Router()

	w := do(router, http.MethodGet, "/api/history?limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list struct {
		Searches []historyItem `json:"searches"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Searches) != 1 || list.Searches[0].JobID != "job-1" {
		t.Errorf("searches = %+v", list.Searches)
	}

	w = do(router, http.MethodGet, "/api/history/job-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("detail status = %d", w.Code)
	}
	var detail struct {
		JobID       string              `json:"jobId"`
		Workers     []historyWorker     `json:"workers"`
		Contractors []models.Contractor `json:"contractors"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail.JobID != "job-1" || len(detail.Workers) != 1 || len(detail.Contractors) != 1 {
		t.Errorf("detail = %+v", detail)
	}
	if detail.Contractors[0].Name != "Ace" {
		t.Errorf("contractor = %+v", detail.Contractors[0])
	}

	if w := do(router, http.MethodGet, "/api/history/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown status = %d, want 404", w.Code)
	}
}

func TestHistory_Disabled(t *testing.T) {
	s, _ := newTestServer(t, &fakeSearcher{}, nil)
	for _, path := range []string{"/api/history", "/api/history/job-1"} {
		if w := do(s.Router(), http.MethodGet, path, ""); w.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, w.Code)
		}
	}
}
