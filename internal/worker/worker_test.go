package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/quotescout/internal/agent"
	"github.com/zulandar/quotescout/internal/browser"
	"github.com/zulandar/quotescout/internal/config"
	"github.com/zulandar/quotescout/internal/models"
	"github.com/zulandar/quotescout/internal/session"
)

type fakeProvider struct {
	mu        sync.Mutex
	createErr error
	created   []browser.CreateOpts
	released  []string
}

func (f *fakeProvider) Create(_ context.Context, opts browser.CreateOpts) (*browser.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, opts)
	return &browser.Session{ID: "bb-" + opts.Platform, ConnectURL: "wss://connect", LiveViewURL: "https://live/" + opts.Platform}, nil
}

func (f *fakeProvider) Release(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, id)
	return nil
}

type fakeRunner struct {
	events []agent.Event
	result *agent.Result
	err    error
	block  bool
	task   agent.Task
}

func (f *fakeRunner) Run(ctx context.Context, task agent.Task, handle agent.Handler) (*agent.Result, error) {
	f.task = task
	for _, e := range f.events {
		handle(e)
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.result, f.err
}

var testPlatform = config.PlatformConfig{
	Name:           "thumbtack",
	BaseURL:        "https://www.thumbtack.com",
	StartURL:       "https://www.thumbtack.com",
	AllowedDomains: []string{"thumbtack.com"},
}

type harness struct {
	reg      *session.Registry
	sess     *session.Session
	sub      *session.Queue
	provider *fakeProvider
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := session.NewRegistry(session.RegistryOpts{})
	t.Cleanup(reg.Close)
	sess, _ := reg.Create("job-1", session.Params{
		ZipCode: "94107",
		City:    "San Francisco",
		Classification: models.Classification{
			Category:    "plumbing",
			Subcategory: "leaky faucet",
		},
	})
	sess.AddWorker(testPlatform.Name)
	sub := session.NewQueue("test", 1024)
	sess.Subscribe(sub)
	return &harness{reg: reg, sess: sess, sub: sub, provider: &fakeProvider{}}
}

func (h *harness) worker(t *testing.T, runner agent.Runner, timeout time.Duration) *Worker {
	t.Helper()
	w, err := New(Opts{
		Browsers:    h.provider,
		Runner:      runner,
		Broadcaster: session.NewBroadcaster(h.reg, nil),
		RunTimeout:  timeout,
		Now:         func() time.Time { return time.UnixMilli(1700000000000) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

// progressTrail drains the queue and returns the progress values seen in
// session_update events.
func (h *harness) progressTrail(t *testing.T) []int {
	t.Helper()
	var out []int
	for {
		select {
		case msg := <-h.sub.Messages():
			if msg.Type != session.EventSessionUpdate {
				continue
			}
			var evt session.Event
			if err := json.Unmarshal(msg.Data, &evt); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			out = append(out, evt.Worker.Progress)
		default:
			return out
		}
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Opts{}); err == nil {
		t.Fatal("expected error for missing provider")
	}
	if _, err := New(Opts{Browsers: &fakeProvider{}}); err == nil {
		t.Fatal("expected error for missing runner")
	}
	if _, err := New(Opts{Browsers: &fakeProvider{}, Runner: &fakeRunner{}}); err == nil {
		t.Fatal("expected error for missing broadcaster")
	}
}

func TestRun_Success(t *testing.T) {
	h := newHarness(t)
	runner := &fakeRunner{
		events: []agent.Event{
			{Kind: agent.KindPhase, Phase: agent.PhaseNavigated},
			{Kind: agent.KindReasoning, Text: "Typing the query"},
			{Kind: agent.KindAction, Action: "screenshot"},
			{Kind: agent.KindPhase, Phase: agent.PhaseExtracting},
			{Kind: agent.KindReasoning, Text: "Reading the first card"},
		},
		result: &agent.Result{
			Success: true,
			Message: `Here you go: [{"name":"Ace Plumbing","rating":4.9},{"name":"Bob's Pipes","pricing":"$90/hr"},{"rating":"3.2 stars"}]`,
		},
	}
	w := h.worker(t, runner, time.Minute)

	if err := w.Run(context.Background(), testPlatform, h.sess); err != nil {
		t.Fatalf("Run: %v", err)
	}

	state, _ := h.sess.Worker(testPlatform.Name)
	if state.Status != models.StatusCompleted {
		t.Errorf("Status = %q, want %q", state.Status, models.StatusCompleted)
	}
	if state.Progress != 100 {
		t.Errorf("Progress = %d, want 100", state.Progress)
	}
	if len(state.Contractors) != 3 {
		t.Fatalf("len(Contractors) = %d, want 3", len(state.Contractors))
	}
	if state.Contractors[2].Name != "Thumbtack Pro #3" {
		t.Errorf("default name = %q, want %q", state.Contractors[2].Name, "Thumbtack Pro #3")
	}
	if state.LiveViewURL != "https://live/thumbtack" {
		t.Errorf("LiveViewURL = %q", state.LiveViewURL)
	}
	if got := len(h.sess.Contractors()); got != 3 {
		t.Errorf("session contractors = %d, want 3", got)
	}
	if len(h.provider.released) != 1 || h.provider.released[0] != "bb-thumbtack" {
		t.Errorf("released = %v, want [bb-thumbtack]", h.provider.released)
	}
	if runner.task.Browser.SessionID != "bb-thumbtack" {
		t.Errorf("task browser = %q, want bb-thumbtack", runner.task.Browser.SessionID)
	}
	if !strings.Contains(runner.task.Instruction, "94107") {
		t.Error("instruction should mention the zip code")
	}

	var sawScreenshot, sawReasoning bool
	for _, l := range state.Logs {
		if l.Message == "Taking screenshot" && l.Type == models.LogInfo {
			sawScreenshot = true
		}
		if l.Message == "Typing the query" && l.Type == models.LogAction {
			sawReasoning = true
		}
	}
	if !sawScreenshot || !sawReasoning {
		t.Errorf("logs missing expected entries: %+v", state.Logs)
	}
}

func TestRun_ProgressIsMonotonic(t *testing.T) {
	h := newHarness(t)
	var events []agent.Event
	for i := 0; i < 20; i++ {
		events = append(events, agent.Event{Kind: agent.KindReasoning, Text: "step"})
	}
	events = append(events, agent.Event{Kind: agent.KindPhase, Phase: agent.PhaseSearching})
	runner := &fakeRunner{events: events, result: &agent.Result{Success: true, Message: "[]"}}
	w := h.worker(t, runner, time.Minute)

	if err := w.Run(context.Background(), testPlatform, h.sess); err != nil {
		t.Fatalf("Run: %v", err)
	}
	trail := h.progressTrail(t)
	if len(trail) == 0 {
		t.Fatal("no session updates observed")
	}
	for i := 1; i < len(trail); i++ {
		if trail[i] < trail[i-1] {
			t.Fatalf("progress went from %d to %d: %v", trail[i-1], trail[i], trail)
		}
	}
	if last := trail[len(trail)-1]; last != 100 {
		t.Errorf("final progress = %d, want 100", last)
	}
}

func TestRun_UnparseableOutputCompletesEmpty(t *testing.T) {
	h := newHarness(t)
	runner := &fakeRunner{result: &agent.Result{Success: true, Message: "I could not find any contractors."}}
	w := h.worker(t, runner, time.Minute)

	if err := w.Run(context.Background(), testPlatform, h.sess); err != nil {
		t.Fatalf("Run: %v", err)
	}
	state, _ := h.sess.Worker(testPlatform.Name)
	if state.Status != models.StatusCompleted {
		t.Errorf("Status = %q, want completed", state.Status)
	}
	if len(state.Contractors) != 0 {
		t.Errorf("len(Contractors) = %d, want 0", len(state.Contractors))
	}
}

func TestRun_AgentErrorFailsWorker(t *testing.T) {
	h := newHarness(t)
	runner := &fakeRunner{err: errors.New("timeout")}
	w := h.worker(t, runner, time.Minute)

	if err := w.Run(context.Background(), testPlatform, h.sess); err == nil {
		t.Fatal("expected error")
	}
	state, _ := h.sess.Worker(testPlatform.Name)
	if state.Status != models.StatusError {
		t.Errorf("Status = %q, want error", state.Status)
	}
	if state.Error != "timeout" {
		t.Errorf("Error = %q, want %q", state.Error, "timeout")
	}
	if len(h.provider.released) != 1 {
		t.Errorf("browser not released after failure: %v", h.provider.released)
	}
	if len(h.sess.Contractors()) != 0 {
		t.Error("failed worker must not contribute contractors")
	}
}

func TestRun_BrowserCreateFails(t *testing.T) {
	h := newHarness(t)
	h.provider.createErr = errors.New("browserbase: quota exceeded")
	w := h.worker(t, &fakeRunner{}, time.Minute)

	if err := w.Run(context.Background(), testPlatform, h.sess); err == nil {
		t.Fatal("expected error")
	}
	state, _ := h.sess.Worker(testPlatform.Name)
	if state.Error != "browserbase: quota exceeded" {
		t.Errorf("Error = %q", state.Error)
	}
	if len(h.provider.released) != 0 {
		t.Errorf("nothing to release, got %v", h.provider.released)
	}
}

func TestRun_Timeout(t *testing.T) {
	h := newHarness(t)
	w := h.worker(t, &fakeRunner{block: true}, 20*time.Millisecond)

	if err := w.Run(context.Background(), testPlatform, h.sess); err == nil {
		t.Fatal("expected error")
	}
	state, _ := h.sess.Worker(testPlatform.Name)
	if !strings.HasPrefix(state.Error, "timed out after") {
		t.Errorf("Error = %q, want timed out message", state.Error)
	}
	if len(h.provider.released) != 1 {
		t.Errorf("browser not released after timeout: %v", h.provider.released)
	}
}

func TestHandleEvent_DiagnosticLines(t *testing.T) {
	h := newHarness(t)
	w := h.worker(t, &fakeRunner{}, time.Minute)
	r := &run{w: w, platform: testPlatform, sess: h.sess}

	r.handleEvent(agent.Event{Kind: agent.KindDiagnostic, Text: "[agent] 💭 reasoning: clicking search"})
	r.handleEvent(agent.Event{Kind: agent.KindDiagnostic, Text: "connecting to cdp endpoint"})
	r.handleEvent(agent.Event{Kind: agent.KindDiagnostic, Text: "captured screenshot 3"})

	state, _ := h.sess.Worker(testPlatform.Name)
	if len(state.Logs) != 2 {
		t.Fatalf("len(Logs) = %d, want 2: %+v", len(state.Logs), state.Logs)
	}
	if state.Logs[0].Type != models.LogAction {
		t.Errorf("Logs[0].Type = %q, want action", state.Logs[0].Type)
	}
	if state.Logs[1].Message != "Taking screenshot" {
		t.Errorf("Logs[1].Message = %q", state.Logs[1].Message)
	}
	if state.Progress != searchingBase+progressPerStep {
		t.Errorf("Progress = %d, want %d", state.Progress, searchingBase+progressPerStep)
	}
}

func TestReasoningStep_CapsWithinBand(t *testing.T) {
	h := newHarness(t)
	w := h.worker(t, &fakeRunner{}, time.Minute)
	r := &run{w: w, platform: testPlatform, sess: h.sess}

	for i := 0; i < 50; i++ {
		r.reasoningStep("thinking")
	}
	state, _ := h.sess.Worker(testPlatform.Name)
	if state.Progress != searchingCap {
		t.Errorf("Progress = %d, want %d", state.Progress, searchingCap)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"  padded  ", 10, "padded"},
		{"abcdefghij", 8, "abcde..."},
		{"héllo wörld", 7, "héll..."},
		{"abcdef", 2, "ab"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestClassifyDiagnostic(t *testing.T) {
	tests := []struct {
		line   string
		ok     bool
		typ    models.LogType
		prefix string
	}{
		{"Reasoning: open the filters", true, models.LogAction, "open the filters"},
		{"💭 scroll down", true, models.LogAction, "scroll down"},
		{"taking a SCREENSHOT now", true, models.LogInfo, "Taking screenshot"},
		{"İİ agent REASONING: compare prices", true, models.LogAction, "compare prices"},
		{`[agent] reasoning="pick top rated"`, true, models.LogAction, "pick top rated"},
		{"heartbeat ok", false, "", ""},
	}
	for _, tt := range tests {
		typ, msg, ok := classifyDiagnostic(tt.line)
		if ok != tt.ok {
			t.Errorf("classifyDiagnostic(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			continue
		}
		if typ != tt.typ || msg != tt.prefix {
			t.Errorf("classifyDiagnostic(%q) = (%q, %q), want (%q, %q)", tt.line, typ, msg, tt.typ, tt.prefix)
		}
	}
}
