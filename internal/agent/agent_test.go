package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// --- lineWriter tests ---

func TestLineWriter_SplitsLines(t *testing.T) {
	var mu sync.Mutex
	var got []string
	w := newLineWriter(&mu, func(l string) { got = append(got, l) })

	w.Write([]byte("first\nsec"))
	w.Write([]byte("ond\r\n\n   \nthird"))
	if len(got) != 2 {
		t.Fatalf("before Close: got %v, want 2 lines", got)
	}
	w.Close()

	want := []string{"first", "second", "third"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("lines = %v, want %v", got, want)
	}
}

func TestLineWriter_OversizedLine(t *testing.T) {
	var mu sync.Mutex
	var got []string
	w := newLineWriter(&mu, func(l string) { got = append(got, l) })

	w.Write([]byte(strings.Repeat("x", maxLineBytes+10)))
	if len(got) != 1 {
		t.Fatalf("oversized partial line should be flushed, got %d lines", len(got))
	}
}

// --- ParseEvent tests ---

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		kind   EventKind
		check  func(t *testing.T, e Event)
	}{
		{
			name: "plain text",
			line: "[agent] thinking about the page",
			kind: KindDiagnostic,
		},
		{
			name: "broken json",
			line: `{"type":"reasoning"`,
			kind: KindDiagnostic,
		},
		{
			name: "unknown type",
			line: `{"type":"telemetry","text":"x"}`,
			kind: KindDiagnostic,
		},
		{
			name: "phase",
			line: `{"type":"phase","phase":"extracting"}`,
			kind: KindPhase,
			check: func(t *testing.T, e Event) {
				if e.Phase != PhaseExtracting {
					t.Errorf("phase = %q", e.Phase)
				}
			},
		},
		{
			name: "reasoning",
			line: `{"type":"reasoning","text":"search for plumbers","step":3}`,
			kind: KindReasoning,
			check: func(t *testing.T, e Event) {
				if e.Text != "search for plumbers" || e.Step != 3 {
					t.Errorf("event = %+v", e)
				}
			},
		},
		{
			name: "nested result",
			line: `{"type":"result","result":{"success":true,"completed":true,"message":"[]"}}`,
			kind: KindResult,
			check: func(t *testing.T, e Event) {
				if e.Result == nil || !e.Result.Success || e.Result.Message != "[]" {
					t.Errorf("result = %+v", e.Result)
				}
			},
		},
		{
			name: "flat result",
			line: `{"type":"result","success":true,"message":"found [1]"}`,
			kind: KindResult,
			check: func(t *testing.T, e Event) {
				if e.Result == nil || e.Result.Message != "found [1]" {
					t.Errorf("result = %+v", e.Result)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := ParseEvent(tt.line)
			if e.Kind != tt.kind {
				t.Fatalf("kind = %q, want %q", e.Kind, tt.kind)
			}
			if tt.kind == KindDiagnostic && e.Text != tt.line {
				t.Errorf("diagnostic text = %q, want original line", e.Text)
			}
			if tt.check != nil {
				tt.check(t, e)
			}
		})
	}
}

// --- Subprocess tests ---

func shRunner(t *testing.T, script string) *Subprocess {
	t.Helper()
	r, err := NewSubprocess([]string{"sh", "-c", script}, map[string]string{"QS_TEST": "1"})
	if err != nil {
		t.Fatalf("NewSubprocess: %v", err)
	}
	r.WaitDelay = time.Second
	return r
}

func testTask() Task {
	return Task{
		Instruction: "find plumbers",
		StartURL:    "https://www.thumbtack.com",
		MaxSteps:    5,
		Browser:     BrowserRef{SessionID: "bb-123"},
	}
}

func TestNewSubprocess_RequiresCommand(t *testing.T) {
	if _, err := NewSubprocess(nil, nil); err == nil {
		t.Error("expected error for empty command")
	}
}

func TestSubprocess_RequiresInstruction(t *testing.T) {
	r := shRunner(t, "true")
	_, err := r.Run(context.Background(), Task{}, nil)
	if err == nil || !strings.Contains(err.Error(), "instruction is required") {
		t.Errorf("err = %v, want instruction is required", err)
	}
}

func TestSubprocess_StreamsEventsAndResult(t *testing.T) {
	script := `cat >/dev/null
echo '{"type":"phase","phase":"navigated"}'
echo "reasoning: looking for the search box" 1>&2
echo '{"type":"reasoning","text":"typing query"}'
echo '{"type":"result","success":true,"completed":true,"message":"[{\"name\":\"Ace\"}]"}'`

	var events []Event
	res, err := shRunner(t, script).Run(context.Background(), testTask(), func(e Event) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success || !strings.Contains(res.Message, "Ace") {
		t.Errorf("result = %+v", res)
	}

	kinds := map[EventKind]int{}
	for _, e := range events {
		kinds[e.Kind]++
	}
	if kinds[KindPhase] != 1 || kinds[KindReasoning] != 1 || kinds[KindResult] != 1 || kinds[KindDiagnostic] != 1 {
		t.Errorf("event kinds = %v", kinds)
	}
}

func TestSubprocess_ReceivesTaskAndEnv(t *testing.T) {
	script := `payload=$(cat)
case "$payload" in *'"maxSteps":5'*) ;; *) echo '{"type":"error","text":"bad payload"}'; exit 1;; esac
echo "{\"type\":\"result\",\"success\":true,\"message\":\"$BROWSERBASE_SESSION_ID $QS_TEST\"}"`

	res, err := shRunner(t, script).Run(context.Background(), testTask(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Message != "bb-123 1" {
		t.Errorf("message = %q, want session id and env", res.Message)
	}
}

func TestSubprocess_ErrorEvent(t *testing.T) {
	script := `cat >/dev/null
echo '{"type":"error","text":"navigation blocked"}'
exit 2`
	_, err := shRunner(t, script).Run(context.Background(), testTask(), nil)
	if err == nil || !strings.Contains(err.Error(), "navigation blocked") {
		t.Errorf("err = %v, want navigation blocked", err)
	}
}

func TestSubprocess_ExitWithoutResult(t *testing.T) {
	_, err := shRunner(t, "cat >/dev/null; exit 3").Run(context.Background(), testTask(), nil)
	if err == nil || !strings.Contains(err.Error(), "exited with code 3") {
		t.Errorf("err = %v, want exit code 3", err)
	}

	_, err = shRunner(t, "cat >/dev/null; echo hello").Run(context.Background(), testTask(), nil)
	if err == nil || !strings.Contains(err.Error(), "without a result") {
		t.Errorf("err = %v, want without a result", err)
	}
}

func TestSubprocess_ContextTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := shRunner(t, "cat >/dev/null; sleep 30").Run(ctx, testTask(), nil)
	if err == nil || !strings.Contains(err.Error(), "deadline exceeded") {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("cancel took %v", time.Since(start))
	}
}
