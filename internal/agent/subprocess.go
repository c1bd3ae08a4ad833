package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"
)

// DefaultWaitDelay is how long a cancelled agent gets between SIGTERM and
// SIGKILL.
const DefaultWaitDelay = 10 * time.Second

// Subprocess runs the agent as an external command. The task is written to
// stdin as JSON; stdout carries newline-delimited JSON events and stderr the
// agent's diagnostic log.
type Subprocess struct {
	Command   []string
	Env       map[string]string
	WaitDelay time.Duration
}

// taskPayload is the stdin wire form of a Task.
type taskPayload struct {
	Task
	NavigationTimeoutMs int64 `json:"navigationTimeoutMs"`
}

// NewSubprocess creates a Subprocess runner for command.
func NewSubprocess(command []string, env map[string]string) (*Subprocess, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, fmt.Errorf("agent: command is required")
	}
	return &Subprocess{Command: command, Env: env, WaitDelay: DefaultWaitDelay}, nil
}

// Run starts the agent process and blocks until it exits.
func (s *Subprocess) Run(ctx context.Context, task Task, handle Handler) (*Result, error) {
	if handle == nil {
		handle = func(Event) {}
	}
	if task.Instruction == "" {
		return nil, fmt.Errorf("agent: instruction is required")
	}

	payload, err := json.Marshal(taskPayload{Task: task, NavigationTimeoutMs: task.NavigationTimeout.Milliseconds()})
	if err != nil {
		return nil, fmt.Errorf("agent: encode task: %w", err)
	}

	cmd := s.buildCommand(ctx, task)
	cmd.Stdin = bytes.NewReader(payload)

	var (
		mu       sync.Mutex
		result   *Result
		lastErr  string
		sawEvent bool
	)
	stdout := newLineWriter(&mu, func(line string) {
		evt := ParseEvent(line)
		switch evt.Kind {
		case KindResult:
			if evt.Result != nil {
				result = evt.Result
			}
		case KindError:
			lastErr = evt.Text
		}
		sawEvent = true
		handle(evt)
	})
	stderr := newLineWriter(&mu, func(line string) {
		handle(Event{Kind: KindDiagnostic, Text: line})
	})
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	stdout.Close()
	stderr.Close()

	mu.Lock()
	defer mu.Unlock()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("agent: %w", ctxErr)
	}
	if result != nil {
		return result, nil
	}
	switch {
	case lastErr != "":
		return nil, fmt.Errorf("agent: %s", lastErr)
	case runErr != nil:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("agent: exited with code %d", exitErr.ExitCode())
		}
		return nil, fmt.Errorf("agent: run %s: %w", s.Command[0], runErr)
	case !sawEvent:
		return nil, fmt.Errorf("agent: exited without output")
	default:
		return nil, fmt.Errorf("agent: exited without a result")
	}
}

// buildCommand constructs the exec.Cmd for the agent.
func (s *Subprocess) buildCommand(ctx context.Context, task Task) *exec.Cmd {
	cmd := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...)

	env := os.Environ()
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+s.Env[k])
	}
	env = append(env,
		"BROWSERBASE_SESSION_ID="+task.Browser.SessionID,
		"BROWSERBASE_CONNECT_URL="+task.Browser.ConnectURL,
	)
	cmd.Env = env

	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = s.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}
	return cmd
}
