// Package agent drives the autonomous browsing agent that searches a
// marketplace and extracts contractor listings.
package agent

import (
	"context"
	"time"
)

// BrowserRef identifies the remote browser the agent should attach to.
type BrowserRef struct {
	SessionID  string `json:"sessionId"`
	ConnectURL string `json:"connectUrl,omitempty"`
}

// Task is a single agent run.
type Task struct {
	Instruction       string        `json:"instruction"`
	StartURL          string        `json:"startUrl"`
	AllowedDomains    []string      `json:"allowedDomains"`
	NavigationTimeout time.Duration `json:"-"`
	MaxSteps          int           `json:"maxSteps"`
	Model             string        `json:"model,omitempty"`
	Browser           BrowserRef    `json:"browser"`
}

// Result is the agent's final answer. Message is free text that is expected
// to embed a JSON array of extracted listings.
type Result struct {
	Success   bool   `json:"success"`
	Completed bool   `json:"completed"`
	Message   string `json:"message"`
	Steps     int    `json:"steps,omitempty"`
}

// EventKind classifies agent progress events.
type EventKind string

const (
	// KindPhase reports that the agent entered a new phase (see Phase*).
	KindPhase EventKind = "phase"
	// KindReasoning carries one step of the agent's reasoning.
	KindReasoning EventKind = "reasoning"
	// KindAction reports a browser action such as a click or screenshot.
	KindAction EventKind = "action"
	// KindResult carries the final result.
	KindResult EventKind = "result"
	// KindError reports an agent-side failure message.
	KindError EventKind = "error"
	// KindDiagnostic is one raw line of the agent's diagnostic log.
	KindDiagnostic EventKind = "diagnostic"
)

// Phases reported with KindPhase.
const (
	PhaseNavigated  = "navigated"
	PhaseSearching  = "searching"
	PhaseExtracting = "extracting"
)

// Event is one progress notification from a running agent.
type Event struct {
	Kind   EventKind `json:"type"`
	Phase  string    `json:"phase,omitempty"`
	Text   string    `json:"text,omitempty"`
	Action string    `json:"action,omitempty"`
	Step   int       `json:"step,omitempty"`
	Result *Result   `json:"result,omitempty"`
}

// Handler receives events from a run. Calls for one run are serialized.
type Handler func(Event)

// Runner executes agent tasks.
type Runner interface {
	// Run blocks until the agent finishes, the step budget is exhausted or
	// ctx is done.
	Run(ctx context.Context, task Task, handle Handler) (*Result, error)
}
