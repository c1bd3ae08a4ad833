// Package session holds the in-memory state of running quote searches and
// fans state changes out to progress stream subscribers.
package session

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/zulandar/quotescout/internal/models"
)

// Params are the caller-supplied attributes of a search.
type Params struct {
	ZipCode        string                `json:"zipCode"`
	City           string                `json:"city"`
	Classification models.Classification `json:"classification"`
}

// Outcome values recorded by Finish.
const (
	OutcomeComplete = "complete"
	OutcomeError    = "error"
)

// statusRank orders the non-error worker phases. A worker never moves to a
// lower-ranked phase.
var statusRank = map[models.WorkerStatus]int{
	models.StatusInitializing: 0,
	models.StatusNavigating:   1,
	models.StatusSearching:    2,
	models.StatusExtracting:   3,
	models.StatusCompleted:    4,
}

// Update is a partial change to a worker record. Zero fields are left as is.
type Update struct {
	Status      models.WorkerStatus
	Progress    int
	Action      string
	LiveViewURL string
}

// Snapshot is a copy of a session's state.
type Snapshot struct {
	JobID       string               `json:"jobId"`
	Params      Params               `json:"params"`
	IsRunning   bool                 `json:"isRunning"`
	Outcome     string               `json:"outcome,omitempty"`
	ErrorMsg    string               `json:"error,omitempty"`
	Workers     []models.WorkerState `json:"workers"`
	Contractors []models.Contractor  `json:"contractors"`
	CreatedAt   time.Time            `json:"createdAt"`
	CompletedAt *time.Time           `json:"completedAt,omitempty"`
}

// Session is the server-side state of one job. All methods are safe for
// concurrent use; worker goroutines and HTTP handlers share it.
type Session struct {
	JobID     string
	Params    Params
	CreatedAt time.Time

	mu          sync.Mutex
	now         func() time.Time
	running     bool
	outcome     string
	errMsg      string
	completedAt *time.Time
	workers     []*models.WorkerState
	contractors []models.Contractor
	subs        map[Subscriber]struct{}
	discarded   bool
}

func newSession(jobID string, p Params, now func() time.Time) *Session {
	return &Session{
		JobID:     jobID,
		Params:    p,
		CreatedAt: now(),
		now:       now,
		running:   true,
		subs:      make(map[Subscriber]struct{}),
	}
}

// IsRunning reports whether any worker may still be active.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// AddWorker registers a worker record in the initializing phase. Adding a
// platform twice returns the existing record.
func (s *Session) AddWorker(platform string) models.WorkerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w := s.worker(platform); w != nil {
		return copyWorker(w)
	}
	w := &models.WorkerState{
		Platform:      platform,
		Status:        models.StatusInitializing,
		CurrentAction: "Queued",
		Logs:          []models.LogEntry{},
		StartedAt:     s.now(),
		Contractors:   []models.Contractor{},
	}
	s.workers = append(s.workers, w)
	return copyWorker(w)
}

// UpdateWorker applies u to the platform's record. It returns false when the
// worker is unknown or already terminal. Progress never decreases and the
// phase never moves backwards.
func (s *Session) UpdateWorker(platform string, u Update) (models.WorkerState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.worker(platform)
	if w == nil || w.Status.Terminal() {
		return models.WorkerState{}, false
	}
	if u.Status != "" && !u.Status.Terminal() && statusRank[u.Status] >= statusRank[w.Status] {
		w.Status = u.Status
	}
	if u.Progress > w.Progress {
		w.Progress = min(u.Progress, 99)
	}
	if u.Action != "" {
		w.CurrentAction = u.Action
	}
	if u.LiveViewURL != "" {
		w.LiveViewURL = u.LiveViewURL
	}
	return copyWorker(w), true
}

// AppendLog adds an entry to a non-terminal worker's log.
func (s *Session) AppendLog(platform string, typ models.LogType, msg string) (models.WorkerState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.worker(platform)
	if w == nil || w.Status.Terminal() {
		return models.WorkerState{}, false
	}
	w.Logs = append(w.Logs, models.LogEntry{Timestamp: s.now(), Message: msg, Type: typ})
	return copyWorker(w), true
}

// CompleteWorker moves the worker to completed and folds its contractors into
// the session aggregate. It is a no-op for terminal workers, so a worker's
// contractors are aggregated at most once.
func (s *Session) CompleteWorker(platform string, contractors []models.Contractor, msg string) (models.WorkerState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.worker(platform)
	if w == nil || w.Status.Terminal() {
		return models.WorkerState{}, false
	}
	now := s.now()
	w.Status = models.StatusCompleted
	w.Progress = 100
	w.CurrentAction = msg
	w.EndedAt = &now
	w.Contractors = slices.Clone(contractors)
	if w.Contractors == nil {
		w.Contractors = []models.Contractor{}
	}
	w.Logs = append(w.Logs, models.LogEntry{Timestamp: now, Message: msg, Type: models.LogSuccess})
	s.contractors = append(s.contractors, contractors...)
	return copyWorker(w), true
}

// FailWorker moves the worker to error with errMsg. Progress is left where
// the run stopped.
func (s *Session) FailWorker(platform, errMsg string) (models.WorkerState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.worker(platform)
	if w == nil || w.Status.Terminal() {
		return models.WorkerState{}, false
	}
	now := s.now()
	w.Status = models.StatusError
	w.Error = errMsg
	w.CurrentAction = "Failed"
	w.EndedAt = &now
	w.Logs = append(w.Logs, models.LogEntry{Timestamp: now, Message: errMsg, Type: models.LogError})
	return copyWorker(w), true
}

// Finish marks the session as no longer running.
//
// The terminal event (complete or error) is delivered to the current
// subscribers in the same critical section, so every subscriber receives it
// exactly once: from its replay if it attaches later, live otherwise. Only
// the first call has any effect.
func (s *Session) Finish(outcome, errMsg string) (delivered, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome != "" {
		return 0, 0
	}
	now := s.now()
	s.running = false
	s.outcome = outcome
	s.errMsg = errMsg
	s.completedAt = &now

	evt, ok := s.terminalEvent()
	if !ok {
		return 0, 0
	}
	msg, err := Encode(evt)
	if err != nil {
		slog.Error("session: terminal encode failed", "job_id", s.JobID, "error", err)
		return 0, 0
	}
	return s.deliverLocked(msg)
}

// Worker returns a copy of one worker record.
func (s *Session) Worker(platform string) (models.WorkerState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.worker(platform)
	if w == nil {
		return models.WorkerState{}, false
	}
	return copyWorker(w), true
}

// Workers returns copies of all worker records in registration order.
func (s *Session) Workers() []models.WorkerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyWorkers()
}

// Contractors returns the aggregate contractor list.
func (s *Session) Contractors() []models.Contractor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.contractors)
}

// Snapshot returns a copy of the whole session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		JobID:       s.JobID,
		Params:      s.Params,
		IsRunning:   s.running,
		Outcome:     s.outcome,
		ErrorMsg:    s.errMsg,
		Workers:     s.copyWorkers(),
		Contractors: slices.Clone(s.contractors),
		CreatedAt:   s.CreatedAt,
	}
	if snap.Contractors == nil {
		snap.Contractors = []models.Contractor{}
	}
	if s.completedAt != nil {
		t := *s.completedAt
		snap.CompletedAt = &t
	}
	return snap
}

// Subscribe attaches sub and immediately queues the current state to it:
// one session_update per worker, followed by the terminal event if the
// session already finished. Returns false if the session was discarded.
func (s *Session) Subscribe(sub Subscriber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.discarded {
		return false
	}
	for _, evt := range s.replayEvents() {
		msg, err := Encode(evt)
		if err != nil {
			slog.Error("session: replay encode failed", "job_id", s.JobID, "error", err)
			continue
		}
		if err := sub.Send(msg); err != nil {
			slog.Warn("session: replay to subscriber failed", "job_id", s.JobID, "error", err)
			sub.Close()
			return true
		}
	}
	s.subs[sub] = struct{}{}
	return true
}

func (s *Session) replayEvents() []Event {
	events := make([]Event, 0, len(s.workers)+1)
	for _, w := range s.workers {
		events = append(events, SessionUpdate(s.JobID, copyWorker(w)))
	}
	if evt, ok := s.terminalEvent(); ok {
		events = append(events, evt)
	}
	return events
}

func (s *Session) terminalEvent() (Event, bool) {
	switch s.outcome {
	case OutcomeComplete:
		return Complete(s.JobID, len(s.contractors)), true
	case OutcomeError:
		return Failure(s.JobID, s.errMsg), true
	}
	return Event{}, false
}

// Unsubscribe detaches sub. It does not close it.
func (s *Session) Unsubscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

// SubscriberCount returns the number of attached subscribers.
func (s *Session) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// deliver sends msg to every subscriber. A subscriber that fails is logged,
// detached and closed; the others still receive msg.
func (s *Session) deliver(msg Message) (delivered, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliverLocked(msg)
}

func (s *Session) deliverLocked(msg Message) (delivered, failed int) {
	for sub := range s.subs {
		if err := sub.Send(msg); err != nil {
			slog.Warn("session: dropping subscriber", "job_id", s.JobID, "event", msg.Type, "error", err)
			delete(s.subs, sub)
			sub.Close()
			failed++
			continue
		}
		delivered++
	}
	return delivered, failed
}

// discard closes and releases every subscriber. Called by the registry when
// the session is removed.
func (s *Session) discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discarded = true
	for sub := range s.subs {
		sub.Close()
	}
	s.subs = make(map[Subscriber]struct{})
}

func (s *Session) worker(platform string) *models.WorkerState {
	for _, w := range s.workers {
		if w.Platform == platform {
			return w
		}
	}
	return nil
}

func (s *Session) copyWorkers() []models.WorkerState {
	out := make([]models.WorkerState, len(s.workers))
	for i, w := range s.workers {
		out[i] = copyWorker(w)
	}
	return out
}

func copyWorker(w *models.WorkerState) models.WorkerState {
	c := *w
	c.Logs = slices.Clone(w.Logs)
	c.Contractors = slices.Clone(w.Contractors)
	if w.EndedAt != nil {
		t := *w.EndedAt
		c.EndedAt = &t
	}
	return c
}
