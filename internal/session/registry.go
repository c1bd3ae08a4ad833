package session

import (
	"errors"
	"sync"
	"time"
)

// ErrSessionNotFound is returned when no session exists for a job ID.
var ErrSessionNotFound = errors.New("session: not found")

// Registry maps job IDs to live sessions. It is memory only; sessions do not
// survive a restart.
type Registry struct {
	mu       sync.Mutex
	now      func() time.Time
	sessions map[string]*Session
	timers   map[string]*time.Timer
	closed   bool
}

// RegistryOpts holds parameters for creating a Registry.
type RegistryOpts struct {
	// Now overrides the clock for tests.
	Now func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts RegistryOpts) *Registry {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		now:      now,
		sessions: make(map[string]*Session),
		timers:   make(map[string]*time.Timer),
	}
}

// Create allocates a session for jobID. If a session for jobID is still
// running it is returned with created=false and nothing changes. A finished
// session waiting for cleanup is discarded and replaced.
func (r *Registry) Create(jobID string, p Params) (sess *Session, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[jobID]; ok {
		if existing.IsRunning() {
			return existing, false
		}
		r.stopTimer(jobID)
		existing.discard()
	}

	sess = newSession(jobID, p, r.now)
	if !r.closed {
		r.sessions[jobID] = sess
	}
	return sess, true
}

// Get returns the session for jobID or ErrSessionNotFound.
func (r *Registry) Get(jobID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[jobID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// ScheduleCleanup removes sess from the registry after delay. Scheduling
// again replaces the pending timer. Nothing is armed when sess is no longer
// the session registered under its job ID, so a finished run can never
// schedule the removal of a newer run of the same job.
func (r *Registry) ScheduleCleanup(sess *Session, delay time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.sessions[sess.JobID] != sess {
		return false
	}
	jobID := sess.JobID
	r.stopTimer(jobID)
	r.timers[jobID] = time.AfterFunc(delay, func() {
		r.removeIf(jobID, sess)
	})
	return true
}

// Remove drops the session for jobID immediately and closes its subscribers.
func (r *Registry) Remove(jobID string) {
	r.mu.Lock()
	sess, ok := r.sessions[jobID]
	if ok {
		delete(r.sessions, jobID)
		r.stopTimer(jobID)
	}
	r.mu.Unlock()

	if ok {
		sess.discard()
	}
}

func (r *Registry) removeIf(jobID string, want *Session) {
	r.mu.Lock()
	sess, ok := r.sessions[jobID]
	if !ok || sess != want {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, jobID)
	delete(r.timers, jobID)
	r.mu.Unlock()

	sess.discard()
}

// stopTimer must be called with r.mu held.
func (r *Registry) stopTimer(jobID string) {
	if t, ok := r.timers[jobID]; ok {
		t.Stop()
		delete(r.timers, jobID)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// JobIDs returns the IDs of all live sessions.
func (r *Registry) JobIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Close stops every pending cleanup timer and discards all sessions.
// Sessions created after Close are not registered.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	for id := range r.timers {
		r.stopTimer(id)
	}
	r.sessions = make(map[string]*Session)
	r.closed = true
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.discard()
	}
}
