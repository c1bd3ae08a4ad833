// Package orchestrator coordinates a quote search: it creates the session,
// runs one worker per platform, and finalizes the result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/quotescout/internal/config"
	"github.com/zulandar/quotescout/internal/logger"
	"github.com/zulandar/quotescout/internal/models"
	"github.com/zulandar/quotescout/internal/notify"
	"github.com/zulandar/quotescout/internal/session"
)

// ErrInvalidRequest is returned when a required request field is missing.
var ErrInvalidRequest = errors.New("orchestrator: invalid request")

// ErrShuttingDown is returned by StartSearch after Shutdown.
var ErrShuttingDown = errors.New("orchestrator: shutting down")

// DefaultCleanupGrace is how long a finished session stays readable.
const DefaultCleanupGrace = 5 * time.Minute

// sideEffectTimeout bounds archiving and notification after a search ends.
const sideEffectTimeout = 30 * time.Second

// PlatformRunner runs one platform search for a session. *worker.Worker
// implements it.
type PlatformRunner interface {
	Run(ctx context.Context, platform config.PlatformConfig, sess *session.Session) error
}

// Archiver stores finished sessions. *archive.Store implements it.
type Archiver interface {
	Save(ctx context.Context, snap session.Snapshot) error
}

// Request is a start-search request.
type Request struct {
	JobID          string `json:"jobId"`
	ZipCode        string `json:"zipCode"`
	City           string `json:"city"`
	Category       string `json:"category"`
	Subcategory    string `json:"subcategory"`
	ProblemSummary string `json:"problemSummary"`
	ScopeOfWork    string `json:"scopeOfWork"`
}

// Validate reports the missing required fields as ErrInvalidRequest.
func (r Request) Validate() error {
	var missing []string
	if strings.TrimSpace(r.JobID) == "" {
		missing = append(missing, "jobId")
	}
	if strings.TrimSpace(r.ZipCode) == "" {
		missing = append(missing, "zipCode")
	}
	if strings.TrimSpace(r.Category) == "" {
		missing = append(missing, "category")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

func (r Request) params() session.Params {
	return session.Params{
		ZipCode: strings.TrimSpace(r.ZipCode),
		City:    strings.TrimSpace(r.City),
		Classification: models.Classification{
			Category:       strings.TrimSpace(r.Category),
			Subcategory:    strings.TrimSpace(r.Subcategory),
			ProblemSummary: strings.TrimSpace(r.ProblemSummary),
			ScopeOfWork:    strings.TrimSpace(r.ScopeOfWork),
		},
	}
}

// Result is the immediate answer to StartSearch.
type Result struct {
	JobID          string
	AlreadyRunning bool
}

// Orchestrator starts and finalizes searches.
type Orchestrator struct {
	registry     *session.Registry
	broadcaster  *session.Broadcaster
	runner       PlatformRunner
	platforms    []config.PlatformConfig
	cleanupGrace time.Duration
	archive      Archiver
	notifier     notify.Notifier

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// Opts holds parameters for creating an Orchestrator.
type Opts struct {
	Registry     *session.Registry
	Broadcaster  *session.Broadcaster
	Runner       PlatformRunner
	Platforms    []config.PlatformConfig
	CleanupGrace time.Duration
	// Archive and Notifier are optional.
	Archive  Archiver
	Notifier notify.Notifier
}

// New creates an Orchestrator.
func New(opts Opts) (*Orchestrator, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("orchestrator: registry is required")
	}
	if opts.Broadcaster == nil {
		return nil, fmt.Errorf("orchestrator: broadcaster is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("orchestrator: platform runner is required")
	}
	if len(opts.Platforms) == 0 {
		return nil, fmt.Errorf("orchestrator: at least one platform must be configured")
	}
	if opts.CleanupGrace <= 0 {
		opts.CleanupGrace = DefaultCleanupGrace
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		registry:     opts.Registry,
		broadcaster:  opts.Broadcaster,
		runner:       opts.Runner,
		platforms:    append([]config.PlatformConfig(nil), opts.Platforms...),
		cleanupGrace: opts.CleanupGrace,
		archive:      opts.Archive,
		notifier:     opts.Notifier,
		baseCtx:      ctx,
		cancel:       cancel,
	}, nil
}

// StartSearch validates req, creates the session and launches the platform
// workers in the background. It returns before any worker finishes. A
// repeated request for a job that is still running reports AlreadyRunning
// and starts nothing.
func (o *Orchestrator) StartSearch(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	jobID := strings.TrimSpace(req.JobID)
	res := Result{JobID: jobID}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closing {
		return res, ErrShuttingDown
	}

	sess, created := o.registry.Create(jobID, req.params())
	if !created {
		logger.Info(logger.WithJob(ctx, jobID), "search already running")
		res.AlreadyRunning = true
		return res, nil
	}

	for _, p := range o.platforms {
		state := sess.AddWorker(p.Name)
		o.broadcaster.Broadcast(jobID, session.SessionUpdate(jobID, state))
	}
	logger.Info(logger.WithJob(ctx, jobID), "search started", "platforms", len(o.platforms), "zip", sess.Params.ZipCode)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(sess)
	}()
	return res, nil
}

// run executes every platform worker, waits for all of them, then finalizes
// the session.
func (o *Orchestrator) run(sess *session.Session) {
	ctx := logger.WithJob(o.baseCtx, sess.JobID)
	start := time.Now()

	joinErr := o.runWorkers(ctx, sess)

	// Finish delivers the terminal event itself; broadcasting it by job ID
	// could reach a newer session of the same job.
	if joinErr != nil {
		_, failed := sess.Finish(session.OutcomeError, joinErr.Error())
		logger.Error(ctx, "search failed", "error", joinErr, "duration", time.Since(start), "dropped_subscribers", failed)
	} else {
		_, failed := sess.Finish(session.OutcomeComplete, "")
		logger.Info(ctx, "search complete", "contractors", len(sess.Contractors()), "duration", time.Since(start), "dropped_subscribers", failed)
	}

	o.finalize(ctx, sess.Snapshot())
	o.registry.ScheduleCleanup(sess, o.cleanupGrace)
}

// runWorkers runs one goroutine per platform. Worker failures are already
// recorded on their worker records and do not fail the join; a panic does.
func (o *Orchestrator) runWorkers(ctx context.Context, sess *session.Session) error {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		panics []error
	)
	for _, p := range o.platforms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					err := fmt.Errorf("worker %s panicked: %v", p.Name, r)
					logger.Error(ctx, "worker panic", "platform", p.Name, "panic", r, "stack", string(debug.Stack()))
					if state, ok := sess.FailWorker(p.Name, err.Error()); ok {
						o.broadcaster.Broadcast(sess.JobID, session.SessionUpdate(sess.JobID, state))
					}
					mu.Lock()
					panics = append(panics, err)
					mu.Unlock()
				}
			}()
			if err := o.runner.Run(ctx, p, sess); err != nil {
				logger.Debug(ctx, "worker returned error", "platform", p.Name, "error", err)
			}
		}()
	}
	wg.Wait()
	return errors.Join(panics...)
}

// finalize archives and announces a finished search. Both are best effort.
func (o *Orchestrator) finalize(ctx context.Context, snap session.Snapshot) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if o.archive != nil {
		if err := o.archive.Save(ctx, snap); err != nil {
			logger.Warn(ctx, "archive save failed", "error", err)
		}
	}
	if o.notifier != nil {
		if err := o.notifier.Notify(ctx, notify.Summarize(snap)); err != nil {
			logger.Warn(ctx, "notification failed", "error", err)
		}
	}
}

// Shutdown cancels in-flight searches and waits for them to finalize or for
// ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator: shutdown: %w", ctx.Err())
	}
}

// Wait blocks until every started search has finalized.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
