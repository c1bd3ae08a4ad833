// Package worker runs one automated contractor search against one
// marketplace: launch a remote browser, drive the agent, parse and
// normalize what it found, release the browser.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/quotescout/internal/agent"
	"github.com/zulandar/quotescout/internal/browser"
	"github.com/zulandar/quotescout/internal/config"
	"github.com/zulandar/quotescout/internal/logger"
	"github.com/zulandar/quotescout/internal/models"
	"github.com/zulandar/quotescout/internal/session"
)

const (
	defaultRunTimeout        = 8 * time.Minute
	defaultNavigationTimeout = 30 * time.Second
	defaultMaxLogMessage     = 200
	defaultMaxSteps          = 25
	// maxResults is the number of listings requested from the agent.
	maxResults = 5
	// releaseTimeout bounds browser release, which runs even after the run
	// context has been cancelled.
	releaseTimeout = 15 * time.Second
)

// Worker drives platform searches. A single Worker may run many searches
// concurrently; per-run state lives in run.
type Worker struct {
	browsers          browser.Provider
	runner            agent.Runner
	broadcaster       *session.Broadcaster
	maxSteps          int
	model             string
	runTimeout        time.Duration
	navigationTimeout time.Duration
	maxLogMessage     int
	now               func() time.Time
}

// Opts holds parameters for creating a Worker.
type Opts struct {
	Browsers          browser.Provider
	Runner            agent.Runner
	Broadcaster       *session.Broadcaster
	MaxSteps          int
	Model             string
	RunTimeout        time.Duration
	NavigationTimeout time.Duration
	MaxLogMessage     int
	// Now overrides the clock used for contractor IDs.
	Now func() time.Time
}

// New creates a Worker.
func New(opts Opts) (*Worker, error) {
	if opts.Browsers == nil {
		return nil, fmt.Errorf("worker: browser provider is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("worker: agent runner is required")
	}
	if opts.Broadcaster == nil {
		return nil, fmt.Errorf("worker: broadcaster is required")
	}
	w := &Worker{
		browsers:          opts.Browsers,
		runner:            opts.Runner,
		broadcaster:       opts.Broadcaster,
		maxSteps:          opts.MaxSteps,
		model:             opts.Model,
		runTimeout:        opts.RunTimeout,
		navigationTimeout: opts.NavigationTimeout,
		maxLogMessage:     opts.MaxLogMessage,
		now:               opts.Now,
	}
	if w.maxSteps <= 0 {
		w.maxSteps = defaultMaxSteps
	}
	if w.runTimeout <= 0 {
		w.runTimeout = defaultRunTimeout
	}
	if w.navigationTimeout <= 0 {
		w.navigationTimeout = defaultNavigationTimeout
	}
	if w.maxLogMessage <= 0 {
		w.maxLogMessage = defaultMaxLogMessage
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w, nil
}

// run is the state of one platform search.
type run struct {
	w        *Worker
	platform config.PlatformConfig
	sess     *session.Session
	steps    int
}

// Run searches one platform for sess. The worker record for the platform must
// already exist in the session. Failures are recorded on the record (status
// error) and also returned; they never affect other workers of the job.
func (w *Worker) Run(ctx context.Context, platform config.PlatformConfig, sess *session.Session) error {
	ctx = logger.WithPlatform(logger.WithJob(ctx, sess.JobID), platform.Name)
	ctx, cancel := context.WithTimeout(ctx, w.runTimeout)
	defer cancel()

	r := &run{w: w, platform: platform, sess: sess}
	contractors, err := r.execute(ctx)
	if err != nil {
		msg := err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("timed out after %s", w.runTimeout)
		}
		logger.Warn(ctx, "worker failed", "error", err)
		if state, ok := sess.FailWorker(platform.Name, msg); ok {
			w.publish(sess.JobID, state)
		}
		return err
	}

	msg := fmt.Sprintf("Found %d contractors on %s", len(contractors), platform.Name)
	if state, ok := sess.CompleteWorker(platform.Name, contractors, msg); ok {
		w.publish(sess.JobID, state)
		w.broadcaster.Broadcast(sess.JobID, session.ContractorsFound(sess.JobID, platform.Name, contractors))
	}
	logger.Info(ctx, "worker completed", "contractors", len(contractors))
	return nil
}

func (r *run) execute(ctx context.Context) ([]models.Contractor, error) {
	r.update(session.Update{Status: models.StatusInitializing, Progress: 5, Action: "Launching remote browser"})
	r.log(models.LogInfo, "Starting remote browser for "+r.platform.Name)

	bsess, err := r.w.browsers.Create(ctx, browser.CreateOpts{Platform: r.platform.Name, JobID: r.sess.JobID})
	if err != nil {
		return nil, err
	}
	defer r.release(ctx, bsess.ID)

	r.update(session.Update{Progress: 15, Action: "Browser ready", LiveViewURL: bsess.LiveViewURL})
	r.log(models.LogSuccess, "Remote browser session started")

	r.update(session.Update{Status: models.StatusNavigating, Progress: 20, Action: "Navigating to " + r.platform.StartURL})
	r.log(models.LogAction, "Navigating to "+r.platform.StartURL)

	task := agent.Task{
		Instruction:       BuildInstruction(r.platform, r.sess.Params, maxResults),
		StartURL:          r.platform.StartURL,
		AllowedDomains:    r.platform.AllowedDomains,
		NavigationTimeout: r.w.navigationTimeout,
		MaxSteps:          r.w.maxSteps,
		Model:             r.w.model,
		Browser:           agent.BrowserRef{SessionID: bsess.ID, ConnectURL: bsess.ConnectURL},
	}
	res, err := r.w.runner.Run(ctx, task, r.handleEvent)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		r.log(models.LogWarning, "Agent did not report success; using whatever it returned")
	}

	r.update(session.Update{Status: models.StatusExtracting, Progress: 85, Action: "Parsing results"})
	raw, err := ExtractJSONArray(res.Message)
	if err != nil {
		logger.Warn(ctx, "could not parse agent output", "error", err)
		r.log(models.LogWarning, "Could not parse results from "+r.platform.Name+"; continuing with no contractors")
		raw = nil
	}
	contractors := NormalizeAll(r.platform, raw, r.w.now())
	r.update(session.Update{Progress: 95, Action: fmt.Sprintf("Normalized %d listings", len(contractors))})
	return contractors, nil
}

// release closes the remote browser. It uses a fresh context so it still runs
// when the run was cancelled or timed out.
func (r *run) release(ctx context.Context, id string) {
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := r.w.browsers.Release(relCtx, id); err != nil {
		logger.Warn(ctx, "browser release failed", "session_id", id, "error", err)
		return
	}
	logger.Debug(ctx, "browser released", "session_id", id)
}

func (r *run) update(u session.Update) models.WorkerState {
	state, ok := r.sess.UpdateWorker(r.platform.Name, u)
	if ok {
		r.w.publish(r.sess.JobID, state)
	}
	return state
}

func (r *run) log(typ models.LogType, msg string) models.WorkerState {
	state, ok := r.sess.AppendLog(r.platform.Name, typ, msg)
	if ok {
		r.w.publish(r.sess.JobID, state)
	}
	return state
}

func (w *Worker) publish(jobID string, state models.WorkerState) {
	w.broadcaster.Broadcast(jobID, session.SessionUpdate(jobID, state))
}
