// Package server exposes quote searches over HTTP: a start endpoint, a
// Server-Sent Events progress stream, and read-only history.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/quotescout/internal/models"
	"github.com/zulandar/quotescout/internal/orchestrator"
	"github.com/zulandar/quotescout/internal/session"
)

const (
	defaultHeartbeat = 15 * time.Second
	shutdownTimeout  = 10 * time.Second
)

// Searcher starts searches. *orchestrator.Orchestrator implements it.
type Searcher interface {
	StartSearch(ctx context.Context, req orchestrator.Request) (orchestrator.Result, error)
}

// History reads archived searches. *archive.Store implements it.
type History interface {
	List(ctx context.Context, limit int) ([]models.SearchRecord, error)
	Get(ctx context.Context, jobID string) (*models.SearchRecord, error)
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	searcher    Searcher
	registry    *session.Registry
	history     History
	heartbeat   time.Duration
	queueSize   int
	allowOrigin string
}

// Opts holds parameters for creating a Server.
type Opts struct {
	Searcher Searcher
	Registry *session.Registry
	// History is optional; history routes return 404 without it.
	History     History
	Heartbeat   time.Duration
	QueueSize   int
	AllowOrigin string
}

// New creates a Server.
func New(opts Opts) (*Server, error) {
	if opts.Searcher == nil {
		return nil, fmt.Errorf("server: searcher is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("server: registry is required")
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = session.DefaultQueueSize
	}
	return &Server{
		searcher:    opts.Searcher,
		registry:    opts.Registry,
		history:     opts.History,
		heartbeat:   opts.Heartbeat,
		queueSize:   opts.QueueSize,
		allowOrigin: opts.AllowOrigin,
	}, nil
}

// Router builds the gin engine with middleware and routes.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(RequestID(), Recovery(), RequestLogger(), CORS(s.allowOrigin))
	s.registerRoutes(router)
	return router
}

// StartOpts holds listener configuration.
type StartOpts struct {
	Port int
	Out  io.Writer
	// OnShutdown runs after the listener stops accepting requests and
	// before Start returns.
	OnShutdown func(ctx context.Context)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	gin.SetMode(gin.ReleaseMode)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "QuoteScout API listening on http://localhost:%d\n", opts.Port)
	}

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	// Open progress streams never finish on their own; dropping the
	// sessions closes them so Shutdown can complete.
	if opts.OnShutdown != nil {
		opts.OnShutdown(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
