// Package browser provisions isolated remote browser sessions for agent runs.
package browser

import (
	"context"
)

// Session is a provisioned remote browser.
type Session struct {
	ID          string
	ConnectURL  string
	LiveViewURL string
}

// CreateOpts describes the browser a worker needs.
type CreateOpts struct {
	// Platform tags the session for the provider's dashboard.
	Platform string
	// JobID tags the session with the search it belongs to.
	JobID string
}

// Provider creates and releases remote browser sessions.
type Provider interface {
	Create(ctx context.Context, opts CreateOpts) (*Session, error)
	Release(ctx context.Context, sessionID string) error
}
