package session

import (
	"log/slog"
)

// Broadcaster delivers events to every subscriber of a job.
type Broadcaster struct {
	registry *Registry
	logger   *slog.Logger
}

// NewBroadcaster creates a Broadcaster over registry.
func NewBroadcaster(registry *Registry, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{registry: registry, logger: logger}
}

// Broadcast encodes evt once and sends it to all subscribers of jobID. A
// missing session is expected after cleanup and is silently ignored.
func (b *Broadcaster) Broadcast(jobID string, evt Event) {
	sess, err := b.registry.Get(jobID)
	if err != nil {
		return
	}
	evt.JobID = jobID
	msg, err := Encode(evt)
	if err != nil {
		b.logger.Error("broadcast: encode failed", "job_id", jobID, "event", evt.Type, "error", err)
		return
	}
	if _, failed := sess.deliver(msg); failed > 0 {
		b.logger.Warn("broadcast: subscribers dropped", "job_id", jobID, "event", evt.Type, "failed", failed)
	}
}
