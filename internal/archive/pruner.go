package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Pruner removes expired searches on a cron schedule.
type Pruner struct {
	store     *Store
	retention time.Duration
	cron      *cron.Cron
	logger    *slog.Logger
}

// NewPruner schedules store.Prune(retention) according to schedule.
func NewPruner(store *Store, schedule string, retention time.Duration, logger *slog.Logger) (*Pruner, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("archive: retention must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pruner{
		store:     store,
		retention: retention,
		cron:      cron.New(cron.WithParser(cronParser)),
		logger:    logger,
	}
	if _, err := p.cron.AddFunc(schedule, p.runOnce); err != nil {
		return nil, fmt.Errorf("archive: prune schedule %q: %w", schedule, err)
	}
	return p, nil
}

// Start begins the schedule in the background.
func (p *Pruner) Start() {
	p.cron.Start()
}

// Stop halts the schedule and waits for a running prune to finish or ctx
// to expire.
func (p *Pruner) Stop(ctx context.Context) {
	done := p.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (p *Pruner) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := p.store.Prune(ctx, p.retention)
	if err != nil {
		p.logger.Error("archive prune failed", "error", err)
		return
	}
	if n > 0 {
		p.logger.Info("archive pruned", "removed", n, "retention", p.retention)
	}
}
