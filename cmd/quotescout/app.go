package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/zulandar/quotescout/internal/agent"
	"github.com/zulandar/quotescout/internal/archive"
	"github.com/zulandar/quotescout/internal/browser"
	"github.com/zulandar/quotescout/internal/config"
	"github.com/zulandar/quotescout/internal/db"
	"github.com/zulandar/quotescout/internal/notify"
	"github.com/zulandar/quotescout/internal/orchestrator"
	"github.com/zulandar/quotescout/internal/server"
	"github.com/zulandar/quotescout/internal/session"
	"github.com/zulandar/quotescout/internal/worker"
	"gorm.io/gorm"
)

const defaultConfigPath = "quotescout.yaml"

// loadConfig reads path. A missing file is only an error when the user named
// it explicitly; otherwise defaults plus environment are used.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.Parse(nil)
	}
	return nil, err
}

// app is the wired server process.
type app struct {
	cfg      *config.Config
	registry *session.Registry
	orch     *orchestrator.Orchestrator
	server   *server.Server
	gormDB   *gorm.DB
	pruner   *archive.Pruner
}

// newApp wires every component from cfg. The caller must call close.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	browsers, err := browser.NewBrowserbase(browser.BrowserbaseOpts{
		BaseURL:   cfg.Browserbase.BaseURL,
		APIKey:    cfg.Browserbase.APIKey,
		ProjectID: cfg.Browserbase.ProjectID,
		Region:    cfg.Browserbase.Region,
	})
	if err != nil {
		return nil, err
	}
	runner, err := agent.NewSubprocess(cfg.Agent.Command, cfg.Agent.Env)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	a.registry = session.NewRegistry(session.RegistryOpts{})
	broadcaster := session.NewBroadcaster(a.registry, logger)

	w, err := worker.New(worker.Opts{
		Browsers:          browsers,
		Runner:            runner,
		Broadcaster:       broadcaster,
		MaxSteps:          cfg.Agent.MaxSteps,
		Model:             cfg.Agent.Model,
		RunTimeout:        cfg.Worker.RunTimeout,
		NavigationTimeout: cfg.Worker.NavigationTimeout,
		MaxLogMessage:     cfg.Worker.MaxLogMessage,
	})
	if err != nil {
		a.close(context.Background())
		return nil, err
	}

	var (
		archiver orchestrator.Archiver
		history  server.History
	)
	if cfg.Archive.Enabled {
		a.gormDB, err = db.Connect(cfg.Archive.Driver, cfg.Archive.DSN)
		if err != nil {
			a.close(context.Background())
			return nil, err
		}
		if err := db.AutoMigrate(a.gormDB); err != nil {
			a.close(context.Background())
			return nil, err
		}
		store := archive.NewStore(a.gormDB)
		a.pruner, err = archive.NewPruner(store, cfg.Archive.PruneSchedule, cfg.Archive.Retention, logger)
		if err != nil {
			a.close(context.Background())
			return nil, err
		}
		archiver, history = store, store
	}

	notifier, err := notify.FromConfig(cfg.Notify)
	if err != nil {
		a.close(context.Background())
		return nil, err
	}

	a.orch, err = orchestrator.New(orchestrator.Opts{
		Registry:     a.registry,
		Broadcaster:  broadcaster,
		Runner:       w,
		Platforms:    cfg.Platforms,
		CleanupGrace: cfg.Server.CleanupGrace,
		Archive:      archiver,
		Notifier:     notifier,
	})
	if err != nil {
		a.close(context.Background())
		return nil, err
	}

	a.server, err = server.New(server.Opts{
		Searcher:    a.orch,
		Registry:    a.registry,
		History:     history,
		Heartbeat:   cfg.Server.Heartbeat,
		AllowOrigin: cfg.Server.AllowOrigin,
	})
	if err != nil {
		a.close(context.Background())
		return nil, err
	}
	return a, nil
}

// run serves until ctx is cancelled.
func (a *app) run(ctx context.Context, port int, out io.Writer) error {
	if a.pruner != nil {
		a.pruner.Start()
	}
	return a.server.Start(ctx, server.StartOpts{
		Port: port,
		Out:  out,
		OnShutdown: func(ctx context.Context) {
			if a.orch != nil {
				if err := a.orch.Shutdown(ctx); err != nil {
					slog.Warn("searches did not stop in time", "error", err)
				}
			}
			a.registry.Close()
		},
	})
}

// close releases everything newApp opened. It is safe on a partly built app.
func (a *app) close(ctx context.Context) {
	if a.pruner != nil {
		a.pruner.Stop(ctx)
	}
	if a.orch != nil {
		a.orch.Shutdown(ctx)
	}
	if a.registry != nil {
		a.registry.Close()
	}
	if a.gormDB != nil {
		if err := db.Close(a.gormDB); err != nil {
			slog.Warn("closing archive database", "error", err)
		}
	}
}

func describeApp(cfg *config.Config) string {
	archiveDesc := "disabled"
	if cfg.Archive.Enabled {
		archiveDesc = cfg.Archive.Driver
	}
	names := make([]string, 0, len(cfg.Platforms))
	for _, p := range cfg.Platforms {
		names = append(names, p.Name)
	}
	return fmt.Sprintf("platforms=%v archive=%s slack=%t discord=%t",
		names, archiveDesc, cfg.Notify.Slack.Enabled(), cfg.Notify.Discord.Enabled())
}
