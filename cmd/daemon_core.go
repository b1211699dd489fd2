package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/warpdl/warpmaster/internal/cleanup"
	"github.com/warpdl/warpmaster/internal/config"
	"github.com/warpdl/warpmaster/internal/daemon"
	"github.com/warpdl/warpmaster/internal/download"
	"github.com/warpdl/warpmaster/internal/manifest"
	"github.com/warpdl/warpmaster/internal/master"
	"github.com/warpdl/warpmaster/internal/scheduler"
	"github.com/warpdl/warpmaster/internal/server"
	"github.com/warpdl/warpmaster/internal/store"
	"github.com/warpdl/warpmaster/pkg/logger"
	"github.com/warpdl/warpmaster/pkg/warpflow"
)

// redeclareEvent is the scheduler event that reloads the manifest.
const redeclareEvent = "redeclare-manifest"

// DaemonComponents holds all initialized daemon components so they can be
// released in reverse order of initialization.
type DaemonComponents struct {
	Config  *config.Config
	Journal *store.Journal
	Engine  *warpflow.Engine
	Server  *server.Server
	Runner  *daemon.Runner

	scheduler *scheduler.Scheduler
	stopSched context.CancelFunc
	recovered int
	logger    logger.Logger
}

// Close releases all daemon component resources.
func (c *DaemonComponents) Close() {
	c.logger.Info("Shutting down daemon...")
	if c.stopSched != nil {
		c.stopSched()
		<-c.scheduler.Done()
	}
	if c.Server != nil {
		c.Server.Close()
	}
	// Live runs stay in the journal as running and are resumed next start.
	if c.Engine != nil {
		_ = c.Engine.Close()
	}
	if c.Journal != nil {
		if err := c.Journal.Close(); err != nil {
			c.logger.Warning("closing journal: %v", err)
		}
	}
	c.logger.Info("Daemon stopped")
}

// workflowsFor builds the task bodies with the configured timings.
func workflowsFor(cfg *config.Config) master.Workflows {
	return master.Workflows{
		Master: master.New(master.Config{
			StatusTimeout:    cfg.Master.StatusTimeout.Duration,
			StatusRetryDelay: cfg.Master.StatusRetryDelay.Duration,
			StatusAttempts:   cfg.Master.StatusAttempts,
			SpawnConcurrency: cfg.Master.SpawnConcurrency,
		}),
		Download: download.NewTask(nil),
		Cleanup:  cleanup.Default(cfg.Cleanup.RecordDelay.Duration, cfg.Cleanup.FinalizeDelay.Duration),
	}
}

// initDaemonComponents opens the journal, builds and recovers the engine
// and prepares the control plane. On error, partially initialized
// components are closed before returning.
var initDaemonComponents = func(cfg *config.Config, log logger.Logger) (*DaemonComponents, error) {
	ctx := context.Background()
	if cfg.Daemon.RPCSecret == "" {
		log.Warning("daemon.rpc_secret is empty: every RPC call will be rejected")
	}

	j, err := store.Open(cfg.Daemon.DBPath)
	if err != nil {
		log.Error("Journal initialization failed: %v", err)
		return nil, err
	}
	if keep := cfg.Daemon.PruneAfter.Duration; keep > 0 {
		n, err := j.Prune(ctx, time.Now().Add(-keep))
		if err != nil {
			log.Warning("pruning journal: %v", err)
		} else if n > 0 {
			log.Info("Pruned %d finished run(s) from the journal", n)
		}
	}

	e := warpflow.NewEngine(&warpflow.EngineOpts{
		Journal:   j,
		Logger:    log,
		SignalTTL: cfg.Signals.TTL.Duration,
	})
	workflowsFor(cfg).Register(e)
	recovered, err := e.Recover(ctx)
	if err != nil {
		log.Error("Engine recovery failed: %v", err)
		_ = e.Close()
		_ = j.Close()
		return nil, err
	}

	srv := server.New(&server.Config{
		Secret:    cfg.Daemon.RPCSecret,
		Version:   currentBuildArgs.Version,
		Commit:    currentBuildArgs.Commit,
		BuildType: currentBuildArgs.BuildType,
	}, e, log)

	runner := daemon.New(&daemon.Config{
		Addr:            cfg.Daemon.Listen,
		ShutdownTimeout: cfg.Daemon.ShutdownTimeout.Duration,
	}, &daemon.Dependencies{
		Handler:      srv.Handler(),
		ShutdownFunc: e.Close,
	})

	return &DaemonComponents{
		Config:    cfg,
		Journal:   j,
		Engine:    e,
		Server:    srv,
		Runner:    runner,
		recovered: recovered,
		logger:    log,
	}, nil
}

// startScheduler registers the cron redeclaration when configured.
func (c *DaemonComponents) startScheduler(ctx context.Context) error {
	sc := c.Config.Schedule
	if !sc.Enabled() {
		return nil
	}
	ev, err := scheduler.Recurring(redeclareEvent, sc.Cron, time.Now())
	if err != nil {
		return err
	}
	ctx, c.stopSched = context.WithCancel(ctx)
	c.scheduler = scheduler.New(ctx, func(scheduler.Event) {
		c.redeclare(ctx, sc.Manifest)
	})
	c.scheduler.Add(ev)
	c.logger.Info("Manifest %s is redeclared on %q, next at %s", sc.Manifest, sc.Cron, ev.At.Format(time.RFC3339))
	return nil
}

// redeclare reloads the manifest and restarts the coordinator with it.
func (c *DaemonComponents) redeclare(ctx context.Context, path string) {
	in, err := manifest.LoadInput(appFs, path)
	if err != nil {
		c.logger.Error("redeclare: %v", err)
		return
	}
	hd, err := master.Start(ctx, c.Engine, in)
	if err != nil {
		c.logger.Error("redeclare: %v", err)
		return
	}
	c.logger.Info("Redeclared %d file(s) from %s, run %s", len(in.Files), path, hd.RunID)
}

func (c *DaemonComponents) String() string {
	return fmt.Sprintf("journal=%s listen=%s recovered=%d", c.Config.Daemon.DBPath, c.Config.Daemon.Listen, c.recovered)
}
