package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"
	"github.com/warpdl/warpmaster/cmd/common"
	"github.com/warpdl/warpmaster/internal/config"
	"github.com/warpdl/warpmaster/internal/daemon"
	"github.com/warpdl/warpmaster/pkg/logger"
)

var (
	initConfig bool

	daemonFlags = []cli.Flag{
		cli.BoolFlag{
			Name:        "init-config",
			Usage:       "write the example configuration file and exit",
			Destination: &initConfig,
		},
	}
)

// shutdownSignals stop the daemon.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

func runDaemonCmd(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	if initConfig {
		return writeConfig(ctx)
	}
	cfg, path, err := loadConfig(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "daemon", "load_config", err)
		return nil
	}
	l := logger.NewCharmLogger(os.Stderr, cfg.Log.Level)
	defer l.Close()
	l.Info("Using configuration %s", path)

	comps, err := initDaemonComponents(cfg, l)
	if err != nil {
		common.PrintRuntimeErr(ctx, "daemon", "init", err)
		return nil
	}
	defer comps.Close()

	sctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
	defer stop()
	if err := comps.startScheduler(sctx); err != nil {
		common.PrintRuntimeErr(ctx, "daemon", "schedule", err)
		return nil
	}
	return runDaemon(sctx, comps)
}

// runDaemon serves until ctx ends, then shuts the runner down.
func runDaemon(ctx context.Context, comps *DaemonComponents) error {
	go func() {
		select {
		case <-comps.Runner.Ready():
			comps.logger.Info("Daemon ready: %s", comps)
		case <-ctx.Done():
			return
		}
		<-ctx.Done()
		if err := comps.Runner.Shutdown(); err != nil && !errors.Is(err, daemon.ErrNotRunning) {
			comps.logger.Warning("shutdown: %v", err)
		}
	}()
	if err := comps.Runner.Start(context.Background()); err != nil {
		if errors.Is(err, daemon.ErrShutdownTimeout) {
			comps.logger.Warning("in-flight requests were cut off: %v", err)
			return nil
		}
		return err
	}
	return nil
}

func writeConfig(ctx *cli.Context) error {
	path := ctx.GlobalString("config")
	if path == "" {
		path = config.DefaultPath()
	}
	if err := config.WriteExample(appFs, path); err != nil {
		common.PrintRuntimeErr(ctx, "daemon", "init_config", err)
		return nil
	}
	fmt.Printf("Wrote example configuration to %s\n", path)
	return nil
}
