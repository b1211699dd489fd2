package cmd

import (
	"context"
	"os"

	"github.com/spf13/afero"
	"github.com/urfave/cli"
	"github.com/warpdl/warpmaster/common"
	"github.com/warpdl/warpmaster/internal/config"
	"github.com/warpdl/warpmaster/pkg/warpcli"
)

// appFs is the filesystem config and manifest files are read from.
var appFs = afero.NewOsFs()

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "config",
		Usage:  "path of the configuration file",
		EnvVar: common.ConfigPathEnv,
	},
	cli.StringFlag{
		Name:   "url, u",
		Usage:  "control plane address (default: daemon.listen from the config)",
		EnvVar: common.ListenEnv,
	},
	cli.StringFlag{
		Name:   "secret",
		Usage:  "control plane bearer token (default: daemon.rpc_secret from the config)",
		EnvVar: common.RPCSecretEnv,
	},
}

// loadConfig resolves the configuration named by the global --config flag.
func loadConfig(ctx *cli.Context) (*config.Config, string, error) {
	return config.Resolve(appFs, ctx.GlobalString("config"), os.Getenv)
}

// newClient builds a control plane client and warns when the daemon runs
// another version. Flags win over the config file.
func newClient(ctx *cli.Context) (*warpcli.Client, error) {
	url, secret := ctx.GlobalString("url"), ctx.GlobalString("secret")
	if url == "" || secret == "" {
		cfg, _, err := loadConfig(ctx)
		if err != nil {
			return nil, err
		}
		if url == "" {
			url = cfg.Daemon.Listen
		}
		if secret == "" {
			secret = cfg.Daemon.RPCSecret
		}
	}
	client := warpcli.NewClient(url, secret, nil)
	cctx, cancel := callContext()
	defer cancel()
	client.CheckVersionMismatch(cctx, os.Stderr, currentBuildArgs.Version)
	return client, nil
}

func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), DEF_TIMEOUT)
}
