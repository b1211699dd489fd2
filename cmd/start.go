package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli"
	"github.com/warpdl/warpmaster/cmd/common"
	"github.com/warpdl/warpmaster/internal/manifest"
	"github.com/warpdl/warpmaster/internal/master"
)

// DEF_STARTUP_DELAY is used when neither a flag nor a manifest sets one.
const DEF_STARTUP_DELAY = 3 * time.Second

var (
	manifestPath string
	startupDelay time.Duration

	startFlags = []cli.Flag{
		cli.StringSliceFlag{
			Name:  "file, f",
			Usage: "declare a file as sha256:duration, repeatable",
		},
		cli.StringFlag{
			Name:        "manifest, m",
			Usage:       "read the declaration from a TOML manifest",
			Destination: &manifestPath,
		},
		cli.DurationFlag{
			Name:        "startup-delay, d",
			Usage:       "simulated initialization time of the coordinator",
			Value:       DEF_STARTUP_DELAY,
			Destination: &startupDelay,
		},
	}
)

// declaration builds the coordinator input from the start flags.
func declaration(ctx *cli.Context) (master.Input, error) {
	var in master.Input
	if manifestPath != "" {
		f, err := manifest.Load(appFs, manifestPath)
		if err != nil {
			return in, err
		}
		in = f.Input()
		if !ctx.IsSet("startup-delay") && !ctx.IsSet("d") {
			startupDelay = in.StartupDelay
		}
	}
	for _, s := range ctx.StringSlice("file") {
		it, err := manifest.ParseEntry(s)
		if err != nil {
			return in, err
		}
		in.Files = append(in.Files, it)
	}
	in.StartupDelay = startupDelay
	if _, err := master.NewDesiredSet(in.Files); err != nil {
		return in, err
	}
	return in, nil
}

func start(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	in, err := declaration(ctx)
	if err != nil {
		return common.PrintErrWithCmdHelp(ctx, err)
	}
	if len(in.Files) == 0 && manifestPath == "" {
		return common.PrintErrWithCmdHelp(ctx, errors.New("no files declared, use --file or --manifest"))
	}
	client, err := newClient(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "start", "new_client", err)
		return nil
	}
	defer client.Close()
	cctx, cancel := callContext()
	defer cancel()
	res, err := client.StartMaster(cctx, manifest.Params(in))
	if err != nil {
		common.PrintRuntimeErr(ctx, "start", "start_master", err)
		return nil
	}
	fmt.Printf("Coordinator started with %d file(s).\nRun ID: %s\n", len(in.Files), res.RunID)
	return nil
}
