package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"
	"github.com/warpdl/warpmaster/cmd/common"
	"github.com/warpdl/warpmaster/pkg/warpflow"
)

func watch(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	client, err := newClient(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "watch", "new_client", err)
		return nil
	}
	defer client.Close()
	sctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := client.Watch(sctx, func(ev warpflow.Event) { fmt.Println(formatEvent(ev)) }); err != nil {
		common.PrintRuntimeErr(ctx, "watch", "watch", err)
	}
	return nil
}

func formatEvent(ev warpflow.Event) string {
	s := fmt.Sprintf("%s %-16s %s", ev.Time.Format("15:04:05.000"), ev.Type, ev.TaskID)
	switch {
	case ev.Status != "":
		s += " status=" + string(ev.Status)
	case ev.Signal != "":
		s += " signal=" + ev.Signal
	}
	if ev.Error != "" {
		s += " error=" + ev.Error
	}
	return s
}
