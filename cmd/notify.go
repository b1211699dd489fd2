package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli"
	"github.com/warpdl/warpmaster/cmd/common"
)

func notify(ctx *cli.Context) error {
	key := ctx.Args().First()
	switch key {
	case "":
		return common.PrintErrWithCmdHelp(ctx, errors.New("no sha256 provided"))
	case "help":
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	client, err := newClient(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "notify", "new_client", err)
		return nil
	}
	defer client.Close()
	cctx, cancel := callContext()
	defer cancel()
	if err := client.Notify(cctx, key); err != nil {
		common.PrintRuntimeErr(ctx, "notify", "notify", err)
		return nil
	}
	fmt.Println("Notification sent.")
	return nil
}
