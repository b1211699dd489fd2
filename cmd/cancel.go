package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli"
	"github.com/warpdl/warpmaster/cmd/common"
)

func cancelTask(ctx *cli.Context) error {
	id := ctx.Args().First()
	switch id {
	case "":
		return common.PrintErrWithCmdHelp(ctx, errors.New("no task id provided"))
	case "help":
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	client, err := newClient(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "cancel", "new_client", err)
		return nil
	}
	defer client.Close()
	cctx, cancel := callContext()
	defer cancel()
	ok, err := client.CancelTask(cctx, id)
	if err != nil {
		common.PrintRuntimeErr(ctx, "cancel", "cancel_task", err)
		return nil
	}
	if !ok {
		fmt.Printf("No live task with id %s.\n", id)
		return nil
	}
	fmt.Println("Cancellation requested.")
	return nil
}
