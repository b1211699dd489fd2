package cmd

import (
	"fmt"
	"strings"

	"github.com/urfave/cli"
	"github.com/warpdl/warpmaster/cmd/common"
	"github.com/warpdl/warpmaster/pkg/warpflow"
)

var (
	filterType   string
	filterPrefix string

	filterFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "type, t",
			Usage:       "only tasks of this type (MasterWorkflow, DownloadWorkflow, CleanupWorkflow)",
			Destination: &filterType,
		},
		cli.StringFlag{
			Name:        "prefix, p",
			Usage:       "only tasks whose ID starts with this prefix",
			Destination: &filterPrefix,
		},
	}
)

func currentFilter() warpflow.Filter {
	return warpflow.Filter{Type: filterType, IDPrefix: filterPrefix}
}

func list(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	client, err := newClient(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "list", "new_client", err)
		return nil
	}
	defer client.Close()
	cctx, cancel := callContext()
	defer cancel()
	tasks, err := client.ListTasks(cctx, currentFilter())
	if err != nil {
		common.PrintRuntimeErr(ctx, "list", "list_tasks", err)
		return nil
	}
	fmt.Print(formatTasks(tasks))
	return nil
}

func formatTasks(tasks []warpflow.TaskInfo) string {
	if len(tasks) == 0 {
		return "warpmaster: no live tasks found\n"
	}
	var b strings.Builder
	b.WriteString("Here are the live tasks:\n\n")
	b.WriteString("|Num|" + common.Beaut("Task ID", 36) + "|" + common.Beaut("Type", 18) + "|" + common.Beaut("Started", 10) + "|\n")
	b.WriteString("|---|" + strings.Repeat("-", 36) + "|" + strings.Repeat("-", 18) + "|" + strings.Repeat("-", 10) + "|\n")
	for i, t := range tasks {
		id := t.ID
		if len(id) > 34 {
			id = id[:31] + "..."
		}
		fmt.Fprintf(&b, "|%3d|%s|%s|%s|\n", i+1,
			common.Beaut(id, 36),
			common.Beaut(t.Type, 18),
			common.Beaut(t.StartedAt.Format("15:04:05"), 10))
	}
	return b.String()
}

func count(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	client, err := newClient(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "count", "new_client", err)
		return nil
	}
	defer client.Close()
	cctx, cancel := callContext()
	defer cancel()
	n, err := client.CountTasks(cctx, currentFilter())
	if err != nil {
		common.PrintRuntimeErr(ctx, "count", "count_tasks", err)
		return nil
	}
	fmt.Println(n)
	return nil
}
