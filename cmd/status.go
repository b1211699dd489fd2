package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/urfave/cli"
	"github.com/warpdl/warpmaster/cmd/common"
	wmcommon "github.com/warpdl/warpmaster/common"
	"github.com/warpdl/warpmaster/internal/master"
)

func status(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	client, err := newClient(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "status", "new_client", err)
		return nil
	}
	defer client.Close()
	cctx, cancel := callContext()
	defer cancel()
	res, err := client.MasterStatus(cctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "status", "master_status", err)
		return nil
	}
	fmt.Print(formatStatus(res))
	return nil
}

func formatStatus(res *wmcommon.MasterStatusResult) string {
	if !res.Found || res.Run == nil {
		return "The coordinator has not run yet.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Run:      %s (%s)\n", res.Run.RunID, res.Run.Status)
	fmt.Fprintf(&b, "Started:  %s\n", res.Run.StartedAt.Format("2006-01-02 15:04:05"))
	if res.Run.Error != "" {
		fmt.Fprintf(&b, "Error:    %s\n", res.Run.Error)
	}
	var st master.Status
	if len(res.Status) == 0 || json.Unmarshal(res.Status, &st) != nil {
		b.WriteString("No status published.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Phase:    %s\n", st.Phase)
	fmt.Fprintf(&b, "Desired:  %d\n", len(st.Desired))
	line := func(label string, keys []string) {
		if len(keys) == 0 {
			return
		}
		short := make([]string, len(keys))
		for i, k := range keys {
			short[i] = wmcommon.ShortKey(k)
		}
		fmt.Fprintf(&b, "%-9s %s\n", label+":", strings.Join(short, ", "))
	}
	line("Pending", st.Pending)
	line("Spawned", st.Spawned)
	line("Running", st.AlreadyRunning)
	line("Reaped", st.Canceled)
	if st.LiveDownloads >= 0 {
		fmt.Fprintf(&b, "Workers:  %d live at reconciliation\n", st.LiveDownloads)
	}
	if st.StatusError != "" {
		fmt.Fprintf(&b, "Query:    %s\n", st.StatusError)
	}
	if st.EarlyNotifications > 0 || st.IgnoredNotifications > 0 {
		fmt.Fprintf(&b, "Signals:  %d early, %d ignored\n", st.EarlyNotifications, st.IgnoredNotifications)
	}
	if st.Error != "" {
		fmt.Fprintf(&b, "Failure:  %s\n", st.Error)
	}
	return b.String()
}
