package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bobain/overseer/pkg/role"
	"github.com/bobain/overseer/pkg/statusbus"
	"github.com/bobain/overseer/pkg/supervisor"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the team's current status",
	Long: `Read the supervisor's aggregate summary and every role's status file
and print a per-role table: state, pid, heartbeat age, restarts.

Reads files only; works whether or not the supervisor is running.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	d, err := openDeps(configPath())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ROLE\tSTATE\tPID\tHEARTBEAT\tTASK")

	now := time.Now()
	stale := d.cfg.StaleHeartbeatDuration()
	for _, r := range append([]role.Role{role.Supervisor}, role.Agents...) {
		st, err := d.status.Read(r)
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t-\t-\t-\n", r)
			continue
		}
		heartbeat := now.Sub(st.LastHeartbeatTS).Round(time.Second).String() + " ago"
		if statusbus.IsStale(st, stale, now) {
			heartbeat += " (STALE)"
		}
		task := "-"
		if st.CurrentTask != nil {
			task = st.CurrentTask.Type
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", r, st.State, st.ProcessID, heartbeat, task)
	}

	updated, children, err := supervisor.ReadSummary(d.cfg.StatusDir)
	if err != nil {
		// No summary means no supervisor has run yet; the table above
		// is still useful on its own.
		return nil
	}

	fmt.Fprintf(w, "\nsupervisor summary (updated %s ago)\n", now.Sub(updated).Round(time.Second))
	fmt.Fprintln(w, "ROLE\tALIVE\tHALTED\tRESTARTS")
	for _, c := range children {
		fmt.Fprintf(w, "%s\t%t\t%t\t%d\n", c.Role, c.Alive, c.Halted, c.Restarts)
	}
	return nil
}
