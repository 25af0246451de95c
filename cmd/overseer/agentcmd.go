package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bobain/overseer/pkg/agent"
	"github.com/bobain/overseer/pkg/role"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run a single agent role in this process",
	Long: `Run one agent's main loop in the current process. Normally invoked
by the supervisor as a subprocess; running it by hand is useful for
exercising a single role locally.

The role registers itself as a singleton: a second instance of the
same role on the same host exits immediately.`,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().String("role", "", "Agent role to run (required)")
	_ = agentCmd.MarkFlagRequired("role")
}

func runAgent(cmd *cobra.Command, args []string) error {
	roleName, _ := cmd.Flags().GetString("role")
	r := role.Role(roleName)
	if !role.Valid(r) || r == role.Supervisor {
		fmt.Fprintf(os.Stderr, "Error: invalid agent role %q\n", roleName)
		os.Exit(exitStartupFailure)
	}

	d, err := openDeps(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitStartupFailure)
	}

	behavior, err := buildBehavior(d, r)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitStartupFailure)
	}

	a := agent.New(agent.Config{
		Role:         r,
		TickInterval: d.cfg.TickInterval(r),
		Registry:     d.registry,
		StatusBus:    d.status,
		MessageBus:   d.bus,
		Startup:      buildStartupSkill(d.cfg, r),
		Behavior:     behavior,
	})

	return a.Run(cmd.Context())
}
