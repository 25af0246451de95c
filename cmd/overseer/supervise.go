package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bobain/overseer/pkg/agent"
	"github.com/bobain/overseer/pkg/events"
	"github.com/bobain/overseer/pkg/log"
	"github.com/bobain/overseer/pkg/metrics"
	"github.com/bobain/overseer/pkg/role"
	"github.com/bobain/overseer/pkg/supervisor"
	"github.com/bobain/overseer/pkg/vcs"
	"github.com/bobain/overseer/pkg/workstore"
)

var superviseCmd = &cobra.Command{
	Use:   "supervise",
	Short: "Launch and supervise the agent team",
	Long: `Start the supervisor process: initialize the shared stores, verify
the working-branch precondition, launch one subprocess per enabled
role, and monitor liveness and heartbeats with exponential-backoff
restart on crashes.

The supervisor refuses to launch if the current git branch differs
from the configured work_branch.`,
	RunE: runSupervise,
}

func init() {
	superviseCmd.Flags().Duration("health-interval", 30*time.Second, "Interval between supervisor health ticks")
}

func runSupervise(cmd *cobra.Command, args []string) error {
	d, err := openDeps(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitStartupFailure)
	}
	cfg := d.cfg

	// Launch precondition: wrong branch is fatal before anything starts.
	git := vcs.New(".")
	if err := supervisor.CheckWorkBranch(cmd.Context(), git, cfg.WorkBranch); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitStartupFailure)
	}

	// The work store and record store schemas are migrated here, before
	// any child is launched; the spec store's table is created by the
	// first agent that opens it.
	work, err := workstore.Open(cfg.WorkStorePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitStartupFailure)
	}
	defer work.Close()

	records, err := supervisor.OpenRecords(cfg.RecordsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitStartupFailure)
	}
	defer records.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	go logEvents(broker.Subscribe())

	sup := supervisor.New(cfg, d.registry, d.status, d.bus, records, broker, supervisor.SelfLaunch(configPath()))
	sup.Work = work

	collector := metrics.NewCollector(sup)
	collector.Start()
	defer collector.Stop()

	server := supervisor.NewServer(cfg.ListenAddr, sup, d.status)
	server.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	}()

	healthInterval, _ := cmd.Flags().GetDuration("health-interval")
	a := agent.New(agent.Config{
		Role:         role.Supervisor,
		TickInterval: healthInterval,
		Registry:     d.registry,
		StatusBus:    d.status,
		MessageBus:   d.bus,
		Behavior:     sup,
	})
	sup.OnShutdownRequest = a.Stop

	err = a.Run(cmd.Context())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGraceDuration()+5*time.Second)
	defer cancel()
	sup.Shutdown(shutdownCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// logEvents mirrors every domain event into the structured log, the
// second subscriber alongside the metrics updates the supervisor makes
// inline.
func logEvents(sub events.Subscriber) {
	logger := log.WithComponent("events")
	for ev := range sub {
		logger.Info().
			Str("event", string(ev.Type)).
			Str("role", ev.Metadata["role"]).
			Msg(ev.Message)
	}
}
