package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bobain/overseer/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Exit codes: 0 on a clean shutdown signal, 1 for runtime failures, 2
// for configuration or environment failures discovered at startup.
const (
	exitRuntimeFailure = 1
	exitStartupFailure = 2
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitRuntimeFailure)
	}
}

var rootCmd = &cobra.Command{
	Use:   "overseer",
	Short: "Overseer - autonomous multi-agent development orchestrator",
	Long: `Overseer runs a team of specialized long-running agents (architect,
code_developer, project_manager, assistant, code_searcher,
ux_design_expert) against a roadmap of planned work, coordinated
through file-based status and message channels on a single host.

A supervisor process launches the team, watches heartbeats, and
restarts crashed agents under exponential backoff.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Overseer version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to the overseer YAML config file")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(superviseCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(workCmd)
	rootCmd.AddCommand(storeCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func configPath() string {
	path, _ := rootCmd.PersistentFlags().GetString("config")
	return path
}
