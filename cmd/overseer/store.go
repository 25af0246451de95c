package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bobain/overseer/pkg/config"
	"github.com/bobain/overseer/pkg/supervisor"
	"github.com/bobain/overseer/pkg/workstore"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Administer the shared stores",
	Long: `Administrative operations on the process-external state: the
registry and bus directories and the SQLite stores. Agents never
create or destroy these; initialization happens here or at supervisor
startup, teardown only here.`,
}

var storeInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create directories and migrate store schemas",
	RunE:  runStoreInit,
}

var storeDestroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Delete all shared state (requires --yes)",
	RunE:  runStoreDestroy,
}

var storeCrashesCmd = &cobra.Command{
	Use:   "crashes",
	Short: "Show recent crash reports",
	RunE:  runStoreCrashes,
}

var storeHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show recent supervisor health records",
	RunE:  runStoreHealth,
}

func init() {
	storeDestroyCmd.Flags().Bool("yes", false, "Confirm deletion of all shared state")
	storeCrashesCmd.Flags().Int("limit", 20, "Maximum records to show")
	storeHealthCmd.Flags().Int("limit", 20, "Maximum records to show")

	storeCmd.AddCommand(storeInitCmd)
	storeCmd.AddCommand(storeDestroyCmd)
	storeCmd.AddCommand(storeCrashesCmd)
	storeCmd.AddCommand(storeHealthCmd)
}

func runStoreInit(cmd *cobra.Command, args []string) error {
	d, err := openDeps(configPath())
	if err != nil {
		return err
	}

	work, err := workstore.Open(d.cfg.WorkStorePath)
	if err != nil {
		return err
	}
	defer work.Close()

	records, err := supervisor.OpenRecords(d.cfg.RecordsPath)
	if err != nil {
		return err
	}
	defer records.Close()

	fmt.Println("shared state initialized")
	return nil
}

func runStoreDestroy(cmd *cobra.Command, args []string) error {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		return fmt.Errorf("refusing to destroy shared state without --yes")
	}

	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}

	for _, path := range []string{cfg.StatusDir, cfg.MessageDir, cfg.RegistryDir, cfg.WorkStorePath, cfg.RecordsPath, cfg.SpecStorePath} {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("remove %s: %w", path, err)
		}
		fmt.Printf("removed %s\n", path)
	}
	return nil
}

func openRecords() (*supervisor.RecordStore, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}
	return supervisor.OpenRecords(cfg.RecordsPath)
}

func runStoreCrashes(cmd *cobra.Command, args []string) error {
	records, err := openRecords()
	if err != nil {
		return err
	}
	defer records.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	crashes, err := records.Crashes(cmd.Context(), limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "ID\tROLE\tPID\tCRASHED AT\tRESPAWNED\tERROR")
	for _, c := range crashes {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%t\t%s\n", c.ID, c.Role, c.ProcessID,
			c.CrashedAt.Format("2006-01-02 15:04:05"), c.Respawned, c.ErrorMessage)
	}
	return nil
}

func runStoreHealth(cmd *cobra.Command, args []string) error {
	records, err := openRecords()
	if err != nil {
		return err
	}
	defer records.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	history, err := records.HealthHistory(cmd.Context(), limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "ID\tTS\tSTATUS\tACTIVE\tCRASHED\tZOMBIES\tACTIONS")
	for _, h := range history {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%v\n", h.ID,
			h.TS.Format("2006-01-02 15:04:05"), h.Status, h.ActiveAgents, h.CrashedAgents, h.Zombies, h.ActionsTaken)
	}
	return nil
}
