package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bobain/overseer/pkg/config"
	"github.com/bobain/overseer/pkg/workstore"
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Inspect and load the work store",
}

var workListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all work units",
	RunE:  runWorkList,
}

var workShowCmd = &cobra.Command{
	Use:   "show <work-id>",
	Short: "Show one work unit and its commit records",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkShow,
}

var workApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create work units from a YAML manifest",
	Long: `Load a YAML manifest of work units into the work store.

Example manifest:

  kind: WorkGroup
  metadata:
    name: auth-rework
  spec:
    priority: 3
    spec_id: spec-3
    units:
      - order: 1
        scope: "Phase 1: /database"
        files: [internal/db/schema.sql]
      - order: 2
        scope: "Phase 2: /handlers"
        files: [internal/api/auth.go, internal/api/auth_test.go]

Units within a group execute strictly in order; each unit's files are
its exclusive write capability while claimed.`,
	RunE: runWorkApply,
}

func init() {
	workApplyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	_ = workApplyCmd.MarkFlagRequired("file")

	workCmd.AddCommand(workListCmd)
	workCmd.AddCommand(workShowCmd)
	workCmd.AddCommand(workApplyCmd)
}

func openWorkStore() (*workstore.Store, config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, config.Config{}, err
	}
	store, err := workstore.Open(cfg.WorkStorePath)
	if err != nil {
		return nil, config.Config{}, err
	}
	return store, cfg, nil
}

func runWorkList(cmd *cobra.Command, args []string) error {
	store, _, err := openWorkStore()
	if err != nil {
		return err
	}
	defer store.Close()

	units, err := store.List(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "WORK ID\tPRIORITY\tGROUP\tORDER\tSTATUS\tCLAIMED BY")
	for _, u := range units {
		claimant := u.ClaimedBy
		if claimant == "" {
			claimant = "-"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\t%s\n", u.WorkID, u.PriorityNumber, u.GroupID, u.Order, u.Status, claimant)
	}
	return nil
}

func runWorkShow(cmd *cobra.Command, args []string) error {
	store, _, err := openWorkStore()
	if err != nil {
		return err
	}
	defer store.Close()

	unit, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Work ID:    %s\n", unit.WorkID)
	fmt.Printf("Priority:   %d\n", unit.PriorityNumber)
	fmt.Printf("Group:      %s (order %d)\n", unit.GroupID, unit.Order)
	fmt.Printf("Spec:       %s\n", unit.SpecID)
	fmt.Printf("Scope:      %s\n", unit.ScopeDescription)
	fmt.Printf("Status:     %s\n", unit.Status)
	if unit.ClaimedBy != "" {
		fmt.Printf("Claimed by: %s\n", unit.ClaimedBy)
	}
	fmt.Printf("Files:\n")
	for _, f := range unit.AssignedFiles {
		fmt.Printf("  - %s\n", f)
	}

	commits, err := store.Commits(cmd.Context(), unit.WorkID)
	if err != nil {
		return err
	}
	if len(commits) > 0 {
		fmt.Printf("Commits:\n")
		for _, c := range commits {
			fmt.Printf("  %s  %s\n", c.CommitSHA[:min(12, len(c.CommitSHA))], c.Message)
		}
	}
	return nil
}

// workGroupManifest is the YAML shape accepted by `work apply`.
type workGroupManifest struct {
	Kind     string `yaml:"kind"`
	Metadata struct {
		Name string `yaml:"name"`
	} `yaml:"metadata"`
	Spec struct {
		Priority int    `yaml:"priority"`
		SpecID   string `yaml:"spec_id"`
		Units    []struct {
			Order int      `yaml:"order"`
			Scope string   `yaml:"scope"`
			Files []string `yaml:"files"`
		} `yaml:"units"`
	} `yaml:"spec"`
}

func runWorkApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var manifest workGroupManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	if manifest.Kind != "WorkGroup" {
		return fmt.Errorf("unsupported manifest kind %q", manifest.Kind)
	}
	if manifest.Metadata.Name == "" {
		return fmt.Errorf("manifest metadata.name is required")
	}

	store, _, err := openWorkStore()
	if err != nil {
		return err
	}
	defer store.Close()

	for _, u := range manifest.Spec.Units {
		unit := workstore.WorkUnit{
			WorkID:           uuid.NewString(),
			PriorityNumber:   manifest.Spec.Priority,
			GroupID:          manifest.Metadata.Name,
			Order:            u.Order,
			SpecID:           manifest.Spec.SpecID,
			ScopeDescription: u.Scope,
			AssignedFiles:    u.Files,
		}
		if err := store.Create(cmd.Context(), unit); err != nil {
			return fmt.Errorf("create unit order %d: %w", u.Order, err)
		}
		fmt.Printf("created %s (group %s, order %d)\n", unit.WorkID, unit.GroupID, unit.Order)
	}
	return nil
}
