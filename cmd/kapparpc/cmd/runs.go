package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/kappa-rpc/pkg/logging"
	"github.com/psantana5/kappa-rpc/pkg/models"
	"github.com/psantana5/kappa-rpc/pkg/store"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "Show simulation run history",
	Long: `List recent simulation runs, newest first, or show one run by ID.

With --server the history is fetched from the server; otherwise the
configured store is opened directly (sqlite or postgres).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs to list")
}

type runsListResponse struct {
	Runs  []models.RunRecord `json:"runs"`
	Count int                `json:"count"`
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var runs []models.RunRecord
	if IsRemote() {
		runs, err = fetchRuns(cmd.Context(), args)
	} else {
		// Local access only makes sense for persistent stores
		if cfg.Store.Type == "" || cfg.Store.Type == "memory" || cfg.Store.Type == "none" {
			return fmt.Errorf("store type %q keeps no history outside the server; use --server", cfg.Store.Type)
		}
		runs, err = readRuns(cmd.Context(), cfg.Store, args)
	}
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		if len(args) == 1 && len(runs) == 1 {
			return printJSON(runs[0])
		}
		return printJSON(runsListResponse{Runs: runs, Count: len(runs)})
	}

	if len(args) == 1 && len(runs) == 1 {
		printRun(runs[0])
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Started", "Backend", "Outcome", "Duration", "Time Limit", "Points", "Output")
	for _, r := range runs {
		table.Append(
			shortID(r.ID),
			r.StartedAt.Format(time.RFC3339),
			orDash(r.Backend),
			string(r.Outcome),
			r.Duration.Round(time.Millisecond).String(),
			fmt.Sprintf("%g", r.TimeLimit),
			fmt.Sprintf("%d", r.SamplePoints),
			fmt.Sprintf("%d B", r.OutputBytes),
		)
	}
	table.Render()
	fmt.Printf("\n%d run(s)\n", len(runs))
	return nil
}

func printRun(r models.RunRecord) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("ID", r.ID)
	table.Append("Started At", r.StartedAt.Format(time.RFC3339))
	table.Append("Duration", r.Duration.String())
	table.Append("Backend", orDash(r.Backend))
	table.Append("Outcome", string(r.Outcome))
	table.Append("Time Limit", fmt.Sprintf("%g", r.TimeLimit))
	table.Append("Sample Points", fmt.Sprintf("%d", r.SamplePoints))
	if r.Seed != nil {
		table.Append("Seed", fmt.Sprintf("%d", *r.Seed))
	}
	table.Append("Model Digest", r.ModelDigest)
	table.Append("Output Bytes", fmt.Sprintf("%d", r.OutputBytes))
	if r.Error != "" {
		table.Append("Error", r.Error)
	}
	table.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func fetchRuns(ctx context.Context, args []string) ([]models.RunRecord, error) {
	c := newClient()
	if len(args) == 1 {
		run, err := c.GetRun(ctx, args[0])
		if err != nil {
			return nil, err
		}
		return []models.RunRecord{run}, nil
	}
	return c.ListRuns(ctx, runsLimit)
}

func readRuns(ctx context.Context, cfg store.Config, args []string) ([]models.RunRecord, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	history, err := store.NewStore(ctx, cfg, logging.Discard())
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	defer history.Close()

	if len(args) == 1 {
		run, err := history.Get(ctx, args[0])
		if err != nil {
			return nil, err
		}
		return []models.RunRecord{run}, nil
	}
	return history.List(ctx, runsLimit)
}
