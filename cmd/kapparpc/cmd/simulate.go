package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/guptarohit/asciigraph"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/kappa-rpc/pkg/config"
	"github.com/psantana5/kappa-rpc/pkg/engine"
	"github.com/psantana5/kappa-rpc/pkg/examples"
	"github.com/psantana5/kappa-rpc/pkg/models"
)

var (
	modelFile    string
	exampleName  string
	timeLimit    float64
	samplePoints int
	seed         int64
	plotColumn   string
	plotResult   bool
	previewRows  int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate [model.ka]",
	Short: "Run a Kappa simulation",
	Long: `Run a Kappa model and print its observables.

The model is read from the file argument, --example, or stdin ("-").
With --server the simulation runs on a kapparpc server, otherwise the
configured backends run locally.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringVar(&exampleName, "example", "", "run a built-in example (simple, polymerization)")
	simulateCmd.Flags().Float64Var(&timeLimit, "time-limit", 0, "simulated time to run for (default 100)")
	simulateCmd.Flags().IntVar(&samplePoints, "points", 0, "number of observable samples (default 200)")
	simulateCmd.Flags().Int64Var(&seed, "seed", 0, "random seed for reproducible runs")
	simulateCmd.Flags().BoolVar(&plotResult, "plot", false, "plot an observable in the terminal")
	simulateCmd.Flags().StringVar(&plotColumn, "column", "", "observable to plot (default: last column)")
	simulateCmd.Flags().IntVar(&previewRows, "rows", 10, "rows of output to show in table mode (0 for all)")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	source, err := readModel(args)
	if err != nil {
		return err
	}

	req := models.SimulationRequest{
		ModelSource:  source,
		TimeLimit:    timeLimit,
		SamplePoints: samplePoints,
	}
	if cmd.Flags().Changed("seed") {
		s := seed
		req.Seed = &s
	}

	// Also resolves the server URL and API key from the environment
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var result models.SimulationResult
	if IsRemote() {
		result, err = simulateRemote(cmd.Context(), req)
	} else {
		result, err = simulateLocal(cmd.Context(), cfg, req)
	}
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(out))
	} else {
		renderResult(os.Stdout, result, previewRows)
		if plotResult && result.Output != "" {
			graph, err := plotObservable(result.Output, plotColumn)
			if err != nil {
				return err
			}
			fmt.Println()
			fmt.Println(graph)
		}
	}

	if result.Output == "" {
		return fmt.Errorf("simulation produced no output")
	}
	return nil
}

// readModel resolves the model source from --example, a file argument or stdin
func readModel(args []string) (string, error) {
	if exampleName != "" {
		if len(args) > 0 {
			return "", fmt.Errorf("use either --example or a model file, not both")
		}
		res, err := examples.Get(exampleName)
		if err != nil {
			return "", err
		}
		return res.Text, nil
	}

	if len(args) == 0 {
		return "", fmt.Errorf("a model file, \"-\" for stdin, or --example is required")
	}

	var data []byte
	var err error
	if args[0] == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", fmt.Errorf("failed to read model: %w", err)
	}
	return string(data), nil
}

func simulateLocal(ctx context.Context, cfg config.Config, req models.SimulationRequest) (models.SimulationResult, error) {
	logger, err := newLogger(cfg.Logging, "kapparpc-simulate")
	if err != nil {
		return models.SimulationResult{}, err
	}
	defer logger.Close()

	backends, err := engine.BuildBackends(cfg.Engine, logger)
	if err != nil {
		return models.SimulationResult{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return engine.NewOrchestrator(backends, engine.WithLogger(logger)).Run(ctx, req), nil
}

func simulateRemote(ctx context.Context, req models.SimulationRequest) (models.SimulationResult, error) {
	return newClient().Simulate(ctx, req)
}

// renderResult prints captured streams and a preview of the observables
func renderResult(w io.Writer, result models.SimulationResult, maxRows int) {
	if result.Stdout != "" {
		fmt.Fprintln(w, "--- STDOUT ---")
		fmt.Fprintln(w, strings.TrimRight(result.Stdout, "\n"))
	}
	if result.Stderr != "" {
		fmt.Fprintln(w, "--- STDERR ---")
		fmt.Fprintln(w, strings.TrimRight(result.Stderr, "\n"))
	}
	if result.Output == "" {
		return
	}

	fmt.Fprintln(w, "--- OUTPUT ---")
	table, err := engine.ParseCSV(result.Output)
	if err != nil {
		// Not numeric CSV; show it as is
		fmt.Fprintln(w, strings.TrimRight(result.Output, "\n"))
		return
	}

	rows := table.Rows
	if maxRows > 0 && len(rows) > maxRows {
		rows = rows[:maxRows]
	}

	tw := tablewriter.NewWriter(w)
	header := make([]any, len(table.Columns))
	for i, c := range table.Columns {
		header[i] = c
	}
	tw.Header(header...)
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = strconv.FormatFloat(v, 'g', 6, 64)
		}
		tw.Append(cells)
	}
	tw.Render()

	if more := len(table.Rows) - len(rows); more > 0 {
		fmt.Fprintf(w, "... (%d more rows)\n", more)
	}
}

// plotObservable draws one column of the CSV output against sample index
func plotObservable(output, column string) (string, error) {
	table, err := engine.ParseCSV(output)
	if err != nil {
		return "", err
	}
	if len(table.Columns) < 2 || len(table.Rows) == 0 {
		return "", fmt.Errorf("nothing to plot")
	}
	if column == "" {
		column = table.Columns[len(table.Columns)-1]
	}

	data, ok := table.Column(column)
	if !ok {
		return "", fmt.Errorf("unknown observable %q (have %s)", column, strings.Join(table.Columns[1:], ", "))
	}

	caption := fmt.Sprintf("%s over %d samples", column, len(data))
	return asciigraph.Plot(data,
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.Caption(caption),
	), nil
}
