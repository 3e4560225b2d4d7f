package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/kappa-rpc/pkg/engine"
	"github.com/psantana5/kappa-rpc/pkg/logging"
)

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "Show the simulation backends and whether they can run",
	Long: `List the configured backends in the order they are tried. Locally this
probes for the KaSim binary and loads the library plugin; with --server it
reports the server's view.`,
	RunE: runEngines,
}

func init() {
	rootCmd.AddCommand(enginesCmd)
}

func runEngines(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var infos []engine.EngineInfo
	if IsRemote() {
		infos, err = newClient().Engines(cmd.Context())
		if err != nil {
			return err
		}
	} else {
		backends, err := engine.BuildBackends(cfg.Engine, logging.Discard())
		if err != nil {
			return err
		}
		infos = engine.Describe(backends)
	}

	if IsJSONOutput() {
		return printJSON(infos)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("#", "Backend", "Available", "Detail")
	for _, info := range infos {
		available := "yes"
		if !info.Available {
			available = "no"
		}
		table.Append(fmt.Sprintf("%d", info.Position), info.Name, available, info.Detail)
	}
	table.Render()
	return nil
}
