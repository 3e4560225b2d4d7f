package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/kappa-rpc/pkg/examples"
)

var examplesCmd = &cobra.Command{
	Use:   "examples [name]",
	Short: "List or print the built-in example models",
	Long:  `Without arguments, lists the example resources. With a name, prints that model's source.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runExamples,
}

func init() {
	rootCmd.AddCommand(examplesCmd)
}

func runExamples(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}

	if len(args) == 1 {
		var res examples.Resource
		var err error
		if IsRemote() {
			res, err = newClient().ReadExample(cmd.Context(), examples.URIPrefix+args[0])
		} else {
			res, err = examples.Get(args[0])
		}
		if err != nil {
			return err
		}
		if IsJSONOutput() {
			return printJSON(res)
		}
		fmt.Println(res.Text)
		return nil
	}

	list := examples.List()
	if IsRemote() {
		var err error
		if list, err = newClient().ListExamples(cmd.Context()); err != nil {
			return err
		}
	}
	if IsJSONOutput() {
		return printJSON(list)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Name", "URI", "Description")
	for _, r := range list {
		table.Append(r.Name, r.URI, r.Description)
	}
	table.Render()
	return nil
}

func printJSON(v interface{}) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(output))
	return nil
}
