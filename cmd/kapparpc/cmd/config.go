package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/kappa-rpc/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  `Print the configuration after merging defaults, the config file, environment and flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Fprintf(os.Stderr, "# from %s\n", used)
		}
		return writeYAML(cfg)
	},
}

var configDefaultCmd = &cobra.Command{
	Use:   "default",
	Short: "Print the built-in defaults as a starting config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeYAML(config.Default())
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configDefaultCmd)
}

func writeYAML(v interface{}) error {
	encoder := yaml.NewEncoder(os.Stdout)
	encoder.SetIndent(2)
	defer encoder.Close()
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return nil
}
