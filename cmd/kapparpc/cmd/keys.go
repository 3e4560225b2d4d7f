package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psantana5/kappa-rpc/pkg/auth"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new API key",
	Long: `Generate a random API key and its bcrypt hash. Give the key to the client
and add the hash to server.api_key_hashes; the server never stores the key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, hash, err := auth.GenerateAPIKey()
		if err != nil {
			return err
		}
		if IsJSONOutput() {
			return printJSON(map[string]string{"key": key, "hash": hash})
		}
		fmt.Printf("API key:  %s\n", key)
		fmt.Printf("Hash:     %s\n\n", hash)
		fmt.Println("Add the hash to your server config:")
		fmt.Println("  server:")
		fmt.Println("    api_key_hashes:")
		fmt.Printf("      - %q\n", hash)
		return nil
	},
}

var keysHashCmd = &cobra.Command{
	Use:   "hash <key>",
	Short: "Hash an existing API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashAPIKey(args[0])
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysGenerateCmd)
	keysCmd.AddCommand(keysHashCmd)
}
