package cmd

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/kappa-rpc/pkg/client"
	"github.com/psantana5/kappa-rpc/pkg/config"
	"github.com/psantana5/kappa-rpc/pkg/logging"
	tlsutil "github.com/psantana5/kappa-rpc/pkg/tls"
)

var (
	cfgFile      string
	serverURL    string
	outputFormat string
	apiKey       string
	logLevel     string
	caCertFile   string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "kapparpc",
	Short: "Kappa simulation server and client",
	Long: `kapparpc runs Kappa rule-based models through KaSim or an in-process
simulation library and serves them over JSON-RPC (HTTP or stdio).`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.kapparpc/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "kapparpc server URL; commands run locally when empty")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for the server (or KAPPARPC_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&caCertFile, "ca-cert", "", "CA certificate for an HTTPS server with a private CA")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindEnv("api_key", "KAPPARPC_API_KEY")
	viper.BindEnv("server_url", "KAPPARPC_SERVER_URL")
}

// loadConfig reads the effective configuration: flags, env, file, defaults
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return config.Config{}, err
	}

	if apiKey == "" {
		apiKey = viper.GetString("api_key")
	}
	if serverURL == "" {
		serverURL = viper.GetString("server_url")
	}
	return cfg, nil
}

// newLogger builds the logger described by cfg
func newLogger(cfg config.LoggingConfig, component string) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Level)
	jsonFormat := cfg.Format == "json"
	if cfg.Dir == "" {
		return logging.NewLogger(level, jsonFormat), nil
	}
	return logging.NewFileLogger(cfg.Dir, component, level, jsonFormat)
}

// GetServerURL returns the configured server URL with trailing slashes removed
func GetServerURL() string {
	return strings.TrimRight(serverURL, "/")
}

// IsRemote reports whether commands should talk to a server
func IsRemote() bool {
	return serverURL != ""
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// GetHTTPClient returns the HTTP client used for server calls
func GetHTTPClient() *http.Client {
	hc := &http.Client{Timeout: client.DefaultTimeout}
	if caCertFile != "" {
		tlsConfig, err := tlsutil.ClientConfig(caCertFile, "", "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: ignoring --ca-cert: %v\n", err)
			return hc
		}
		hc.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}
	return hc
}

// newClient returns a client for the configured server
func newClient() *client.Client {
	return client.NewClient(GetServerURL(),
		client.WithAPIKey(apiKey),
		client.WithHTTPClient(GetHTTPClient()),
	)
}
