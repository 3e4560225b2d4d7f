package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/psantana5/kappa-rpc/pkg/cleanup"
	"github.com/psantana5/kappa-rpc/pkg/engine"
	"github.com/psantana5/kappa-rpc/pkg/store"
	tlsutil "github.com/psantana5/kappa-rpc/pkg/tls"
	"github.com/psantana5/kappa-rpc/pkg/tracing"
)

// EnvPrefix is prepended to every environment override, e.g.
// KAPPARPC_ENGINE_EXTERNAL_BINARY
const EnvPrefix = "KAPPARPC"

// Config is the full server configuration
type Config struct {
	Server  ServerConfig   `mapstructure:"server" yaml:"server"`
	Engine  engine.Config  `mapstructure:"engine" yaml:"engine"`
	Store   store.Config   `mapstructure:"store" yaml:"store"`
	Cleanup cleanup.Config `mapstructure:"cleanup" yaml:"cleanup"`
	Tracing tracing.Config `mapstructure:"tracing" yaml:"tracing"`
	Logging LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig configures the HTTP listener and its middleware
type ServerConfig struct {
	Addr            string          `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	APIKeyHashes    []string        `mapstructure:"api_key_hashes" yaml:"api_key_hashes,omitempty"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	TLS             tlsutil.Config  `mapstructure:"tls" yaml:"tls"`
}

// RateLimitConfig configures per-client request limits
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled" yaml:"enabled"`
	RPS     float64 `mapstructure:"rps" yaml:"rps"`
	Burst   int     `mapstructure:"burst" yaml:"burst"`
}

// LoggingConfig configures the logger
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text or json
	Dir    string `mapstructure:"dir" yaml:"dir"`       // empty logs to stderr
	// MaxSizeMB rotates the log file in Dir once it grows past this size
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:        ":8080",
			ReadTimeout: 30 * time.Second,
			// A simulation may run for the full engine timeout before responding
			WriteTimeout:    engine.DefaultTimeout + time.Minute,
			ShutdownTimeout: 30 * time.Second,
			RateLimit:       RateLimitConfig{Enabled: false, RPS: 2, Burst: 5},
			TLS: tlsutil.Config{
				CertFile: filepath.Join("certs", "kapparpc.crt"),
				KeyFile:  filepath.Join("certs", "kapparpc.key"),
			},
		},
		Engine:  engine.DefaultConfig(),
		Store:   store.DefaultConfig(),
		Cleanup: cleanup.DefaultConfig(),
		Tracing: tracing.Config{ServiceName: "kapparpc", OTLPEndpoint: "localhost:4318", Environment: "development"},
		Logging: LoggingConfig{Level: "info", Format: "text", MaxSizeMB: 100},
	}
}

// SetDefaults registers every default with v so environment variables can
// override keys that no config file mentions
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.api_key_hashes", []string{})
	v.SetDefault("server.rate_limit.enabled", d.Server.RateLimit.Enabled)
	v.SetDefault("server.rate_limit.rps", d.Server.RateLimit.RPS)
	v.SetDefault("server.rate_limit.burst", d.Server.RateLimit.Burst)
	v.SetDefault("server.tls.enabled", d.Server.TLS.Enabled)
	v.SetDefault("server.tls.cert_file", d.Server.TLS.CertFile)
	v.SetDefault("server.tls.key_file", d.Server.TLS.KeyFile)
	v.SetDefault("server.tls.ca_file", d.Server.TLS.CAFile)
	v.SetDefault("server.tls.require_client_cert", d.Server.TLS.RequireClientCert)
	v.SetDefault("server.tls.self_signed", d.Server.TLS.SelfSigned)
	v.SetDefault("server.tls.hosts", []string{})

	v.SetDefault("engine.order", d.Engine.Order)
	v.SetDefault("engine.external.binary", d.Engine.External.Binary)
	v.SetDefault("engine.external.work_dir", d.Engine.External.WorkDir)
	v.SetDefault("engine.external.timeout", d.Engine.External.Timeout)
	v.SetDefault("engine.external.input_flag", d.Engine.External.InputFlag)
	v.SetDefault("engine.external.output_flag", d.Engine.External.OutputFlag)
	v.SetDefault("engine.external.time_flag", d.Engine.External.TimeFlag)
	v.SetDefault("engine.external.points_flag", d.Engine.External.PointsFlag)
	v.SetDefault("engine.external.seed_flag", d.Engine.External.SeedFlag)
	v.SetDefault("engine.external.extra_args", []string{})
	v.SetDefault("engine.library.name", d.Engine.Library.Name)
	v.SetDefault("engine.library.plugin", d.Engine.Library.Plugin)

	v.SetDefault("store.type", d.Store.Type)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.capacity", d.Store.Capacity)
	v.SetDefault("store.max_open_conns", d.Store.MaxOpenConns)
	v.SetDefault("store.max_idle_conns", d.Store.MaxIdleConns)
	v.SetDefault("store.conn_max_lifetime", d.Store.ConnMaxLifetime)
	v.SetDefault("store.retry.max_retries", d.Store.Retry.MaxRetries)
	v.SetDefault("store.retry.initial_backoff", d.Store.Retry.InitialBackoff)
	v.SetDefault("store.retry.max_backoff", d.Store.Retry.MaxBackoff)
	v.SetDefault("store.retry.multiplier", d.Store.Retry.Multiplier)

	v.SetDefault("cleanup.enabled", d.Cleanup.Enabled)
	v.SetDefault("cleanup.work_dir", d.Cleanup.WorkDir)
	v.SetDefault("cleanup.pattern", d.Cleanup.Pattern)
	v.SetDefault("cleanup.max_age", d.Cleanup.MaxAge)
	v.SetDefault("cleanup.run_retention", d.Cleanup.RunRetention)
	v.SetDefault("cleanup.interval", d.Cleanup.Interval)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.service_version", d.Tracing.ServiceVersion)
	v.SetDefault("tracing.environment", d.Tracing.Environment)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.dir", d.Logging.Dir)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
}

// DefaultPath returns $HOME/.kapparpc/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".kapparpc", "config.yaml")
}

// Load reads configuration into v from cfgFile (or the default location if
// empty), the environment and the defaults, in decreasing precedence after
// any flags already bound to v. A missing default config file is not an error.
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if path := DefaultPath(); path != "" {
			v.AddConfigPath(filepath.Dir(path))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot work
func (c Config) Validate() error {
	if c.Engine.External.Timeout < 0 {
		return fmt.Errorf("engine.external.timeout must not be negative")
	}
	if c.Cleanup.Enabled && c.Cleanup.MaxAge > 0 && c.Cleanup.MaxAge <= c.Engine.External.Timeout {
		return fmt.Errorf("cleanup.max_age (%v) must exceed engine.external.timeout (%v) so running simulations are never swept",
			c.Cleanup.MaxAge, c.Engine.External.Timeout)
	}
	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.RPS <= 0 || c.Server.RateLimit.Burst < 1) {
		return fmt.Errorf("server.rate_limit needs rps > 0 and burst >= 1")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}
