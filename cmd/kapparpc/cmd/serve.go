package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/kappa-rpc/pkg/api"
	"github.com/psantana5/kappa-rpc/pkg/auth"
	"github.com/psantana5/kappa-rpc/pkg/cleanup"
	"github.com/psantana5/kappa-rpc/pkg/config"
	"github.com/psantana5/kappa-rpc/pkg/engine"
	"github.com/psantana5/kappa-rpc/pkg/logging"
	"github.com/psantana5/kappa-rpc/pkg/metrics"
	"github.com/psantana5/kappa-rpc/pkg/ratelimit"
	"github.com/psantana5/kappa-rpc/pkg/shutdown"
	"github.com/psantana5/kappa-rpc/pkg/store"
	tlsutil "github.com/psantana5/kappa-rpc/pkg/tls"
	"github.com/psantana5/kappa-rpc/pkg/tracing"
)

var serveStdio bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulation server",
	Long: `Serve the simulate tool and the example resources over JSON-RPC.

By default the server listens on HTTP (POST /rpc plus REST routes). With
--stdio it reads one JSON-RPC request per line from stdin and writes one
response per line to stdout instead.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveStdio, "stdio", false, "serve JSON-RPC over stdin/stdout instead of HTTP")
	serveCmd.Flags().String("addr", "", "HTTP listen address (default :8080)")
	serveCmd.Flags().String("kasim", "", "path to the KaSim binary")
	serveCmd.Flags().String("plugin", "", "simulation library plugin (.so)")
	serveCmd.Flags().String("store", "", "run history: memory, sqlite, postgres or none")

	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	viper.BindPFlag("engine.external.binary", serveCmd.Flags().Lookup("kasim"))
	viper.BindPFlag("engine.library.plugin", serveCmd.Flags().Lookup("plugin"))
	viper.BindPFlag("store.type", serveCmd.Flags().Lookup("store"))
}

// server bundles everything the serve command starts
type server struct {
	cfg      config.Config
	logger   *logging.Logger
	tracer   *tracing.Provider
	history  store.Store
	exporter *metrics.Exporter
	service  *api.Service
	janitor  *cleanup.Manager
	shutdown *shutdown.Manager
}

// newServer builds the simulation stack. Callers own the returned shutdown manager.
func newServer(ctx context.Context, cfg config.Config, logger *logging.Logger) (*server, error) {
	s := &server{
		cfg:      cfg,
		logger:   logger,
		shutdown: shutdown.New(cfg.Server.ShutdownTimeout, logger),
	}

	tp, err := tracing.InitTracer(cfg.Tracing, logger)
	if err != nil {
		return nil, err
	}
	s.tracer = tp
	s.shutdown.Register("tracing", tp.Shutdown)

	history, err := store.NewStore(ctx, cfg.Store, logger)
	if err != nil {
		s.shutdown.Shutdown()
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	s.history = history
	s.shutdown.Register("run history", shutdown.CloseResource(history))

	backends, err := engine.BuildBackends(cfg.Engine, logger)
	if err != nil {
		s.shutdown.Shutdown()
		return nil, err
	}
	for _, info := range engine.Describe(backends) {
		logger.Info("Simulation backend configured", map[string]interface{}{
			"backend":   info.Name,
			"position":  info.Position,
			"available": info.Available,
			"detail":    info.Detail,
		})
	}

	s.exporter = metrics.NewExporter()
	orchestrator := engine.NewOrchestrator(backends,
		engine.WithLogger(logger),
		engine.WithRecorder(s.exporter),
		engine.WithRunSink(history),
		engine.WithTracer(tp.Tracer()),
	)

	s.service = api.NewService(orchestrator, history, logger)
	s.service.SetMetricsRecorder(s.exporter)

	janitorCfg := cfg.Cleanup
	if janitorCfg.WorkDir == "" {
		janitorCfg.WorkDir = cfg.Engine.External.WorkDir
	}
	s.janitor = cleanup.NewManager(janitorCfg, history, logger)
	s.janitor.Start()
	s.shutdown.Register("cleanup", func(context.Context) error {
		s.janitor.Stop()
		return nil
	})

	return s, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging, "kapparpc")
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if cfg.Logging.Dir != "" && cfg.Logging.MaxSizeMB > 0 {
		go rotateLogs(ctx, logger, int64(cfg.Logging.MaxSizeMB)<<20)
	}

	if serveStdio {
		return s.serveStdio(ctx)
	}
	return s.serveHTTP(ctx)
}

func (s *server) serveStdio(ctx context.Context) error {
	s.logger.Info("Serving JSON-RPC on stdio", map[string]interface{}{
		"methods": s.service.Dispatcher().Methods(),
	})

	// A blocked stdin read does not observe ctx, so wait on both
	done := make(chan error, 1)
	go func() { done <- s.service.ServeStdio(ctx, os.Stdin, os.Stdout) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if shutdownErr := s.shutdown.Shutdown(); shutdownErr != nil {
		s.logger.Warn("Shutdown finished with errors", map[string]interface{}{"error": shutdownErr.Error()})
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *server) serveHTTP(ctx context.Context) error {
	opts := api.RouterOptions{Logger: s.logger, Tracing: s.tracer}

	if len(s.cfg.Server.APIKeyHashes) > 0 {
		keys, err := auth.NewAPIKeyManager(s.cfg.Server.APIKeyHashes)
		if err != nil {
			s.shutdown.Shutdown()
			return fmt.Errorf("invalid server.api_key_hashes: %w", err)
		}
		opts.Auth = keys
		s.logger.Info("API key authentication enabled", map[string]interface{}{"keys": len(s.cfg.Server.APIKeyHashes)})
	} else {
		s.logger.Warn("API key authentication disabled")
	}

	if rl := s.cfg.Server.RateLimit; rl.Enabled {
		opts.Limiter = ratelimit.NewLimiter(rl.RPS, rl.Burst)
		go pruneLimiter(ctx, opts.Limiter, 10*time.Minute)
		s.logger.Info("Rate limiting enabled", map[string]interface{}{"rps": rl.RPS, "burst": rl.Burst})
	}

	router := api.NewRouter(api.NewHandler(s.service, s.exporter), opts)

	srv := &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	if s.cfg.Server.TLS.Enabled {
		tlsConfig, err := tlsutil.ServerConfig(s.cfg.Server.TLS, s.logger)
		if err != nil {
			s.shutdown.Shutdown()
			return fmt.Errorf("failed to configure TLS: %w", err)
		}
		srv.TLSConfig = tlsConfig
		s.logger.Info("TLS enabled", map[string]interface{}{"mtls": s.cfg.Server.TLS.RequireClientCert})
	} else {
		s.logger.Warn("TLS disabled; API keys travel in clear text")
	}

	// Registered last so in-flight simulations finish before the store closes
	s.shutdown.Register("http server", shutdown.StopHTTPServer(srv))

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("kapparpc listening", map[string]interface{}{"addr": srv.Addr})
		s.logger.Info("API endpoints: POST /rpc, POST /simulate, GET /examples, GET /runs, GET /health, GET /metrics")
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", map[string]interface{}{"error": err.Error()})
			serverErr <- err
			cancel()
		}
	}()

	s.shutdown.Wait(waitCtx)
	s.logger.Info("Server stopped")

	select {
	case err := <-serverErr:
		return err
	default:
		return nil
	}
}

func pruneLimiter(ctx context.Context, limiter *ratelimit.Limiter, maxAge time.Duration) {
	ticker := time.NewTicker(maxAge)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Prune(maxAge)
		}
	}
}

func rotateLogs(ctx context.Context, logger *logging.Logger, maxSize int64) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := logger.RotateIfNeeded(maxSize); err != nil {
				logger.Warn("Log rotation failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}
