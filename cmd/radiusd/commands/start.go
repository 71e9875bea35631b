package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/radiusd/internal/logger"
	"github.com/marmos91/radiusd/pkg/api"
	"github.com/marmos91/radiusd/pkg/backend"
	"github.com/marmos91/radiusd/pkg/config"
	"github.com/marmos91/radiusd/pkg/dialog"
	"github.com/marmos91/radiusd/pkg/metrics"
	"github.com/marmos91/radiusd/pkg/packet"
	"github.com/marmos91/radiusd/pkg/policy"
	"github.com/marmos91/radiusd/pkg/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the radiusd server",
	Long: `Start the radiusd server with the specified configuration.

The server binds two UDP listeners (authentication and accounting), loads
the policy file and persists every dialog to Redis.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/radiusd/config.yaml.

Examples:
  # Start with the default config file
  radiusd start

  # Start with custom config file
  radiusd start --config /etc/radiusd/config.yaml

  # Start with environment variable overrides
  RADIUSD_LOGGING_LEVEL=DEBUG radiusd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	if cfg.Radius.Secret == "" {
		return fmt.Errorf("no RADIUS shared secret configured: set radius.secret or RADIUSD_RADIUS_SECRET")
	}
	if cfg.Policy.Path == "" {
		return fmt.Errorf("no policy file configured: set policy.path")
	}

	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	pol, err := policy.Load(cfg.Policy.Path)
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}
	logger.Info("Policy loaded", "path", cfg.Policy.Path, "pools", len(pol.AddressPools))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize metrics (if enabled)
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	// Dialog store. An unreachable Redis is not fatal: requests are still
	// answered, persistence fails open per dialog.
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.RedisAddr(),
		DB:   cfg.Redis.DB,
	})
	defer func() { _ = redisClient.Close() }()

	pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Dialog store unreachable at startup, dialogs will not be persisted until it recovers",
			"addr", cfg.Redis.RedisAddr(), logger.KeyError, err.Error())
	} else {
		logger.Info("Dialog store connected", "addr", cfg.Redis.RedisAddr(), "db", cfg.Redis.DB)
	}
	pingCancel()

	prefix, authKeys, acctKeys, coaKeys, discKeys := pol.DialogKeys()
	if cfg.Redis.Prefix != "" {
		prefix = cfg.Redis.Prefix
	}
	store := dialog.New(redisClient, dialog.Config{
		Prefix:   prefix,
		Expiry:   cfg.Redis.Expiry,
		AuthKeys: authKeys,
		AcctKeys: acctKeys,
		CoAKeys:  coaKeys,
		DiscKeys: discKeys,
	})

	serverMetrics := metrics.NewServerMetrics()

	be, err := backend.New(pol, store, serverMetrics)
	if err != nil {
		return fmt.Errorf("failed to build backend: %w", err)
	}

	if metrics.IsEnabled() {
		metrics.RegisterPoolCollector(be.Pools())
	}

	codec := packet.NewCodec(cfg.Radius.Secret)

	authListener := server.NewListener(server.ListenerConfig{
		Name:            "auth",
		BindAddress:     cfg.Radius.Host,
		Port:            cfg.Radius.AuthPort,
		MaxConcurrent:   cfg.Radius.MaxConcurrent,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, be, codec.Decode, codec.Encode, serverMetrics)

	acctListener := server.NewListener(server.ListenerConfig{
		Name:            "acct",
		BindAddress:     cfg.Radius.Host,
		Port:            cfg.Radius.AcctPort,
		MaxConcurrent:   cfg.Radius.MaxConcurrent,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, be, codec.Decode, codec.Encode, serverMetrics)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return authListener.Serve(groupCtx) })
	group.Go(func() error { return acctListener.Serve(groupCtx) })

	// API server (health probes, optionally /metrics)
	if cfg.API.IsEnabled() {
		apiServer := api.NewServer(cfg.API, api.NewHealthHandler(redisClient, be.Pools()), metricsHandlerForAPI(cfg))
		group.Go(func() error { return apiServer.Start(groupCtx) })
	}

	// Standalone metrics server on a dedicated port
	if cfg.Metrics.Enabled && cfg.Metrics.Port != 0 {
		group.Go(func() error { return serveMetrics(groupCtx, cfg.Metrics.Port) })
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	serverDone := make(chan error, 1)
	go func() { serverDone <- group.Wait() }()

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", logger.KeyError, err.Error())
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		if err != nil {
			logger.Error("Server error", logger.KeyError, err.Error())
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

// metricsHandlerForAPI returns the /metrics handler to mount on the API
// server, or nil when metrics are disabled or served on a dedicated port.
func metricsHandlerForAPI(cfg *config.Config) http.Handler {
	if !cfg.Metrics.Enabled || cfg.Metrics.Port != 0 {
		return nil
	}
	return metrics.Handler()
}

// serveMetrics runs a bare HTTP server exposing /metrics on its own port.
func serveMetrics(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}
