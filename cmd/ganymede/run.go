package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"mercator-hq/ganymede/pkg/auth"
	"mercator-hq/ganymede/pkg/config"
	"mercator-hq/ganymede/pkg/gateway"
	"mercator-hq/ganymede/pkg/janitor"
	"mercator-hq/ganymede/pkg/kiro"
	"mercator-hq/ganymede/pkg/recovery"
	"mercator-hq/ganymede/pkg/server"
	"mercator-hq/ganymede/pkg/telemetry/metrics"
	"mercator-hq/ganymede/pkg/tokens"
	"mercator-hq/ganymede/pkg/translate"
)

// Process exit codes. Scripts and supervisors key off these to tell a bad
// config (fix the file) from a missing credential (log in again).
const (
	exitConfigInvalid = 64
	exitNoCredential  = 77
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the gateway server",
	Long: `Start the Ganymede gateway with the specified configuration.

The server listens on the configured address, translates Anthropic and
OpenAI API requests to Kiro's protocol, and keeps the upstream credential
fresh in the background.

Examples:
  # Start with configuration from environment variables
  ganymede run

  # Start with a config file
  ganymede run --config /etc/ganymede/config.yaml

  # Override listen address
  ganymede run --listen 127.0.0.1:9000

  # Validate config without starting the server
  ganymede run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(exitConfigInvalid)
	}

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger := setupLogger(cfg)
	slog.SetDefault(logger)

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	// Print startup banner
	printBanner(cfg)

	// Route all outbound traffic (upstream and identity) through the
	// configured proxy before the first dial.
	config.ApplyProxyEnv(cfg.Upstream.VPNProxyURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Discover the upstream credential: CLI database, then credential
	// file, then environment.
	cred, store, err := auth.Discover(ctx, cfg.Auth.CLIDBFile, cfg.Auth.CredsFile)
	if err != nil {
		if errors.Is(err, auth.ErrNoCredential) {
			fmt.Fprintln(os.Stderr, "no usable credential: set REFRESH_TOKEN, KIRO_CREDS_FILE, or KIRO_CLI_DB_FILE")
		} else {
			fmt.Fprintf(os.Stderr, "credential discovery failed: %v\n", err)
		}
		os.Exit(exitNoCredential)
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}
	fmt.Printf("✓ Credential discovered (source: %s, provider: %s)\n", cred.Source, cred.Provider())

	// Truncation recovery cache and metrics. Every saved record bumps the
	// truncation counter for its kind.
	cache := recovery.NewCache(cfg.Recovery.TTL)
	m := metrics.New(cache)
	cache.OnSave(m.RecordTruncation)

	creds := auth.NewManager(cred, store, auth.Options{
		OnRefresh: func(provider auth.Provider, err error) {
			result := "success"
			if err != nil {
				result = "failure"
			}
			m.RecordCredentialRefresh(string(provider), result)
		},
	})

	// Hot-reload the credential file when an external login rewrites it.
	if fs, ok := store.(*auth.FileStore); ok && cfg.Auth.WatchCredsFile != nil && *cfg.Auth.WatchCredsFile {
		go func() {
			if err := auth.WatchCredsFile(ctx, fs, creds); err != nil {
				slog.Warn("credential file watcher stopped", "error", err)
			}
		}()
		fmt.Println("✓ Credential file watcher started")
	}

	client := kiro.NewClient(kiro.ClientOptions{BaseURL: cfg.Upstream.BaseURL})
	models := kiro.NewModelCache(kiro.ModelCacheOptions{
		Client:     client,
		Tokens:     creds,
		ProfileARN: cfg.Auth.ProfileARN,
		TTL:        cfg.Upstream.ModelCacheTTL,
	})
	translator := translate.NewTranslator(cfg, tokens.NewEstimator(), cache, logger)
	engine := gateway.New(gateway.Options{
		Config:      cfg,
		Credentials: creds,
		Client:      client,
		Models:      models,
		Translator:  translator,
		Metrics:     m,
		Logger:      logger,
	})

	// Background sweep of expired recovery records and the model cache.
	sweeper := janitor.New(cache, models, logger)
	if err := sweeper.Start(ctx); err != nil {
		slog.Warn("failed to start janitor", "error", err)
	} else {
		defer sweeper.Stop()
	}

	srv := server.New(cfg, server.Deps{
		Engine:      engine,
		Translator:  translator,
		Credentials: creds,
		Models:      models,
		Recovery:    cache,
		Metrics:     m,
		Logger:      logger,
	})

	fmt.Println()
	fmt.Printf("✓ Server listening on %s\n", cfg.Server.ListenAddress)
	fmt.Printf("✓ Anthropic endpoint: http://%s/v1/messages\n", cfg.Server.ListenAddress)
	fmt.Printf("✓ OpenAI endpoint:    http://%s/v1/chat/completions\n", cfg.Server.ListenAddress)
	fmt.Println("\nPress Ctrl+C to stop")

	// Start blocks until SIGINT/SIGTERM or a listener error, then drains
	// in-flight requests within the shutdown timeout.
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	fmt.Println("✓ Server stopped")
	return nil
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func printBanner(cfg *config.Config) {
	fmt.Printf("Ganymede %s\n", Version)
	if cfgFile != "" {
		fmt.Printf("Loading configuration from: %s\n", cfgFile)
	} else {
		fmt.Println("Configuring from environment")
	}
	fmt.Println("✓ Configuration loaded")

	slog.Debug("upstream configured",
		"base_url", cfg.Upstream.BaseURL,
		"max_retries", cfg.Upstream.MaxRetries,
		"first_token_timeout", cfg.Upstream.FirstTokenTimeout,
	)
	if cfg.Upstream.VPNProxyURL != "" {
		slog.Debug("outbound proxy configured")
	}
}
