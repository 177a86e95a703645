package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/tabled/internal/config"
	"github.com/Dicklesworthstone/tabled/internal/engine"
	"github.com/Dicklesworthstone/tabled/internal/schema"
	"github.com/Dicklesworthstone/tabled/internal/server"
)

var flagServeConfig string

func init() {
	serveCmd.Flags().StringVarP(&flagServeConfig, "config", "c", "", "config file (TOML)")
	serveCmd.Flags().String("listen", "", "TCP listen address")
	serveCmd.Flags().String("schema", "", "schema file (TOML)")
	serveCmd.Flags().Int("max-connections", 0, "live connection cap")
	serveCmd.Flags().String("log-level", "", "debug, info, warn, or error")
	serveCmd.Flags().String("log-format", "", "text or json")

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the store server",
	Long: `Load the schema, bind the listen address, and serve clients until
interrupted.

Configuration is resolved from flags, TABLED_* environment variables,
and the config file, in that order. While running, log_level changes in
the config file are applied live; every other key is fixed at startup.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, cfgPath, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	tables, err := schema.Load(cfg.Schema)
	if err != nil {
		return err
	}
	logger.Info("schema loaded", "path", cfg.Schema, "tables", len(tables))

	srv, err := server.New(engine.New(tables), server.Options{
		Addr:     cfg.Listen,
		MaxConns: cfg.MaxConnections,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	if cfgPath != "" {
		watcher, err := config.WatchLogLevel(cfgPath, logger)
		if err != nil {
			logger.Warn("config watch unavailable", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	return srv.Stop()
}

// loadServeConfig resolves the effective configuration and the config
// file path it came from ("" when no file was used).
func loadServeConfig(cmd *cobra.Command) (config.Config, string, error) {
	flags := cmd.Flags()

	path := flagServeConfig
	if path == "" {
		if _, err := os.Stat("tabled.config.toml"); err == nil {
			path = "tabled.config.toml"
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, "", err
	}

	// Flags beat env and file.
	if flags.Changed("listen") {
		cfg.Listen, _ = flags.GetString("listen")
	}
	if flags.Changed("schema") {
		cfg.Schema, _ = flags.GetString("schema")
	}
	if flags.Changed("max-connections") {
		cfg.MaxConnections, _ = flags.GetInt("max-connections")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.LogFormat, _ = flags.GetString("log-format")
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, "", err
	}
	return cfg, path, nil
}

func newLogger(cfg config.Config) (*log.Logger, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := log.Options{Level: level, ReportTimestamp: true}
	if cfg.LogFormat == "json" {
		opts.Formatter = log.JSONFormatter
	}
	return log.NewWithOptions(os.Stderr, opts), nil
}
