// Copyright (c) 2025, the earshot contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/earshot-audio/earshot/internal/api"
	"github.com/earshot-audio/earshot/internal/buildinfo"
	"github.com/earshot-audio/earshot/internal/cache"
	"github.com/earshot-audio/earshot/internal/catalog"
	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/internal/database"
	"github.com/earshot-audio/earshot/internal/fetch"
	"github.com/earshot-audio/earshot/internal/models"
	"github.com/earshot-audio/earshot/internal/probe"
	"github.com/earshot-audio/earshot/internal/recommend"
	"github.com/earshot-audio/earshot/internal/relay"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "earshot",
		Short: "A self-hosted podcast discovery and feed relay service",
		Long: `earshot - a self-hosted backend that resolves podcast search,
charts, recommendations and feeds, with proxy fallback for
region-restricted hosts.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/earshot/ or %APPDATA%\\earshot\\). For backward compatibility, can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for database and other files (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, dataDir, logPath)
		app.runServer()
	}

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of earshot",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/earshot/config.toml
- Windows: %APPDATA%\earshot\config.toml

You can specify either a directory path or a direct file path:
- Directory: earshot generate-config --config-dir /path/to/config/
- File: earshot generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				defaultDir := config.GetDefaultConfigDir()
				configPath = filepath.Join(defaultDir, "config.toml")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

type Application struct {
	configDir string
	dataDir   string
	logPath   string
}

func NewApplication(configDir, dataDir, logPath string) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
	}
}

func (app *Application) runServer() {
	// Initialize configuration
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	// Override with CLI flags if provided
	if app.dataDir != "" {
		os.Setenv("EARSHOT__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("EARSHOT__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Msg("Starting earshot")

	// Initialize database
	db, err := database.Open(cfg.GetDatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	kvStore := models.NewKVStore(db)

	caches := cache.NewManager(kvStore)
	defer caches.Close()

	// Outbound fetch chain: direct first, proxies after, unless the
	// custom relay is configured as primary.
	resolver := relay.NewResolver(cfg.Config.CustomRelayURL, cfg.Config.CustomRelayPrimary)
	fetcher := fetch.NewClient(resolver, time.Duration(cfg.Config.FetchTimeoutSeconds)*time.Second)

	catalogClient := catalog.NewClient(fetcher, caches, catalog.Options{
		SearchTTL:   time.Duration(cfg.Config.SearchCacheTTLMinutes) * time.Minute,
		NegativeTTL: time.Duration(cfg.Config.NegativeCacheTTLMinutes) * time.Minute,
		ChartTTL:    time.Duration(cfg.Config.ChartCacheTTLHours) * time.Hour,
	})

	prober := probe.NewProber(fetcher, caches, probe.Options{
		TTL: time.Duration(cfg.Config.ProbeCacheTTLHours) * time.Hour,
	})

	recommendService := recommend.NewService(catalogClient, prober, caches, recommend.Options{})

	// Start server in goroutine
	httpServer := api.NewServer(&api.Dependencies{
		Config:           cfg,
		Version:          buildinfo.Version,
		RecommendService: recommendService,
		CatalogService:   catalogClient,
		FeedFetcher:      fetcher,
	})

	errorChannel := make(chan error)
	serverReady := make(chan struct{}, 1)
	go func() {
		if err := httpServer.ListenAndServeReady(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChannel <- err
		}
	}()

	select {
	case <-serverReady:
	case err := <-errorChannel:
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down server", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from server")
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")

		os.Exit(1)
	}

	os.Exit(0)
}
