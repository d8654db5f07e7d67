package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/goodtune/imgcached/internal/cache"
	"github.com/goodtune/imgcached/internal/config"
	"github.com/goodtune/imgcached/internal/docker"
	"github.com/goodtune/imgcached/internal/journal"
	"github.com/goodtune/imgcached/internal/metrics"
	"github.com/goodtune/imgcached/internal/server"
	"github.com/goodtune/imgcached/internal/systemd"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the imgcached daemon",
	Long:  `Start the imgcached daemon with the cache API and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting imgcached")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize eviction policy (fails fast on unknown names)
	policy, err := cache.ParsePolicy(cfg.Cache.Policy)
	if err != nil {
		return err
	}

	// Initialize cache engine
	imageCache, err := cache.New(cache.Config{
		Capacity:   cfg.Cache.Capacity,
		TimeWindow: cfg.Cache.Window(),
		Policy:     policy,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}

	logger.Info().
		Int("capacity", cfg.Cache.Capacity).
		Str("time_window", cfg.Cache.TimeWindow).
		Str("policy", policy.Name()).
		Msg("Cache initialized")

	// Initialize journal sink
	var sink journal.Sink = journal.Nop{}
	if cfg.Journal.Enabled {
		redisSink, err := journal.OpenRedis(cfg.Journal.Redis, cfg.Journal.HistoryLimit)
		if err != nil {
			return fmt.Errorf("failed to initialize journal: %w", err)
		}
		sink = redisSink
		logger.Info().
			Str("redis_host", cfg.Journal.Redis.Host).
			Int("redis_port", cfg.Journal.Redis.Port).
			Int("history_limit", cfg.Journal.HistoryLimit).
			Msg("Journal initialized")
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close journal")
		}
	}()

	// Initialize docker agent
	var provisioner server.Provisioner
	if cfg.Docker.Enabled {
		agent, err := docker.NewAgent(docker.Config{
			InspectCacheSize: cfg.Docker.InspectCacheSize,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize docker agent: %w", err)
		}
		provisioner = agent
		logger.Info().Msg("Docker agent initialized")
	} else {
		logger.Info().Msg("Docker driver disabled, running in bookkeeping-only mode")
	}

	// Initialize API server
	apiServer := server.NewServer(server.Config{
		Addr:             fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort),
		ProvisionTimeout: parseDuration(cfg.Docker.PullTimeout, 0),
	}, imageCache, provisioner, sink, logger)

	if sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// Initialize metrics server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	if sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// Notify systemd we are ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to notify systemd")
	}

	logger.Info().Msg("imgcached startup complete")
	logger.Info().Msgf("API: http://%s:%d/api/v1", cfg.Server.BindAddress, cfg.Server.APIPort)
	logger.Info().Msgf("Metrics: http://%s:%d/metrics", cfg.Server.BindAddress, cfg.Server.MetricsPort)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	logger.Info().Msg("Shutdown signal received, gracefully stopping...")

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to notify systemd")
	}

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	logger.Info().Msg("imgcached stopped")
	return nil
}
