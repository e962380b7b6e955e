// Package main is the entry point for the signalbench backtesting service.
// It wires the result cache, execution monitor, maintenance scheduler, and
// HTTP server, then blocks until a shutdown signal arrives.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	appconfig "github.com/marketgrid/signalbench/internal/config"
	"github.com/marketgrid/signalbench/internal/monitor"
	"github.com/marketgrid/signalbench/internal/reliability"
	"github.com/marketgrid/signalbench/internal/resultcache"
	"github.com/marketgrid/signalbench/internal/scheduler"
	"github.com/marketgrid/signalbench/internal/server"
	"github.com/marketgrid/signalbench/pkg/logger"
)

// shutdownTimeout bounds the graceful drain of in-flight requests.
const shutdownTimeout = 10 * time.Second

// Maintenance schedules.
const (
	cacheSweepSchedule     = "@hourly"
	monitorCleanupSchedule = "0 3 * * *" // daily, off-peak
	backupSchedule         = "30 2 * * *"
)

func main() {
	cfg, err := appconfig.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().
		Int("port", cfg.Port).
		Int("max_workers", cfg.MaxWorkers).
		Bool("cache_enabled", cfg.CacheEnabled).
		Msg("Starting signalbench")

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatal().Err(err).Str("data_dir", cfg.DataDir).Msg("Failed to create data directory")
	}

	// Result cache. A broken backend self-disables rather than aborting boot.
	cache := resultcache.Open(
		cfg.DataDir,
		time.Duration(cfg.CacheOpTimeout)*time.Second,
		cfg.CacheOpRetries,
		log,
	)
	defer cache.Close()

	// Execution telemetry.
	tracker := monitor.NewTracker(cfg.HistoryLimit, log)
	sampler := monitor.NewHealthSampler(
		time.Duration(cfg.HealthInterval)*time.Second,
		cfg.HealthSamples,
		log,
	)
	sampler.Start()
	defer sampler.Stop()

	// Optional off-site cache backup.
	var backupService *reliability.BackupService
	if cfg.Backup.Enabled() {
		s3Client, err := reliability.NewS3Client(context.Background(), cfg.Backup, log)
		if err != nil {
			log.Warn().Err(err).Msg("Backup client unavailable, backups disabled")
		} else {
			cachePath := cache.Path()
			if cachePath == "" {
				cachePath = filepath.Join(cfg.DataDir, "results_cache.db")
			}
			backupService = reliability.NewBackupService(
				s3Client, cfg.DataDir, cachePath, cfg.Backup.RetentionDays, log)
		}
	}

	// Maintenance jobs.
	sched := scheduler.New(log)
	if cfg.CleanupScheduled {
		if err := sched.AddJob(cacheSweepSchedule, &scheduler.CacheSweepJob{Cache: cache, Log: log}); err != nil {
			log.Error().Err(err).Msg("Failed to register cache sweep job")
		}
		if err := sched.AddJob(monitorCleanupSchedule, &scheduler.MonitorCleanupJob{
			Tracker:       tracker,
			RetentionDays: cfg.RetentionDays,
		}); err != nil {
			log.Error().Err(err).Msg("Failed to register monitor cleanup job")
		}
		if backupService != nil {
			if err := sched.AddJob(backupSchedule, backupService); err != nil {
				log.Error().Err(err).Msg("Failed to register backup job")
			}
		}
		sched.Start()
		defer sched.Stop()
	}

	srv := server.New(server.Deps{
		Config:  cfg,
		Log:     log,
		Cache:   cache,
		Tracker: tracker,
		Sampler: sampler,
		Backup:  backupService,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server failed")
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}
