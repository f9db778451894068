package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eternalApril/rudis/internal/config"
	"github.com/eternalApril/rudis/internal/logger"
	"github.com/eternalApril/rudis/internal/metrics"
	"github.com/eternalApril/rudis/internal/persistence"
	"github.com/eternalApril/rudis/internal/server"
	"github.com/eternalApril/rudis/internal/storage"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

func main() {
	fs := pflag.NewFlagSet("rudis", pflag.ExitOnError)
	config.BindFlags(fs)
	fs.Parse(os.Args[1:]) //nolint:errcheck

	configPath, _ := fs.GetString("config") //nolint:errcheck
	cfg, err := config.Load(configPath, fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log); err != nil {
		log.Error("Rudis stopped with error", zap.Error(err))
		log.Sync() //nolint:errcheck
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("Rudis starting",
		zap.String("port", cfg.Server.Port),
		zap.Uint("shards", cfg.Storage.Shards),
		zap.Int("databases", cfg.Storage.Databases),
	)

	if cfg.Persistence.AOF.Enabled || cfg.Persistence.RDB.Enabled {
		lock, err := persistence.LockDir(cfg.Persistence.Dir)
		if err != nil {
			return fmt.Errorf("lock %s: %w", cfg.Persistence.Dir, err)
		}
		defer lock.Unlock() //nolint:errcheck
	}

	ks, err := storage.NewKeyspace(cfg.Storage.Shards, cfg.Storage.Databases)
	if err != nil {
		return fmt.Errorf("cant initialize storage: %w", err)
	}

	engine, err := server.NewEngine(ks, cfg, log)
	if err != nil {
		return fmt.Errorf("cant initialize engine: %w", err)
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		m := metrics.New()
		engine.SetMetrics(m)

		metricsServer, err = m.Listen(cfg.Metrics.Address, log)
		if err != nil {
			engine.Shutdown() //nolint:errcheck
			return fmt.Errorf("metrics listener: %w", err)
		}
		go metricsServer.Serve()
	}

	srv := server.NewServer(engine, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	served := make(chan error, 1)
	go func() {
		served <- srv.ListenAndServe(cfg.Server.Address())
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-served:
		if errors.Is(serveErr, server.ErrServerClosed) {
			serveErr = nil
		}
	}

	log.Info("Shutting down...")

	if err := srv.Shutdown(shutdownTimeout); err != nil {
		log.Warn("Client shutdown incomplete", zap.Error(err))
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("Metrics shutdown failed", zap.Error(err))
		}
	}

	if err := engine.Shutdown(); err != nil {
		return errors.Join(serveErr, err)
	}

	log.Info("Rudis stopped")
	return serveErr
}
