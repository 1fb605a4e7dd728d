package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"workerwatch/config"
	"workerwatch/logger"
	"workerwatch/reaper"
	"workerwatch/server"
	"workerwatch/storage"
)

func main() {
	flags := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	config.RegisterFlags(flags)
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error setting up logger:", err)
		os.Exit(1)
	}
	log.Logger.Info("Logger initialized", zap.String("level", cfg.LogLevel))

	if err := run(cfg, log.Logger); err != nil {
		log.Logger.Error("workerwatch exited with error", zap.Error(err))
		logger.Flush(log.Logger)
		os.Exit(1)
	}
	logger.Flush(log.Logger)
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.StorageBackend, cfg.DBPath, log)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StorageBackend, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("close store", zap.Error(err))
		}
	}()
	log.Info("registry ready", zap.String("backend", cfg.StorageBackend))

	r := reaper.New(store, cfg.SweepInterval, cfg.TTL, log)
	r.Start(ctx)
	defer r.Stop()

	gin.SetMode(cfg.GinMode)
	return server.New(store, log).Run(ctx, cfg.ListenAddr, cfg.ShutdownTimeout)
}
