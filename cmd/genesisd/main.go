package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"genesis/internal/config"
	"genesis/internal/daemon"
	"genesis/internal/logging"
	"genesis/internal/pipeline"
	"genesis/internal/stats"
	"genesis/internal/store"
	"genesis/internal/taskqueue"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return
	}

	queue := taskqueue.New(st, cfg.Queue, logger)
	coordinator := pipeline.New(st, queue, cfg, logger)
	discovery, pool := buildWorkers(cfg, st, queue, coordinator, logger)
	aggregator := stats.New(st, cfg.Stats, logger)

	d, err := daemon.New(cfg, st, queue, coordinator, discovery, pool, aggregator, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		_ = st.Close()
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("genesisd shutting down")
}
