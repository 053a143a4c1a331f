package main

import (
	"log/slog"

	"genesis/internal/config"
	"genesis/internal/pipeline"
	"genesis/internal/store"
	"genesis/internal/taskqueue"
	"genesis/internal/workers"
)

// buildWorkers wires the upstream client, the discovery loop, and the stage
// handler pool.
func buildWorkers(cfg *config.Config, st *store.Store, queue *taskqueue.Queue,
	coordinator *pipeline.Coordinator, logger *slog.Logger) (*workers.Discovery, *workers.Pool) {
	client := workers.NewSourceClient(cfg.Source)
	discovery := workers.NewDiscovery(client, coordinator, st, cfg, logger)
	pool := workers.NewPool(queue, coordinator, st, cfg, logger,
		workers.NewDownload(coordinator, cfg, logger),
		workers.NewParse(coordinator, st, cfg, logger),
		workers.NewStorage(coordinator, cfg, logger),
	)
	return discovery, pool
}
