package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"genesis/internal/config"
	"genesis/internal/logging"
	"genesis/internal/pipeline"
	"genesis/internal/services"
	"genesis/internal/stage"
	"genesis/internal/store"
	"genesis/internal/taskqueue"
)

// Pool drives the stage handlers: it claims due tasks, runs the handler, and
// acknowledges the task. Maintenance mode pauses claiming while in-flight
// work finishes; expired leases are reaped on their own interval.
type Pool struct {
	queue       *taskqueue.Queue
	coordinator *pipeline.Coordinator
	store       *store.Store
	logger      *slog.Logger

	handlers map[taskqueue.Type]stage.Handler

	pollInterval time.Duration
	reapInterval time.Duration
}

// NewPool builds a pool over the given stage handlers.
func NewPool(q *taskqueue.Queue, coord *pipeline.Coordinator, st *store.Store, cfg *config.Config, logger *slog.Logger, handlers ...stage.Handler) *Pool {
	if logger == nil {
		logger = logging.NewNop()
	}
	poll := time.Duration(cfg.Queue.PollInterval) * time.Second
	if poll <= 0 {
		poll = 5 * time.Second
	}
	reap := time.Duration(cfg.Queue.ReapInterval) * time.Second
	if reap <= 0 {
		reap = time.Minute
	}

	byType := make(map[taskqueue.Type]stage.Handler, len(handlers))
	for _, handler := range handlers {
		if taskType, ok := pipeline.TaskTypeFor(handler.Stage()); ok {
			byType[taskType] = handler
		}
	}
	return &Pool{
		queue:        q,
		coordinator:  coord,
		store:        st,
		logger:       logging.NewComponentLogger(logger, "workers"),
		handlers:     byType,
		pollInterval: poll,
		reapInterval: reap,
	}
}

// Run polls for work until the context ends, then waits for in-flight tasks.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	poll := time.NewTicker(p.pollInterval)
	defer poll.Stop()
	reap := time.NewTicker(p.reapInterval)
	defer reap.Stop()

	// One immediate pass so a fresh daemon picks up backlog without waiting.
	p.pollOnce(ctx, &wg)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reap.C:
			if _, err := p.coordinator.Reap(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("lease reap failed", logging.Error(err))
			}
		case <-poll.C:
			p.pollOnce(ctx, &wg)
		}
	}
}

// pollOnce claims one batch per task type and dispatches the tasks.
func (p *Pool) pollOnce(ctx context.Context, wg *sync.WaitGroup) {
	settings, err := p.coordinator.Settings(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("load settings failed", logging.Error(err))
		}
		return
	}
	if settings.MaintenanceMode {
		return
	}

	cleanupTasks, err := p.queue.Claim(ctx, []taskqueue.Type{taskqueue.TypeCleanup}, 1)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("claim cleanup failed", logging.Error(err))
		}
		return
	}
	for _, task := range cleanupTasks {
		wg.Add(1)
		go func(task *taskqueue.Task) {
			defer wg.Done()
			p.runCleanup(ctx, task)
		}(task)
	}

	for taskType, handler := range p.handlers {
		limit := p.claimLimit(taskType, settings)
		claimed, err := p.queue.Claim(ctx, []taskqueue.Type{taskType}, limit)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("claim failed",
					logging.String("task_type", string(taskType)),
					logging.Error(err))
			}
			return
		}
		for _, task := range claimed {
			wg.Add(1)
			go func(task *taskqueue.Task, handler stage.Handler) {
				defer wg.Done()
				p.runTask(ctx, task, handler)
			}(task, handler)
		}
	}
}

// claimLimit derives the per-type claim batch from runtime settings.
func (p *Pool) claimLimit(taskType taskqueue.Type, settings store.Settings) int {
	switch taskType {
	case taskqueue.TypeDownload:
		if settings.ConcurrentDownloads > 0 {
			return settings.ConcurrentDownloads
		}
	case taskqueue.TypeParse:
		if settings.ParseBatchSize > 0 {
			return settings.ParseBatchSize
		}
	}
	return defaultClaimLimit
}

// runTask executes one claimed task end to end. A lost item claim means some
// other worker, or an earlier duplicate task, already owns the transition;
// that acknowledges as success.
func (p *Pool) runTask(ctx context.Context, task *taskqueue.Task, handler stage.Handler) {
	payload, err := task.StagePayload()
	if err != nil {
		// Malformed payloads can never succeed.
		p.ackFailure(ctx, task, services.Wrap(services.ErrPermanent, "workers", "decode payload", "", err))
		return
	}
	stg := handler.Stage()
	logger := p.logger.With(
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldItemID, payload.ItemID),
		logging.String(logging.FieldStage, string(stg)))

	item, err := stage.ItemForTask(ctx, p.store, stg, payload.ItemID)
	if err != nil {
		p.reportAndAck(ctx, task, stg, payload.ItemID, err, logger)
		return
	}

	claimed, err := p.coordinator.BeginStage(ctx, item.ID, stg)
	if err != nil {
		p.ackFailure(ctx, task, err)
		return
	}
	if !claimed {
		logger.Debug("item not claimable, dropping duplicate task")
		if _, err := p.queue.AckSuccess(ctx, task.ID); err != nil && ctx.Err() == nil {
			logger.Warn("ack failed", logging.Error(err))
		}
		return
	}

	if err = handler.Prepare(ctx, item); err == nil {
		err = handler.Execute(ctx, item)
	}
	if err != nil {
		p.reportAndAck(ctx, task, stg, item.ID, err, logger)
		return
	}

	if _, err := p.queue.AckSuccess(ctx, task.ID); err != nil && ctx.Err() == nil {
		logger.Warn("ack failed", logging.Error(err))
	}
}

// runCleanup deletes terminal tasks older than the payload's window.
func (p *Pool) runCleanup(ctx context.Context, task *taskqueue.Task) {
	payload, err := task.CleanupPayload()
	if err != nil {
		p.ackFailure(ctx, task, services.Wrap(services.ErrPermanent, "workers", "decode payload", "", err))
		return
	}
	days := payload.OlderThanDays
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	removed, err := p.queue.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		p.ackFailure(ctx, task, err)
		return
	}
	p.logger.Info("queue cleanup finished",
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.Int64("removed", removed))
	if _, err := p.queue.AckSuccess(ctx, task.ID); err != nil && ctx.Err() == nil {
		p.logger.Warn("ack failed", logging.Int64(logging.FieldTaskID, task.ID), logging.Error(err))
	}
}

// reportAndAck records the stage failure on the item and lets the queue
// decide between requeue and terminal failure.
func (p *Pool) reportAndAck(ctx context.Context, task *taskqueue.Task, stg store.Stage, itemID string, stageErr error, logger *slog.Logger) {
	if _, err := p.coordinator.ReportStageFailed(ctx, itemID, stg, stageErr); err != nil && ctx.Err() == nil {
		logger.Warn("failure report failed", logging.Error(err))
	}
	p.ackFailure(ctx, task, stageErr)
}

func (p *Pool) ackFailure(ctx context.Context, task *taskqueue.Task, taskErr error) {
	if _, err := p.queue.AckFailure(ctx, task.ID, taskErr); err != nil && ctx.Err() == nil {
		p.logger.Warn("failure ack failed",
			logging.Int64(logging.FieldTaskID, task.ID),
			logging.Error(err))
	}
}

// Health reports the readiness of every registered handler.
func (p *Pool) Health(ctx context.Context) []stage.Health {
	out := make([]stage.Health, 0, len(p.handlers))
	for _, handler := range p.handlers {
		out = append(out, handler.HealthCheck(ctx))
	}
	return out
}

const defaultClaimLimit = 2
