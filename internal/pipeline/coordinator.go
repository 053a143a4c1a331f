package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"genesis/internal/config"
	"genesis/internal/logging"
	"genesis/internal/services"
	"genesis/internal/store"
	"genesis/internal/taskqueue"
)

// Coordinator owns the item state machine. Workers never touch item rows
// directly; they report stage outcomes here and the coordinator applies the
// conditional transition, then emits the follow-on task. Duplicate and stale
// reports fall out as no-ops because every transition is conditional on the
// item's current status.
type Coordinator struct {
	store  *store.Store
	queue  *taskqueue.Queue
	logger *slog.Logger

	defaults store.Settings
}

// New builds a coordinator over the shared store and queue.
func New(st *store.Store, q *taskqueue.Queue, cfg *config.Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{
		store:    st,
		queue:    q,
		logger:   logging.NewComponentLogger(logger, "pipeline"),
		defaults: store.SettingsFromConfig(cfg),
	}
}

// TaskTypeFor maps a pipeline stage onto its queue task type. Discovery has
// no task type: it completes when the item row is created.
func TaskTypeFor(stg store.Stage) (taskqueue.Type, bool) {
	switch stg {
	case store.StageDownload:
		return taskqueue.TypeDownload, true
	case store.StageParse:
		return taskqueue.TypeParse, true
	case store.StageStorage:
		return taskqueue.TypeStore, true
	}
	return "", false
}

// ReportDiscovered records a discovered article and, unless the daemon is in
// maintenance mode, schedules its download. Re-discovering a known article is
// an idempotent no-op.
func (c *Coordinator) ReportDiscovered(ctx context.Context, item store.NewItem) (bool, error) {
	created, err := c.store.UpsertDiscovered(ctx, item)
	if err != nil {
		return false, fmt.Errorf("report discovered: %w", err)
	}
	if !created {
		return false, nil
	}

	c.logger.Info("article discovered",
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldAccount, item.MPID),
		logging.String("title", item.Title))

	if err := c.scheduleStage(ctx, item.ID, item.MPID, store.StageDownload); err != nil {
		return true, err
	}
	return true, nil
}

// ReportDiscoveryFailed records a per-source discovery failure on the
// account so the status surface shows which feeds are unhealthy. Item state
// is untouched; discovery failures never consume an item's retry budget.
func (c *Coordinator) ReportDiscoveryFailed(ctx context.Context, mpID string, discoveryErr error) error {
	message := "discovery failed"
	if discoveryErr != nil {
		message = discoveryErr.Error()
	}
	recorded, err := c.store.RecordDiscoveryError(ctx, mpID, message)
	if err != nil {
		return fmt.Errorf("report discovery failed: %w", err)
	}
	if recorded {
		c.logger.Warn("source discovery failed",
			logging.String(logging.FieldAccount, mpID),
			logging.String("error", message))
	}
	return nil
}

// BeginStage claims the item row for a stage before the worker starts. A
// false return means another worker already holds the item or the task is
// stale; the caller drops the task without failing it.
func (c *Coordinator) BeginStage(ctx context.Context, itemID string, stg store.Stage) (bool, error) {
	claimed, err := c.store.MarkProcessing(ctx, itemID, stg)
	if err != nil {
		return false, fmt.Errorf("begin %s: %w", stg, err)
	}
	if claimed {
		c.logger.Debug("stage started",
			logging.String(logging.FieldItemID, itemID),
			logging.String(logging.FieldStage, string(stg)))
	}
	return claimed, nil
}

// DownloadOutcome carries the artifacts a successful download produced.
type DownloadOutcome struct {
	HTMLPath     string
	MetadataPath string
	ImagesDir    string
	ImageCount   int64
}

// ReportDownloaded completes the download stage and schedules parsing.
func (c *Coordinator) ReportDownloaded(ctx context.Context, itemID string, outcome DownloadOutcome) (bool, error) {
	applied, err := c.store.CompleteDownload(ctx, itemID, outcome.HTMLPath, outcome.MetadataPath, outcome.ImagesDir, outcome.ImageCount)
	if err != nil {
		return false, fmt.Errorf("report downloaded: %w", err)
	}
	if !applied {
		return false, nil
	}
	c.logStageDone(itemID, store.StageDownload)
	if err := c.scheduleStage(ctx, itemID, "", store.StageParse); err != nil {
		return true, err
	}
	return true, nil
}

// ReportParsed completes the parse stage and schedules storage.
func (c *Coordinator) ReportParsed(ctx context.Context, itemID string, result store.ParseResult) (bool, error) {
	applied, err := c.store.CompleteParse(ctx, itemID, result)
	if err != nil {
		return false, fmt.Errorf("report parsed: %w", err)
	}
	if !applied {
		return false, nil
	}
	c.logStageDone(itemID, store.StageParse)
	if err := c.scheduleStage(ctx, itemID, "", store.StageStorage); err != nil {
		return true, err
	}
	return true, nil
}

// ReportStored completes the final stage. The item is terminal afterwards.
func (c *Coordinator) ReportStored(ctx context.Context, itemID string) (bool, error) {
	applied, err := c.store.CompleteStorage(ctx, itemID)
	if err != nil {
		return false, fmt.Errorf("report stored: %w", err)
	}
	if applied {
		c.logger.Info("item completed", logging.String(logging.FieldItemID, itemID))
	}
	return applied, nil
}

// ReportStageFailed records a stage failure on the item. The task-level retry
// decision belongs to the queue; this only maintains the item's failure
// history and its failed state.
func (c *Coordinator) ReportStageFailed(ctx context.Context, itemID string, stg store.Stage, stageErr error) (bool, error) {
	message := "stage failed"
	if stageErr != nil {
		message = stageErr.Error()
	}
	applied, err := c.store.MarkStageFailed(ctx, itemID, stg, message)
	if err != nil {
		return false, fmt.Errorf("report stage failed: %w", err)
	}
	if applied {
		c.logger.Warn("stage failed",
			logging.String(logging.FieldItemID, itemID),
			logging.String(logging.FieldStage, string(stg)),
			logging.String("error", message))
	}
	return applied, nil
}

// scheduleStage enqueues the task that will pick the item up, carrying the
// owning account's priority. Maintenance mode suppresses new tasks; the item
// stays at the stage boundary until an operator triggers a backfill.
func (c *Coordinator) scheduleStage(ctx context.Context, itemID, mpID string, stg store.Stage) error {
	settings, err := c.store.LoadSettings(ctx, c.defaults)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if settings.MaintenanceMode {
		c.logger.Info("maintenance mode, task suppressed",
			logging.String(logging.FieldItemID, itemID),
			logging.String(logging.FieldStage, string(stg)))
		return nil
	}

	taskType, ok := TaskTypeFor(stg)
	if !ok {
		return fmt.Errorf("stage %s has no task type", stg)
	}
	priority, err := c.accountPriority(ctx, itemID, mpID)
	if err != nil {
		return err
	}
	task, err := c.queue.EnqueueStage(ctx, taskType, taskqueue.StagePayload{ItemID: itemID}, priority)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", stg, err)
	}
	c.logger.Debug("stage scheduled",
		logging.String(logging.FieldItemID, itemID),
		logging.String(logging.FieldStage, string(stg)),
		logging.Int64(logging.FieldTaskID, task.ID))
	return nil
}

// accountPriority resolves the queue priority for an item from its owning
// account. Unknown accounts run at the default priority.
func (c *Coordinator) accountPriority(ctx context.Context, itemID, mpID string) (int, error) {
	if mpID == "" {
		item, err := c.store.GetByID(ctx, itemID)
		if err != nil {
			return 0, fmt.Errorf("resolve account: %w", err)
		}
		if item == nil {
			return 0, fmt.Errorf("%w: item %s", services.ErrNotFound, itemID)
		}
		mpID = item.MPID
	}
	if mpID == "" {
		return 0, nil
	}
	account, err := c.store.GetAccount(ctx, mpID)
	if err != nil {
		return 0, fmt.Errorf("resolve account priority: %w", err)
	}
	if account == nil {
		return 0, nil
	}
	return account.Priority, nil
}

func (c *Coordinator) logStageDone(itemID string, stg store.Stage) {
	c.logger.Info("stage completed",
		logging.String(logging.FieldItemID, itemID),
		logging.String(logging.FieldStage, string(stg)))
}

// Settings returns the current runtime settings snapshot.
func (c *Coordinator) Settings(ctx context.Context) (store.Settings, error) {
	return c.store.LoadSettings(ctx, c.defaults)
}

// Reap requeues expired task leases. Called on the worker pool's reap
// interval.
func (c *Coordinator) Reap(ctx context.Context) (int64, error) {
	return c.queue.ReclaimExpired(ctx, time.Now())
}
