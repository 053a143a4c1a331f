package pipeline

import (
	"context"
	"fmt"

	"genesis/internal/logging"
	"genesis/internal/services"
	"genesis/internal/store"
	"genesis/internal/taskqueue"
)

// TriggerStage backfills tasks for every item waiting at a stage boundary.
// Operators use it after maintenance mode suppressed scheduling, or to kick a
// stage by hand. Items already holding a pending task simply produce a
// duplicate whose claim resolves as a no-op.
func (c *Coordinator) TriggerStage(ctx context.Context, stg store.Stage, limit int) (int, error) {
	taskType, ok := TaskTypeFor(stg)
	if !ok {
		return 0, fmt.Errorf("stage %s cannot be triggered", stg)
	}
	if limit <= 0 {
		limit = triggerBatchLimit
	}

	items, err := c.store.ListItems(ctx, store.ListFilter{
		Statuses: []store.Status{stg.StartStatus()},
		Limit:    uint64(limit),
	})
	if err != nil {
		return 0, fmt.Errorf("list stage backlog: %w", err)
	}

	scheduled := 0
	for _, item := range items {
		priority, err := c.accountPriority(ctx, item.ID, item.MPID)
		if err != nil {
			return scheduled, err
		}
		if _, err := c.queue.EnqueueStage(ctx, taskType, taskqueue.StagePayload{ItemID: item.ID}, priority); err != nil {
			return scheduled, fmt.Errorf("trigger %s for %s: %w", stg, item.ID, err)
		}
		scheduled++
	}
	if scheduled > 0 {
		c.logger.Info("stage backlog scheduled",
			logging.String(logging.FieldStage, string(stg)),
			logging.Int("count", scheduled))
	}
	return scheduled, nil
}

// ResubmitItem puts a failed item back in flight at its failed stage. The
// stage claim path accepts failed items whose failed_stage matches, so the
// enqueued task retries exactly the step that broke.
func (c *Coordinator) ResubmitItem(ctx context.Context, itemID string) error {
	item, err := c.store.GetByID(ctx, itemID)
	if err != nil {
		return fmt.Errorf("resubmit: %w", err)
	}
	if item == nil {
		return fmt.Errorf("%w: item %s", services.ErrNotFound, itemID)
	}
	if item.Status != store.StatusFailed {
		return fmt.Errorf("item %s is %s, only failed items can be resubmitted", itemID, item.Status)
	}
	taskType, ok := TaskTypeFor(item.FailedStage)
	if !ok {
		return fmt.Errorf("item %s failed at unresubmittable stage %q", itemID, item.FailedStage)
	}

	priority, err := c.accountPriority(ctx, item.ID, item.MPID)
	if err != nil {
		return err
	}
	task, err := c.queue.EnqueueStage(ctx, taskType, taskqueue.StagePayload{ItemID: item.ID}, priority)
	if err != nil {
		return fmt.Errorf("resubmit %s: %w", itemID, err)
	}
	c.logger.Info("item resubmitted",
		logging.String(logging.FieldItemID, itemID),
		logging.String(logging.FieldStage, string(item.FailedStage)),
		logging.Int64(logging.FieldTaskID, task.ID))
	return nil
}

// AbandonItem cancels every pending task still pointing at an item, stopping
// further retries. The item keeps its failed state and error history.
func (c *Coordinator) AbandonItem(ctx context.Context, itemID string) (int, error) {
	item, err := c.store.GetByID(ctx, itemID)
	if err != nil {
		return 0, fmt.Errorf("abandon: %w", err)
	}
	if item == nil {
		return 0, fmt.Errorf("%w: item %s", services.ErrNotFound, itemID)
	}

	pending, err := c.queue.ListTasks(ctx, taskqueue.ListFilter{
		Statuses: []taskqueue.Status{taskqueue.StatusPending},
		Types:    []taskqueue.Type{taskqueue.TypeDownload, taskqueue.TypeParse, taskqueue.TypeStore},
	})
	if err != nil {
		return 0, fmt.Errorf("abandon: %w", err)
	}

	cancelled := 0
	for _, task := range pending {
		payload, err := task.StagePayload()
		if err != nil || payload.ItemID != itemID {
			continue
		}
		ok, err := c.queue.CancelPending(ctx, task.ID)
		if err != nil {
			return cancelled, fmt.Errorf("cancel task %d: %w", task.ID, err)
		}
		if ok {
			cancelled++
		}
	}
	c.logger.Info("item abandoned",
		logging.String(logging.FieldItemID, itemID),
		logging.Int("cancelled_tasks", cancelled))
	return cancelled, nil
}

const triggerBatchLimit = 500
