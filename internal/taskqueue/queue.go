package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"genesis/internal/config"
	"genesis/internal/logging"
	"genesis/internal/services"
	"genesis/internal/store"
)

// Queue is the durable task coordinator. Tasks live in the same SQLite
// database as content items so pipeline code can observe both without
// crossing stores. Claims are mutually exclusive: a pending task moves to
// running through a conditional update, so exactly one worker wins each row.
type Queue struct {
	db     *sql.DB
	logger *slog.Logger

	maxRetries   int
	backoffBase  time.Duration
	backoffCap   time.Duration
	leaseTimeout time.Duration
}

// New builds a queue on top of the shared store using the configured retry
// and lease policy.
func New(st *store.Store, cfg config.Queue, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Queue{
		db:           st.DB(),
		logger:       logging.NewComponentLogger(logger, "taskqueue"),
		maxRetries:   cfg.MaxRetries,
		backoffBase:  time.Duration(cfg.BackoffBase) * time.Second,
		backoffCap:   time.Duration(cfg.BackoffCap) * time.Second,
		leaseTimeout: time.Duration(cfg.LeaseTimeout) * time.Second,
	}
}

// EnqueueStage schedules a pipeline stage task for immediate pickup. Priority
// follows the owning account: higher runs first.
func (q *Queue) EnqueueStage(ctx context.Context, typ Type, payload StagePayload, priority int) (*Task, error) {
	switch typ {
	case TypeDownload, TypeParse, TypeStore:
	default:
		return nil, fmt.Errorf("%w: %q is not a stage task type", ErrInvalidPayload, typ)
	}
	data, err := encodeStagePayload(payload)
	if err != nil {
		return nil, err
	}
	return q.insert(ctx, typ, data, priority, 0)
}

// EnqueueCleanup schedules a housekeeping task after the given delay.
func (q *Queue) EnqueueCleanup(ctx context.Context, payload CleanupPayload, delay time.Duration) (*Task, error) {
	raw, err := encodeCleanupPayload(payload)
	if err != nil {
		return nil, err
	}
	return q.insert(ctx, TypeCleanup, raw, 0, delay)
}

func (q *Queue) insert(ctx context.Context, typ Type, data string, priority int, delay time.Duration) (*Task, error) {
	now := time.Now()
	scheduled := now.Add(delay)

	var id int64
	err := store.BusyRetry(ctx, func() error {
		res, execErr := q.db.ExecContext(
			ctx,
			`INSERT INTO tasks (
                task_type, task_data, priority, max_retries, status,
                created_at, updated_at, scheduled_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			typ,
			data,
			priority,
			q.maxRetries,
			StatusPending,
			store.FormatTime(now),
			store.FormatTime(now),
			store.FormatTime(scheduled),
		)
		if execErr != nil {
			return execErr
		}
		id, execErr = res.LastInsertId()
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s task: %w", typ, err)
	}

	q.logger.Debug("task enqueued",
		logging.Int64(logging.FieldTaskID, id),
		logging.String("task_type", string(typ)),
		logging.Int("priority", priority))
	return q.GetByID(ctx, id)
}

// Claim leases up to limit due tasks of the given types. Candidates are
// ordered by priority then schedule time; each one is taken through a
// conditional pending-to-running update, so two workers claiming concurrently
// never receive the same task. Claimed tasks carry a lease that ReclaimExpired
// enforces.
func (q *Queue) Claim(ctx context.Context, types []Type, limit int) ([]*Task, error) {
	if limit <= 0 || len(types) == 0 {
		return nil, nil
	}
	now := time.Now()

	typeValues := make([]string, len(types))
	for i, t := range types {
		typeValues[i] = string(t)
	}
	builder := sq.Select(taskColumns).
		From("tasks").
		Where(sq.Eq{"status": string(StatusPending)}).
		Where(sq.Eq{"task_type": typeValues}).
		Where(sq.LtOrEq{"scheduled_at": store.FormatTime(now)}).
		OrderBy("priority DESC", "scheduled_at", "id").
		Limit(uint64(limit * claimOverscan))
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build claim query: %w", err)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select claim candidates: %w", err)
	}
	candidates, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}

	leaseUntil := now.Add(q.leaseTimeout)
	claimed := make([]*Task, 0, limit)
	for _, candidate := range candidates {
		if len(claimed) == limit {
			break
		}
		won, claimErr := q.claimOne(ctx, candidate.ID, now, leaseUntil)
		if claimErr != nil {
			return claimed, claimErr
		}
		if !won {
			continue
		}
		candidate.Status = StatusRunning
		candidate.StartedAt = &now
		candidate.LeaseExpiresAt = &leaseUntil
		candidate.UpdatedAt = now
		claimed = append(claimed, candidate)
	}
	return claimed, nil
}

func (q *Queue) claimOne(ctx context.Context, id int64, now, leaseUntil time.Time) (bool, error) {
	var affected int64
	err := store.BusyRetry(ctx, func() error {
		res, execErr := q.db.ExecContext(
			ctx,
			`UPDATE tasks
             SET status = ?, started_at = ?, lease_expires_at = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			StatusRunning,
			store.FormatTime(now),
			store.FormatTime(leaseUntil),
			store.FormatTime(now),
			id,
			StatusPending,
		)
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return false, fmt.Errorf("claim task %d: %w", id, err)
	}
	return affected > 0, nil
}

// AckSuccess marks a running task completed. Stale acknowledgements, for
// example after the lease was reclaimed, are ignored.
func (q *Queue) AckSuccess(ctx context.Context, id int64) (bool, error) {
	now := store.FormatTime(time.Now())
	var affected int64
	err := store.BusyRetry(ctx, func() error {
		res, execErr := q.db.ExecContext(
			ctx,
			`UPDATE tasks
             SET status = ?, completed_at = ?, lease_expires_at = NULL,
                 error_message = NULL, updated_at = ?
             WHERE id = ? AND status = ?`,
			StatusCompleted,
			now,
			now,
			id,
			StatusRunning,
		)
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return false, fmt.Errorf("ack task %d: %w", id, err)
	}
	return affected > 0, nil
}

// AckFailure records a failed execution. Transient failures inside the retry
// budget go back to pending with exponential backoff; permanent failures and
// exhausted budgets move the task to its terminal failed state. Returns true
// when the task was requeued.
func (q *Queue) AckFailure(ctx context.Context, id int64, taskErr error) (bool, error) {
	task, err := q.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, fmt.Errorf("%w: task %d", services.ErrNotFound, id)
	}
	if task.Status != StatusRunning {
		return false, nil
	}

	message := "task failed"
	if taskErr != nil {
		message = taskErr.Error()
	}
	now := time.Now()
	attempt := task.RetryCount + 1

	if !services.Retryable(taskErr) || attempt > task.MaxRetries {
		_, err := q.exec(
			ctx,
			`UPDATE tasks
             SET status = ?, error_message = ?, completed_at = ?,
                 lease_expires_at = NULL, updated_at = ?
             WHERE id = ? AND status = ?`,
			StatusFailed,
			message,
			store.FormatTime(now),
			store.FormatTime(now),
			id,
			StatusRunning,
		)
		if err != nil {
			return false, fmt.Errorf("fail task %d: %w", id, err)
		}
		q.logger.Warn("task failed permanently",
			logging.Int64(logging.FieldTaskID, id),
			logging.String("task_type", string(task.Type)),
			logging.Int("attempt", attempt),
			logging.String("error", message))
		return false, nil
	}

	delay := retryDelay(q.backoffBase, q.backoffCap, attempt)
	_, err = q.exec(
		ctx,
		`UPDATE tasks
         SET status = ?, retry_count = ?, scheduled_at = ?, error_message = ?,
             started_at = NULL, lease_expires_at = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusPending,
		attempt,
		store.FormatTime(now.Add(delay)),
		message,
		store.FormatTime(now),
		id,
		StatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("requeue task %d: %w", id, err)
	}
	q.logger.Info("task requeued",
		logging.Int64(logging.FieldTaskID, id),
		logging.String("task_type", string(task.Type)),
		logging.Int("attempt", attempt),
		logging.Duration("backoff", delay))
	return true, nil
}

// ReclaimExpired returns tasks with lapsed leases to the queue. Tasks out of
// retry budget fail terminally instead; the rest go back to pending with a
// backoff step matching each task's attempt count, so a repeatedly reclaimed
// payload backs off the same way an acknowledged failure would.
func (q *Queue) ReclaimExpired(ctx context.Context, now time.Time) (int64, error) {
	nowStr := store.FormatTime(now)

	failed, err := q.exec(
		ctx,
		`UPDATE tasks
         SET status = ?, error_message = ?, completed_at = ?,
             lease_expires_at = NULL, updated_at = ?
         WHERE status = ? AND lease_expires_at IS NOT NULL
           AND lease_expires_at <= ? AND retry_count + 1 > max_retries`,
		StatusFailed,
		"lease expired",
		nowStr,
		nowStr,
		StatusRunning,
		nowStr,
	)
	if err != nil {
		return 0, fmt.Errorf("fail expired leases: %w", err)
	}

	rows, err := q.db.QueryContext(
		ctx,
		`SELECT id, retry_count FROM tasks
         WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?`,
		StatusRunning,
		nowStr,
	)
	if err != nil {
		return failed, fmt.Errorf("select expired leases: %w", err)
	}
	type expiredLease struct {
		id         int64
		retryCount int
	}
	var expired []expiredLease
	for rows.Next() {
		var lease expiredLease
		if err := rows.Scan(&lease.id, &lease.retryCount); err != nil {
			rows.Close()
			return failed, fmt.Errorf("scan expired lease: %w", err)
		}
		expired = append(expired, lease)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return failed, fmt.Errorf("select expired leases: %w", err)
	}
	rows.Close()

	var requeued int64
	for _, lease := range expired {
		delay := retryDelay(q.backoffBase, q.backoffCap, lease.retryCount+1)
		affected, err := q.exec(
			ctx,
			`UPDATE tasks
             SET status = ?, retry_count = retry_count + 1, scheduled_at = ?,
                 error_message = ?, started_at = NULL, lease_expires_at = NULL,
                 updated_at = ?
             WHERE id = ? AND status = ? AND lease_expires_at IS NOT NULL
               AND lease_expires_at <= ?`,
			StatusPending,
			store.FormatTime(now.Add(delay)),
			"lease expired",
			nowStr,
			lease.id,
			StatusRunning,
			nowStr,
		)
		if err != nil {
			return failed + requeued, fmt.Errorf("reclaim task %d: %w", lease.id, err)
		}
		requeued += affected
	}

	total := failed + requeued
	if total > 0 {
		q.logger.Warn("reclaimed expired leases",
			logging.Int64("requeued", requeued),
			logging.Int64("failed", failed))
	}
	return total, nil
}

// CancelPending cancels a task that has not started yet.
func (q *Queue) CancelPending(ctx context.Context, id int64) (bool, error) {
	now := store.FormatTime(time.Now())
	affected, err := q.exec(
		ctx,
		`UPDATE tasks
         SET status = ?, completed_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusCancelled,
		now,
		now,
		id,
		StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("cancel task %d: %w", id, err)
	}
	return affected > 0, nil
}

// DeleteTerminalBefore removes completed, failed, and cancelled tasks whose
// terminal timestamp is older than the cutoff.
func (q *Queue) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	removed, err := q.exec(
		ctx,
		`DELETE FROM tasks
         WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		StatusCompleted,
		StatusFailed,
		StatusCancelled,
		store.FormatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("delete terminal tasks: %w", err)
	}
	return removed, nil
}

// GetByID fetches one task, or nil when it does not exist.
func (q *Queue) GetByID(ctx context.Context, id int64) (*Task, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return task, nil
}

// ListFilter narrows ListTasks results.
type ListFilter struct {
	Statuses []Status
	Types    []Type
	Limit    uint64
}

// ListTasks returns tasks matching the filter, newest first.
func (q *Queue) ListTasks(ctx context.Context, filter ListFilter) ([]*Task, error) {
	builder := sq.Select(taskColumns).From("tasks").OrderBy("id DESC")
	if len(filter.Statuses) > 0 {
		values := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			values[i] = string(status)
		}
		builder = builder.Where(sq.Eq{"status": values})
	}
	if len(filter.Types) > 0 {
		values := make([]string, len(filter.Types))
		for i, typ := range filter.Types {
			values[i] = string(typ)
		}
		builder = builder.Where(sq.Eq{"task_type": values})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(filter.Limit)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return collectTasks(rows)
}

// CountsByStatus returns a count of tasks grouped by status.
func (q *Queue) CountsByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("task counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

func (q *Queue) exec(ctx context.Context, query string, args ...any) (int64, error) {
	var affected int64
	err := store.BusyRetry(ctx, func() error {
		res, execErr := q.db.ExecContext(ctx, query, args...)
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// claimOverscan controls how many extra candidates a claim fetches to absorb
// rows lost to concurrent claimers.
const claimOverscan = 4

const taskColumns = "id, task_type, task_data, priority, max_retries, retry_count, status, error_message, created_at, updated_at, scheduled_at, started_at, completed_at, lease_expires_at"

func collectTasks(rows *sql.Rows) ([]*Task, error) {
	defer rows.Close()
	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		task         Task
		taskType     string
		status       string
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
		scheduledRaw string
		startedRaw   sql.NullString
		completedRaw sql.NullString
		leaseRaw     sql.NullString
	)
	if err := scanner.Scan(
		&task.ID,
		&taskType,
		&task.Data,
		&task.Priority,
		&task.MaxRetries,
		&task.RetryCount,
		&status,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&scheduledRaw,
		&startedRaw,
		&completedRaw,
		&leaseRaw,
	); err != nil {
		return nil, err
	}

	task.Type = Type(taskType)
	task.Status = Status(status)
	task.ErrorMessage = errorMessage.String
	if t, err := store.ParseTime(createdRaw); err == nil {
		task.CreatedAt = t
	}
	if t, err := store.ParseTime(updatedRaw); err == nil {
		task.UpdatedAt = t
	}
	if t, err := store.ParseTime(scheduledRaw); err == nil {
		task.ScheduledAt = t
	}
	task.StartedAt = parseOptionalTime(startedRaw)
	task.CompletedAt = parseOptionalTime(completedRaw)
	task.LeaseExpiresAt = parseOptionalTime(leaseRaw)
	return &task, nil
}

func parseOptionalTime(raw sql.NullString) *time.Time {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	t, err := store.ParseTime(raw.String)
	if err != nil {
		return nil
	}
	return &t
}
