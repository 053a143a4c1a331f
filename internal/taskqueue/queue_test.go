package taskqueue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"genesis/internal/config"
	"genesis/internal/services"
	"genesis/internal/store"
	"genesis/internal/taskqueue"
	"genesis/internal/testsupport"
)

func newQueue(t *testing.T, queueCfg config.Queue) (*taskqueue.Queue, *store.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithQueue(queueCfg))
	st := testsupport.MustOpenStore(t, cfg)
	return taskqueue.New(st, cfg.Queue, nil), st
}

func fastQueue(t *testing.T) (*taskqueue.Queue, *store.Store) {
	t.Helper()
	return newQueue(t, config.Queue{
		MaxRetries:   2,
		BackoffBase:  0,
		BackoffCap:   0,
		LeaseTimeout: 300,
	})
}

func TestEnqueueAndClaimOrdering(t *testing.T) {
	q, _ := fastQueue(t)
	ctx := context.Background()

	ids := make(map[string]int64)
	for _, item := range []struct {
		itemID   string
		priority int
	}{
		{"low", 0},
		{"high", 9},
		{"mid", 5},
	} {
		task, err := q.EnqueueStage(ctx, taskqueue.TypeDownload, taskqueue.StagePayload{ItemID: item.itemID}, item.priority)
		if err != nil {
			t.Fatalf("EnqueueStage %s: %v", item.itemID, err)
		}
		ids[item.itemID] = task.ID
	}

	claimed, err := q.Claim(ctx, []taskqueue.Type{taskqueue.TypeDownload}, 2)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected 2 claimed tasks, got %d", len(claimed))
	}
	if claimed[0].ID != ids["high"] || claimed[1].ID != ids["mid"] {
		t.Fatalf("expected priority order high,mid; got %d,%d", claimed[0].ID, claimed[1].ID)
	}
	for _, task := range claimed {
		if task.Status != taskqueue.StatusRunning {
			t.Fatalf("expected running, got %s", task.Status)
		}
		if task.LeaseExpiresAt == nil {
			t.Fatal("expected a lease on claimed task")
		}
	}

	// The remaining task is the low priority one; claimed rows stay claimed.
	claimed, err = q.Claim(ctx, []taskqueue.Type{taskqueue.TypeDownload}, 10)
	if err != nil {
		t.Fatalf("Claim remainder: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != ids["low"] {
		t.Fatalf("expected only the low task, got %+v", claimed)
	}
}

func TestClaimFiltersByType(t *testing.T) {
	q, _ := fastQueue(t)
	ctx := context.Background()

	if _, err := q.EnqueueStage(ctx, taskqueue.TypeDownload, taskqueue.StagePayload{ItemID: "a"}, 0); err != nil {
		t.Fatalf("EnqueueStage: %v", err)
	}
	if _, err := q.EnqueueStage(ctx, taskqueue.TypeParse, taskqueue.StagePayload{ItemID: "b"}, 0); err != nil {
		t.Fatalf("EnqueueStage: %v", err)
	}

	claimed, err := q.Claim(ctx, []taskqueue.Type{taskqueue.TypeParse}, 10)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].Type != taskqueue.TypeParse {
		t.Fatalf("expected one parse task, got %+v", claimed)
	}
}

func TestClaimIsMutuallyExclusive(t *testing.T) {
	q, _ := fastQueue(t)
	ctx := context.Background()

	const total = 40
	for i := 0; i < total; i++ {
		if _, err := q.EnqueueStage(ctx, taskqueue.TypeDownload, taskqueue.StagePayload{ItemID: "item"}, 0); err != nil {
			t.Fatalf("EnqueueStage: %v", err)
		}
	}

	var mu sync.Mutex
	seen := make(map[int64]int)
	var wg sync.WaitGroup
	for worker := 0; worker < 4; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := q.Claim(ctx, []taskqueue.Type{taskqueue.TypeDownload}, 3)
				if err != nil {
					t.Errorf("Claim: %v", err)
					return
				}
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, task := range claimed {
					seen[task.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("expected %d distinct tasks claimed, got %d", total, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("task %d claimed %d times", id, count)
		}
	}
}

func TestAckSuccessIgnoresStaleAcks(t *testing.T) {
	q, _ := fastQueue(t)
	ctx := context.Background()

	task, err := q.EnqueueStage(ctx, taskqueue.TypeDownload, taskqueue.StagePayload{ItemID: "a"}, 0)
	if err != nil {
		t.Fatalf("EnqueueStage: %v", err)
	}
	if _, err := q.Claim(ctx, []taskqueue.Type{taskqueue.TypeDownload}, 1); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	ok, err := q.AckSuccess(ctx, task.ID)
	if err != nil || !ok {
		t.Fatalf("AckSuccess: ok=%v err=%v", ok, err)
	}
	ok, err = q.AckSuccess(ctx, task.ID)
	if err != nil {
		t.Fatalf("AckSuccess repeat: %v", err)
	}
	if ok {
		t.Fatal("expected duplicate ack to be ignored")
	}

	final, err := q.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final.Status != taskqueue.StatusCompleted || final.CompletedAt == nil {
		t.Fatalf("unexpected terminal state: %+v", final)
	}
}

func TestAckFailureRequeuesUntilBudgetExhausted(t *testing.T) {
	q, _ := fastQueue(t)
	ctx := context.Background()

	task, err := q.EnqueueStage(ctx, taskqueue.TypeDownload, taskqueue.StagePayload{ItemID: "a"}, 0)
	if err != nil {
		t.Fatalf("EnqueueStage: %v", err)
	}

	transient := errors.New("connection reset")
	for attempt := 1; attempt <= 2; attempt++ {
		claimed, err := q.Claim(ctx, []taskqueue.Type{taskqueue.TypeDownload}, 1)
		if err != nil || len(claimed) != 1 {
			t.Fatalf("Claim attempt %d: n=%d err=%v", attempt, len(claimed), err)
		}
		requeued, err := q.AckFailure(ctx, task.ID, transient)
		if err != nil {
			t.Fatalf("AckFailure attempt %d: %v", attempt, err)
		}
		if !requeued {
			t.Fatalf("expected requeue on attempt %d", attempt)
		}
		current, err := q.GetByID(ctx, task.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if current.Status != taskqueue.StatusPending || current.RetryCount != attempt {
			t.Fatalf("attempt %d: unexpected state %+v", attempt, current)
		}
	}

	// Third failure exceeds MaxRetries=2 and is terminal.
	claimed, err := q.Claim(ctx, []taskqueue.Type{taskqueue.TypeDownload}, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("final Claim: n=%d err=%v", len(claimed), err)
	}
	requeued, err := q.AckFailure(ctx, task.ID, transient)
	if err != nil {
		t.Fatalf("final AckFailure: %v", err)
	}
	if requeued {
		t.Fatal("expected terminal failure after retry budget")
	}

	final, err := q.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final.Status != taskqueue.StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.ErrorMessage != "connection reset" {
		t.Fatalf("expected last error preserved, got %q", final.ErrorMessage)
	}
}

func TestAckFailureSchedulesBackoff(t *testing.T) {
	q, _ := newQueue(t, config.Queue{
		MaxRetries:   3,
		BackoffBase:  3600,
		BackoffCap:   7200,
		LeaseTimeout: 300,
	})
	ctx := context.Background()

	task, err := q.EnqueueStage(ctx, taskqueue.TypeDownload, taskqueue.StagePayload{ItemID: "a"}, 0)
	if err != nil {
		t.Fatalf("EnqueueStage: %v", err)
	}
	if _, err := q.Claim(ctx, []taskqueue.Type{taskqueue.TypeDownload}, 1); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := q.AckFailure(ctx, task.ID, errors.New("timeout")); err != nil {
		t.Fatalf("AckFailure: %v", err)
	}

	requeued, err := q.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if wait := time.Until(requeued.ScheduledAt); wait < 30*time.Minute {
		t.Fatalf("expected backoff schedule in the future, got %v", wait)
	}

	// Not due yet, so a claim finds nothing.
	claimed, err := q.Claim(ctx, []taskqueue.Type{taskqueue.TypeDownload}, 1)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected no due tasks, got %d", len(claimed))
	}
}

func TestAckFailurePermanentErrorIsTerminal(t *testing.T) {
	q, _ := fastQueue(t)
	ctx := context.Background()

	task, err := q.EnqueueStage(ctx, taskqueue.TypeParse, taskqueue.StagePayload{ItemID: "a"}, 0)
	if err != nil {
		t.Fatalf("EnqueueStage: %v", err)
	}
	if _, err := q.Claim(ctx, []taskqueue.Type{taskqueue.TypeParse}, 1); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	permanent := services.Wrap(services.ErrPermanent, "parse", "extract", "malformed html", nil)
	requeued, err := q.AckFailure(ctx, task.ID, permanent)
	if err != nil {
		t.Fatalf("AckFailure: %v", err)
	}
	if requeued {
		t.Fatal("expected permanent failure to skip the retry budget")
	}

	final, err := q.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final.Status != taskqueue.StatusFailed || final.RetryCount != 0 {
		t.Fatalf("unexpected state: %+v", final)
	}
}

func TestReclaimExpiredRequeuesAndFails(t *testing.T) {
	q, _ := newQueue(t, config.Queue{
		MaxRetries:   1,
		BackoffBase:  0,
		BackoffCap:   0,
		LeaseTimeout: 0,
	})
	ctx := context.Background()

	task, err := q.EnqueueStage(ctx, taskqueue.TypeDownload, taskqueue.StagePayload{ItemID: "a"}, 0)
	if err != nil {
		t.Fatalf("EnqueueStage: %v", err)
	}

	// First lease lapse: back to pending with the retry counter advanced.
	if _, err := q.Claim(ctx, []taskqueue.Type{taskqueue.TypeDownload}, 1); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	reclaimed, err := q.ReclaimExpired(ctx, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("ReclaimExpired: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed task, got %d", reclaimed)
	}
	current, err := q.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.Status != taskqueue.StatusPending || current.RetryCount != 1 {
		t.Fatalf("unexpected state after reclaim: %+v", current)
	}
	if current.LeaseExpiresAt != nil {
		t.Fatal("expected lease cleared on reclaim")
	}

	// Second lapse exceeds the budget and fails terminally.
	if _, err := q.Claim(ctx, []taskqueue.Type{taskqueue.TypeDownload}, 1); err != nil {
		t.Fatalf("Claim again: %v", err)
	}
	if _, err := q.ReclaimExpired(ctx, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("ReclaimExpired again: %v", err)
	}
	final, err := q.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final.Status != taskqueue.StatusFailed {
		t.Fatalf("expected failed after exhausted lease budget, got %s", final.Status)
	}
}

func TestReclaimExpiredEscalatesBackoffPerTask(t *testing.T) {
	q, st := newQueue(t, config.Queue{
		MaxRetries:   5,
		BackoffBase:  60,
		BackoffCap:   3600,
		LeaseTimeout: 0,
	})
	ctx := context.Background()

	fresh, err := q.EnqueueStage(ctx, taskqueue.TypeDownload, taskqueue.StagePayload{ItemID: "fresh"}, 0)
	if err != nil {
		t.Fatalf("EnqueueStage fresh: %v", err)
	}
	worn, err := q.EnqueueStage(ctx, taskqueue.TypeDownload, taskqueue.StagePayload{ItemID: "worn"}, 0)
	if err != nil {
		t.Fatalf("EnqueueStage worn: %v", err)
	}
	claimed, err := q.Claim(ctx, []taskqueue.Type{taskqueue.TypeDownload}, 2)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected 2 claimed tasks, got %d", len(claimed))
	}
	// One of the two already burned attempts before its lease lapsed.
	if _, err := st.DB().ExecContext(ctx, `UPDATE tasks SET retry_count = 2 WHERE id = ?`, worn.ID); err != nil {
		t.Fatalf("seed retry count: %v", err)
	}

	reference := time.Now().Add(time.Second)
	reclaimed, err := q.ReclaimExpired(ctx, reference)
	if err != nil {
		t.Fatalf("ReclaimExpired: %v", err)
	}
	if reclaimed != 2 {
		t.Fatalf("expected 2 reclaimed tasks, got %d", reclaimed)
	}

	freshAfter, err := q.GetByID(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("GetByID fresh: %v", err)
	}
	wornAfter, err := q.GetByID(ctx, worn.ID)
	if err != nil {
		t.Fatalf("GetByID worn: %v", err)
	}
	if freshAfter.RetryCount != 1 || wornAfter.RetryCount != 3 {
		t.Fatalf("unexpected retry counts: fresh=%d worn=%d", freshAfter.RetryCount, wornAfter.RetryCount)
	}

	// First attempt waits the base delay; the third has doubled twice.
	freshWait := freshAfter.ScheduledAt.Sub(reference)
	wornWait := wornAfter.ScheduledAt.Sub(reference)
	if freshWait < 59*time.Second || freshWait > 61*time.Second {
		t.Fatalf("expected base backoff for first reclaim, got %v", freshWait)
	}
	if wornWait < 239*time.Second || wornWait > 241*time.Second {
		t.Fatalf("expected escalated backoff for repeat reclaim, got %v", wornWait)
	}
}

func TestCancelPending(t *testing.T) {
	q, _ := fastQueue(t)
	ctx := context.Background()

	task, err := q.EnqueueStage(ctx, taskqueue.TypeStore, taskqueue.StagePayload{ItemID: "a"}, 0)
	if err != nil {
		t.Fatalf("EnqueueStage: %v", err)
	}
	ok, err := q.CancelPending(ctx, task.ID)
	if err != nil || !ok {
		t.Fatalf("CancelPending: ok=%v err=%v", ok, err)
	}

	claimed, err := q.Claim(ctx, []taskqueue.Type{taskqueue.TypeStore}, 1)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatal("expected cancelled task to be unclaimable")
	}

	ok, err = q.CancelPending(ctx, task.ID)
	if err != nil {
		t.Fatalf("CancelPending repeat: %v", err)
	}
	if ok {
		t.Fatal("expected cancel of a terminal task to be a no-op")
	}
}

func TestDeleteTerminalBefore(t *testing.T) {
	q, _ := fastQueue(t)
	ctx := context.Background()

	done, err := q.EnqueueStage(ctx, taskqueue.TypeDownload, taskqueue.StagePayload{ItemID: "done"}, 0)
	if err != nil {
		t.Fatalf("EnqueueStage: %v", err)
	}
	if _, err := q.Claim(ctx, []taskqueue.Type{taskqueue.TypeDownload}, 1); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := q.AckSuccess(ctx, done.ID); err != nil {
		t.Fatalf("AckSuccess: %v", err)
	}
	pending, err := q.EnqueueStage(ctx, taskqueue.TypeDownload, taskqueue.StagePayload{ItemID: "waiting"}, 0)
	if err != nil {
		t.Fatalf("EnqueueStage: %v", err)
	}

	removed, err := q.DeleteTerminalBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteTerminalBefore: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed task, got %d", removed)
	}

	survivor, err := q.GetByID(ctx, pending.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if survivor == nil {
		t.Fatal("expected pending task to survive cleanup")
	}
}

func TestPayloadValidation(t *testing.T) {
	q, _ := fastQueue(t)
	ctx := context.Background()

	if _, err := q.EnqueueStage(ctx, taskqueue.TypeDownload, taskqueue.StagePayload{}, 0); !errors.Is(err, taskqueue.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for empty item id, got %v", err)
	}
	if _, err := q.EnqueueStage(ctx, taskqueue.TypeCleanup, taskqueue.StagePayload{ItemID: "a"}, 0); !errors.Is(err, taskqueue.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for non-stage type, got %v", err)
	}

	task, err := q.EnqueueStage(ctx, taskqueue.TypeDownload, taskqueue.StagePayload{ItemID: "article-1"}, 0)
	if err != nil {
		t.Fatalf("EnqueueStage: %v", err)
	}
	payload, err := task.StagePayload()
	if err != nil {
		t.Fatalf("StagePayload: %v", err)
	}
	if payload.ItemID != "article-1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestListTasksAndCounts(t *testing.T) {
	q, _ := fastQueue(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := q.EnqueueStage(ctx, taskqueue.TypeDownload, taskqueue.StagePayload{ItemID: "a"}, 0); err != nil {
			t.Fatalf("EnqueueStage: %v", err)
		}
	}
	if _, err := q.Claim(ctx, []taskqueue.Type{taskqueue.TypeDownload}, 1); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	running, err := q.ListTasks(ctx, taskqueue.ListFilter{Statuses: []taskqueue.Status{taskqueue.StatusRunning}})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(running) != 1 {
		t.Fatalf("expected 1 running task, got %d", len(running))
	}

	counts, err := q.CountsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountsByStatus: %v", err)
	}
	if counts[taskqueue.StatusPending] != 2 || counts[taskqueue.StatusRunning] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}
