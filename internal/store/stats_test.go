package store_test

import (
	"context"
	"testing"
	"time"

	"genesis/internal/store"
	"genesis/internal/testsupport"
)

func TestRecomputeDailyStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	today := store.StatsDate(time.Now())

	testsupport.Discover(t, st, "article-1", "mp-1")
	testsupport.Discover(t, st, "article-2", "mp-1")
	testsupport.Discover(t, st, "article-3", "mp-1")

	// article-1 parses fully, article-2 fails download, article-3 stays pending.
	for _, step := range []struct {
		stage store.Stage
		run   func() (bool, error)
	}{
		{store.StageDownload, func() (bool, error) {
			return st.CompleteDownload(ctx, "article-1", "/tmp/a.html", "", "", 0)
		}},
		{store.StageParse, func() (bool, error) {
			return st.CompleteParse(ctx, "article-1", store.ParseResult{ContentLength: 2048, WordCount: 400})
		}},
	} {
		if ok, err := st.MarkProcessing(ctx, "article-1", step.stage); err != nil || !ok {
			t.Fatalf("MarkProcessing %s: ok=%v err=%v", step.stage, ok, err)
		}
		if ok, err := step.run(); err != nil || !ok {
			t.Fatalf("complete %s: ok=%v err=%v", step.stage, ok, err)
		}
	}
	if ok, err := st.MarkProcessing(ctx, "article-2", store.StageDownload); err != nil || !ok {
		t.Fatalf("MarkProcessing article-2: ok=%v err=%v", ok, err)
	}
	if ok, err := st.MarkStageFailed(ctx, "article-2", store.StageDownload, "http 500"); err != nil || !ok {
		t.Fatalf("MarkStageFailed: ok=%v err=%v", ok, err)
	}

	stats, err := st.RecomputeDailyStats(ctx, today)
	if err != nil {
		t.Fatalf("RecomputeDailyStats: %v", err)
	}
	if stats.DiscoveredCount != 3 {
		t.Fatalf("expected 3 discovered, got %d", stats.DiscoveredCount)
	}
	if stats.DownloadedCount != 1 || stats.ParsedCount != 1 || stats.StoredCount != 0 {
		t.Fatalf("unexpected stage counts: %+v", stats)
	}
	if stats.FailedCount != 1 {
		t.Fatalf("expected 1 failed, got %d", stats.FailedCount)
	}
	if stats.TotalContentSize != 2048 || stats.TotalWordCount != 400 {
		t.Fatalf("unexpected sums: %+v", stats)
	}
	if stats.AvgDownloadTime == nil || stats.AvgParseTime == nil {
		t.Fatal("expected duration averages for the completed item")
	}

	// Recomputing the same date converges instead of accumulating.
	again, err := st.RecomputeDailyStats(ctx, today)
	if err != nil {
		t.Fatalf("RecomputeDailyStats repeat: %v", err)
	}
	if again.DiscoveredCount != stats.DiscoveredCount || again.FailedCount != stats.FailedCount {
		t.Fatalf("expected idempotent recompute, got %+v then %+v", stats, again)
	}

	fetched, err := st.GetDailyStats(ctx, today)
	if err != nil {
		t.Fatalf("GetDailyStats: %v", err)
	}
	if fetched == nil || fetched.DiscoveredCount != 3 {
		t.Fatalf("unexpected persisted row: %+v", fetched)
	}
}

func TestRecomputeDailyStatsRejectsBadDate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	if _, err := st.RecomputeDailyStats(context.Background(), "29-08-2026"); err == nil {
		t.Fatal("expected error for malformed date")
	}
}

func TestListDailyStatsNewestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for _, date := range []string{"2026-08-27", "2026-08-29", "2026-08-28"} {
		if _, err := st.RecomputeDailyStats(ctx, date); err != nil {
			t.Fatalf("RecomputeDailyStats %s: %v", date, err)
		}
	}

	rows, err := st.ListDailyStats(ctx, 2)
	if err != nil {
		t.Fatalf("ListDailyStats: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Date != "2026-08-29" || rows[1].Date != "2026-08-28" {
		t.Fatalf("unexpected ordering: %s, %s", rows[0].Date, rows[1].Date)
	}
}
