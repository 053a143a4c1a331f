package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"genesis/internal/store"
	"genesis/internal/testsupport"
)

func TestOpenPathCreatesSchemaAndReopens(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "genesis.db")

	st, err := store.OpenPath(dbPath)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	ctx := context.Background()
	if err := st.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if _, err := st.UpsertDiscovered(ctx, store.NewItem{ID: "article-1", URL: "https://example.com/a"}); err != nil {
		t.Fatalf("UpsertDiscovered: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening an existing database must not recreate or wipe anything.
	st, err = store.OpenPath(dbPath)
	if err != nil {
		t.Fatalf("OpenPath reopen: %v", err)
	}
	defer st.Close()

	item, err := st.GetByID(ctx, "article-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if item == nil {
		t.Fatal("expected item to survive reopen")
	}
}

func TestHealthSummarizesLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.Discover(t, st, "article-1", "mp-1")
	testsupport.Discover(t, st, "article-2", "mp-1")
	if ok, err := st.MarkProcessing(ctx, "article-2", store.StageDownload); err != nil || !ok {
		t.Fatalf("MarkProcessing: ok=%v err=%v", ok, err)
	}
	if ok, err := st.MarkStageFailed(ctx, "article-2", store.StageDownload, "boom"); err != nil || !ok {
		t.Fatalf("MarkStageFailed: ok=%v err=%v", ok, err)
	}

	health, err := st.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Total != 2 || health.Pending != 1 || health.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", health)
	}
}
