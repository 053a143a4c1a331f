package testsupport

import (
	"context"
	"testing"

	"genesis/internal/config"
	"genesis/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// Discover inserts a discovered article for tests using the provided store.
func Discover(t testing.TB, st *store.Store, id, mpID string) *store.Item {
	t.Helper()

	ctx := context.Background()
	created, err := st.UpsertDiscovered(ctx, store.NewItem{
		ID:     id,
		URL:    "https://example.com/articles/" + id,
		Title:  "Article " + id,
		MPID:   mpID,
		MPName: "Account " + mpID,
	})
	if err != nil {
		t.Fatalf("UpsertDiscovered: %v", err)
	}
	if !created {
		t.Fatalf("expected item %s to be created", id)
	}
	item, err := st.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if item == nil {
		t.Fatalf("item %s missing after insert", id)
	}
	return item
}
