package workers_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"genesis/internal/services"
	"genesis/internal/testsupport"
	"genesis/internal/workers"
)

const seedYAML = `accounts:
  - mp_id: mp-vip
    mp_name: VIP Source
    nickname: vip
    priority: 9
    selectors:
      content: "#custom_body"
  - mp_id: mp-muted
    active: false
`

func TestLoadAccountSeeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	testsupport.WriteFile(t, path, seedYAML)

	seeds, err := workers.LoadAccountSeeds(path)
	if err != nil {
		t.Fatalf("LoadAccountSeeds: %v", err)
	}
	if len(seeds) != 2 {
		t.Fatalf("expected 2 seeds, got %d", len(seeds))
	}
	if seeds[0].MPID != "mp-vip" || seeds[0].Priority != 9 {
		t.Fatalf("unexpected first seed: %+v", seeds[0])
	}
	if seeds[0].Selectors["content"] != "#custom_body" {
		t.Fatalf("unexpected selectors: %+v", seeds[0].Selectors)
	}
	if seeds[1].Active == nil || *seeds[1].Active {
		t.Fatal("expected second seed to be inactive")
	}
}

func TestLoadAccountSeedsMissingFileIsOptional(t *testing.T) {
	seeds, err := workers.LoadAccountSeeds(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error, got %v", err)
	}
	if seeds != nil {
		t.Fatalf("expected nil seeds, got %+v", seeds)
	}

	seeds, err = workers.LoadAccountSeeds("")
	if err != nil || seeds != nil {
		t.Fatalf("empty path should be a no-op, got %v / %+v", err, seeds)
	}
}

func TestLoadAccountSeedsRejectsMissingID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	testsupport.WriteFile(t, path, "accounts:\n  - mp_name: nameless\n")

	_, err := workers.LoadAccountSeeds(path)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestSeedAccounts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "accounts.yaml")
	testsupport.WriteFile(t, path, seedYAML)
	seeds, err := workers.LoadAccountSeeds(path)
	if err != nil {
		t.Fatalf("LoadAccountSeeds: %v", err)
	}
	if err := workers.SeedAccounts(ctx, st, seeds); err != nil {
		t.Fatalf("SeedAccounts: %v", err)
	}

	vip, err := st.GetAccount(ctx, "mp-vip")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if vip.Priority != 9 || !vip.IsActive {
		t.Fatalf("unexpected vip account: %+v", vip)
	}
	if !strings.Contains(vip.CustomSelectors, "#custom_body") {
		t.Fatalf("expected selectors persisted, got %q", vip.CustomSelectors)
	}

	muted, err := st.GetAccount(ctx, "mp-muted")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if muted.IsActive {
		t.Fatal("expected muted account to be inactive")
	}
	if muted.MPName != "mp-muted" {
		t.Fatalf("expected name fallback to mp_id, got %q", muted.MPName)
	}
}
