package main

import (
	"context"
	"strings"
	"testing"

	"genesis/internal/store"
	"genesis/internal/testsupport"
)

func TestStatusCommand(t *testing.T) {
	env := startTestDaemon(t)

	out, _, err := runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Daemon")
	requireContains(t, out, "[OK] pid")
	requireContains(t, out, "Discovery interval")
}

func TestItemsCommandListsAndFilters(t *testing.T) {
	env := startTestDaemon(t)
	testsupport.Discover(t, env.store, "item-1", "mp-1")
	testsupport.Discover(t, env.store, "item-2", "mp-2")
	failItem(t, env, "item-2", "boom")

	out, _, err := runCLI(t, env, "items")
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	requireContains(t, out, "item-1")
	requireContains(t, out, "item-2")

	out, _, err = runCLI(t, env, "items", "--status", "failed")
	if err != nil {
		t.Fatalf("items --status failed: %v", err)
	}
	requireContains(t, out, "item-2")
	if strings.Contains(out, "item-1") {
		t.Fatalf("expected item-1 filtered out, got:\n%s", out)
	}
}

func TestShowCommand(t *testing.T) {
	env := startTestDaemon(t)
	testsupport.Discover(t, env.store, "item-show", "mp-1")
	failItem(t, env, "item-show", "connection reset")

	out, _, err := runCLI(t, env, "show", "item-show")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "Item item-show")
	requireContains(t, out, "connection reset")
	requireContains(t, out, "download")

	_, _, err = runCLI(t, env, "show", "missing")
	if err == nil {
		t.Fatal("expected error for unknown item")
	}
}

func TestRetryCommand(t *testing.T) {
	env := startTestDaemon(t)
	testsupport.Discover(t, env.store, "item-retry", "mp-1")
	failItem(t, env, "item-retry", "boom")

	out, _, err := runCLI(t, env, "retry", "item-retry")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	requireContains(t, out, "resubmitted")

	// A second retry hits an item that is no longer failed.
	out, _, err = runCLI(t, env, "retry", "item-retry")
	if err == nil {
		t.Fatalf("expected retry of non-failed item to fail, got:\n%s", out)
	}
}

func TestAbandonCommand(t *testing.T) {
	env := startTestDaemon(t)
	testsupport.Discover(t, env.store, "item-gone", "mp-1")

	out, _, err := runCLI(t, env, "abandon", "item-gone")
	if err != nil {
		t.Fatalf("abandon: %v", err)
	}
	requireContains(t, out, "Abandoned item-gone")

	item, err := env.store.GetByID(context.Background(), "item-gone")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if item.Status != store.StatusFailed {
		t.Fatalf("expected failed status, got %s", item.Status)
	}
}

func TestTriggerCommand(t *testing.T) {
	env := startTestDaemon(t)
	testsupport.Discover(t, env.store, "item-trigger", "mp-1")

	out, _, err := runCLI(t, env, "trigger", "download")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	requireContains(t, out, "Scheduled")

	_, _, err = runCLI(t, env, "trigger", "discovery")
	if err == nil {
		t.Fatal("expected trigger discovery to be rejected")
	}
}

func TestAccountsCommands(t *testing.T) {
	env := startTestDaemon(t)
	ctx := context.Background()
	if err := env.store.UpsertAccount(ctx, store.AccountUpdate{MPID: "mp-1", MPName: "Tech Weekly", IsActive: true}); err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}

	out, _, err := runCLI(t, env, "accounts", "list")
	if err != nil {
		t.Fatalf("accounts list: %v", err)
	}
	requireContains(t, out, "Tech Weekly")

	if _, _, err := runCLI(t, env, "accounts", "deactivate", "mp-1"); err != nil {
		t.Fatalf("accounts deactivate: %v", err)
	}
	account, err := env.store.GetAccount(ctx, "mp-1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if account.IsActive {
		t.Fatal("expected account deactivated")
	}

	if _, _, err := runCLI(t, env, "accounts", "activate", "mp-1"); err != nil {
		t.Fatalf("accounts activate: %v", err)
	}
}

func TestConfigRuntimeCommands(t *testing.T) {
	env := startTestDaemon(t)

	out, _, err := runCLI(t, env, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, store.KeyDownloadTimeout)

	out, _, err = runCLI(t, env, "config", "set", store.KeyDownloadTimeout, "900")
	if err != nil {
		t.Fatalf("config set: %v", err)
	}
	requireContains(t, out, "900")

	out, _, err = runCLI(t, env, "config", "get", store.KeyDownloadTimeout)
	if err != nil {
		t.Fatalf("config get: %v", err)
	}
	requireContains(t, out, "900")

	if _, _, err := runCLI(t, env, "config", "set", store.KeyDownloadTimeout, "soon"); err == nil {
		t.Fatal("expected invalid value to be rejected")
	}
}

func TestQueueCommands(t *testing.T) {
	env := startTestDaemon(t)
	testsupport.Discover(t, env.store, "item-q", "mp-1")
	if _, _, err := runCLI(t, env, "trigger", "download"); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	out, _, err := runCLI(t, env, "queue", "tasks")
	if err != nil {
		t.Fatalf("queue tasks: %v", err)
	}
	requireContains(t, out, "download")

	out, _, err = runCLI(t, env, "queue", "clean", "--days", "7")
	if err != nil {
		t.Fatalf("queue clean: %v", err)
	}
	requireContains(t, out, "Cleanup scheduled")
}
