package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"genesis/internal/daemon"
	"genesis/internal/pipeline"
	"genesis/internal/store"
	"genesis/internal/taskqueue"
	"genesis/internal/testsupport"
	"genesis/internal/workers"
)

type cliTestEnv struct {
	store  *store.Store
	daemon *daemon.Daemon
	api    string
}

// startTestDaemon runs a real daemon with its HTTP API on an ephemeral port so
// commands exercise the same wire surface they use in production.
func startTestDaemon(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	q := taskqueue.New(st, cfg.Queue, nil)
	coord := pipeline.New(st, q, cfg, nil)
	pool := workers.NewPool(q, coord, st, cfg, nil,
		workers.NewDownload(coord, cfg, nil),
		workers.NewParse(coord, st, cfg, nil),
		workers.NewStorage(coord, cfg, nil),
	)
	d, err := daemon.New(cfg, st, q, coord, nil, pool, nil, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)

	addr := d.APIAddr()
	if addr == "" {
		t.Fatal("expected api address after start")
	}
	return &cliTestEnv{store: st, daemon: d, api: "http://" + addr}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--api", env.api}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// failItem walks a pending item into a download failure so failure-facing
// commands have something to act on.
func failItem(t *testing.T, env *cliTestEnv, id, message string) {
	t.Helper()
	ctx := context.Background()
	if ok, err := env.store.MarkProcessing(ctx, id, store.StageDownload); err != nil || !ok {
		t.Fatalf("MarkProcessing(%s): ok=%v err=%v", id, ok, err)
	}
	if ok, err := env.store.MarkStageFailed(ctx, id, store.StageDownload, message); err != nil || !ok {
		t.Fatalf("MarkStageFailed(%s): ok=%v err=%v", id, ok, err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
