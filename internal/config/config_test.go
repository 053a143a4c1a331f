package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"genesis/internal/config"
)

func TestLoadDefaultsAndExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "genesis", "data")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.HTMLDir != filepath.Join(wantData, "html") {
		t.Fatalf("unexpected html dir: %q", cfg.Paths.HTMLDir)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7319" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Queue.MaxRetries != 3 {
		t.Fatalf("unexpected retry budget: %d", cfg.Queue.MaxRetries)
	}
	if cfg.Queue.BackoffBase != 30 || cfg.Queue.BackoffCap != 1800 {
		t.Fatalf("unexpected backoff defaults: base=%d cap=%d", cfg.Queue.BackoffBase, cfg.Queue.BackoffCap)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.HTMLDir, cfg.Paths.ContentDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
	}
}

func TestLoadParsesFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[source]
base_url = "http://aggregator.internal:4000/"

[download]
timeout = 90
concurrency = 8

[queue]
max_retries = 5
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected config at %q to be used, got %q exists=%v", path, resolved, exists)
	}
	if cfg.Source.BaseURL != "http://aggregator.internal:4000" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Source.BaseURL)
	}
	if cfg.Download.Timeout != 90 || cfg.Download.Concurrency != 8 {
		t.Fatalf("unexpected download overrides: %+v", cfg.Download)
	}
	if cfg.Queue.MaxRetries != 5 {
		t.Fatalf("unexpected max retries: %d", cfg.Queue.MaxRetries)
	}
	if cfg.Parse.BatchSize != 10 {
		t.Fatalf("expected parse batch default, got %d", cfg.Parse.BatchSize)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"bad base url", func(c *config.Config) { c.Source.BaseURL = "ftp://nope" }, "source.base_url"},
		{"zero interval", func(c *config.Config) { c.Discovery.Interval = 0 }, "discovery.interval"},
		{"cap below base", func(c *config.Config) { c.Queue.BackoffCap = 1 }, "queue.backoff_cap"},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"zero lease", func(c *config.Config) { c.Queue.LeaseTimeout = 0 }, "queue.lease_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected error writing over existing config")
	}
}
