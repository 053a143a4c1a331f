package testsupport

import (
	"path/filepath"
	"testing"

	"genesis/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.HTMLDir = filepath.Join(base, "data", "html")
	cfgVal.Paths.ContentDir = filepath.Join(base, "data", "content")
	cfgVal.Paths.ImagesDir = filepath.Join(base, "data", "images")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Source.BaseURL = "http://127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return builder.cfg
}

// WithSourceURL overrides the upstream aggregator base URL on the test config.
func WithSourceURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Source.BaseURL = url
	}
}

// WithQueue overrides the task queue settings on the test config.
func WithQueue(queue config.Queue) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue = queue
	}
}
