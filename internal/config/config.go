package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	HTMLDir    string `toml:"html_dir"`
	ContentDir string `toml:"content_dir"`
	ImagesDir  string `toml:"images_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Source contains configuration for the upstream feed aggregator.
type Source struct {
	BaseURL        string `toml:"base_url"`
	RequestTimeout int    `toml:"request_timeout"`
	AccountsFile   string `toml:"accounts_file"`
}

// Discovery contains configuration for the feed discovery worker.
type Discovery struct {
	Interval  int `toml:"interval"`
	BatchSize int `toml:"batch_size"`
}

// Download contains configuration for the HTML download worker.
type Download struct {
	Timeout      int   `toml:"timeout"`
	Concurrency  int   `toml:"concurrency"`
	FetchImages  bool  `toml:"fetch_images"`
	ImageTimeout int   `toml:"image_timeout"`
	MaxBodyBytes int64 `toml:"max_body_bytes"`
}

// Parse contains configuration for the text extraction worker.
type Parse struct {
	BatchSize int `toml:"batch_size"`
}

// Queue contains retry and lease configuration for the task queue.
type Queue struct {
	MaxRetries       int `toml:"max_retries"`
	BackoffBase      int `toml:"backoff_base"`
	BackoffCap       int `toml:"backoff_cap"`
	LeaseTimeout     int `toml:"lease_timeout"`
	PollInterval     int `toml:"poll_interval"`
	ReapInterval     int `toml:"reap_interval"`
	CleanupAfterDays int `toml:"cleanup_after_days"`
}

// Stats contains configuration for the daily statistics aggregator.
type Stats struct {
	Interval     int `toml:"interval"`
	LookbackDays int `toml:"lookback_days"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Genesis.
//
// Configuration sections by subsystem:
//   - Paths: storage directories and API bind address
//   - Source: upstream feed aggregator connection
//   - Discovery: feed polling cadence and batch sizing
//   - Download: HTML fetch timeouts and concurrency
//   - Parse: text extraction batch sizing
//   - Queue: retry budget, backoff, and claim lease settings
//   - Stats: daily aggregation cadence
//   - Logging: log format and level
//
// Runtime-tunable keys (discovery interval, download timeout, concurrency,
// parse batch size, cleanup, maintenance mode) are seeded from this file into
// the system_config table on first start and polled from there afterwards.
type Config struct {
	Paths     Paths     `toml:"paths"`
	Source    Source    `toml:"source"`
	Discovery Discovery `toml:"discovery"`
	Download  Download  `toml:"download"`
	Parse     Parse     `toml:"parse"`
	Queue     Queue     `toml:"queue"`
	Stats     Stats     `toml:"stats"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/genesis/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("genesis.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.HTMLDir, c.Paths.ContentDir, c.Paths.ImagesDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// WriteSample writes the embedded sample configuration to the given path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
