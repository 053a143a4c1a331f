package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeSource()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}

	// Artifact directories default to subdirectories of data_dir.
	if strings.TrimSpace(c.Paths.HTMLDir) == "" {
		c.Paths.HTMLDir = filepath.Join(c.Paths.DataDir, "html")
	}
	if c.Paths.HTMLDir, err = expandPath(c.Paths.HTMLDir); err != nil {
		return fmt.Errorf("paths.html_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ContentDir) == "" {
		c.Paths.ContentDir = filepath.Join(c.Paths.DataDir, "content")
	}
	if c.Paths.ContentDir, err = expandPath(c.Paths.ContentDir); err != nil {
		return fmt.Errorf("paths.content_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ImagesDir) == "" {
		c.Paths.ImagesDir = filepath.Join(c.Paths.DataDir, "images")
	}
	if c.Paths.ImagesDir, err = expandPath(c.Paths.ImagesDir); err != nil {
		return fmt.Errorf("paths.images_dir: %w", err)
	}

	if strings.TrimSpace(c.Source.AccountsFile) != "" {
		if c.Source.AccountsFile, err = expandPath(c.Source.AccountsFile); err != nil {
			return fmt.Errorf("source.accounts_file: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeSource() {
	c.Source.BaseURL = strings.TrimRight(strings.TrimSpace(c.Source.BaseURL), "/")
	if c.Source.RequestTimeout <= 0 {
		c.Source.RequestTimeout = defaultSourceTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
