package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"genesis/internal/config"
)

// ConfigType declares how a system_config value is validated and decoded.
type ConfigType string

const (
	ConfigString ConfigType = "string"
	ConfigInt    ConfigType = "int"
	ConfigBool   ConfigType = "bool"
)

// Runtime-tunable setting keys. These are seeded from the TOML config on
// first start and polled from the database afterwards, so operators can tune
// a running daemon.
const (
	KeyDiscoveryInterval   = "discovery_interval"
	KeyDownloadTimeout     = "download_timeout"
	KeyConcurrentDownloads = "concurrent_downloads"
	KeyParseBatchSize      = "parse_batch_size"
	KeyCleanupTempFiles    = "cleanup_temp_files"
	KeyMaintenanceMode     = "maintenance_mode"
)

// ConfigEntry is one key/value runtime setting.
type ConfigEntry struct {
	Key         string
	Value       string
	Description string
	Type        ConfigType
	IsSensitive bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Settings is the typed snapshot of all runtime-tunable keys.
type Settings struct {
	DiscoveryInterval   int
	DownloadTimeout     int
	ConcurrentDownloads int
	ParseBatchSize      int
	CleanupTempFiles    bool
	MaintenanceMode     bool
}

// SettingsFromConfig maps the TOML file onto the runtime settings seeded on
// first start.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		DiscoveryInterval:   cfg.Discovery.Interval,
		DownloadTimeout:     cfg.Download.Timeout,
		ConcurrentDownloads: cfg.Download.Concurrency,
		ParseBatchSize:      cfg.Parse.BatchSize,
		CleanupTempFiles:    true,
		MaintenanceMode:     false,
	}
}

func validateConfigValue(typ ConfigType, value string) error {
	switch typ {
	case ConfigString:
		return nil
	case ConfigInt:
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("value %q is not an integer", value)
		}
		return nil
	case ConfigBool:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("value %q is not a boolean", value)
		}
		return nil
	default:
		return fmt.Errorf("unknown config type %q", typ)
	}
}

// SetConfig writes a runtime setting after validating the value against its
// declared type.
func (s *Store) SetConfig(ctx context.Context, key, value string, typ ConfigType, description string) error {
	if key == "" {
		return errors.New("config key is required")
	}
	if err := validateConfigValue(typ, value); err != nil {
		return fmt.Errorf("config %s: %w", key, err)
	}
	now := formatTime(time.Now())
	_, err := s.execWithRetry(
		ensureContext(ctx),
		`INSERT INTO system_config (key, value, description, config_type, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET
            value = excluded.value,
            description = COALESCE(NULLIF(excluded.description, ''), system_config.description),
            config_type = excluded.config_type,
            updated_at = excluded.updated_at`,
		key,
		value,
		nullableString(description),
		typ,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

// GetConfig fetches one runtime setting.
func (s *Store) GetConfig(ctx context.Context, key string) (*ConfigEntry, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT key, value, description, config_type, is_sensitive, created_at, updated_at
         FROM system_config WHERE key = ?`,
		key,
	)
	entry, err := scanConfigEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	return entry, nil
}

// ListConfig returns every runtime setting ordered by key.
func (s *Store) ListConfig(ctx context.Context) ([]*ConfigEntry, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT key, value, description, config_type, is_sensitive, created_at, updated_at
         FROM system_config ORDER BY key`,
	)
	if err != nil {
		return nil, fmt.Errorf("list config: %w", err)
	}
	defer rows.Close()

	var entries []*ConfigEntry
	for rows.Next() {
		entry, err := scanConfigEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SeedSettings inserts default runtime settings without overwriting values an
// operator already changed.
func (s *Store) SeedSettings(ctx context.Context, defaults Settings) error {
	seeds := []struct {
		key   string
		value string
		typ   ConfigType
		desc  string
	}{
		{KeyDiscoveryInterval, strconv.Itoa(defaults.DiscoveryInterval), ConfigInt, "Seconds between discovery runs"},
		{KeyDownloadTimeout, strconv.Itoa(defaults.DownloadTimeout), ConfigInt, "Per-request HTML download timeout in seconds"},
		{KeyConcurrentDownloads, strconv.Itoa(defaults.ConcurrentDownloads), ConfigInt, "Maximum in-flight download tasks"},
		{KeyParseBatchSize, strconv.Itoa(defaults.ParseBatchSize), ConfigInt, "Parse tasks claimed per poll"},
		{KeyCleanupTempFiles, strconv.FormatBool(defaults.CleanupTempFiles), ConfigBool, "Remove temporary files after storage"},
		{KeyMaintenanceMode, strconv.FormatBool(defaults.MaintenanceMode), ConfigBool, "Stop issuing new tasks while acknowledging in-flight ones"},
	}
	now := formatTime(time.Now())
	for _, seed := range seeds {
		if _, err := s.execWithRetry(
			ensureContext(ctx),
			`INSERT INTO system_config (key, value, description, config_type, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?)
             ON CONFLICT(key) DO NOTHING`,
			seed.key,
			seed.value,
			seed.desc,
			seed.typ,
			now,
			now,
		); err != nil {
			return fmt.Errorf("seed config %s: %w", seed.key, err)
		}
	}
	return nil
}

// LoadSettings reads the typed snapshot of runtime settings, falling back to
// the provided defaults for missing or malformed values.
func (s *Store) LoadSettings(ctx context.Context, defaults Settings) (Settings, error) {
	entries, err := s.ListConfig(ctx)
	if err != nil {
		return defaults, err
	}
	settings := defaults
	for _, entry := range entries {
		switch entry.Key {
		case KeyDiscoveryInterval:
			if v, err := strconv.Atoi(entry.Value); err == nil && v > 0 {
				settings.DiscoveryInterval = v
			}
		case KeyDownloadTimeout:
			if v, err := strconv.Atoi(entry.Value); err == nil && v > 0 {
				settings.DownloadTimeout = v
			}
		case KeyConcurrentDownloads:
			if v, err := strconv.Atoi(entry.Value); err == nil && v > 0 {
				settings.ConcurrentDownloads = v
			}
		case KeyParseBatchSize:
			if v, err := strconv.Atoi(entry.Value); err == nil && v > 0 {
				settings.ParseBatchSize = v
			}
		case KeyCleanupTempFiles:
			if v, err := strconv.ParseBool(entry.Value); err == nil {
				settings.CleanupTempFiles = v
			}
		case KeyMaintenanceMode:
			if v, err := strconv.ParseBool(entry.Value); err == nil {
				settings.MaintenanceMode = v
			}
		}
	}
	return settings, nil
}

func scanConfigEntry(scanner interface{ Scan(dest ...any) error }) (*ConfigEntry, error) {
	var (
		key         string
		value       string
		description sql.NullString
		typ         string
		sensitive   sql.NullInt64
		createdRaw  sql.NullString
		updatedRaw  sql.NullString
	)
	if err := scanner.Scan(&key, &value, &description, &typ, &sensitive, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	entry := &ConfigEntry{
		Key:         key,
		Value:       value,
		Description: description.String,
		Type:        ConfigType(typ),
		IsSensitive: sensitive.Int64 != 0,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		entry.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		entry.UpdatedAt = updated
	}
	return entry, nil
}
