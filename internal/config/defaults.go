package config

const (
	defaultDataDir           = "~/.local/share/genesis/data"
	defaultLogDir            = "~/.local/share/genesis/logs"
	defaultAPIBind           = "127.0.0.1:7319"
	defaultSourceBaseURL     = "http://localhost:4000"
	defaultSourceTimeout     = 30
	defaultDiscoveryInterval = 300
	defaultDiscoveryBatch    = 100
	defaultDownloadTimeout   = 30
	defaultDownloadWorkers   = 4
	defaultImageTimeout      = 15
	defaultMaxBodyBytes      = 20 << 20
	defaultParseBatchSize    = 10
	defaultMaxRetries        = 3
	defaultBackoffBase       = 30
	defaultBackoffCap        = 1800
	defaultLeaseTimeout      = 300
	defaultQueuePollInterval = 5
	defaultReapInterval      = 60
	defaultCleanupAfterDays  = 7
	defaultStatsInterval     = 300
	defaultStatsLookback     = 3
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Source: Source{
			BaseURL:        defaultSourceBaseURL,
			RequestTimeout: defaultSourceTimeout,
		},
		Discovery: Discovery{
			Interval:  defaultDiscoveryInterval,
			BatchSize: defaultDiscoveryBatch,
		},
		Download: Download{
			Timeout:      defaultDownloadTimeout,
			Concurrency:  defaultDownloadWorkers,
			FetchImages:  true,
			ImageTimeout: defaultImageTimeout,
			MaxBodyBytes: defaultMaxBodyBytes,
		},
		Parse: Parse{
			BatchSize: defaultParseBatchSize,
		},
		Queue: Queue{
			MaxRetries:       defaultMaxRetries,
			BackoffBase:      defaultBackoffBase,
			BackoffCap:       defaultBackoffCap,
			LeaseTimeout:     defaultLeaseTimeout,
			PollInterval:     defaultQueuePollInterval,
			ReapInterval:     defaultReapInterval,
			CleanupAfterDays: defaultCleanupAfterDays,
		},
		Stats: Stats{
			Interval:     defaultStatsInterval,
			LookbackDays: defaultStatsLookback,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
