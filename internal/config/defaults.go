package config

// Default values for configuration options. These are "layer 0" of the
// override chain.
const (
	defaultBaseURL         = "https://api3-dev.panono.com"
	defaultMountPrefix     = "Panono"
	defaultPollInterval    = "25s"
	defaultPollMaxAttempts = 0
	defaultWorkers         = 2
	defaultPageSize        = 50
	defaultSettleDelay     = "1500ms"
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
	defaultRequestTimeout  = "0"
)

// DefaultConfig returns a Config populated with all default values.
// It is the starting point for TOML decoding, so unset fields keep defaults.
func DefaultConfig() *Config {
	return &Config{
		Account: AccountConfig{
			BaseURL: defaultBaseURL,
		},
		Paths: PathsConfig{
			StateDir:    DefaultDataDir(),
			MountPrefix: defaultMountPrefix,
		},
		Sync: SyncConfig{
			PollInterval:    defaultPollInterval,
			PollMaxAttempts: defaultPollMaxAttempts,
			Workers:         defaultWorkers,
			PageSize:        defaultPageSize,
			SettleDelay:     defaultSettleDelay,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			RequestTimeout: defaultRequestTimeout,
		},
	}
}
