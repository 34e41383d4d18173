package config

const (
	defaultInputDir             = "downloads"
	defaultOutputDir            = "downloads/processed"
	defaultLogDir               = "~/.local/share/voxeliser/logs"
	defaultAPIBind              = "127.0.0.1:7488"
	defaultAPIBaseURL           = "https://voxelise-api.mattbuckley.org"
	defaultVoxeliseBinary       = "./voxelise"
	defaultDimension            = 100
	defaultPollInterval         = 1
	defaultRetryTime            = 1
	defaultMaxUploadAttempts    = 3
	defaultMaxLinkingAttempts   = 5
	defaultNotifyRequestTimeout = 10
	defaultLogFormat            = "auto"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			InputDir:  defaultInputDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
			APIBind:   defaultAPIBind,
		},
		API: API{
			BaseURL: defaultAPIBaseURL,
		},
		Voxelise: Voxelise{
			Binary:    defaultVoxeliseBinary,
			Dimension: defaultDimension,
		},
		Workflow: Workflow{
			PollInterval:       defaultPollInterval,
			RetryTime:          defaultRetryTime,
			MaxUploadAttempts:  defaultMaxUploadAttempts,
			MaxLinkingAttempts: defaultMaxLinkingAttempts,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			JobCompleted:   true,
			JobFailed:      true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
