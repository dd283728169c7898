package config

const (
	defaultPort              = 8080
	defaultDataPath          = "./data"
	defaultAdminUsername     = "admin"
	defaultAdminPassword     = "admin"
	defaultRequestsPerMinute = 300
	defaultMaxUploadMB       = 10

	defaultTargetLanguage = "en"
	defaultStyle          = "movie"
	defaultMaxEntries     = 20
	defaultMaxLoad        = 4000
	defaultContextSize    = 3
	defaultParallelism    = 2
	defaultMaxAttempts    = 3
	defaultBaseDelayMs    = 1000
	defaultMaxDelaySecs   = 30

	defaultMaxConcurrentTasks = 2
	defaultRetentionMinutes   = 60
	defaultHistoryDays        = 30

	defaultRequestTimeoutSeconds = 120
	defaultBackendKind           = "ollama"
	defaultBackendBaseURL        = "http://localhost:11434"
	defaultBackendModel          = "qwen2.5:7b"
	defaultTemperature           = 0.3

	defaultLogLevel  = "info"
	defaultLogFormat = "console"
)

// Default returns a Config populated with repository defaults
func Default() Config {
	return Config{
		Server: Server{
			Port:              defaultPort,
			DataPath:          defaultDataPath,
			CORSOrigins:       []string{"*"},
			AdminUsername:     defaultAdminUsername,
			AdminPassword:     defaultAdminPassword,
			RequestsPerMinute: defaultRequestsPerMinute,
			MaxUploadMB:       defaultMaxUploadMB,
		},
		Pipeline: Pipeline{
			TargetLanguage:  defaultTargetLanguage,
			Style:           defaultStyle,
			MaxEntries:      defaultMaxEntries,
			MaxLoad:         defaultMaxLoad,
			ContextSize:     defaultContextSize,
			Parallelism:     defaultParallelism,
			MaxAttempts:     defaultMaxAttempts,
			BaseDelayMillis: defaultBaseDelayMs,
			MaxDelaySeconds: defaultMaxDelaySecs,
		},
		Tasks: Tasks{
			MaxConcurrent:        defaultMaxConcurrentTasks,
			RetentionMinutes:     defaultRetentionMinutes,
			HistoryRetentionDays: defaultHistoryDays,
		},
		Backends: Backends{
			RequestTimeoutSeconds: defaultRequestTimeoutSeconds,
			Default: Backend{
				Kind:        defaultBackendKind,
				BaseURL:     defaultBackendBaseURL,
				Model:       defaultBackendModel,
				Temperature: defaultTemperature,
			},
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
