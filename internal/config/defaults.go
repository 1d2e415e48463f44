package config

// Default chunk size and resumable-upload threshold, matching the
// GCS JSON API's documented conventions.
const (
	DefaultChunkSize          = 1 << 20 // 1 MiB
	DefaultResumableThreshold = 5 << 20 // 5 MiB
	DefaultRetries            = 5
)

// DefaultConfig returns a Config populated with built-in defaults. It is
// the baseline for LoadOrDefault and the starting point Load decodes on
// top of.
func DefaultConfig() *Config {
	return &Config{
		Transfer: TransferConfig{
			ChunkSize:          "1MiB",
			ResumableThreshold: "5MiB",
			DefaultRetries:     DefaultRetries,
			Accept:             []string{"*/*"},
		},
		Logging: LoggingConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Network: NetworkConfig{
			ConnectTimeout: "10s",
			DataTimeout:    "60s",
			UserAgent:      "gcsxfer/1",
		},
	}
}
