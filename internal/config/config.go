// Package config implements TOML configuration loading and validation for
// the transfer engine: chunk sizing, retry counts, and accepted media
// types.
package config

// Config is the top-level configuration structure.
type Config struct {
	Transfer TransferConfig `toml:"transfer"`
	Logging  LoggingConfig  `toml:"logging"`
	Network  NetworkConfig  `toml:"network"`
}

// TransferConfig controls chunk sizing and upload strategy selection.
type TransferConfig struct {
	ChunkSize          string   `toml:"chunk_size"`
	ResumableThreshold string   `toml:"resumable_threshold"`
	DefaultRetries     int      `toml:"default_retries"`
	Accept             []string `toml:"accept"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
}
