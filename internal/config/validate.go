package config

import (
	"fmt"
	"time"
)

// Validate checks a Config for internally-consistent values after decode.
func Validate(cfg *Config) error {
	chunkSize, err := ParseSize(cfg.Transfer.ChunkSize)
	if err != nil {
		return fmt.Errorf("transfer.chunk_size: %w", err)
	}

	if chunkSize <= 0 {
		return fmt.Errorf("transfer.chunk_size: must be positive, got %q", cfg.Transfer.ChunkSize)
	}

	threshold, err := ParseSize(cfg.Transfer.ResumableThreshold)
	if err != nil {
		return fmt.Errorf("transfer.resumable_threshold: %w", err)
	}

	if threshold < 0 {
		return fmt.Errorf("transfer.resumable_threshold: must be non-negative, got %q", cfg.Transfer.ResumableThreshold)
	}

	if cfg.Transfer.DefaultRetries < 0 {
		return fmt.Errorf("transfer.default_retries: must be non-negative, got %d", cfg.Transfer.DefaultRetries)
	}

	if len(cfg.Transfer.Accept) == 0 {
		return fmt.Errorf("transfer.accept: must list at least one MIME range")
	}

	if _, err := time.ParseDuration(cfg.Network.ConnectTimeout); err != nil {
		return fmt.Errorf("network.connect_timeout: %w", err)
	}

	if _, err := time.ParseDuration(cfg.Network.DataTimeout); err != nil {
		return fmt.Errorf("network.data_timeout: %w", err)
	}

	switch cfg.Logging.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("logging.log_format: must be %q or %q, got %q", "text", "json", cfg.Logging.LogFormat)
	}

	return nil
}

// ChunkSizeBytes parses the configured chunk size, which Validate has
// already confirmed is well-formed.
func (c *Config) ChunkSizeBytes() int64 {
	n, _ := ParseSize(c.Transfer.ChunkSize)
	return n
}

// ResumableThresholdBytes parses the configured resumable-upload
// threshold, which Validate has already confirmed is well-formed.
func (c *Config) ResumableThresholdBytes() int64 {
	n, _ := ParseSize(c.Transfer.ResumableThreshold)
	return n
}
