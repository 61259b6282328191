// Package config loads engine configuration. Environment variables are the
// primary source; an optional YAML file overlays defaults for settings the
// environment does not name.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Mindburn-Labs/verity/pkg/contracts"
)

// Config holds engine configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`

	// StateDir holds resume files, the sqlite database, and local key
	// material.
	StateDir string `yaml:"state_dir"`

	// DatabaseDriver selects the receipt/key store backend: "sqlite" or
	// "postgres".
	DatabaseDriver string `yaml:"database_driver"`
	DatabaseURL    string `yaml:"database_url"`

	// PolicyMode is the startup trust policy mode.
	PolicyMode string `yaml:"policy_mode"`

	// ExpiryWarningDays is how far ahead key expiry warnings fire.
	ExpiryWarningDays int `yaml:"expiry_warning_days"`

	// TransferWindow bounds concurrent chunk fetches per transfer.
	TransferWindow int `yaml:"transfer_window"`

	// FetchSource selects the chunk source backend: "file", "http", "s3",
	// or "gcs".
	FetchSource string `yaml:"fetch_source"`

	// OTLPEndpoint enables telemetry export when non-empty.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Load loads configuration from environment variables, overlaid on the
// defaults. If VERITY_CONFIG names a YAML file, its values apply between the
// defaults and the environment.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("VERITY_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("VERITY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("VERITY_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("VERITY_DB_DRIVER"); v != "" {
		cfg.DatabaseDriver = v
	}
	if v := os.Getenv("VERITY_DB_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("VERITY_POLICY_MODE"); v != "" {
		cfg.PolicyMode = v
	}
	if v := os.Getenv("VERITY_EXPIRY_WARNING_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid VERITY_EXPIRY_WARNING_DAYS %q: %w", v, err)
		}
		cfg.ExpiryWarningDays = n
	}
	if v := os.Getenv("VERITY_TRANSFER_WINDOW"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid VERITY_TRANSFER_WINDOW %q: %w", v, err)
		}
		cfg.TransferWindow = n
	}
	if v := os.Getenv("VERITY_FETCH_SOURCE"); v != "" {
		cfg.FetchSource = v
	}
	if v := os.Getenv("VERITY_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		LogLevel:          "INFO",
		StateDir:          defaultStateDir(),
		DatabaseDriver:    "sqlite",
		PolicyMode:        string(contracts.PolicyStrict),
		ExpiryWarningDays: 30,
		TransferWindow:    4,
		FetchSource:       "file",
	}
}

func defaultStateDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.verity"
	}
	return ".verity"
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch contracts.PolicyMode(c.PolicyMode) {
	case contracts.PolicyStrict, contracts.PolicyWarn, contracts.PolicyBestEffort:
	default:
		return fmt.Errorf("unknown policy mode %q", c.PolicyMode)
	}

	switch c.DatabaseDriver {
	case "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.DatabaseDriver)
	}

	if c.TransferWindow < 1 {
		return fmt.Errorf("transfer_window must be at least 1, got %d", c.TransferWindow)
	}
	if c.ExpiryWarningDays < 0 {
		return fmt.Errorf("expiry_warning_days must not be negative, got %d", c.ExpiryWarningDays)
	}

	return nil
}

// Mode returns the configured policy mode as its typed value.
func (c *Config) Mode() contracts.PolicyMode {
	return contracts.PolicyMode(c.PolicyMode)
}

// ExpiryWarningLead returns the expiry warning window as a duration.
func (c *Config) ExpiryWarningLead() time.Duration {
	return time.Duration(c.ExpiryWarningDays) * 24 * time.Hour
}
