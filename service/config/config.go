package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/kotomo/service/ledger"
	"gopkg.in/yaml.v3"
)

const (
	MinHistoryPageSize = 1
	MaxHistoryPageSize = 2000
)

// Config holds all application configuration.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string `yaml:"server_addr"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"` // "json" or "text"

	// Ledger configuration
	LedgerURL            string        `yaml:"ledger_url"`
	LedgerCanisterID     string        `yaml:"ledger_canister_id"`
	LedgerAPIKey         string        `yaml:"ledger_api_key"`
	LedgerRequestTimeout time.Duration `yaml:"ledger_request_timeout"`

	// Wallet configuration
	WalletPrincipal string `yaml:"wallet_principal"`
	HistoryPageSize int    `yaml:"history_page_size"`

	// NATS configuration; empty disables event publishing.
	NATSURL string `yaml:"nats_url"`

	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error listing every missing or invalid setting.
func Load() (*Config, error) {
	cfg := defaults()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a YAML configuration file, then applies environment
// overrides and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Demo defaults for running against an in-memory ledger.
const (
	DemoLedgerURL  = "memory://"
	DemoCanisterID = "ryjl3-tyaaa-aaaaa-aaaba-cai"
	DemoWallet     = "kw6ia-hibai-bq"
)

// LoadDemo is like Load but fills the ledger and wallet settings with demo
// values, so no environment is required. Environment variables still win.
func LoadDemo() (*Config, error) {
	cfg := defaults()
	cfg.LedgerURL = DemoLedgerURL
	cfg.LedgerCanisterID = DemoCanisterID
	cfg.WalletPrincipal = DemoWallet
	cfg.LogFormat = "text"
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDemo reports whether the ledger URL points at the in-memory ledger.
func (c *Config) IsDemo() bool {
	return c.LedgerURL == DemoLedgerURL
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

func defaults() *Config {
	return &Config{
		ServerAddr:           ":8080",
		LogLevel:             "info",
		LogFormat:            "json",
		LedgerRequestTimeout: ledger.DefaultRequestTimeout,
		HistoryPageSize:      ledger.DefaultHistoryPageSize,
		MetricsEnabled:       true,
	}
}

// applyEnv overrides cfg with any environment variables that are set.
func applyEnv(cfg *Config) error {
	var errs []error

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", cfg.ServerAddr)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", cfg.LogFormat)

	cfg.LedgerURL = getEnvOrDefault("LEDGER_URL", cfg.LedgerURL)
	cfg.LedgerCanisterID = getEnvOrDefault("LEDGER_CANISTER_ID", cfg.LedgerCanisterID)
	cfg.LedgerAPIKey = getEnvOrDefault("LEDGER_API_KEY", cfg.LedgerAPIKey)
	cfg.WalletPrincipal = getEnvOrDefault("WALLET_PRINCIPAL", cfg.WalletPrincipal)
	cfg.NATSURL = getEnvOrDefault("NATS_URL", cfg.NATSURL)

	timeout, err := parseDuration("LEDGER_REQUEST_TIMEOUT", cfg.LedgerRequestTimeout.String())
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.LedgerRequestTimeout = timeout
	}

	pageSize, err := parseInt("HISTORY_PAGE_SIZE", cfg.HistoryPageSize)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.HistoryPageSize = pageSize
	}

	metricsEnabled, err := parseBool("METRICS_ENABLED", cfg.MetricsEnabled)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MetricsEnabled = metricsEnabled
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.LedgerURL == "" {
		errs = append(errs, fmt.Errorf("LEDGER_URL is required"))
	}

	if c.LedgerCanisterID == "" {
		errs = append(errs, fmt.Errorf("LEDGER_CANISTER_ID is required"))
	} else if _, err := ledger.PrincipalFromText(c.LedgerCanisterID); err != nil {
		errs = append(errs, fmt.Errorf("LEDGER_CANISTER_ID: %w", err))
	}

	if c.WalletPrincipal == "" {
		errs = append(errs, fmt.Errorf("WALLET_PRINCIPAL is required"))
	} else if _, err := ledger.PrincipalFromText(c.WalletPrincipal); err != nil {
		errs = append(errs, fmt.Errorf("WALLET_PRINCIPAL: %w", err))
	}

	if c.LedgerRequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("LEDGER_REQUEST_TIMEOUT must be positive"))
	}

	if c.HistoryPageSize < MinHistoryPageSize || c.HistoryPageSize > MaxHistoryPageSize {
		errs = append(errs, fmt.Errorf("HISTORY_PAGE_SIZE must be between %d and %d, got %d",
			MinHistoryPageSize, MaxHistoryPageSize, c.HistoryPageSize))
	}

	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// CanisterID returns the parsed ledger canister id. Call after Validate.
func (c *Config) CanisterID() ledger.Principal {
	p, _ := ledger.PrincipalFromText(c.LedgerCanisterID)
	return p
}

// Wallet returns the parsed wallet principal. Call after Validate.
func (c *Config) Wallet() ledger.Principal {
	p, _ := ledger.PrincipalFromText(c.WalletPrincipal)
	return p
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}
