package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production"
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	Queue       QueueConfig   `toml:"queue"`
	Webhook     WebhookConfig `toml:"webhook"`
	Logging     LoggingConfig `toml:"logging"`
	LLM         LLMConfig     `toml:"llm"`
	ETF         ETFConfig     `toml:"etf"`
	Recovery    RecoveryConfig `toml:"recovery"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger     BadgerConfig     `toml:"badger"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// FilesystemConfig holds the on-disk locations for uploaded workbooks and
// the per-sheet files split out of them.
type FilesystemConfig struct {
	Uploads string `toml:"uploads"`
	Sheets  string `toml:"sheets"`
}

// QueueConfig controls the background job scheduler.
type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g. "5s" - how often the scheduler polls for pending jobs
	ErrorBackoff      string `toml:"error_backoff"`      // e.g. "10s" - sleep after a scheduler iteration error
	MaxConcurrentJobs int    `toml:"max_concurrent_jobs"` // Hard cap on simultaneously running jobs
}

// WebhookConfig controls completion notification delivery.
type WebhookConfig struct {
	Timeout string `toml:"timeout"` // e.g. "30s" - per-delivery HTTP timeout
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// LLMConfig configures the LLM-based sheet extraction providers.
type LLMConfig struct {
	DefaultParseMethod string       `toml:"default_parse_method"` // "manual", "claude" or "gemini"
	RequestsPerMinute  int          `toml:"requests_per_minute"`  // Rate limit across all LLM calls
	HeaderMapPath      string       `toml:"header_map_path"`      // YAML column synonym map for the manual parser
	Claude             ClaudeConfig `toml:"claude"`
	Gemini             GeminiConfig `toml:"gemini"`
}

type ClaudeConfig struct {
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`
	Timeout   string `toml:"timeout"`
	MaxTokens int    `toml:"max_tokens"`
}

type GeminiConfig struct {
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
	Timeout string `toml:"timeout"`
}

// ETFConfig configures the ETF holdings fetcher and its cache policy.
type ETFConfig struct {
	APIBaseURL      string `toml:"api_base_url"`
	APIKey          string `toml:"api_key"`
	CacheExpiryDays int    `toml:"cache_expiry_days"` // Refresh holdings older than this
}

// RecoveryConfig controls the periodic stuck-job sweep.
type RecoveryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // Cron schedule format
	Action   string `toml:"action"`   // "reset" or "fail"
}

// DefaultConfig returns the configuration defaults applied before any file
// or environment override.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/folio.db",
			},
			Filesystem: FilesystemConfig{
				Uploads: "./data/uploads",
				Sheets:  "./data/sheets",
			},
		},
		Queue: QueueConfig{
			PollInterval:      "5s",
			ErrorBackoff:      "10s",
			MaxConcurrentJobs: 5,
		},
		Webhook: WebhookConfig{
			Timeout: "30s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		LLM: LLMConfig{
			DefaultParseMethod: "manual",
			RequestsPerMinute:  30,
			Claude: ClaudeConfig{
				Model:     "claude-sonnet-4-20250514",
				Timeout:   "120s",
				MaxTokens: 8192,
			},
			Gemini: GeminiConfig{
				Model:   "gemini-2.0-flash",
				Timeout: "120s",
			},
		},
		ETF: ETFConfig{
			CacheExpiryDays: 1,
		},
		Recovery: RecoveryConfig{
			Enabled:  true,
			Schedule: "@every 10m",
			Action:   "reset",
		},
	}
}

// LoadFromFiles loads configuration with layered precedence:
// defaults -> file(s) in order -> environment variables.
// Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies FOLIO_* environment variables on top of the
// file-based configuration.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("FOLIO_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("FOLIO_SERVER_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("FOLIO_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("FOLIO_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		config.LLM.Claude.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		config.LLM.Gemini.APIKey = v
	}
	if v := os.Getenv("FOLIO_ETF_API_KEY"); v != "" {
		config.ETF.APIKey = v
	}
}

// ApplyFlagOverrides applies command-line flag values (highest priority).
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Queue.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("queue.max_concurrent_jobs must be positive, got %d", c.Queue.MaxConcurrentJobs)
	}
	if _, err := c.PollInterval(); err != nil {
		return fmt.Errorf("invalid queue.poll_interval: %w", err)
	}
	if _, err := c.ErrorBackoff(); err != nil {
		return fmt.Errorf("invalid queue.error_backoff: %w", err)
	}
	if _, err := c.WebhookTimeout(); err != nil {
		return fmt.Errorf("invalid webhook.timeout: %w", err)
	}
	switch strings.ToLower(c.Recovery.Action) {
	case "reset", "fail":
	default:
		return fmt.Errorf("recovery.action must be \"reset\" or \"fail\", got %q", c.Recovery.Action)
	}
	return nil
}

// PollInterval returns the parsed scheduler poll interval.
func (c *Config) PollInterval() (time.Duration, error) {
	return time.ParseDuration(c.Queue.PollInterval)
}

// ErrorBackoff returns the parsed scheduler error backoff.
func (c *Config) ErrorBackoff() (time.Duration, error) {
	return time.ParseDuration(c.Queue.ErrorBackoff)
}

// WebhookTimeout returns the parsed webhook delivery timeout.
func (c *Config) WebhookTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Webhook.Timeout)
}
