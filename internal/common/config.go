package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Scraper     ScraperConfig   `toml:"scraper"`
	Pipeline    PipelineConfig  `toml:"pipeline"`
	Source      SourceConfig    `toml:"source"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	MCP         MCPConfig       `toml:"mcp"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
	InMemory       bool   `toml:"in_memory"`        // Run without touching disk (tests, dry runs)
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// ScraperConfig holds the startup values for both scrape phases and the retry policy.
// Runtime changes go through the settings API and are persisted separately.
type ScraperConfig struct {
	AutoStart            bool        `toml:"auto_start"` // Start both phases on boot using persisted settings
	Index                PhaseConfig `toml:"index"`
	Detail               PhaseConfig `toml:"detail"`
	MaxRetries           int         `toml:"max_retries"`
	BaseDelay            string      `toml:"base_delay"`              // First retry backoff, e.g. "5s"
	MaxDelay             string      `toml:"max_delay"`               // Backoff cap, e.g. "5m"
	JitterFraction       float64     `toml:"jitter_fraction"`         // 0.2 = +/-20%
	OtherRetryAttempts   int         `toml:"other_retry_attempts"`    // Attempts for which "other" failures still requeue
	ResetAttemptsOnRetry bool        `toml:"reset_attempts_on_retry"` // Manual retry resets attempts to 0
	GlobalPacing         bool        `toml:"global_pacing"`           // One shared pacing slot per phase; false gives each worker its own
	PollInterval         string      `toml:"poll_interval"`           // Idle worker poll interval
	ShutdownTimeout      string      `toml:"shutdown_timeout"`        // Drain budget for in-flight jobs
	ThroughputWindow     string      `toml:"throughput_window"`       // Sliding window for speed_per_min
	ActivityRetention    int         `toml:"activity_retention"`      // Activity entries kept after trimming
	ActivityTrimSchedule string      `toml:"activity_trim_schedule"`  // Cron format
}

// PhaseConfig configures one scrape phase
type PhaseConfig struct {
	Workers int    `toml:"workers"`
	Delay   string `toml:"delay"`   // Minimum spacing between dispatches on one pacing slot
	Timeout string `toml:"timeout"` // Upper bound on a single fetch
}

type PipelineConfig struct {
	RefreshSchedule string `toml:"refresh_schedule"` // Cron format, empty disables scheduled refresh
	RefreshTimeout  string `toml:"refresh_timeout"`
	HistoryDays     int    `toml:"history_days"` // Default window for history queries
}

// SourceConfig selects and configures the upstream fetch capability
type SourceConfig struct {
	Mode               string  `toml:"mode"` // "http" or "mock"
	BaseURL            string  `toml:"base_url"`
	IndexPath          string  `toml:"index_path"`  // fmt pattern taking the page number
	DetailPath         string  `toml:"detail_path"` // fmt pattern taking the case number
	TotalPath          string  `toml:"total_path"`
	UserAgent          string  `toml:"user_agent"`
	RequestTimeout     string  `toml:"request_timeout"`
	Headless           bool    `toml:"headless"`             // Render pages with chromedp before parsing
	JavaScriptWaitTime string  `toml:"javascript_wait_time"` // Wait after navigation when headless
	MockCasesPerPage   int     `toml:"mock_cases_per_page"`
	MockTotal          int64   `toml:"mock_total"`
	MockFailureRate    float64 `toml:"mock_failure_rate"`
	MockSeed           int64   `toml:"mock_seed"`
}

// WebSocketConfig contains configuration for the live activity feed
type WebSocketConfig struct {
	Enabled          bool   `toml:"enabled"`
	ThrottleInterval string `toml:"throttle_interval"` // Minimum spacing between broadcast job events
}

type MCPConfig struct {
	Enabled bool `toml:"enabled"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Scraper: ScraperConfig{
			AutoStart: false,
			Index: PhaseConfig{
				Workers: 3,
				Delay:   "2s",
				Timeout: "60s",
			},
			Detail: PhaseConfig{
				Workers: 5,
				Delay:   "1s",
				Timeout: "60s",
			},
			MaxRetries:           3,
			BaseDelay:            "5s",
			MaxDelay:             "5m",
			JitterFraction:       0.2,
			OtherRetryAttempts:   1,
			ResetAttemptsOnRetry: false,
			GlobalPacing:         true,
			PollInterval:         "1s",
			ShutdownTimeout:      "30s",
			ThroughputWindow:     "10m",
			ActivityRetention:    5000,
			ActivityTrimSchedule: "*/15 * * * *",
		},
		Pipeline: PipelineConfig{
			RefreshSchedule: "0 */6 * * *",
			RefreshTimeout:  "30s",
			HistoryDays:     30,
		},
		Source: SourceConfig{
			Mode:               "mock",
			IndexPath:          "/cases?page=%d",
			DetailPath:         "/case/%s",
			TotalPath:          "/cases/count",
			UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			RequestTimeout:     "30s",
			Headless:           false,
			JavaScriptWaitTime: "2s",
			MockCasesPerPage:   10,
			MockTotal:          1500000,
			MockFailureRate:    0.1,
			MockSeed:           1,
		},
		WebSocket: WebSocketConfig{
			Enabled:          true,
			ThrottleInterval: "250ms",
		},
		MCP: MCPConfig{
			Enabled: true,
		},
	}
}

// LoadEnvFile loads a dotenv file into the process environment before config resolution.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards by ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("DOCKET_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("DOCKET_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("DOCKET_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("DOCKET_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("DOCKET_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("DOCKET_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Scraper configuration
	if workers := os.Getenv("DOCKET_INDEX_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Scraper.Index.Workers = w
		}
	}
	if workers := os.Getenv("DOCKET_DETAIL_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Scraper.Detail.Workers = w
		}
	}
	if delay := os.Getenv("DOCKET_INDEX_DELAY"); delay != "" {
		config.Scraper.Index.Delay = delay
	}
	if delay := os.Getenv("DOCKET_DETAIL_DELAY"); delay != "" {
		config.Scraper.Detail.Delay = delay
	}
	if maxRetries := os.Getenv("DOCKET_MAX_RETRIES"); maxRetries != "" {
		if m, err := strconv.Atoi(maxRetries); err == nil {
			config.Scraper.MaxRetries = m
		}
	}
	if autoStart := os.Getenv("DOCKET_AUTO_START"); autoStart != "" {
		if b, err := strconv.ParseBool(autoStart); err == nil {
			config.Scraper.AutoStart = b
		}
	}
	if reset := os.Getenv("DOCKET_RESET_ATTEMPTS_ON_RETRY"); reset != "" {
		if b, err := strconv.ParseBool(reset); err == nil {
			config.Scraper.ResetAttemptsOnRetry = b
		}
	}

	// Source configuration
	if mode := os.Getenv("DOCKET_SOURCE_MODE"); mode != "" {
		config.Source.Mode = mode
	}
	if baseURL := os.Getenv("DOCKET_SOURCE_BASE_URL"); baseURL != "" {
		config.Source.BaseURL = baseURL
	}
	if headless := os.Getenv("DOCKET_SOURCE_HEADLESS"); headless != "" {
		if b, err := strconv.ParseBool(headless); err == nil {
			config.Source.Headless = b
		}
	}

	// Pipeline configuration
	if schedule := os.Getenv("DOCKET_REFRESH_SCHEDULE"); schedule != "" {
		config.Pipeline.RefreshSchedule = schedule
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks values that would otherwise fail deep inside the services
func (c *Config) Validate() error {
	if c.Scraper.MaxRetries < 1 {
		return fmt.Errorf("scraper.max_retries must be at least 1, got %d", c.Scraper.MaxRetries)
	}
	if c.Scraper.JitterFraction < 0 || c.Scraper.JitterFraction >= 1 {
		return fmt.Errorf("scraper.jitter_fraction must be in [0, 1), got %v", c.Scraper.JitterFraction)
	}
	for name, value := range map[string]string{
		"scraper.base_delay":          c.Scraper.BaseDelay,
		"scraper.max_delay":           c.Scraper.MaxDelay,
		"scraper.index.delay":         c.Scraper.Index.Delay,
		"scraper.index.timeout":       c.Scraper.Index.Timeout,
		"scraper.detail.delay":        c.Scraper.Detail.Delay,
		"scraper.detail.timeout":      c.Scraper.Detail.Timeout,
		"pipeline.refresh_timeout":    c.Pipeline.RefreshTimeout,
		"source.request_timeout":      c.Source.RequestTimeout,
		"websocket.throttle_interval": c.WebSocket.ThrottleInterval,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", name, value, err)
		}
	}
	if c.Pipeline.RefreshSchedule != "" {
		if err := ValidateSchedule(c.Pipeline.RefreshSchedule); err != nil {
			return fmt.Errorf("pipeline.refresh_schedule: %w", err)
		}
	}
	if c.Scraper.ActivityTrimSchedule != "" {
		if err := ValidateSchedule(c.Scraper.ActivityTrimSchedule); err != nil {
			return fmt.Errorf("scraper.activity_trim_schedule: %w", err)
		}
	}
	switch c.Source.Mode {
	case "mock", "http":
	default:
		return fmt.Errorf("source.mode must be \"mock\" or \"http\", got %q", c.Source.Mode)
	}
	return nil
}

// ValidateSchedule validates a standard five-field cron expression
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// ParseDuration parses a duration string, returning fallback when empty or invalid
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
