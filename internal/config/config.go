package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
)

type Config struct {
	// HTTP Server
	Port            string        `toml:"port"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	// AdminToken guards the on-demand job endpoint, which stays disabled
	// while it is empty.
	AdminToken string `toml:"-"`

	// Database
	DBDriver     string `toml:"db_driver"`
	SQLiteDBPath string `toml:"sqlite_db_path"`
	DatabaseURL  string `toml:"database_url"`

	// AMQP; empty URL selects the in-memory queue
	AMQPURL      string `toml:"amqp_url"`
	AMQPExchange string `toml:"amqp_exchange"`
	AMQPQueue    string `toml:"amqp_queue"`

	// Workers
	Workers       int `toml:"workers"`
	QueueBuffer   int `toml:"queue_buffer"`
	UserRateLimit int `toml:"user_rate_limit"`
	APIRateLimit  int `toml:"api_rate_limit"`

	// Schedules
	RecurringCron     string  `toml:"recurring_cron"`
	BudgetAlertCron   string  `toml:"budget_alert_cron"`
	MonthlyReportCron string  `toml:"monthly_report_cron"`
	Timezone          string  `toml:"timezone"`
	AlertThreshold    float64 `toml:"alert_threshold"`

	// Notifications
	Notifier                 string `toml:"notifier"`
	GmailFrom                string `toml:"gmail_from"`
	GmailOAuthClientFile     string `toml:"gmail_oauth_client_file"`
	GmailOAuthTokenFile      string `toml:"gmail_oauth_token_file"`
	GoogleServiceAccountFile string `toml:"google_service_account_file"`
	GoogleServiceAccountJSON string `toml:"-"`

	// Insights
	GeminiAPIKey string `toml:"-"`
	GeminiModel  string `toml:"gemini_model"`

	// Logging
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:            "8081",
		ShutdownTimeout: 15 * time.Second,

		DBDriver:     "sqlite",
		SQLiteDBPath: "./data/costrologer.db",

		AMQPExchange: "costrologer",
		AMQPQueue:    "recurring_transactions",

		Workers:       4,
		QueueBuffer:   256,
		UserRateLimit: 10,
		APIRateLimit:  60,

		RecurringCron:     "0 0 * * *",
		BudgetAlertCron:   "0 */6 * * *",
		MonthlyReportCron: "0 0 1 * *",
		Timezone:          "UTC",
		AlertThreshold:    80,

		Notifier: "log",

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load builds the configuration from defaults, then the TOML file named by
// CONFIG_FILE (if any), then environment variables.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.AdminToken = getEnv("ADMIN_TOKEN", cfg.AdminToken)

	cfg.DBDriver = getEnv("DB_DRIVER", cfg.DBDriver)
	cfg.SQLiteDBPath = getEnv("SQLITE_DB_PATH", cfg.SQLiteDBPath)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)

	cfg.AMQPURL = getEnv("AMQP_URL", cfg.AMQPURL)
	cfg.AMQPExchange = getEnv("AMQP_EXCHANGE", cfg.AMQPExchange)
	cfg.AMQPQueue = getEnv("AMQP_QUEUE", cfg.AMQPQueue)

	cfg.Workers = getEnvInt("WORKERS", cfg.Workers)
	cfg.QueueBuffer = getEnvInt("QUEUE_BUFFER", cfg.QueueBuffer)
	cfg.UserRateLimit = getEnvInt("USER_RATE_LIMIT", cfg.UserRateLimit)
	cfg.APIRateLimit = getEnvInt("API_RATE_LIMIT", cfg.APIRateLimit)

	cfg.RecurringCron = getEnv("RECURRING_CRON", cfg.RecurringCron)
	cfg.BudgetAlertCron = getEnv("BUDGET_ALERT_CRON", cfg.BudgetAlertCron)
	cfg.MonthlyReportCron = getEnv("MONTHLY_REPORT_CRON", cfg.MonthlyReportCron)
	cfg.Timezone = getEnv("TIMEZONE", cfg.Timezone)
	cfg.AlertThreshold = getEnvFloat("BUDGET_ALERT_THRESHOLD", cfg.AlertThreshold)

	cfg.Notifier = getEnv("NOTIFIER", cfg.Notifier)
	cfg.GmailFrom = getEnv("GMAIL_FROM", cfg.GmailFrom)
	cfg.GmailOAuthClientFile = getEnv("GMAIL_OAUTH_CLIENT_FILE", cfg.GmailOAuthClientFile)
	cfg.GmailOAuthTokenFile = getEnv("GMAIL_OAUTH_TOKEN_FILE", cfg.GmailOAuthTokenFile)
	cfg.GoogleServiceAccountFile = getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", cfg.GoogleServiceAccountFile)
	cfg.GoogleServiceAccountJSON = getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", cfg.GoogleServiceAccountJSON)

	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.GeminiModel = getEnv("GEMINI_MODEL", cfg.GeminiModel)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	return cfg, nil
}

// Location returns the time zone used for calendar arithmetic.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}
	if c.AdminToken != "" && len(c.AdminToken) < 16 {
		errors = append(errors, "admin token must be at least 16 characters")
	}

	// Validate database
	switch c.DBDriver {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite driver")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errors = append(errors, "DATABASE_URL is required when using postgres driver")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid database driver '%s': must be one of [sqlite postgres]", c.DBDriver))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate workers
	if c.Workers < 1 || c.Workers > 64 {
		errors = append(errors, fmt.Sprintf("invalid worker count %d: must be between 1 and 64", c.Workers))
	}
	if c.QueueBuffer < 1 {
		errors = append(errors, fmt.Sprintf("invalid queue buffer %d: must be at least 1", c.QueueBuffer))
	}
	if c.UserRateLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid user rate limit %d: must be at least 1 per minute", c.UserRateLimit))
	}
	if c.APIRateLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid API rate limit %d: must be at least 1 per minute", c.APIRateLimit))
	}

	// Validate schedules
	schedules := []struct{ name, spec string }{
		{"RECURRING_CRON", c.RecurringCron},
		{"BUDGET_ALERT_CRON", c.BudgetAlertCron},
		{"MONTHLY_REPORT_CRON", c.MonthlyReportCron},
	}
	for _, s := range schedules {
		if _, err := cron.ParseStandard(s.spec); err != nil {
			errors = append(errors, fmt.Sprintf("invalid %s '%s': %v", s.name, s.spec, err))
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}
	if c.AlertThreshold <= 0 || c.AlertThreshold > 100 {
		errors = append(errors, fmt.Sprintf("invalid alert threshold %v: must be in (0, 100]", c.AlertThreshold))
	}

	// Validate notifier
	switch c.Notifier {
	case "log":
	case "gmail":
		if c.GmailFrom == "" {
			errors = append(errors, "GMAIL_FROM is required when using gmail notifier")
		}
		hasToken := c.GmailOAuthTokenFile != ""
		hasServiceAccount := c.GoogleServiceAccountFile != "" || c.GoogleServiceAccountJSON != ""
		if !hasToken && !hasServiceAccount {
			errors = append(errors, "either GMAIL_OAUTH_TOKEN_FILE or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for gmail notifier")
		}
		if hasToken && c.GmailOAuthClientFile == "" {
			errors = append(errors, "GMAIL_OAUTH_CLIENT_FILE is required with GMAIL_OAUTH_TOKEN_FILE")
		}
		if hasToken {
			if _, err := os.Stat(c.GmailOAuthTokenFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Gmail OAuth token file does not exist: %s", c.GmailOAuthTokenFile))
			}
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid notifier '%s': must be one of [log gmail]", c.Notifier))
	}

	// Validate logging
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of [debug info warn error]", c.LogLevel))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if c.ShutdownTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid shutdown timeout %v: must be at least 1 second", c.ShutdownTimeout))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
