// Package config loads process configuration from the environment and the
// rule file. Nothing is read at import time.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"equity-alerts/internal/markethours"
	"equity-alerts/internal/model"
	"equity-alerts/internal/rule"
)

// ConfigError collects every missing or invalid setting found by Load.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "config: " + strings.Join(e.Problems, "; ")
}

func (e *ConfigError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ConfigError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	LogLevel  string
	RulesFile string
	Profile   string

	// Market data
	DataSource      string // yahoo | alpaca | parquet
	YahooBaseURL    string
	AlpacaAPIKey    string
	AlpacaAPISecret string
	AlpacaFeed      string
	ParquetDir      string
	BreakerFailures int
	BreakerReset    time.Duration

	// Dedup ledger
	LedgerBackend string // memory | redis | sqlite | postgres
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	SQLitePath    string
	DatabaseURL   string

	// Notifications
	Notifiers      []string // log, telegram, webhook, redis
	TelegramToken  string
	TelegramChatID string
	WebhookURL     string
	Charts         bool

	// HTTP API, metrics and stream
	HTTPAddr     string
	APIJWTSecret string

	// Scheduling
	FetchTimeout    time.Duration
	DeliveryTimeout time.Duration
	ScanInterval    time.Duration
	Concurrency     int
}

// Load reads configuration from the environment after loading .env from
// the working directory when one exists.
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom is Load with explicit dotenv files. Missing files are ignored;
// variables already set in the environment win.
func LoadFrom(envFiles ...string) (*Config, error) {
	problems := &ConfigError{}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			problems.add("load %s: %v", f, err)
		}
	}

	cfg := &Config{
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		RulesFile: getEnv("RULES_FILE", "config/rules.yaml"),
		Profile:   getEnv("PROFILE", "intraday"),

		DataSource:      strings.ToLower(getEnv("DATA_SOURCE", "yahoo")),
		YahooBaseURL:    getEnv("YAHOO_BASE_URL", "https://query1.finance.yahoo.com"),
		AlpacaAPIKey:    getEnv("ALPACA_API_KEY", ""),
		AlpacaAPISecret: getEnv("ALPACA_API_SECRET", ""),
		AlpacaFeed:      getEnv("ALPACA_FEED", "iex"),
		ParquetDir:      getEnv("PARQUET_DIR", "data/bars"),
		BreakerFailures: getEnvInt(problems, "BREAKER_FAILURES", 5),
		BreakerReset:    getEnvSeconds(problems, "BREAKER_RESET_SEC", 30),

		LedgerBackend: strings.ToLower(getEnv("LEDGER_BACKEND", "sqlite")),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt(problems, "REDIS_DB", 0),
		RedisPrefix:   getEnv("REDIS_PREFIX", "alerts"),
		SQLitePath:    getEnv("SQLITE_PATH", "data/ledger.db"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		Notifiers:      splitList(getEnv("NOTIFIERS", "log")),
		TelegramToken:  getEnv("TELEGRAM_TOKEN", ""),
		TelegramChatID: getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:     getEnv("WEBHOOK_URL", ""),
		Charts:         getEnvBool(problems, "CHARTS", false),

		HTTPAddr:     getEnv("HTTP_ADDR", ":9090"),
		APIJWTSecret: getEnv("API_JWT_SECRET", ""),

		FetchTimeout:    getEnvSeconds(problems, "FETCH_TIMEOUT_SEC", 15),
		DeliveryTimeout: getEnvSeconds(problems, "DELIVERY_TIMEOUT_SEC", 10),
		ScanInterval:    getEnvSeconds(problems, "SCAN_INTERVAL_SEC", 60),
		Concurrency:     getEnvInt(problems, "CONCURRENCY", 4),
	}
	cfg.validate(problems)

	if err := problems.orNil(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate(problems *ConfigError) {
	switch c.DataSource {
	case "yahoo":
	case "alpaca":
		if c.AlpacaAPIKey == "" || c.AlpacaAPISecret == "" {
			problems.add("DATA_SOURCE=alpaca requires ALPACA_API_KEY and ALPACA_API_SECRET")
		}
	case "parquet":
		if c.ParquetDir == "" {
			problems.add("DATA_SOURCE=parquet requires PARQUET_DIR")
		}
	default:
		problems.add("DATA_SOURCE %q: want yahoo, alpaca or parquet", c.DataSource)
	}

	switch c.LedgerBackend {
	case "memory", "redis":
	case "sqlite":
		if c.SQLitePath == "" {
			problems.add("LEDGER_BACKEND=sqlite requires SQLITE_PATH")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			problems.add("LEDGER_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		problems.add("LEDGER_BACKEND %q: want memory, redis, sqlite or postgres", c.LedgerBackend)
	}

	for _, n := range c.Notifiers {
		switch n {
		case "log":
		case "telegram":
			if c.TelegramToken == "" || c.TelegramChatID == "" {
				problems.add("NOTIFIERS=telegram requires TELEGRAM_TOKEN and TELEGRAM_CHAT_ID")
			}
		case "webhook":
			if c.WebhookURL == "" {
				problems.add("NOTIFIERS=webhook requires WEBHOOK_URL")
			}
		case "redis":
			if c.RedisAddr == "" {
				problems.add("NOTIFIERS=redis requires REDIS_ADDR")
			}
		default:
			problems.add("unknown notifier %q", n)
		}
	}

	if c.Concurrency < 1 {
		problems.add("CONCURRENCY must be at least 1")
	}
	if c.ScanInterval <= 0 {
		problems.add("SCAN_INTERVAL_SEC must be positive")
	}
}

// LoadRules reads the rule file. Failures are reported as *ConfigError.
func LoadRules(path string) (*rule.File, error) {
	f, err := rule.LoadFile(path)
	if err != nil {
		return nil, &ConfigError{Problems: []string{err.Error()}}
	}
	return f, nil
}

// Calendar builds the exchange calendar of a rule file, falling back to
// NYSE hours and the New York zone for unset fields.
func Calendar(ex rule.Exchange) (*markethours.Calendar, error) {
	tz := ex.Timezone
	if tz == "" {
		tz = markethours.DefaultTimezone
	}
	open, close := markethours.DefaultOpen, markethours.DefaultClose
	var err error
	if ex.Open != "" {
		if open, err = model.ParseTimeOfDay(ex.Open); err != nil {
			return nil, &ConfigError{Problems: []string{"exchange open: " + err.Error()}}
		}
	}
	if ex.Close != "" {
		if close, err = model.ParseTimeOfDay(ex.Close); err != nil {
			return nil, &ConfigError{Problems: []string{"exchange close: " + err.Error()}}
		}
	}
	holidays := ex.Holidays
	if holidays == nil {
		holidays = markethours.NYSEHolidays2026()
	}
	cal, err := markethours.NewCalendar(tz, open, close, holidays)
	if err != nil {
		return nil, &ConfigError{Problems: []string{"exchange: " + err.Error()}}
	}
	return cal, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(problems *ConfigError, key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		problems.add("%s=%q is not an integer", key, v)
		return fallback
	}
	return n
}

func getEnvBool(problems *ConfigError, key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		problems.add("%s=%q is not a boolean", key, v)
		return fallback
	}
	return b
}

func getEnvSeconds(problems *ConfigError, key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(problems, key, fallback)) * time.Second
}
