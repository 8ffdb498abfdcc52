package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissing is returned by Load when a required value is absent.
var ErrMissing = errors.New("missing required env")

const (
	DefaultRemoveBGURL = "https://api.remove.bg/v1.0/removebg"
	DefaultPort        = "8080"
)

type Config struct {
	Port       string
	WebhookURL string

	TelegramBotToken string

	RemoveBGAPIKey string
	RemoveBGURL    string
	RemoveBGSize   string

	MaxRetries     int
	RetryBaseDelay time.Duration

	ScratchDir string
	Workers    int

	// DatabaseURL is optional; the request journal is disabled without it.
	DatabaseURL      string
	JournalRetention time.Duration
	SweepSchedule    string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the process environment. A .env file at
// envFile is applied first when it exists; values already set in the
// environment win.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary lookup function.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	get := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}
	getDefault := func(def string, keys ...string) string {
		if v := get(keys...); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Port:             getDefault(DefaultPort, "PORT"),
		WebhookURL:       get("WEBHOOK_URL"),
		TelegramBotToken: get("TELEGRAM_BOT_TOKEN", "tg_token"),
		RemoveBGAPIKey:   get("REMOVE_BG_API_KEY", "rmbg_key"),
		RemoveBGURL:      getDefault(DefaultRemoveBGURL, "REMOVE_BG_URL"),
		RemoveBGSize:     getDefault("auto", "REMOVE_BG_SIZE"),
		ScratchDir:       getDefault(os.TempDir(), "SCRATCH_DIR"),
		DatabaseURL:      get("DATABASE_URL"),
		SweepSchedule:    getDefault("@every 1h", "SWEEP_SCHEDULE"),
		LogLevel:         getDefault("info", "LOG_LEVEL"),
		LogFormat:        get("LOG_FORMAT"),
	}

	var missing []string
	if cfg.TelegramBotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if cfg.RemoveBGAPIKey == "" {
		missing = append(missing, "REMOVE_BG_API_KEY")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}

	var err error
	if cfg.MaxRetries, err = intValue(get("MAX_RETRIES"), 5); err != nil {
		return nil, fmt.Errorf("MAX_RETRIES: %w", err)
	}
	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("MAX_RETRIES: must be >= 1, got %d", cfg.MaxRetries)
	}
	if cfg.Workers, err = intValue(get("WORKERS"), 4); err != nil {
		return nil, fmt.Errorf("WORKERS: %w", err)
	}
	if cfg.RetryBaseDelay, err = durationValue(get("RETRY_BASE_DELAY"), time.Second); err != nil {
		return nil, fmt.Errorf("RETRY_BASE_DELAY: %w", err)
	}
	if cfg.JournalRetention, err = durationValue(get("JOURNAL_RETENTION"), 30*24*time.Hour); err != nil {
		return nil, fmt.Errorf("JOURNAL_RETENTION: %w", err)
	}
	return cfg, nil
}

func intValue(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func durationValue(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
