package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the inbox triage service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	DatabaseURL         string
	BusinessProfilePath string

	AnalysisTimeout time.Duration
	SuggestTimeout  time.Duration

	StorageRetryAttempts int
	StorageRetryBase     time.Duration
	StorageRetryCap      time.Duration

	SummaryBudget   int
	HistoryWindow   int
	SuggestionCount int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "inboxtriage"),
		AllowAnyOrigin:       false,
		DatabaseURL:          stringsTrimSpace("DATABASE_URL"),
		BusinessProfilePath:  stringsTrimSpace("BUSINESS_PROFILE_PATH"),
		ShutdownTimeout:      15 * time.Second,
		AnalysisTimeout:      2 * time.Second,
		SuggestTimeout:       5 * time.Second,
		StorageRetryAttempts: 3,
		StorageRetryBase:     100 * time.Millisecond,
		StorageRetryCap:      2 * time.Second,
		SummaryBudget:        480,
		HistoryWindow:        3,
		SuggestionCount:      3,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AnalysisTimeout, err = durationFromEnv("ANALYSIS_TIMEOUT", cfg.AnalysisTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SuggestTimeout, err = durationFromEnv("SUGGEST_TIMEOUT", cfg.SuggestTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StorageRetryAttempts, err = intFromEnv("STORAGE_RETRY_ATTEMPTS", cfg.StorageRetryAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.StorageRetryBase, err = durationFromEnv("STORAGE_RETRY_BASE", cfg.StorageRetryBase)
	if err != nil {
		return Config{}, err
	}
	cfg.StorageRetryCap, err = durationFromEnv("STORAGE_RETRY_CAP", cfg.StorageRetryCap)
	if err != nil {
		return Config{}, err
	}
	cfg.SummaryBudget, err = intFromEnv("SUMMARY_BUDGET", cfg.SummaryBudget)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryWindow, err = intFromEnv("HISTORY_WINDOW", cfg.HistoryWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.SuggestionCount, err = intFromEnv("SUGGESTION_COUNT", cfg.SuggestionCount)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.AnalysisTimeout < 10*time.Millisecond {
		return Config{}, fmt.Errorf("ANALYSIS_TIMEOUT must be at least 10ms")
	}
	if cfg.StorageRetryAttempts < 1 {
		return Config{}, fmt.Errorf("STORAGE_RETRY_ATTEMPTS must be at least 1")
	}
	if cfg.StorageRetryBase <= 0 || cfg.StorageRetryCap < cfg.StorageRetryBase {
		return Config{}, fmt.Errorf("STORAGE_RETRY_CAP must be >= STORAGE_RETRY_BASE > 0")
	}
	if cfg.SummaryBudget <= 0 {
		return Config{}, fmt.Errorf("SUMMARY_BUDGET must be positive")
	}
	if cfg.HistoryWindow <= 0 {
		return Config{}, fmt.Errorf("HISTORY_WINDOW must be positive")
	}
	if cfg.SuggestionCount <= 0 {
		return Config{}, fmt.Errorf("SUGGESTION_COUNT must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
