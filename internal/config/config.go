package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries everything the worker process needs. Values come from the
// environment; an optional YAML file (CONFIG_FILE) can pre-seed them for
// local development, with the environment always winning.
type Config struct {
	DatabaseURL string `yaml:"database_url"`

	PollInterval time.Duration `yaml:"-"`
	HealthPort   int           `yaml:"health_port"`

	CommerceAPIVersion string `yaml:"commerce_api_version"`

	AttributionWindowDays int `yaml:"attribution_window_days"`

	CommerceFreshSchedMinutes int `yaml:"commerce_fresh_sched_minutes"`
	AdsFreshSchedMinutes      int `yaml:"ads_fresh_sched_minutes"`

	CronSecret     string `yaml:"cron_secret"`
	AdminJWTSecret string `yaml:"admin_jwt_secret"`

	AdsJobsEnabled bool `yaml:"ads_jobs_enabled"`

	SweepRunningMinutes int `yaml:"sweep_running_minutes"`

	// IPv4Override forces outbound HTTP dials to this address. Some hosting
	// environments resolve AAAA records they cannot route.
	IPv4Override string `yaml:"ipv4_override"`

	RunMigration bool `yaml:"run_migration"`
}

// Load builds the config from CONFIG_FILE (if set) and the environment.
// DATABASE_URL is the only hard requirement.
func Load() (*Config, error) {
	cfg := &Config{
		HealthPort:                3000,
		CommerceAPIVersion:        "2025-01",
		AttributionWindowDays:     7,
		CommerceFreshSchedMinutes: 60,
		AdsFreshSchedMinutes:      60,
		SweepRunningMinutes:       30,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	pollMs := GetEnvInt("POLL_INTERVAL_MS", 5000)
	if pollMs < 1000 {
		pollMs = 1000
	}
	cfg.PollInterval = time.Duration(pollMs) * time.Millisecond

	cfg.HealthPort = GetEnvInt("HEALTH_PORT", cfg.HealthPort)

	if v := os.Getenv("COMMERCE_API_VERSION"); v != "" {
		cfg.CommerceAPIVersion = v
	}

	cfg.AttributionWindowDays = GetEnvInt("ADS_ATTRIBUTION_WINDOW_DAYS", cfg.AttributionWindowDays)
	if cfg.AttributionWindowDays < 1 {
		cfg.AttributionWindowDays = 1
	}
	if cfg.AttributionWindowDays > 90 {
		cfg.AttributionWindowDays = 90
	}

	// FRESH_SCHED_MINUTES sets both sources; the per-source keys override it.
	if base := GetEnvInt("FRESH_SCHED_MINUTES", 0); base > 0 {
		cfg.CommerceFreshSchedMinutes = base
		cfg.AdsFreshSchedMinutes = base
	}
	cfg.CommerceFreshSchedMinutes = GetEnvInt("COMMERCE_FRESH_SCHED_MINUTES", cfg.CommerceFreshSchedMinutes)
	cfg.AdsFreshSchedMinutes = GetEnvInt("ADS_FRESH_SCHED_MINUTES", cfg.AdsFreshSchedMinutes)
	if cfg.CommerceFreshSchedMinutes < 5 {
		cfg.CommerceFreshSchedMinutes = 5
	}
	if cfg.AdsFreshSchedMinutes < 5 {
		cfg.AdsFreshSchedMinutes = 5
	}

	if v := os.Getenv("CRON_SECRET"); v != "" {
		cfg.CronSecret = v
	}
	if v := os.Getenv("ADMIN_JWT_SECRET"); v != "" {
		cfg.AdminJWTSecret = v
	}
	if v := os.Getenv("ADS_JOBS_ENABLED"); v != "" {
		cfg.AdsJobsEnabled = GetEnvBool("ADS_JOBS_ENABLED", false)
	}

	cfg.SweepRunningMinutes = GetEnvInt("SWEEP_RUNNING_MINUTES", cfg.SweepRunningMinutes)
	if cfg.SweepRunningMinutes < 5 {
		cfg.SweepRunningMinutes = 5
	}

	if v := strings.TrimSpace(os.Getenv("IPV4_OVERRIDE")); v != "" {
		cfg.IPv4Override = v
	}
	cfg.RunMigration = GetEnvBool("RUN_MIGRATION", cfg.RunMigration)

	return cfg, nil
}

// GetEnvInt parses an int env var, falling back on empty or malformed values.
func GetEnvInt(key string, defaultVal int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			return val
		}
	}
	return defaultVal
}

// GetEnvBool parses a boolean env var ("true"/"1"/"yes" are true).
func GetEnvBool(key string, defaultVal bool) bool {
	valStr := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if valStr == "" {
		return defaultVal
	}
	switch valStr {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return defaultVal
}
