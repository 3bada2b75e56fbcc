package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"triton/internal/logging"

	"gopkg.in/yaml.v3"
)

// Config carries every tunable of the server process. Values come from a
// YAML file (optional), then environment variables, then Normalize fills
// defaults. Environment always wins over the file.
type Config struct {
	DatabaseURL      string        `yaml:"database_url"`
	Listen           string        `yaml:"listen"`
	LogLevel         string        `yaml:"log_level"`
	CommandTTL       time.Duration `yaml:"command_ttl"`
	DescentFreshness time.Duration `yaml:"descent_freshness"`
	ExpireSweep      time.Duration `yaml:"expire_sweep"`
	DBPoolSize       int           `yaml:"db_pool_size"`
	AdminReset       bool          `yaml:"admin_reset_enabled"`

	// VehicleTimeout caps vehicle-facing request handling; the firmware
	// retries on its next heartbeat cadence, so failing fast is safe.
	VehicleTimeout time.Duration `yaml:"vehicle_timeout"`

	// NTPPool is the pool queried by the clock checker. Empty disables it.
	NTPPool string `yaml:"ntp_pool"`
}

const (
	defaultListen           = ":8080"
	defaultDatabaseURL      = "sqlite:triton.db"
	defaultCommandTTL       = 3600 * time.Second
	defaultDescentFreshness = 600 * time.Second
	defaultExpireSweep      = 60 * time.Second
	defaultDBPoolSize       = 20
	defaultVehicleTimeout   = 15 * time.Second
	defaultNTPPool          = "pool.ntp.org"
)

// Load reads the optional YAML file at path, applies environment overrides
// and normalizes the result. An empty path skips the file.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return Normalize(cfg)
}

// FromEnv builds a Config from environment variables alone.
func FromEnv() (Config, error) {
	return Load("")
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("NTP_POOL"); v != "" {
		cfg.NTPPool = v
	}
	var err error
	if cfg.CommandTTL, err = envSeconds("COMMAND_TTL_SECONDS", cfg.CommandTTL); err != nil {
		return err
	}
	if cfg.DescentFreshness, err = envSeconds("DESCENT_FRESHNESS_SECONDS", cfg.DescentFreshness); err != nil {
		return err
	}
	if cfg.ExpireSweep, err = envSeconds("EXPIRE_SWEEP_SECONDS", cfg.ExpireSweep); err != nil {
		return err
	}
	if v := os.Getenv("DB_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse DB_POOL_SIZE: %w", err)
		}
		cfg.DBPoolSize = n
	}
	if v := os.Getenv("ADMIN_RESET_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse ADMIN_RESET_ENABLED: %w", err)
		}
		cfg.AdminReset = b
	}
	return nil
}

func envSeconds(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return time.Duration(n) * time.Second, nil
}

// Normalize fills defaults and validates the result.
func Normalize(cfg Config) (Config, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = logging.LevelInfo
	}
	if cfg.CommandTTL <= 0 {
		cfg.CommandTTL = defaultCommandTTL
	}
	if cfg.DescentFreshness <= 0 {
		cfg.DescentFreshness = defaultDescentFreshness
	}
	if cfg.ExpireSweep <= 0 {
		cfg.ExpireSweep = defaultExpireSweep
	}
	if cfg.DBPoolSize <= 0 {
		cfg.DBPoolSize = defaultDBPoolSize
	}
	if cfg.VehicleTimeout <= 0 {
		cfg.VehicleTimeout = defaultVehicleTimeout
	}
	if cfg.NTPPool == "" {
		cfg.NTPPool = defaultNTPPool
	}
	if _, err := SQLitePath(cfg.DatabaseURL); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SQLitePath extracts the filesystem path from a DATABASE_URL. Accepted
// forms: "sqlite:PATH", "sqlite://PATH", or a bare path.
func SQLitePath(databaseURL string) (string, error) {
	u := strings.TrimSpace(databaseURL)
	switch {
	case strings.HasPrefix(u, "sqlite://"):
		u = strings.TrimPrefix(u, "sqlite://")
	case strings.HasPrefix(u, "sqlite:"):
		u = strings.TrimPrefix(u, "sqlite:")
	case strings.Contains(u, "://"):
		return "", fmt.Errorf("unsupported database url %q: only sqlite is built in", databaseURL)
	}
	if u == "" {
		return "", fmt.Errorf("database url %q has no path", databaseURL)
	}
	return u, nil
}
