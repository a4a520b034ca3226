package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"rentsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Logging      LoggingConfig      `yaml:"logging"`
	Storage      StorageConfig      `yaml:"storage"`
	Redis        RedisConfig        `yaml:"redis"`
	Sync         SyncConfig         `yaml:"sync"`
	Reachability ReachabilityConfig `yaml:"reachability"`
	Remote       RemoteConfig       `yaml:"remote"`
	API          APIConfig          `yaml:"api"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
	// Components maps a component name to its own level, e.g. syncengine: debug.
	Components map[string]string `yaml:"components"`
}

const (
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

type StorageConfig struct {
	Driver     string       `yaml:"driver"`
	SQLitePath string       `yaml:"sqlite_path"`
	Backup     BackupConfig `yaml:"backup"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type SyncConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	StatusInterval  time.Duration `yaml:"status_interval"`
	DeadLetterLimit int           `yaml:"dead_letter_limit"`
}

const (
	ReachabilityManual = "manual"
	ReachabilityProbe  = "probe"
)

type ReachabilityConfig struct {
	Mode          string        `yaml:"mode"`
	ProbeURL      string        `yaml:"probe_url"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	InitialOnline bool          `yaml:"initial_online"`
}

type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

// Load reads the YAML config at configPath, expanding ${VAR} references from
// the environment and an optional .env file.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for sqlite driver")
		}
	case StorageRedis:
		if c.Redis.Address == "" {
			return errors.New("redis.address is required for redis driver")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Storage.Backup.Enabled {
		if c.Storage.Driver != StorageSQLite {
			return errors.New("storage.backup is only supported for the sqlite driver")
		}
		if c.Storage.Backup.StoragePath == "" {
			return errors.New("storage.backup.storage_path is required when backups are enabled")
		}
	}

	switch c.Reachability.Mode {
	case ReachabilityManual:
	case ReachabilityProbe:
		if c.Reachability.ProbeURL == "" {
			return errors.New("reachability.probe_url is required for probe mode")
		}
	default:
		return fmt.Errorf("unknown reachability mode %q", c.Reachability.Mode)
	}

	if c.Remote.BaseURL == "" {
		return errors.New("remote.base_url is required")
	}
	if _, err := url.ParseRequestURI(c.Remote.BaseURL); err != nil {
		return fmt.Errorf("remote.base_url: %w", err)
	}

	if c.Sync.MaxRetries < 0 {
		return errors.New("sync.max_retries must not be negative")
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("api key '%s' is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for '%s'", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "rentsync"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageSQLite
	}
	if c.Storage.Driver == StorageSQLite && c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/rentsync.db"
	}
	if c.Storage.Backup.Interval == 0 {
		c.Storage.Backup.Interval = 24 * time.Hour
	}

	// Sync defaults
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = models.DefaultMaxRetries
	}
	if c.Sync.CallTimeout == 0 {
		c.Sync.CallTimeout = models.DefaultCallTimeout
	}
	if c.Sync.StatusInterval == 0 {
		c.Sync.StatusInterval = models.DefaultStatusInterval
	}
	if c.Sync.DeadLetterLimit == 0 {
		c.Sync.DeadLetterLimit = models.DefaultDeadLetterLimit
	}

	if c.Reachability.Mode == "" {
		c.Reachability.Mode = ReachabilityManual
	}
	if c.Reachability.ProbeInterval == 0 {
		c.Reachability.ProbeInterval = 10 * time.Second
	}
	if c.Reachability.ProbeTimeout == 0 {
		c.Reachability.ProbeTimeout = 3 * time.Second
	}

	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = 15 * time.Second
	}
	if c.Remote.Burst == 0 {
		c.Remote.Burst = 1
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}
