package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Storage      StorageConfig      `yaml:"storage"`
	Redis        RedisConfig        `yaml:"redis"`
	Remote       RemoteConfig       `yaml:"remote"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Sync         SyncConfig         `yaml:"sync"`
	Cleanup      CleanupConfig      `yaml:"cleanup"`
	Backup       BackupConfig       `yaml:"backup"`
	Notify       NotifyConfig       `yaml:"notify"`
	API          APIConfig          `yaml:"api"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	RedisPrefix string `yaml:"redis_prefix"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type RemoteConfig struct {
	BaseURL   string            `yaml:"base_url"`
	Headers   map[string]string `yaml:"headers"`
	Timeout   time.Duration     `yaml:"timeout"`
	RateLimit RateLimitConfig   `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ConnectivityConfig struct {
	ProbeURL     string        `yaml:"probe_url"`
	Interval     time.Duration `yaml:"interval"`
	Timeout      time.Duration `yaml:"timeout"`
	AssumeOnline bool          `yaml:"assume_online"`
}

// SyncConfig controls the pass lease shared by every process using the store.
type SyncConfig struct {
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

type CleanupConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type NotifyConfig struct {
	Log          bool           `yaml:"log"`
	RedisChannel string         `yaml:"redis_channel"`
	Telegram     TelegramConfig `yaml:"telegram"`
	Timeout      time.Duration  `yaml:"timeout"`
}

type TelegramConfig struct {
	BotToken string  `yaml:"bot_token"`
	ChatID   int64   `yaml:"chat_id"`
	Commands bool    `yaml:"commands"`
	Managers []int64 `yaml:"managers"`
}

type APIConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Port      int             `yaml:"port"`
	Auth      APIAuthConfig   `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
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

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// Load reads .env (if present) and the YAML file at configPath, expanding ${VARS}.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
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
		if c.Storage.Path == "" {
			return errors.New("storage path is required for sqlite driver")
		}
	case StorageRedis:
		if c.Redis.Address == "" {
			return errors.New("redis address is required for redis driver")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage driver: %q", c.Storage.Driver)
	}

	if c.Remote.BaseURL != "" {
		u, err := url.Parse(c.Remote.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("remote base_url must be an absolute url: %q", c.Remote.BaseURL)
		}
	}

	if c.Notify.Telegram.BotToken != "" && c.Notify.Telegram.ChatID == 0 {
		return errors.New("notify.telegram.chat_id is required when bot_token is set")
	}

	if c.Notify.Telegram.Commands && c.Notify.Telegram.BotToken == "" {
		return errors.New("notify.telegram.commands requires bot_token")
	}

	if c.Sync.LeaseTTL > 0 && c.Sync.LeaseTTL <= c.Remote.Timeout {
		return errors.New("sync.lease_ttl must exceed remote.timeout")
	}

	if c.API.Enabled && c.API.Auth.Enabled && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("api auth enabled but no api_keys configured")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "studysync"
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageSQLite
	}
	if c.Storage.RedisPrefix == "" {
		c.Storage.RedisPrefix = "studysync"
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = 15 * time.Second
	}
	if c.Connectivity.Interval == 0 {
		c.Connectivity.Interval = 30 * time.Second
	}
	if c.Connectivity.Timeout == 0 {
		c.Connectivity.Timeout = 5 * time.Second
	}
	if c.Sync.LeaseTTL == 0 {
		c.Sync.LeaseTTL = 2 * time.Minute
	}
	if c.Cleanup.Interval == 0 {
		c.Cleanup.Interval = time.Hour
	}
	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = 10 * time.Second
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
}
