// Package config loads and persists flit configuration.
//
// Settings come from, in rising priority: built-in defaults, the config
// file (~/.flit/config.yaml by default), and FLIT_* environment
// variables. Credentials written by `flit login` land in the same file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Classifier backends.
const (
	BackendService   = "service"
	BackendAnthropic = "anthropic"
	BackendLocal     = "local"
)

// Config holds all flit settings.
type Config struct {
	DataDir string `mapstructure:"data_dir"`

	API struct {
		BaseURL  string `mapstructure:"base_url"`
		Token    string `mapstructure:"token"`
		UserID   string `mapstructure:"user_id"`
		DeviceID string `mapstructure:"device_id"`
	} `mapstructure:"api"`

	Classifier struct {
		Backend         string `mapstructure:"backend"`
		AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
		AnthropicModel  string `mapstructure:"anthropic_model"`
	} `mapstructure:"classifier"`

	Sync struct {
		Interval           time.Duration `mapstructure:"interval"`
		BatchSize          int           `mapstructure:"batch_size"`
		MaxRetries         int           `mapstructure:"max_retries"`
		BaseDelay          time.Duration `mapstructure:"base_delay"`
		MaxDelay           time.Duration `mapstructure:"max_delay"`
		TrashRetentionDays int           `mapstructure:"trash_retention_days"`
	} `mapstructure:"sync"`

	Inbox struct {
		Enabled bool   `mapstructure:"enabled"`
		Dir     string `mapstructure:"dir"`
	} `mapstructure:"inbox"`

	Events struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"events"`

	Log struct {
		Level      string `mapstructure:"level"`
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
	} `mapstructure:"log"`

	v    *viper.Viper
	path string
}

// DefaultDir returns the flit home directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flit"
	}
	return filepath.Join(home, ".flit")
}

// Load reads configuration. An empty path uses the default location; a
// missing file yields pure defaults plus environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	dir := DefaultDir()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		path = filepath.Join(dir, "config.yaml")
	}

	v.SetEnvPrefix("FLIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, dir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{v: v, path: path}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.API.DeviceID == "" {
		// A stable device id is required for sync; generate and keep one.
		cfg.API.DeviceID = uuid.NewString()
		v.Set("api.device_id", cfg.API.DeviceID)
		_ = cfg.Save()
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, dir string) {
	v.SetDefault("data_dir", dir)
	v.SetDefault("api.base_url", "https://api.flitapp.dev")
	v.SetDefault("classifier.backend", BackendService)
	v.SetDefault("sync.interval", time.Minute)
	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.max_retries", 5)
	v.SetDefault("sync.base_delay", 5*time.Second)
	v.SetDefault("sync.max_delay", 5*time.Minute)
	v.SetDefault("sync.trash_retention_days", 30)
	v.SetDefault("inbox.enabled", false)
	v.SetDefault("inbox.dir", filepath.Join(dir, "inbox"))
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.port", 7878)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", filepath.Join(dir, "flit.log"))
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 30)
}

// DatabasePath returns the capture store location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "flit.db")
}

// SetCredentials records the signed-in account and persists it.
func (c *Config) SetCredentials(token, userID string) error {
	c.API.Token = token
	c.API.UserID = userID
	c.v.Set("api.token", token)
	c.v.Set("api.user_id", userID)
	return c.Save()
}

// ClearCredentials signs the device out.
func (c *Config) ClearCredentials() error {
	return c.SetCredentials("", "")
}

// Save writes the current settings to the config file.
func (c *Config) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := c.v.WriteConfigAs(c.path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// TrashRetention returns the trash window as a duration.
func (c *Config) TrashRetention() time.Duration {
	return time.Duration(c.Sync.TrashRetentionDays) * 24 * time.Hour
}
