package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultServerAddress     = ":8090"
	DefaultMaxUploadMB       = 10
	DefaultProvider          = "gemini"
	DefaultLocale            = "tr"
	DefaultInitializeSeconds = 60
	DefaultSendSeconds       = 180
	DefaultRedisTTLMinutes   = 30
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Timeouts    TimeoutConfig             `json:"timeouts" yaml:"timeouts"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`
	APIKey  string `json:"api_key" yaml:"api_key"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" yaml:"server_address"`
	MaxUploadMB   int    `json:"max_upload_mb" yaml:"max_upload_mb"`
	Provider      string `json:"provider" yaml:"provider"`
	Locale        string `json:"locale" yaml:"locale"`
	Debug         bool   `json:"debug" yaml:"debug"`
}

// TimeoutConfig bounds remote calls. Zero takes the default, negative disables the bound.
type TimeoutConfig struct {
	InitializeSeconds int `json:"initialize_seconds" yaml:"initialize_seconds"`
	SendSeconds       int `json:"send_seconds" yaml:"send_seconds"`
}

type RedisConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	Username   string `json:"username" yaml:"username"`
	Password   string `json:"password" yaml:"password"`
	DB         int    `json:"db" yaml:"db"`
	TTLMinutes int    `json:"ttl_minutes" yaml:"ttl_minutes"`
}

// Default returns a configuration usable without any file on disk.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file is not an error; an explicit path must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	cfg.applyDefaults()

	if _, ok := cfg.Providers[cfg.BasicConfig.Provider]; !ok {
		return nil, fmt.Errorf("provider %s not configured", cfg.BasicConfig.Provider)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = DefaultServerAddress
	}
	if c.BasicConfig.MaxUploadMB <= 0 {
		c.BasicConfig.MaxUploadMB = DefaultMaxUploadMB
	}
	if c.BasicConfig.Provider == "" {
		c.BasicConfig.Provider = DefaultProvider
	}
	c.BasicConfig.Provider = strings.ToLower(strings.TrimSpace(c.BasicConfig.Provider))
	if c.BasicConfig.Locale == "" {
		c.BasicConfig.Locale = DefaultLocale
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	if _, ok := c.Providers[c.BasicConfig.Provider]; !ok && c.BasicConfig.Provider == DefaultProvider {
		c.Providers[DefaultProvider] = ProviderConfig{}
	}
	if c.Timeouts.InitializeSeconds == 0 {
		c.Timeouts.InitializeSeconds = DefaultInitializeSeconds
	}
	if c.Timeouts.SendSeconds == 0 {
		c.Timeouts.SendSeconds = DefaultSendSeconds
	}
	if c.Redis.TTLMinutes <= 0 {
		c.Redis.TTLMinutes = DefaultRedisTTLMinutes
	}
}

// ActiveProvider returns the selected provider name and its settings.
func (c *Config) ActiveProvider() (string, ProviderConfig) {
	name := c.BasicConfig.Provider
	return name, c.Providers[name]
}

// MaxUploadBytes converts max_upload_mb into bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.BasicConfig.MaxUploadMB) << 20
}

// InitializeTimeout is the bound on session creation; negative config disables it.
func (c *Config) InitializeTimeout() time.Duration {
	return secondsOrNone(c.Timeouts.InitializeSeconds)
}

// SendTimeout is the bound on a single conversational turn.
func (c *Config) SendTimeout() time.Duration {
	return secondsOrNone(c.Timeouts.SendSeconds)
}

// RedisTTL is the lifetime of cached parse results.
func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.Redis.TTLMinutes) * time.Minute
}

func secondsOrNone(n int) time.Duration {
	if n < 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
