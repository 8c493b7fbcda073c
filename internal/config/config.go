package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"scriptoria/internal/archive"
	"scriptoria/internal/generate"
	"scriptoria/internal/store"
)

const (
	DefaultAddr      = "127.0.0.1:5000"
	DefaultTimeout   = 60 * time.Second
	DefaultRateRPS   = 5
	DefaultRateBurst = 10
)

// Config is the resolved process configuration. Precedence is flag > environment > file >
// default; flags are applied by the CLI after Load.
type Config struct {
	Addr        string       `yaml:"addr,omitempty"`
	HistoryPath string       `yaml:"history_path,omitempty"`
	ArchivePath *string      `yaml:"archive_path,omitempty"`
	CacheSize   int          `yaml:"cache_size,omitempty"`
	OpenAI      OpenAIConfig `yaml:"openai,omitempty"`
	RateLimit   RateLimit    `yaml:"rate_limit,omitempty"`
	Log         LogConfig    `yaml:"log,omitempty"`
}

type OpenAIConfig struct {
	APIKey  string        `yaml:"api_key,omitempty"`
	BaseURL string        `yaml:"base_url,omitempty"`
	Model   string        `yaml:"model,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

type RateLimit struct {
	RPS   *float64 `yaml:"rps,omitempty"`
	Burst int      `yaml:"burst,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// DefaultPath is ~/.scriptoria/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".scriptoria", "config.yaml"), nil
}

// Load reads the YAML file at path (a missing file is fine), then applies environment overrides
// and defaults. An empty path means SCRIPTORIA_CONFIG, then DefaultPath.
func Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	explicit := path != ""
	if path == "" {
		path = strings.TrimSpace(os.Getenv("SCRIPTORIA_CONFIG"))
		explicit = path != ""
	}
	if path == "" {
		if p, err := DefaultPath(); err == nil {
			path = p
		}
	}

	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			if explicit {
				return nil, fmt.Errorf("config: %s: %w", path, err)
			}
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := envTrim("SCRIPTORIA_ADDR"); v != "" {
		c.Addr = v
	}
	if v := envTrim("SCRIPTORIA_HISTORY"); v != "" {
		c.HistoryPath = v
	}
	if v, ok := os.LookupEnv("SCRIPTORIA_ARCHIVE"); ok {
		v = strings.TrimSpace(v)
		c.ArchivePath = &v
	}
	if v := envTrim("OPENAI_API_KEY"); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := envTrim("OPENAI_API_BASE"); v != "" {
		c.OpenAI.BaseURL = v
	}
	if v := envTrim("SCRIPTORIA_MODEL"); v != "" {
		c.OpenAI.Model = v
	}
	if v := envTrim("SCRIPTORIA_CACHE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: SCRIPTORIA_CACHE_SIZE: %w", err)
		}
		c.CacheSize = n
	}
	if v := envTrim("SCRIPTORIA_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := envTrim("SCRIPTORIA_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	return nil
}

func (c *Config) applyDefaults() error {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = DefaultAddr
	}
	if strings.TrimSpace(c.HistoryPath) == "" {
		p, err := store.DefaultHistoryPath()
		if err != nil {
			return err
		}
		c.HistoryPath = p
	}
	if c.CacheSize == 0 {
		c.CacheSize = generate.DefaultCacheSize
	}
	if strings.TrimSpace(c.OpenAI.BaseURL) == "" {
		c.OpenAI.BaseURL = generate.DefaultAPIBase
	}
	if strings.TrimSpace(c.OpenAI.Model) == "" {
		c.OpenAI.Model = generate.DefaultModel
	}
	if c.OpenAI.Timeout <= 0 {
		c.OpenAI.Timeout = DefaultTimeout
	}
	if c.RateLimit.RPS == nil {
		rps := float64(DefaultRateRPS)
		c.RateLimit.RPS = &rps
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = DefaultRateBurst
	}
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = "info"
	}
	if strings.TrimSpace(c.Log.Format) == "" {
		c.Log.Format = "text"
	}
	return nil
}

// ResolvedArchivePath returns the archive location, or "" when archiving is disabled (an
// explicitly empty archive_path). Unset means archive.sqlite next to the history file.
func (c *Config) ResolvedArchivePath() string {
	if c.ArchivePath != nil {
		return strings.TrimSpace(*c.ArchivePath)
	}
	return filepath.Join(filepath.Dir(c.HistoryPath), archive.FileName)
}

// RateLimitRPS is the configured limit; zero disables rate limiting.
func (c *Config) RateLimitRPS() float64 {
	if c.RateLimit.RPS == nil {
		return DefaultRateRPS
	}
	return *c.RateLimit.RPS
}

func envTrim(k string) string {
	return strings.TrimSpace(os.Getenv(k))
}
