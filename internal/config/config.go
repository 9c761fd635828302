package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the fully processed application configuration.
type Config struct {
	WorkingDir string
	LogLevel   string

	// Playback engine
	SampleRate    float64
	PreloadMargin float64 // seconds
	TickInterval  time.Duration
	Lookahead     time.Duration

	// Buffer acquisition
	LoaderWorkers    int
	LoadTimeout      time.Duration
	EvictionInterval time.Duration

	// HTTP source reader
	UserAgent   string
	HTTPRetries int
	HTTPTimeout time.Duration

	Redis RedisConfig

	ListenAddr string
}

// RedisConfig configures the optional Redis read-through cache for source files.
// An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// rawConfig maps directly to the YAML file. Durations are kept as strings
// until processing.
type rawConfig struct {
	WorkingDir    string   `yaml:"working_dir"`
	LogLevel      string   `yaml:"log_level"`
	SampleRate    float64  `yaml:"sample_rate"`
	PreloadMargin *float64 `yaml:"preload_margin"`
	TickInterval  string   `yaml:"tick_interval"`
	Lookahead     string   `yaml:"lookahead"`

	Loader struct {
		Workers        int    `yaml:"workers"`
		Timeout        string `yaml:"timeout"`
		EvictionPeriod string `yaml:"eviction_interval"`
	} `yaml:"loader"`

	HTTP struct {
		UserAgent string `yaml:"user_agent"`
		Retries   int    `yaml:"retries"`
		Timeout   string `yaml:"timeout"`
		Listen    string `yaml:"listen"`
	} `yaml:"http"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		WorkingDir:       ".",
		LogLevel:         "info",
		SampleRate:       44100,
		PreloadMargin:    5,
		TickInterval:     50 * time.Millisecond,
		Lookahead:        200 * time.Millisecond,
		LoaderWorkers:    4,
		LoadTimeout:      30 * time.Second,
		EvictionInterval: 10 * time.Second,
		UserAgent:        "segclip/1.0",
		HTTPRetries:      3,
		HTTPTimeout:      5 * time.Second,
		Redis: RedisConfig{
			TTL: time.Hour,
		},
		ListenAddr: ":8080",
	}
}

// LoadConfig reads and parses the configuration file from the given path.
// Fields missing from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}
	return Parse(data)
}

// Parse processes YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	cfg := Default()
	if raw.WorkingDir != "" {
		cfg.WorkingDir = raw.WorkingDir
	}
	if raw.LogLevel != "" {
		cfg.LogLevel = raw.LogLevel
	}
	if raw.SampleRate != 0 {
		if raw.SampleRate < 0 {
			return nil, fmt.Errorf("invalid sample_rate %v: must be positive", raw.SampleRate)
		}
		cfg.SampleRate = raw.SampleRate
	}
	if raw.PreloadMargin != nil {
		if *raw.PreloadMargin < 0 {
			return nil, fmt.Errorf("invalid preload_margin %v: must not be negative", *raw.PreloadMargin)
		}
		cfg.PreloadMargin = *raw.PreloadMargin
	}
	if raw.Loader.Workers < 0 {
		return nil, fmt.Errorf("invalid loader.workers %d", raw.Loader.Workers)
	}
	if raw.Loader.Workers > 0 {
		cfg.LoaderWorkers = raw.Loader.Workers
	}
	if raw.HTTP.UserAgent != "" {
		cfg.UserAgent = raw.HTTP.UserAgent
	}
	if raw.HTTP.Retries > 0 {
		cfg.HTTPRetries = raw.HTTP.Retries
	}
	if raw.HTTP.Listen != "" {
		cfg.ListenAddr = raw.HTTP.Listen
	}
	cfg.Redis.Addr = raw.Redis.Addr
	cfg.Redis.Password = raw.Redis.Password
	cfg.Redis.DB = raw.Redis.DB

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"tick_interval", raw.TickInterval, &cfg.TickInterval},
		{"lookahead", raw.Lookahead, &cfg.Lookahead},
		{"loader.timeout", raw.Loader.Timeout, &cfg.LoadTimeout},
		{"loader.eviction_interval", raw.Loader.EvictionPeriod, &cfg.EvictionInterval},
		{"http.timeout", raw.HTTP.Timeout, &cfg.HTTPTimeout},
		{"redis.ttl", raw.Redis.TTL, &cfg.Redis.TTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s '%s': %w", d.name, d.raw, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("invalid %s '%s': must be positive", d.name, d.raw)
		}
		*d.dst = parsed
	}

	return cfg, nil
}
