// Package config loads the service configuration from TOML.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

//go:embed default.toml
var defaultConf []byte

// ErrInvalid is returned when a loaded configuration fails validation.
var ErrInvalid = errors.New("invalid config")

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
	Resolver ResolverConfig `toml:"resolver"`
	Cache    CacheConfig    `toml:"cache"`
	Preload  PreloadConfig  `toml:"preload"`
	MPD      MPDConfig      `toml:"mpd"`
}

// ServerConfig contains HTTP and Socket.io settings.
type ServerConfig struct {
	Port            int           `toml:"port"`
	StaticDir       string        `toml:"static_dir"`
	BroadcastWindow time.Duration `toml:"broadcast_window"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Debug bool `toml:"debug"`
}

// ResolverConfig points at the preview resolution service.
type ResolverConfig struct {
	BaseURL           string        `toml:"base_url"`
	UserAgent         string        `toml:"user_agent"`
	Timeout           time.Duration `toml:"timeout"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
}

// CacheConfig tunes the preview cache and its durable store.
type CacheConfig struct {
	DBPath             string        `toml:"db_path"`
	Namespace          string        `toml:"namespace"`
	SuccessTTL         time.Duration `toml:"success_ttl"`
	FailureTTL         time.Duration `toml:"failure_ttl"`
	Timeout            time.Duration `toml:"timeout"`
	MaxStorageItems    int           `toml:"max_storage_items"`
	LowPriorityLimit   int           `toml:"low_priority_limit"`
	LowPrioritySpacing time.Duration `toml:"low_priority_spacing"`
}

// PreloadConfig tunes the audio buffer preloader.
type PreloadConfig struct {
	Enabled     bool          `toml:"enabled"`
	MaxBuffers  int           `toml:"max_buffers"`
	Concurrency int           `toml:"concurrency"`
	Timeout     time.Duration `toml:"timeout"`
	MaxBytes    int64         `toml:"max_bytes"`
	Ahead       int           `toml:"ahead"`
}

// MPDConfig contains the MPD output connection.
type MPDConfig struct {
	Enabled  bool   `toml:"enabled"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Password string `toml:"password"`
}

// Addr returns host:port.
func (c MPDConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultConfig returns the configuration embedded in the binary.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(defaultConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// LoadConfig reads path over the defaults, so a file only needs the keys it
// changes. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}

	md, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	for _, key := range md.Undecoded() {
		log.Warn().Str("key", key.String()).Str("path", path).Msg("Unknown config key")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port must be between 1 and 65535")
	check(c.Resolver.BaseURL != "", "resolver.base_url is required")
	check(c.Resolver.Timeout > 0, "resolver.timeout must be positive")
	check(c.Resolver.RequestsPerSecond >= 0, "resolver.requests_per_second must not be negative")
	check(c.Cache.Namespace != "", "cache.namespace is required")
	check(c.Cache.SuccessTTL > 0, "cache.success_ttl must be positive")
	check(c.Cache.FailureTTL > 0, "cache.failure_ttl must be positive")
	check(c.Cache.MaxStorageItems > 0, "cache.max_storage_items must be positive")
	check(c.Cache.LowPriorityLimit > 0, "cache.low_priority_limit must be positive")
	check(c.Preload.MaxBuffers > 1, "preload.max_buffers must be at least 2")
	check(c.Preload.Concurrency > 0, "preload.concurrency must be positive")
	check(c.Preload.MaxBytes > 0, "preload.max_bytes must be positive")
	check(c.Preload.Ahead >= 0, "preload.ahead must not be negative")
	check(!c.MPD.Enabled || (c.MPD.Port > 0 && c.MPD.Host != ""), "mpd.host and mpd.port are required when mpd is enabled")

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// CreateConfigFile writes the embedded default config to path. It refuses to
// overwrite an existing file.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, defaultConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
