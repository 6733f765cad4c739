// Package config holds lensd's server-wide configuration: defaults via
// struct tags (github.com/mcuadros/go-defaults), optional overrides loaded
// from YAML (gopkg.in/yaml.v3), and the logger constructor every other
// component is handed at startup.
package config

import (
	"fmt"
	"os"
	"time"

	defaults "github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration for the lensd server.
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	DataDir string `yaml:"data_dir" default:"/var/lib/lensd"`

	ShmDir  string `yaml:"shm_dir" default:"/dev/shm"`
	ShmName string `yaml:"shm_name" default:"lensd"`

	SwapThreshold       int `yaml:"swap_threshold" default:"32768"`
	UnloadThresholdSecs int `yaml:"unload_threshold_secs" default:"60"`
	KeepAliveTimeoutSecs int `yaml:"keep_alive_timeout_secs" default:"30"`

	// HTTPBindAddr is consumed only by the (out-of-scope) HTTP layer, but
	// the config object is shared so it's plumbed through here too.
	HTTPBindAddr string `yaml:"http_bind_addr" default:":8080"`
}

// DefaultConfig returns a Config with every field set to its default tag
// value.
func DefaultConfig() *Config {
	c := &Config{}
	defaults.SetDefaults(c)
	return c
}

// Load reads path as YAML over a DefaultConfig, so an override file only
// needs to set the fields it changes.
func Load(path string) (*Config, error) {
	c := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return c, nil
}

// UnloadThreshold is c.UnloadThresholdSecs as a time.Duration.
func (c *Config) UnloadThreshold() time.Duration {
	return time.Duration(c.UnloadThresholdSecs) * time.Second
}

// KeepAliveTimeout is c.KeepAliveTimeoutSecs as a time.Duration.
func (c *Config) KeepAliveTimeout() time.Duration {
	return time.Duration(c.KeepAliveTimeoutSecs) * time.Second
}

// NewLogger creates a logger instance configured per c.LogLevel.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("config: invalid log level %q: %w", c.LogLevel, err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}
