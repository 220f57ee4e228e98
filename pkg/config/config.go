package config

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/cuemby/fdfs/pkg/client"
	"github.com/cuemby/fdfs/pkg/log"
	"github.com/cuemby/fdfs/pkg/transport"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk client configuration
type Config struct {
	Trackers        []string          `yaml:"trackers"`
	Timeout         time.Duration     `yaml:"timeout"`
	MaxConns        int               `yaml:"max_conns"`
	ConnectAttempts int               `yaml:"connect_attempts"`
	StorageIdleTTL  time.Duration     `yaml:"storage_idle_ttl"`
	MaxUploadSize   datasize.ByteSize `yaml:"max_upload_size"`

	Log     LogConfig     `yaml:"log"`
	Catalog CatalogConfig `yaml:"catalog"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CatalogConfig locates the local upload catalog. An empty path disables it.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig configures the monitor command
type MetricsConfig struct {
	Addr     string        `yaml:"addr"`
	Interval time.Duration `yaml:"interval"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Trackers:        []string{"127.0.0.1:22122"},
		Timeout:         client.DefaultTimeout,
		MaxConns:        64,
		ConnectAttempts: 10,
		MaxUploadSize:   256 * datasize.MB,
		Log:             LogConfig{Level: "info"},
		Metrics:         MetricsConfig{Addr: ":9464", Interval: 30 * time.Second},
	}
}

// Load reads a YAML file over the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and tracker addresses
func (c *Config) Validate() error {
	if _, err := transport.ParseEndpoints(c.Trackers); err != nil {
		return fmt.Errorf("trackers: %w", err)
	}
	switch {
	case c.Timeout <= 0:
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	case c.MaxConns < 0:
		return fmt.Errorf("max_conns must not be negative, got %d", c.MaxConns)
	case c.ConnectAttempts < 0:
		return fmt.Errorf("connect_attempts must not be negative, got %d", c.ConnectAttempts)
	case c.StorageIdleTTL < 0:
		return fmt.Errorf("storage_idle_ttl must not be negative, got %s", c.StorageIdleTTL)
	case c.Metrics.Interval < 0:
		return fmt.Errorf("metrics.interval must not be negative, got %s", c.Metrics.Interval)
	}
	if log.ParseLevel(c.Log.Level) != log.Level(c.Log.Level) {
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

// ClientConfig converts to the facade configuration
func (c *Config) ClientConfig() (client.Config, error) {
	eps, err := transport.ParseEndpoints(c.Trackers)
	if err != nil {
		return client.Config{}, err
	}
	return client.Config{
		Trackers:        eps,
		Timeout:         c.Timeout,
		MaxConns:        c.MaxConns,
		ConnectAttempts: c.ConnectAttempts,
		StorageIdleTTL:  c.StorageIdleTTL,
		MaxUploadSize:   c.MaxUploadSize,
	}, nil
}

// LoggerConfig converts to the logger configuration
func (c *Config) LoggerConfig() log.Config {
	return log.Config{
		Level:      log.ParseLevel(c.Log.Level),
		JSONOutput: c.Log.JSON,
	}
}
