package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Cryptorouter CryptorouterConfig `yaml:"cryptorouter"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Channels     ChannelsConfig     `yaml:"channels"`
	Source       SourceConfig       `yaml:"source"`
	Processor    ProcessorConfig    `yaml:"processor"`
	Publisher    PublisherConfig    `yaml:"publisher"`
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type CryptorouterConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type MetricsConfig struct {
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
	ReportInterval time.Duration    `yaml:"report_interval"`
	ChannelSize    bool             `yaml:"channel_size"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type ChannelsConfig struct {
	RawBuffer int `yaml:"raw_buffer"`
}

type ProcessorConfig struct {
	MetricsInterval time.Duration `yaml:"metrics_interval"`
}

type PublisherConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type SourceConfig struct {
	Coinbase CoinbaseSourceConfig `yaml:"coinbase"`
	Kraken   KrakenSourceConfig   `yaml:"kraken"`
}

type CoinbaseSourceConfig struct {
	Enabled        bool            `yaml:"enabled"`
	URL            string          `yaml:"url"`
	Channel        string          `yaml:"channel"`
	Pairs          []string        `yaml:"pairs"`
	ReconnectDelay time.Duration   `yaml:"reconnect_delay"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

type KrakenSourceConfig struct {
	Enabled        bool            `yaml:"enabled"`
	URL            string          `yaml:"url"`
	Depth          int             `yaml:"depth"`
	Pairs          []string        `yaml:"pairs"`
	ReconnectDelay time.Duration   `yaml:"reconnect_delay"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type LoggingConfig struct {
	Level         string                 `yaml:"level"`
	Format        string                 `yaml:"format"`
	Output        string                 `yaml:"output"`
	MaxAge        int                    `yaml:"max_age"`
	Fields        map[string]interface{} `yaml:"fields"`
	DashboardName string                 `yaml:"dashboard_name"`
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Metrics: MetricsConfig{
			ReportInterval: 30 * time.Second,
			ChannelSize:    true,
		},
		Processor: ProcessorConfig{
			MetricsInterval: 30 * time.Second,
		},
		Publisher: PublisherConfig{
			Interval: time.Second,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override AWS settings from environment variables if available
	if config.Metrics.CloudWatch.Enabled {
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Metrics.CloudWatch.Region = strings.TrimSpace(v)
		}
	}

	if v := os.Getenv("SERVER_ADDRESS"); v != "" {
		config.Server.Address = strings.TrimSpace(v)
	}

	applySourceDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applySourceDefaults(cfg *Config) {
	if cfg.Source.Coinbase.Channel == "" {
		cfg.Source.Coinbase.Channel = "level2"
	}
	if cfg.Source.Coinbase.ReconnectDelay <= 0 {
		cfg.Source.Coinbase.ReconnectDelay = 5 * time.Second
	}
	if cfg.Source.Kraken.ReconnectDelay <= 0 {
		cfg.Source.Kraken.ReconnectDelay = 5 * time.Second
	}
	if cfg.Source.Kraken.Depth <= 0 {
		cfg.Source.Kraken.Depth = 25
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Cryptorouter.Name == "" {
		return fmt.Errorf("cryptorouter.name is required")
	}

	if cfg.Cryptorouter.Version == "" {
		return fmt.Errorf("cryptorouter.version is required")
	}

	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}

	if cfg.Publisher.Enabled && cfg.Publisher.Interval <= 0 {
		return fmt.Errorf("publisher.interval must be greater than 0 when the publisher is enabled")
	}

	if cfg.Server.Enabled && cfg.Server.Address == "" {
		return fmt.Errorf("server.address is required when the server is enabled")
	}

	if cfg.Source.Coinbase.Enabled {
		if cfg.Source.Coinbase.URL == "" {
			return fmt.Errorf("source.coinbase.url is required when coinbase is enabled")
		}
		if len(cfg.Source.Coinbase.Pairs) == 0 {
			return fmt.Errorf("source.coinbase.pairs must not be empty when coinbase is enabled")
		}
	}

	if cfg.Source.Kraken.Enabled {
		if cfg.Source.Kraken.URL == "" {
			return fmt.Errorf("source.kraken.url is required when kraken is enabled")
		}
		if len(cfg.Source.Kraken.Pairs) == 0 {
			return fmt.Errorf("source.kraken.pairs must not be empty when kraken is enabled")
		}
		if !isValidDepth(cfg.Source.Kraken.Depth) {
			return fmt.Errorf("source.kraken.depth '%d' is invalid", cfg.Source.Kraken.Depth)
		}
	}

	return nil
}

// Kraken only accepts a fixed set of book depths on the v1 websocket API.
var krakenDepths = map[int]bool{10: true, 25: true, 100: true, 500: true, 1000: true}

func isValidDepth(depth int) bool {
	return krakenDepths[depth]
}
