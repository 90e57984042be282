package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultMaxCapacity is the default dynamic-table capacity bound (4KB)
	DefaultMaxCapacity = 4096

	// DefaultBlockedStreams is the default blocked-streams limit
	DefaultBlockedStreams = 16

	// DefaultRelayAddress is the default listen address for the relay
	DefaultRelayAddress = "localhost:9443"
)

// Config is the operator-facing configuration for the CLI and relay.
type Config struct {
	// Compression holds the parameters both peers of a session must agree on.
	Compression CompressionConfig `yaml:"compression"`
	// Relay configures the websocket relay server.
	Relay RelayConfig `yaml:"relay"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

type CompressionConfig struct {
	// MaxCapacity bounds the dynamic-table capacity in bytes.
	MaxCapacity uint64 `yaml:"max_capacity"`
	// BlockedStreams bounds concurrently blocked decoder streams.
	BlockedStreams uint16 `yaml:"blocked_streams"`
	// Huffman selects Huffman string coding for planned literals.
	Huffman bool `yaml:"huffman"`
}

type RelayConfig struct {
	Address string `yaml:"address"`
	// Hostnames enables autocert TLS for the given names; empty serves
	// plain websockets.
	Hostnames []string `yaml:"hostnames"`
	CacheDir  string   `yaml:"cache_dir"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Compression: CompressionConfig{
			MaxCapacity:    DefaultMaxCapacity,
			BlockedStreams: DefaultBlockedStreams,
			Huffman:        true,
		},
		Relay: RelayConfig{
			Address: DefaultRelayAddress,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML config file, filling omitted fields with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the codec cannot honor.
func (c *Config) Validate() error {
	if c.Compression.MaxCapacity > 1<<30 {
		return fmt.Errorf("max_capacity %d is unreasonably large", c.Compression.MaxCapacity)
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	if c.Relay.Address == "" {
		return fmt.Errorf("relay address must not be empty")
	}
	return nil
}
