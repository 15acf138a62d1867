package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// Relay delivery modes
const (
	ModeBroadcast = "broadcast"
	ModeMulticast = "multicast"
)

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Relay   RelayConfig   `yaml:"relay"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains TCP chat server configuration
type ServerConfig struct {
	TCPPort     int    `yaml:"tcp_port"`
	BindAddress string `yaml:"bind_address"`
}

// RelayConfig contains UDP datagram relay configuration
type RelayConfig struct {
	UDPPort        int    `yaml:"udp_port"`
	BufferSize     int    `yaml:"buffer_size"`
	Mode           string `yaml:"mode"`            // broadcast or multicast
	MulticastGroup string `yaml:"multicast_group"` // multicast mode only
}

// HTTPConfig contains the monitoring HTTP API configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration that runs without a config file:
// chat on 9999/tcp, relay on 9999/udp in broadcast mode, HTTP API off.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			TCPPort:     9999,
			BindAddress: "0.0.0.0",
		},
		Relay: RelayConfig{
			UDPPort:        9999,
			BufferSize:     10000,
			Mode:           ModeBroadcast,
			MulticastGroup: "228.5.6.7",
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Relay.Validate(); err != nil {
		return fmt.Errorf("relay config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.TCPPort < 1 || s.TCPPort > 65535 {
		return fmt.Errorf("tcp_port must be between 1 and 65535, got %d", s.TCPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	return nil
}

// Validate validates relay configuration
func (r *RelayConfig) Validate() error {
	// Port 1 is excluded so that the multicast destination (udp_port - 1)
	// stays a valid port number.
	if r.UDPPort < 2 || r.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 2 and 65535, got %d", r.UDPPort)
	}

	if r.BufferSize < 512 {
		return fmt.Errorf("buffer_size must be at least 512 bytes, got %d", r.BufferSize)
	}

	if r.Mode != ModeBroadcast && r.Mode != ModeMulticast {
		return fmt.Errorf("mode must be '%s' or '%s', got '%s'", ModeBroadcast, ModeMulticast, r.Mode)
	}

	if r.Mode == ModeMulticast {
		ip := net.ParseIP(r.MulticastGroup)
		if ip == nil {
			return fmt.Errorf("multicast_group is not a valid IP address: '%s'", r.MulticastGroup)
		}
		if !ip.IsMulticast() {
			return fmt.Errorf("multicast_group is not a multicast address: '%s'", r.MulticastGroup)
		}
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// MulticastPort returns the destination port for multicast relay,
// one below the UDP listening port.
func (r *RelayConfig) MulticastPort() int {
	return r.UDPPort - 1
}
