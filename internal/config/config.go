package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete worker-node configuration
type Config struct {
	Hub     HubConfig     `yaml:"hub"`
	Worker  WorkerConfig  `yaml:"worker"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	App     AppConfig     `yaml:"app"`
}

// HubConfig holds hub connection configuration
type HubConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	Backoff          BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds reconnect backoff settings
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`
}

// WorkerConfig holds worker identity, liveness, and capability settings
type WorkerConfig struct {
	ID                 string             `yaml:"id"`
	HeartbeatInterval  time.Duration      `yaml:"heartbeat_interval"`
	LivenessMultiplier int                `yaml:"liveness_multiplier"`
	ShutdownGrace      time.Duration      `yaml:"shutdown_grace"`
	Capabilities       []CapabilityConfig `yaml:"capabilities"`
}

// CapabilityConfig declares one capability and its concurrency limit
type CapabilityConfig struct {
	Name     string                 `yaml:"name"`
	Slots    int                    `yaml:"slots"`
	Metadata map[string]interface{} `yaml:"metadata"`
}

// ServerConfig holds the local status API server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// WorkerURL builds the hub websocket endpoint for a worker identity
func (h *HubConfig) WorkerURL(workerID string) string {
	return fmt.Sprintf("ws://%s:%d/ws/worker/%s", h.Host, h.Port, workerID)
}

// Validate checks if the configuration is valid. A validation failure is
// fatal at startup, before any connection attempt.
func (c *Config) Validate() error {
	if c.Hub.Host == "" {
		return fmt.Errorf("hub host is required")
	}

	if c.Hub.Port < MinPort || c.Hub.Port > MaxPort {
		return fmt.Errorf("invalid hub port: %d (must be between %d and %d)", c.Hub.Port, MinPort, MaxPort)
	}

	if c.Hub.Backoff.Initial <= 0 {
		return fmt.Errorf("hub backoff initial must be greater than 0")
	}

	if c.Hub.Backoff.Max < c.Hub.Backoff.Initial {
		return fmt.Errorf("hub backoff max must be at least the initial delay")
	}

	if c.Hub.Backoff.Multiplier < 1 {
		return fmt.Errorf("hub backoff multiplier must be at least 1")
	}

	if c.Hub.Backoff.Jitter < 0 || c.Hub.Backoff.Jitter > 1 {
		return fmt.Errorf("hub backoff jitter must be between 0 and 1")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.LivenessMultiplier < 2 {
		return fmt.Errorf("worker liveness_multiplier must be at least 2")
	}

	if c.Worker.ShutdownGrace <= 0 {
		return fmt.Errorf("worker shutdown_grace must be greater than 0")
	}

	if len(c.Worker.Capabilities) == 0 {
		return fmt.Errorf("at least one worker capability is required")
	}

	seen := make(map[string]bool)
	for _, cap := range c.Worker.Capabilities {
		if cap.Name == "" {
			return fmt.Errorf("capability name is required")
		}
		if cap.Slots <= 0 {
			return fmt.Errorf("capability %q: slots must be greater than 0", cap.Name)
		}
		if seen[cap.Name] {
			return fmt.Errorf("capability %q declared more than once", cap.Name)
		}
		seen[cap.Name] = true
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	return nil
}
