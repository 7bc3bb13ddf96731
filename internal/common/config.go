package common

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the harness configuration for the service under test
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Logging LoggingConfig `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// LoadConfig reads a harness configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 5000
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if len(config.Logging.Output) == 0 {
		config.Logging.Output = []string{"stdout"}
	}

	return &config, nil
}

// BaseURL returns the HTTP base URL for the configured server
func (c *Config) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
}
