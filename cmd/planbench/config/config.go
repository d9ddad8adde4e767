// Package config provides configuration for the planbench command.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mouradhm/mongo-planbench/pkg/models"
)

// Config represents the command configuration.
type Config struct {
	URI            string        `yaml:"uri" json:"uri"`
	Database       string        `yaml:"database" json:"database"`
	LogLevel       string        `yaml:"log_level" json:"log_level"`
	LogFormat      string        `yaml:"log_format" json:"log_format"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	QueryTimeout   time.Duration `yaml:"query_timeout" json:"query_timeout"`
	CleanupTimeout time.Duration `yaml:"cleanup_timeout" json:"cleanup_timeout"`
	Workers        int           `yaml:"workers" json:"workers"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Pushgateway string `yaml:"pushgateway" json:"pushgateway"`
	JobName     string `yaml:"job_name" json:"job_name"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		URI:            "mongodb://localhost:27017",
		Database:       "school",
		LogLevel:       "info",
		LogFormat:      "console",
		ConnectTimeout: 10 * time.Second,
		QueryTimeout:   5 * time.Minute,
		CleanupTimeout: 30 * time.Second,
		Workers:        3,
		Metrics: MetricsConfig{
			JobName: "planbench",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("uri is required")
	}
	if !strings.HasPrefix(c.URI, "mongodb://") && !strings.HasPrefix(c.URI, "mongodb+srv://") {
		return fmt.Errorf("uri must use the mongodb:// or mongodb+srv:// scheme")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.LogFormat)
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive")
	}
	if c.CleanupTimeout <= 0 {
		return fmt.Errorf("cleanup timeout must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}

	if c.Metrics.Pushgateway != "" && c.Metrics.JobName == "" {
		return fmt.Errorf("metrics job name is required when a pushgateway is set")
	}

	return nil
}

// ConnectionParams returns the parameters for opening the MongoDB client.
func (c *Config) ConnectionParams() models.ConnectionParams {
	return models.ConnectionParams{
		URI:            c.URI,
		Database:       c.Database,
		ConnectTimeout: c.ConnectTimeout,
		AppName:        "planbench",
	}
}
