package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"partyfinder/pkg/database"
)

// Config is the aggregate runtime configuration for the service.
type Config struct {
	Database    *database.Config   `json:"database"`
	HTTP        *HTTPConfig        `json:"http"`
	Gateway     *GatewayConfig     `json:"gateway"`
	Coordinator *CoordinatorConfig `json:"coordinator"`
	Platform    *PlatformConfig    `json:"platform"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

type GatewayConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// CoordinatorConfig controls the lifecycle timers. GracePeriod is how long
// an empty voice room survives before teardown; ReconcileInterval is the
// cadence of the orphan sweep.
type CoordinatorConfig struct {
	GracePeriod       time.Duration `json:"grace_period"`
	ReconcileInterval time.Duration `json:"reconcile_interval"`
}

// PlatformConfig points at the chat platform REST adapter.
type PlatformConfig struct {
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
}

func DefaultConfig() *Config {
	return &Config{
		Database: database.DefaultConfig(),
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		Gateway: &GatewayConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Coordinator: &CoordinatorConfig{
			GracePeriod:       60 * time.Second,
			ReconcileInterval: time.Hour,
		},
		Platform: &PlatformConfig{
			BaseURL: "http://localhost:9090",
			Timeout: 15 * time.Second,
		},
	}
}

func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("invalid database configuration: %w", err)
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}

	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}

	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}

	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.Gateway == nil {
		return fmt.Errorf("gateway configuration is required")
	}

	if c.Gateway.PingInterval <= 0 {
		return fmt.Errorf("gateway ping interval must be positive")
	}

	if c.Gateway.ReadTimeout <= 0 {
		return fmt.Errorf("gateway read timeout must be positive")
	}

	if c.Gateway.WriteTimeout <= 0 {
		return fmt.Errorf("gateway write timeout must be positive")
	}

	if c.Gateway.BufferSize <= 0 {
		return fmt.Errorf("gateway buffer size must be positive")
	}

	if c.Coordinator == nil {
		return fmt.Errorf("coordinator configuration is required")
	}

	if c.Coordinator.GracePeriod <= 0 {
		return fmt.Errorf("coordinator grace period must be positive")
	}

	if c.Coordinator.ReconcileInterval <= 0 {
		return fmt.Errorf("coordinator reconcile interval must be positive")
	}

	if c.Platform == nil {
		return fmt.Errorf("platform configuration is required")
	}

	if c.Platform.BaseURL == "" {
		return fmt.Errorf("platform base URL cannot be empty")
	}

	if c.Platform.Timeout <= 0 {
		return fmt.Errorf("platform timeout must be positive")
	}

	return nil
}

// LoadFromEnv starts from defaults and applies PARTYFINDER_* overrides.
// Unparseable values fall back to the default silently.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if port := os.Getenv("PARTYFINDER_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}

	if host := os.Getenv("PARTYFINDER_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}

	if readTimeout := os.Getenv("PARTYFINDER_HTTP_READ_TIMEOUT"); readTimeout != "" {
		if timeout, err := time.ParseDuration(readTimeout); err == nil {
			config.HTTP.ReadTimeout = timeout
		}
	}

	if writeTimeout := os.Getenv("PARTYFINDER_HTTP_WRITE_TIMEOUT"); writeTimeout != "" {
		if timeout, err := time.ParseDuration(writeTimeout); err == nil {
			config.HTTP.WriteTimeout = timeout
		}
	}

	if dbPath := os.Getenv("PARTYFINDER_DATABASE_PATH"); dbPath != "" {
		config.Database.DatabasePath = dbPath
	}

	if migrations := os.Getenv("PARTYFINDER_MIGRATIONS_PATH"); migrations != "" {
		config.Database.MigrationsPath = migrations
	}

	if pingInterval := os.Getenv("PARTYFINDER_GATEWAY_PING_INTERVAL"); pingInterval != "" {
		if interval, err := time.ParseDuration(pingInterval); err == nil {
			config.Gateway.PingInterval = interval
		}
	}

	if readTimeout := os.Getenv("PARTYFINDER_GATEWAY_READ_TIMEOUT"); readTimeout != "" {
		if timeout, err := time.ParseDuration(readTimeout); err == nil {
			config.Gateway.ReadTimeout = timeout
		}
	}

	if grace := os.Getenv("PARTYFINDER_GRACE_PERIOD"); grace != "" {
		if d, err := time.ParseDuration(grace); err == nil {
			config.Coordinator.GracePeriod = d
		}
	}

	if interval := os.Getenv("PARTYFINDER_RECONCILE_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Coordinator.ReconcileInterval = d
		}
	}

	if baseURL := os.Getenv("PARTYFINDER_PLATFORM_URL"); baseURL != "" {
		config.Platform.BaseURL = baseURL
	}

	if timeout := os.Getenv("PARTYFINDER_PLATFORM_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Platform.Timeout = d
		}
	}

	return config
}

// ConfigFile mirrors Config with string durations for JSON parsing.
type ConfigFile struct {
	Database    *DatabaseConfigFile    `json:"database"`
	HTTP        *HTTPConfigFile        `json:"http"`
	Gateway     *GatewayConfigFile     `json:"gateway"`
	Coordinator *CoordinatorConfigFile `json:"coordinator"`
	Platform    *PlatformConfigFile    `json:"platform"`
}

type DatabaseConfigFile struct {
	Path           string `json:"path"`
	MigrationsPath string `json:"migrations_path"`
	MaxConnections int    `json:"max_connections"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type GatewayConfigFile struct {
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	BufferSize   int    `json:"buffer_size"`
}

type CoordinatorConfigFile struct {
	GracePeriod       string `json:"grace_period"`
	ReconcileInterval string `json:"reconcile_interval"`
}

type PlatformConfigFile struct {
	BaseURL string `json:"base_url"`
	Timeout string `json:"timeout"`
}

func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if configFile.Database != nil {
		if configFile.Database.Path != "" {
			config.Database.DatabasePath = configFile.Database.Path
		}
		if configFile.Database.MigrationsPath != "" {
			config.Database.MigrationsPath = configFile.Database.MigrationsPath
		}
		if configFile.Database.MaxConnections > 0 {
			config.Database.MaxConnections = configFile.Database.MaxConnections
		}
	}

	if configFile.HTTP != nil {
		if configFile.HTTP.Port > 0 {
			config.HTTP.Port = configFile.HTTP.Port
		}
		if configFile.HTTP.Host != "" {
			config.HTTP.Host = configFile.HTTP.Host
		}
		if configFile.HTTP.ReadTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.ReadTimeout); err == nil {
				config.HTTP.ReadTimeout = timeout
			}
		}
		if configFile.HTTP.WriteTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.WriteTimeout); err == nil {
				config.HTTP.WriteTimeout = timeout
			}
		}
	}

	if configFile.Gateway != nil {
		if configFile.Gateway.BufferSize > 0 {
			config.Gateway.BufferSize = configFile.Gateway.BufferSize
		}
		if configFile.Gateway.PingInterval != "" {
			if interval, err := time.ParseDuration(configFile.Gateway.PingInterval); err == nil {
				config.Gateway.PingInterval = interval
			}
		}
		if configFile.Gateway.ReadTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.Gateway.ReadTimeout); err == nil {
				config.Gateway.ReadTimeout = timeout
			}
		}
		if configFile.Gateway.WriteTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.Gateway.WriteTimeout); err == nil {
				config.Gateway.WriteTimeout = timeout
			}
		}
	}

	if configFile.Coordinator != nil {
		if configFile.Coordinator.GracePeriod != "" {
			if d, err := time.ParseDuration(configFile.Coordinator.GracePeriod); err == nil {
				config.Coordinator.GracePeriod = d
			}
		}
		if configFile.Coordinator.ReconcileInterval != "" {
			if d, err := time.ParseDuration(configFile.Coordinator.ReconcileInterval); err == nil {
				config.Coordinator.ReconcileInterval = d
			}
		}
	}

	if configFile.Platform != nil {
		if configFile.Platform.BaseURL != "" {
			config.Platform.BaseURL = configFile.Platform.BaseURL
		}
		if configFile.Platform.Timeout != "" {
			if d, err := time.ParseDuration(configFile.Platform.Timeout); err == nil {
				config.Platform.Timeout = d
			}
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence resolves configuration as file > environment >
// defaults. File errors are ignored so a bad path still yields a usable
// config.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}

	return config
}
