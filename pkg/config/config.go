// Package config loads and validates the radiusd server configuration.
//
// The server configuration covers process-level settings: listeners,
// shared secret, Redis connection, logging, API and metrics servers.
// The policy (pools, match rules, reply definitions) lives in its own
// file and is loaded by pkg/policy.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (RADIUSD_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/radiusd/pkg/api"
)

// Config represents the radiusd server configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Radius configures the UDP listeners and the shared secret
	Radius RadiusConfig `mapstructure:"radius" yaml:"radius"`

	// Policy points at the policy file (pools, rules, reply definitions)
	Policy PolicyConfig `mapstructure:"policy" yaml:"policy"`

	// Redis configures the dialog store connection
	Redis RedisConfig `mapstructure:"redis" yaml:"redis"`

	// API contains the REST API server configuration
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// RadiusConfig configures the UDP listeners.
type RadiusConfig struct {
	// Host is the IP to bind both listeners to.
	// Default: 127.0.0.1
	Host string `mapstructure:"host" validate:"required" yaml:"host"`

	// AuthPort is the authentication listener port.
	// Default: 1812
	AuthPort int `mapstructure:"auth_port" validate:"min=1,max=65535" yaml:"auth_port"`

	// AcctPort is the accounting listener port.
	// Default: 1813
	AcctPort int `mapstructure:"acct_port" validate:"min=1,max=65535" yaml:"acct_port"`

	// MaxConcurrent caps the number of datagrams handled at once per listener.
	// Default: 200
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"min=1" yaml:"max_concurrent"`

	// Secret is the RADIUS shared secret. Required to start the server.
	// Override: RADIUSD_RADIUS_SECRET
	Secret string `mapstructure:"secret" yaml:"secret"`
}

// PolicyConfig points at the policy file.
type PolicyConfig struct {
	// Path is the policy file path (.yml, .yaml or .json).
	// Required to start the server.
	Path string `mapstructure:"path" yaml:"path"`
}

// RedisConfig configures the dialog store connection.
type RedisConfig struct {
	// Host is the Redis server host.
	// Default: 127.0.0.1
	Host string `mapstructure:"host" validate:"required" yaml:"host"`

	// Port is the Redis server port.
	// Default: 6379
	Port int `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`

	// DB is the Redis database number.
	// Default: 0
	DB int `mapstructure:"db" validate:"gte=0" yaml:"db"`

	// Expiry is the TTL applied to stored dialogs.
	// Default: 24h
	Expiry time.Duration `mapstructure:"expiry" validate:"required,gt=0" yaml:"expiry"`

	// Prefix overrides the token prefix from the policy's redis_storage
	// section when non-empty. Normally left empty.
	Prefix string `mapstructure:"prefix" yaml:"prefix,omitempty"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the standalone metrics endpoint.
	// When 0 and the API server is enabled, metrics are served on the
	// API server under /metrics instead.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (RADIUSD_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly
// instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  radiusd init\n\n"+
				"Or specify a custom config file:\n"+
				"  radiusd <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  radiusd init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Restricted permissions: the file carries the shared secret.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// RedisAddr returns the host:port address for the Redis client.
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the RADIUSD_ prefix and underscores.
	// Example: RADIUSD_LOGGING_LEVEL=DEBUG, RADIUSD_RADIUS_SECRET=...
	v.SetEnvPrefix("RADIUSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/radiusd/config.yaml
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		// Also check for os.PathError when explicit config file doesn't exist
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts strings like "30s", "5m", "24h" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "radiusd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "radiusd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
