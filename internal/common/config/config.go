// Package config provides configuration management for the homeclaw bridge.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration sections for the bridge.
type Config struct {
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// MQTTConfig holds broker connection and topic configuration.
type MQTTConfig struct {
	// Enabled gates the whole bridge; when false the process exits after startup.
	Enabled   bool   `mapstructure:"enabled"`
	BrokerURL string `mapstructure:"brokerUrl"`
	ClientID  string `mapstructure:"clientId"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`

	CommandTopic          string `mapstructure:"commandTopic"`
	ResponseTopic         string `mapstructure:"responseTopic"`
	ApprovalRequestTopic  string `mapstructure:"approvalRequestTopic"`
	ApprovalResponseTopic string `mapstructure:"approvalResponseTopic"`

	ApprovalTimeout  int `mapstructure:"approvalTimeout"`  // in milliseconds
	ReconnectBackoff int `mapstructure:"reconnectBackoff"` // in milliseconds
}

// AgentConfig holds settings for the Claude CLI invocation.
type AgentConfig struct {
	// CLIPath is the agent binary launched per command (default: "claude" on PATH).
	CLIPath string `mapstructure:"cliPath"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ApprovalTimeoutDuration returns the approval wait budget as a time.Duration.
func (m *MQTTConfig) ApprovalTimeoutDuration() time.Duration {
	return time.Duration(m.ApprovalTimeout) * time.Millisecond
}

// ReconnectBackoffDuration returns the reconnect backoff as a time.Duration.
func (m *MQTTConfig) ReconnectBackoffDuration() time.Duration {
	return time.Duration(m.ReconnectBackoff) * time.Millisecond
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("HOMECLAW_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.brokerUrl", "mqtt://localhost:1883")
	v.SetDefault("mqtt.clientId", fmt.Sprintf("claudecodeui-%d", time.Now().UnixMilli()))
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.commandTopic", "claude/command")
	v.SetDefault("mqtt.responseTopic", "claude/home/response")
	v.SetDefault("mqtt.approvalRequestTopic", "claude/approval-request")
	v.SetDefault("mqtt.approvalResponseTopic", "claude/approval-response")
	v.SetDefault("mqtt.approvalTimeout", 60000)
	v.SetDefault("mqtt.reconnectBackoff", 5000)

	// Agent defaults
	v.SetDefault("agent.cliPath", "claude")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// A .env file in the working directory is loaded first, best-effort.
// Config file should be named config.yaml and placed in the current directory or /etc/homeclaw/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// The MQTT_* names are the device-facing contract and do not follow a
	// single prefix scheme viper could derive, so every key is bound explicitly.
	_ = v.BindEnv("mqtt.enabled", "MQTT_ENABLED")
	_ = v.BindEnv("mqtt.brokerUrl", "MQTT_BROKER_URL")
	_ = v.BindEnv("mqtt.clientId", "MQTT_CLIENT_ID")
	_ = v.BindEnv("mqtt.username", "MQTT_USERNAME")
	_ = v.BindEnv("mqtt.password", "MQTT_PASSWORD")
	_ = v.BindEnv("mqtt.commandTopic", "MQTT_COMMAND_TOPIC")
	_ = v.BindEnv("mqtt.responseTopic", "MQTT_RESPONSE_TOPIC")
	_ = v.BindEnv("mqtt.approvalRequestTopic", "MQTT_APPROVAL_REQUEST_TOPIC")
	_ = v.BindEnv("mqtt.approvalResponseTopic", "MQTT_APPROVAL_RESPONSE_TOPIC")
	_ = v.BindEnv("mqtt.approvalTimeout", "MQTT_APPROVAL_TIMEOUT")
	_ = v.BindEnv("mqtt.reconnectBackoff", "MQTT_RECONNECT_BACKOFF")

	_ = v.BindEnv("agent.cliPath", "HOMECLAW_CLI_PATH")

	_ = v.BindEnv("logging.level", "HOMECLAW_LOG_LEVEL")
	_ = v.BindEnv("logging.format", "HOMECLAW_LOG_FORMAT")
	_ = v.BindEnv("logging.outputPath", "HOMECLAW_LOG_OUTPUT")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/homeclaw/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.MQTT.Enabled {
		if cfg.MQTT.BrokerURL == "" {
			errs = append(errs, "mqtt.brokerUrl is required when mqtt.enabled is true")
		}
		if cfg.MQTT.ClientID == "" {
			errs = append(errs, "mqtt.clientId must not be empty")
		}
		for key, topic := range map[string]string{
			"mqtt.commandTopic":          cfg.MQTT.CommandTopic,
			"mqtt.responseTopic":         cfg.MQTT.ResponseTopic,
			"mqtt.approvalRequestTopic":  cfg.MQTT.ApprovalRequestTopic,
			"mqtt.approvalResponseTopic": cfg.MQTT.ApprovalResponseTopic,
		} {
			if topic == "" {
				errs = append(errs, key+" must not be empty")
			}
		}
	}

	if cfg.MQTT.ApprovalTimeout <= 0 {
		errs = append(errs, "mqtt.approvalTimeout must be positive")
	}
	if cfg.MQTT.ReconnectBackoff <= 0 {
		errs = append(errs, "mqtt.reconnectBackoff must be positive")
	}

	if cfg.Agent.CLIPath == "" {
		errs = append(errs, "agent.cliPath must not be empty")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text, console")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
