// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	Exchange ExchangeConfig `yaml:"exchange"`
	Telegram TelegramConfig `yaml:"telegram"`
	Server   ServerConfig   `yaml:"server"`
	Trading  TradingConfig  `yaml:"trading"`
	System   SystemConfig   `yaml:"system"`
}

// ExchangeConfig contains Binance futures credentials and endpoint settings
type ExchangeConfig struct {
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	Testnet   bool   `yaml:"testnet"`
	BaseURL   string `yaml:"base_url"` // Optional override for the REST endpoint
}

// TelegramConfig contains notification settings. Both fields empty is valid:
// the bridge runs with notifications disabled.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// Enabled reports whether notification delivery is configured
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port          int     `yaml:"port"`
	RateLimit     float64 `yaml:"rate_limit"`      // Webhook requests per second per client IP
	RateBurst     int     `yaml:"rate_burst"`      // Burst allowance per client IP
	EnableMetrics bool    `yaml:"enable_metrics"`  // Expose /metrics on the same mux
	ShutdownGrace int     `yaml:"shutdown_grace"`  // Seconds to wait for in-flight requests on shutdown
}

// TradingConfig contains the transition engine's timing parameters
type TradingConfig struct {
	CloseWaitTimeout     int `yaml:"close_wait_timeout"`     // Seconds to wait for a close to confirm flat
	PollInterval         int `yaml:"poll_interval_ms"`       // Milliseconds between position polls
	DedupRetention       int `yaml:"dedup_retention"`        // Seconds a processed signal key is remembered
	RapidDuplicateWindow int `yaml:"rapid_duplicate_ms"`     // Milliseconds within which identical composites are merged
	PositionCacheTTL     int `yaml:"position_cache_ttl_ms"`  // Milliseconds a position snapshot stays servable
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable
// expansion, overlays defaults for unset fields and validates the result
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if err := c.validateExchange(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateTrading(); err != nil {
		return err
	}
	return c.validateSystem()
}

func (c *Config) validateExchange() error {
	if c.Exchange.APIKey == "" {
		return ValidationError{Field: "exchange.api_key", Value: "", Message: "is required"}
	}
	if c.Exchange.SecretKey == "" {
		return ValidationError{Field: "exchange.secret_key", Value: "", Message: "is required"}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return ValidationError{Field: "server.port", Value: c.Server.Port, Message: "must be between 1 and 65535"}
	}
	if c.Server.RateLimit <= 0 {
		return ValidationError{Field: "server.rate_limit", Value: c.Server.RateLimit, Message: "must be positive"}
	}
	if c.Server.RateBurst < 1 {
		return ValidationError{Field: "server.rate_burst", Value: c.Server.RateBurst, Message: "must be at least 1"}
	}
	return nil
}

func (c *Config) validateTrading() error {
	if c.Trading.CloseWaitTimeout < 1 || c.Trading.CloseWaitTimeout > 300 {
		return ValidationError{Field: "trading.close_wait_timeout", Value: c.Trading.CloseWaitTimeout, Message: "must be between 1 and 300 seconds"}
	}
	if c.Trading.PollInterval < 100 || c.Trading.PollInterval > 10000 {
		return ValidationError{Field: "trading.poll_interval_ms", Value: c.Trading.PollInterval, Message: "must be between 100 and 10000 milliseconds"}
	}
	if c.Trading.DedupRetention < 1 {
		return ValidationError{Field: "trading.dedup_retention", Value: c.Trading.DedupRetention, Message: "must be positive"}
	}
	if c.Trading.RapidDuplicateWindow < 1 {
		return ValidationError{Field: "trading.rapid_duplicate_ms", Value: c.Trading.RapidDuplicateWindow, Message: "must be positive"}
	}
	if c.Trading.PositionCacheTTL < 1 {
		return ValidationError{Field: "trading.position_cache_ttl_ms", Value: c.Trading.PositionCacheTTL, Message: "must be positive"}
	}
	return nil
}

func (c *Config) validateSystem() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{Field: "system.log_level", Value: c.System.LogLevel, Message: "must be one of DEBUG, INFO, WARN, ERROR, FATAL"}
	}
	return nil
}

// CloseWaitTimeoutDuration returns the close-wait bound as a time.Duration
func (c *Config) CloseWaitTimeoutDuration() time.Duration {
	return time.Duration(c.Trading.CloseWaitTimeout) * time.Second
}

// PollIntervalDuration returns the position poll interval as a time.Duration
func (c *Config) PollIntervalDuration() time.Duration {
	return time.Duration(c.Trading.PollInterval) * time.Millisecond
}

// DedupRetentionDuration returns the dedup retention window as a time.Duration
func (c *Config) DedupRetentionDuration() time.Duration {
	return time.Duration(c.Trading.DedupRetention) * time.Second
}

// RapidDuplicateWindowDuration returns the rapid-duplicate window as a time.Duration
func (c *Config) RapidDuplicateWindowDuration() time.Duration {
	return time.Duration(c.Trading.RapidDuplicateWindow) * time.Millisecond
}

// PositionCacheTTLDuration returns the snapshot cache TTL as a time.Duration
func (c *Config) PositionCacheTTLDuration() time.Duration {
	return time.Duration(c.Trading.PositionCacheTTL) * time.Millisecond
}

// String returns a string representation of the configuration with
// sensitive data masked
func (c *Config) String() string {
	configCopy := *c
	configCopy.Exchange.APIKey = maskString(configCopy.Exchange.APIKey)
	configCopy.Exchange.SecretKey = maskString(configCopy.Exchange.SecretKey)
	configCopy.Telegram.BotToken = maskString(configCopy.Telegram.BotToken)

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns the configuration defaults. The timing defaults
// mirror the behavior the signal source expects: a 40 second close-wait
// bound polled once a second, one hour of dedup memory and a one second
// rapid-duplicate window.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          5000,
			RateLimit:     10.0,
			RateBurst:     20,
			EnableMetrics: true,
			ShutdownGrace: 10,
		},
		Trading: TradingConfig{
			CloseWaitTimeout:     40,
			PollInterval:         1000,
			DedupRetention:       3600,
			RapidDuplicateWindow: 1000,
			PositionCacheTTL:     3000,
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
	}
}
