package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main seqbot configuration
type Config struct {
	// Telegram
	Telegram TelegramConfig `json:"telegram" mapstructure:"telegram"`

	// Sequence replay
	Sequence SequenceConfig `json:"sequence" mapstructure:"sequence"`

	// Persistence
	Store StoreConfig `json:"store" mapstructure:"store"`

	// HTTP liveness and metrics
	Health HealthConfig `json:"health" mapstructure:"health"`

	// Background maintenance
	Maintenance MaintenanceConfig `json:"maintenance" mapstructure:"maintenance"`

	// User-facing texts
	Messages MessagesConfig `json:"messages" mapstructure:"messages"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken    string `json:"bot_token" mapstructure:"bot_token"`
	OwnerID     int64  `json:"owner_id" mapstructure:"owner_id"`
	APIEndpoint string `json:"api_endpoint" mapstructure:"api_endpoint"`
	PollTimeout int    `json:"poll_timeout" mapstructure:"poll_timeout"` // seconds
}

// SequenceConfig holds replay settings
type SequenceConfig struct {
	ReplayIntervalMs int `json:"replay_interval_ms" mapstructure:"replay_interval_ms"`
}

// ReplayInterval returns the pause between two replayed files
func (s SequenceConfig) ReplayInterval() time.Duration {
	return time.Duration(s.ReplayIntervalMs) * time.Millisecond
}

// StoreConfig selects the persistence driver
type StoreConfig struct {
	Driver     string      `json:"driver" mapstructure:"driver"` // sqlite, redis, memory
	SQLitePath string      `json:"sqlite_path" mapstructure:"sqlite_path"`
	Redis      RedisConfig `json:"redis" mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
	Prefix   string `json:"prefix" mapstructure:"prefix"`
}

// HealthConfig holds the HTTP liveness server configuration
type HealthConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
}

// Addr returns the listen address
func (h HealthConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// MaintenanceConfig holds background job settings
type MaintenanceConfig struct {
	Schedule          string `json:"schedule" mapstructure:"schedule"`
	PendingTTLSeconds int    `json:"pending_ttl_seconds" mapstructure:"pending_ttl_seconds"`
}

// PendingTTL returns how long an armed operator prompt stays valid
func (m MaintenanceConfig) PendingTTL() time.Duration {
	return time.Duration(m.PendingTTLSeconds) * time.Second
}

// MessagesConfig holds the texts shown by /start and /help
type MessagesConfig struct {
	Start      string `json:"start" mapstructure:"start"` // %s is replaced by the user's first name
	Help       string `json:"help" mapstructure:"help"`
	SupportURL string `json:"support_url" mapstructure:"support_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			PollTimeout: 60,
		},
		Sequence: SequenceConfig{
			ReplayIntervalMs: 1000,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "seqbot:",
			},
		},
		Health: HealthConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
		},
		Maintenance: MaintenanceConfig{
			Schedule:          "@every 1m",
			PendingTTLSeconds: 300,
		},
		Messages: MessagesConfig{
			Start: "Hi %s!\n\nSend /startsequence, forward me your files in any order, then send /endsequence and I will send them back sorted by episode.",
			Help:  "/startsequence - start collecting files\n/endsequence - send the collected files back in episode order\n/leaderboard - top sequencers\n/menu - main menu",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     true,
			SampleRatio: 1,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	v := NewValidator()
	if errs := v.ValidateConfig(c); len(errs) > 0 {
		return errs[0]
	}
	return nil
}
