package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

// Telegram bot tokens have format: <bot_id>:<token>
// Example: 123456789:ABCdefGHIjklMNOpqrsTUVwxyz
var telegramTokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateTelegramToken validates a Telegram bot token
func (v *Validator) ValidateTelegramToken(token string) error {
	if token == "" {
		return fmt.Errorf("telegram bot token cannot be empty")
	}

	if !telegramTokenPattern.MatchString(token) {
		return fmt.Errorf("invalid Telegram bot token format")
	}

	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateStoreDriver validates the persistence driver name
func (v *Validator) ValidateStoreDriver(driver string) error {
	validDrivers := []string{"sqlite", "redis", "memory"}
	for _, valid := range validDrivers {
		if driver == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid store driver: %s (must be one of: %s)", driver, strings.Join(validDrivers, ", "))
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", port)
	}
	return nil
}

// ValidateSchedule validates a cron expression or descriptor such as "@every 1m"
func (v *Validator) ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateTelegramToken(cfg.Telegram.BotToken); err != nil {
		errors = append(errors, err)
	}
	if cfg.Telegram.OwnerID < 0 {
		errors = append(errors, fmt.Errorf("telegram owner_id must be a user id"))
	}
	if cfg.Telegram.PollTimeout < 0 {
		errors = append(errors, fmt.Errorf("telegram poll_timeout must be >= 0"))
	}

	if cfg.Sequence.ReplayIntervalMs < 0 {
		errors = append(errors, fmt.Errorf("sequence replay_interval_ms must be >= 0"))
	}

	if err := v.ValidateStoreDriver(cfg.Store.Driver); err != nil {
		errors = append(errors, err)
	}
	if cfg.Store.Driver == "redis" && cfg.Store.Redis.Addr == "" {
		errors = append(errors, fmt.Errorf("store redis addr is required for the redis driver"))
	}

	if cfg.Health.Enabled {
		if err := v.ValidatePort(cfg.Health.Port); err != nil {
			errors = append(errors, fmt.Errorf("health: %w", err))
		}
	}

	if err := v.ValidateSchedule(cfg.Maintenance.Schedule); err != nil {
		errors = append(errors, err)
	}
	if cfg.Maintenance.PendingTTLSeconds <= 0 {
		errors = append(errors, fmt.Errorf("maintenance pending_ttl_seconds must be > 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errors = append(errors, fmt.Errorf("tracing sample_ratio must be between 0 and 1"))
	}

	return errors
}
