package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// envKeys are the config keys that can be overridden from the environment
// as SEQBOT_<KEY>, with dots replaced by underscores.
var envKeys = []string{
	"telegram.bot_token",
	"telegram.owner_id",
	"telegram.api_endpoint",
	"telegram.poll_timeout",
	"sequence.replay_interval_ms",
	"store.driver",
	"store.sqlite_path",
	"store.redis.addr",
	"store.redis.password",
	"store.redis.db",
	"store.redis.prefix",
	"health.enabled",
	"health.host",
	"health.port",
	"maintenance.schedule",
	"maintenance.pending_ttl_seconds",
	"logging.level",
	"logging.file",
	"logging.pretty",
	"tracing.enabled",
	"data_dir",
}

// envAliases are additional unprefixed variables, used when the prefixed
// one is unset. PORT is the convention of most container platforms.
var envAliases = map[string]string{
	"health.port": "PORT",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file, if present, and applies environment overrides
// on top of the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := viper.New()
	v.SetConfigType("json")

	v.SetEnvPrefix("SEQBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		names := []string{key, "SEQBOT_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
		if alias, ok := envAliases[key]; ok {
			names = append(names, alias)
		}
		if err := v.BindEnv(names...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Set data directory if not specified
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".seqbot")
	}

	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = filepath.Join(cfg.DataDir, "seqbot.db")
	}
	if cfg.Logging.AuditFile == "" {
		cfg.Logging.AuditFile = filepath.Join(cfg.DataDir, "audit.log")
	}

	return cfg, nil
}

// Save writes cfg to the config path
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to resolve config path")
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("telegram", cfg.Telegram)
	v.Set("sequence", cfg.Sequence)
	v.Set("store", cfg.Store)
	v.Set("health", cfg.Health)
	v.Set("maintenance", cfg.Maintenance)
	v.Set("messages", cfg.Messages)
	v.Set("logging", cfg.Logging)
	v.Set("tracing", cfg.Tracing)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfig(); err != nil {
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".seqbot", "seqbot.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
