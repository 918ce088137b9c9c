package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/seqbot/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is the daemon's root zerolog logger plus the file it may own.
type Logger struct {
	logger zerolog.Logger
	file   *os.File
}

// Config holds logger configuration
type Config struct {
	Level     string // debug, info, warn, error
	File      string // log file path
	Console   bool   // enable console output
	Pretty    bool   // pretty format for console
	Redaction bool   // mask bot tokens and credentials

	// Output replaces stdout as the console destination when set.
	Output io.Writer
}

// FromConfig builds a logger from the logging section of the config file.
func FromConfig(cfg config.LoggingConfig) (*Logger, error) {
	return New(Config{
		Level:     cfg.Level,
		File:      cfg.File,
		Console:   cfg.Console,
		Pretty:    cfg.Pretty,
		Redaction: cfg.Redaction,
	})
}

// New creates a logger and installs it as the zerolog global.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var writers []io.Writer
	if cfg.Console {
		if cfg.Pretty {
			writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
		} else {
			writers = append(writers, out)
		}
	}

	file, err := openLogFile(cfg.File)
	if err != nil {
		return nil, err
	}
	if file != nil {
		writers = append(writers, file)
	}

	var w io.Writer
	switch len(writers) {
	case 0:
		w = out
	case 1:
		w = writers[0]
	default:
		w = zerolog.MultiLevelWriter(writers...)
	}
	if cfg.Redaction {
		w = NewRedactor().Wrap(w)
	}

	zl := zerolog.New(w).Level(level).With().Timestamp().Logger()
	log.Logger = zl

	return &Logger{logger: zl, file: file}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

func openLogFile(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) Debug() *zerolog.Event { return l.logger.Debug() }

func (l *Logger) Info() *zerolog.Event { return l.logger.Info() }

func (l *Logger) Warn() *zerolog.Event { return l.logger.Warn() }

func (l *Logger) Error() *zerolog.Event { return l.logger.Error() }

// With creates a child logger with additional context
func (l *Logger) With() zerolog.Context {
	return l.logger.With()
}

// Component returns a child logger tagged with the component name
func (l *Logger) Component(name string) zerolog.Logger {
	return l.logger.With().Str("component", name).Logger()
}

// GetZerolog returns the underlying zerolog.Logger
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.logger
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
	}
}
