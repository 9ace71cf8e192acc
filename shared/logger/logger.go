package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Config holds logger configuration
type Config struct {
	Level        string // debug, info, warn, error
	Format       string // json, console
	Output       string // stdout, stderr, or file path
	EnableSource bool
	TimeFormat   string // console only

	writer io.Writer
}

// Logger is a slog.Logger that may own a log file
type Logger struct {
	*slog.Logger
	closer io.Closer
}

// New builds a logger from config. Unknown formats fall back to JSON.
func New(config *Config) (*Logger, error) {
	w, closer, err := openOutput(config)
	if err != nil {
		return nil, err
	}

	return &Logger{
		Logger: slog.New(newHandler(w, config, closer != nil)),
		closer: closer,
	}, nil
}

func newHandler(w io.Writer, config *Config, toFile bool) slog.Handler {
	level := parseLevel(config.Level)

	if config.Format != "console" && config.Format != "" {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, AddSource: config.EnableSource})
	}

	timeFormat := config.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		AddSource:  config.EnableSource,
		TimeFormat: timeFormat,
		NoColor:    toFile,
	})
}

func openOutput(config *Config) (io.Writer, io.Closer, error) {
	if config.writer != nil {
		return config.writer, nil, nil
	}

	switch config.Output {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}

	f, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, f, nil
}

// NewDiscard creates a logger that drops every record
func NewDiscard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Close releases the log file, if any
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// parseLevel accepts slog level names in any case plus "warning".
// Anything unparseable logs at info.
func parseLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
