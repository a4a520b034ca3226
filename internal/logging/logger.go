// Package logging builds the daemon's zerolog loggers. Every component gets
// its own sub-logger tagged with "component", and its level can be raised or
// lowered independently through logging.components.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"rentsync/internal/config"

	"github.com/rs/zerolog"
)

// Set is the root logger plus the per-component level overrides.
type Set struct {
	root      zerolog.Logger
	overrides map[string]zerolog.Level
	closer    io.Closer
}

// New constructs the logger set. Empty fields mean JSON, info level, stdout.
// An unknown global level falls back to info; an unknown component level is
// a configuration error.
func New(cfg config.LoggingConfig, app config.AppConfig) (*Set, error) {
	overrides := make(map[string]zerolog.Level, len(cfg.Components))
	for name, raw := range cfg.Components {
		lvl, ok := parseLevel(raw)
		if !ok {
			return nil, fmt.Errorf("logging.components.%s: unknown level %q", name, raw)
		}
		overrides[name] = lvl
	}

	output, closer, err := openOutput(cfg)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "console") {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	level, ok := parseLevel(cfg.Level)
	if !ok {
		level = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	ctx := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("app", app.Name).
		Str("env", app.Environment).
		Str("version", app.Version)
	if host, err := os.Hostname(); err == nil {
		ctx = ctx.Str("host", host)
	}

	return &Set{root: ctx.Logger(), overrides: overrides, closer: closer}, nil
}

func parseLevel(raw string) (zerolog.Level, bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel, false
	}
	return lvl, true
}

func openOutput(cfg config.LoggingConfig) (io.Writer, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "stderr":
		return os.Stderr, nil, nil
	case "discard":
		return io.Discard, nil, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, nil, fmt.Errorf("logging.output=file requires logging.file_path")
		}
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return file, file, nil
	default:
		return os.Stdout, nil, nil
	}
}

// For returns the logger for component. A nil Set yields a disabled logger,
// which keeps constructors usable in tests.
func (s *Set) For(component string) *zerolog.Logger {
	if s == nil {
		nop := zerolog.Nop()
		return &nop
	}
	l := s.root.With().Str("component", component).Logger()
	if lvl, ok := s.overrides[component]; ok {
		l = l.Level(lvl)
	}
	return &l
}

// Level reports the effective level for component.
func (s *Set) Level(component string) zerolog.Level {
	if s == nil {
		return zerolog.Disabled
	}
	if lvl, ok := s.overrides[component]; ok {
		return lvl
	}
	return s.root.GetLevel()
}

// Close releases the log file, if any.
func (s *Set) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
