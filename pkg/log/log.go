package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance; Init replaces it before any
// subsystem starts logging.
var Logger zerolog.Logger

// Level names a logging verbosity, matching the set pkg/config accepts
// for server.log_level.
type Level string

const (
	TraceLevel Level = "trace"
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
	OffLevel   Level = "off"
)

var zerologLevels = map[Level]zerolog.Level{
	TraceLevel: zerolog.TraceLevel,
	DebugLevel: zerolog.DebugLevel,
	InfoLevel:  zerolog.InfoLevel,
	WarnLevel:  zerolog.WarnLevel,
	ErrorLevel: zerolog.ErrorLevel,
	OffLevel:   zerolog.Disabled,
}

// Config holds logging configuration: the minimum level to emit, and
// whether to write newline-delimited JSON (for log aggregators) or a
// human-readable console format (for interactive use).
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init builds the global Logger from cfg. Unrecognized levels fall back
// to info rather than panicking, since Init runs from cobra's
// OnInitialize before any flag parsing error would have surfaced.
func Init(cfg Config) {
	level, ok := zerologLevels[cfg.Level]
	if !ok {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if !cfg.JSONOutput {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(output).With().Timestamp().Logger()
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTarget creates a child logger scoped to a (shelf, slot) target
func WithTarget(shelf uint16, slot uint8) zerolog.Logger {
	return Logger.With().Uint32("shelf", uint32(shelf)).Uint32("slot", uint32(slot)).Logger()
}

// WithConn creates a child logger scoped to a single NBD connection
func WithConn(connID string) zerolog.Logger {
	return Logger.With().Str("conn_id", connID).Logger()
}

// WithFrame creates a child logger scoped to a single AoE frame tag
func WithFrame(tag uint32) zerolog.Logger {
	return Logger.With().Uint32("tag", tag).Logger()
}

// Package-level shorthands log through the global Logger directly, for
// call sites that have no component/target/conn/frame to scope to.

func Trace(msg string) { Logger.Trace().Msg(msg) }
func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }
func Fatal(msg string) { Logger.Fatal().Msg(msg) }

// Errorf logs msg at error level with err attached as the "error" field.
func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}
