// Package logging configures the zerolog logger shared by the pager packages.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is a configured minimum level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Component names used in the "component" field.
const (
	ComponentUpstream   = "upstream-client"
	ComponentDataSource = "datasource"
	ComponentNavigator  = "navigator"
	ComponentProxy      = "pager-proxy"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output instead of JSON.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns JSON logging at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it. Packages that
// log through zerolog/log pick up the new logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// ParseLevel maps a level name to a zerolog level. Unknown names mean info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger returns the global logger tagged with a component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log levels:
//
// Debug: cache hits, coalesced fetches, served display pages, discarded
// superseded navigations.
//
// Info: upstream fetches, captured collection metadata, server startup and
// shutdown.
//
// Warn: retry attempts, breaker state changes, cache store errors, upstream
// 4xx/5xx responses, failed navigations.
//
// Error: failed upstream fetches and malformed responses.
//
// Fields:
//   - display_page: requested display page
//   - upstream_page: upstream page being fetched or served
//   - cache_hit: whether the upstream page came from the store
//   - status: upstream HTTP status
//   - error_class: client, server, network, decode or circuit_open
//   - duration: fetch duration
