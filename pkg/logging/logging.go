package logging

import (
	"os"
	"runtime"
	"time"

	"cloud.google.com/go/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogger configures the global logger. Every component derives its own
// logger from it with a component field.
func SetupLogger(version string, debug, human bool) {
	zerolog.TimestampFieldName = "timestamp"
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if human {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	log.Logger = log.Logger.Hook(severityHook{})
	log.Logger = log.With().
		Str("service", "tradesubmit").
		Str("version", version).
		Str("goversion", runtime.Version()).
		Logger()
}

// severityHook adds the Google Cloud Logging severity of the event level.
type severityHook struct{}

func (h severityHook) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	e.Str("severity", Severity(level).String())
}

// Severity converts a zerolog level to a Cloud Logging severity.
func Severity(level zerolog.Level) logging.Severity {
	switch level {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return logging.Debug
	case zerolog.InfoLevel:
		return logging.Info
	case zerolog.WarnLevel:
		return logging.Warning
	case zerolog.ErrorLevel:
		return logging.Error
	case zerolog.FatalLevel:
		return logging.Alert
	case zerolog.PanicLevel:
		return logging.Emergency
	default:
		return logging.Default
	}
}
