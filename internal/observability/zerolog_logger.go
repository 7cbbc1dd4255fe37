package observability

import (
	"os"

	"github.com/rs/zerolog"
)

// ZerologLogger backs Logger with github.com/rs/zerolog, following the
// structured-logging setup used in the example repos' CLI/server
// entrypoints.
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger builds a ZerologLogger writing timestamped JSON
// lines to os.Stderr.
func NewZerologLogger() *ZerologLogger {
	return &ZerologLogger{logger: zerolog.New(os.Stderr).With().Timestamp().Logger()}
}

func (z *ZerologLogger) event(e *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		e = e.Interface(f.Key, f.Value)
	}
	e.Msg(msg)
}

// Debug logs at debug level with structured fields.
func (z *ZerologLogger) Debug(msg string, fields ...Field) {
	z.event(z.logger.Debug(), msg, fields)
}

// Info logs at info level with structured fields.
func (z *ZerologLogger) Info(msg string, fields ...Field) {
	z.event(z.logger.Info(), msg, fields)
}

// Warn logs at warn level with structured fields.
func (z *ZerologLogger) Warn(msg string, fields ...Field) {
	z.event(z.logger.Warn(), msg, fields)
}

// Error logs at error level with structured fields.
func (z *ZerologLogger) Error(msg string, fields ...Field) {
	z.event(z.logger.Error(), msg, fields)
}
