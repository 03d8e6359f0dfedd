package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger provides structured logging with consistent fields.
type Logger struct {
	base zerolog.Logger
}

// New creates a logger with component metadata.
func New(component string) *Logger {
	return NewWithWriter(os.Stdout, component)
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(w io.Writer, component string) *Logger {
	l := zerolog.New(w).With().
		Timestamp().
		Str("component", component).
		Logger()
	zerolog.DurationFieldUnit = time.Millisecond
	return &Logger{base: l}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{base: zerolog.Nop()}
}

// SetLevel sets the process-wide minimum level ("debug", "info", "warn", "error").
func SetLevel(level string) error {
	if level == "" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		return nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

// With returns a child logger carrying the given key/value pairs on every line.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	if l == nil {
		return Nop()
	}
	return &Logger{base: l.base.With().Fields(kvToMap(keyvals...)).Logger()}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	if l == nil {
		return
	}
	l.base.Debug().Fields(kvToMap(keyvals...)).Msg(msg)
}

// Info logs informational messages with optional key/value pairs.
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	if l == nil {
		return
	}
	l.base.Info().Fields(kvToMap(keyvals...)).Msg(msg)
}

// Warn logs warning messages with optional key/value pairs.
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	if l == nil {
		return
	}
	l.base.Warn().Fields(kvToMap(keyvals...)).Msg(msg)
}

// Error logs error messages with optional key/value pairs.
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	if l == nil {
		return
	}
	l.base.Error().Fields(kvToMap(keyvals...)).Msg(msg)
}

// kvToMap converts a flat list of key/value pairs into a map for zerolog.
func kvToMap(kv ...interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i < len(kv)-1; i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[key] = kv[i+1]
	}
	return fields
}
