// Package logging is a thin zerolog facade: one root logger per process,
// subsystem-tagged children everywhere else.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger carries a zerolog.Logger plus the subsystem tagging scheme used
// across chatstudio.
type Logger struct {
	zl zerolog.Logger
}

// New builds the process root logger. A nil writer selects console output
// on stderr, which is where the chat prompt expects diagnostics to land.
// Level "silent" disables output entirely.
func New(w io.Writer, level string) *Logger {
	if w == nil {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	}
	zl := zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// Sub tags a child logger with a subsystem name ("chat", "provider.groq",
// "history.server", ...).
func (l *Logger) Sub(subsystem string) *Logger {
	return &Logger{zl: l.zl.With().Str("subsystem", subsystem).Logger()}
}

func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

var levelNames = map[string]zerolog.Level{
	"trace":  zerolog.TraceLevel,
	"debug":  zerolog.DebugLevel,
	"info":   zerolog.InfoLevel,
	"warn":   zerolog.WarnLevel,
	"error":  zerolog.ErrorLevel,
	"fatal":  zerolog.FatalLevel,
	"silent": zerolog.Disabled,
}

func parseLevel(s string) zerolog.Level {
	if lvl, ok := levelNames[s]; ok {
		return lvl
	}
	return zerolog.InfoLevel
}
