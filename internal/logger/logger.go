package logger

import (
	"strings"

	"github.com/gookit/slog"
	"github.com/gookit/slog/handler"
)

// Logger is the minimal logging surface shared by services and handlers.
type Logger interface {
	Debug(args ...any)
	Info(args ...any)
	Warn(args ...any)
	Error(args ...any)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Fields carries structured key/values attached to a single record.
type Fields map[string]any

// Log is the process-wide logger. It defaults to info level until Init runs.
var Log Logger = New("info")

// Init replaces the process-wide logger with one at the given level.
func Init(level string) {
	Log = New(level)
}

// New builds a gookit/slog logger writing JSON lines to the console.
// Unknown levels fall back to info.
func New(level string) Logger {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		level = "info"
	}
	logLevel := slog.LevelByName(level)

	var levels slog.Levels
	for _, lv := range slog.AllLevels {
		if lv <= logLevel {
			levels = append(levels, lv)
		}
	}

	h := handler.NewConsoleHandler(levels)
	h.SetFormatter(slog.NewJSONFormatter(func(f *slog.JSONFormatter) {
		f.Fields = []string{
			slog.FieldKeyDatetime,
			slog.FieldKeyLevel,
			slog.FieldKeyMessage,
		}
		f.Aliases = slog.StringMap{
			slog.FieldKeyDatetime: "datetime",
			slog.FieldKeyLevel:    "level",
			slog.FieldKeyMessage:  "message",
		}
		f.TimeFormat = "2006-01-02T15:04:05.000Z07:00"
	}))

	return slog.NewWithHandlers(h)
}

// With returns a record carrying fields when l is backed by gookit/slog,
// otherwise l itself.
func With(l Logger, fields Fields) Logger {
	if lg, ok := l.(*slog.Logger); ok {
		return lg.WithFields(slog.M(fields))
	}
	return l
}
