// Package logger provides context-aware structured logging on top of
// logrus. Components pull their logger from the context so scan-scoped
// fields (skill name, scan id) follow the work across goroutines.
package logger

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// G is a convenience alias for GetLogger.
	G = GetLogger
	// L is the global fallback entry used when the context carries no
	// logger.
	L = logrus.NewEntry(newLogger())
)

type loggerKey struct{}

// WithLogger attaches a logger entry to the context.
func WithLogger(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, entry.WithContext(ctx))
}

// GetLogger retrieves the logger from the context, falling back to the
// global entry.
func GetLogger(ctx context.Context) *logrus.Entry {
	if entry, ok := ctx.Value(loggerKey{}).(*logrus.Entry); ok {
		return entry
	}
	return L.WithContext(ctx)
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	SetLogFormatForLogger(l, "text")
	return l
}

// SetLogLevel sets the level of the global logger.
func SetLogLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	L.Logger.SetLevel(parsed)
	return nil
}

// SetLogFormat switches the global logger between text and JSON
// output.
func SetLogFormat(format string) {
	SetLogFormatForLogger(L.Logger, format)
}

// SetLogFormatForLogger configures the formatter on a specific logger.
func SetLogFormatForLogger(l *logrus.Logger, format string) {
	switch format {
	case "json":
		l.Formatter = &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	default:
		l.Formatter = &logrus.TextFormatter{
			TimestampFormat: time.RFC3339Nano,
			FullTimestamp:   true,
		}
	}
}

// SetLogOutput redirects the global logger.
func SetLogOutput(w io.Writer) {
	L.Logger.SetOutput(w)
}
