package memory

import (
	"context"

	"github.com/charmbracelet/log"
)

// NamedLogger returns l, or the default logger when l is nil, tagged with prefix.
func NamedLogger(l *log.Logger, prefix string) *log.Logger {
	if l == nil {
		l = log.Default()
	}
	return l.WithPrefix(prefix)
}

// LogFailure logs err at error level, unless ctx is done, in which case the
// failure is a cancellation and goes to debug.
func LogFailure(ctx context.Context, l *log.Logger, msg string, err error, keyvals ...interface{}) {
	keyvals = append(keyvals, "error", err)
	if ctx.Err() != nil {
		l.Debug(msg+" (cancelled)", keyvals...)
		return
	}
	l.Error(msg, keyvals...)
}
