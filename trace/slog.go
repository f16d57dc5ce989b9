package trace

import (
	"context"
	"log/slog"
	"strings"
)

// Slog returns a Logger writing events to l at debug level, one record per
// line with the terminator trimmed.
func Slog(l *slog.Logger) Logger {
	return Func(func(e Event) {
		if !l.Enabled(context.Background(), slog.LevelDebug) {
			return
		}
		attrs := []slog.Attr{
			slog.String("session", e.SessionID),
			slog.String("dir", e.Direction.String()),
		}
		if e.Port != "" {
			attrs = append(attrs, slog.String("port", e.Port))
		}
		if e.Error != "" {
			attrs = append(attrs, slog.String("err", e.Error))
		} else {
			attrs = append(attrs, slog.String("line", strings.TrimRight(e.Line, "\r\n")))
		}
		l.LogAttrs(context.Background(), slog.LevelDebug, "wire", attrs...)
	})
}
