package shouter

import (
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Access log events.
const (
	eventAccepted = "accepted"
	eventRejected = "rejected"
	eventRequest  = "request"
	eventUnmapped = "unmapped"
	eventDownload = "download"
	eventDropped  = "dropped"
	eventClosed   = "closed"
)

type accessLog struct {
	logger *slog.Logger
	closer io.Closer
}

// newAccessLog writes JSON lines to a rotated file at path, or to fallback
// when path is empty.
func newAccessLog(path string, fallback *slog.Logger) *accessLog {
	if path == "" {
		return &accessLog{logger: fallback.With("log", "access")}
	}

	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
	return &accessLog{
		logger: slog.New(slog.NewJSONHandler(w, nil)),
		closer: w,
	}
}

func (a *accessLog) log(event string, args ...any) {
	a.logger.Info(event, args...)
}

func (a *accessLog) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}
