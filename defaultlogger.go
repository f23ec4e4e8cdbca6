package eventfold

import (
	"context"
	"io"
	"log/slog"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// newSlogLogger is the logger used when the builder is given none. Structured
// JSON on the provided writer; debug level is enabled because the log has a
// debug mode of its own.
func newSlogLogger(w io.Writer) *slogLogger {
	opts := slog.HandlerOptions{
		Level: slog.LevelDebug,
	}

	return &slogLogger{
		log: slog.New(slog.NewJSONHandler(w, &opts)),
	}
}

type slogLogger struct {
	log *slog.Logger
}

func (l *slogLogger) Debug(ctx context.Context, msg string, meta MKV) {
	l.log.DebugContext(ctx, msg, "meta", map[string]string(meta))
}

func (l *slogLogger) Error(ctx context.Context, err error) {
	l.log.ErrorContext(ctx, err.Error())
}

var _ Logger = (*slogLogger)(nil)

// loggingErrorFunc is the error callback installed when the caller registers
// none, so failures are never silently dropped.
func loggingErrorFunc(l *Log) ErrorFunc {
	return func(ctx context.Context, f Failure) {
		l.logger.Error(ctx, errors.Wrap(f.Err, "event execution failed", j.MKV{
			"log_name":       l.name,
			"cmd":            f.Cmd,
			"correlation_id": f.CorrelationID,
		}))
	}
}
