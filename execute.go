package eventfold

import (
	"context"

	"k8s.io/utils/clock"

	"github.com/eventfold/eventfold/internal/metrics"
)

// executor drives the terminal, single-pass state machine per event:
// received -> migrated -> dispatched -> {succeeded | failed}.
type executor struct {
	logName    string
	model      Model
	callbacks  Callbacks
	migrations *Migrations
	clock      clock.PassiveClock
	logger     Logger
	debugMode  bool
}

// execute runs one record through migration, dispatch and the callback
// contract. It reports whether the execution failed; failures are routed to the
// error callback and never returned, so one bad event cannot abort a
// surrounding replay loop.
func (e *executor) execute(ctx context.Context, r Record) bool {
	t0 := e.clock.Now()
	defer func() {
		metrics.ExecuteLatency.WithLabelValues(e.logName).Observe(e.clock.Since(t0).Seconds())
	}()

	data, version, err := e.migrations.Apply(r.Cmd, r.Data, r.Version)
	if err != nil {
		e.fail(ctx, r, err)
		return true
	}

	// The migrated view is what the handler sees; the stored record keeps its
	// authored version and data.
	migrated := r
	migrated.Data = data
	migrated.Version = version

	handler, ok := e.model.Handler(migrated.Cmd)
	if !ok {
		handler = e.model.Fallback()
	}

	if handler == nil {
		// No handler and no fallback, the event only lives in the log.
		e.callbacks.success(ctx, nil, migrated)
		return false
	}

	if e.debugMode {
		e.logger.Debug(ctx, "executing event", MKV{
			"log_name":       e.logName,
			"cmd":            migrated.Cmd,
			"event_id":       itoa(migrated.ID),
			"correlation_id": migrated.CorrelationID,
		})
	}

	result, err := handler(ctx, migrated.Data, execMeta(&migrated))
	if err != nil {
		e.fail(ctx, migrated, err)
		return true
	}

	e.callbacks.success(ctx, result, migrated)
	return false
}

func (e *executor) fail(ctx context.Context, r Record, err error) {
	metrics.ExecutionErrors.WithLabelValues(e.logName, r.Cmd).Inc()
	e.callbacks.failure(ctx, r, err)
}
