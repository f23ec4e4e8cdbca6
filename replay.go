package eventfold

import (
	"context"

	"github.com/eventfold/eventfold/internal/errorcounter"
	"github.com/eventfold/eventfold/internal/metrics"
)

// ReplaySummary tallies one replay run. Failures maps cmd to the number of
// failed executions attributed to it; every failure was also forwarded to the
// error callback as it happened.
type ReplaySummary struct {
	Processed int64
	Failed    int64
	Failures  map[string]int
}

type replayOptions struct {
	start     int64
	stop      int64
	batchSize int
}

type ReplayOption func(*replayOptions)

// WithStartAt begins the replay at the given event id, inclusive. The default
// is the earliest record; RestoreResult.ReplayFrom plugs in here.
func WithStartAt(id int64) ReplayOption {
	return func(ro *replayOptions) {
		ro.start = id
	}
}

// WithStopBefore ends the replay at the given event id, exclusive. The default
// is the end of the log.
func WithStopBefore(id int64) ReplayOption {
	return func(ro *replayOptions) {
		ro.stop = id
	}
}

func WithBatchSize(n int) ReplayOption {
	return func(ro *replayOptions) {
		ro.batchSize = n
	}
}

// CycleThrough reads the log in ascending id order and executes every record
// through the execution engine against the provided model, invoking callbacks
// exactly as live execution would. A failing record is tallied and forwarded to
// the error callback, then the replay continues: one bad historical event never
// aborts a rebuild.
//
// Replaying the same id range against a freshly initialised model with the same
// starting state produces identical resulting state, provided model handlers
// are pure.
func (l *Log) CycleThrough(ctx context.Context, model Model, cbs Callbacks, opts ...ReplayOption) (ReplaySummary, error) {
	ro := replayOptions{
		start:     1,
		batchSize: defaultScanBatchSize,
	}
	for _, opt := range opts {
		opt(&ro)
	}

	if ro.start < 1 {
		ro.start = 1
	}

	if ro.batchSize < 1 {
		ro.batchSize = defaultScanBatchSize
	}

	exec := &executor{
		logName:    l.name,
		model:      model,
		callbacks:  cbs,
		migrations: l.migrations,
		clock:      l.clock,
		logger:     l.logger,
		debugMode:  l.debugMode,
	}

	counter := errorcounter.New()
	summary := ReplaySummary{Failures: make(map[string]int)}

	next := ro.start
	for {
		batch, err := l.events.List(ctx, next, ro.batchSize)
		if err != nil {
			return summary, err
		}

		if len(batch) == 0 {
			break
		}

		var done bool
		for _, r := range batch {
			if ro.stop > 0 && r.ID >= ro.stop {
				done = true
				break
			}

			failed := exec.execute(ctx, r)
			summary.Processed++
			metrics.ReplayedEvents.WithLabelValues(l.name).Inc()

			if failed {
				summary.Failed++
				counter.Add(r.Cmd)
			}
		}

		if done {
			break
		}

		next = batch[len(batch)-1].ID + 1
	}

	for cmd, count := range counter.Counts() {
		summary.Failures[cmd] = count
	}

	return summary, nil
}
