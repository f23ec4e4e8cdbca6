package eventfold

import (
	"context"
	"time"
)

// CallbackFunc observes the result of one successfully executed event.
type CallbackFunc func(ctx context.Context, result any, r Record)

// ErrorFunc observes one failed event execution. The original error is
// attached to the failure, never swallowed.
type ErrorFunc func(ctx context.Context, f Failure)

// Failure carries everything needed to attribute one failed execution.
type Failure struct {
	Msg           string
	Cmd           string
	Data          Data
	User          string
	IP            string
	CorrelationID string
	CausationID   int64
	Timestamp     time.Time
	Err           error
}

// Callbacks routes execution outcomes. A successful execution invokes the
// per-cmd entry if present, else Default. A failed execution invokes Error.
type Callbacks struct {
	Handlers map[string]CallbackFunc
	Default  CallbackFunc
	Error    ErrorFunc
}

func (c Callbacks) success(ctx context.Context, result any, r Record) {
	fn, ok := c.Handlers[r.Cmd]
	if !ok {
		fn = c.Default
	}

	if fn == nil {
		return
	}

	fn(ctx, result, r)
}

func (c Callbacks) failure(ctx context.Context, r Record, err error) {
	if c.Error == nil {
		return
	}

	c.Error(ctx, Failure{
		Msg:           err.Error(),
		Cmd:           r.Cmd,
		Data:          r.Data,
		User:          r.User,
		IP:            r.IP,
		CorrelationID: r.CorrelationID,
		CausationID:   r.CausationID,
		Timestamp:     r.Timestamp,
		Err:           err,
	})
}
