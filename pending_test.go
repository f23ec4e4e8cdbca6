package eventfold_test

import (
	"context"
	"testing"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/eventfold/eventfold"
	"github.com/eventfold/eventfold/adapters/memmodel"
	"github.com/eventfold/eventfold/adapters/memstore"
)

// shippingModel counts shipOrder executions so tests can assert exactly-once
// promotion.
func shippingModel() (*memmodel.Model, *int) {
	m := memmodel.New("shipping")
	var shipped int
	m.RegisterFallback(func(ctx context.Context, data eventfold.Data, meta eventfold.ExecMeta) (any, error) {
		return nil, nil
	})
	m.RegisterHandler("shipOrder", func(ctx context.Context, data eventfold.Data, meta eventfold.ExecMeta) (any, error) {
		shipped++
		return nil, nil
	})
	return m, &shipped
}

func requirePendingStatus(t *testing.T, log *eventfold.Log, id int64, status eventfold.PendingStatus) {
	t.Helper()

	p, err := log.Pending(context.Background(), id)
	jtest.RequireNil(t, err)
	require.Equal(t, status, p.Status)
}

func TestAppendWhenAll(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)
	model, shipped := shippingModel()
	log := buildLog(t, eventfold.NewBuilder("shipping"), model, clk)

	id, err := log.AppendWhen(ctx,
		eventfold.Candidate{Cmd: "shipOrder", Data: eventfold.Data{"orderId": "O1"}},
		eventfold.WaitFor{All: []eventfold.Pattern{{Cmd: "paid"}, {Cmd: "packed"}}},
	)
	jtest.RequireNil(t, err)
	requirePendingStatus(t, log, id, eventfold.PendingStatusPending)

	_, err = log.Append(ctx, eventfold.Candidate{Cmd: "paid"})
	jtest.RequireNil(t, err)
	requirePendingStatus(t, log, id, eventfold.PendingStatusPending)
	require.Zero(t, *shipped)

	_, err = log.Append(ctx, eventfold.Candidate{Cmd: "packed"})
	jtest.RequireNil(t, err)
	requirePendingStatus(t, log, id, eventfold.PendingStatusExecuted)
	require.Equal(t, 1, *shipped)

	// The promoted candidate is now an ordinary log record.
	rs, err := log.ByCommand(ctx, "shipOrder")
	jtest.RequireNil(t, err)
	require.Len(t, rs, 1)

	// Further matching appends do not re-execute a terminal pending event.
	_, err = log.Append(ctx, eventfold.Candidate{Cmd: "paid"})
	jtest.RequireNil(t, err)
	require.Equal(t, 1, *shipped)
}

func TestAppendWhenAny(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)
	model, shipped := shippingModel()
	log := buildLog(t, eventfold.NewBuilder("shipping"), model, clk)

	id, err := log.AppendWhen(ctx,
		eventfold.Candidate{Cmd: "shipOrder"},
		eventfold.WaitFor{Any: []eventfold.Pattern{{Cmd: "paid"}, {Cmd: "invoiced"}}},
	)
	jtest.RequireNil(t, err)

	_, err = log.Append(ctx, eventfold.Candidate{Cmd: "invoiced"})
	jtest.RequireNil(t, err)
	requirePendingStatus(t, log, id, eventfold.PendingStatusExecuted)
	require.Equal(t, 1, *shipped)
}

func TestAppendWhenSequence(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)
	model, shipped := shippingModel()
	log := buildLog(t, eventfold.NewBuilder("shipping"), model, clk)

	id, err := log.AppendWhen(ctx,
		eventfold.Candidate{Cmd: "shipOrder"},
		eventfold.WaitFor{Sequence: []eventfold.Pattern{{Cmd: "paid"}, {Cmd: "packed"}}},
	)
	jtest.RequireNil(t, err)

	// Out of order does not satisfy the sequence.
	_, err = log.Append(ctx, eventfold.Candidate{Cmd: "packed"})
	jtest.RequireNil(t, err)
	_, err = log.Append(ctx, eventfold.Candidate{Cmd: "paid"})
	jtest.RequireNil(t, err)
	requirePendingStatus(t, log, id, eventfold.PendingStatusPending)
	require.Zero(t, *shipped)

	// A packed event after the paid event completes the sequence.
	_, err = log.Append(ctx, eventfold.Candidate{Cmd: "packed"})
	jtest.RequireNil(t, err)
	requirePendingStatus(t, log, id, eventfold.PendingStatusExecuted)
	require.Equal(t, 1, *shipped)
}

func TestAppendWhenCount(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)
	model, shipped := shippingModel()
	log := buildLog(t, eventfold.NewBuilder("shipping"), model, clk)

	id, err := log.AppendWhen(ctx,
		eventfold.Candidate{Cmd: "shipOrder"},
		eventfold.WaitFor{Count: &eventfold.CountCondition{
			Pattern: eventfold.Pattern{Cmd: "itemPacked"},
			Count:   3,
		}},
	)
	jtest.RequireNil(t, err)

	for i := 0; i < 2; i++ {
		_, err = log.Append(ctx, eventfold.Candidate{Cmd: "itemPacked"})
		jtest.RequireNil(t, err)
	}
	requirePendingStatus(t, log, id, eventfold.PendingStatusPending)
	require.Zero(t, *shipped)

	_, err = log.Append(ctx, eventfold.Candidate{Cmd: "itemPacked"})
	jtest.RequireNil(t, err)
	requirePendingStatus(t, log, id, eventfold.PendingStatusExecuted)
	require.Equal(t, 1, *shipped)

	// A fourth match does not execute it again.
	_, err = log.Append(ctx, eventfold.Candidate{Cmd: "itemPacked"})
	jtest.RequireNil(t, err)
	require.Equal(t, 1, *shipped)
}

func TestAppendWhenWhere(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)
	model, shipped := shippingModel()
	log := buildLog(t, eventfold.NewBuilder("shipping"), model, clk)

	id, err := log.AppendWhen(ctx,
		eventfold.Candidate{Cmd: "shipOrder"},
		eventfold.WaitFor{All: []eventfold.Pattern{{
			Cmd:           "paid",
			CorrelationID: "txn-1",
			Where:         eventfold.Data{"orderId": "O1", "amount": 100},
		}}},
	)
	jtest.RequireNil(t, err)

	// Same cmd, wrong data.
	_, err = log.Append(ctx, eventfold.Candidate{
		Cmd:           "paid",
		Data:          eventfold.Data{"orderId": "O2", "amount": 100},
		CorrelationID: "txn-1",
	})
	jtest.RequireNil(t, err)

	// Right data, wrong correlation.
	_, err = log.Append(ctx, eventfold.Candidate{
		Cmd:           "paid",
		Data:          eventfold.Data{"orderId": "O1", "amount": 100},
		CorrelationID: "txn-2",
	})
	jtest.RequireNil(t, err)
	requirePendingStatus(t, log, id, eventfold.PendingStatusPending)

	_, err = log.Append(ctx, eventfold.Candidate{
		Cmd:           "paid",
		Data:          eventfold.Data{"orderId": "O1", "amount": 100},
		CorrelationID: "txn-1",
	})
	jtest.RequireNil(t, err)
	requirePendingStatus(t, log, id, eventfold.PendingStatusExecuted)
	require.Equal(t, 1, *shipped)
}

func TestAppendWhenAlreadySatisfied(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)
	model, shipped := shippingModel()
	log := buildLog(t, eventfold.NewBuilder("shipping"), model, clk)

	_, err := log.Append(ctx, eventfold.Candidate{Cmd: "paid"})
	jtest.RequireNil(t, err)

	// Conditions already hold, the candidate executes during AppendWhen.
	id, err := log.AppendWhen(ctx,
		eventfold.Candidate{Cmd: "shipOrder"},
		eventfold.WaitFor{All: []eventfold.Pattern{{Cmd: "paid"}}},
	)
	jtest.RequireNil(t, err)
	requirePendingStatus(t, log, id, eventfold.PendingStatusExecuted)
	require.Equal(t, 1, *shipped)
}

func TestAppendWhenValidation(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)
	log := buildLog(t, eventfold.NewBuilder("shipping"), memmodel.New("shipping"), clk)

	_, err := log.AppendWhen(ctx, eventfold.Candidate{}, eventfold.WaitFor{
		All: []eventfold.Pattern{{Cmd: "paid"}},
	})
	jtest.Require(t, eventfold.ErrEmptyCmd, err)

	tests := []struct {
		name string
		w    eventfold.WaitFor
	}{
		{name: "no combinator", w: eventfold.WaitFor{}},
		{
			name: "multiple combinators",
			w: eventfold.WaitFor{
				All: []eventfold.Pattern{{Cmd: "paid"}},
				Any: []eventfold.Pattern{{Cmd: "packed"}},
			},
		},
		{
			name: "empty pattern cmd",
			w:    eventfold.WaitFor{All: []eventfold.Pattern{{Cmd: ""}}},
		},
		{
			name: "non positive count",
			w: eventfold.WaitFor{Count: &eventfold.CountCondition{
				Pattern: eventfold.Pattern{Cmd: "paid"},
			}},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			jtest.Require(t, eventfold.ErrMalformedWaitFor, test.w.Validate())

			_, err := log.AppendWhen(ctx, eventfold.Candidate{Cmd: "shipOrder"}, test.w)
			jtest.Require(t, eventfold.ErrMalformedWaitFor, err)
		})
	}

	// Nothing was stored by the rejected requests.
	outstanding, err := log.ListPending(ctx, eventfold.PendingStatusPending)
	jtest.RequireNil(t, err)
	require.Empty(t, outstanding)
}

func TestPendingExpiry(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)
	model, shipped := shippingModel()
	log := buildLog(t, eventfold.NewBuilder("shipping"), model, clk)

	id, err := log.AppendWhen(ctx,
		eventfold.Candidate{Cmd: "shipOrder"},
		eventfold.WaitFor{All: []eventfold.Pattern{{Cmd: "paid"}}},
		eventfold.WithTimeout(time.Hour),
	)
	jtest.RequireNil(t, err)

	p, err := log.Pending(ctx, id)
	jtest.RequireNil(t, err)
	require.True(t, p.ExpiresAt.Equal(t0.Add(time.Hour)))

	clk.SetTime(t0.Add(2 * time.Hour))

	// A satisfying append after the deadline sweeps the event out instead of
	// promoting it.
	_, err = log.Append(ctx, eventfold.Candidate{Cmd: "paid"})
	jtest.RequireNil(t, err)
	requirePendingStatus(t, log, id, eventfold.PendingStatusExpired)
	require.Zero(t, *shipped)
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)
	log := buildLog(t, eventfold.NewBuilder("shipping"), memmodel.New("shipping"), clk)

	for i := 0; i < 2; i++ {
		_, err := log.AppendWhen(ctx,
			eventfold.Candidate{Cmd: "shipOrder"},
			eventfold.WaitFor{All: []eventfold.Pattern{{Cmd: "paid"}}},
			eventfold.WithTimeout(time.Minute),
		)
		jtest.RequireNil(t, err)
	}

	// Without a timeout the pending event never expires.
	forever, err := log.AppendWhen(ctx,
		eventfold.Candidate{Cmd: "shipOrder"},
		eventfold.WaitFor{All: []eventfold.Pattern{{Cmd: "paid"}}},
	)
	jtest.RequireNil(t, err)

	swept, err := log.SweepExpired(ctx)
	jtest.RequireNil(t, err)
	require.Zero(t, swept)

	clk.SetTime(t0.Add(time.Hour))

	swept, err = log.SweepExpired(ctx)
	jtest.RequireNil(t, err)
	require.Equal(t, 2, swept)
	requirePendingStatus(t, log, forever, eventfold.PendingStatusPending)

	expired, err := log.ListPending(ctx, eventfold.PendingStatusExpired)
	jtest.RequireNil(t, err)
	require.Len(t, expired, 2)
}

func TestCancelPending(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)
	model, shipped := shippingModel()
	log := buildLog(t, eventfold.NewBuilder("shipping"), model, clk)

	id, err := log.AppendWhen(ctx,
		eventfold.Candidate{Cmd: "shipOrder"},
		eventfold.WaitFor{All: []eventfold.Pattern{{Cmd: "paid"}}},
	)
	jtest.RequireNil(t, err)

	err = log.CancelPending(ctx, id)
	jtest.RequireNil(t, err)
	requirePendingStatus(t, log, id, eventfold.PendingStatusCancelled)

	// Cancelled events never execute.
	_, err = log.Append(ctx, eventfold.Candidate{Cmd: "paid"})
	jtest.RequireNil(t, err)
	require.Zero(t, *shipped)

	// Cancellation only succeeds from pending.
	err = log.CancelPending(ctx, id)
	jtest.Require(t, eventfold.ErrPendingTransition, err)

	err = log.CancelPending(ctx, 999)
	jtest.Require(t, eventfold.ErrPendingNotFound, err)
}

// flakyEventStore rejects the first failures appends of shipOrder records so
// tests can exercise a store error mid-promotion.
type flakyEventStore struct {
	eventfold.EventStore
	failures int
}

func (s *flakyEventStore) Append(ctx context.Context, r *eventfold.Record) error {
	if s.failures > 0 && r.Cmd == "shipOrder" {
		s.failures--
		return errors.New("store unavailable")
	}

	return s.EventStore.Append(ctx, r)
}

func TestPromoteAppendFailureRequeues(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)
	model, shipped := shippingModel()

	events := &flakyEventStore{
		EventStore: memstore.New(memstore.WithClock(clk)),
		failures:   1,
	}
	log := eventfold.NewBuilder("shipping").Build(
		events,
		memstore.NewPending(memstore.WithClock(clk)),
		memstore.NewSnapshots(memstore.WithClock(clk)),
		model,
		eventfold.WithClock(clk),
		eventfold.WithLogger(eventfold.NopLogger()),
	)

	id, err := log.AppendWhen(ctx,
		eventfold.Candidate{Cmd: "shipOrder"},
		eventfold.WaitFor{All: []eventfold.Pattern{{Cmd: "paid"}}},
	)
	jtest.RequireNil(t, err)

	// The satisfying append commits, but promoting the deferred candidate hits
	// the store error; the event must be requeued, not stranded in ready.
	_, err = log.Append(ctx, eventfold.Candidate{Cmd: "paid"})
	require.Error(t, err)
	requirePendingStatus(t, log, id, eventfold.PendingStatusPending)
	require.Zero(t, *shipped)

	// The next evaluation pass retries the promotion and succeeds.
	err = log.CheckPending(ctx)
	jtest.RequireNil(t, err)
	requirePendingStatus(t, log, id, eventfold.PendingStatusExecuted)
	require.Equal(t, 1, *shipped)
}

func TestTransitiveUnblocking(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)

	model := memmodel.New("pipeline")
	var executed []string
	model.RegisterFallback(func(ctx context.Context, data eventfold.Data, meta eventfold.ExecMeta) (any, error) {
		executed = append(executed, meta.Meta["step"].(string))
		return nil, nil
	})

	log := buildLog(t, eventfold.NewBuilder("pipeline"), model, clk)

	// step2 waits on step1, step3 waits on step2, both registered before
	// anything happened.
	_, err := log.AppendWhen(ctx,
		eventfold.Candidate{Cmd: "step3", Meta: eventfold.Meta{"step": "step3"}},
		eventfold.WaitFor{All: []eventfold.Pattern{{Cmd: "step2"}}},
	)
	jtest.RequireNil(t, err)

	_, err = log.AppendWhen(ctx,
		eventfold.Candidate{Cmd: "step2", Meta: eventfold.Meta{"step": "step2"}},
		eventfold.WaitFor{All: []eventfold.Pattern{{Cmd: "step1"}}},
	)
	jtest.RequireNil(t, err)

	// One append unblocks the whole chain before it returns.
	_, err = log.Append(ctx, eventfold.Candidate{Cmd: "step1", Meta: eventfold.Meta{"step": "step1"}})
	jtest.RequireNil(t, err)

	require.Equal(t, []string{"step1", "step2", "step3"}, executed)

	last, err := log.LastID(ctx)
	jtest.RequireNil(t, err)
	require.Equal(t, int64(3), last)

	outstanding, err := log.ListPending(ctx, eventfold.PendingStatusPending)
	jtest.RequireNil(t, err)
	require.Empty(t, outstanding)
}
