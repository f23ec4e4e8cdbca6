package eventfold_test

import (
	"context"
	"testing"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/eventfold/eventfold"
	"github.com/eventfold/eventfold/adapters/memmodel"
)

// ledgerModel projects entry events into a ledger table and fails on the
// corruptEntry cmd.
func ledgerModel(name string) *memmodel.Model {
	m := memmodel.New(name)
	m.CreateTable("entries")

	m.RegisterHandler("addEntry", func(ctx context.Context, data eventfold.Data, meta eventfold.ExecMeta) (any, error) {
		m.Insert("entries", eventfold.Row{"ref": data["ref"]})
		return nil, nil
	})
	m.RegisterHandler("corruptEntry", func(ctx context.Context, data eventfold.Data, meta eventfold.ExecMeta) (any, error) {
		return nil, errors.New("bad entry")
	})
	m.RegisterFallback(func(ctx context.Context, data eventfold.Data, meta eventfold.ExecMeta) (any, error) {
		return nil, nil
	})

	return m
}

func TestCycleThrough(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)

	live := ledgerModel("ledger")
	log := buildLog(t, eventfold.NewBuilder("ledger"), live, clk)

	for _, ref := range []string{"e1", "e2", "e3"} {
		_, err := log.Append(ctx, eventfold.Candidate{Cmd: "addEntry", Data: eventfold.Data{"ref": ref}})
		jtest.RequireNil(t, err)
	}
	_, err := log.Append(ctx, eventfold.Candidate{Cmd: "corruptEntry"})
	jtest.RequireNil(t, err)

	var failures []eventfold.Failure
	cbs := eventfold.Callbacks{
		Error: func(ctx context.Context, f eventfold.Failure) {
			failures = append(failures, f)
		},
	}

	// A bad historical event is tallied and forwarded, never aborts the replay.
	replayed := ledgerModel("ledger")
	summary, err := log.CycleThrough(ctx, replayed, cbs)
	jtest.RequireNil(t, err)
	require.Equal(t, int64(4), summary.Processed)
	require.Equal(t, int64(1), summary.Failed)
	require.Equal(t, map[string]int{"corruptEntry": 1}, summary.Failures)
	require.Len(t, failures, 1)
	require.Equal(t, "corruptEntry", failures[0].Cmd)

	// Replaying the full log reproduces the live state, deterministically.
	require.Equal(t, live.Rows("entries"), replayed.Rows("entries"))

	again := ledgerModel("ledger")
	_, err = log.CycleThrough(ctx, again, eventfold.Callbacks{})
	jtest.RequireNil(t, err)
	require.Equal(t, replayed.Rows("entries"), again.Rows("entries"))
}

func TestCycleThroughWindow(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)

	log := buildLog(t, eventfold.NewBuilder("ledger"), ledgerModel("ledger"), clk)

	for _, ref := range []string{"e1", "e2", "e3", "e4", "e5"} {
		_, err := log.Append(ctx, eventfold.Candidate{Cmd: "addEntry", Data: eventfold.Data{"ref": ref}})
		jtest.RequireNil(t, err)
	}

	window := ledgerModel("ledger")
	summary, err := log.CycleThrough(ctx, window, eventfold.Callbacks{},
		eventfold.WithStartAt(2),
		eventfold.WithStopBefore(4),
		eventfold.WithBatchSize(1),
	)
	jtest.RequireNil(t, err)
	require.Equal(t, int64(2), summary.Processed)
	require.Zero(t, summary.Failed)

	rows := window.Rows("entries")
	require.Len(t, rows, 2)
	require.Equal(t, "e2", rows[0]["ref"])
	require.Equal(t, "e3", rows[1]["ref"])
}
