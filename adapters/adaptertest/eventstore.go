// Package adaptertest exports conformance test suites that every store adapter
// must pass. Adapter test files call the Run functions with a factory for a
// fresh store.
package adaptertest

import (
	"context"
	"strconv"
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/eventfold/eventfold"
)

func itoa(i int64) string {
	return strconv.FormatInt(i, 10)
}

func RunEventStoreTest(t *testing.T, factory func(t *testing.T) eventfold.EventStore) {
	tests := []func(t *testing.T, store eventfold.EventStore){
		testAppend,
		testAppendBatch,
		testLookup,
		testListByCorrelation,
		testListByCommand,
		testListChildren,
		testList,
		testReset,
		testRename,
	}

	for _, test := range tests {
		test(t, factory(t))
	}
}

func testAppend(t *testing.T, store eventfold.EventStore) {
	t.Run("Append", func(t *testing.T) {
		ctx := context.Background()

		var prev int64
		for i := 0; i < 5; i++ {
			r := &eventfold.Record{
				Version: 1,
				Cmd:     "createOrder",
				Data:    eventfold.Data{"index": i},
			}

			err := store.Append(ctx, r)
			jtest.RequireNil(t, err)

			require.Equal(t, prev+1, r.ID, "ids must increase by one per append")
			require.False(t, r.Timestamp.IsZero(), "store must assign the timestamp")
			prev = r.ID
		}

		last, err := store.LastID(ctx)
		jtest.RequireNil(t, err)
		require.Equal(t, int64(5), last)
	})

	t.Run("Append defaults correlation id", func(t *testing.T) {
		ctx := context.Background()

		r := &eventfold.Record{Version: 1, Cmd: "createOrder"}
		err := store.Append(ctx, r)
		jtest.RequireNil(t, err)
		require.Equal(t, itoa(r.ID), r.CorrelationID)

		stored, err := store.Lookup(ctx, r.ID)
		jtest.RequireNil(t, err)
		require.Equal(t, itoa(r.ID), stored.CorrelationID)

		r2 := &eventfold.Record{Version: 1, Cmd: "addItem", CorrelationID: "txn-1"}
		err = store.Append(ctx, r2)
		jtest.RequireNil(t, err)
		require.Equal(t, "txn-1", r2.CorrelationID)
	})
}

func testAppendBatch(t *testing.T, store eventfold.EventStore) {
	t.Run("AppendBatch", func(t *testing.T) {
		ctx := context.Background()

		batch := []*eventfold.Record{
			{Version: 1, Cmd: "a", CorrelationID: "batch"},
			{Version: 1, Cmd: "b", CorrelationID: "batch"},
			{Version: 1, Cmd: "c", CorrelationID: "batch"},
		}

		err := store.AppendBatch(ctx, batch)
		jtest.RequireNil(t, err)

		for i := 1; i < len(batch); i++ {
			require.Equal(t, batch[i-1].ID+1, batch[i].ID, "batch ids must increase in input order")
		}

		rs, err := store.ListByCorrelation(ctx, "batch")
		jtest.RequireNil(t, err)
		require.Len(t, rs, 3)
	})
}

func testLookup(t *testing.T, store eventfold.EventStore) {
	t.Run("Lookup", func(t *testing.T) {
		ctx := context.Background()

		r := &eventfold.Record{
			Version:       2,
			User:          "ana",
			IP:            "10.0.0.9",
			Cmd:           "createOrder",
			Data:          eventfold.Data{"customerId": "C1", "qty": float64(2)},
			CorrelationID: "txn-9",
			Meta:          eventfold.Meta{"reason": "signup"},
		}

		err := store.Append(ctx, r)
		jtest.RequireNil(t, err)

		stored, err := store.Lookup(ctx, r.ID)
		jtest.RequireNil(t, err)

		require.Equal(t, r.ID, stored.ID)
		require.Equal(t, 2, stored.Version)
		require.Equal(t, "ana", stored.User)
		require.Equal(t, "10.0.0.9", stored.IP)
		require.Equal(t, "createOrder", stored.Cmd)
		require.Equal(t, r.Data, stored.Data)
		require.Equal(t, "txn-9", stored.CorrelationID)
		require.Equal(t, r.Meta, stored.Meta)

		_, err = store.Lookup(ctx, 99999)
		jtest.Require(t, eventfold.ErrEventNotFound, err)
	})
}

func testListByCorrelation(t *testing.T, store eventfold.EventStore) {
	t.Run("ListByCorrelation", func(t *testing.T) {
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			err := store.Append(ctx, &eventfold.Record{Version: 1, Cmd: "a", CorrelationID: "txn-a"})
			jtest.RequireNil(t, err)
		}
		err := store.Append(ctx, &eventfold.Record{Version: 1, Cmd: "a", CorrelationID: "txn-b"})
		jtest.RequireNil(t, err)

		rs, err := store.ListByCorrelation(ctx, "txn-a")
		jtest.RequireNil(t, err)
		require.Len(t, rs, 3)
		for i := 1; i < len(rs); i++ {
			require.Greater(t, rs[i].ID, rs[i-1].ID)
			require.Equal(t, "txn-a", rs[i].CorrelationID)
		}
	})
}

func testListByCommand(t *testing.T, store eventfold.EventStore) {
	t.Run("ListByCommand", func(t *testing.T) {
		ctx := context.Background()

		err := store.Append(ctx, &eventfold.Record{Version: 1, Cmd: "paid", CorrelationID: "t1"})
		jtest.RequireNil(t, err)
		err = store.Append(ctx, &eventfold.Record{Version: 1, Cmd: "paid", CorrelationID: "t2"})
		jtest.RequireNil(t, err)
		err = store.Append(ctx, &eventfold.Record{Version: 1, Cmd: "packed", CorrelationID: "t1"})
		jtest.RequireNil(t, err)

		rs, err := store.ListByCommand(ctx, "paid")
		jtest.RequireNil(t, err)
		require.Len(t, rs, 2)

		rs, err = store.ListByCommand(ctx, "paid", eventfold.FilterByCorrelationID("t2"))
		jtest.RequireNil(t, err)
		require.Len(t, rs, 1)
		require.Equal(t, "t2", rs[0].CorrelationID)

		rs, err = store.ListByCommand(ctx, "paid", eventfold.FilterByMinID(2))
		jtest.RequireNil(t, err)
		require.Len(t, rs, 1)

		rs, err = store.ListByCommand(ctx, "paid", eventfold.FilterByMaxID(1))
		jtest.RequireNil(t, err)
		require.Len(t, rs, 1)
		require.Equal(t, int64(1), rs[0].ID)
	})
}

func testListChildren(t *testing.T, store eventfold.EventStore) {
	t.Run("ListChildren", func(t *testing.T) {
		ctx := context.Background()

		root := &eventfold.Record{Version: 1, Cmd: "createOrder"}
		err := store.Append(ctx, root)
		jtest.RequireNil(t, err)

		for i := 0; i < 2; i++ {
			err := store.Append(ctx, &eventfold.Record{Version: 1, Cmd: "addItem", CausationID: root.ID})
			jtest.RequireNil(t, err)
		}

		grandchild := &eventfold.Record{Version: 1, Cmd: "pack", CausationID: root.ID + 1}
		err = store.Append(ctx, grandchild)
		jtest.RequireNil(t, err)

		children, err := store.ListChildren(ctx, root.ID)
		jtest.RequireNil(t, err)
		require.Len(t, children, 2, "direct children only")
		for _, c := range children {
			require.Equal(t, root.ID, c.CausationID)
		}
	})
}

func testList(t *testing.T, store eventfold.EventStore) {
	t.Run("List", func(t *testing.T) {
		ctx := context.Background()

		for i := 0; i < 10; i++ {
			err := store.Append(ctx, &eventfold.Record{Version: 1, Cmd: "tick"})
			jtest.RequireNil(t, err)
		}

		batch, err := store.List(ctx, 1, 4)
		jtest.RequireNil(t, err)
		require.Len(t, batch, 4)
		require.Equal(t, int64(1), batch[0].ID)

		// Restart from where the previous batch stopped.
		batch, err = store.List(ctx, batch[len(batch)-1].ID+1, 100)
		jtest.RequireNil(t, err)
		require.Len(t, batch, 6)
		require.Equal(t, int64(5), batch[0].ID)
	})
}

func testReset(t *testing.T, store eventfold.EventStore) {
	t.Run("Reset", func(t *testing.T) {
		ctx := context.Background()

		r := &eventfold.Record{Version: 1, Cmd: "tick"}
		err := store.Append(ctx, r)
		jtest.RequireNil(t, err)

		err = store.Reset(ctx)
		jtest.RequireNil(t, err)

		last, err := store.LastID(ctx)
		jtest.RequireNil(t, err)
		require.Zero(t, last)

		_, err = store.Lookup(ctx, r.ID)
		jtest.Require(t, eventfold.ErrEventNotFound, err)
	})
}

func testRename(t *testing.T, store eventfold.EventStore) {
	t.Run("Rename", func(t *testing.T) {
		ctx := context.Background()

		err := store.Append(ctx, &eventfold.Record{Version: 1, Cmd: "tick"})
		jtest.RequireNil(t, err)

		err = store.Rename(ctx, "archived_log")
		jtest.RequireNil(t, err)

		last, err := store.LastID(ctx)
		jtest.RequireNil(t, err)
		require.Zero(t, last, "renamed log must start empty")

		err = store.Append(ctx, &eventfold.Record{Version: 1, Cmd: "tick"})
		jtest.RequireNil(t, err)
	})
}
