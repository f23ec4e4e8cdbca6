package adaptertest

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/eventfold/eventfold"
)

func RunPendingStoreTest(t *testing.T, factory func(t *testing.T) eventfold.PendingStore) {
	tests := []func(t *testing.T, store eventfold.PendingStore){
		testPendingCreateLookup,
		testPendingListByStatus,
		testPendingUpdateStatus,
	}

	for _, test := range tests {
		test(t, factory(t))
	}
}

func testPendingCreateLookup(t *testing.T, store eventfold.PendingStore) {
	t.Run("Create and Lookup", func(t *testing.T) {
		ctx := context.Background()

		p := &eventfold.PendingEvent{
			Candidate: eventfold.Candidate{
				Cmd:           "shipOrder",
				Data:          eventfold.Data{"orderId": "O1"},
				CorrelationID: "txn-1",
			},
			WaitFor: eventfold.WaitFor{
				All: []eventfold.Pattern{{Cmd: "paid"}, {Cmd: "packed"}},
			},
			Status:    eventfold.PendingStatusPending,
			ExpiresAt: time.Now().Add(time.Hour).Truncate(time.Millisecond),
		}

		err := store.Create(ctx, p)
		jtest.RequireNil(t, err)
		require.NotZero(t, p.ID)
		require.False(t, p.CreatedAt.IsZero(), "store must assign CreatedAt")

		stored, err := store.Lookup(ctx, p.ID)
		jtest.RequireNil(t, err)
		require.Equal(t, "shipOrder", stored.Candidate.Cmd)
		require.Equal(t, "txn-1", stored.Candidate.CorrelationID)
		require.Equal(t, p.WaitFor, stored.WaitFor)
		require.Equal(t, eventfold.PendingStatusPending, stored.Status)
		require.True(t, stored.ExpiresAt.Equal(p.ExpiresAt))

		_, err = store.Lookup(ctx, 9999)
		jtest.Require(t, eventfold.ErrPendingNotFound, err)
	})
}

func testPendingListByStatus(t *testing.T, store eventfold.PendingStore) {
	t.Run("ListByStatus", func(t *testing.T) {
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			p := &eventfold.PendingEvent{
				Candidate: eventfold.Candidate{Cmd: "c" + strconv.Itoa(i)},
				WaitFor:   eventfold.WaitFor{Any: []eventfold.Pattern{{Cmd: "x"}}},
				Status:    eventfold.PendingStatusPending,
			}
			err := store.Create(ctx, p)
			jtest.RequireNil(t, err)
		}

		outstanding, err := store.ListByStatus(ctx, eventfold.PendingStatusPending)
		jtest.RequireNil(t, err)
		require.Len(t, outstanding, 3)
		for i := 1; i < len(outstanding); i++ {
			require.Greater(t, outstanding[i].ID, outstanding[i-1].ID)
		}

		err = store.UpdateStatus(ctx, outstanding[0].ID, eventfold.PendingStatusPending, eventfold.PendingStatusCancelled)
		jtest.RequireNil(t, err)

		outstanding, err = store.ListByStatus(ctx, eventfold.PendingStatusPending)
		jtest.RequireNil(t, err)
		require.Len(t, outstanding, 2)

		cancelled, err := store.ListByStatus(ctx, eventfold.PendingStatusCancelled)
		jtest.RequireNil(t, err)
		require.Len(t, cancelled, 1)
	})
}

func testPendingUpdateStatus(t *testing.T, store eventfold.PendingStore) {
	t.Run("UpdateStatus", func(t *testing.T) {
		ctx := context.Background()

		p := &eventfold.PendingEvent{
			Candidate: eventfold.Candidate{Cmd: "shipOrder"},
			WaitFor:   eventfold.WaitFor{Any: []eventfold.Pattern{{Cmd: "x"}}},
			Status:    eventfold.PendingStatusPending,
		}
		err := store.Create(ctx, p)
		jtest.RequireNil(t, err)

		err = store.UpdateStatus(ctx, p.ID, eventfold.PendingStatusPending, eventfold.PendingStatusReady)
		jtest.RequireNil(t, err)

		// The stored status is no longer pending so the same transition fails.
		err = store.UpdateStatus(ctx, p.ID, eventfold.PendingStatusPending, eventfold.PendingStatusCancelled)
		jtest.Require(t, eventfold.ErrPendingTransition, err)

		err = store.UpdateStatus(ctx, 9999, eventfold.PendingStatusPending, eventfold.PendingStatusReady)
		jtest.Require(t, eventfold.ErrPendingNotFound, err)

		err = store.UpdateStatus(ctx, p.ID, eventfold.PendingStatusReady, eventfold.PendingStatusExecuted)
		jtest.RequireNil(t, err)

		stored, err := store.Lookup(ctx, p.ID)
		jtest.RequireNil(t, err)
		require.Equal(t, eventfold.PendingStatusExecuted, stored.Status)
	})
}
