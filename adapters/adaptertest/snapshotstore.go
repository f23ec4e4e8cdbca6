package adaptertest

import (
	"context"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/eventfold/eventfold"
)

func RunSnapshotStoreTest(t *testing.T, factory func(t *testing.T) eventfold.SnapshotStore) {
	tests := []func(t *testing.T, store eventfold.SnapshotStore){
		testSnapshotCreateLatest,
		testSnapshotList,
		testSnapshotDelete,
		testSnapshotDeleteOlderThan,
	}

	for _, test := range tests {
		test(t, factory(t))
	}
}

func makeSnapshot(modelName string, eventID int64) *eventfold.Snapshot {
	return &eventfold.Snapshot{
		ID:        uuid.NewString(),
		ModelName: modelName,
		EventID:   eventID,
		State:     []byte(`{"orders":[{"id":"` + strconv.FormatInt(eventID, 10) + `"}]}`),
		Meta:      eventfold.Meta{"trigger": "test"},
	}
}

func testSnapshotCreateLatest(t *testing.T, store eventfold.SnapshotStore) {
	t.Run("Create and LatestBefore", func(t *testing.T) {
		ctx := context.Background()

		for _, eventID := range []int64{10, 20, 30} {
			err := store.Create(ctx, makeSnapshot("orders", eventID))
			jtest.RequireNil(t, err)
		}

		snap, err := store.LatestBefore(ctx, "orders", 25)
		jtest.RequireNil(t, err)
		require.Equal(t, int64(20), snap.EventID)
		require.False(t, snap.CreatedAt.IsZero())

		snap, err = store.LatestBefore(ctx, "orders", 30)
		jtest.RequireNil(t, err)
		require.Equal(t, int64(30), snap.EventID)

		_, err = store.LatestBefore(ctx, "orders", 9)
		jtest.Require(t, eventfold.ErrSnapshotNotFound, err)

		_, err = store.LatestBefore(ctx, "unknown", 100)
		jtest.Require(t, eventfold.ErrSnapshotNotFound, err)
	})

	t.Run("Create replaces same key", func(t *testing.T) {
		ctx := context.Background()

		first := makeSnapshot("accounts", 5)
		err := store.Create(ctx, first)
		jtest.RequireNil(t, err)

		second := makeSnapshot("accounts", 5)
		second.State = []byte(`{"accounts":[]}`)
		err = store.Create(ctx, second)
		jtest.RequireNil(t, err)

		snap, err := store.LatestBefore(ctx, "accounts", 5)
		jtest.RequireNil(t, err)
		require.Equal(t, second.ID, snap.ID)
		require.Equal(t, second.State, snap.State)

		snaps, err := store.List(ctx, "accounts")
		jtest.RequireNil(t, err)
		require.Len(t, snaps, 1)
	})
}

func testSnapshotList(t *testing.T, store eventfold.SnapshotStore) {
	t.Run("List", func(t *testing.T) {
		ctx := context.Background()

		for _, eventID := range []int64{10, 30, 20} {
			err := store.Create(ctx, makeSnapshot("orders", eventID))
			jtest.RequireNil(t, err)
		}

		snaps, err := store.List(ctx, "orders")
		jtest.RequireNil(t, err)
		require.Len(t, snaps, 3)
		require.Equal(t, int64(30), snaps[0].EventID)
		require.Equal(t, int64(20), snaps[1].EventID)
		require.Equal(t, int64(10), snaps[2].EventID)

		snaps, err = store.List(ctx, "unknown")
		jtest.RequireNil(t, err)
		require.Empty(t, snaps)
	})
}

func testSnapshotDelete(t *testing.T, store eventfold.SnapshotStore) {
	t.Run("Delete", func(t *testing.T) {
		ctx := context.Background()

		err := store.Create(ctx, makeSnapshot("orders", 10))
		jtest.RequireNil(t, err)

		deleted, err := store.Delete(ctx, "orders", 10)
		jtest.RequireNil(t, err)
		require.True(t, deleted)

		deleted, err = store.Delete(ctx, "orders", 10)
		jtest.RequireNil(t, err)
		require.False(t, deleted)
	})
}

func testSnapshotDeleteOlderThan(t *testing.T, store eventfold.SnapshotStore) {
	t.Run("DeleteOlderThan", func(t *testing.T) {
		ctx := context.Background()

		for _, eventID := range []int64{10, 20, 30, 40} {
			err := store.Create(ctx, makeSnapshot("orders", eventID))
			jtest.RequireNil(t, err)
		}

		count, err := store.DeleteOlderThan(ctx, "orders", 30)
		jtest.RequireNil(t, err)
		require.Equal(t, 2, count)

		snaps, err := store.List(ctx, "orders")
		jtest.RequireNil(t, err)
		require.Len(t, snaps, 2)
		require.Equal(t, int64(40), snaps[0].EventID)
		require.Equal(t, int64(30), snaps[1].EventID)
	})
}
