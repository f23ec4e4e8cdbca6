package eventfold

import (
	"context"
	"math"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/eventfold/eventfold/internal/metrics"
)

// SnapshotRef identifies a created snapshot.
type SnapshotRef struct {
	SnapshotID string
	ModelName  string
	EventID    int64
}

// RestoreResult reports the outcome of a snapshot restore. When no snapshot
// qualified, Found is false and ReplayFrom is 0, meaning a full replay is
// required. Otherwise ReplayFrom is the event id replay must resume from.
type RestoreResult struct {
	Found      bool
	EventID    int64
	ReplayFrom int64
}

// CreateSnapshot serializes the model's entire relational state, every table
// and every row, keyed by (modelName, eventID) where eventID is the id of the
// last event whose effects are included in that state. If exporting any table
// fails, nothing is written.
func (l *Log) CreateSnapshot(ctx context.Context, modelName string, eventID int64, model Snapshotter, meta Meta) (SnapshotRef, error) {
	state := make(map[string][]Row)
	for _, table := range model.Tables() {
		rows, err := model.ExportTable(ctx, table)
		if err != nil {
			return SnapshotRef{}, errors.Wrap(err, "export table", j.MKV{
				"model_name": modelName,
				"table":      table,
			})
		}

		state[table] = rows
	}

	b, err := Marshal(&state)
	if err != nil {
		return SnapshotRef{}, errors.Wrap(err, "serialize snapshot state")
	}

	snap := &Snapshot{
		ID:        uuid.NewString(),
		ModelName: modelName,
		EventID:   eventID,
		State:     b,
		Meta:      meta,
	}

	err = l.snapshots.Create(ctx, snap)
	if err != nil {
		return SnapshotRef{}, err
	}

	metrics.SnapshotsCreated.WithLabelValues(modelName).Inc()

	return SnapshotRef{
		SnapshotID: snap.ID,
		ModelName:  modelName,
		EventID:    eventID,
	}, nil
}

// RestoreSnapshot finds the latest snapshot for modelName with an event id of
// at most maxEventID and installs its state into the target model, truncating
// the target's tables first. Tables of the target not present in the snapshot
// are left empty so the target exactly mirrors the captured state.
//
// A missing snapshot is not an error: the result carries Found=false and
// ReplayFrom=0 so recovery flows can fall back to a full replay.
func (l *Log) RestoreSnapshot(ctx context.Context, modelName string, maxEventID int64, target Snapshotter) (RestoreResult, error) {
	snap, err := l.snapshots.LatestBefore(ctx, modelName, maxEventID)
	if errors.Is(err, ErrSnapshotNotFound) {
		return RestoreResult{}, nil
	} else if err != nil {
		return RestoreResult{}, err
	}

	var state map[string][]Row
	err = Unmarshal(snap.State, &state)
	if err != nil {
		return RestoreResult{}, errors.Wrap(err, "deserialize snapshot state", j.MKV{
			"model_name":  modelName,
			"snapshot_id": snap.ID,
		})
	}

	for table, rows := range state {
		err := target.ReplaceTable(ctx, table, rows)
		if err != nil {
			return RestoreResult{}, errors.Wrap(err, "replace table", j.KV("table", table))
		}
	}

	for _, table := range target.Tables() {
		if _, ok := state[table]; ok {
			continue
		}

		err := target.ReplaceTable(ctx, table, nil)
		if err != nil {
			return RestoreResult{}, errors.Wrap(err, "truncate table", j.KV("table", table))
		}
	}

	metrics.SnapshotsRestored.WithLabelValues(modelName).Inc()

	return RestoreResult{
		Found:      true,
		EventID:    snap.EventID,
		ReplayFrom: snap.EventID + 1,
	}, nil
}

// ListSnapshots returns all snapshots for modelName ordered by event id
// descending.
func (l *Log) ListSnapshots(ctx context.Context, modelName string) ([]Snapshot, error) {
	return l.snapshots.List(ctx, modelName)
}

// DeleteSnapshot removes the snapshot with the exact (modelName, eventID) key
// and reports whether one existed.
func (l *Log) DeleteSnapshot(ctx context.Context, modelName string, eventID int64) (bool, error) {
	return l.snapshots.Delete(ctx, modelName, eventID)
}

// DeleteSnapshotsOlderThan removes every snapshot for modelName with an event
// id strictly below eventID and returns the number deleted.
func (l *Log) DeleteSnapshotsOlderThan(ctx context.Context, modelName string, eventID int64) (int, error) {
	return l.snapshots.DeleteOlderThan(ctx, modelName, eventID)
}

// Rebuild is the standard recovery recipe: restore the nearest snapshot into
// the model, then replay the remainder of the log on top of it. With no
// snapshot available it degrades to a full replay.
func (l *Log) Rebuild(ctx context.Context, model SnapshotModel, cbs Callbacks, opts ...ReplayOption) (ReplaySummary, error) {
	res, err := l.RestoreSnapshot(ctx, model.Name(), math.MaxInt64, model)
	if err != nil {
		return ReplaySummary{}, err
	}

	opts = append([]ReplayOption{WithStartAt(res.ReplayFrom)}, opts...)
	return l.CycleThrough(ctx, model, cbs, opts...)
}
