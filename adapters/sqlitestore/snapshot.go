package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/eventfold/eventfold"
)

// NewSnapshotStore creates the snapshots schema if needed and returns a store
// over it.
func NewSnapshotStore(ctx context.Context, db *sql.DB, opts ...Option) (*SnapshotStore, error) {
	opt := options{
		clock: clock.RealClock{},
	}
	for _, o := range opts {
		o(&opt)
	}

	_, err := db.ExecContext(ctx, snapshotsSchema)
	if err != nil {
		return nil, fmt.Errorf("create snapshots schema: %w", err)
	}

	return &SnapshotStore{db: db, clock: opt.clock}, nil
}

var _ eventfold.SnapshotStore = (*SnapshotStore)(nil)

type SnapshotStore struct {
	db    *sql.DB
	clock clock.PassiveClock
}

func (s *SnapshotStore) Create(ctx context.Context, snap *eventfold.Snapshot) error {
	meta, err := eventfold.Marshal(&snap.Meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}

	snap.CreatedAt = s.clock.Now()

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO eventfold_snapshots (id, model_name, event_id, state, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.ModelName, snap.EventID, snap.State, meta, snap.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	return nil
}

func (s *SnapshotStore) LatestBefore(ctx context.Context, modelName string, maxEventID int64) (*eventfold.Snapshot, error) {
	return snapshotScan(s.db.QueryRowContext(ctx, `
		SELECT id, model_name, event_id, state, meta, created_at FROM eventfold_snapshots
		WHERE model_name = ? AND event_id <= ? ORDER BY event_id DESC LIMIT 1`,
		modelName, maxEventID,
	))
}

func (s *SnapshotStore) List(ctx context.Context, modelName string) ([]eventfold.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, model_name, event_id, state, meta, created_at FROM eventfold_snapshots
		WHERE model_name = ? ORDER BY event_id DESC`,
		modelName,
	)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var res []eventfold.Snapshot
	for rows.Next() {
		snap, err := snapshotScan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *snap)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}

	return res, nil
}

func (s *SnapshotStore) Delete(ctx context.Context, modelName string, eventID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM eventfold_snapshots WHERE model_name = ? AND event_id = ?",
		modelName, eventID,
	)
	if err != nil {
		return false, fmt.Errorf("delete snapshot: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return n > 0, nil
}

func (s *SnapshotStore) DeleteOlderThan(ctx context.Context, modelName string, eventID int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM eventfold_snapshots WHERE model_name = ? AND event_id < ?",
		modelName, eventID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete snapshots: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return int(n), nil
}

func snapshotScan(row scannable) (*eventfold.Snapshot, error) {
	var (
		snap    eventfold.Snapshot
		meta    []byte
		created int64
	)

	err := row.Scan(&snap.ID, &snap.ModelName, &snap.EventID, &snap.State, &meta, &created)
	if err == sql.ErrNoRows {
		return nil, eventfold.ErrSnapshotNotFound
	} else if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}

	if len(meta) > 0 {
		err = eventfold.Unmarshal(meta, &snap.Meta)
		if err != nil {
			return nil, fmt.Errorf("unmarshal meta: %w", err)
		}
	}

	snap.CreatedAt = time.UnixMilli(created)
	return &snap, nil
}
