package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/luno/jettison/errors"
	"k8s.io/utils/clock"

	"github.com/eventfold/eventfold"
)

// NewSnapshotStore returns a snapshot store over the named table.
func NewSnapshotStore(writer *sql.DB, reader *sql.DB, tableName string, opts ...Option) *SnapshotStore {
	s := &SnapshotStore{
		writer: writer,
		reader: reader,
		table:  tableName,
		clock:  makeOptions(opts...).clock,
	}

	s.selectPrefix = " select `id`, `model_name`, `event_id`, `state`, `meta`, `created_at` from " + s.table + " where "

	return s
}

var _ eventfold.SnapshotStore = (*SnapshotStore)(nil)

type SnapshotStore struct {
	writer *sql.DB
	reader *sql.DB
	clock  clock.PassiveClock

	table        string
	selectPrefix string
}

func (s *SnapshotStore) Create(ctx context.Context, snap *eventfold.Snapshot) error {
	meta, err := eventfold.Marshal(&snap.Meta)
	if err != nil {
		return errors.Wrap(err, "marshal meta")
	}

	snap.CreatedAt = s.clock.Now()

	_, err = s.writer.ExecContext(ctx, "replace into "+s.table+" set "+
		" `id`=?, `model_name`=?, `event_id`=?, `state`=?, `meta`=?, `created_at`=?",
		snap.ID, snap.ModelName, snap.EventID, snap.State, meta, snap.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return errors.Wrap(err, "insert snapshot")
	}

	return nil
}

func (s *SnapshotStore) LatestBefore(ctx context.Context, modelName string, maxEventID int64) (*eventfold.Snapshot, error) {
	return snapshotScan(s.reader.QueryRowContext(ctx,
		s.selectPrefix+"`model_name`=? and `event_id`<=? order by `event_id` desc limit 1",
		modelName, maxEventID,
	))
}

func (s *SnapshotStore) List(ctx context.Context, modelName string) ([]eventfold.Snapshot, error) {
	rows, err := s.reader.QueryContext(ctx,
		s.selectPrefix+"`model_name`=? order by `event_id` desc", modelName)
	if err != nil {
		return nil, errors.Wrap(err, "query snapshots")
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
		return nil, errors.Wrap(rows.Err(), "rows error")
	}

	return res, nil
}

func (s *SnapshotStore) Delete(ctx context.Context, modelName string, eventID int64) (bool, error) {
	res, err := s.writer.ExecContext(ctx,
		"delete from "+s.table+" where `model_name`=? and `event_id`=?",
		modelName, eventID,
	)
	if err != nil {
		return false, errors.Wrap(err, "delete snapshot")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}

	return n > 0, nil
}

func (s *SnapshotStore) DeleteOlderThan(ctx context.Context, modelName string, eventID int64) (int, error) {
	res, err := s.writer.ExecContext(ctx,
		"delete from "+s.table+" where `model_name`=? and `event_id`<?",
		modelName, eventID,
	)
	if err != nil {
		return 0, errors.Wrap(err, "delete snapshots")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
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
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eventfold.ErrSnapshotNotFound
	} else if err != nil {
		return nil, errors.Wrap(err, "scan snapshot")
	}

	if len(meta) > 0 {
		err = eventfold.Unmarshal(meta, &snap.Meta)
		if err != nil {
			return nil, errors.Wrap(err, "unmarshal meta")
		}
	}

	snap.CreatedAt = time.UnixMilli(created)
	return &snap, nil
}
