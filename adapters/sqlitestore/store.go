package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"k8s.io/utils/clock"

	"github.com/eventfold/eventfold"
)

const defaultEventsTable = "eventfold_events"

type options struct {
	clock clock.PassiveClock
	table string
}

type Option func(o *options)

// WithClock overrides the clock used for store-assigned timestamps.
func WithClock(c clock.PassiveClock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithTable overrides the events table name. Pointing a fresh store at a new
// table is the non-destructive alternative to Rename.
func WithTable(name string) Option {
	return func(o *options) {
		o.table = name
	}
}

// NewEventStore creates the events schema if needed and returns a store over it.
func NewEventStore(ctx context.Context, db *sql.DB, opts ...Option) (*EventStore, error) {
	opt := options{
		clock: clock.RealClock{},
		table: defaultEventsTable,
	}
	for _, o := range opts {
		o(&opt)
	}

	err := createEventsSchema(ctx, db, opt.table)
	if err != nil {
		return nil, err
	}

	return &EventStore{db: db, clock: opt.clock, table: opt.table}, nil
}

var _ eventfold.EventStore = (*EventStore)(nil)

type EventStore struct {
	db    *sql.DB
	clock clock.PassiveClock
	table string
}

func (s *EventStore) cols() string {
	return "id, version, timestamp, user, ip, cmd, data, correlation_id, causation_id, meta"
}

func (s *EventStore) Append(ctx context.Context, r *eventfold.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = s.insert(ctx, tx, r)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *EventStore) AppendBatch(ctx context.Context, rs []*eventfold.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, r := range rs {
		err := s.insert(ctx, tx, r)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *EventStore) insert(ctx context.Context, tx *sql.Tx, r *eventfold.Record) error {
	data, err := eventfold.Marshal(&r.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	meta, err := eventfold.Marshal(&r.Meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}

	r.Timestamp = s.clock.Now()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO `+s.table+`
		(version, timestamp, user, ip, cmd, data, correlation_id, causation_id, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Version, r.Timestamp.UnixMilli(), r.User, r.IP, r.Cmd, data, r.CorrelationID, r.CausationID, meta,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	r.ID = id

	if r.CorrelationID == "" {
		r.CorrelationID = strconv.FormatInt(id, 10)
		_, err = tx.ExecContext(ctx,
			"UPDATE "+s.table+" SET correlation_id = ? WHERE id = ?",
			r.CorrelationID, id,
		)
		if err != nil {
			return fmt.Errorf("default correlation id: %w", err)
		}
	}

	return nil
}

func (s *EventStore) Lookup(ctx context.Context, id int64) (*eventfold.Record, error) {
	return s.lookupWhere(ctx, "id = ?", id)
}

func (s *EventStore) ListByCorrelation(ctx context.Context, correlationID string) ([]eventfold.Record, error) {
	return s.listWhere(ctx, "correlation_id = ? ORDER BY id ASC", correlationID)
}

func (s *EventStore) ListByCommand(ctx context.Context, cmd string, filters ...eventfold.EventFilter) ([]eventfold.Record, error) {
	filter := eventfold.MakeEventFilter(filters...)

	where := "cmd = ?"
	args := []any{cmd}

	if filter.ByCorrelationID().Enabled {
		where += " AND correlation_id = ?"
		args = append(args, filter.ByCorrelationID().Value)
	}

	if filter.ByMinID().Enabled {
		where += " AND id >= ?"
		args = append(args, filter.ByMinID().Value)
	}

	if filter.ByMaxID().Enabled {
		where += " AND id <= ?"
		args = append(args, filter.ByMaxID().Value)
	}

	return s.listWhere(ctx, where+" ORDER BY id ASC", args...)
}

func (s *EventStore) ListChildren(ctx context.Context, id int64) ([]eventfold.Record, error) {
	return s.listWhere(ctx, "causation_id = ? ORDER BY id ASC", id)
}

func (s *EventStore) List(ctx context.Context, fromID int64, limit int) ([]eventfold.Record, error) {
	return s.listWhere(ctx, "id >= ? ORDER BY id ASC LIMIT ?", fromID, limit)
}

func (s *EventStore) LastID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM "+s.table).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("last id: %w", err)
	}

	return id, nil
}

func (s *EventStore) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.table)
	if err != nil {
		return fmt.Errorf("drop events table: %w", err)
	}

	// AUTOINCREMENT bookkeeping lives in sqlite_sequence and is dropped with
	// the table, so a reset log assigns ids from 1 again.
	return createEventsSchema(ctx, s.db, s.table)
}

func (s *EventStore) Rename(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, "ALTER TABLE "+s.table+" RENAME TO "+name)
	if err != nil {
		return fmt.Errorf("rename events table: %w", err)
	}

	return createEventsSchema(ctx, s.db, s.table)
}

func (s *EventStore) lookupWhere(ctx context.Context, where string, args ...any) (*eventfold.Record, error) {
	return recordScan(s.db.QueryRowContext(ctx,
		"SELECT "+s.cols()+" FROM "+s.table+" WHERE "+where, args...))
}

func (s *EventStore) listWhere(ctx context.Context, where string, args ...any) ([]eventfold.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+s.cols()+" FROM "+s.table+" WHERE "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var res []eventfold.Record
	for rows.Next() {
		r, err := recordScan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *r)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}

	return res, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func recordScan(row scannable) (*eventfold.Record, error) {
	var (
		r          eventfold.Record
		ms         int64
		data, meta []byte
	)

	err := row.Scan(
		&r.ID,
		&r.Version,
		&ms,
		&r.User,
		&r.IP,
		&r.Cmd,
		&data,
		&r.CorrelationID,
		&r.CausationID,
		&meta,
	)
	if err == sql.ErrNoRows {
		return nil, eventfold.ErrEventNotFound
	} else if err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}

	r.Timestamp = time.UnixMilli(ms)

	if len(data) > 0 {
		err = eventfold.Unmarshal(data, &r.Data)
		if err != nil {
			return nil, fmt.Errorf("unmarshal data: %w", err)
		}
	}

	if len(meta) > 0 {
		err = eventfold.Unmarshal(meta, &r.Meta)
		if err != nil {
			return nil, fmt.Errorf("unmarshal meta: %w", err)
		}
	}

	return &r, nil
}
