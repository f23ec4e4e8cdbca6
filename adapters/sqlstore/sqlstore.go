// Package sqlstore implements the eventfold store interfaces on MySQL for
// deployments that keep the log in a shared database. Schema management is
// left to the caller's migration tooling; see the test migrations for the
// expected tables.
package sqlstore

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/luno/jettison/errors"
	"k8s.io/utils/clock"

	"github.com/eventfold/eventfold"
)

type options struct {
	clock clock.PassiveClock
}

type Option func(o *options)

// WithClock overrides the clock used for store-assigned timestamps.
func WithClock(c clock.PassiveClock) Option {
	return func(o *options) {
		o.clock = c
	}
}

func makeOptions(opts ...Option) options {
	opt := options{
		clock: clock.RealClock{},
	}

	for _, o := range opts {
		o(&opt)
	}

	return opt
}

// NewEventStore returns an event store over the named table. Writes go to
// writer, reads to reader, which may be the same handle.
func NewEventStore(writer *sql.DB, reader *sql.DB, tableName string, opts ...Option) *EventStore {
	s := &EventStore{
		writer: writer,
		reader: reader,
		table:  tableName,
		clock:  makeOptions(opts...).clock,
	}

	s.cols = " `id`, `version`, `timestamp`, `user`, `ip`, `cmd`, `data`, `correlation_id`, `causation_id`, `meta` "
	s.selectPrefix = " select " + s.cols + " from " + s.table + " where "

	return s
}

var _ eventfold.EventStore = (*EventStore)(nil)

type EventStore struct {
	writer *sql.DB
	reader *sql.DB
	clock  clock.PassiveClock

	table        string
	cols         string
	selectPrefix string
}

func (s *EventStore) Append(ctx context.Context, r *eventfold.Record) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	err = s.insert(ctx, tx, r)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *EventStore) AppendBatch(ctx context.Context, rs []*eventfold.Record) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
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
		return errors.Wrap(err, "marshal data")
	}

	meta, err := eventfold.Marshal(&r.Meta)
	if err != nil {
		return errors.Wrap(err, "marshal meta")
	}

	r.Timestamp = s.clock.Now()

	res, err := tx.ExecContext(ctx, "insert into "+s.table+" set "+
		" `version`=?, `timestamp`=?, `user`=?, `ip`=?, `cmd`=?, `data`=?, `correlation_id`=?, `causation_id`=?, `meta`=?",
		r.Version, r.Timestamp.UnixMilli(), r.User, r.IP, r.Cmd, data, r.CorrelationID, r.CausationID, meta,
	)
	if err != nil {
		return errors.Wrap(err, "insert record")
	}

	r.ID, err = res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "last insert id")
	}

	if r.CorrelationID == "" {
		r.CorrelationID = strconv.FormatInt(r.ID, 10)
		_, err = tx.ExecContext(ctx,
			"update "+s.table+" set `correlation_id`=? where `id`=?",
			r.CorrelationID, r.ID,
		)
		if err != nil {
			return errors.Wrap(err, "default correlation id")
		}
	}

	return nil
}

func (s *EventStore) Lookup(ctx context.Context, id int64) (*eventfold.Record, error) {
	return recordScan(s.reader.QueryRowContext(ctx, s.selectPrefix+"`id`=?", id))
}

func (s *EventStore) ListByCorrelation(ctx context.Context, correlationID string) ([]eventfold.Record, error) {
	return s.listWhere(ctx, "`correlation_id`=? order by `id` asc", correlationID)
}

func (s *EventStore) ListByCommand(ctx context.Context, cmd string, filters ...eventfold.EventFilter) ([]eventfold.Record, error) {
	filter := eventfold.MakeEventFilter(filters...)

	where := "`cmd`=?"
	args := []any{cmd}

	if filter.ByCorrelationID().Enabled {
		where += " and `correlation_id`=?"
		args = append(args, filter.ByCorrelationID().Value)
	}

	if filter.ByMinID().Enabled {
		where += " and `id`>=?"
		args = append(args, filter.ByMinID().Value)
	}

	if filter.ByMaxID().Enabled {
		where += " and `id`<=?"
		args = append(args, filter.ByMaxID().Value)
	}

	return s.listWhere(ctx, where+" order by `id` asc", args...)
}

func (s *EventStore) ListChildren(ctx context.Context, id int64) ([]eventfold.Record, error) {
	return s.listWhere(ctx, "`causation_id`=? order by `id` asc", id)
}

func (s *EventStore) List(ctx context.Context, fromID int64, limit int) ([]eventfold.Record, error) {
	return s.listWhere(ctx, "`id`>=? order by `id` asc limit ?", fromID, limit)
}

func (s *EventStore) LastID(ctx context.Context) (int64, error) {
	var id int64
	err := s.reader.QueryRowContext(ctx, "select coalesce(max(`id`), 0) from "+s.table).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "last id")
	}

	return id, nil
}

func (s *EventStore) Reset(ctx context.Context) error {
	_, err := s.writer.ExecContext(ctx, "truncate table "+s.table)
	if err != nil {
		return errors.Wrap(err, "truncate events table")
	}

	return nil
}

func (s *EventStore) Rename(ctx context.Context, name string) error {
	// Archive the populated table under the new name and start an empty log
	// with the same schema.
	_, err := s.writer.ExecContext(ctx, "rename table "+s.table+" to "+name)
	if err != nil {
		return errors.Wrap(err, "rename events table")
	}

	_, err = s.writer.ExecContext(ctx, "create table "+s.table+" like "+name)
	if err != nil {
		return errors.Wrap(err, "recreate events table")
	}

	return nil
}

func (s *EventStore) listWhere(ctx context.Context, where string, args ...any) ([]eventfold.Record, error) {
	rows, err := s.reader.QueryContext(ctx, s.selectPrefix+where, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query records")
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
		return nil, errors.Wrap(rows.Err(), "rows error")
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
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eventfold.ErrEventNotFound
	} else if err != nil {
		return nil, errors.Wrap(err, "scan record")
	}

	r.Timestamp = time.UnixMilli(ms)

	if len(data) > 0 {
		err = eventfold.Unmarshal(data, &r.Data)
		if err != nil {
			return nil, errors.Wrap(err, "unmarshal data")
		}
	}

	if len(meta) > 0 {
		err = eventfold.Unmarshal(meta, &r.Meta)
		if err != nil {
			return nil, errors.Wrap(err, "unmarshal meta")
		}
	}

	return &r, nil
}
