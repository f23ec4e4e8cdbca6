package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/luno/jettison/errors"
	"k8s.io/utils/clock"

	"github.com/eventfold/eventfold"
)

// NewPendingStore returns a pending store over the named table.
func NewPendingStore(writer *sql.DB, reader *sql.DB, tableName string, opts ...Option) *PendingStore {
	s := &PendingStore{
		writer: writer,
		reader: reader,
		table:  tableName,
		clock:  makeOptions(opts...).clock,
	}

	s.selectPrefix = " select `id`, `candidate`, `wait_for`, `status`, `created_at`, `expires_at` from " + s.table + " where "

	return s
}

var _ eventfold.PendingStore = (*PendingStore)(nil)

type PendingStore struct {
	writer *sql.DB
	reader *sql.DB
	clock  clock.PassiveClock

	table        string
	selectPrefix string
}

func (s *PendingStore) Create(ctx context.Context, p *eventfold.PendingEvent) error {
	candidate, err := eventfold.Marshal(&p.Candidate)
	if err != nil {
		return errors.Wrap(err, "marshal candidate")
	}

	waitFor, err := eventfold.Marshal(&p.WaitFor)
	if err != nil {
		return errors.Wrap(err, "marshal wait conditions")
	}

	p.CreatedAt = s.clock.Now()

	var expires int64
	if !p.ExpiresAt.IsZero() {
		expires = p.ExpiresAt.UnixMilli()
	}

	res, err := s.writer.ExecContext(ctx, "insert into "+s.table+" set "+
		" `candidate`=?, `wait_for`=?, `status`=?, `created_at`=?, `expires_at`=?",
		candidate, waitFor, int(p.Status), p.CreatedAt.UnixMilli(), expires,
	)
	if err != nil {
		return errors.Wrap(err, "insert pending event")
	}

	p.ID, err = res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "last insert id")
	}

	return nil
}

func (s *PendingStore) Lookup(ctx context.Context, id int64) (*eventfold.PendingEvent, error) {
	return pendingScan(s.reader.QueryRowContext(ctx, s.selectPrefix+"`id`=?", id))
}

func (s *PendingStore) ListByStatus(ctx context.Context, status eventfold.PendingStatus) ([]eventfold.PendingEvent, error) {
	rows, err := s.reader.QueryContext(ctx, s.selectPrefix+"`status`=? order by `id` asc", int(status))
	if err != nil {
		return nil, errors.Wrap(err, "query pending events")
	}
	defer rows.Close()

	var res []eventfold.PendingEvent
	for rows.Next() {
		p, err := pendingScan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *p)
	}

	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows error")
	}

	return res, nil
}

func (s *PendingStore) UpdateStatus(ctx context.Context, id int64, from, to eventfold.PendingStatus) error {
	res, err := s.writer.ExecContext(ctx,
		"update "+s.table+" set `status`=? where `id`=? and `status`=?",
		int(to), id, int(from),
	)
	if err != nil {
		return errors.Wrap(err, "update pending status")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}

	if n == 0 {
		_, err := s.Lookup(ctx, id)
		if err != nil {
			return err
		}

		return eventfold.ErrPendingTransition
	}

	return nil
}

func pendingScan(row scannable) (*eventfold.PendingEvent, error) {
	var (
		p                  eventfold.PendingEvent
		candidate, waitFor []byte
		status             int
		created, expires   int64
	)

	err := row.Scan(&p.ID, &candidate, &waitFor, &status, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eventfold.ErrPendingNotFound
	} else if err != nil {
		return nil, errors.Wrap(err, "scan pending event")
	}

	err = eventfold.Unmarshal(candidate, &p.Candidate)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal candidate")
	}

	err = eventfold.Unmarshal(waitFor, &p.WaitFor)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal wait conditions")
	}

	p.Status = eventfold.PendingStatus(status)
	p.CreatedAt = time.UnixMilli(created)
	if expires > 0 {
		p.ExpiresAt = time.UnixMilli(expires)
	}

	return &p, nil
}
