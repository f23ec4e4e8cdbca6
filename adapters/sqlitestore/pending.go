package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/eventfold/eventfold"
)

// NewPendingStore creates the pending schema if needed and returns a store
// over it.
func NewPendingStore(ctx context.Context, db *sql.DB, opts ...Option) (*PendingStore, error) {
	opt := options{
		clock: clock.RealClock{},
	}
	for _, o := range opts {
		o(&opt)
	}

	_, err := db.ExecContext(ctx, pendingSchema)
	if err != nil {
		return nil, fmt.Errorf("create pending schema: %w", err)
	}

	return &PendingStore{db: db, clock: opt.clock}, nil
}

var _ eventfold.PendingStore = (*PendingStore)(nil)

type PendingStore struct {
	db    *sql.DB
	clock clock.PassiveClock
}

func (s *PendingStore) Create(ctx context.Context, p *eventfold.PendingEvent) error {
	candidate, err := eventfold.Marshal(&p.Candidate)
	if err != nil {
		return fmt.Errorf("marshal candidate: %w", err)
	}

	waitFor, err := eventfold.Marshal(&p.WaitFor)
	if err != nil {
		return fmt.Errorf("marshal wait conditions: %w", err)
	}

	p.CreatedAt = s.clock.Now()

	var expires int64
	if !p.ExpiresAt.IsZero() {
		expires = p.ExpiresAt.UnixMilli()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO eventfold_pending (candidate, wait_for, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		candidate, waitFor, int(p.Status), p.CreatedAt.UnixMilli(), expires,
	)
	if err != nil {
		return fmt.Errorf("insert pending event: %w", err)
	}

	p.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	return nil
}

func (s *PendingStore) Lookup(ctx context.Context, id int64) (*eventfold.PendingEvent, error) {
	return pendingScan(s.db.QueryRowContext(ctx,
		"SELECT id, candidate, wait_for, status, created_at, expires_at FROM eventfold_pending WHERE id = ?", id))
}

func (s *PendingStore) ListByStatus(ctx context.Context, status eventfold.PendingStatus) ([]eventfold.PendingEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, candidate, wait_for, status, created_at, expires_at FROM eventfold_pending WHERE status = ? ORDER BY id ASC",
		int(status),
	)
	if err != nil {
		return nil, fmt.Errorf("query pending events: %w", err)
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
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}

	return res, nil
}

func (s *PendingStore) UpdateStatus(ctx context.Context, id int64, from, to eventfold.PendingStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE eventfold_pending SET status = ? WHERE id = ? AND status = ?",
		int(to), id, int(from),
	)
	if err != nil {
		return fmt.Errorf("update pending status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
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
	if err == sql.ErrNoRows {
		return nil, eventfold.ErrPendingNotFound
	} else if err != nil {
		return nil, fmt.Errorf("scan pending event: %w", err)
	}

	err = eventfold.Unmarshal(candidate, &p.Candidate)
	if err != nil {
		return nil, fmt.Errorf("unmarshal candidate: %w", err)
	}

	err = eventfold.Unmarshal(waitFor, &p.WaitFor)
	if err != nil {
		return nil, fmt.Errorf("unmarshal wait conditions: %w", err)
	}

	p.Status = eventfold.PendingStatus(status)
	p.CreatedAt = time.UnixMilli(created)
	if expires > 0 {
		p.ExpiresAt = time.UnixMilli(expires)
	}

	return &p, nil
}
