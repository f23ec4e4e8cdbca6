// Package memstore provides in-memory implementations of the eventfold store
// interfaces, intended for tests and ephemeral logs.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/luno/jettison/errors"
	"k8s.io/utils/clock"

	"github.com/eventfold/eventfold"
)

type options struct {
	clock clock.PassiveClock
}

type Option func(o *options)

// WithClock returns an Option that sets the clock implementation used by the
// store. Use this to override the default real-time clock in tests.
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

// New constructs an in-memory EventStore.
func New(opts ...Option) *Store {
	return &Store{
		clock:    makeOptions(opts...).clock,
		index:    make(map[int64]int),
		archives: make(map[string][]eventfold.Record),
	}
}

var _ eventfold.EventStore = (*Store)(nil)

type Store struct {
	mu     sync.Mutex
	clock  clock.PassiveClock
	nextID int64

	records []eventfold.Record
	index   map[int64]int

	archives map[string][]eventfold.Record
}

func (s *Store) Append(ctx context.Context, r *eventfold.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendLocked(r)
}

func (s *Store) AppendBatch(ctx context.Context, rs []*eventfold.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Encode every record before committing anything so the batch stays a
	// single unit.
	clones := make([]eventfold.Record, 0, len(rs))
	id := s.nextID
	for _, r := range rs {
		id++

		rec := *r
		rec.ID = id
		rec.Timestamp = s.clock.Now()
		if rec.CorrelationID == "" {
			rec.CorrelationID = strconv.FormatInt(rec.ID, 10)
		}

		clone, err := cloneRecord(rec)
		if err != nil {
			return err
		}

		clones = append(clones, clone)
	}

	for i, clone := range clones {
		s.index[clone.ID] = len(s.records)
		s.records = append(s.records, clone)

		rs[i].ID = clone.ID
		rs[i].Timestamp = clone.Timestamp
		rs[i].CorrelationID = clone.CorrelationID
	}
	s.nextID = id

	return nil
}

func (s *Store) appendLocked(r *eventfold.Record) error {
	rec := *r
	rec.ID = s.nextID + 1
	rec.Timestamp = s.clock.Now()

	if rec.CorrelationID == "" {
		rec.CorrelationID = strconv.FormatInt(rec.ID, 10)
	}

	clone, err := cloneRecord(rec)
	if err != nil {
		return err
	}

	s.nextID = rec.ID
	s.index[rec.ID] = len(s.records)
	s.records = append(s.records, clone)

	r.ID = rec.ID
	r.Timestamp = rec.Timestamp
	r.CorrelationID = rec.CorrelationID
	return nil
}

func (s *Store) Lookup(ctx context.Context, id int64) (*eventfold.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return nil, eventfold.ErrEventNotFound
	}

	r, err := cloneRecord(s.records[i])
	if err != nil {
		return nil, err
	}

	return &r, nil
}

func (s *Store) ListByCorrelation(ctx context.Context, correlationID string) ([]eventfold.Record, error) {
	return s.listWhere(func(r *eventfold.Record) bool {
		return r.CorrelationID == correlationID
	})
}

func (s *Store) ListByCommand(ctx context.Context, cmd string, filters ...eventfold.EventFilter) ([]eventfold.Record, error) {
	filter := eventfold.MakeEventFilter(filters...)

	return s.listWhere(func(r *eventfold.Record) bool {
		if r.Cmd != cmd {
			return false
		}

		if filter.ByCorrelationID().Enabled && r.CorrelationID != filter.ByCorrelationID().Value {
			return false
		}

		if filter.ByMinID().Enabled && r.ID < filter.ByMinID().Value {
			return false
		}

		if filter.ByMaxID().Enabled && r.ID > filter.ByMaxID().Value {
			return false
		}

		return true
	})
}

func (s *Store) ListChildren(ctx context.Context, id int64) ([]eventfold.Record, error) {
	return s.listWhere(func(r *eventfold.Record) bool {
		return r.CausationID == id
	})
}

func (s *Store) List(ctx context.Context, fromID int64, limit int) ([]eventfold.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []eventfold.Record
	for _, r := range s.records {
		if r.ID < fromID {
			continue
		}

		clone, err := cloneRecord(r)
		if err != nil {
			return nil, err
		}

		out = append(out, clone)
		if len(out) >= limit {
			break
		}
	}

	return out, nil
}

func (s *Store) LastID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) == 0 {
		return 0, nil
	}

	return s.records[len(s.records)-1].ID, nil
}

func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetLocked()
	return nil
}

func (s *Store) Rename(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.archives[name] = s.records
	s.resetLocked()
	return nil
}

func (s *Store) resetLocked() {
	s.nextID = 0
	s.records = nil
	s.index = make(map[int64]int)
}

func (s *Store) listWhere(match func(r *eventfold.Record) bool) ([]eventfold.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []eventfold.Record
	for i := range s.records {
		if !match(&s.records[i]) {
			continue
		}

		clone, err := cloneRecord(s.records[i])
		if err != nil {
			return nil, err
		}

		out = append(out, clone)
	}

	return out, nil
}

// cloneRecord deep-copies the record through the codec so stored rows never
// alias caller maps. Unencodable payloads surface as errors, matching the
// durable backends.
func cloneRecord(r eventfold.Record) (eventfold.Record, error) {
	b, err := eventfold.Marshal(&r)
	if err != nil {
		return eventfold.Record{}, errors.Wrap(err, "encode record")
	}

	var out eventfold.Record
	err = eventfold.Unmarshal(b, &out)
	if err != nil {
		return eventfold.Record{}, errors.Wrap(err, "decode record")
	}

	// The codec drops type fidelity of the timestamp's monotonic clock reading,
	// keep the original.
	out.Timestamp = r.Timestamp
	return out, nil
}

// NewPending constructs an in-memory PendingStore.
func NewPending(opts ...Option) *PendingStore {
	return &PendingStore{
		clock: makeOptions(opts...).clock,
		store: make(map[int64]eventfold.PendingEvent),
	}
}

var _ eventfold.PendingStore = (*PendingStore)(nil)

type PendingStore struct {
	mu     sync.Mutex
	clock  clock.PassiveClock
	nextID int64
	store  map[int64]eventfold.PendingEvent
}

func (s *PendingStore) Create(ctx context.Context, p *eventfold.PendingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	p.ID = s.nextID
	p.CreatedAt = s.clock.Now()

	s.store[p.ID] = *p
	return nil
}

func (s *PendingStore) Lookup(ctx context.Context, id int64) (*eventfold.PendingEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.store[id]
	if !ok {
		return nil, eventfold.ErrPendingNotFound
	}

	return &p, nil
}

func (s *PendingStore) ListByStatus(ctx context.Context, status eventfold.PendingStatus) ([]eventfold.PendingEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []eventfold.PendingEvent
	for _, p := range s.store {
		if p.Status == status {
			out = append(out, p)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})

	return out, nil
}

func (s *PendingStore) UpdateStatus(ctx context.Context, id int64, from, to eventfold.PendingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.store[id]
	if !ok {
		return eventfold.ErrPendingNotFound
	}

	if p.Status != from {
		return eventfold.ErrPendingTransition
	}

	p.Status = to
	s.store[id] = p
	return nil
}

// NewSnapshots constructs an in-memory SnapshotStore.
func NewSnapshots(opts ...Option) *SnapshotStore {
	return &SnapshotStore{
		clock: makeOptions(opts...).clock,
		store: make(map[string][]eventfold.Snapshot),
	}
}

var _ eventfold.SnapshotStore = (*SnapshotStore)(nil)

type SnapshotStore struct {
	mu    sync.Mutex
	clock clock.PassiveClock

	// store keys snapshots by model name, each slice kept sorted ascending by
	// event id with (model name, event id) unique.
	store map[string][]eventfold.Snapshot
}

func (s *SnapshotStore) Create(ctx context.Context, snap *eventfold.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.CreatedAt = s.clock.Now()

	snaps := s.store[snap.ModelName]
	for i := range snaps {
		if snaps[i].EventID == snap.EventID {
			snaps[i] = *snap
			return nil
		}
	}

	snaps = append(snaps, *snap)
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].EventID < snaps[j].EventID
	})

	s.store[snap.ModelName] = snaps
	return nil
}

func (s *SnapshotStore) LatestBefore(ctx context.Context, modelName string, maxEventID int64) (*eventfold.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snaps := s.store[modelName]
	for i := len(snaps) - 1; i >= 0; i-- {
		if snaps[i].EventID <= maxEventID {
			snap := snaps[i]
			return &snap, nil
		}
	}

	return nil, eventfold.ErrSnapshotNotFound
}

func (s *SnapshotStore) List(ctx context.Context, modelName string) ([]eventfold.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snaps := s.store[modelName]
	out := make([]eventfold.Snapshot, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0; i-- {
		out = append(out, snaps[i])
	}

	return out, nil
}

func (s *SnapshotStore) Delete(ctx context.Context, modelName string, eventID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snaps := s.store[modelName]
	for i := range snaps {
		if snaps[i].EventID == eventID {
			s.store[modelName] = append(snaps[:i], snaps[i+1:]...)
			return true, nil
		}
	}

	return false, nil
}

func (s *SnapshotStore) DeleteOlderThan(ctx context.Context, modelName string, eventID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snaps := s.store[modelName]

	var kept []eventfold.Snapshot
	var deleted int
	for _, snap := range snaps {
		if snap.EventID < eventID {
			deleted++
			continue
		}

		kept = append(kept, snap)
	}

	s.store[modelName] = kept
	return deleted, nil
}
