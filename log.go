package eventfold

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/robfig/cron/v3"
	"k8s.io/utils/clock"

	"github.com/eventfold/eventfold/internal/metrics"
)

// Log is an explicit handle over one event log: a store, the model live
// appends execute against, and the pending-event engine. Multiple independent
// logs can coexist in one process, each with its own stores.
//
// Append and everything that writes to the log serializes on an internal
// mutex; the design is single-writer. Reads may run concurrently with the
// writer.
type Log struct {
	name string

	events    EventStore
	pending   PendingStore
	snapshots SnapshotStore

	exec       *executor
	migrations *Migrations
	hooks      []AppendHookFunc
	hasher     PasswordHasher
	clock      clock.PassiveClock
	logger     Logger
	debugMode  bool

	sweepSpec string
	cron      *cron.Cron
	once      sync.Once

	mu sync.Mutex
}

func (l *Log) Name() string {
	return l.name
}

// Append validates, persists and executes one event, then re-evaluates all
// pending events so that any wait condition satisfied by this append executes
// before Append returns.
//
// Validation failures (empty cmd, dangling causation reference) are returned
// and nothing is persisted. A failing model handler does not fail the append:
// the failure is routed to the error callback and the committed record is
// still returned.
func (l *Log) Append(ctx context.Context, c Candidate) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, err := l.appendLocked(ctx, c)
	if err != nil {
		return nil, err
	}

	// The record is committed at this point; a pending-engine error is
	// returned alongside it.
	return r, l.drainPending(ctx)
}

// AppendBatch applies all candidates as a single unit with strictly increasing
// ids in input order. Validation runs for every candidate before anything is
// persisted; execution happens per event, in order, after the batch commits.
//
// Causation references must point at already-committed events; intra-batch
// references are not resolved.
func (l *Log) AppendBatch(ctx context.Context, cs []Candidate) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rs := make([]*Record, 0, len(cs))
	for i := range cs {
		r, err := l.prepare(ctx, &cs[i])
		if err != nil {
			return nil, errors.Wrap(err, "", j.KV("batch_index", i))
		}

		rs = append(rs, r)
	}

	err := l.events.AppendBatch(ctx, rs)
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(rs))
	for _, r := range rs {
		l.afterAppend(ctx, r)
		out = append(out, *r)
	}

	return out, l.drainPending(ctx)
}

// AppendWhen defers execution of the candidate until the wait conditions are
// satisfied by the log. It returns the pending event's id immediately; the
// candidate only becomes a log record once promoted. Malformed expressions fail
// here, never later during evaluation.
func (l *Log) AppendWhen(ctx context.Context, c Candidate, w WaitFor, opts ...PendOption) (int64, error) {
	if c.Cmd == "" {
		return 0, errors.Wrap(ErrEmptyCmd, "")
	}

	err := w.Validate()
	if err != nil {
		return 0, err
	}

	// Sensitive fields are hashed once, at request time, so the pending store
	// never holds plaintext. The declaration is cleared so promotion does not
	// hash the stored value a second time.
	err = hashSensitive(&c, l.hasher)
	if err != nil {
		return 0, err
	}
	c.Sensitive = nil

	var po pendOptions
	for _, opt := range opts {
		opt(&po)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p := &PendingEvent{
		Candidate: c,
		WaitFor:   w,
		Status:    PendingStatusPending,
	}

	if po.timeout > 0 {
		p.ExpiresAt = l.clock.Now().Add(po.timeout)
	}

	err = l.pending.Create(ctx, p)
	if err != nil {
		return 0, err
	}

	// Conditions may already hold against the current log.
	return p.ID, l.drainPending(ctx)
}

type pendOptions struct {
	timeout time.Duration
}

type PendOption func(*pendOptions)

// WithTimeout expires the pending event if its conditions are not satisfied
// within d. Expiry is lazy, applied by sweeps and evaluation passes.
func WithTimeout(d time.Duration) PendOption {
	return func(po *pendOptions) {
		po.timeout = d
	}
}

// CheckPending re-evaluates every pending event against the current log state
// and executes any that are now satisfied, transitively. It runs automatically
// after every append and is exposed for manual checking and debugging.
func (l *Log) CheckPending(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.drainPending(ctx)
}

// SweepExpired transitions every pending event whose deadline has passed to
// expired and returns how many were swept. Callers are expected to invoke it
// periodically; WithExpirySweep schedules it on a cron spec.
func (l *Log) SweepExpired(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.sweepExpiredLocked(ctx)
}

// CancelPending cancels a pending event. It only succeeds while the event's
// status is pending and returns ErrPendingTransition otherwise.
func (l *Log) CancelPending(ctx context.Context, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.pending.UpdateStatus(ctx, id, PendingStatusPending, PendingStatusCancelled)
}

// Pending returns the pending event with the given id.
func (l *Log) Pending(ctx context.Context, id int64) (*PendingEvent, error) {
	return l.pending.Lookup(ctx, id)
}

// ListPending returns all pending events with the given status.
func (l *Log) ListPending(ctx context.Context, status PendingStatus) ([]PendingEvent, error) {
	return l.pending.ListByStatus(ctx, status)
}

// Lookup returns the record with the given id.
func (l *Log) Lookup(ctx context.Context, id int64) (*Record, error) {
	return l.events.Lookup(ctx, id)
}

// ByCorrelation returns every record of one business transaction in insertion
// order.
func (l *Log) ByCorrelation(ctx context.Context, correlationID string) ([]Record, error) {
	return l.events.ListByCorrelation(ctx, correlationID)
}

// ByCommand returns records with the given cmd, narrowed by filters.
func (l *Log) ByCommand(ctx context.Context, cmd string, filters ...EventFilter) ([]Record, error) {
	return l.events.ListByCommand(ctx, cmd, filters...)
}

// Children returns the records directly caused by the given event.
func (l *Log) Children(ctx context.Context, id int64) ([]Record, error) {
	return l.events.ListChildren(ctx, id)
}

// Lineage returns the direct causal neighbourhood of the given event.
func (l *Log) Lineage(ctx context.Context, id int64) (*Lineage, error) {
	r, err := l.events.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	children, err := l.events.ListChildren(ctx, id)
	if err != nil {
		return nil, err
	}

	lineage := &Lineage{Children: children}
	if r.CausationID != 0 {
		parent, err := l.events.Lookup(ctx, r.CausationID)
		if err != nil {
			return nil, errors.Wrap(err, "lineage parent", j.KV("causation_id", r.CausationID))
		}

		lineage.Parent = parent
	}

	return lineage, nil
}

// Scan streams the log in batches to fn, starting at fromID (0 means the
// earliest record) and stopping after toID (0 means the end of the log,
// otherwise inclusive). It never loads the whole table and is restartable from
// any id. Returning an error from fn stops the scan.
func (l *Log) Scan(ctx context.Context, fromID, toID int64, batchSize int, fn func(batch []Record) error) error {
	if batchSize < 1 {
		batchSize = defaultScanBatchSize
	}

	next := fromID
	if next < 1 {
		next = 1
	}

	for {
		batch, err := l.events.List(ctx, next, batchSize)
		if err != nil {
			return err
		}

		if toID > 0 {
			for i, r := range batch {
				if r.ID > toID {
					batch = batch[:i]
					break
				}
			}
		}

		if len(batch) == 0 {
			return nil
		}

		err = fn(batch)
		if err != nil {
			return err
		}

		last := batch[len(batch)-1].ID
		if toID > 0 && last >= toID {
			return nil
		}

		next = last + 1
	}
}

// LastID returns the highest assigned event id, or 0 for an empty log.
func (l *Log) LastID(ctx context.Context) (int64, error) {
	return l.events.LastID(ctx)
}

const defaultScanBatchSize = 1000

// Run starts the optional background machinery, currently the scheduled expiry
// sweep. Run only needs to be called once; subsequent calls are a noop. Logs
// built without WithExpirySweep never need Run.
func (l *Log) Run(ctx context.Context) {
	l.once.Do(func() {
		if l.sweepSpec == "" {
			return
		}

		l.cron = cron.New()
		_, err := l.cron.AddFunc(l.sweepSpec, func() {
			_, err := l.SweepExpired(ctx)
			if err != nil {
				l.logger.Error(ctx, errors.Wrap(err, "scheduled expiry sweep"))
				return
			}

			err = l.CheckPending(ctx)
			if err != nil {
				l.logger.Error(ctx, errors.Wrap(err, "scheduled pending check"))
			}
		})
		if err != nil {
			l.logger.Error(ctx, errors.Wrap(err, "invalid sweep schedule", j.KV("spec", l.sweepSpec)))
			return
		}

		l.cron.Start()
	})
}

// Stop shuts down the background machinery started by Run and waits for any
// in-flight sweep to finish.
func (l *Log) Stop() {
	if l.cron == nil {
		return
	}

	<-l.cron.Stop().Done()
}

// prepare validates the candidate and returns the record ready for the store.
func (l *Log) prepare(ctx context.Context, c *Candidate) (*Record, error) {
	if c.Cmd == "" {
		return nil, errors.Wrap(ErrEmptyCmd, "")
	}

	err := hashSensitive(c, l.hasher)
	if err != nil {
		return nil, err
	}

	if c.CausationID != 0 {
		_, err := l.events.Lookup(ctx, c.CausationID)
		if errors.Is(err, ErrEventNotFound) {
			return nil, errors.Wrap(ErrCausationNotFound, "", j.KV("causation_id", c.CausationID))
		} else if err != nil {
			return nil, err
		}
	}

	return c.record(), nil
}

func (l *Log) appendLocked(ctx context.Context, c Candidate) (*Record, error) {
	r, err := l.prepare(ctx, &c)
	if err != nil {
		return nil, err
	}

	err = l.events.Append(ctx, r)
	if err != nil {
		return nil, err
	}

	l.afterAppend(ctx, r)
	return r, nil
}

// afterAppend executes the committed record against the model and notifies
// append hooks. Hook errors are logged and counted, never propagated: the
// record is already durable and hooks are at-least-once observers.
func (l *Log) afterAppend(ctx context.Context, r *Record) {
	metrics.AppendedEvents.WithLabelValues(l.name).Inc()

	l.exec.execute(ctx, *r)

	for _, hook := range l.hooks {
		err := hook(ctx, *r)
		if err != nil {
			metrics.HookErrors.WithLabelValues(l.name).Inc()
			l.logger.Error(ctx, errors.Wrap(err, "append hook", j.KV("event_id", r.ID)))
		}
	}
}

// drainPending is the work queue that promotes satisfied pending events.
// Promoted events are appended and executed, which can itself satisfy further
// wait conditions, so the loop runs to a fixpoint. Expired events are swept out
// first so they are excluded from evaluation.
func (l *Log) drainPending(ctx context.Context) error {
	for {
		_, err := l.sweepExpiredLocked(ctx)
		if err != nil {
			return err
		}

		outstanding, err := l.pending.ListByStatus(ctx, PendingStatusPending)
		if err != nil {
			return err
		}

		var promoted int
		for _, p := range outstanding {
			ok, err := p.WaitFor.satisfied(ctx, l.events)
			if err != nil {
				return errors.Wrap(err, "evaluate wait conditions", j.KV("pending_id", p.ID))
			}

			if !ok {
				continue
			}

			err = l.promote(ctx, p)
			if err != nil {
				return err
			}

			promoted++
		}

		if promoted == 0 {
			return nil
		}
	}
}

func (l *Log) promote(ctx context.Context, p PendingEvent) error {
	err := l.pending.UpdateStatus(ctx, p.ID, PendingStatusPending, PendingStatusReady)
	if err != nil {
		return err
	}

	_, err = l.appendLocked(ctx, p.Candidate)
	if err != nil {
		// Requeue rather than strand the event in ready, which no evaluation
		// pass revisits. The next CheckPending retries the promotion.
		uerr := l.pending.UpdateStatus(ctx, p.ID, PendingStatusReady, PendingStatusPending)
		if uerr != nil {
			l.logger.Error(ctx, errors.Wrap(uerr, "requeue pending event", j.KV("pending_id", p.ID)))
		}

		return errors.Wrap(err, "append promoted pending event", j.KV("pending_id", p.ID))
	}

	err = l.pending.UpdateStatus(ctx, p.ID, PendingStatusReady, PendingStatusExecuted)
	if err != nil {
		return err
	}

	metrics.PendingPromoted.WithLabelValues(l.name).Inc()

	if l.debugMode {
		l.logger.Debug(ctx, "pending event executed", MKV{
			"log_name":   l.name,
			"pending_id": itoa(p.ID),
			"cmd":        p.Candidate.Cmd,
		})
	}

	return nil
}

func (l *Log) sweepExpiredLocked(ctx context.Context) (int, error) {
	outstanding, err := l.pending.ListByStatus(ctx, PendingStatusPending)
	if err != nil {
		return 0, err
	}

	now := l.clock.Now()

	var swept int
	for _, p := range outstanding {
		if !p.expired(now) {
			continue
		}

		err := l.pending.UpdateStatus(ctx, p.ID, PendingStatusPending, PendingStatusExpired)
		if err != nil {
			return swept, err
		}

		metrics.PendingExpired.WithLabelValues(l.name).Inc()
		swept++
	}

	return swept, nil
}

func itoa(i int64) string {
	return strconv.FormatInt(i, 10)
}
