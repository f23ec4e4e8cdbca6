package eventfold

import (
	"context"
	"time"
)

// EventStore is the durable, ordered, append-only table of Records. The log
// handle is the single writer; implementations must keep reads consistent with
// committed writes but may assume Append and AppendBatch are never called
// concurrently.
//
// Implementations should all be tested with adaptertest.RunEventStoreTest.
type EventStore interface {
	// Append assigns ID and Timestamp, defaults an empty CorrelationID to the
	// decimal form of the assigned ID, persists the record and fills in the
	// assigned fields on the passed record.
	Append(ctx context.Context, r *Record) error

	// AppendBatch applies all records as a single unit, assigning strictly
	// increasing IDs in input order. Either all records persist or none do.
	AppendBatch(ctx context.Context, rs []*Record) error

	Lookup(ctx context.Context, id int64) (*Record, error)

	// ListByCorrelation returns every record with the given correlation id in
	// ascending id order.
	ListByCorrelation(ctx context.Context, correlationID string) ([]Record, error)

	// ListByCommand returns records with the given cmd in ascending id order,
	// narrowed by the provided filters. It backs wait-condition pattern matching.
	ListByCommand(ctx context.Context, cmd string, filters ...EventFilter) ([]Record, error)

	// ListChildren returns the records whose CausationID equals id, in ascending
	// id order. Direct children only.
	ListChildren(ctx context.Context, id int64) ([]Record, error)

	// List returns up to limit records with id >= fromID in ascending id order.
	// It is restartable from any id and backs streaming scans and replay.
	List(ctx context.Context, fromID int64, limit int) ([]Record, error)

	// LastID returns the highest assigned id, or 0 for an empty log.
	LastID(ctx context.Context) (int64, error)

	// Reset destroys the whole log. Sanctioned for testing and bootstrapping
	// only, never steady-state use.
	Reset(ctx context.Context) error

	// Rename archives the current log under the given name and starts an empty
	// log. Like Reset it is a bootstrap and testing operation.
	Rename(ctx context.Context, name string) error
}

// PendingStore holds wait-conditioned events that have not yet executed.
//
// Implementations should all be tested with adaptertest.RunPendingStoreTest.
type PendingStore interface {
	// Create assigns ID and CreatedAt and persists the pending event.
	Create(ctx context.Context, p *PendingEvent) error

	Lookup(ctx context.Context, id int64) (*PendingEvent, error)

	// ListByStatus returns pending events with the given status in ascending id
	// order.
	ListByStatus(ctx context.Context, status PendingStatus) ([]PendingEvent, error)

	// UpdateStatus transitions the pending event from one status to another and
	// returns ErrPendingTransition if the stored status does not match from.
	UpdateStatus(ctx context.Context, id int64, from, to PendingStatus) error
}

// SnapshotStore holds serialized checkpoints of model state keyed by model name
// and the id of the last event reflected in the state.
//
// Implementations should all be tested with adaptertest.RunSnapshotStoreTest.
type SnapshotStore interface {
	// Create persists the snapshot, assigning CreatedAt.
	Create(ctx context.Context, s *Snapshot) error

	// LatestBefore returns the snapshot for modelName with the highest EventID
	// that is <= maxEventID, or ErrSnapshotNotFound.
	LatestBefore(ctx context.Context, modelName string, maxEventID int64) (*Snapshot, error)

	// List returns all snapshots for modelName ordered by EventID descending.
	List(ctx context.Context, modelName string) ([]Snapshot, error)

	// Delete removes the snapshot with the exact (modelName, eventID) key and
	// reports whether one existed.
	Delete(ctx context.Context, modelName string, eventID int64) (bool, error)

	// DeleteOlderThan removes every snapshot for modelName with EventID strictly
	// below eventID and returns the number deleted.
	DeleteOlderThan(ctx context.Context, modelName string, eventID int64) (int, error)
}

// Snapshot is a point-in-time capture of a model's full relational state.
// EventID is the id of the last event whose effects are included in State.
type Snapshot struct {
	ID        string
	ModelName string
	EventID   int64
	State     []byte
	Meta      Meta
	CreatedAt time.Time
}
