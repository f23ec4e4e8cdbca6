package eventfold

import (
	"context"
)

// Handler applies one event's data to the model. Handlers must be pure
// functions of their inputs and the model's own state for replay to be
// deterministic; the engine enforces nothing here but the design depends on it.
type Handler func(ctx context.Context, data Data, meta ExecMeta) (any, error)

// Model is the rebuildable read-side state derived by executing events. The
// engine never mutates model state directly, only through handlers.
type Model interface {
	// Name identifies the model, keying its snapshots.
	Name() string

	// Handler returns the handler registered for cmd, if any.
	Handler(cmd string) (Handler, bool)

	// Fallback returns the handler invoked for commands with no registered
	// handler. Dispatching to the fallback is never an error by itself.
	Fallback() Handler
}

// Row is one row of a model table as exposed for snapshotting.
type Row map[string]any

// Snapshotter is the capability a model exposes so its full relational state
// can be captured and restored. Tables must enumerate every table that makes
// up the model's state.
type Snapshotter interface {
	Tables() []string
	ExportTable(ctx context.Context, table string) ([]Row, error)

	// ReplaceTable truncates the table and installs the provided rows. A nil
	// rows slice leaves the table empty.
	ReplaceTable(ctx context.Context, table string, rows []Row) error
}

// SnapshotModel combines event dispatch with snapshot capture, the shape
// required by Rebuild.
type SnapshotModel interface {
	Model
	Snapshotter
}
