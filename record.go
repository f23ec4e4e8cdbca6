package eventfold

import (
	"time"
)

// Data is the structured payload of an event. It is the argument handed to the
// model handler that matches the event's Cmd and is stored verbatim, except for
// fields declared sensitive on the Candidate which are hashed before persisting.
type Data map[string]any

// Meta is free-form side-channel data carried on a record. The engine never
// interprets it, it is only passed through to handlers and callbacks.
type Meta map[string]any

// Record is the immutable unit stored in the event log. It is created once via
// Append and never updated or deleted in normal operation.
type Record struct {
	// ID is assigned by the store on append, monotonically increasing and never reused.
	ID int64

	// Version is the schema version of Data as authored by the caller. Defaults to 1.
	Version int

	// Timestamp is assigned by the store at append time and is the ordering clock.
	// Callers should not set it.
	Timestamp time.Time

	// User and IP are free-text provenance fields.
	User string
	IP   string

	// Cmd is the command name. It dispatches to the matching model handler, or
	// to the model's fallback handler when no handler matches.
	Cmd string

	Data Data

	// CorrelationID groups all events belonging to one business transaction. If
	// absent at append time the store assigns the decimal form of the record's
	// own ID so every event belongs to exactly one correlation group.
	CorrelationID string

	// CausationID references the ID of the event that directly caused this one.
	// Zero means a root or external event. A non-zero CausationID must reference
	// an event that already exists in the log.
	CausationID int64

	Meta Meta
}

// Candidate is a caller-facing append request. The store-assigned fields of
// Record (ID, Timestamp, defaulted CorrelationID) are absent by design.
type Candidate struct {
	Cmd     string
	Data    Data
	Version int
	User    string
	IP      string

	CorrelationID string
	CausationID   int64
	Meta          Meta

	// Sensitive lists the names of Data fields that hold secrets, for example a
	// password. Each named field is hashed in place before the record is
	// persisted. Fields that are absent or not strings are left untouched.
	Sensitive []string
}

// record converts the candidate into a Record ready for the store to assign
// identity to.
func (c Candidate) record() *Record {
	version := c.Version
	if version < 1 {
		version = 1
	}

	return &Record{
		Version:       version,
		User:          c.User,
		IP:            c.IP,
		Cmd:           c.Cmd,
		Data:          c.Data,
		CorrelationID: c.CorrelationID,
		CausationID:   c.CausationID,
		Meta:          c.Meta,
	}
}

// Lineage is the direct causal neighbourhood of a record: the event that
// caused it, if any, and the events it directly caused.
type Lineage struct {
	Parent   *Record
	Children []Record
}

// ExecMeta is the per-event context handed to model handlers alongside the
// event data.
type ExecMeta struct {
	ID            int64
	Timestamp     time.Time
	User          string
	IP            string
	CorrelationID string
	CausationID   int64
	Version       int
	Meta          Meta
}

func execMeta(r *Record) ExecMeta {
	return ExecMeta{
		ID:            r.ID,
		Timestamp:     r.Timestamp,
		User:          r.User,
		IP:            r.IP,
		CorrelationID: r.CorrelationID,
		CausationID:   r.CausationID,
		Version:       r.Version,
		Meta:          r.Meta,
	}
}
