// Package memmodel provides an in-memory table backed model implementation.
// It keeps projected state in named tables of rows so it can be snapshotted
// and rebuilt, and is the reference model for examples and tests.
package memmodel

import (
	"context"
	"sync"

	"github.com/eventfold/eventfold"
)

func New(name string) *Model {
	return &Model{
		name:     name,
		handlers: make(map[string]eventfold.Handler),
		tables:   make(map[string][]eventfold.Row),
	}
}

var _ eventfold.SnapshotModel = (*Model)(nil)

type Model struct {
	name     string
	handlers map[string]eventfold.Handler
	fallback eventfold.Handler

	mu     sync.Mutex
	tables map[string][]eventfold.Row
}

func (m *Model) Name() string {
	return m.name
}

// RegisterHandler registers the handler for cmd. Handlers must be registered
// before the model is used, registration is not safe for concurrent use.
func (m *Model) RegisterHandler(cmd string, h eventfold.Handler) {
	m.handlers[cmd] = h
}

func (m *Model) RegisterFallback(h eventfold.Handler) {
	m.fallback = h
}

func (m *Model) Handler(cmd string) (eventfold.Handler, bool) {
	h, ok := m.handlers[cmd]
	return h, ok
}

func (m *Model) Fallback() eventfold.Handler {
	return m.fallback
}

// CreateTable ensures the named table exists so it is included in snapshots
// even while empty.
func (m *Model) CreateTable(table string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[table]; !ok {
		m.tables[table] = nil
	}
}

func (m *Model) Insert(table string, row eventfold.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tables[table] = append(m.tables[table], row)
}

// Rows returns a copy of the rows in the named table.
func (m *Model) Rows(table string) []eventfold.Row {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.tables[table]
	res := make([]eventfold.Row, len(rows))
	copy(res, rows)
	return res
}

func (m *Model) Tables() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := make([]string, 0, len(m.tables))
	for table := range m.tables {
		res = append(res, table)
	}
	return res
}

func (m *Model) ExportTable(_ context.Context, table string) ([]eventfold.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.tables[table]
	res := make([]eventfold.Row, len(rows))
	copy(res, rows)
	return res, nil
}

func (m *Model) ReplaceTable(_ context.Context, table string, rows []eventfold.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tables[table] = rows
	return nil
}
