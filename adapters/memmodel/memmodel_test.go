package memmodel_test

import (
	"context"
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/eventfold/eventfold"
	"github.com/eventfold/eventfold/adapters/memmodel"
)

func TestHandlers(t *testing.T) {
	m := memmodel.New("orders")
	require.Equal(t, "orders", m.Name())

	m.RegisterHandler("createOrder", func(ctx context.Context, data eventfold.Data, meta eventfold.ExecMeta) (any, error) {
		return "created", nil
	})

	h, ok := m.Handler("createOrder")
	require.True(t, ok)
	res, err := h(context.Background(), nil, eventfold.ExecMeta{})
	jtest.RequireNil(t, err)
	require.Equal(t, "created", res)

	_, ok = m.Handler("unknown")
	require.False(t, ok)
	require.Nil(t, m.Fallback())

	m.RegisterFallback(func(ctx context.Context, data eventfold.Data, meta eventfold.ExecMeta) (any, error) {
		return "fallback", nil
	})
	require.NotNil(t, m.Fallback())
}

func TestTables(t *testing.T) {
	ctx := context.Background()

	m := memmodel.New("orders")
	m.CreateTable("orders")
	m.Insert("orders", eventfold.Row{"orderId": "O1"})
	m.Insert("orders", eventfold.Row{"orderId": "O2"})

	require.ElementsMatch(t, []string{"orders"}, m.Tables())

	rows, err := m.ExportTable(ctx, "orders")
	jtest.RequireNil(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, m.Rows("orders"), rows)

	// Exported rows are a copy of the table slice.
	rows = append(rows, eventfold.Row{"orderId": "O3"})
	require.Len(t, m.Rows("orders"), 2)

	err = m.ReplaceTable(ctx, "orders", []eventfold.Row{{"orderId": "O9"}})
	jtest.RequireNil(t, err)
	require.Equal(t, []eventfold.Row{{"orderId": "O9"}}, m.Rows("orders"))

	// ReplaceTable with nil rows truncates, and creates absent tables.
	err = m.ReplaceTable(ctx, "items", nil)
	jtest.RequireNil(t, err)
	require.ElementsMatch(t, []string{"orders", "items"}, m.Tables())
	require.Empty(t, m.Rows("items"))
}
