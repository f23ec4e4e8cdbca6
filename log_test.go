package eventfold_test

import (
	"context"
	"testing"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"k8s.io/utils/clock"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/eventfold/eventfold"
	"github.com/eventfold/eventfold/adapters/memmodel"
	"github.com/eventfold/eventfold/adapters/memstore"
)

var t0 = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func buildLog(t *testing.T, b *eventfold.Builder, model eventfold.Model, clk clock.PassiveClock, opts ...eventfold.BuildOption) *eventfold.Log {
	t.Helper()

	opts = append([]eventfold.BuildOption{
		eventfold.WithClock(clk),
		eventfold.WithLogger(eventfold.NopLogger()),
	}, opts...)

	return b.Build(
		memstore.New(memstore.WithClock(clk)),
		memstore.NewPending(memstore.WithClock(clk)),
		memstore.NewSnapshots(memstore.WithClock(clk)),
		model,
		opts...,
	)
}

// orderModel projects order events into an in-memory orders table.
func orderModel(name string) *memmodel.Model {
	m := memmodel.New(name)
	m.CreateTable("orders")
	m.CreateTable("items")

	m.RegisterHandler("createOrder", func(ctx context.Context, data eventfold.Data, meta eventfold.ExecMeta) (any, error) {
		m.Insert("orders", eventfold.Row{
			"orderId":    data["orderId"],
			"customerId": data["customerId"],
		})
		return data["orderId"], nil
	})

	m.RegisterHandler("addItem", func(ctx context.Context, data eventfold.Data, meta eventfold.ExecMeta) (any, error) {
		m.Insert("items", eventfold.Row{
			"orderId": data["orderId"],
			"sku":     data["sku"],
		})
		return nil, nil
	})

	return m
}

func TestAppend(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)
	model := orderModel("orders")
	log := buildLog(t, eventfold.NewBuilder("orders"), model, clk)

	created, err := log.Append(ctx, eventfold.Candidate{
		Cmd:  "createOrder",
		Data: eventfold.Data{"orderId": "O1", "customerId": "C1"},
		User: "ana",
		IP:   "10.0.0.9",
	})
	jtest.RequireNil(t, err)
	require.Equal(t, int64(1), created.ID)
	require.Equal(t, 1, created.Version, "version defaults to 1")
	require.Equal(t, "1", created.CorrelationID, "correlation defaults to the own id")
	require.Zero(t, created.CausationID)
	require.True(t, created.Timestamp.Equal(t0))

	added, err := log.Append(ctx, eventfold.Candidate{
		Cmd:           "addItem",
		Data:          eventfold.Data{"orderId": "O1", "sku": "S1"},
		CorrelationID: created.CorrelationID,
		CausationID:   created.ID,
	})
	jtest.RequireNil(t, err)
	require.Equal(t, int64(2), added.ID)
	require.Equal(t, created.CorrelationID, added.CorrelationID)

	last, err := log.LastID(ctx)
	jtest.RequireNil(t, err)
	require.Equal(t, int64(2), last)

	// Both handlers executed synchronously on append.
	require.Len(t, model.Rows("orders"), 1)
	require.Len(t, model.Rows("items"), 1)

	t.Run("ByCorrelation", func(t *testing.T) {
		rs, err := log.ByCorrelation(ctx, created.CorrelationID)
		jtest.RequireNil(t, err)
		require.Len(t, rs, 2)
		require.Equal(t, "createOrder", rs[0].Cmd)
		require.Equal(t, "addItem", rs[1].Cmd)
	})

	t.Run("Children", func(t *testing.T) {
		children, err := log.Children(ctx, created.ID)
		jtest.RequireNil(t, err)
		require.Len(t, children, 1)
		require.Equal(t, added.ID, children[0].ID)
	})

	t.Run("Lineage", func(t *testing.T) {
		lineage, err := log.Lineage(ctx, added.ID)
		jtest.RequireNil(t, err)
		require.NotNil(t, lineage.Parent)
		require.Equal(t, created.ID, lineage.Parent.ID)
		require.Empty(t, lineage.Children)

		lineage, err = log.Lineage(ctx, created.ID)
		jtest.RequireNil(t, err)
		require.Nil(t, lineage.Parent)
		require.Len(t, lineage.Children, 1)
	})
}

func TestAppendValidation(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)
	log := buildLog(t, eventfold.NewBuilder("orders"), orderModel("orders"), clk)

	_, err := log.Append(ctx, eventfold.Candidate{Data: eventfold.Data{"x": "y"}})
	jtest.Require(t, eventfold.ErrEmptyCmd, err)

	_, err = log.Append(ctx, eventfold.Candidate{Cmd: "addItem", CausationID: 99})
	jtest.Require(t, eventfold.ErrCausationNotFound, err)

	// Nothing was persisted by the rejected appends.
	last, err := log.LastID(ctx)
	jtest.RequireNil(t, err)
	require.Zero(t, last)
}

func TestAppendBatch(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)
	model := orderModel("orders")
	log := buildLog(t, eventfold.NewBuilder("orders"), model, clk)

	rs, err := log.AppendBatch(ctx, []eventfold.Candidate{
		{Cmd: "createOrder", Data: eventfold.Data{"orderId": "O1"}, CorrelationID: "txn-1"},
		{Cmd: "addItem", Data: eventfold.Data{"orderId": "O1", "sku": "S1"}, CorrelationID: "txn-1"},
		{Cmd: "addItem", Data: eventfold.Data{"orderId": "O1", "sku": "S2"}, CorrelationID: "txn-1"},
	})
	jtest.RequireNil(t, err)
	require.Len(t, rs, 3)
	for i, r := range rs {
		require.Equal(t, int64(i+1), r.ID)
	}

	require.Len(t, model.Rows("items"), 2)

	// One invalid candidate rejects the whole batch before anything commits.
	_, err = log.AppendBatch(ctx, []eventfold.Candidate{
		{Cmd: "addItem", Data: eventfold.Data{"sku": "S3"}},
		{Cmd: ""},
	})
	jtest.Require(t, eventfold.ErrEmptyCmd, err)

	last, err := log.LastID(ctx)
	jtest.RequireNil(t, err)
	require.Equal(t, int64(3), last)
}

func TestFailingHandler(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)

	model := memmodel.New("orders")
	handlerErr := errors.New("insufficient stock")
	model.RegisterHandler("reserveStock", func(ctx context.Context, data eventfold.Data, meta eventfold.ExecMeta) (any, error) {
		return nil, handlerErr
	})

	var failures []eventfold.Failure
	b := eventfold.NewBuilder("orders")
	b.OnError(func(ctx context.Context, f eventfold.Failure) {
		failures = append(failures, f)
	})

	log := buildLog(t, b, model, clk)

	r, err := log.Append(ctx, eventfold.Candidate{
		Cmd:           "reserveStock",
		Data:          eventfold.Data{"sku": "S1"},
		User:          "ana",
		CorrelationID: "txn-1",
	})
	jtest.RequireNil(t, err, "a failing handler must not fail the append")

	// The record is committed regardless of the execution outcome.
	stored, err := log.Lookup(ctx, r.ID)
	jtest.RequireNil(t, err)
	require.Equal(t, "reserveStock", stored.Cmd)

	require.Len(t, failures, 1)
	f := failures[0]
	require.Equal(t, "reserveStock", f.Cmd)
	require.Equal(t, eventfold.Data{"sku": "S1"}, f.Data)
	require.Equal(t, "ana", f.User)
	require.Equal(t, "txn-1", f.CorrelationID)
	require.Equal(t, handlerErr.Error(), f.Msg)
	jtest.Require(t, handlerErr, f.Err)
}

func TestFallbackHandler(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)

	model := memmodel.New("audit")
	var unknown []string
	model.RegisterFallback(func(ctx context.Context, data eventfold.Data, meta eventfold.ExecMeta) (any, error) {
		unknown = append(unknown, meta.CorrelationID)
		return nil, nil
	})

	log := buildLog(t, eventfold.NewBuilder("audit"), model, clk)

	_, err := log.Append(ctx, eventfold.Candidate{Cmd: "somethingNew"})
	jtest.RequireNil(t, err)
	require.Len(t, unknown, 1)
	require.Equal(t, "1", unknown[0])
}

func TestCallbacks(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)

	model := orderModel("orders")
	var created, defaulted []any

	b := eventfold.NewBuilder("orders")
	b.AddCallback("createOrder", func(ctx context.Context, result any, r eventfold.Record) {
		created = append(created, result)
	})
	b.DefaultCallback(func(ctx context.Context, result any, r eventfold.Record) {
		defaulted = append(defaulted, r.Cmd)
	})

	log := buildLog(t, b, model, clk)

	_, err := log.Append(ctx, eventfold.Candidate{Cmd: "createOrder", Data: eventfold.Data{"orderId": "O1"}})
	jtest.RequireNil(t, err)
	_, err = log.Append(ctx, eventfold.Candidate{Cmd: "addItem", Data: eventfold.Data{"orderId": "O1", "sku": "S1"}})
	jtest.RequireNil(t, err)

	// The handler's result is handed to the per-cmd callback.
	require.Equal(t, []any{"O1"}, created)
	require.Equal(t, []any{"addItem"}, defaulted)
}

func TestAppendHooks(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)

	var seen []int64
	b := eventfold.NewBuilder("orders")
	b.AddAppendHook(func(ctx context.Context, r eventfold.Record) error {
		seen = append(seen, r.ID)
		return nil
	})
	b.AddAppendHook(func(ctx context.Context, r eventfold.Record) error {
		return errors.New("sink unavailable")
	})

	log := buildLog(t, b, orderModel("orders"), clk)

	r, err := log.Append(ctx, eventfold.Candidate{Cmd: "createOrder", Data: eventfold.Data{"orderId": "O1"}})
	jtest.RequireNil(t, err, "hook errors must not fail the append")
	require.Equal(t, []int64{r.ID}, seen)
}

func TestSensitiveFields(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)

	log := buildLog(t, eventfold.NewBuilder("auth"), memmodel.New("auth"), clk,
		eventfold.WithPasswordHasher(eventfold.NewBcryptHasher(bcrypt.MinCost)))

	r, err := log.Append(ctx, eventfold.Candidate{
		Cmd: "registerUser",
		Data: eventfold.Data{
			"email":    "ana@example.com",
			"password": "hunter2",
			"attempts": 3,
		},
		Sensitive: []string{"password", "attempts", "missing"},
	})
	jtest.RequireNil(t, err)

	stored, err := log.Lookup(ctx, r.ID)
	jtest.RequireNil(t, err)

	hashed, ok := stored.Data["password"].(string)
	require.True(t, ok)
	require.NotEqual(t, "hunter2", hashed)
	err = bcrypt.CompareHashAndPassword([]byte(hashed), []byte("hunter2"))
	jtest.RequireNil(t, err)

	// Non-string and absent sensitive fields are left untouched.
	require.EqualValues(t, 3, stored.Data["attempts"])
	require.Equal(t, "ana@example.com", stored.Data["email"])
}

func TestSensitiveFieldsDeferred(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)

	log := buildLog(t, eventfold.NewBuilder("auth"), memmodel.New("auth"), clk,
		eventfold.WithPasswordHasher(eventfold.NewBcryptHasher(bcrypt.MinCost)))

	id, err := log.AppendWhen(ctx, eventfold.Candidate{
		Cmd:       "registerUser",
		Data:      eventfold.Data{"password": "hunter2"},
		Sensitive: []string{"password"},
	}, eventfold.WaitFor{All: []eventfold.Pattern{{Cmd: "invited"}}})
	jtest.RequireNil(t, err)

	// The pending store holds the hash, never the plaintext.
	p, err := log.Pending(ctx, id)
	jtest.RequireNil(t, err)
	hashed, ok := p.Candidate.Data["password"].(string)
	require.True(t, ok)
	require.NotEqual(t, "hunter2", hashed)
	err = bcrypt.CompareHashAndPassword([]byte(hashed), []byte("hunter2"))
	jtest.RequireNil(t, err)

	_, err = log.Append(ctx, eventfold.Candidate{Cmd: "invited"})
	jtest.RequireNil(t, err)
	requirePendingStatus(t, log, id, eventfold.PendingStatusExecuted)

	// Promotion appends the stored hash as is, not a hash of the hash.
	rs, err := log.ByCommand(ctx, "registerUser")
	jtest.RequireNil(t, err)
	require.Len(t, rs, 1)
	require.Equal(t, hashed, rs[0].Data["password"])
}

func TestRunStop(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)

	// Without a sweep schedule Run and Stop are noops.
	log := buildLog(t, eventfold.NewBuilder("orders"), memmodel.New("orders"), clk)
	log.Run(ctx)
	log.Stop()

	log = buildLog(t, eventfold.NewBuilder("orders"), memmodel.New("orders"), clk,
		eventfold.WithExpirySweep("@every 1h"))
	log.Run(ctx)
	log.Run(ctx) // idempotent
	log.Stop()
}

func TestScan(t *testing.T) {
	ctx := context.Background()
	clk := clocktesting.NewFakePassiveClock(t0)
	log := buildLog(t, eventfold.NewBuilder("orders"), memmodel.New("orders"), clk)

	for i := 0; i < 10; i++ {
		_, err := log.Append(ctx, eventfold.Candidate{Cmd: "tick"})
		jtest.RequireNil(t, err)
	}

	var ids []int64
	err := log.Scan(ctx, 3, 7, 2, func(batch []eventfold.Record) error {
		require.LessOrEqual(t, len(batch), 2)
		for _, r := range batch {
			ids = append(ids, r.ID)
		}
		return nil
	})
	jtest.RequireNil(t, err)
	require.Equal(t, []int64{3, 4, 5, 6, 7}, ids)

	// Zero bounds cover the whole log.
	var count int
	err = log.Scan(ctx, 0, 0, 0, func(batch []eventfold.Record) error {
		count += len(batch)
		return nil
	})
	jtest.RequireNil(t, err)
	require.Equal(t, 10, count)

	// An error from fn stops the scan.
	scanErr := errors.New("stop")
	err = log.Scan(ctx, 0, 0, 3, func(batch []eventfold.Record) error {
		return scanErr
	})
	jtest.Require(t, scanErr, err)
}
