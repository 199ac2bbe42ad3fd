package distribution

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTransport answers each call with the next scripted result
type scriptedTransport struct {
	results   []scriptedResult
	calls     int
	deadlines []time.Duration
	lastOrder string
}

type scriptedResult struct {
	snapshot *OrderSnapshot
	err      error
}

func (t *scriptedTransport) next(ctx context.Context) (*OrderSnapshot, error) {
	if deadline, ok := ctx.Deadline(); ok {
		t.deadlines = append(t.deadlines, time.Until(deadline))
	}
	if t.calls >= len(t.results) {
		t.calls++
		return nil, ErrTemporary
	}
	r := t.results[t.calls]
	t.calls++
	return r.snapshot, r.err
}

func (t *scriptedTransport) CreateOrder(ctx context.Context, _ *OrderRequest) (*OrderSnapshot, error) {
	return t.next(ctx)
}

func (t *scriptedTransport) CancelOrder(ctx context.Context, orderID string) (*OrderSnapshot, error) {
	t.lastOrder = orderID
	return t.next(ctx)
}

func (t *scriptedTransport) GetOrder(ctx context.Context, orderID string) (*OrderSnapshot, error) {
	t.lastOrder = orderID
	return t.next(ctx)
}

func newTestGateway(transport Transport, config GatewayConfig) (*Gateway, *[]time.Duration) {
	logger, _ := test.NewNullLogger()
	g := NewGateway(transport, config, logger)
	var sleeps []time.Duration
	g.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return g, &sleeps
}

func TestGatewayConfirm_SucceedsAfterTemporaryFailures(t *testing.T) {
	transport := &scriptedTransport{results: []scriptedResult{
		{err: ErrTemporary},
		{err: ErrTemporary},
		{snapshot: &OrderSnapshot{OrderID: "ord_123", Status: OrderStatusConfirmed}},
	}}
	g, sleeps := newTestGateway(transport, DefaultGatewayConfig())

	outcome := g.Confirm(context.Background(), &OrderRequest{ClientReference: "ABC234"})

	assert.True(t, outcome.IsConfirmed())
	assert.Equal(t, "ord_123", outcome.RemoteOrderID)
	assert.Equal(t, 3, transport.calls)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, *sleeps)
}

func TestGatewayConfirm_RejectionIsNotRetried(t *testing.T) {
	transport := &scriptedTransport{results: []scriptedResult{
		{err: &RejectionError{ReasonCode: "OFFER_EXPIRED", Message: "offer no longer available", StatusCode: http.StatusUnprocessableEntity}},
	}}
	g, sleeps := newTestGateway(transport, DefaultGatewayConfig())

	outcome := g.Confirm(context.Background(), &OrderRequest{ClientReference: "ABC234"})

	assert.True(t, outcome.IsRejected())
	assert.Equal(t, "OFFER_EXPIRED", outcome.ReasonCode)
	assert.Equal(t, 1, transport.calls)
	assert.Empty(t, *sleeps)
}

func TestGatewayConfirm_ExhaustedIsIndeterminate(t *testing.T) {
	transport := &scriptedTransport{}
	g, _ := newTestGateway(transport, GatewayConfig{MaxAttempts: 4})

	outcome := g.Confirm(context.Background(), &OrderRequest{ClientReference: "ABC234"})

	assert.True(t, outcome.IsIndeterminate())
	assert.ErrorIs(t, outcome.Cause, ErrTemporary)
	assert.Equal(t, 4, transport.calls)
}

func TestGatewayConfirm_SnapshotStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		snapshot *OrderSnapshot
		expected OutcomeKind
	}{
		{"ticketed", &OrderSnapshot{OrderID: "ord_1", Status: OrderStatusTicketed}, OutcomeConfirmed},
		{"cancelled", &OrderSnapshot{OrderID: "ord_1", Status: OrderStatusCancelled}, OutcomeRejected},
		{"pending", &OrderSnapshot{OrderID: "ord_1", Status: OrderStatusPending}, OutcomeIndeterminate},
		{"confirmed without id", &OrderSnapshot{Status: OrderStatusConfirmed}, OutcomeIndeterminate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &scriptedTransport{results: []scriptedResult{{snapshot: tt.snapshot}}}
			g, _ := newTestGateway(transport, DefaultGatewayConfig())
			assert.Equal(t, tt.expected, g.Confirm(context.Background(), &OrderRequest{}).Kind)
		})
	}
}

func TestGatewayRetry_BackoffIsCapped(t *testing.T) {
	transport := &scriptedTransport{}
	g, sleeps := newTestGateway(transport, GatewayConfig{
		MaxAttempts: 5,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  time.Second,
	})

	g.Confirm(context.Background(), &OrderRequest{})

	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second, time.Second, time.Second}, *sleeps)
}

func TestGatewayRetry_PerAttemptTimeout(t *testing.T) {
	transport := &scriptedTransport{}
	g, _ := newTestGateway(transport, GatewayConfig{MaxAttempts: 2, AttemptTimeout: 50 * time.Millisecond})

	g.Confirm(context.Background(), &OrderRequest{})

	require.Len(t, transport.deadlines, 2)
	for _, remaining := range transport.deadlines {
		assert.LessOrEqual(t, remaining, 50*time.Millisecond)
	}
}

func TestGatewayRetry_StopsWhenContextCancelled(t *testing.T) {
	transport := &scriptedTransport{}
	g, _ := newTestGateway(transport, GatewayConfig{MaxAttempts: 5})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := g.Confirm(ctx, &OrderRequest{})

	assert.True(t, outcome.IsIndeterminate())
	assert.Equal(t, 1, transport.calls)
}

func TestGatewayCancel(t *testing.T) {
	t.Run("cancelled snapshot confirms", func(t *testing.T) {
		transport := &scriptedTransport{results: []scriptedResult{
			{snapshot: &OrderSnapshot{OrderID: "ord_9", Status: OrderStatusCancelled}},
		}}
		g, _ := newTestGateway(transport, DefaultGatewayConfig())

		outcome := g.Cancel(context.Background(), "ord_9")
		assert.True(t, outcome.IsConfirmed())
		assert.Equal(t, "ord_9", transport.lastOrder)
	})

	t.Run("already cancelled confirms", func(t *testing.T) {
		transport := &scriptedTransport{results: []scriptedResult{
			{err: &RejectionError{ReasonCode: "ORDER_ALREADY_CANCELLED", StatusCode: http.StatusConflict}},
		}}
		g, _ := newTestGateway(transport, DefaultGatewayConfig())

		assert.True(t, g.Cancel(context.Background(), "ord_9").IsConfirmed())
	})

	t.Run("still active is indeterminate", func(t *testing.T) {
		transport := &scriptedTransport{results: []scriptedResult{
			{snapshot: &OrderSnapshot{OrderID: "ord_9", Status: OrderStatusTicketed}},
		}}
		g, _ := newTestGateway(transport, DefaultGatewayConfig())

		assert.True(t, g.Cancel(context.Background(), "ord_9").IsIndeterminate())
	})

	t.Run("not cancellable is rejected", func(t *testing.T) {
		transport := &scriptedTransport{results: []scriptedResult{
			{err: &RejectionError{ReasonCode: "ORDER_NOT_CANCELLABLE", StatusCode: http.StatusUnprocessableEntity}},
		}}
		g, _ := newTestGateway(transport, DefaultGatewayConfig())

		outcome := g.Cancel(context.Background(), "ord_9")
		assert.True(t, outcome.IsRejected())
		assert.Equal(t, "ORDER_NOT_CANCELLABLE", outcome.ReasonCode)
	})
}

func TestGatewayFetch(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		transport := &scriptedTransport{results: []scriptedResult{
			{snapshot: &OrderSnapshot{OrderID: "ord_5", Status: OrderStatusConfirmed}},
		}}
		g, _ := newTestGateway(transport, DefaultGatewayConfig())

		snapshot, err := g.Fetch(context.Background(), "ord_5")
		require.NoError(t, err)
		assert.Equal(t, OrderStatusConfirmed, snapshot.Status)
	})

	t.Run("exhausted is indeterminate", func(t *testing.T) {
		g, _ := newTestGateway(&scriptedTransport{}, DefaultGatewayConfig())

		_, err := g.Fetch(context.Background(), "ord_5")
		assert.ErrorIs(t, err, ErrIndeterminate)
	})

	t.Run("rejection passes through", func(t *testing.T) {
		transport := &scriptedTransport{results: []scriptedResult{
			{err: &RejectionError{ReasonCode: "ORDER_NOT_FOUND", StatusCode: http.StatusNotFound}},
		}}
		g, _ := newTestGateway(transport, DefaultGatewayConfig())

		_, err := g.Fetch(context.Background(), "ord_5")
		var rejection *RejectionError
		require.True(t, errors.As(err, &rejection))
		assert.Equal(t, "ORDER_NOT_FOUND", rejection.ReasonCode)
	})
}

func TestSleepContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
