package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/smarttransit/flight-reservation-backend/internal/models"
	"github.com/smarttransit/flight-reservation-backend/pkg/distribution"
	"github.com/smarttransit/flight-reservation-backend/pkg/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createPending(t *testing.T, h *orchestratorHarness, outcome distribution.Outcome) *models.Reservation {
	t.Helper()
	h.gateway.setConfirm(outcome)
	result, _ := h.svc.CreateBooking(context.Background(), customer, twoAdultRequest(h.now))
	require.NotNil(t, result)
	require.Equal(t, models.ReservationStatusPending, result.Reservation.Status)
	return result.Reservation
}

// ============================================================================
// EXPIRY
// ============================================================================

func TestExpireHolds_UnflaggedHold(t *testing.T) {
	h := newOrchestratorHarness(t)
	res := createPending(t, h, distribution.Rejected("OFFER_EXPIRED", ""))

	n, err := h.svc.ExpireHolds(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "hold has not lapsed yet")

	h.advance(31 * time.Minute)
	n, err = h.svc.ExpireHolds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored := h.reload(t, res.ID)
	assert.Equal(t, models.ReservationStatusExpired, stored.Status)
	assert.Equal(t, "hold expired", stored.StatusHistory[len(stored.StatusHistory)-1].Reason)

	// Expired is terminal
	_, err = h.svc.CancelBooking(context.Background(), res.ID, "too late", customer)
	var terminal *models.AlreadyTerminalError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, models.ReservationStatusExpired, terminal.Status)
}

func TestExpireHolds_FlaggedHoldStillIndeterminate(t *testing.T) {
	h := newOrchestratorHarness(t)
	res := createPending(t, h, distribution.Indeterminate(errors.New("timeout")))
	h.advance(31 * time.Minute)

	n, err := h.svc.ExpireHolds(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	stored := h.reload(t, res.ID)
	assert.Equal(t, models.ReservationStatusPending, stored.Status)
	assert.True(t, stored.NeedsResync)
	assert.Len(t, h.gateway.confirmCalls(), 2, "the sweep replays the confirm before expiring")
}

func TestExpireHolds_FlaggedHoldRejectedOnResync(t *testing.T) {
	h := newOrchestratorHarness(t)
	res := createPending(t, h, distribution.Indeterminate(errors.New("timeout")))
	h.advance(31 * time.Minute)
	h.gateway.setConfirm(distribution.Rejected("OFFER_EXPIRED", ""))

	n, err := h.svc.ExpireHolds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored := h.reload(t, res.ID)
	assert.Equal(t, models.ReservationStatusExpired, stored.Status)
	assert.False(t, stored.NeedsResync)
}

func TestExpireHolds_FlaggedHoldConfirmedOnResync(t *testing.T) {
	h := newOrchestratorHarness(t)
	res := createPending(t, h, distribution.Indeterminate(errors.New("timeout")))
	h.advance(31 * time.Minute)
	h.gateway.setConfirm(distribution.Confirmed("ord_found"))

	n, err := h.svc.ExpireHolds(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "a hold with a remote order is never silently expired")

	stored := h.reload(t, res.ID)
	assert.Equal(t, models.ReservationStatusConfirmed, stored.Status)
	assert.Equal(t, "ord_found", *stored.RemoteOrderID)
}

// ============================================================================
// RESYNC
// ============================================================================

func TestResyncBooking_ProviderCancelledConfirmedOrder(t *testing.T) {
	h := newOrchestratorHarness(t)
	res := createConfirmed(t, h)
	h.gateway.fetchFn = func(id string) (*distribution.OrderSnapshot, error) {
		return &distribution.OrderSnapshot{OrderID: id, Status: distribution.OrderStatusCancelled}, nil
	}

	synced, err := h.svc.ResyncBooking(context.Background(), res.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ReservationStatusCancelled, synced.Status)
	assert.Equal(t, "cancelled by provider", synced.StatusHistory[len(synced.StatusHistory)-1].Reason)
	assert.Empty(t, h.gateway.cancelCalls())

	h.svc.WaitForNotifications()
	assert.Equal(t, []string{notify.EventReservationConfirmed, notify.EventReservationCancelled}, h.notifier.types())
}

func TestResyncBooking_ConfirmedStillActive(t *testing.T) {
	h := newOrchestratorHarness(t)
	res := createConfirmed(t, h)
	h.advance(time.Hour)

	synced, err := h.svc.ResyncBooking(context.Background(), res.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ReservationStatusConfirmed, synced.Status)
	require.NotNil(t, synced.LastSyncedAt)
	assert.True(t, synced.LastSyncedAt.Equal(h.now))
	assert.Len(t, synced.StatusHistory, 2)
}

func TestResyncBooking_ReportedTotalDrift(t *testing.T) {
	tests := []struct {
		name    string
		total   string
		warning string
	}{
		{"Matches Booked Price", "299.99", ""},
		{"Differs From Booked Price", "310.00", "Provider order total differs from booked price"},
		{"Unreadable", "99999999999999999999.00", "Provider reported an unreadable order total"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newOrchestratorHarness(t)
			res := createConfirmed(t, h)
			h.gateway.fetchFn = func(id string) (*distribution.OrderSnapshot, error) {
				return &distribution.OrderSnapshot{OrderID: id, Status: distribution.OrderStatusTicketed, Currency: "USD", Total: tt.total}, nil
			}
			h.hook.Reset()

			synced, err := h.svc.ResyncBooking(context.Background(), res.ID)
			require.NoError(t, err)
			assert.Equal(t, models.ReservationStatusConfirmed, synced.Status)

			var warnings []string
			for _, entry := range h.hook.AllEntries() {
				warnings = append(warnings, entry.Message)
			}
			if tt.warning == "" {
				assert.Empty(t, warnings)
			} else {
				assert.Contains(t, warnings, tt.warning)
			}
		})
	}
}

func TestResyncBooking_TerminalNeverRegresses(t *testing.T) {
	h := newOrchestratorHarness(t)
	res := createConfirmed(t, h)
	_, err := h.svc.CancelBooking(context.Background(), res.ID, "plans changed", customer)
	require.NoError(t, err)

	// The provider still reports the order as active
	synced, err := h.svc.ResyncBooking(context.Background(), res.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ReservationStatusCancelled, synced.Status)
	assert.Len(t, synced.StatusHistory, 3)
}

func TestResyncBooking_FetchFailureRecorded(t *testing.T) {
	h := newOrchestratorHarness(t)
	res := createConfirmed(t, h)
	h.gateway.fetchFn = func(string) (*distribution.OrderSnapshot, error) {
		return nil, &distribution.RejectionError{ReasonCode: "ORDER_NOT_FOUND", StatusCode: http.StatusNotFound}
	}

	synced, err := h.svc.ResyncBooking(context.Background(), res.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ReservationStatusConfirmed, synced.Status)
	require.NotNil(t, synced.LastProviderErr)
	assert.Equal(t, "ORDER_NOT_FOUND", *synced.LastProviderErr)
}

func TestResyncPending_OnlyTouchesFlagged(t *testing.T) {
	h := newOrchestratorHarness(t)
	createConfirmed(t, h)
	flagged := createPending(t, h, distribution.Indeterminate(errors.New("timeout")))
	h.gateway.setConfirm(distribution.Rejected("SOLD_OUT", ""))

	settled, err := h.svc.ResyncPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	stored := h.reload(t, flagged.ID)
	assert.Equal(t, models.ReservationStatusPending, stored.Status)
	assert.False(t, stored.NeedsResync)
	assert.Equal(t, "SOLD_OUT", *stored.LastProviderErr)
}

// ============================================================================
// COMPLETION
// ============================================================================

func TestCompleteDeparted(t *testing.T) {
	h := newOrchestratorHarness(t)
	res := createConfirmed(t, h)

	// Arrival is 80h out; completion waits a further 24h
	h.advance(100 * time.Hour)
	n, err := h.svc.CompleteDeparted(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	h.advance(5 * time.Hour)
	n, err = h.svc.CompleteDeparted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored := h.reload(t, res.ID)
	assert.Equal(t, models.ReservationStatusCompleted, stored.Status)
	assert.Equal(t, "travel completed", stored.StatusHistory[len(stored.StatusHistory)-1].Reason)
}

func TestSweeps_StopOnCancelledContext(t *testing.T) {
	h := newOrchestratorHarness(t)
	createPending(t, h, distribution.Rejected("OFFER_EXPIRED", ""))
	h.advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := h.svc.ExpireHolds(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}
