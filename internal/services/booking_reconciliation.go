package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/flight-reservation-backend/internal/database"
	"github.com/smarttransit/flight-reservation-backend/internal/models"
	"github.com/smarttransit/flight-reservation-backend/pkg/distribution"
	"github.com/smarttransit/flight-reservation-backend/pkg/notify"
)

// ============================================================================
// RESYNC
// ============================================================================

// ResyncBooking reconciles one reservation with the provider. Terminal
// statuses never change here; only their sync bookkeeping does.
func (s *BookingOrchestratorService) ResyncBooking(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	for attempt := 0; attempt < 2; attempt++ {
		res, err := s.mustReload(ctx, id)
		if err != nil {
			return nil, err
		}

		err = s.resync(ctx, res)
		if errors.Is(err, database.ErrStaleReservation) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return s.mustReload(ctx, id)
	}
	return nil, statusConflict(id)
}

func (s *BookingOrchestratorService) resync(ctx context.Context, res *models.Reservation) error {
	switch {
	case res.Status.IsTerminal():
		return s.resyncTerminal(ctx, res)
	case res.Status == models.ReservationStatusConfirmed:
		return s.resyncConfirmed(ctx, res)
	case res.HasRemoteOrder():
		return s.resyncPendingWithOrder(ctx, res)
	case res.NeedsResync:
		return s.retryConfirm(ctx, res)
	default:
		return nil
	}
}

// resyncTerminal settles a remote order left behind by a terminal reservation
func (s *BookingOrchestratorService) resyncTerminal(ctx context.Context, res *models.Reservation) error {
	if !res.NeedsResync {
		if !res.HasRemoteOrder() {
			return nil
		}
		if _, err := s.fetch(ctx, res); err != nil {
			return nil
		}
		now := s.now()
		return s.writeSync(ctx, res, false, &now, nil)
	}

	if res.HasRemoteOrder() {
		return s.cancelRemote(ctx, res, *res.RemoteOrderID, false)
	}

	// The confirm that flagged this reservation was ambiguous and the
	// provider offers no lookup by client reference. Replaying the confirm
	// with the same idempotency key yields the order if it exists.
	outcome := s.gateway.Confirm(ctx, s.orderRequest(res))
	switch {
	case outcome.IsConfirmed():
		s.logger.WithFields(logrus.Fields{
			"reservation_id":  res.ID,
			"status":          res.Status,
			"remote_order_id": outcome.RemoteOrderID,
		}).Warn("Found orphan remote order for terminal reservation, cancelling")
		return s.cancelRemote(ctx, res, outcome.RemoteOrderID, true)
	case outcome.IsRejected():
		now := s.now()
		code := outcome.ReasonCode
		return s.writeSync(ctx, res, false, &now, &code)
	default:
		return nil
	}
}

// resyncConfirmed picks up provider-side cancellations
func (s *BookingOrchestratorService) resyncConfirmed(ctx context.Context, res *models.Reservation) error {
	snapshot, err := s.fetch(ctx, res)
	if err != nil {
		return nil
	}

	now := s.now()
	if snapshot.Status == distribution.OrderStatusCancelled {
		cleared := ""
		err := s.store.ApplyUpdate(ctx, database.ReservationUpdate{
			ID:              res.ID,
			ExpectedStatus:  models.ReservationStatusConfirmed,
			Status:          models.ReservationStatusCancelled,
			Reason:          reasonCancelledByProvider,
			NeedsResync:     false,
			LastSyncedAt:    &now,
			LastProviderErr: &cleared,
			At:              now,
		})
		if err != nil {
			return err
		}
		s.logger.WithField("reservation_id", res.ID).Warn("Reservation cancelled by provider")
		res.Status = models.ReservationStatusCancelled
		s.publish(res, notify.EventReservationCancelled, reasonCancelledByProvider)
		return nil
	}

	s.checkReportedTotal(res, snapshot)
	return s.writeSync(ctx, res, false, &now, nil)
}

// checkReportedTotal warns when the provider's order total drifts from the
// price the reservation was booked at
func (s *BookingOrchestratorService) checkReportedTotal(res *models.Reservation, snapshot *distribution.OrderSnapshot) {
	if snapshot.Total == "" {
		return
	}
	logger := s.logger.WithFields(logrus.Fields{
		"reservation_id":  res.ID,
		"remote_order_id": snapshot.OrderID,
		"reported_total":  snapshot.Total,
	})

	currency := snapshot.Currency
	if currency == "" {
		currency = res.Pricing.Currency
	}
	if !strings.EqualFold(currency, res.Pricing.Currency) {
		logger.WithField("reported_currency", currency).Warn("Provider reports order in a different currency")
		return
	}
	reported, err := models.ParseAmount(snapshot.Total, currency)
	if err != nil {
		logger.WithError(err).Warn("Provider reported an unreadable order total")
		return
	}
	if reported != res.Pricing.Total {
		logger.WithField("booked_total", models.FormatAmount(res.Pricing.Total, res.Pricing.Currency)).
			Warn("Provider order total differs from booked price")
	}
}

// resyncPendingWithOrder handles a pending reservation that somehow carries a
// remote order id
func (s *BookingOrchestratorService) resyncPendingWithOrder(ctx context.Context, res *models.Reservation) error {
	snapshot, err := s.fetch(ctx, res)
	if err != nil {
		return nil
	}
	if snapshot.Status.IsActive() {
		return s.recordConfirmation(ctx, res.ID, *res.RemoteOrderID, reasonConfirmedOnResync)
	}
	now := s.now()
	return s.writeSync(ctx, res, res.NeedsResync, &now, nil)
}

// retryConfirm replays the confirm of a pending reservation whose last
// attempt was indeterminate
func (s *BookingOrchestratorService) retryConfirm(ctx context.Context, res *models.Reservation) error {
	outcome := s.gateway.Confirm(ctx, s.orderRequest(res))
	logger := s.logger.WithField("reservation_id", res.ID)

	switch {
	case outcome.IsConfirmed():
		if err := s.recordConfirmation(ctx, res.ID, outcome.RemoteOrderID, reasonConfirmedOnResync); err != nil {
			return err
		}
		logger.WithField("remote_order_id", outcome.RemoteOrderID).Info("Reservation confirmed on resync")
		if current, err := s.mustReload(ctx, res.ID); err == nil && current.Status == models.ReservationStatusConfirmed {
			s.publish(current, notify.EventReservationConfirmed, "")
		}
		return nil
	case outcome.IsRejected():
		now := s.now()
		code := outcome.ReasonCode
		logger.WithField("reason_code", code).Warn("Provider rejected reservation on resync")
		return s.writeSync(ctx, res, false, &now, &code)
	default:
		logger.WithError(outcome.Cause).Warn("Provider confirmation still indeterminate")
		return nil
	}
}

// fetch reads the remote order and records definitive lookup failures
func (s *BookingOrchestratorService) fetch(ctx context.Context, res *models.Reservation) (*distribution.OrderSnapshot, error) {
	snapshot, err := s.gateway.Fetch(ctx, *res.RemoteOrderID)
	if err == nil {
		return snapshot, nil
	}

	logger := s.logger.WithError(err).WithFields(logrus.Fields{
		"reservation_id":  res.ID,
		"remote_order_id": *res.RemoteOrderID,
	})

	var rejection *distribution.RejectionError
	if errors.As(err, &rejection) {
		code := rejection.ReasonCode
		if werr := s.writeSync(ctx, res, res.NeedsResync, nil, &code); werr != nil {
			logger.WithError(werr).Warn("Failed to record provider lookup failure")
		}
	}
	logger.Warn("Failed to fetch remote order")
	return nil, err
}

// ============================================================================
// SWEEPS
// ============================================================================

// ExpireHolds expires pending reservations whose hold has lapsed. Holds that
// are flagged for resync are reconciled first and expired only if that
// settles them without a confirmation.
func (s *BookingOrchestratorService) ExpireHolds(ctx context.Context) (int, error) {
	ids, err := s.store.ListExpiredHolds(ctx, s.now(), s.config.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}

		res, err := s.mustReload(ctx, id)
		if err != nil {
			s.logger.WithError(err).WithField("reservation_id", id).Warn("Failed to load expired hold")
			continue
		}

		if res.NeedsResync || res.HasRemoteOrder() {
			if err := s.resync(ctx, res); err != nil {
				s.logger.WithError(err).WithField("reservation_id", id).Warn("Failed to resync expired hold")
				continue
			}
			if res, err = s.mustReload(ctx, id); err != nil {
				continue
			}
			if res.NeedsResync || res.HasRemoteOrder() {
				continue
			}
		}

		if res.Status != models.ReservationStatusPending || s.now().Before(res.HoldExpiresAt) {
			continue
		}

		err = s.store.ApplyUpdate(ctx, database.ReservationUpdate{
			ID:             res.ID,
			ExpectedStatus: models.ReservationStatusPending,
			Status:         models.ReservationStatusExpired,
			Reason:         reasonHoldExpired,
			NeedsResync:    false,
			At:             s.now(),
		})
		if errors.Is(err, database.ErrStaleReservation) {
			continue
		}
		if err != nil {
			s.logger.WithError(err).WithField("reservation_id", id).Warn("Failed to expire hold")
			continue
		}
		expired++
	}

	if expired > 0 {
		s.logger.WithField("count", expired).Info("Expired reservation holds")
	}
	return expired, nil
}

// ResyncPending reconciles every reservation flagged for resync and returns
// how many are no longer flagged
func (s *BookingOrchestratorService) ResyncPending(ctx context.Context) (int, error) {
	ids, err := s.store.ListNeedingResync(ctx, s.config.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		res, err := s.ResyncBooking(ctx, id)
		if err != nil {
			s.logger.WithError(err).WithField("reservation_id", id).Warn("Failed to resync reservation")
			continue
		}
		if !res.NeedsResync {
			settled++
		}
	}

	if len(ids) > 0 {
		s.logger.WithFields(logrus.Fields{
			"flagged": len(ids),
			"settled": settled,
		}).Info("Resync sweep finished")
	}
	return settled, nil
}

// CompleteDeparted marks confirmed reservations as completed once travel is over
func (s *BookingOrchestratorService) CompleteDeparted(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.config.CompletionGrace)
	ids, err := s.store.ListDepartedConfirmed(ctx, cutoff, s.config.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return completed, ctx.Err()
		}

		// Flagged reservations may have been cancelled remotely; resync decides first
		res, err := s.mustReload(ctx, id)
		if err != nil || res.NeedsResync {
			continue
		}

		err = s.store.ApplyUpdate(ctx, database.ReservationUpdate{
			ID:             id,
			ExpectedStatus: models.ReservationStatusConfirmed,
			Status:         models.ReservationStatusCompleted,
			Reason:         reasonTravelCompleted,
			At:             s.now(),
		})
		if errors.Is(err, database.ErrStaleReservation) {
			continue
		}
		if err != nil {
			s.logger.WithError(err).WithField("reservation_id", id).Warn("Failed to complete reservation")
			continue
		}
		completed++
	}

	if completed > 0 {
		s.logger.WithField("count", completed).Info("Completed departed reservations")
	}
	return completed, nil
}
