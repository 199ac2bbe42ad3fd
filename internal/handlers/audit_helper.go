package handlers

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/flight-reservation-backend/internal/services"
)

// BookingAuditor records authenticated booking actions
type BookingAuditor interface {
	LogBookingAction(ctx context.Context, userID uuid.UUID, reservationID uuid.UUID, action, ipAddress, userAgent string, details map[string]interface{}) error
	LogSweepTriggered(ctx context.Context, userID uuid.UUID, sweep string, processed int, ipAddress, userAgent string) error
	GetRecentEvents(ctx context.Context, reservationID uuid.UUID, limit int) ([]services.AuditRecord, error)
}

// logAuditError logs audit failures without failing the request
func logAuditError(logger *logrus.Logger, operation string, err error) {
	if err != nil {
		logger.WithError(err).WithField("operation", operation).Error("AUDIT ERROR")
	}
}

func (h *ReservationHandler) safeLogBookingAction(ctx context.Context, userID, reservationID uuid.UUID, action string, client clientInfo, details map[string]interface{}) {
	if h.auditor == nil {
		return
	}
	err := h.auditor.LogBookingAction(ctx, userID, reservationID, action, client.ip, client.userAgent, details)
	logAuditError(h.logger, "LogBookingAction", err)
}

func (h *ReservationHandler) safeLogSweepTriggered(ctx context.Context, userID uuid.UUID, sweep string, processed int, client clientInfo) {
	if h.auditor == nil {
		return
	}
	err := h.auditor.LogSweepTriggered(ctx, userID, sweep, processed, client.ip, client.userAgent)
	logAuditError(h.logger, "LogSweepTriggered", err)
}
