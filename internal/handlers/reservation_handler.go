package handlers

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/flight-reservation-backend/internal/middleware"
	"github.com/smarttransit/flight-reservation-backend/internal/models"
	"github.com/smarttransit/flight-reservation-backend/internal/services"
	"github.com/smarttransit/flight-reservation-backend/internal/utils"
)

// BookingService is the booking lifecycle exposed over HTTP
type BookingService interface {
	CreateBooking(ctx context.Context, caller models.CallerScope, req *models.CreateBookingRequest) (*services.CreateBookingResult, error)
	GetBooking(ctx context.Context, id uuid.UUID, caller models.CallerScope) (*models.Reservation, error)
	LookupByCode(ctx context.Context, code string, verifier services.LookupVerifier, client services.ClientInfo) (*models.PublicReservationView, error)
	CancelBooking(ctx context.Context, id uuid.UUID, reason string, caller models.CallerScope) (*models.Reservation, error)
	RefundBooking(ctx context.Context, id uuid.UUID, reason string, caller models.CallerScope) (*models.Reservation, error)
	UpdateBooking(ctx context.Context, id uuid.UUID, patch *models.BookingPatch, caller models.CallerScope) (*models.Reservation, error)
	ResyncBooking(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
}

// SweepRunner triggers maintenance sweeps on demand
type SweepRunner interface {
	RunExpireNow(ctx context.Context) (int, error)
	RunResyncNow(ctx context.Context) (int, error)
	RunCompleteNow(ctx context.Context) (int, error)
}

// ReservationHandler handles reservation endpoints
type ReservationHandler struct {
	bookings BookingService
	sweeps   SweepRunner
	auditor  BookingAuditor
	logger   *logrus.Logger
}

// NewReservationHandler creates a new ReservationHandler. The auditor may be nil.
func NewReservationHandler(bookings BookingService, sweeps SweepRunner, auditor BookingAuditor, logger *logrus.Logger) *ReservationHandler {
	return &ReservationHandler{
		bookings: bookings,
		sweeps:   sweeps,
		auditor:  auditor,
		logger:   logger,
	}
}

// ReasonRequest carries the reason for a cancellation or refund
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// BookingResponse wraps a reservation returned from create
type BookingResponse struct {
	Reservation         *models.Reservation `json:"reservation"`
	ConfirmationPending bool                `json:"confirmation_pending"`
}

type clientInfo struct {
	ip        string
	userAgent string
}

func clientFrom(c *gin.Context) clientInfo {
	return clientInfo{ip: utils.GetRealIP(c), userAgent: utils.GetUserAgent(c)}
}

// ============================================================================
// CREATE - POST /api/v1/bookings
// ============================================================================

// CreateBooking creates a hold and asks the provider to confirm it
func (h *ReservationHandler) CreateBooking(c *gin.Context) {
	userCtx, ok := middleware.GetUserContext(c)
	if !ok {
		writeError(c, h.logger, errUnauthenticated)
		return
	}

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   models.CodeInvalidRequest,
			"message": "invalid request body: " + err.Error(),
		})
		return
	}

	result, err := h.bookings.CreateBooking(c.Request.Context(), userCtx.Scope(), &req)
	var rejected *models.ProviderRejectedError
	if errors.As(err, &rejected) && result != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":       "PROVIDER_REJECTED",
			"message":     rejected.Error(),
			"reason_code": rejected.ReasonCode,
			"reservation": result.Reservation,
		})
		return
	}
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	device := utils.ParseUserAgent(utils.GetUserAgent(c))
	h.safeLogBookingAction(c.Request.Context(), userCtx.UserID, result.Reservation.ID, services.AuditActionBookingCreate, clientFrom(c), map[string]interface{}{
		"reservation_code":     result.Reservation.ReservationCode,
		"confirmation_pending": result.ConfirmationPending,
		"device_type":          device.DeviceType,
	})

	status := http.StatusCreated
	if result.ConfirmationPending {
		status = http.StatusAccepted
	}
	c.JSON(status, BookingResponse{
		Reservation:         result.Reservation,
		ConfirmationPending: result.ConfirmationPending,
	})
}

// ============================================================================
// READ - GET /api/v1/bookings/:id, GET /api/v1/public/bookings/:code
// ============================================================================

// GetBooking returns a reservation owned by the caller
func (h *ReservationHandler) GetBooking(c *gin.Context) {
	userCtx, id, ok := h.callerAndID(c)
	if !ok {
		return
	}

	res, err := h.bookings.GetBooking(c.Request.Context(), id, userCtx.Scope())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// LookupBooking is the unauthenticated lookup by reservation code
func (h *ReservationHandler) LookupBooking(c *gin.Context) {
	client := clientFrom(c)
	view, err := h.bookings.LookupByCode(
		c.Request.Context(),
		c.Param("code"),
		services.LookupVerifier{LastName: c.Query("last_name"), Email: c.Query("email")},
		services.ClientInfo{IPAddress: client.ip, UserAgent: client.userAgent},
	)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ============================================================================
// CANCEL / REFUND
// ============================================================================

// CancelBooking cancels a reservation - POST /api/v1/bookings/:id/cancel
func (h *ReservationHandler) CancelBooking(c *gin.Context) {
	h.terminate(c, services.AuditActionBookingCancel, h.bookings.CancelBooking)
}

// RefundBooking refunds a confirmed reservation - POST /api/v1/bookings/:id/refund
func (h *ReservationHandler) RefundBooking(c *gin.Context) {
	h.terminate(c, services.AuditActionBookingRefund, h.bookings.RefundBooking)
}

type terminateFunc func(ctx context.Context, id uuid.UUID, reason string, caller models.CallerScope) (*models.Reservation, error)

func (h *ReservationHandler) terminate(c *gin.Context, action string, fn terminateFunc) {
	userCtx, id, ok := h.callerAndID(c)
	if !ok {
		return
	}

	var req ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   models.CodeInvalidRequest,
			"message": "invalid request body: " + err.Error(),
		})
		return
	}

	res, err := fn(c.Request.Context(), id, req.Reason, userCtx.Scope())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.safeLogBookingAction(c.Request.Context(), userCtx.UserID, res.ID, action, clientFrom(c), map[string]interface{}{
		"reason":       req.Reason,
		"needs_resync": res.NeedsResync,
	})
	c.JSON(http.StatusOK, res)
}

// ============================================================================
// UPDATE - PATCH /api/v1/bookings/:id
// ============================================================================

// UpdateBooking applies contact and passenger edits
func (h *ReservationHandler) UpdateBooking(c *gin.Context) {
	userCtx, id, ok := h.callerAndID(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, h.logger, models.NewValidationError(models.CodeInvalidRequest, "could not read request body"))
		return
	}
	patch, err := models.DecodeBookingPatch(body)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	res, err := h.bookings.UpdateBooking(c.Request.Context(), id, patch, userCtx.Scope())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	fields := make([]string, len(patch.Operations))
	for i, op := range patch.Operations {
		fields[i] = string(op.Field)
	}
	h.safeLogBookingAction(c.Request.Context(), userCtx.UserID, res.ID, services.AuditActionBookingUpdate, clientFrom(c), map[string]interface{}{
		"fields":  fields,
		"version": res.Version,
	})
	c.JSON(http.StatusOK, res)
}

// ============================================================================
// ADMIN
// ============================================================================

// ResyncBooking reconciles one reservation with the provider - POST /api/v1/bookings/:id/resync
func (h *ReservationHandler) ResyncBooking(c *gin.Context) {
	_, id, ok := h.callerAndID(c)
	if !ok {
		return
	}

	res, err := h.bookings.ResyncBooking(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetAuditTrail lists recent audit events for a reservation - GET /api/v1/bookings/:id/audit
func (h *ReservationHandler) GetAuditTrail(c *gin.Context) {
	_, id, ok := h.callerAndID(c)
	if !ok {
		return
	}
	if h.auditor == nil {
		c.JSON(http.StatusOK, gin.H{"events": []services.AuditRecord{}})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		writeError(c, h.logger, models.NewValidationError(models.CodeInvalidRequest, "limit must be between 1 and 500"))
		return
	}

	events, err := h.auditor.GetRecentEvents(c.Request.Context(), id, limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// RunExpirySweep expires lapsed holds - POST /api/v1/admin/sweeps/expire
func (h *ReservationHandler) RunExpirySweep(c *gin.Context) {
	h.runSweep(c, "expire_holds", h.sweeps.RunExpireNow)
}

// RunResyncSweep settles flagged reservations - POST /api/v1/admin/sweeps/resync
func (h *ReservationHandler) RunResyncSweep(c *gin.Context) {
	h.runSweep(c, "resync_pending", h.sweeps.RunResyncNow)
}

// RunCompletionSweep completes travelled reservations - POST /api/v1/admin/sweeps/complete
func (h *ReservationHandler) RunCompletionSweep(c *gin.Context) {
	h.runSweep(c, "complete_departed", h.sweeps.RunCompleteNow)
}

func (h *ReservationHandler) runSweep(c *gin.Context, name string, run func(ctx context.Context) (int, error)) {
	userCtx, ok := middleware.GetUserContext(c)
	if !ok {
		writeError(c, h.logger, errUnauthenticated)
		return
	}

	started := time.Now()
	processed, err := run(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.safeLogSweepTriggered(c.Request.Context(), userCtx.UserID, name, processed, clientFrom(c))
	c.JSON(http.StatusOK, gin.H{
		"sweep":       name,
		"processed":   processed,
		"duration_ms": time.Since(started).Milliseconds(),
	})
}

// ============================================================================
// HELPERS
// ============================================================================

var errUnauthenticated = errors.New("user not authenticated")

func (h *ReservationHandler) callerAndID(c *gin.Context) (middleware.UserContext, uuid.UUID, bool) {
	userCtx, ok := middleware.GetUserContext(c)
	if !ok {
		writeError(c, h.logger, errUnauthenticated)
		return userCtx, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, h.logger, models.NewValidationError(models.CodeInvalidRequest, "invalid reservation id"))
		return userCtx, uuid.Nil, false
	}
	return userCtx, id, true
}

// writeError maps service errors onto HTTP responses
func writeError(c *gin.Context, logger *logrus.Logger, err error) {
	var (
		validationErr *models.ValidationError
		conflictErr   *models.ConflictError
		terminalErr   *models.AlreadyTerminalError
		notEditable   *models.NotEditableError
		rejected      *models.ProviderRejectedError
		rateErr       *services.RateLimitError
	)

	switch {
	case errors.Is(err, errUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHENTICATED", "message": err.Error()})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Code, "message": validationErr.Message})
	case errors.Is(err, models.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "FORBIDDEN", "message": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND", "message": err.Error()})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, gin.H{"error": conflictErr.Code, "message": conflictErr.Message})
	case errors.As(err, &terminalErr):
		c.JSON(http.StatusConflict, gin.H{"error": "ALREADY_TERMINAL", "message": terminalErr.Error(), "status": terminalErr.Status})
	case errors.As(err, &notEditable):
		c.JSON(http.StatusConflict, gin.H{"error": "NOT_EDITABLE", "message": notEditable.Error()})
	case errors.As(err, &rejected):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "PROVIDER_REJECTED", "message": rejected.Error(), "reason_code": rejected.ReasonCode})
	case errors.Is(err, models.ErrVerificationRequired):
		c.JSON(http.StatusPreconditionRequired, gin.H{"error": "VERIFICATION_REQUIRED", "message": err.Error()})
	case errors.As(err, &rateErr):
		retryAfter := int(math.Ceil(time.Until(rateErr.RetryAfter).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "RATE_LIMITED", "message": rateErr.Message, "retry_after": rateErr.RetryAfter})
	default:
		logger.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": "an internal error occurred"})
	}
}
