package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/flight-reservation-backend/internal/database"
	"github.com/smarttransit/flight-reservation-backend/internal/models"
	"github.com/smarttransit/flight-reservation-backend/pkg/distribution"
	"github.com/smarttransit/flight-reservation-backend/pkg/notify"
	"github.com/smarttransit/flight-reservation-backend/pkg/validator"
)

// ReservationStore persists reservations. Every status change is a
// compare-and-set on the current status.
type ReservationStore interface {
	Insert(ctx context.Context, res *models.Reservation, reason string) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	GetByCode(ctx context.Context, code string) (*models.Reservation, error)
	ApplyUpdate(ctx context.Context, u database.ReservationUpdate) error
	UpdateDetails(ctx context.Context, id uuid.UUID, expectedVersion int, contact models.Contact, passengers models.Passengers, changes []models.ChangeLogEntry) error
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ListNeedingResync(ctx context.Context, limit int) ([]uuid.UUID, error)
	ListDepartedConfirmed(ctx context.Context, arrivedBefore time.Time, limit int) ([]uuid.UUID, error)
}

// ProviderGateway talks to the flight distribution provider
type ProviderGateway interface {
	Confirm(ctx context.Context, req *distribution.OrderRequest) distribution.Outcome
	Cancel(ctx context.Context, remoteOrderID string) distribution.Outcome
	Fetch(ctx context.Context, remoteOrderID string) (*distribution.OrderSnapshot, error)
}

// Notifier delivers reservation events
type Notifier interface {
	Publish(ctx context.Context, event notify.ReservationEvent) error
}

// CodeGenerator produces candidate identifiers
type CodeGenerator interface {
	NewReservationCode() (string, error)
	NewBookingReference() (string, error)
}

// LookupThrottle limits public lookups per client
type LookupThrottle interface {
	CheckLookupRateLimit(ctx context.Context, ip string) error
}

// LookupAuditor records public lookup attempts
type LookupAuditor interface {
	LogBookingLookup(ctx context.Context, reservationID *uuid.UUID, code, ipAddress, userAgent string, success bool, reason string) error
	LogRateLimitViolation(ctx context.Context, ipAddress, userAgent, limitType string, retryAfter time.Time) error
}

// BookingOrchestratorConfig holds configuration for the orchestrator
type BookingOrchestratorConfig struct {
	HoldTTL               time.Duration // How long an unconfirmed hold lives (default 30 min)
	UpdateCutoff          time.Duration // Edits close this long before first departure (default 2h)
	CompletionGrace       time.Duration // Delay after last arrival before completing (default 24h)
	IdentifierMaxAttempts int           // Identifier generation attempts (default 5)
	NotifyTimeout         time.Duration // Per-event publish timeout (default 5s)
	SweepBatchSize        int           // Reservations handled per sweep run (default 100)
}

// DefaultOrchestratorConfig returns default configuration
func DefaultOrchestratorConfig() BookingOrchestratorConfig {
	return BookingOrchestratorConfig{
		HoldTTL:               30 * time.Minute,
		UpdateCutoff:          2 * time.Hour,
		CompletionGrace:       24 * time.Hour,
		IdentifierMaxAttempts: 5,
		NotifyTimeout:         5 * time.Second,
		SweepBatchSize:        100,
	}
}

// Status history reasons written by the orchestrator
const (
	reasonCreated             = "reservation created"
	reasonConfirmed           = "confirmed by provider"
	reasonConfirmedOnResync   = "confirmed by provider on resync"
	reasonHoldExpired         = "hold expired"
	reasonCancelledByProvider = "cancelled by provider"
	reasonTravelCompleted     = "travel completed"
)

// BookingOrchestratorService drives the reservation lifecycle
type BookingOrchestratorService struct {
	store    ReservationStore
	gateway  ProviderGateway
	notifier Notifier
	codes    CodeGenerator
	pricing  *PricingAggregator
	contacts *validator.ContactValidator
	throttle LookupThrottle
	auditor  LookupAuditor
	config   BookingOrchestratorConfig
	logger   *logrus.Logger
	now      func() time.Time
	inflight sync.WaitGroup
}

// NewBookingOrchestratorService creates a new orchestrator service
func NewBookingOrchestratorService(
	store ReservationStore,
	gateway ProviderGateway,
	notifier Notifier,
	codes CodeGenerator,
	config BookingOrchestratorConfig,
	logger *logrus.Logger,
) *BookingOrchestratorService {
	defaults := DefaultOrchestratorConfig()
	if config.IdentifierMaxAttempts <= 0 {
		config.IdentifierMaxAttempts = defaults.IdentifierMaxAttempts
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = defaults.NotifyTimeout
	}
	if config.SweepBatchSize <= 0 {
		config.SweepBatchSize = defaults.SweepBatchSize
	}
	return &BookingOrchestratorService{
		store:    store,
		gateway:  gateway,
		notifier: notifier,
		codes:    codes,
		pricing:  NewPricingAggregator(),
		contacts: validator.NewContactValidator(),
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// WithLookupGuards attaches throttling and auditing to public lookups
func (s *BookingOrchestratorService) WithLookupGuards(throttle LookupThrottle, auditor LookupAuditor) *BookingOrchestratorService {
	s.throttle = throttle
	s.auditor = auditor
	return s
}

// WaitForNotifications blocks until in-flight notifications finish
func (s *BookingOrchestratorService) WaitForNotifications() {
	s.inflight.Wait()
}

// CreateBookingResult is the outcome of CreateBooking
type CreateBookingResult struct {
	Reservation         *models.Reservation
	ConfirmationPending bool // Provider outcome unknown; resync will settle it
}

// ============================================================================
// CREATE
// ============================================================================

// CreateBooking validates, prices and persists a hold, then asks the provider
// to confirm it. A provider rejection returns the pending reservation together
// with *models.ProviderRejectedError.
func (s *BookingOrchestratorService) CreateBooking(
	ctx context.Context,
	caller models.CallerScope,
	req *models.CreateBookingRequest,
) (*CreateBookingResult, error) {
	now := s.now()

	// 1. Validate request
	if err := req.Validate(now); err != nil {
		return nil, err
	}
	contact, err := s.normalizeContact(req.Contact)
	if err != nil {
		return nil, err
	}

	// 2. Price the offers
	pricing, err := s.pricing.Aggregate(req.Offers, req.Passengers)
	if err != nil {
		return nil, err
	}

	// 3. Snapshot itineraries
	itineraries := make(models.Itineraries, len(req.Offers))
	for i, offer := range req.Offers {
		itineraries[i] = models.Itinerary{OfferID: offer.ID, Segments: offer.Segments}
	}

	passengers := make(models.Passengers, len(req.Passengers))
	for i, p := range req.Passengers {
		p.FirstName = strings.TrimSpace(p.FirstName)
		p.LastName = strings.TrimSpace(p.LastName)
		passengers[i] = p
	}

	res := &models.Reservation{
		ID:            uuid.New(),
		UserID:        caller.UserID,
		Status:        models.ReservationStatusPending,
		Itineraries:   itineraries,
		Passengers:    passengers,
		Contact:       contact,
		Pricing:       *pricing,
		HoldExpiresAt: now.Add(s.config.HoldTTL),
		NeedsResync:   true, // cleared once the provider answers definitively
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// 4. Persist the hold before any remote side effect
	if err := s.insertWithIdentifiers(ctx, res); err != nil {
		return nil, err
	}

	logger := s.logger.WithFields(logrus.Fields{
		"reservation_id":   res.ID,
		"reservation_code": res.ReservationCode,
	})
	logger.Info("Reservation hold created")

	// 5. Ask the provider to confirm
	outcome := s.gateway.Confirm(ctx, s.orderRequest(res))

	// 6. Record the outcome. The caller going away must not lose it.
	ctx = context.WithoutCancel(ctx)
	result := &CreateBookingResult{}
	switch {
	case outcome.IsConfirmed():
		if err := s.recordConfirmation(ctx, res.ID, outcome.RemoteOrderID, reasonConfirmed); err != nil {
			return nil, err
		}
		logger.WithField("remote_order_id", outcome.RemoteOrderID).Info("Reservation confirmed")

	case outcome.IsRejected():
		code := outcome.ReasonCode
		err := s.store.ApplyUpdate(ctx, database.ReservationUpdate{
			ID:              res.ID,
			ExpectedStatus:  models.ReservationStatusPending,
			Status:          models.ReservationStatusPending,
			NeedsResync:     false,
			LastProviderErr: &code,
			At:              s.now(),
		})
		if err != nil && !errors.Is(err, database.ErrStaleReservation) {
			return nil, err
		}
		logger.WithField("reason_code", code).Warn("Provider rejected reservation")

	default:
		if err := s.flagForResync(ctx, res.ID); err != nil {
			return nil, err
		}
		result.ConfirmationPending = true
		logger.WithError(outcome.Cause).Warn("Provider confirmation indeterminate, flagged for resync")
	}

	current, err := s.mustReload(ctx, res.ID)
	if err != nil {
		return nil, err
	}
	result.Reservation = current

	if outcome.IsRejected() {
		return result, &models.ProviderRejectedError{ReasonCode: outcome.ReasonCode, Message: outcome.Message}
	}
	if current.Status == models.ReservationStatusConfirmed {
		s.publish(current, notify.EventReservationConfirmed, "")
	}
	return result, nil
}

// insertWithIdentifiers generates identifiers until the store accepts them.
// The store's unique constraints are the collision check.
func (s *BookingOrchestratorService) insertWithIdentifiers(ctx context.Context, res *models.Reservation) error {
	for attempt := 1; attempt <= s.config.IdentifierMaxAttempts; attempt++ {
		code, err := s.codes.NewReservationCode()
		if err != nil {
			return fmt.Errorf("failed to generate reservation code: %w", err)
		}
		ref, err := s.codes.NewBookingReference()
		if err != nil {
			return fmt.Errorf("failed to generate booking reference: %w", err)
		}
		res.ReservationCode = code
		res.BookingReference = ref

		err = s.store.Insert(ctx, res, reasonCreated)
		if err == nil {
			res.StatusHistory = []models.StatusHistoryEntry{{
				Status:    res.Status,
				Reason:    reasonCreated,
				ChangedAt: res.CreatedAt,
			}}
			return nil
		}
		if !errors.Is(err, database.ErrDuplicateIdentifier) {
			return fmt.Errorf("failed to save reservation: %w", err)
		}
		s.logger.WithField("attempt", attempt).Warn("Identifier collision, regenerating")
	}

	return &models.ConflictError{
		Code:    models.CodeGenerationExhausted,
		Message: fmt.Sprintf("could not allocate unique identifiers after %d attempts", s.config.IdentifierMaxAttempts),
	}
}

// recordConfirmation moves a pending reservation to confirmed. If the
// reservation reached a terminal state while the provider call was in flight,
// the new remote order is orphaned and is cancelled instead.
func (s *BookingOrchestratorService) recordConfirmation(ctx context.Context, id uuid.UUID, remoteOrderID, reason string) error {
	for attempt := 0; attempt < 2; attempt++ {
		now := s.now()
		cleared := ""
		err := s.store.ApplyUpdate(ctx, database.ReservationUpdate{
			ID:              id,
			ExpectedStatus:  models.ReservationStatusPending,
			Status:          models.ReservationStatusConfirmed,
			Reason:          reason,
			RemoteOrderID:   &remoteOrderID,
			NeedsResync:     false,
			LastSyncedAt:    &now,
			LastProviderErr: &cleared,
			At:              now,
		})
		if !errors.Is(err, database.ErrStaleReservation) {
			return err
		}

		current, err := s.mustReload(ctx, id)
		if err != nil {
			return err
		}
		switch {
		case current.Status == models.ReservationStatusPending:
			continue
		case current.Status == models.ReservationStatusConfirmed:
			// A concurrent resync already recorded it
			return nil
		default:
			s.logger.WithFields(logrus.Fields{
				"reservation_id":  id,
				"status":          current.Status,
				"remote_order_id": remoteOrderID,
			}).Warn("Reservation became terminal during confirmation, cancelling remote order")
			if err := s.writeSync(ctx, current, true, nil, nil); err != nil && !errors.Is(err, database.ErrStaleReservation) {
				return err
			}
			current.NeedsResync = true
			return s.cancelRemote(ctx, current, remoteOrderID, true)
		}
	}
	return statusConflict(id)
}

// flagForResync marks the reservation as needing reconciliation, whatever its status
func (s *BookingOrchestratorService) flagForResync(ctx context.Context, id uuid.UUID) error {
	for attempt := 0; attempt < 2; attempt++ {
		current, err := s.mustReload(ctx, id)
		if err != nil {
			return err
		}
		if current.NeedsResync {
			return nil
		}
		err = s.writeSync(ctx, current, true, nil, nil)
		if !errors.Is(err, database.ErrStaleReservation) {
			return err
		}
	}
	return statusConflict(id)
}

// ============================================================================
// READ
// ============================================================================

// GetBooking returns a reservation the caller may see
func (s *BookingOrchestratorService) GetBooking(ctx context.Context, id uuid.UUID, caller models.CallerScope) (*models.Reservation, error) {
	return s.load(ctx, id, caller)
}

// LookupVerifier proves knowledge of the booking on public lookup
type LookupVerifier struct {
	LastName string
	Email    string
}

// ClientInfo identifies an unauthenticated caller
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// LookupByCode finds a reservation by code for an unauthenticated caller.
// Any mismatch is reported as not found so a guessed code reveals nothing.
func (s *BookingOrchestratorService) LookupByCode(
	ctx context.Context,
	code string,
	verifier LookupVerifier,
	client ClientInfo,
) (*models.PublicReservationView, error) {
	code = NormalizeCode(code)

	if s.throttle != nil {
		if err := s.throttle.CheckLookupRateLimit(ctx, client.IPAddress); err != nil {
			var rateErr *RateLimitError
			if errors.As(err, &rateErr) {
				s.auditRateLimit(ctx, client, rateErr)
			}
			return nil, err
		}
	}

	lastName := strings.TrimSpace(verifier.LastName)
	email := strings.TrimSpace(verifier.Email)
	if lastName == "" && email == "" {
		s.auditLookup(ctx, nil, code, client, false, "verification_required")
		return nil, models.ErrVerificationRequired
	}

	if len(code) != ReservationCodeLength {
		s.auditLookup(ctx, nil, code, client, false, "malformed_code")
		return nil, models.ErrNotFound
	}

	res, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to look up reservation: %w", err)
	}
	if res == nil {
		s.auditLookup(ctx, nil, code, client, false, "not_found_or_mismatch")
		return nil, models.ErrNotFound
	}
	if !matchesVerifier(res, lastName, email) {
		s.auditLookup(ctx, &res.ID, code, client, false, "not_found_or_mismatch")
		return nil, models.ErrNotFound
	}

	s.auditLookup(ctx, &res.ID, code, client, true, "")
	return res.ToPublicView(), nil
}

func matchesVerifier(res *models.Reservation, lastName, email string) bool {
	if email != "" && strings.EqualFold(email, res.Contact.Email) {
		return true
	}
	if lastName != "" {
		for _, p := range res.Passengers {
			if strings.EqualFold(lastName, strings.TrimSpace(p.LastName)) {
				return true
			}
		}
	}
	return false
}

// ============================================================================
// CANCEL / REFUND
// ============================================================================

// CancelBooking cancels locally first, then cancels the remote order. A failed
// remote cancellation leaves the reservation flagged for resync.
func (s *BookingOrchestratorService) CancelBooking(
	ctx context.Context,
	id uuid.UUID,
	reason string,
	caller models.CallerScope,
) (*models.Reservation, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, models.NewValidationError(models.CodeMissingReason, "a cancellation reason is required")
	}

	res, err := s.terminate(ctx, id, caller, models.ReservationStatusCancelled, reason, func(res *models.Reservation) error {
		if res.Status.IsTerminal() {
			return &models.AlreadyTerminalError{Status: res.Status}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"reservation_id":   res.ID,
		"reservation_code": res.ReservationCode,
	}).Info("Reservation cancelled")
	s.publish(res, notify.EventReservationCancelled, reason)
	return res, nil
}

// RefundBooking moves a confirmed reservation to refunded and cancels the
// remote order. Admin only.
func (s *BookingOrchestratorService) RefundBooking(
	ctx context.Context,
	id uuid.UUID,
	reason string,
	caller models.CallerScope,
) (*models.Reservation, error) {
	if !caller.IsAdmin {
		return nil, models.ErrForbidden
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, models.NewValidationError(models.CodeMissingReason, "a refund reason is required")
	}

	res, err := s.terminate(ctx, id, caller, models.ReservationStatusRefunded, reason, func(res *models.Reservation) error {
		if res.Status.IsTerminal() {
			return &models.AlreadyTerminalError{Status: res.Status}
		}
		if !res.Status.CanTransitionTo(models.ReservationStatusRefunded) {
			return &models.ConflictError{Code: models.CodeStatusConflict, Message: "only confirmed reservations can be refunded"}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithField("reservation_id", res.ID).Info("Reservation refunded")
	s.publish(res, notify.EventReservationRefunded, reason)
	return res, nil
}

// terminate applies a customer or admin driven terminal transition, then
// cancels the remote order if one exists
func (s *BookingOrchestratorService) terminate(
	ctx context.Context,
	id uuid.UUID,
	caller models.CallerScope,
	target models.ReservationStatus,
	reason string,
	precondition func(res *models.Reservation) error,
) (*models.Reservation, error) {
	var res *models.Reservation
	applied := false

	for attempt := 0; attempt < 2 && !applied; attempt++ {
		var err error
		res, err = s.load(ctx, id, caller)
		if err != nil {
			return nil, err
		}
		if err := precondition(res); err != nil {
			return nil, err
		}
		if !res.Status.CanTransitionTo(target) {
			return nil, &models.ConflictError{
				Code:    models.CodeStatusConflict,
				Message: fmt.Sprintf("a %s reservation cannot become %s", res.Status, target),
			}
		}

		// The flag stays set until the remote side is settled, so a crash
		// after this write still leaves work for the resync sweep
		err = s.store.ApplyUpdate(ctx, database.ReservationUpdate{
			ID:             res.ID,
			ExpectedStatus: res.Status,
			Status:         target,
			Reason:         reason,
			NeedsResync:    res.NeedsResync || res.HasRemoteOrder(),
			At:             s.now(),
		})
		switch {
		case err == nil:
			applied = true
		case errors.Is(err, database.ErrStaleReservation):
			continue
		default:
			return nil, err
		}
	}
	if !applied {
		return nil, statusConflict(id)
	}

	current, err := s.mustReload(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.HasRemoteOrder() {
		if err := s.cancelRemote(ctx, current, *current.RemoteOrderID, false); err != nil {
			s.logger.WithError(err).WithField("reservation_id", id).Error("Failed to record remote cancellation")
		}
		return s.mustReload(ctx, id)
	}
	return current, nil
}

// cancelRemote cancels a remote order for a terminal reservation and records
// the result. The reservation must already be flagged for resync. An orphan
// order is one the reservation never recorded; its id is kept in the
// provider error column so it stays traceable.
func (s *BookingOrchestratorService) cancelRemote(ctx context.Context, res *models.Reservation, remoteOrderID string, orphan bool) error {
	outcome := s.gateway.Cancel(ctx, remoteOrderID)
	logger := s.logger.WithFields(logrus.Fields{
		"reservation_id":  res.ID,
		"remote_order_id": remoteOrderID,
		"orphan":          orphan,
	})

	switch {
	case outcome.IsConfirmed():
		now := s.now()
		note := ""
		if orphan {
			note = fmt.Sprintf("orphan order %s cancelled", remoteOrderID)
		}
		logger.Info("Remote order cancelled")
		return s.writeSync(ctx, res, false, &now, &note)
	case outcome.IsRejected():
		code := outcome.ReasonCode
		if orphan {
			code = fmt.Sprintf("%s: orphan order %s", code, remoteOrderID)
		}
		logger.WithField("reason_code", outcome.ReasonCode).Warn("Provider refused cancellation, left for resync")
		return s.writeSync(ctx, res, true, nil, &code)
	default:
		logger.WithError(outcome.Cause).Warn("Remote cancellation indeterminate, left for resync")
		return nil
	}
}

// ============================================================================
// UPDATE
// ============================================================================

// UpdateBooking applies contact and passenger edits to a confirmed reservation
func (s *BookingOrchestratorService) UpdateBooking(
	ctx context.Context,
	id uuid.UUID,
	patch *models.BookingPatch,
	caller models.CallerScope,
) (*models.Reservation, error) {
	for attempt := 0; attempt < 2; attempt++ {
		res, err := s.load(ctx, id, caller)
		if err != nil {
			return nil, err
		}

		now := s.now()
		if res.Status != models.ReservationStatusConfirmed {
			return nil, &models.NotEditableError{Reason: fmt.Sprintf("reservation is %s", res.Status)}
		}
		if !now.Before(res.FirstDeparture().Add(-s.config.UpdateCutoff)) {
			return nil, &models.NotEditableError{Reason: fmt.Sprintf("changes close %s before departure", s.config.UpdateCutoff)}
		}
		if err := patch.Validate(len(res.Passengers)); err != nil {
			return nil, err
		}

		contact := res.Contact
		passengers := make(models.Passengers, len(res.Passengers))
		copy(passengers, res.Passengers)

		var changes []models.ChangeLogEntry
		for _, op := range patch.Operations {
			value, err := s.normalizePatchValue(op)
			if err != nil {
				return nil, err
			}
			op.Value = value
			old := op.Apply(&contact, passengers)
			if old == value {
				continue
			}
			changes = append(changes, models.ChangeLogEntry{
				Field:          op.Field,
				PassengerIndex: op.PassengerIndex,
				OldValue:       old,
				NewValue:       value,
				ChangedBy:      caller.UserID,
				ChangedAt:      now,
			})
		}
		if len(changes) == 0 {
			return res, nil
		}

		err = s.store.UpdateDetails(ctx, res.ID, res.Version, contact, passengers, changes)
		if errors.Is(err, database.ErrStaleReservation) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.logger.WithFields(logrus.Fields{
			"reservation_id": res.ID,
			"changes":        len(changes),
		}).Info("Reservation details updated")
		return s.mustReload(ctx, id)
	}
	return nil, statusConflict(id)
}

func (s *BookingOrchestratorService) normalizePatchValue(op models.PatchOperation) (string, error) {
	switch op.Field {
	case models.PatchContactEmail:
		email, err := s.contacts.ValidateEmail(op.Value)
		if err != nil {
			return "", models.NewValidationError(models.CodeInvalidContact, err.Error())
		}
		return email, nil
	case models.PatchContactPhone:
		phone, err := s.contacts.ValidatePhone(op.Value)
		if err != nil {
			return "", models.NewValidationError(models.CodeInvalidContact, err.Error())
		}
		return phone, nil
	case models.PatchDocumentNumber, models.PatchFrequentFlyerNumber:
		return strings.ToUpper(strings.TrimSpace(op.Value)), nil
	default:
		return strings.TrimSpace(op.Value), nil
	}
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *BookingOrchestratorService) normalizeContact(contact models.Contact) (models.Contact, error) {
	email, err := s.contacts.ValidateEmail(contact.Email)
	if err != nil {
		return models.Contact{}, models.NewValidationError(models.CodeInvalidContact, err.Error())
	}
	phone, err := s.contacts.ValidatePhone(contact.Phone)
	if err != nil {
		return models.Contact{}, models.NewValidationError(models.CodeInvalidContact, err.Error())
	}
	return models.Contact{Email: email, Phone: phone}, nil
}

// load reads a reservation and checks the caller may act on it
func (s *BookingOrchestratorService) load(ctx context.Context, id uuid.UUID, caller models.CallerScope) (*models.Reservation, error) {
	res, err := s.mustReload(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccess(res) {
		return nil, models.ErrForbidden
	}
	return res, nil
}

// mustReload reads a reservation, mapping a missing row to ErrNotFound
func (s *BookingOrchestratorService) mustReload(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	res, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	if res == nil {
		return nil, models.ErrNotFound
	}
	return res, nil
}

// writeSync updates sync bookkeeping without changing status
func (s *BookingOrchestratorService) writeSync(ctx context.Context, res *models.Reservation, needsResync bool, syncedAt *time.Time, providerErr *string) error {
	return s.store.ApplyUpdate(ctx, database.ReservationUpdate{
		ID:              res.ID,
		ExpectedStatus:  res.Status,
		Status:          res.Status,
		NeedsResync:     needsResync,
		LastSyncedAt:    syncedAt,
		LastProviderErr: providerErr,
		At:              s.now(),
	})
}

func (s *BookingOrchestratorService) orderRequest(res *models.Reservation) *distribution.OrderRequest {
	offerIDs := make([]string, len(res.Itineraries))
	for i, it := range res.Itineraries {
		offerIDs[i] = it.OfferID
	}

	passengers := make([]distribution.OrderPassenger, len(res.Passengers))
	for i, p := range res.Passengers {
		passengers[i] = distribution.OrderPassenger{
			Type:           string(p.Type),
			GivenName:      p.FirstName,
			FamilyName:     p.LastName,
			BornOn:         p.DateOfBirth,
			DocumentType:   p.Document.Type,
			DocumentNumber: p.Document.Number,
			DocumentIssuer: p.Document.IssuingCountry,
			DocumentExpiry: p.Document.ExpiresOn,
		}
	}

	return &distribution.OrderRequest{
		ClientReference: res.ReservationCode,
		OfferIDs:        offerIDs,
		Passengers:      passengers,
		ContactEmail:    res.Contact.Email,
		ContactPhone:    res.Contact.Phone,
		Currency:        res.Pricing.Currency,
		TotalAmount:     models.FormatAmount(res.Pricing.Total, res.Pricing.Currency),
	}
}

// publish sends a notification in the background. Failures are only logged.
func (s *BookingOrchestratorService) publish(res *models.Reservation, eventType, reason string) {
	event := notify.ReservationEvent{
		Type:             eventType,
		ReservationID:    res.ID.String(),
		ReservationCode:  res.ReservationCode,
		BookingReference: res.BookingReference,
		Status:           string(res.Status),
		ContactEmail:     res.Contact.Email,
		ContactPhone:     res.Contact.Phone,
		Reason:           reason,
		OccurredAt:       s.now(),
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.config.NotifyTimeout)
		defer cancel()
		if err := s.notifier.Publish(ctx, event); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"event":            eventType,
				"reservation_code": res.ReservationCode,
			}).Warn("Failed to publish reservation event")
		}
	}()
}

func (s *BookingOrchestratorService) auditLookup(ctx context.Context, reservationID *uuid.UUID, code string, client ClientInfo, success bool, reason string) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.LogBookingLookup(ctx, reservationID, code, client.IPAddress, client.UserAgent, success, reason); err != nil {
		s.logger.WithError(err).Warn("Failed to audit booking lookup")
	}
}

func (s *BookingOrchestratorService) auditRateLimit(ctx context.Context, client ClientInfo, rateErr *RateLimitError) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.LogRateLimitViolation(ctx, client.IPAddress, client.UserAgent, rateErr.Type, rateErr.RetryAfter); err != nil {
		s.logger.WithError(err).Warn("Failed to audit rate limit violation")
	}
}

func statusConflict(id uuid.UUID) error {
	return &models.ConflictError{
		Code:    models.CodeStatusConflict,
		Message: fmt.Sprintf("reservation %s changed concurrently, please retry", id),
	}
}
