package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/smarttransit/flight-reservation-backend/internal/models"
)

var (
	// ErrDuplicateIdentifier is returned by Insert when the reservation code or
	// booking reference is already taken
	ErrDuplicateIdentifier = errors.New("reservation identifier already in use")

	// ErrStaleReservation is returned when a conditional update matched no row
	// because the status or version changed underneath the caller
	ErrStaleReservation = errors.New("reservation was modified concurrently")

	// ErrIllegalTransition is returned by ApplyUpdate for a status change the
	// lifecycle does not allow
	ErrIllegalTransition = errors.New("illegal reservation status transition")
)

const uniqueViolation = "23505"

const reservationColumns = `
	id, user_id, reservation_code, booking_reference, remote_order_id, status,
	itineraries, passengers, contact, pricing,
	hold_expires_at, last_synced_at, needs_resync, last_provider_error,
	version, created_at, updated_at`

// ReservationRepository handles reservation database operations
type ReservationRepository struct {
	db *sqlx.DB
}

// NewReservationRepository creates a new ReservationRepository
func NewReservationRepository(db *sqlx.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

// ReservationUpdate is a status-conditioned write of status and sync fields.
// Nil pointer fields are left unchanged. A Status different from
// ExpectedStatus appends a history entry in the same transaction.
type ReservationUpdate struct {
	ID              uuid.UUID
	ExpectedStatus  models.ReservationStatus
	Status          models.ReservationStatus
	Reason          string
	RemoteOrderID   *string
	NeedsResync     bool
	LastSyncedAt    *time.Time
	LastProviderErr *string // empty string clears the column
	At              time.Time
}

// Validate checks the requested status change against the lifecycle
func (u ReservationUpdate) Validate() error {
	if !u.ExpectedStatus.IsValid() || !u.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q -> %q", ErrIllegalTransition, u.ExpectedStatus, u.Status)
	}
	if u.Status != u.ExpectedStatus && !u.ExpectedStatus.CanTransitionTo(u.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, u.ExpectedStatus, u.Status)
	}
	return nil
}

// ============================================================================
// WRITES
// ============================================================================

// Insert stores a new reservation together with its first history entry
func (r *ReservationRepository) Insert(ctx context.Context, res *models.Reservation, reason string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO reservations (
			id, user_id, reservation_code, booking_reference, status,
			itineraries, passengers, contact, pricing,
			first_departure_at, last_arrival_at, hold_expires_at,
			needs_resync, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)`

	_, err = tx.ExecContext(ctx, query,
		res.ID, res.UserID, res.ReservationCode, res.BookingReference, res.Status,
		res.Itineraries, res.Passengers, res.Contact, res.Pricing,
		res.FirstDeparture(), res.LastArrival(), res.HoldExpiresAt,
		res.NeedsResync, res.Version, res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		if isIdentifierCollision(err) {
			return ErrDuplicateIdentifier
		}
		return fmt.Errorf("failed to insert reservation: %w", err)
	}

	if err := insertHistory(ctx, tx, res.ID, res.Status, reason, res.CreatedAt); err != nil {
		return err
	}

	return tx.Commit()
}

// ApplyUpdate performs a compare-and-set on the reservation status
func (r *ReservationRepository) ApplyUpdate(ctx context.Context, u ReservationUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE reservations
		SET status = $3,
		    remote_order_id = COALESCE($4, remote_order_id),
		    needs_resync = $5,
		    last_synced_at = COALESCE($6, last_synced_at),
		    last_provider_error = CASE WHEN $7::text IS NULL THEN last_provider_error ELSE NULLIF($7::text, '') END,
		    version = version + 1,
		    updated_at = $8
		WHERE id = $1 AND status = $2`

	result, err := tx.ExecContext(ctx, query,
		u.ID, u.ExpectedStatus, u.Status, u.RemoteOrderID, u.NeedsResync,
		u.LastSyncedAt, u.LastProviderErr, u.At,
	)
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrStaleReservation
	}

	if u.Status != u.ExpectedStatus {
		if err := insertHistory(ctx, tx, u.ID, u.Status, u.Reason, u.At); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// UpdateDetails replaces contact and passengers of a confirmed reservation
// when its version still matches, and appends the change log rows
func (r *ReservationRepository) UpdateDetails(
	ctx context.Context,
	id uuid.UUID,
	expectedVersion int,
	contact models.Contact,
	passengers models.Passengers,
	changes []models.ChangeLogEntry,
) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var changedAt time.Time
	if len(changes) > 0 {
		changedAt = changes[0].ChangedAt
	} else {
		changedAt = time.Now()
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE reservations
		SET contact = $3, passengers = $4, version = version + 1, updated_at = $5
		WHERE id = $1 AND version = $2 AND status = 'confirmed'`,
		id, expectedVersion, contact, passengers, changedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update reservation details: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrStaleReservation
	}

	for _, c := range changes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reservation_changes (
				reservation_id, field, passenger_index, old_value, new_value, changed_by, changed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, c.Field, c.PassengerIndex, c.OldValue, c.NewValue, c.ChangedBy, c.ChangedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to record change of %s: %w", c.Field, err)
		}
	}

	return tx.Commit()
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status models.ReservationStatus, reason string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO reservation_status_history (reservation_id, status, reason, changed_at)
		VALUES ($1, $2, $3, $4)`,
		id, status, reason, at,
	)
	if err != nil {
		return fmt.Errorf("failed to record status history: %w", err)
	}
	return nil
}

// isIdentifierCollision reports whether err is a unique violation on one of
// the generated identifiers
func isIdentifierCollision(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return false
	}
	switch pqErr.Constraint {
	case "reservations_reservation_code_key", "reservations_booking_reference_key":
		return true
	}
	return false
}

// ============================================================================
// READS
// ============================================================================

// GetByID retrieves a reservation with its history. Returns nil, nil when not found.
func (r *ReservationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	return r.getOne(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
}

// GetByCode retrieves a reservation by its reservation code. Returns nil, nil when not found.
func (r *ReservationRepository) GetByCode(ctx context.Context, code string) (*models.Reservation, error) {
	return r.getOne(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE reservation_code = $1`, code)
}

func (r *ReservationRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.Reservation, error) {
	var res models.Reservation
	if err := r.db.GetContext(ctx, &res, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}

	err := r.db.SelectContext(ctx, &res.StatusHistory, `
		SELECT status, reason, changed_at
		FROM reservation_status_history
		WHERE reservation_id = $1
		ORDER BY id`, res.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get status history: %w", err)
	}

	err = r.db.SelectContext(ctx, &res.ChangeLog, `
		SELECT field, passenger_index, old_value, new_value, changed_by, changed_at
		FROM reservation_changes
		WHERE reservation_id = $1
		ORDER BY id`, res.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get change log: %w", err)
	}

	return &res, nil
}

// ListExpiredHolds returns pending reservations whose hold expired before now
func (r *ReservationRepository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	return r.listIDs(ctx, `
		SELECT id FROM reservations
		WHERE status = 'pending' AND hold_expires_at < $1
		ORDER BY hold_expires_at
		LIMIT $2`, now, limit)
}

// ListNeedingResync returns reservations flagged for reconciliation, oldest first
func (r *ReservationRepository) ListNeedingResync(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return r.listIDs(ctx, `
		SELECT id FROM reservations
		WHERE needs_resync
		ORDER BY updated_at
		LIMIT $1`, limit)
}

// ListDepartedConfirmed returns confirmed reservations whose last segment arrived before the cutoff
func (r *ReservationRepository) ListDepartedConfirmed(ctx context.Context, arrivedBefore time.Time, limit int) ([]uuid.UUID, error) {
	return r.listIDs(ctx, `
		SELECT id FROM reservations
		WHERE status = 'confirmed' AND last_arrival_at < $1
		ORDER BY last_arrival_at
		LIMIT $2`, arrivedBefore, limit)
}

func (r *ReservationRepository) listIDs(ctx context.Context, query string, args ...interface{}) ([]uuid.UUID, error) {
	ids := []uuid.UUID{}
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	return ids, nil
}
