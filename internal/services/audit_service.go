package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/smarttransit/flight-reservation-backend/internal/database"
	"github.com/smarttransit/flight-reservation-backend/internal/utils"
)

// Audit actions
const (
	AuditActionLookup          = "booking_lookup"
	AuditActionLookupFailed    = "booking_lookup_failed"
	AuditActionRateLimit       = "rate_limit_exceeded"
	AuditActionBookingCreate   = "booking_create"
	AuditActionBookingCancel   = "booking_cancel"
	AuditActionBookingRefund   = "booking_refund"
	AuditActionBookingUpdate   = "booking_update"
	AuditActionSweepTriggered  = "sweep_triggered"
	auditEntityReservation     = "reservation"
	auditEntityRateLimit       = "rate_limit"
	auditEntityMaintenanceTask = "maintenance"
)

// AuditService handles audit logging for booking and security events
type AuditService struct {
	db database.DB
}

// NewAuditService creates a new audit service
func NewAuditService(db database.DB) *AuditService {
	return &AuditService{
		db: db,
	}
}

// AuditEvent represents an event to be logged
type AuditEvent struct {
	UserID     *uuid.UUID             // nil for anonymous lookups
	Action     string                 // e.g. "booking_lookup", "booking_cancel"
	EntityType string                 // e.g. "reservation", "rate_limit"
	EntityID   *uuid.UUID             // ID of the affected entity (can be nil)
	IPAddress  string                 // Client IP address
	UserAgent  string                 // Client user agent
	Details    map[string]interface{} // Additional details as JSONB
}

// AuditRecord is a stored audit event
type AuditRecord struct {
	Action     string          `db:"action" json:"action"`
	EntityType string          `db:"entity_type" json:"entity_type"`
	IPAddress  *string         `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent  *string         `db:"user_agent" json:"user_agent,omitempty"`
	Details    json.RawMessage `db:"details" json:"details,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// LogBookingLookup logs a public lookup by reservation code. reservationID is
// nil when the code matched nothing.
func (s *AuditService) LogBookingLookup(ctx context.Context, reservationID *uuid.UUID, code, ipAddress, userAgent string, success bool, reason string) error {
	details := map[string]interface{}{
		"reservation_code": code,
		"success":          success,
		"device_info":      utils.ParseUserAgent(userAgent),
	}
	if reason != "" {
		details["reason"] = reason
	}

	action := AuditActionLookup
	if !success {
		action = AuditActionLookupFailed
	}

	return s.logEvent(ctx, AuditEvent{
		Action:     action,
		EntityType: auditEntityReservation,
		EntityID:   reservationID,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		Details:    details,
	})
}

// LogRateLimitViolation logs when a client exceeds the lookup rate limit
func (s *AuditService) LogRateLimitViolation(ctx context.Context, ipAddress, userAgent, limitType string, retryAfter time.Time) error {
	return s.logEvent(ctx, AuditEvent{
		Action:     AuditActionRateLimit,
		EntityType: auditEntityRateLimit,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		Details: map[string]interface{}{
			"limit_type":  limitType,
			"retry_after": retryAfter.UTC().Format(time.RFC3339),
			"device_info": utils.ParseUserAgent(userAgent),
		},
	})
}

// LogBookingAction logs an authenticated action on a reservation
func (s *AuditService) LogBookingAction(ctx context.Context, userID uuid.UUID, reservationID uuid.UUID, action, ipAddress, userAgent string, details map[string]interface{}) error {
	if details == nil {
		details = map[string]interface{}{}
	}
	return s.logEvent(ctx, AuditEvent{
		UserID:     &userID,
		Action:     action,
		EntityType: auditEntityReservation,
		EntityID:   &reservationID,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		Details:    details,
	})
}

// LogSweepTriggered logs a manually triggered maintenance sweep
func (s *AuditService) LogSweepTriggered(ctx context.Context, userID uuid.UUID, sweep string, processed int, ipAddress, userAgent string) error {
	return s.logEvent(ctx, AuditEvent{
		UserID:     &userID,
		Action:     AuditActionSweepTriggered,
		EntityType: auditEntityMaintenanceTask,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		Details: map[string]interface{}{
			"sweep":     sweep,
			"processed": processed,
		},
	})
}

// logEvent writes an audit event to the database
func (s *AuditService) logEvent(ctx context.Context, event AuditEvent) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}

	query := `
		INSERT INTO audit_logs (user_id, action, entity_type, entity_id, ip_address, user_agent, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`

	_, err = s.db.ExecContext(ctx, query,
		event.UserID,
		event.Action,
		event.EntityType,
		event.EntityID,
		event.IPAddress,
		event.UserAgent,
		details,
	)
	if err != nil {
		return fmt.Errorf("failed to log audit event: %w", err)
	}

	return nil
}

// GetRecentEvents retrieves recent audit events for a reservation
func (s *AuditService) GetRecentEvents(ctx context.Context, reservationID uuid.UUID, limit int) ([]AuditRecord, error) {
	query := `
		SELECT action, entity_type, ip_address, user_agent, details, created_at
		FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	records := []AuditRecord{}
	if err := s.db.SelectContext(ctx, &records, query, auditEntityReservation, reservationID, limit); err != nil {
		return nil, fmt.Errorf("failed to get recent events: %w", err)
	}

	return records, nil
}

// CleanupOldAuditLogs removes audit logs older than the specified duration
func (s *AuditService) CleanupOldAuditLogs(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return deleted, nil
}
