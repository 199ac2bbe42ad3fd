package models

import (
	"errors"
	"fmt"
)

// Error codes surfaced to API callers
const (
	CodeInvalidRequest         = "INVALID_REQUEST"
	CodePassengerCountMismatch = "PASSENGER_COUNT_MISMATCH"
	CodeMixedCurrency          = "MIXED_CURRENCY"
	CodeMissingReason          = "MISSING_REASON"
	CodeInvalidContact         = "INVALID_CONTACT"
	CodeUnknownPatchField      = "UNKNOWN_PATCH_FIELD"
	CodeGenerationExhausted    = "GENERATION_EXHAUSTED"
	CodeStatusConflict         = "STATUS_CONFLICT"
)

var (
	// ErrNotFound is returned when a reservation does not exist or is hidden from the caller
	ErrNotFound = errors.New("reservation not found")

	// ErrForbidden is returned when the caller does not own the reservation
	ErrForbidden = errors.New("forbidden: reservation belongs to another user")

	// ErrVerificationRequired is returned when a public lookup carries no verifier
	ErrVerificationRequired = errors.New("verification required: last name or email must be supplied")
)

// ValidationError means caller input was rejected before any side effect
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidationError creates a ValidationError
func NewValidationError(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

// ConflictError means identifiers could not be generated or a status
// precondition no longer held
type ConflictError struct {
	Code    string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ProviderRejectedError means the provider definitively refused the request.
// The reservation is left pending and is returned alongside this error.
type ProviderRejectedError struct {
	ReasonCode string
	Message    string
}

func (e *ProviderRejectedError) Error() string {
	if e.Message == "" {
		return "provider rejected booking: " + e.ReasonCode
	}
	return fmt.Sprintf("provider rejected booking: %s (%s)", e.ReasonCode, e.Message)
}

// AlreadyTerminalError means the reservation can no longer change status
type AlreadyTerminalError struct {
	Status ReservationStatus
}

func (e *AlreadyTerminalError) Error() string {
	return fmt.Sprintf("reservation is already %s", e.Status)
}

// NotEditableError means details can no longer be changed
type NotEditableError struct {
	Reason string
}

func (e *NotEditableError) Error() string {
	return "reservation is not editable: " + e.Reason
}

// IsValidationError reports whether err is a ValidationError
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsConflictError reports whether err is a ConflictError
func IsConflictError(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}
