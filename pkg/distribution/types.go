package distribution

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTemporary marks a transport failure that is safe to retry
	ErrTemporary = errors.New("temporary provider error")

	// ErrIndeterminate means retries were exhausted without a definitive answer
	ErrIndeterminate = errors.New("provider outcome indeterminate")
)

// RejectionError is a definitive business refusal from the provider. It is never retried.
type RejectionError struct {
	ReasonCode string
	Message    string
	StatusCode int
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("provider rejected request (%d): %s %s", e.StatusCode, e.ReasonCode, e.Message)
}

// OrderPassenger is a passenger as sent to the provider
type OrderPassenger struct {
	Type           string `json:"type"`
	GivenName      string `json:"given_name"`
	FamilyName     string `json:"family_name"`
	BornOn         string `json:"born_on,omitempty"`
	DocumentType   string `json:"document_type,omitempty"`
	DocumentNumber string `json:"document_number,omitempty"`
	DocumentIssuer string `json:"document_issuing_country,omitempty"`
	DocumentExpiry string `json:"document_expires_on,omitempty"`
}

// OrderRequest asks the provider to create an order for one or more offers
type OrderRequest struct {
	ClientReference string           `json:"client_reference"`
	OfferIDs        []string         `json:"offer_ids"`
	Passengers      []OrderPassenger `json:"passengers"`
	ContactEmail    string           `json:"contact_email"`
	ContactPhone    string           `json:"contact_phone"`
	Currency        string           `json:"currency"`
	TotalAmount     string           `json:"total_amount"`
}

// OrderStatus is the provider-side order state
type OrderStatus string

const (
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusTicketed  OrderStatus = "ticketed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusPending   OrderStatus = "pending"
)

// IsActive reports whether the provider still holds the order
func (s OrderStatus) IsActive() bool {
	return s == OrderStatusConfirmed || s == OrderStatusTicketed
}

// OrderSnapshot is the provider's current view of an order
type OrderSnapshot struct {
	OrderID   string      `json:"order_id"`
	Status    OrderStatus `json:"status"`
	Currency  string      `json:"currency,omitempty"`
	Total     string      `json:"total_amount,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Transport performs a single provider call without retrying
type Transport interface {
	CreateOrder(ctx context.Context, req *OrderRequest) (*OrderSnapshot, error)
	CancelOrder(ctx context.Context, orderID string) (*OrderSnapshot, error)
	GetOrder(ctx context.Context, orderID string) (*OrderSnapshot, error)
}

// ============================================================================
// OUTCOME
// ============================================================================

// OutcomeKind tags an Outcome
type OutcomeKind string

const (
	OutcomeConfirmed     OutcomeKind = "confirmed"
	OutcomeRejected      OutcomeKind = "rejected"
	OutcomeIndeterminate OutcomeKind = "indeterminate"
)

// Outcome is the result of a state-changing provider call
type Outcome struct {
	Kind          OutcomeKind
	RemoteOrderID string // set for OutcomeConfirmed
	ReasonCode    string // set for OutcomeRejected
	Message       string
	Cause         error // last transport error for OutcomeIndeterminate
}

// Confirmed builds a confirmed outcome
func Confirmed(orderID string) Outcome {
	return Outcome{Kind: OutcomeConfirmed, RemoteOrderID: orderID}
}

// Rejected builds a rejected outcome
func Rejected(reasonCode, message string) Outcome {
	return Outcome{Kind: OutcomeRejected, ReasonCode: reasonCode, Message: message}
}

// Indeterminate builds an indeterminate outcome
func Indeterminate(cause error) Outcome {
	return Outcome{Kind: OutcomeIndeterminate, Cause: cause}
}

func (o Outcome) IsConfirmed() bool     { return o.Kind == OutcomeConfirmed }
func (o Outcome) IsRejected() bool      { return o.Kind == OutcomeRejected }
func (o Outcome) IsIndeterminate() bool { return o.Kind == OutcomeIndeterminate }
