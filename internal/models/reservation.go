package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// RESERVATION STATUS (matches reservation_status CHECK constraint)
// ============================================================================

// ReservationStatus represents the lifecycle state of a reservation
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "pending"   // Hold, not yet confirmed by the provider
	ReservationStatusConfirmed ReservationStatus = "confirmed" // Provider holds a remote order
	ReservationStatusCancelled ReservationStatus = "cancelled" // Cancelled by customer, admin or provider
	ReservationStatusExpired   ReservationStatus = "expired"   // Hold timed out without confirmation
	ReservationStatusRefunded  ReservationStatus = "refunded"  // Confirmed booking reversed financially
	ReservationStatusCompleted ReservationStatus = "completed" // Travel has taken place
)

// allowedTransitions lists every legal status change
var allowedTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationStatusPending: {
		ReservationStatusConfirmed,
		ReservationStatusExpired,
		ReservationStatusCancelled,
	},
	ReservationStatusConfirmed: {
		ReservationStatusCancelled,
		ReservationStatusCompleted,
		ReservationStatusRefunded,
	},
}

// IsTerminal reports whether no transition can leave this status
func (s ReservationStatus) IsTerminal() bool {
	switch s {
	case ReservationStatusCancelled, ReservationStatusExpired,
		ReservationStatusRefunded, ReservationStatusCompleted:
		return true
	}
	return false
}

// IsValid reports whether s is a known status
func (s ReservationStatus) IsValid() bool {
	switch s {
	case ReservationStatusPending, ReservationStatusConfirmed, ReservationStatusCancelled,
		ReservationStatusExpired, ReservationStatusRefunded, ReservationStatusCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is legal
func (s ReservationStatus) CanTransitionTo(next ReservationStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ============================================================================
// RESERVATION ENTITY
// ============================================================================

// Reservation is the durable record of a flight booking
type Reservation struct {
	ID               uuid.UUID            `json:"id" db:"id"`
	UserID           uuid.UUID            `json:"user_id" db:"user_id"`
	ReservationCode  string               `json:"reservation_code" db:"reservation_code"`
	BookingReference string               `json:"booking_reference" db:"booking_reference"`
	RemoteOrderID    *string              `json:"remote_order_id,omitempty" db:"remote_order_id"`
	Status           ReservationStatus    `json:"status" db:"status"`
	Itineraries      Itineraries          `json:"itineraries" db:"itineraries"`
	Passengers       Passengers           `json:"passengers" db:"passengers"`
	Contact          Contact              `json:"contact" db:"contact"`
	Pricing          Pricing              `json:"pricing" db:"pricing"`
	HoldExpiresAt    time.Time            `json:"hold_expires_at" db:"hold_expires_at"`
	LastSyncedAt     *time.Time           `json:"last_synced_at,omitempty" db:"last_synced_at"`
	NeedsResync      bool                 `json:"needs_resync" db:"needs_resync"`
	LastProviderErr  *string              `json:"last_provider_error,omitempty" db:"last_provider_error"`
	Version          int                  `json:"version" db:"version"`
	StatusHistory    []StatusHistoryEntry `json:"status_history" db:"-"`
	ChangeLog        []ChangeLogEntry     `json:"change_log,omitempty" db:"-"`
	CreatedAt        time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at" db:"updated_at"`
}

// StatusHistoryEntry is one append-only record of a status change
type StatusHistoryEntry struct {
	Status    ReservationStatus `json:"status" db:"status"`
	Reason    string            `json:"reason" db:"reason"`
	ChangedAt time.Time         `json:"changed_at" db:"changed_at"`
}

// ChangeLogEntry records one edited field of a confirmed reservation
type ChangeLogEntry struct {
	Field          PatchField `json:"field" db:"field"`
	PassengerIndex *int       `json:"passenger_index,omitempty" db:"passenger_index"`
	OldValue       string     `json:"old_value" db:"old_value"`
	NewValue       string     `json:"new_value" db:"new_value"`
	ChangedBy      uuid.UUID  `json:"changed_by" db:"changed_by"`
	ChangedAt      time.Time  `json:"changed_at" db:"changed_at"`
}

// HasRemoteOrder reports whether the provider has ever confirmed this reservation
func (r *Reservation) HasRemoteOrder() bool {
	return r.RemoteOrderID != nil && *r.RemoteOrderID != ""
}

// FirstDeparture returns the earliest segment departure, zero if there are no segments
func (r *Reservation) FirstDeparture() time.Time {
	var first time.Time
	for _, it := range r.Itineraries {
		for _, seg := range it.Segments {
			if first.IsZero() || seg.DepartureAt.Before(first) {
				first = seg.DepartureAt
			}
		}
	}
	return first
}

// LastArrival returns the latest segment arrival, zero if there are no segments
func (r *Reservation) LastArrival() time.Time {
	var last time.Time
	for _, it := range r.Itineraries {
		for _, seg := range it.Segments {
			if seg.ArrivalAt.After(last) {
				last = seg.ArrivalAt
			}
		}
	}
	return last
}

// IsOwnedBy reports whether userID owns the reservation
func (r *Reservation) IsOwnedBy(userID uuid.UUID) bool {
	return r.UserID == userID
}

// ============================================================================
// SNAPSHOT TYPES (stored as JSONB)
// ============================================================================

// Segment is a single flight leg as offered at booking time
type Segment struct {
	Carrier      string    `json:"carrier"`
	FlightNumber string    `json:"flight_number"`
	Origin       string    `json:"origin"`
	Destination  string    `json:"destination"`
	DepartureAt  time.Time `json:"departure_at"`
	ArrivalAt    time.Time `json:"arrival_at"`
	Cabin        string    `json:"cabin"`
	FareBasis    string    `json:"fare_basis"`
}

// Itinerary is a snapshot of one offer's segments
type Itinerary struct {
	OfferID  string    `json:"offer_id"`
	Segments []Segment `json:"segments"`
}

// Itineraries is the JSONB column type for itinerary snapshots
type Itineraries []Itinerary

func (i Itineraries) Value() (driver.Value, error) {
	return json.Marshal(i)
}

func (i *Itineraries) Scan(value interface{}) error {
	return scanJSON(value, i, "Itineraries")
}

// PassengerType is the fare type a passenger is priced as
type PassengerType string

const (
	PassengerTypeAdult  PassengerType = "ADT"
	PassengerTypeChild  PassengerType = "CHD"
	PassengerTypeInfant PassengerType = "INF"
)

// IsValid reports whether t is a known passenger type
func (t PassengerType) IsValid() bool {
	return t == PassengerTypeAdult || t == PassengerTypeChild || t == PassengerTypeInfant
}

// TravelDocument is a passenger's passport or identity document
type TravelDocument struct {
	Type           string `json:"type"`
	Number         string `json:"number"`
	IssuingCountry string `json:"issuing_country"`
	ExpiresOn      string `json:"expires_on"` // YYYY-MM-DD
}

// PassengerPreferences holds optional service requests
type PassengerPreferences struct {
	Meal string `json:"meal,omitempty"`
	Seat string `json:"seat,omitempty"`
}

// Passenger is one traveller on the reservation
type Passenger struct {
	Type                PassengerType        `json:"type"`
	FirstName           string               `json:"first_name"`
	LastName            string               `json:"last_name"`
	DateOfBirth         string               `json:"date_of_birth"` // YYYY-MM-DD
	Document            TravelDocument       `json:"document"`
	Preferences         PassengerPreferences `json:"preferences"`
	FrequentFlyerNumber string               `json:"frequent_flyer_number,omitempty"`
}

// Passengers is the JSONB column type for the passenger list
type Passengers []Passenger

func (p Passengers) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *Passengers) Scan(value interface{}) error {
	return scanJSON(value, p, "Passengers")
}

// Contact is the customer's contact detail for the booking
type Contact struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (c Contact) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *Contact) Scan(value interface{}) error {
	return scanJSON(value, c, "Contact")
}

// PassengerAllocation is the share of the total attributed to one passenger
type PassengerAllocation struct {
	PassengerIndex int   `json:"passenger_index"`
	Amount         int64 `json:"amount"`
}

// Pricing is the authoritative price of a reservation in minor currency units
type Pricing struct {
	Currency    string                `json:"currency"`
	Base        int64                 `json:"base"`
	Taxes       int64                 `json:"taxes"`
	Fees        int64                 `json:"fees"`
	Discounts   int64                 `json:"discounts"`
	Total       int64                 `json:"total"`
	Allocations []PassengerAllocation `json:"allocations"`
}

// AllocatedTotal sums the per-passenger allocations
func (p Pricing) AllocatedTotal() int64 {
	var sum int64
	for _, a := range p.Allocations {
		sum += a.Amount
	}
	return sum
}

func (p Pricing) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *Pricing) Scan(value interface{}) error {
	return scanJSON(value, p, "Pricing")
}

func scanJSON(value interface{}, dest interface{}, name string) error {
	if value == nil {
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("type assertion to []byte failed for " + name)
	}
	return json.Unmarshal(raw, dest)
}

// ============================================================================
// PUBLIC VIEW
// ============================================================================

// PublicPassenger is the reduced passenger detail shown on unauthenticated lookup
type PublicPassenger struct {
	Type        PassengerType `json:"type"`
	FirstName   string        `json:"first_name"`
	LastInitial string        `json:"last_initial"`
}

// PublicReservationView is what an unauthenticated code lookup may see
type PublicReservationView struct {
	ReservationCode  string            `json:"reservation_code"`
	BookingReference string            `json:"booking_reference"`
	Status           ReservationStatus `json:"status"`
	Itineraries      Itineraries       `json:"itineraries"`
	Passengers       []PublicPassenger `json:"passengers"`
	PassengerCount   int               `json:"passenger_count"`
	Currency         string            `json:"currency"`
	Total            int64             `json:"total"`
	HoldExpiresAt    *time.Time        `json:"hold_expires_at,omitempty"`
}

// ToPublicView strips documents, contact detail and full surnames
func (r *Reservation) ToPublicView() *PublicReservationView {
	view := &PublicReservationView{
		ReservationCode:  r.ReservationCode,
		BookingReference: r.BookingReference,
		Status:           r.Status,
		Itineraries:      r.Itineraries,
		Passengers:       make([]PublicPassenger, len(r.Passengers)),
		PassengerCount:   len(r.Passengers),
		Currency:         r.Pricing.Currency,
		Total:            r.Pricing.Total,
	}
	for i, p := range r.Passengers {
		initial := ""
		if last := strings.TrimSpace(p.LastName); last != "" {
			initial = strings.ToUpper(string([]rune(last)[0:1]))
		}
		view.Passengers[i] = PublicPassenger{
			Type:        p.Type,
			FirstName:   p.FirstName,
			LastInitial: initial,
		}
	}
	if r.Status == ReservationStatusPending {
		expires := r.HoldExpiresAt
		view.HoldExpiresAt = &expires
	}
	return view
}

// CallerScope identifies who is invoking a reservation operation
type CallerScope struct {
	UserID  uuid.UUID
	IsAdmin bool
}

// CanAccess reports whether the caller may act on the reservation
func (c CallerScope) CanAccess(r *Reservation) bool {
	return c.IsAdmin || r.IsOwnedBy(c.UserID)
}
