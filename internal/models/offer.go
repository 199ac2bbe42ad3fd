package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ============================================================================
// OFFERS (supplied by the search collaborator)
// ============================================================================

// FareComponent prices one passenger-type group of an offer.
// Amounts are totals for all Count passengers of the group, in minor units.
type FareComponent struct {
	PassengerType PassengerType `json:"passenger_type"`
	Count         int           `json:"count"`
	Base          int64         `json:"base"`
	Taxes         []int64       `json:"taxes,omitempty"`
	Fees          []int64       `json:"fees,omitempty"`
	Discounts     []int64       `json:"discounts,omitempty"`
}

// Offer is a priced itinerary as returned by flight search
type Offer struct {
	ID       string          `json:"id"`
	Currency string          `json:"currency"`
	Segments []Segment       `json:"segments"`
	Fares    []FareComponent `json:"fares"`
}

// PassengerCount is the number of passengers the offer was priced for
func (o Offer) PassengerCount() int {
	n := 0
	for _, f := range o.Fares {
		n += f.Count
	}
	return n
}

// PassengerTypeCounts returns how many passengers of each type the offer was priced for
func (o Offer) PassengerTypeCounts() map[PassengerType]int {
	counts := make(map[PassengerType]int)
	for _, f := range o.Fares {
		counts[f.PassengerType] += f.Count
	}
	return counts
}

// ============================================================================
// CREATE REQUEST
// ============================================================================

// CreateBookingRequest is the input to booking creation
type CreateBookingRequest struct {
	Offers     []Offer     `json:"offers"`
	Passengers []Passenger `json:"passengers"`
	Contact    Contact     `json:"contact"`
}

// Validate checks the structural shape of the request. It does not check
// contact formats or pricing, which the orchestrator does separately.
func (r *CreateBookingRequest) Validate(now time.Time) error {
	if len(r.Offers) == 0 {
		return NewValidationError(CodeInvalidRequest, "at least one offer is required")
	}
	if len(r.Passengers) == 0 {
		return NewValidationError(CodeInvalidRequest, "at least one passenger is required")
	}

	bookedTypes := make(map[PassengerType]int)
	for i, p := range r.Passengers {
		if !p.Type.IsValid() {
			return NewValidationError(CodeInvalidRequest, fmt.Sprintf("passenger %d: invalid type %q", i, p.Type))
		}
		if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
			return NewValidationError(CodeInvalidRequest, fmt.Sprintf("passenger %d: first and last name are required", i))
		}
		bookedTypes[p.Type]++
	}

	for _, offer := range r.Offers {
		if offer.ID == "" {
			return NewValidationError(CodeInvalidRequest, "offer id is required")
		}
		if len(offer.Segments) == 0 {
			return NewValidationError(CodeInvalidRequest, fmt.Sprintf("offer %s has no segments", offer.ID))
		}
		for _, seg := range offer.Segments {
			if !seg.ArrivalAt.After(seg.DepartureAt) {
				return NewValidationError(CodeInvalidRequest, fmt.Sprintf("offer %s: segment %s arrives before it departs", offer.ID, seg.FlightNumber))
			}
			if !seg.DepartureAt.After(now) {
				return NewValidationError(CodeInvalidRequest, fmt.Sprintf("offer %s: segment %s has already departed", offer.ID, seg.FlightNumber))
			}
		}
		if offer.PassengerCount() != len(r.Passengers) {
			return NewValidationError(CodePassengerCountMismatch,
				fmt.Sprintf("offer %s is priced for %d passengers, %d supplied", offer.ID, offer.PassengerCount(), len(r.Passengers)))
		}
		for t, n := range offer.PassengerTypeCounts() {
			if bookedTypes[t] != n {
				return NewValidationError(CodePassengerCountMismatch,
					fmt.Sprintf("offer %s is priced for %d %s passengers, %d supplied", offer.ID, n, t, bookedTypes[t]))
			}
		}
		for _, f := range offer.Fares {
			if f.Count <= 0 {
				return NewValidationError(CodeInvalidRequest, fmt.Sprintf("offer %s: fare count must be positive", offer.ID))
			}
		}
	}

	return nil
}

// ============================================================================
// MONEY HELPERS
// ============================================================================

// ErrInvalidAmount is returned when a decimal amount cannot be parsed
var ErrInvalidAmount = errors.New("invalid amount")

// CurrencyExponent returns the number of minor-unit digits for an ISO 4217 code
func CurrencyExponent(currency string) int {
	switch strings.ToUpper(currency) {
	case "JPY", "KRW", "VND", "CLP", "ISK", "XAF", "XOF":
		return 0
	case "BHD", "KWD", "JOD", "OMR", "TND", "IQD", "LYD":
		return 3
	default:
		return 2
	}
}

// ParseAmount converts a decimal string such as "299.99" into minor units
func ParseAmount(value, currency string) (int64, error) {
	value = strings.TrimSpace(value)
	negative := false
	if strings.HasPrefix(value, "-") {
		negative = true
		value = value[1:]
	}
	if value == "" || value == "." {
		return 0, ErrInvalidAmount
	}
	exp := CurrencyExponent(currency)
	whole, frac, _ := strings.Cut(value, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > exp {
		return 0, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, value, exp)
	}
	frac += strings.Repeat("0", exp-len(frac))

	var amount int64
	for _, ch := range whole + frac {
		if ch < '0' || ch > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
		}
		digit := int64(ch - '0')
		if amount > (math.MaxInt64-digit)/10 {
			return 0, fmt.Errorf("%w: %q is out of range", ErrInvalidAmount, value)
		}
		amount = amount*10 + digit
	}
	if negative {
		amount = -amount
	}
	return amount, nil
}

// FormatAmount renders minor units as a decimal string
func FormatAmount(amount int64, currency string) string {
	exp := CurrencyExponent(currency)
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	if exp == 0 {
		return fmt.Sprintf("%s%d", sign, amount)
	}
	div := int64(1)
	for i := 0; i < exp; i++ {
		div *= 10
	}
	return fmt.Sprintf("%s%d.%0*d", sign, amount/div, exp, amount%div)
}
