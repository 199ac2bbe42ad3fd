package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PatchField enumerates the reservation details a customer may edit
type PatchField string

const (
	PatchContactEmail        PatchField = "contact.email"
	PatchContactPhone        PatchField = "contact.phone"
	PatchMealPreference      PatchField = "passenger.meal_preference"
	PatchSeatPreference      PatchField = "passenger.seat_preference"
	PatchDocumentNumber      PatchField = "passenger.document_number"
	PatchDocumentExpiry      PatchField = "passenger.document_expiry"
	PatchFrequentFlyerNumber PatchField = "passenger.frequent_flyer_number"
)

// IsPassengerField reports whether the field targets a single passenger
func (f PatchField) IsPassengerField() bool {
	return strings.HasPrefix(string(f), "passenger.")
}

// IsKnown reports whether the field is editable at all
func (f PatchField) IsKnown() bool {
	switch f {
	case PatchContactEmail, PatchContactPhone, PatchMealPreference, PatchSeatPreference,
		PatchDocumentNumber, PatchDocumentExpiry, PatchFrequentFlyerNumber:
		return true
	}
	return false
}

// PatchOperation sets one editable field to a new value
type PatchOperation struct {
	Field          PatchField `json:"field"`
	PassengerIndex *int       `json:"passenger_index,omitempty"`
	Value          string     `json:"value"`
}

// BookingPatch is an ordered list of edits applied atomically
type BookingPatch struct {
	Operations []PatchOperation `json:"operations"`
}

// DecodeBookingPatch parses a patch body, rejecting unknown JSON keys
func DecodeBookingPatch(body []byte) (*BookingPatch, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var patch BookingPatch
	if err := dec.Decode(&patch); err != nil {
		return nil, NewValidationError(CodeInvalidRequest, "invalid patch body: "+err.Error())
	}
	return &patch, nil
}

// Validate checks every operation against the enumerated field set
func (p *BookingPatch) Validate(passengerCount int) error {
	if len(p.Operations) == 0 {
		return NewValidationError(CodeInvalidRequest, "patch contains no operations")
	}
	for i, op := range p.Operations {
		if !op.Field.IsKnown() {
			return NewValidationError(CodeUnknownPatchField, fmt.Sprintf("operation %d: field %q is not editable", i, op.Field))
		}
		if op.Field.IsPassengerField() {
			if op.PassengerIndex == nil {
				return NewValidationError(CodeInvalidRequest, fmt.Sprintf("operation %d: passenger_index is required for %s", i, op.Field))
			}
			if *op.PassengerIndex < 0 || *op.PassengerIndex >= passengerCount {
				return NewValidationError(CodeInvalidRequest, fmt.Sprintf("operation %d: passenger_index %d out of range", i, *op.PassengerIndex))
			}
		} else if op.PassengerIndex != nil {
			return NewValidationError(CodeInvalidRequest, fmt.Sprintf("operation %d: passenger_index not allowed for %s", i, op.Field))
		}
		switch op.Field {
		case PatchContactEmail, PatchContactPhone, PatchDocumentNumber:
			if strings.TrimSpace(op.Value) == "" {
				return NewValidationError(CodeInvalidRequest, fmt.Sprintf("operation %d: %s cannot be empty", i, op.Field))
			}
		case PatchDocumentExpiry:
			if _, err := time.Parse("2006-01-02", op.Value); err != nil {
				return NewValidationError(CodeInvalidRequest, fmt.Sprintf("operation %d: document expiry must be YYYY-MM-DD", i))
			}
		}
	}
	return nil
}

// Apply edits the contact and passengers in place and returns the old value
func (op PatchOperation) Apply(contact *Contact, passengers []Passenger) string {
	var old string
	switch op.Field {
	case PatchContactEmail:
		old, contact.Email = contact.Email, strings.TrimSpace(op.Value)
	case PatchContactPhone:
		old, contact.Phone = contact.Phone, strings.TrimSpace(op.Value)
	case PatchMealPreference:
		p := &passengers[*op.PassengerIndex]
		old, p.Preferences.Meal = p.Preferences.Meal, op.Value
	case PatchSeatPreference:
		p := &passengers[*op.PassengerIndex]
		old, p.Preferences.Seat = p.Preferences.Seat, op.Value
	case PatchDocumentNumber:
		p := &passengers[*op.PassengerIndex]
		old, p.Document.Number = p.Document.Number, strings.TrimSpace(op.Value)
	case PatchDocumentExpiry:
		p := &passengers[*op.PassengerIndex]
		old, p.Document.ExpiresOn = p.Document.ExpiresOn, op.Value
	case PatchFrequentFlyerNumber:
		p := &passengers[*op.PassengerIndex]
		old, p.FrequentFlyerNumber = p.FrequentFlyerNumber, strings.TrimSpace(op.Value)
	}
	return old
}
