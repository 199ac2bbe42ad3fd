package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")

	// ErrInvalidFormat indicates phone number contains invalid characters
	ErrInvalidFormat = errors.New("phone number must be in international format, e.g. +94771234567")

	// ErrInvalidLength indicates the number has too few or too many digits
	ErrInvalidLength = errors.New("phone number must have between 8 and 15 digits")

	// ErrEmptyEmail indicates email is empty
	ErrEmptyEmail = errors.New("email cannot be empty")

	// ErrInvalidEmail indicates the email is malformed
	ErrInvalidEmail = errors.New("email address is not valid")
)

// e164Regex matches a plus sign followed by digits with no leading zero
var e164Regex = regexp.MustCompile(`^\+[1-9]\d+$`)

// emailRegex requires one @, a dot in the domain and no spaces
var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]{2,}$`)

// ContactValidator validates booking contact details
type ContactValidator struct{}

// NewContactValidator creates a new contact validator instance
func NewContactValidator() *ContactValidator {
	return &ContactValidator{}
}

// ValidatePhone validates an international phone number.
// Accepts format: +94771234567 or +94 77 123 4567 or +1 (415) 555-0100
// Returns sanitized E.164 number and error if invalid
func (v *ContactValidator) ValidatePhone(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	sanitized := v.SanitizePhone(phone)

	if !e164Regex.MatchString(sanitized) {
		return "", ErrInvalidFormat
	}

	digits := len(sanitized) - 1
	if digits < 8 || digits > 15 {
		return "", ErrInvalidLength
	}

	return sanitized, nil
}

// SanitizePhone removes common separators and converts a 00 prefix to +
func (v *ContactValidator) SanitizePhone(phone string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	phone = replacer.Replace(strings.TrimSpace(phone))

	if strings.HasPrefix(phone, "00") {
		phone = "+" + phone[2:]
	}

	return phone
}

// ValidateEmail validates an email address and returns it trimmed and lowercased
func (v *ContactValidator) ValidateEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrEmptyEmail
	}
	if len(email) > 254 || !emailRegex.MatchString(email) {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// IsValidPhone is a convenience method that returns true if phone is valid
func (v *ContactValidator) IsValidPhone(phone string) bool {
	_, err := v.ValidatePhone(phone)
	return err == nil
}
