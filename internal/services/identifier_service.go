package services

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
)

const (
	// ReservationCodeAlphabet excludes 0/O, 1/I/L which are easily confused on paper
	ReservationCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	// BookingReferenceAlphabet is the full uppercase alphanumeric set
	BookingReferenceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	ReservationCodeLength  = 6
	BookingReferenceLength = 8
)

// IdentifierGenerator produces reservation codes and booking references
type IdentifierGenerator struct {
	random io.Reader
}

// NewIdentifierGenerator creates a generator backed by crypto/rand
func NewIdentifierGenerator() *IdentifierGenerator {
	return &IdentifierGenerator{random: rand.Reader}
}

// NewReservationCode returns a 6-character code
func (g *IdentifierGenerator) NewReservationCode() (string, error) {
	return g.generate(ReservationCodeAlphabet, ReservationCodeLength)
}

// NewBookingReference returns an 8-character reference
func (g *IdentifierGenerator) NewBookingReference() (string, error) {
	return g.generate(BookingReferenceAlphabet, BookingReferenceLength)
}

// generate draws characters by rejection sampling so every symbol is equally likely
func (g *IdentifierGenerator) generate(alphabet string, length int) (string, error) {
	limit := 256 - (256 % len(alphabet))
	out := make([]byte, 0, length)
	buf := make([]byte, length*2)

	for len(out) < length {
		if _, err := io.ReadFull(g.random, buf); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// FormatReservationCode renders ABCDEF as ABC-DEF for display
func FormatReservationCode(code string) string {
	return splitForDisplay(code, 3)
}

// FormatBookingReference renders ABCD1234 as ABCD-1234 for display
func FormatBookingReference(ref string) string {
	return splitForDisplay(ref, 4)
}

func splitForDisplay(value string, group int) string {
	if len(value) <= group {
		return value
	}
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		if i > 0 && i%group == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(value[i])
	}
	return b.String()
}

// NormalizeCode undoes display formatting on customer input
func NormalizeCode(input string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(input) {
		if r == '-' || r == ' ' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
