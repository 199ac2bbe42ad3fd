package services

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReservationCode_Shape(t *testing.T) {
	g := NewIdentifierGenerator()

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := g.NewReservationCode()
		require.NoError(t, err)
		assert.Len(t, code, ReservationCodeLength)
		for _, ch := range code {
			assert.True(t, strings.ContainsRune(ReservationCodeAlphabet, ch), "unexpected character %q in %s", ch, code)
		}
		seen[code] = true
	}
	// 31^6 possibilities; 200 draws should essentially never collide
	assert.Greater(t, len(seen), 195)
}

func TestNewBookingReference_Shape(t *testing.T) {
	g := NewIdentifierGenerator()

	ref, err := g.NewBookingReference()
	require.NoError(t, err)
	assert.Len(t, ref, BookingReferenceLength)
	for _, ch := range ref {
		assert.True(t, strings.ContainsRune(BookingReferenceAlphabet, ch))
	}
}

func TestGenerate_RejectsBiasedBytes(t *testing.T) {
	// 31 symbols: bytes >= 248 must be skipped
	g := &IdentifierGenerator{random: bytes.NewReader([]byte{
		255, 250, 248, 0, 1, 2, 3, 4, 5,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	})}

	code, err := g.NewReservationCode()
	require.NoError(t, err)
	assert.Equal(t, "ABCDEF", code)
}

func TestGenerate_RandomSourceFailure(t *testing.T) {
	g := &IdentifierGenerator{random: bytes.NewReader(nil)}

	_, err := g.NewReservationCode()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to generate random bytes")
}

func TestFormatAndNormalize(t *testing.T) {
	assert.Equal(t, "ABC-DEF", FormatReservationCode("ABCDEF"))
	assert.Equal(t, "ABCD-1234", FormatBookingReference("ABCD1234"))
	assert.Equal(t, "AB", FormatReservationCode("AB"))

	assert.Equal(t, "ABCDEF", NormalizeCode(" abc-def "))
	assert.Equal(t, "ABCD1234", NormalizeCode("abcd 1234"))
}
