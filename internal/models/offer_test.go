package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		value    string
		currency string
		want     int64
	}{
		{"299.99", "USD", 29999},
		{" 250 ", "EUR", 25000},
		{"0.5", "USD", 50},
		{".75", "GBP", 75},
		{"-12.30", "USD", -1230},
		{"15000", "JPY", 15000},
		{"1.234", "KWD", 1234},
		{"92233720368547758.07", "USD", 9223372036854775807},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.value, tt.currency)
		require.NoError(t, err, tt.value)
		assert.Equal(t, tt.want, got, tt.value)
	}
}

func TestParseAmount_Rejects(t *testing.T) {
	for _, value := range []string{"", "-", ".", "12.345", "1,000.00", "abc", "92233720368547758.08", "99999999999999999999"} {
		_, err := ParseAmount(value, "USD")
		assert.ErrorIs(t, err, ErrInvalidAmount, "%q", value)
	}

	_, err := ParseAmount("100.5", "JPY")
	assert.ErrorIs(t, err, ErrInvalidAmount, "JPY has no minor unit")
}

func TestFormatAmount_RoundTrips(t *testing.T) {
	for _, currency := range []string{"USD", "JPY", "KWD"} {
		amount, err := ParseAmount(FormatAmount(-123456, currency), currency)
		require.NoError(t, err)
		assert.Equal(t, int64(-123456), amount, currency)
	}
}

func TestReservationStatus_Transitions(t *testing.T) {
	assert.True(t, ReservationStatusPending.CanTransitionTo(ReservationStatusConfirmed))
	assert.True(t, ReservationStatusPending.CanTransitionTo(ReservationStatusExpired))
	assert.True(t, ReservationStatusConfirmed.CanTransitionTo(ReservationStatusRefunded))
	assert.False(t, ReservationStatusPending.CanTransitionTo(ReservationStatusRefunded))
	assert.False(t, ReservationStatusConfirmed.CanTransitionTo(ReservationStatusExpired))

	for _, terminal := range []ReservationStatus{
		ReservationStatusCancelled, ReservationStatusExpired, ReservationStatusRefunded, ReservationStatusCompleted,
	} {
		assert.True(t, terminal.IsTerminal())
		assert.True(t, terminal.IsValid())
		assert.False(t, terminal.CanTransitionTo(ReservationStatusConfirmed), "%s is final", terminal)
	}
	assert.False(t, ReservationStatus("on_hold").IsValid())
}
