package ticker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_Valid(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"aapl", "AAPL"},
		{"AAPL", "AAPL"},
		{"  msft ", "MSFT"},
		{"BRK.B", "BRK.B"},
		{"^RUT", "^RUT"},
		{"X", "X"},
		{"ABCDEFGHIJ", "ABCDEFGHIJ"}, // exactly 10
	}
	for _, tt := range tests {
		got, err := Normalize(tt.in)
		require.NoError(t, err, "ticker %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestNormalize_Invalid(t *testing.T) {
	tests := []string{
		"",
		"   ",
		"AB CD",
		"ABCDEFGHIJK", // 11 characters
		"A\tB",
	}
	for _, in := range tests {
		_, err := Normalize(in)
		assert.ErrorIs(t, err, ErrInvalidTicker, "ticker %q", in)
	}
}

func TestSecondarySymbol(t *testing.T) {
	assert.Equal(t, "aapl.us", SecondarySymbol("AAPL"))
	assert.Equal(t, "rut", SecondarySymbol("^RUT"))
	assert.Equal(t, "brk.b", SecondarySymbol("BRK.B"))
}
