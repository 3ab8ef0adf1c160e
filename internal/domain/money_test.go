package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidateAmount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in    string
		valid bool
	}{
		{"0.01", true},
		{"150", true},
		{"150.10", true},
		{"0", false},
		{"-1.00", false},
		{"1.005", false},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			err := ValidateAmount(decimal.RequireFromString(tc.in))
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidAmount)
			}
		})
	}
}

func TestRoundMoney(t *testing.T) {
	t.Parallel()

	assert.True(t, decimal.RequireFromString("2.12").Equal(RoundMoney(decimal.RequireFromString("2.125"))))
	assert.True(t, decimal.RequireFromString("2.14").Equal(RoundMoney(decimal.RequireFromString("2.135"))))
}
