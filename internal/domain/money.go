package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits kept for every amount.
const MoneyScale = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds d to MoneyScale digits using banker's rounding.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(MoneyScale)
}

// ComputeFee returns the service fee and the net amount for amount at the
// given percentage. The fee is rounded; net is always amount - fee.
func ComputeFee(amount, feePercentage decimal.Decimal) (fee, net decimal.Decimal) {
	fee = RoundMoney(amount.Mul(feePercentage).Div(hundred))
	net = amount.Sub(fee)
	return fee, net
}

// ValidateAmount checks that amount is strictly positive and uses no more
// than MoneyScale fractional digits.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be positive, got %s", ErrInvalidAmount, amount)
	}
	if !amount.Equal(amount.Round(MoneyScale)) {
		return fmt.Errorf("%w: at most %d fractional digits, got %s", ErrInvalidAmount, MoneyScale, amount)
	}
	return nil
}
