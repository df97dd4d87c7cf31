package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ParseAmount converts a decimal currency string ("42.50") into minor units.
// NaN, negative values and fractions of a cent are rejected.
func ParseAmount(s string) (int64, error) {
	if s == "" {
		return 0, NewMissingRequiredFieldError("amount")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, NewAmountValidationError(fmt.Sprintf("amount %q is not a number", s))
	}
	if d.IsNegative() {
		return 0, NewAmountValidationError("amount cannot be negative")
	}

	cents := d.Mul(hundred)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, NewAmountValidationError("amount has more than two decimal places")
	}
	if !cents.LessThanOrEqual(decimal.NewFromInt(maxAmountCents)) {
		return 0, NewAmountValidationError("amount is too large")
	}

	return cents.IntPart(), nil
}

// FormatCents renders minor units as a fixed two-decimal string.
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

const maxAmountCents = 1_000_000_000_00

// TenderPolicy holds the money rules a tender is validated against.
type TenderPolicy struct {
	MaxTenderRatio         decimal.Decimal
	RoundingToleranceCents int64
}

func NewTenderPolicy(maxTenderRatio float64, roundingToleranceCents int64) TenderPolicy {
	return TenderPolicy{
		MaxTenderRatio:         decimal.NewFromFloat(maxTenderRatio),
		RoundingToleranceCents: roundingToleranceCents,
	}
}

// Apply validates a tender against the outstanding balance and returns the
// amount that counts toward the order and the change owed to the guest.
//
// Cash may exceed the balance up to the tender ceiling; the excess is change.
// Every other method moves exactly the tendered amount, so it may not exceed
// the balance by more than the rounding tolerance.
func (p TenderPolicy) Apply(method PaymentMethod, amountCents, outstandingCents int64) (applied, change int64, err error) {
	if amountCents < 0 {
		return 0, 0, NewAmountValidationError("amount cannot be negative")
	}
	if amountCents == 0 {
		return 0, 0, NewAmountValidationError(fmt.Sprintf("%s tender must be greater than zero", method))
	}

	ceiling := decimal.NewFromInt(outstandingCents).Mul(p.MaxTenderRatio).Floor()
	if decimal.NewFromInt(amountCents).GreaterThan(ceiling) {
		return 0, 0, NewAmountValidationError(fmt.Sprintf(
			"tender %s exceeds %s%% of outstanding balance %s",
			FormatCents(amountCents), p.MaxTenderRatio.Mul(hundred).String(), FormatCents(outstandingCents),
		))
	}

	if method == MethodCash {
		applied = min(amountCents, outstandingCents)
		return applied, amountCents - applied, nil
	}

	if amountCents > outstandingCents+p.RoundingToleranceCents {
		return 0, 0, NewAmountValidationError(fmt.Sprintf(
			"%s tender %s exceeds outstanding balance %s",
			method, FormatCents(amountCents), FormatCents(outstandingCents),
		))
	}
	return amountCents, 0, nil
}
