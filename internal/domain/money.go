package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CashPlaces is the number of fractional digits kept on cash balances.
const CashPlaces = 2

// NativePlaces is the exponent of the chain's minor unit (nanoTON).
const NativePlaces = 9

// NativeUnits converts an integer amount of chain minor units to whole units.
func NativeUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -NativePlaces)
}

// NativeToCash converts chain minor units to cash at rate, rounded half away
// from zero to cash precision.
func NativeToCash(minor int64, rate decimal.Decimal) decimal.Decimal {
	return NativeUnits(minor).Mul(rate).Round(CashPlaces)
}

// CashToNative returns how many whole native units buy the given cash amount.
func CashToNative(cash, rate decimal.Decimal) (decimal.Decimal, error) {
	if !rate.IsPositive() {
		return decimal.Zero, ErrRateUnavailable
	}
	return cash.DivRound(rate, 6), nil
}

// StarsToCash prices a star count at price per star.
func StarsToCash(stars int64, price decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(stars).Mul(price).Round(CashPlaces)
}

// CashToStars returns the (fractional) star count a cash amount buys.
func CashToStars(cash, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("star price %s: %w", price, ErrInvalidAmount)
	}
	return cash.DivRound(price, CashPlaces), nil
}

// ValidateMutation checks the amount constraints shared by every ledger
// mutation: positive, and whole for stars.
func ValidateMutation(m Mutation) error {
	if !m.Currency.Valid() {
		return fmt.Errorf("unknown currency %q", m.Currency)
	}
	if !m.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if m.Currency == CurrencyStar && !m.Amount.Equal(m.Amount.Truncate(0)) {
		return fmt.Errorf("star amount %s is not whole: %w", m.Amount, ErrInvalidAmount)
	}
	if m.Currency == CurrencyCash && !m.Amount.Equal(m.Amount.Round(CashPlaces)) {
		return fmt.Errorf("cash amount %s exceeds %d decimal places: %w", m.Amount, CashPlaces, ErrInvalidAmount)
	}
	return nil
}
