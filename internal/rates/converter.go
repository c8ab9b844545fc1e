package rates

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/starledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Direction names a calculator conversion.
type Direction string

const (
	NativeToCash  Direction = "ton_to_cash"
	CashToNative  Direction = "cash_to_ton"
	NativeToStars Direction = "ton_to_stars"
	StarsToNative Direction = "stars_to_ton"
	CashToStars   Direction = "cash_to_stars"
	StarsToCash   Direction = "stars_to_cash"
)

func (d Direction) Valid() bool {
	switch d {
	case NativeToCash, CashToNative, NativeToStars, StarsToNative, CashToStars, StarsToCash:
		return true
	}
	return false
}

type RateProvider interface {
	Rate(ctx context.Context) (decimal.Decimal, error)
}

type PriceProvider interface {
	StarPrice(ctx context.Context, fallback decimal.Decimal) (decimal.Decimal, error)
}

// Conversion is a calculator result.
type Conversion struct {
	Direction Direction       `json:"direction"`
	Input     decimal.Decimal `json:"input"`
	Output    decimal.Decimal `json:"output"`
	Rate      decimal.Decimal `json:"rate"`
	StarPrice decimal.Decimal `json:"star_price"`
}

// Converter prices amounts across the native coin, cash and stars.
type Converter struct {
	rates        RateProvider
	prices       PriceProvider
	defaultPrice decimal.Decimal
}

func NewConverter(rates RateProvider, prices PriceProvider, defaultPrice decimal.Decimal) *Converter {
	return &Converter{rates: rates, prices: prices, defaultPrice: defaultPrice}
}

// Convert runs one conversion. Directions that involve the native coin fail
// with domain.ErrRateUnavailable when no rate is known.
func (c *Converter) Convert(ctx context.Context, dir Direction, amount decimal.Decimal) (Conversion, error) {
	if !amount.IsPositive() {
		return Conversion{}, domain.ErrInvalidAmount
	}
	price, err := c.prices.StarPrice(ctx, c.defaultPrice)
	if err != nil {
		return Conversion{}, err
	}
	out := Conversion{Direction: dir, Input: amount, StarPrice: price}

	switch dir {
	case CashToStars:
		out.Output, err = domain.CashToStars(amount, price)
		return out, err
	case StarsToCash:
		out.Output = amount.Mul(price).Round(domain.CashPlaces)
		return out, nil
	case NativeToCash, CashToNative, NativeToStars, StarsToNative:
	default:
		return Conversion{}, fmt.Errorf("unknown direction %q", dir)
	}

	rate, err := c.rates.Rate(ctx)
	if err != nil {
		return Conversion{}, err
	}
	out.Rate = rate

	switch dir {
	case NativeToCash:
		out.Output = amount.Mul(rate).Round(domain.CashPlaces)
	case CashToNative:
		out.Output, err = domain.CashToNative(amount, rate)
	case NativeToStars:
		out.Output, err = domain.CashToStars(amount.Mul(rate), price)
	case StarsToNative:
		out.Output, err = domain.CashToNative(amount.Mul(price), rate)
	}
	return out, err
}
