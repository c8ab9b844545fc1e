package rates

import (
	"context"
	"testing"

	"github.com/punchamoorthee/starledger/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRate struct {
	rate decimal.Decimal
	err  error
}

func (f fixedRate) Rate(context.Context) (decimal.Decimal, error) { return f.rate, f.err }

type fixedPrice decimal.Decimal

func (p fixedPrice) StarPrice(context.Context, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Decimal(p), nil
}

func TestConverter_Convert(t *testing.T) {
	conv := NewConverter(
		fixedRate{rate: decimal.NewFromInt(300)},
		fixedPrice(decimal.RequireFromString("1.5")),
		decimal.RequireFromString("1.5"),
	)

	tests := []struct {
		dir    Direction
		amount string
		want   string
	}{
		{NativeToCash, "2", "600"},
		{CashToNative, "600", "2"},
		{NativeToStars, "1", "200"},
		{StarsToNative, "200", "1"},
		{CashToStars, "75", "50"},
		{StarsToCash, "50", "75"},
	}
	for _, tt := range tests {
		t.Run(string(tt.dir), func(t *testing.T) {
			got, err := conv.Convert(context.Background(), tt.dir, decimal.RequireFromString(tt.amount))
			require.NoError(t, err)
			assert.True(t, got.Output.Equal(decimal.RequireFromString(tt.want)), "got %s", got.Output)
		})
	}
}

func TestConverter_FailsClosedWithoutRate(t *testing.T) {
	conv := NewConverter(
		fixedRate{err: domain.ErrRateUnavailable},
		fixedPrice(decimal.RequireFromString("1.5")),
		decimal.RequireFromString("1.5"),
	)

	_, err := conv.Convert(context.Background(), NativeToCash, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrRateUnavailable)

	// Star/cash conversions need no rate.
	got, err := conv.Convert(context.Background(), StarsToCash, decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.Equal(t, "15", got.Output.String())

	_, err = conv.Convert(context.Background(), "sideways", decimal.NewFromInt(1))
	assert.Error(t, err)

	_, err = conv.Convert(context.Background(), CashToStars, decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}
