package store_test

import (
	"context"
	"testing"

	"github.com/punchamoorthee/starledger/internal/domain"
	"github.com/punchamoorthee/starledger/internal/store/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayments_SettleCreditsOnce(t *testing.T) {
	s := testutil.SetupTestDatabase(t).Store
	ctx := context.Background()

	require.NoError(t, s.InsertPendingPayment(ctx, domain.PendingPayment{
		GatewayID: "pay-1", AccountID: 3, Amount: cash("150.00"),
	}))

	p, err := s.LatestPendingPayment(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "pay-1", p.GatewayID)

	bal, applied, err := s.SettlePayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, bal.Value.Equal(cash("150.00")))

	_, applied, err = s.SettlePayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.False(t, applied)

	acc, err := s.GetAccount(ctx, 3)
	require.NoError(t, err)
	assert.True(t, acc.CashBalance.Equal(cash("150.00")))

	_, err = s.LatestPendingPayment(ctx, 3)
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)

	got, err := s.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentSucceeded, got.Status)
}

func TestPayments_MarkCanceledBlocksSettlement(t *testing.T) {
	s := testutil.SetupTestDatabase(t).Store
	ctx := context.Background()

	require.NoError(t, s.InsertPendingPayment(ctx, domain.PendingPayment{
		GatewayID: "pay-2", AccountID: 4, Amount: cash("50.00"),
	}))

	updated, err := s.MarkPaymentStatus(ctx, "pay-2", domain.PaymentCanceled)
	require.NoError(t, err)
	assert.True(t, updated)

	_, applied, err := s.SettlePayment(ctx, "pay-2")
	require.NoError(t, err)
	assert.False(t, applied)

	bal, err := s.GetBalance(ctx, 4, domain.CurrencyCash)
	require.NoError(t, err)
	assert.True(t, bal.Value.IsZero())

	_, err = s.MarkPaymentStatus(ctx, "pay-2", domain.PaymentSucceeded)
	assert.Error(t, err)
}

func TestPayments_ListPendingOldestFirst(t *testing.T) {
	s := testutil.SetupTestDatabase(t).Store
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.InsertPendingPayment(ctx, domain.PendingPayment{GatewayID: id, AccountID: 1, Amount: cash("10")}))
	}
	_, _, err := s.SettlePayment(ctx, "b")
	require.NoError(t, err)

	pending, err := s.ListPendingPayments(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].GatewayID)
	assert.Equal(t, "c", pending[1].GatewayID)
}
