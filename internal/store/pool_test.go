package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/punchamoorthee/starledger/internal/domain"
	"github.com/punchamoorthee/starledger/internal/store/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_CreditThenDebit(t *testing.T) {
	s := testutil.SetupTestDatabase(t).Store
	ctx := context.Background()

	bal, err := s.PoolBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)

	bal, err = s.PoolCredit(ctx, 100, "restock")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal)

	bal, err = s.PoolDebit(ctx, 30, "withdrawal")
	require.NoError(t, err)
	assert.Equal(t, int64(70), bal)

	_, err = s.PoolDebit(ctx, 1000, "too much")
	assert.ErrorIs(t, err, domain.ErrInsufficientPool)

	bal, err = s.PoolBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(70), bal)
}

func TestPool_RejectsNonPositive(t *testing.T) {
	s := testutil.SetupTestDatabase(t).Store

	_, err := s.PoolCredit(context.Background(), 0, "")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = s.PoolDebit(context.Background(), -5, "")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestPool_ConcurrentDebitsRespectFloor(t *testing.T) {
	s := testutil.SetupTestDatabase(t).Store
	ctx := context.Background()

	_, err := s.PoolCredit(ctx, 50, "seed")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.PoolDebit(ctx, 10, "race")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok int
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInsufficientPool)
	}
	assert.Equal(t, 5, ok)

	bal, err := s.PoolBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)
}

func TestPool_CreditStarsWithPoolIsIdempotent(t *testing.T) {
	s := testutil.SetupTestDatabase(t).Store
	ctx := context.Background()

	m := domain.Mutation{
		AccountID: 11, Amount: decimal.NewFromInt(25),
		Kind: domain.KindDepositPlatform, IdempotencyKey: "stars:charge-1",
	}
	bal, pool, err := s.CreditStarsWithPool(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, int64(25), bal.Stars())
	assert.Equal(t, int64(25), pool)

	_, _, err = s.CreditStarsWithPool(ctx, m)
	assert.ErrorIs(t, err, domain.ErrAlreadyApplied)

	acc, err := s.GetAccount(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, int64(25), acc.StarBalance)

	poolBal, err := s.PoolBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(25), poolBal)
}
