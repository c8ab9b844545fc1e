package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/starledger/internal/domain"
	"github.com/shopspring/decimal"
)

// PoolBalance returns the operator-held star stock.
func (s *Store) PoolBalance(ctx context.Context) (int64, error) {
	var bal int64
	if err := s.Db.QueryRow(ctx, "SELECT star_balance FROM pool WHERE id = 1").Scan(&bal); err != nil {
		return 0, fmt.Errorf("read pool: %w", err)
	}
	return bal, nil
}

// PoolCredit unconditionally adds stars to the pool.
func (s *Store) PoolCredit(ctx context.Context, amount int64, reference string) (int64, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	var bal int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		bal, err = adjustPool(ctx, tx, amount, reference, "")
		return err
	})
	return bal, err
}

// PoolDebit removes stars from the pool only if the pool covers the amount,
// using the same single conditional UPDATE as account debits. A rejected debit
// returns domain.ErrInsufficientPool and has no side effect.
func (s *Store) PoolDebit(ctx context.Context, amount int64, reference string) (int64, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	var bal int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		bal, err = adjustPool(ctx, tx, -amount, reference, "")
		return err
	})
	return bal, err
}

// CreditStarsWithPool credits an account's stars and the pool by the same
// amount in one transaction. Used when stars enter the system from outside,
// e.g. a platform-native purchase or an operator grant.
func (s *Store) CreditStarsWithPool(ctx context.Context, m domain.Mutation) (domain.Balance, int64, error) {
	m.Currency = domain.CurrencyStar
	if err := domain.ValidateMutation(m); err != nil {
		return domain.Balance{}, 0, err
	}
	var (
		bal  domain.Balance
		pool int64
	)
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		if bal, err = creditAccount(ctx, tx, m); err != nil {
			return err
		}
		poolKey := ""
		if m.IdempotencyKey != "" {
			poolKey = m.IdempotencyKey + ":pool"
		}
		pool, err = adjustPool(ctx, tx, m.Amount.IntPart(), fmt.Sprintf("account:%d", m.AccountID), poolKey)
		return err
	})
	return bal, pool, err
}

func adjustPool(ctx context.Context, tx pgx.Tx, delta int64, reference, idempotencyKey string) (int64, error) {
	var bal int64
	var err error
	if delta >= 0 {
		err = tx.QueryRow(ctx,
			`UPDATE pool SET star_balance = star_balance + $1, updated_at = NOW()
			 WHERE id = 1 RETURNING star_balance`, delta,
		).Scan(&bal)
	} else {
		err = tx.QueryRow(ctx,
			`UPDATE pool SET star_balance = star_balance - $1, updated_at = NOW()
			 WHERE id = 1 AND star_balance >= $1 RETURNING star_balance`, -delta,
		).Scan(&bal)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrInsufficientPool
		}
	}
	if err != nil {
		return 0, fmt.Errorf("adjust pool by %d: %w", delta, err)
	}

	_, err = insertEntry(ctx, tx, domain.TransactionRecord{
		Amount:         decimal.NewFromInt(delta),
		Currency:       domain.CurrencyStar,
		Kind:           domain.KindPoolAdjustment,
		Status:         domain.StatusCompleted,
		Counterparty:   reference,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return 0, err
	}
	return bal, nil
}
