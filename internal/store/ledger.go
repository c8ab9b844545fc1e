package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/starledger/internal/domain"
	"github.com/shopspring/decimal"
)

// balanceColumn maps a currency to its accounts column and SQL parameter type.
func balanceColumn(c domain.Currency) (column, sqlType string, err error) {
	switch c {
	case domain.CurrencyCash:
		return "cash_balance", "numeric", nil
	case domain.CurrencyStar:
		return "star_balance", "bigint", nil
	}
	return "", "", fmt.Errorf("unknown currency %q", c)
}

// amountParam encodes an amount for the column's SQL type: whole stars as
// int64, cash as its exact decimal text.
func amountParam(c domain.Currency, amount decimal.Decimal) any {
	if c == domain.CurrencyStar {
		return amount.IntPart()
	}
	return amount.String()
}

func ensureAccount(ctx context.Context, q queryable, id int64) error {
	_, err := q.Exec(ctx, "INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING", id)
	if err != nil {
		return fmt.Errorf("ensure account %d: %w", id, err)
	}
	return nil
}

// Credit increments a balance, creating the account if absent, and appends a
// journal entry in the same transaction.
func (s *Store) Credit(ctx context.Context, m domain.Mutation) (domain.Balance, error) {
	if err := domain.ValidateMutation(m); err != nil {
		return domain.Balance{}, err
	}
	var bal domain.Balance
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		bal, err = creditAccount(ctx, tx, m)
		return err
	})
	return bal, err
}

// Debit decrements a balance only if it covers the amount. The check and the
// write are one conditional UPDATE; a miss returns domain.ErrInsufficientBalance
// and leaves both the balance and the journal untouched.
func (s *Store) Debit(ctx context.Context, m domain.Mutation) (domain.Balance, error) {
	if err := domain.ValidateMutation(m); err != nil {
		return domain.Balance{}, err
	}
	var bal domain.Balance
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		bal, err = debitAccount(ctx, tx, m)
		return err
	})
	return bal, err
}

// GetBalance is a point read. Unknown accounts have a zero balance.
func (s *Store) GetBalance(ctx context.Context, accountID int64, currency domain.Currency) (domain.Balance, error) {
	column, _, err := balanceColumn(currency)
	if err != nil {
		return domain.Balance{}, err
	}
	var raw string
	err = s.Db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s::text FROM accounts WHERE id = $1", column), accountID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Balance{AccountID: accountID, Currency: currency, Value: decimal.Zero}, nil
	}
	if err != nil {
		return domain.Balance{}, fmt.Errorf("get %s balance of %d: %w", currency, accountID, err)
	}
	return parseBalance(accountID, currency, raw)
}

func creditAccount(ctx context.Context, tx pgx.Tx, m domain.Mutation) (domain.Balance, error) {
	column, sqlType, err := balanceColumn(m.Currency)
	if err != nil {
		return domain.Balance{}, err
	}
	if err := ensureAccount(ctx, tx, m.AccountID); err != nil {
		return domain.Balance{}, err
	}
	if _, err := insertEntry(ctx, tx, entryFor(m, m.Amount)); err != nil {
		return domain.Balance{}, err
	}

	var raw string
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`UPDATE accounts SET %[1]s = %[1]s + $1::%[2]s, updated_at = NOW()
		 WHERE id = $2 RETURNING %[1]s::text`, column, sqlType),
		amountParam(m.Currency, m.Amount), m.AccountID,
	).Scan(&raw)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("credit %s of %d: %w", m.Currency, m.AccountID, err)
	}
	return parseBalance(m.AccountID, m.Currency, raw)
}

func debitAccount(ctx context.Context, tx pgx.Tx, m domain.Mutation) (domain.Balance, error) {
	column, sqlType, err := balanceColumn(m.Currency)
	if err != nil {
		return domain.Balance{}, err
	}
	// An absent account matches no row and is reported as insufficient.
	var raw string
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`UPDATE accounts SET %[1]s = %[1]s - $1::%[2]s, updated_at = NOW()
		 WHERE id = $2 AND %[1]s >= $1::%[2]s RETURNING %[1]s::text`, column, sqlType),
		amountParam(m.Currency, m.Amount), m.AccountID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Balance{}, domain.ErrInsufficientBalance
	}
	if err != nil {
		return domain.Balance{}, fmt.Errorf("debit %s of %d: %w", m.Currency, m.AccountID, err)
	}
	if _, err := insertEntry(ctx, tx, entryFor(m, m.Amount.Neg())); err != nil {
		return domain.Balance{}, err
	}
	return parseBalance(m.AccountID, m.Currency, raw)
}

func entryFor(m domain.Mutation, signed decimal.Decimal) domain.TransactionRecord {
	id := m.AccountID
	return domain.TransactionRecord{
		AccountID:      &id,
		Amount:         signed,
		Currency:       m.Currency,
		Kind:           m.Kind,
		Status:         domain.StatusCompleted,
		Counterparty:   m.Counterparty,
		IdempotencyKey: m.IdempotencyKey,
	}
}

func parseBalance(accountID int64, currency domain.Currency, raw string) (domain.Balance, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("parse %s balance %q: %w", currency, raw, err)
	}
	return domain.Balance{AccountID: accountID, Currency: currency, Value: v}, nil
}
