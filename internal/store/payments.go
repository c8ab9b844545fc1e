package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/starledger/internal/domain"
	"github.com/shopspring/decimal"
)

// InsertPendingPayment records a freshly created gateway payment.
func (s *Store) InsertPendingPayment(ctx context.Context, p domain.PendingPayment) error {
	if p.Status == "" {
		p.Status = domain.PaymentPending
	}
	if err := ensureAccount(ctx, s.Db, p.AccountID); err != nil {
		return err
	}
	_, err := s.Db.Exec(ctx,
		`INSERT INTO pending_payments (gateway_id, account_id, amount, status)
		 VALUES ($1, $2, $3::numeric, $4)`,
		p.GatewayID, p.AccountID, p.Amount.String(), string(p.Status),
	)
	if err != nil {
		return fmt.Errorf("insert payment %s: %w", p.GatewayID, err)
	}
	return nil
}

// LatestPendingPayment returns the most recent still-pending payment of an
// account, or domain.ErrPaymentNotFound.
func (s *Store) LatestPendingPayment(ctx context.Context, accountID int64) (*domain.PendingPayment, error) {
	row := s.Db.QueryRow(ctx,
		`SELECT gateway_id, account_id, amount::text, status, created_at, updated_at
		 FROM pending_payments
		 WHERE account_id = $1 AND status = 'pending'
		 ORDER BY created_at DESC LIMIT 1`, accountID)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPaymentNotFound
	}
	return p, err
}

// GetPayment loads a payment by gateway id regardless of status.
func (s *Store) GetPayment(ctx context.Context, gatewayID string) (*domain.PendingPayment, error) {
	row := s.Db.QueryRow(ctx,
		`SELECT gateway_id, account_id, amount::text, status, created_at, updated_at
		 FROM pending_payments WHERE gateway_id = $1`, gatewayID)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPaymentNotFound
	}
	return p, err
}

// ListPendingPayments returns pending payments oldest first.
func (s *Store) ListPendingPayments(ctx context.Context, limit int) ([]domain.PendingPayment, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT gateway_id, account_id, amount::text, status, created_at, updated_at
		 FROM pending_payments WHERE status = 'pending'
		 ORDER BY created_at ASC, gateway_id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending payments: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// SettlePayment moves a pending payment to succeeded and credits its amount
// as cash, both in one transaction. applied is false when the payment had
// already left the pending state, in which case nothing is credited.
func (s *Store) SettlePayment(ctx context.Context, gatewayID string) (bal domain.Balance, applied bool, err error) {
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		var (
			accountID int64
			amount    string
		)
		err := tx.QueryRow(ctx,
			`UPDATE pending_payments SET status = 'succeeded', updated_at = NOW()
			 WHERE gateway_id = $1 AND status = 'pending'
			 RETURNING account_id, amount::text`, gatewayID,
		).Scan(&accountID, &amount)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("settle payment %s: %w", gatewayID, err)
		}

		value, err := decimal.NewFromString(amount)
		if err != nil {
			return fmt.Errorf("parse payment amount %q: %w", amount, err)
		}
		bal, err = creditAccount(ctx, tx, domain.Mutation{
			AccountID:      accountID,
			Currency:       domain.CurrencyCash,
			Amount:         value,
			Kind:           domain.KindDeposit,
			Counterparty:   "gateway:" + gatewayID,
			IdempotencyKey: "payment:" + gatewayID,
		})
		if err != nil {
			return err
		}
		applied = true
		return nil
	})
	return bal, applied, err
}

// MarkPaymentStatus records a non-success terminal status. Only pending
// payments transition; updated is false otherwise.
func (s *Store) MarkPaymentStatus(ctx context.Context, gatewayID string, status domain.PaymentStatus) (bool, error) {
	if status == domain.PaymentSucceeded {
		return false, fmt.Errorf("use SettlePayment to mark %s as succeeded", gatewayID)
	}
	tag, err := s.Db.Exec(ctx,
		`UPDATE pending_payments SET status = $2, updated_at = NOW()
		 WHERE gateway_id = $1 AND status = 'pending'`,
		gatewayID, string(status),
	)
	if err != nil {
		return false, fmt.Errorf("mark payment %s as %s: %w", gatewayID, status, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanPayment(row pgx.Row) (*domain.PendingPayment, error) {
	var (
		p      domain.PendingPayment
		amount string
	)
	if err := row.Scan(&p.GatewayID, &p.AccountID, &amount, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	v, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse payment amount %q: %w", amount, err)
	}
	p.Amount = v
	return &p, nil
}
