package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/starledger/internal/domain"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// queryable is satisfied by both the pool and an open transaction.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the single owner of balances, the pool counter, the journal,
// pending payments and settings. All mutual exclusion happens in Postgres.
type Store struct {
	Db *pgxpool.Pool
}

func NewStore(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// withTx runs fn inside a READ COMMITTED transaction. Conditional updates
// re-check their WHERE clause against the latest committed row, which is
// what keeps concurrent debits from overdrawing.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// CreateAccount inserts the account if absent. created is false when the
// account already existed, in which case username and referrer are untouched.
func (s *Store) CreateAccount(ctx context.Context, id int64, username string, referrerID *int64) (bool, error) {
	tag, err := s.Db.Exec(ctx,
		`INSERT INTO accounts (id, username, referrer_id) VALUES ($1, NULLIF($2, ''), $3)
		 ON CONFLICT (id) DO NOTHING`,
		id, username, referrerID,
	)
	if err != nil {
		return false, fmt.Errorf("create account %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// RegisterAccount creates the account and, when reward is set, credits the
// referral reward in the same transaction. A failed credit rolls the account
// back so a retry runs the whole registration again. rewarded is false when
// the account already existed or the reward key was already journaled.
func (s *Store) RegisterAccount(ctx context.Context, id int64, username string, referrerID *int64, reward *domain.Mutation) (created, rewarded bool, err error) {
	if reward != nil {
		if err := domain.ValidateMutation(*reward); err != nil {
			return false, false, err
		}
	}
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO accounts (id, username, referrer_id) VALUES ($1, NULLIF($2, ''), $3)
			 ON CONFLICT (id) DO NOTHING`,
			id, username, referrerID,
		)
		if err != nil {
			return fmt.Errorf("create account %d: %w", id, err)
		}
		created = tag.RowsAffected() == 1
		if !created || reward == nil {
			return nil
		}
		_, err = creditAccount(ctx, tx, *reward)
		if errors.Is(err, domain.ErrAlreadyApplied) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("credit referral reward: %w", err)
		}
		rewarded = true
		return nil
	})
	if err != nil {
		return false, false, err
	}
	return created, rewarded, nil
}

// GetAccount retrieves a single account by ID.
func (s *Store) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	var (
		acc      domain.Account
		username *string
		cash     string
	)
	err := s.Db.QueryRow(ctx,
		`SELECT id, username, referrer_id, cash_balance::text, star_balance, created_at, updated_at
		 FROM accounts WHERE id = $1`, id,
	).Scan(&acc.ID, &username, &acc.ReferrerID, &cash, &acc.StarBalance, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %d: %w", id, err)
	}
	if username != nil {
		acc.Username = *username
	}
	if acc.CashBalance, err = decimal.NewFromString(cash); err != nil {
		return nil, fmt.Errorf("parse cash balance of account %d: %w", id, err)
	}
	return &acc, nil
}

func (s *Store) AccountExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.Db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check account %d: %w", id, err)
	}
	return exists, nil
}

// CountReferrals returns how many accounts were registered with id as referrer.
func (s *Store) CountReferrals(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := s.Db.QueryRow(ctx, "SELECT COUNT(*) FROM accounts WHERE referrer_id = $1", id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count referrals of %d: %w", id, err)
	}
	return n, nil
}

// GetEntries retrieves journal entries for a specific account, newest first.
func (s *Store) GetEntries(ctx context.Context, accountID int64, limit int) ([]domain.TransactionRecord, error) {
	exists, err := s.AccountExists(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrAccountNotFound
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.Db.Query(ctx,
		`SELECT id, account_id, amount::text, currency, kind, status,
		        COALESCE(counterparty, ''), COALESCE(idempotency_key, ''), created_at
		 FROM transactions WHERE account_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query entries of %d: %w", accountID, err)
	}
	defer rows.Close()

	var entries []domain.TransactionRecord
	for rows.Next() {
		var (
			e      domain.TransactionRecord
			amount string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &amount, &e.Currency, &e.Kind, &e.Status,
			&e.Counterparty, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			log.WithError(err).WithField("account_id", accountID).Error("Error scanning journal entry")
			continue
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			log.WithError(err).WithField("entry_id", e.ID).Error("Error parsing journal amount")
			continue
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// insertEntry appends a journal row. A non-empty idempotency key that was
// already recorded yields domain.ErrAlreadyApplied.
func insertEntry(ctx context.Context, q queryable, e domain.TransactionRecord) (int64, error) {
	if e.Status == "" {
		e.Status = domain.StatusCompleted
	}
	var id int64
	err := q.QueryRow(ctx,
		`INSERT INTO transactions (account_id, amount, currency, kind, status, counterparty, idempotency_key)
		 VALUES ($1, $2::numeric, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))
		 ON CONFLICT (idempotency_key) DO NOTHING
		 RETURNING id`,
		e.AccountID, e.Amount.String(), string(e.Currency), string(e.Kind), string(e.Status),
		e.Counterparty, e.IdempotencyKey,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrAlreadyApplied
	}
	if err != nil {
		return 0, fmt.Errorf("journal insert failed: %w", err)
	}
	return id, nil
}

// IsApplied reports whether a journal entry with the idempotency key exists.
func (s *Store) IsApplied(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.Db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM transactions WHERE idempotency_key = $1)", key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check idempotency key %q: %w", key, err)
	}
	return exists, nil
}
