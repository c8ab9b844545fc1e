package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/starledger/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	SettingTonWatermark     = "ton_last_lt"
	SettingTonRate          = "ton_rub_rate"
	SettingTonRateUpdatedAt = "ton_rate_updated_at"
	SettingStarPrice        = "star_price"
	SettingReferralAmount   = "referral_reward_amount"
	SettingReferralCurrency = "referral_reward_currency"
)

// GetSetting returns the stored value and whether the key exists.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.Db.QueryRow(ctx, "SELECT value FROM settings WHERE key = $1", key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	return setSetting(ctx, s.Db, key, value)
}

func setSetting(ctx context.Context, q queryable, key, value string) error {
	_, err := q.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// GetWatermark returns the highest chain cursor already processed, or 0.
func (s *Store) GetWatermark(ctx context.Context) (int64, error) {
	raw, ok, err := s.GetSetting(ctx, SettingTonWatermark)
	if err != nil || !ok {
		return 0, err
	}
	lt, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse watermark %q: %w", raw, err)
	}
	return lt, nil
}

// AdvanceWatermark stores lt only if it is greater than the stored value, so
// concurrent reconcilers can never move the watermark backwards.
func (s *Store) AdvanceWatermark(ctx context.Context, lt int64) (bool, error) {
	tag, err := s.Db.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
		 WHERE settings.value::bigint < EXCLUDED.value::bigint`,
		SettingTonWatermark, strconv.FormatInt(lt, 10))
	if err != nil {
		return false, fmt.Errorf("advance watermark to %d: %w", lt, err)
	}
	return tag.RowsAffected() == 1, nil
}

// LoadRate returns the persisted rate snapshot. ok is false when no rate has
// ever been fetched.
func (s *Store) LoadRate(ctx context.Context) (snap domain.RateSnapshot, ok bool, err error) {
	var value, fetched *string
	err = s.Db.QueryRow(ctx,
		`SELECT (SELECT value FROM settings WHERE key = $1),
		        (SELECT value FROM settings WHERE key = $2)`,
		SettingTonRate, SettingTonRateUpdatedAt,
	).Scan(&value, &fetched)
	if err != nil {
		return snap, false, fmt.Errorf("load rate: %w", err)
	}
	if value == nil || fetched == nil {
		return snap, false, nil
	}
	if snap.Value, err = decimal.NewFromString(*value); err != nil {
		return snap, false, fmt.Errorf("parse rate %q: %w", *value, err)
	}
	if snap.FetchedAt, err = time.Parse(time.RFC3339Nano, *fetched); err != nil {
		return snap, false, fmt.Errorf("parse rate timestamp %q: %w", *fetched, err)
	}
	return snap, true, nil
}

// SaveRate writes the rate and its fetch time together.
func (s *Store) SaveRate(ctx context.Context, snap domain.RateSnapshot) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := setSetting(ctx, tx, SettingTonRate, snap.Value.String()); err != nil {
			return err
		}
		return setSetting(ctx, tx, SettingTonRateUpdatedAt, snap.FetchedAt.UTC().Format(time.RFC3339Nano))
	})
}

// StarPrice returns the configured cash price of one star, or fallback when
// unset or unparsable.
func (s *Store) StarPrice(ctx context.Context, fallback decimal.Decimal) (decimal.Decimal, error) {
	raw, ok, err := s.GetSetting(ctx, SettingStarPrice)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return fallback, nil
	}
	price, err := decimal.NewFromString(raw)
	if err != nil || !price.IsPositive() {
		return fallback, nil
	}
	return price, nil
}

func (s *Store) SetStarPrice(ctx context.Context, price decimal.Decimal) error {
	if !price.IsPositive() {
		return domain.ErrInvalidAmount
	}
	return s.SetSetting(ctx, SettingStarPrice, price.String())
}

// ReferralReward returns the configured reward. Invalid or non-positive
// amounts fall back to the default; star rewards are truncated to whole stars.
func (s *Store) ReferralReward(ctx context.Context, fallback decimal.Decimal) (domain.ReferralReward, error) {
	reward := domain.ReferralReward{Amount: fallback, Currency: domain.CurrencyCash}

	raw, ok, err := s.GetSetting(ctx, SettingReferralAmount)
	if err != nil {
		return reward, err
	}
	if ok {
		if v, perr := decimal.NewFromString(raw); perr == nil && v.IsPositive() {
			reward.Amount = v
		}
	}

	cur, ok, err := s.GetSetting(ctx, SettingReferralCurrency)
	if err != nil {
		return reward, err
	}
	if ok && domain.Currency(cur).Valid() {
		reward.Currency = domain.Currency(cur)
	}
	if reward.Currency == domain.CurrencyStar {
		reward.Amount = reward.Amount.Truncate(0)
	}
	return reward, nil
}

func (s *Store) SetReferralReward(ctx context.Context, r domain.ReferralReward) error {
	if !r.Amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	if !r.Currency.Valid() {
		return fmt.Errorf("unknown currency %q", r.Currency)
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := setSetting(ctx, tx, SettingReferralAmount, r.Amount.String()); err != nil {
			return err
		}
		return setSetting(ctx, tx, SettingReferralCurrency, string(r.Currency))
	})
}
