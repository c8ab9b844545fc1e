package notify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Subjects events are published on.
const (
	SubjectDeposit    = "ledger.deposit"
	SubjectReferral   = "ledger.referral"
	SubjectWithdrawal = "ledger.withdrawal"
)

// DepositEvent announces a credited deposit to the admin channel.
type DepositEvent struct {
	AccountID    int64           `json:"account_id"`
	Channel      string          `json:"channel"`
	Amount       decimal.Decimal `json:"amount"`
	NativeAmount string          `json:"native_amount,omitempty"`
	Reference    string          `json:"reference"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// ReferralEvent tells a referrer that their reward was credited.
type ReferralEvent struct {
	ReferrerID int64           `json:"referrer_id"`
	NewUserID  int64           `json:"new_user_id"`
	Username   string          `json:"username,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// WithdrawalEvent asks the admin to process a manual withdrawal.
type WithdrawalEvent struct {
	AdminID    int64     `json:"admin_id"`
	AccountID  int64     `json:"account_id"`
	Username   string    `json:"username,omitempty"`
	Stars      int64     `json:"stars"`
	Details    string    `json:"details,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier delivers events. Delivery is best effort; callers log failures
// and never roll back ledger work because of them.
type Notifier interface {
	Deposit(ctx context.Context, e DepositEvent) error
	Referral(ctx context.Context, e ReferralEvent) error
	Withdrawal(ctx context.Context, e WithdrawalEvent) error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Deposit(context.Context, DepositEvent) error       { return nil }
func (Noop) Referral(context.Context, ReferralEvent) error     { return nil }
func (Noop) Withdrawal(context.Context, WithdrawalEvent) error { return nil }
