package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency identifies which of an account's two balances a mutation touches.
type Currency string

const (
	CurrencyCash Currency = "cash"
	CurrencyStar Currency = "star"
)

func (c Currency) Valid() bool {
	return c == CurrencyCash || c == CurrencyStar
}

// TransactionKind classifies a journal entry.
type TransactionKind string

const (
	KindDeposit                TransactionKind = "deposit"
	KindDepositCrypto          TransactionKind = "deposit_crypto"
	KindDepositPlatform        TransactionKind = "deposit_platform"
	KindReferralReward         TransactionKind = "referral_reward"
	KindReferralRewardInternal TransactionKind = "referral_reward_internal"
	KindPurchase               TransactionKind = "purchase"
	KindPurchaseInternal       TransactionKind = "purchase_internal"
	KindGrant                  TransactionKind = "grant"
	KindPoolAdjustment         TransactionKind = "pool_adjustment"
	KindAdminCredit            TransactionKind = "admin_credit"
	KindAdminDebit             TransactionKind = "admin_debit"
)

type TransactionStatus string

const (
	StatusCompleted TransactionStatus = "completed"
	StatusPending   TransactionStatus = "pending"
	StatusFailed    TransactionStatus = "failed"
)

// Account holds both balances of a user. Cash carries two fractional digits.
type Account struct {
	ID          int64           `json:"id"`
	Username    string          `json:"username,omitempty"`
	ReferrerID  *int64          `json:"referrer_id,omitempty"`
	CashBalance decimal.Decimal `json:"cash_balance"`
	StarBalance int64           `json:"star_balance"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Balance is the result of a single ledger mutation or point read.
type Balance struct {
	AccountID int64           `json:"account_id"`
	Currency  Currency        `json:"currency"`
	Value     decimal.Decimal `json:"value"`
}

// Stars returns the balance as a whole star count.
func (b Balance) Stars() int64 {
	return b.Value.IntPart()
}

// Mutation describes one credit or debit against an account balance.
// Amount must be positive; for stars it must be a whole number.
type Mutation struct {
	AccountID      int64
	Currency       Currency
	Amount         decimal.Decimal
	Kind           TransactionKind
	Counterparty   string
	IdempotencyKey string
}

// TransactionRecord is an immutable journal entry. AccountID is nil for
// pool-only events.
type TransactionRecord struct {
	ID             int64             `json:"id"`
	AccountID      *int64            `json:"account_id,omitempty"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       Currency          `json:"currency"`
	Kind           TransactionKind   `json:"kind"`
	Status         TransactionStatus `json:"status"`
	Counterparty   string            `json:"counterparty,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentWaitingForCapture PaymentStatus = "waiting_for_capture"
	PaymentSucceeded         PaymentStatus = "succeeded"
	PaymentCanceled          PaymentStatus = "canceled"
)

// Settled reports whether the gateway has finished with the payment, one way
// or the other.
func (s PaymentStatus) Settled() bool {
	return s != PaymentPending && s != PaymentWaitingForCapture
}

// PendingPayment tracks a gateway payment from creation to a terminal status.
type PendingPayment struct {
	GatewayID string          `json:"gateway_id"`
	AccountID int64           `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    PaymentStatus   `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RateSnapshot is the last fetched price of one native chain unit in cash units.
type RateSnapshot struct {
	Value     decimal.Decimal `json:"value"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Fresh reports whether the snapshot is younger than ttl at now.
func (s RateSnapshot) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.FetchedAt) < ttl
}

// ReferralReward is the operator-configured reward for bringing in a new user.
type ReferralReward struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}
