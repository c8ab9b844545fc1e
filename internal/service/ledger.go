package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/punchamoorthee/starledger/internal/domain"
	"github.com/punchamoorthee/starledger/internal/notify"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Ledger is the storage the synchronous flows run against.
type Ledger interface {
	RegisterAccount(ctx context.Context, id int64, username string, referrerID *int64, reward *domain.Mutation) (created, rewarded bool, err error)
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	AccountExists(ctx context.Context, id int64) (bool, error)
	Credit(ctx context.Context, m domain.Mutation) (domain.Balance, error)
	Debit(ctx context.Context, m domain.Mutation) (domain.Balance, error)
	CreditStarsWithPool(ctx context.Context, m domain.Mutation) (domain.Balance, int64, error)
	StarPrice(ctx context.Context, fallback decimal.Decimal) (decimal.Decimal, error)
	ReferralReward(ctx context.Context, fallback decimal.Decimal) (domain.ReferralReward, error)
}

const (
	platformCurrency = "XTR"
	platformPrefix   = "internal_stars"
)

// LedgerService holds the flows that touch more than one ledger primitive:
// registration with referral rewards, platform-native star payments, grants,
// purchases and withdrawal requests.
type LedgerService struct {
	ledger        Ledger
	notifier      notify.Notifier
	adminID       int64
	defaultPrice  decimal.Decimal
	defaultReward decimal.Decimal
	now           func() time.Time
}

type Options struct {
	AdminID       int64
	StarPrice     decimal.Decimal
	ReferralBonus decimal.Decimal
}

func NewLedgerService(l Ledger, n notify.Notifier, opts Options) *LedgerService {
	if n == nil {
		n = notify.Noop{}
	}
	return &LedgerService{
		ledger:        l,
		notifier:      n,
		adminID:       opts.AdminID,
		defaultPrice:  opts.StarPrice,
		defaultReward: opts.ReferralBonus,
		now:           time.Now,
	}
}

// Registration is the outcome of Register.
type Registration struct {
	Created bool                   `json:"created"`
	Reward  *domain.ReferralReward `json:"reward,omitempty"`
}

// Register creates an account. A new account registered with a known
// referrer other than itself rewards the referrer exactly once. The account
// and the reward commit together, so a failed registration can be retried.
func (s *LedgerService) Register(ctx context.Context, id int64, username string, referrerID *int64) (Registration, error) {
	if referrerID != nil {
		if *referrerID == id {
			referrerID = nil
		} else if ok, err := s.ledger.AccountExists(ctx, *referrerID); err != nil {
			return Registration{}, err
		} else if !ok {
			log.WithFields(log.Fields{"account_id": id, "referrer_id": *referrerID}).Warn("Ignoring unknown referrer")
			referrerID = nil
		}
	}

	var (
		reward   domain.ReferralReward
		mutation *domain.Mutation
	)
	if referrerID != nil {
		var err error
		if reward, err = s.ledger.ReferralReward(ctx, s.defaultReward); err != nil {
			return Registration{}, fmt.Errorf("load referral reward: %w", err)
		}
		if reward.Amount.IsPositive() {
			kind := domain.KindReferralReward
			if reward.Currency == domain.CurrencyStar {
				kind = domain.KindReferralRewardInternal
			}
			mutation = &domain.Mutation{
				AccountID:      *referrerID,
				Currency:       reward.Currency,
				Amount:         reward.Amount,
				Kind:           kind,
				Counterparty:   strconv.FormatInt(id, 10),
				IdempotencyKey: fmt.Sprintf("referral:%d", id),
			}
		}
	}

	created, rewarded, err := s.ledger.RegisterAccount(ctx, id, username, referrerID, mutation)
	if err != nil {
		return Registration{}, err
	}
	res := Registration{Created: created}
	if !rewarded {
		return res, nil
	}
	res.Reward = &reward

	log.WithFields(log.Fields{
		"referrer_id": *referrerID,
		"account_id":  id,
		"amount":      reward.Amount.String(),
		"currency":    reward.Currency,
	}).Info("Referral reward credited")

	if err := s.notifier.Referral(ctx, notify.ReferralEvent{
		ReferrerID: *referrerID,
		NewUserID:  id,
		Username:   username,
		Amount:     reward.Amount,
		Currency:   string(reward.Currency),
		OccurredAt: s.now(),
	}); err != nil {
		log.WithError(err).WithField("referrer_id", *referrerID).Warn("Referral notification failed")
	}
	return res, nil
}

// PlatformPayment is a successful platform-native invoice payment.
type PlatformPayment struct {
	PayerID     int64  `json:"payer_id"`
	Currency    string `json:"currency"`
	TotalAmount int64  `json:"total_amount"`
	Payload     string `json:"payload"`
	ChargeID    string `json:"charge_id"`
}

// InvoicePayload builds the payload a star invoice carries.
func InvoicePayload(accountID, stars int64) string {
	return fmt.Sprintf("%s:%d:%d", platformPrefix, accountID, stars)
}

func parseInvoicePayload(payload string) (accountID, stars int64, err error) {
	parts := strings.Split(payload, ":")
	if len(parts) != 3 || parts[0] != platformPrefix {
		return 0, 0, fmt.Errorf("%w: payload %q", domain.ErrMalformedRecord, payload)
	}
	if accountID, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("%w: payload account %q", domain.ErrMalformedRecord, parts[1])
	}
	if stars, err = strconv.ParseInt(parts[2], 10, 64); err != nil || stars <= 0 {
		return 0, 0, fmt.Errorf("%w: payload stars %q", domain.ErrMalformedRecord, parts[2])
	}
	return accountID, stars, nil
}

// SettlePlatformPayment credits the stars bought through a platform invoice
// to the payer and to the pool. The charge id makes it idempotent.
func (s *LedgerService) SettlePlatformPayment(ctx context.Context, p PlatformPayment) (domain.Balance, error) {
	if p.Currency != platformCurrency {
		return domain.Balance{}, fmt.Errorf("%w: currency %q", domain.ErrMalformedRecord, p.Currency)
	}
	if p.ChargeID == "" {
		return domain.Balance{}, fmt.Errorf("%w: missing charge id", domain.ErrMalformedRecord)
	}
	accountID, stars, err := parseInvoicePayload(p.Payload)
	if err != nil {
		return domain.Balance{}, err
	}
	if accountID != p.PayerID {
		return domain.Balance{}, fmt.Errorf("%w: payer %d paid invoice for %d", domain.ErrMalformedRecord, p.PayerID, accountID)
	}
	if p.TotalAmount != stars {
		return domain.Balance{}, fmt.Errorf("%w: paid %d for %d stars", domain.ErrMalformedRecord, p.TotalAmount, stars)
	}

	bal, pool, err := s.ledger.CreditStarsWithPool(ctx, domain.Mutation{
		AccountID:      accountID,
		Amount:         decimal.NewFromInt(stars),
		Kind:           domain.KindDepositPlatform,
		Counterparty:   "stars_payment:" + p.ChargeID,
		IdempotencyKey: "stars:" + p.ChargeID,
	})
	if err != nil {
		return domain.Balance{}, err
	}
	log.WithFields(log.Fields{"account_id": accountID, "stars": stars, "pool": pool}).Info("Platform star payment credited")
	return bal, nil
}

// Grant gives an account stars and adds them to the pool.
func (s *LedgerService) Grant(ctx context.Context, accountID, stars int64, reference string) (domain.Balance, error) {
	bal, _, err := s.ledger.CreditStarsWithPool(ctx, domain.Mutation{
		AccountID:    accountID,
		Amount:       decimal.NewFromInt(stars),
		Kind:         domain.KindGrant,
		Counterparty: reference,
	})
	return bal, err
}

// Purchase is the result of a star purchase.
type Purchase struct {
	Stars   int64           `json:"stars"`
	Cost    decimal.Decimal `json:"cost"`
	Balance decimal.Decimal `json:"balance"`
}

// PurchaseStars charges the account's cash for stars delivered to target at
// the current star price.
func (s *LedgerService) PurchaseStars(ctx context.Context, accountID, stars int64, target string) (Purchase, error) {
	if stars <= 0 {
		return Purchase{}, domain.ErrInvalidAmount
	}
	price, err := s.ledger.StarPrice(ctx, s.defaultPrice)
	if err != nil {
		return Purchase{}, err
	}
	if !price.IsPositive() {
		return Purchase{}, fmt.Errorf("star price %s: %w", price, domain.ErrInvalidAmount)
	}
	cost := domain.StarsToCash(stars, price)
	bal, err := s.ledger.Debit(ctx, domain.Mutation{
		AccountID:    accountID,
		Currency:     domain.CurrencyCash,
		Amount:       cost,
		Kind:         domain.KindPurchase,
		Counterparty: target,
	})
	if err != nil {
		return Purchase{}, err
	}
	return Purchase{Stars: stars, Cost: cost, Balance: bal.Value}, nil
}

// WithdrawalRequest asks the admin to pay out stars manually.
type WithdrawalRequest struct {
	Amount   int64  `json:"amount"`
	Username string `json:"username,omitempty"`
	UserID   int64  `json:"user_id,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

// NotifyWithdrawal forwards a withdrawal request to the admin. It does not
// touch balances.
func (s *LedgerService) NotifyWithdrawal(ctx context.Context, r WithdrawalRequest) error {
	if r.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if s.adminID == 0 {
		return domain.ErrAdminIDMisconfigured
	}
	err := s.notifier.Withdrawal(ctx, notify.WithdrawalEvent{
		AdminID:    s.adminID,
		AccountID:  r.UserID,
		Username:   r.Username,
		Stars:      r.Amount,
		Details:    r.Comment,
		OccurredAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("send withdrawal notice: %w", err)
	}
	return nil
}
