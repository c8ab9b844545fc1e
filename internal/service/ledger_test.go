package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/punchamoorthee/starledger/internal/domain"
	"github.com/punchamoorthee/starledger/internal/notify"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	mu       sync.Mutex
	accounts map[int64]*domain.Account
	applied  map[string]bool
	pool     int64
	entries  []domain.Mutation
	price    decimal.Decimal
	reward   domain.ReferralReward

	creditErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		accounts: map[int64]*domain.Account{},
		applied:  map[string]bool{},
		price:    decimal.RequireFromString("1.50"),
		reward:   domain.ReferralReward{Amount: decimal.NewFromInt(10), Currency: domain.CurrencyStar},
	}
}

// RegisterAccount mirrors the store: the account and the reward commit
// together, and creditErr fails the next reward credit, leaving no account.
func (f *fakeLedger) RegisterAccount(_ context.Context, id int64, username string, referrerID *int64, reward *domain.Mutation) (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[id]; ok {
		return false, false, nil
	}
	if reward != nil && f.creditErr != nil {
		err := f.creditErr
		f.creditErr = nil
		return false, false, err
	}
	rewarded := false
	if reward != nil {
		_, err := f.apply(*reward, 1)
		if err != nil && !errors.Is(err, domain.ErrAlreadyApplied) {
			return false, false, err
		}
		rewarded = err == nil
	}
	f.accounts[id] = &domain.Account{ID: id, Username: username, ReferrerID: referrerID}
	return true, rewarded, nil
}

func (f *fakeLedger) GetAccount(_ context.Context, id int64) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeLedger) AccountExists(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.accounts[id]
	return ok, nil
}

func (f *fakeLedger) apply(m domain.Mutation, sign int64) (domain.Balance, error) {
	if err := domain.ValidateMutation(m); err != nil {
		return domain.Balance{}, err
	}
	if m.IdempotencyKey != "" && f.applied[m.IdempotencyKey] {
		return domain.Balance{}, domain.ErrAlreadyApplied
	}
	a, ok := f.accounts[m.AccountID]
	if !ok {
		if sign < 0 {
			return domain.Balance{}, domain.ErrAccountNotFound
		}
		a = &domain.Account{ID: m.AccountID}
		f.accounts[m.AccountID] = a
	}
	bal := domain.Balance{AccountID: m.AccountID, Currency: m.Currency}
	if m.Currency == domain.CurrencyStar {
		next := a.StarBalance + sign*m.Amount.IntPart()
		if next < 0 {
			return domain.Balance{}, domain.ErrInsufficientBalance
		}
		a.StarBalance = next
		bal.Value = decimal.NewFromInt(next)
	} else {
		next := a.CashBalance.Add(m.Amount.Mul(decimal.NewFromInt(sign)))
		if next.IsNegative() {
			return domain.Balance{}, domain.ErrInsufficientBalance
		}
		a.CashBalance = next
		bal.Value = next
	}
	if m.IdempotencyKey != "" {
		f.applied[m.IdempotencyKey] = true
	}
	f.entries = append(f.entries, m)
	return bal, nil
}

func (f *fakeLedger) Credit(_ context.Context, m domain.Mutation) (domain.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apply(m, 1)
}

func (f *fakeLedger) Debit(_ context.Context, m domain.Mutation) (domain.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apply(m, -1)
}

func (f *fakeLedger) CreditStarsWithPool(_ context.Context, m domain.Mutation) (domain.Balance, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.Currency = domain.CurrencyStar
	bal, err := f.apply(m, 1)
	if err != nil {
		return domain.Balance{}, 0, err
	}
	f.pool += m.Amount.IntPart()
	return bal, f.pool, nil
}

func (f *fakeLedger) StarPrice(context.Context, decimal.Decimal) (decimal.Decimal, error) {
	return f.price, nil
}

func (f *fakeLedger) ReferralReward(context.Context, decimal.Decimal) (domain.ReferralReward, error) {
	return f.reward, nil
}

type capturingNotifier struct {
	notify.Noop
	referrals   []notify.ReferralEvent
	withdrawals []notify.WithdrawalEvent
	err         error
}

func (n *capturingNotifier) Referral(_ context.Context, e notify.ReferralEvent) error {
	n.referrals = append(n.referrals, e)
	return n.err
}

func (n *capturingNotifier) Withdrawal(_ context.Context, e notify.WithdrawalEvent) error {
	n.withdrawals = append(n.withdrawals, e)
	return n.err
}

func ptr(v int64) *int64 { return &v }

func TestRegister_RewardsReferrerOnce(t *testing.T) {
	ctx := context.Background()
	l := newFakeLedger()
	n := &capturingNotifier{}
	svc := NewLedgerService(l, n, Options{})

	_, err := svc.Register(ctx, 1, "alice", nil)
	require.NoError(t, err)

	reg, err := svc.Register(ctx, 2, "bob", ptr(1))
	require.NoError(t, err)
	assert.True(t, reg.Created)
	require.NotNil(t, reg.Reward)
	assert.Equal(t, int64(10), l.accounts[1].StarBalance)

	reg, err = svc.Register(ctx, 2, "bob", ptr(1))
	require.NoError(t, err)
	assert.False(t, reg.Created)
	assert.Nil(t, reg.Reward)
	assert.Equal(t, int64(10), l.accounts[1].StarBalance)

	require.Len(t, n.referrals, 1)
	assert.Equal(t, int64(2), n.referrals[0].NewUserID)
	assert.Equal(t, "star", n.referrals[0].Currency)
	assert.Equal(t, domain.KindReferralRewardInternal, l.entries[0].Kind)
	assert.Equal(t, "referral:2", l.entries[0].IdempotencyKey)
}

func TestRegister_RetryAfterFailedRewardCredit(t *testing.T) {
	ctx := context.Background()
	l := newFakeLedger()
	n := &capturingNotifier{}
	svc := NewLedgerService(l, n, Options{})

	_, err := svc.Register(ctx, 1, "alice", nil)
	require.NoError(t, err)

	l.creditErr = errors.New("connection reset")
	_, err = svc.Register(ctx, 2, "bob", ptr(1))
	require.Error(t, err)
	exists, err := l.AccountExists(ctx, 2)
	require.NoError(t, err)
	assert.False(t, exists, "a failed reward must not leave the account behind")
	assert.Zero(t, l.accounts[1].StarBalance)

	reg, err := svc.Register(ctx, 2, "bob", ptr(1))
	require.NoError(t, err)
	assert.True(t, reg.Created)
	require.NotNil(t, reg.Reward)
	assert.Equal(t, int64(10), l.accounts[1].StarBalance)
	assert.Len(t, n.referrals, 1)
}

func TestRegister_CashRewardKind(t *testing.T) {
	l := newFakeLedger()
	l.reward = domain.ReferralReward{Amount: decimal.RequireFromString("25.50"), Currency: domain.CurrencyCash}
	svc := NewLedgerService(l, nil, Options{})

	_, err := svc.Register(context.Background(), 1, "alice", nil)
	require.NoError(t, err)
	_, err = svc.Register(context.Background(), 2, "bob", ptr(1))
	require.NoError(t, err)

	require.Len(t, l.entries, 1)
	assert.Equal(t, domain.KindReferralReward, l.entries[0].Kind)
	assert.Equal(t, "2", l.entries[0].Counterparty)
	assert.True(t, l.accounts[1].CashBalance.Equal(decimal.RequireFromString("25.50")))
}

func TestRegister_IgnoresSelfAndUnknownReferrer(t *testing.T) {
	ctx := context.Background()
	l := newFakeLedger()
	svc := NewLedgerService(l, nil, Options{})

	reg, err := svc.Register(ctx, 5, "self", ptr(5))
	require.NoError(t, err)
	assert.True(t, reg.Created)
	assert.Nil(t, l.accounts[5].ReferrerID)

	reg, err = svc.Register(ctx, 6, "orphan", ptr(404))
	require.NoError(t, err)
	assert.True(t, reg.Created)
	assert.Nil(t, l.accounts[6].ReferrerID)
	assert.Empty(t, l.entries)
}

func TestRegister_NotificationFailureKeepsReward(t *testing.T) {
	l := newFakeLedger()
	n := &capturingNotifier{err: errors.New("broker down")}
	svc := NewLedgerService(l, n, Options{})

	_, err := svc.Register(context.Background(), 1, "alice", nil)
	require.NoError(t, err)
	reg, err := svc.Register(context.Background(), 2, "bob", ptr(1))
	require.NoError(t, err)
	assert.NotNil(t, reg.Reward)
	assert.Equal(t, int64(10), l.accounts[1].StarBalance)
}

func TestSettlePlatformPayment(t *testing.T) {
	ctx := context.Background()
	valid := PlatformPayment{
		PayerID:     7,
		Currency:    "XTR",
		TotalAmount: 50,
		Payload:     InvoicePayload(7, 50),
		ChargeID:    "ch-1",
	}

	t.Run("credits account and pool once", func(t *testing.T) {
		l := newFakeLedger()
		svc := NewLedgerService(l, nil, Options{})

		bal, err := svc.SettlePlatformPayment(ctx, valid)
		require.NoError(t, err)
		assert.Equal(t, int64(50), bal.Stars())
		assert.Equal(t, int64(50), l.pool)
		assert.Equal(t, "stars_payment:ch-1", l.entries[0].Counterparty)

		_, err = svc.SettlePlatformPayment(ctx, valid)
		assert.ErrorIs(t, err, domain.ErrAlreadyApplied)
		assert.Equal(t, int64(50), l.pool)
		assert.Equal(t, int64(50), l.accounts[7].StarBalance)
	})

	rejects := map[string]func(p *PlatformPayment){
		"wrong currency":  func(p *PlatformPayment) { p.Currency = "RUB" },
		"other payer":     func(p *PlatformPayment) { p.PayerID = 8 },
		"amount mismatch": func(p *PlatformPayment) { p.TotalAmount = 49 },
		"bad payload":     func(p *PlatformPayment) { p.Payload = "stars:7:50" },
		"zero stars":      func(p *PlatformPayment) { p.Payload = InvoicePayload(7, 0); p.TotalAmount = 0 },
		"missing charge":  func(p *PlatformPayment) { p.ChargeID = "" },
	}
	for name, mutate := range rejects {
		t.Run(name, func(t *testing.T) {
			l := newFakeLedger()
			p := valid
			mutate(&p)
			_, err := NewLedgerService(l, nil, Options{}).SettlePlatformPayment(ctx, p)
			assert.ErrorIs(t, err, domain.ErrMalformedRecord)
			assert.Zero(t, l.pool)
			assert.Empty(t, l.entries)
		})
	}
}

func TestGrant(t *testing.T) {
	l := newFakeLedger()
	bal, err := NewLedgerService(l, nil, Options{}).Grant(context.Background(), 3, 50, "admin:1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), bal.Stars())
	assert.Equal(t, int64(50), l.pool)
	assert.Equal(t, domain.KindGrant, l.entries[0].Kind)
}

func TestPurchaseStars(t *testing.T) {
	ctx := context.Background()
	l := newFakeLedger()
	svc := NewLedgerService(l, nil, Options{})
	_, err := l.Credit(ctx, domain.Mutation{AccountID: 1, Currency: domain.CurrencyCash, Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)

	p, err := svc.PurchaseStars(ctx, 1, 50, "@friend")
	require.NoError(t, err)
	assert.True(t, p.Cost.Equal(decimal.RequireFromString("75.00")))
	assert.True(t, p.Balance.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, "@friend", l.entries[1].Counterparty)

	_, err = svc.PurchaseStars(ctx, 1, 50, "@friend")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.True(t, l.accounts[1].CashBalance.Equal(decimal.NewFromInt(25)))

	_, err = svc.PurchaseStars(ctx, 1, 0, "@friend")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestNotifyWithdrawal(t *testing.T) {
	ctx := context.Background()
	req := WithdrawalRequest{Amount: 100, Username: "alice", UserID: 1, Comment: "card"}

	t.Run("admin not configured", func(t *testing.T) {
		n := &capturingNotifier{}
		err := NewLedgerService(newFakeLedger(), n, Options{}).NotifyWithdrawal(ctx, req)
		assert.ErrorIs(t, err, domain.ErrAdminIDMisconfigured)
		assert.Empty(t, n.withdrawals)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		bad := req
		bad.Amount = 0
		err := NewLedgerService(newFakeLedger(), nil, Options{AdminID: 99}).NotifyWithdrawal(ctx, bad)
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	})

	t.Run("sends to admin without touching balances", func(t *testing.T) {
		l := newFakeLedger()
		n := &capturingNotifier{}
		require.NoError(t, NewLedgerService(l, n, Options{AdminID: 99}).NotifyWithdrawal(ctx, req))
		require.Len(t, n.withdrawals, 1)
		assert.Equal(t, int64(99), n.withdrawals[0].AdminID)
		assert.Equal(t, int64(100), n.withdrawals[0].Stars)
		assert.Empty(t, l.entries)
	})
}
