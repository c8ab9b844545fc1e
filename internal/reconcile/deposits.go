package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/punchamoorthee/starledger/internal/chain"
	"github.com/punchamoorthee/starledger/internal/domain"
	"github.com/punchamoorthee/starledger/internal/notify"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// DepositLedger is the storage the deposit reconciler needs.
type DepositLedger interface {
	GetWatermark(ctx context.Context) (int64, error)
	AdvanceWatermark(ctx context.Context, lt int64) (bool, error)
	AccountExists(ctx context.Context, id int64) (bool, error)
	Credit(ctx context.Context, m domain.Mutation) (domain.Balance, error)
}

// TransferFeed lists deposit address transactions, newest first.
type TransferFeed interface {
	Transactions(ctx context.Context, limit int) ([]chain.Transfer, error)
}

type RateProvider interface {
	Rate(ctx context.Context) (decimal.Decimal, error)
}

// CycleResult summarises one reconciliation pass.
type CycleResult struct {
	Fetched    int
	Credited   int
	Duplicates int
	Skipped    int
	Watermark  int64
}

// DepositReconciler credits chain deposits whose memo names an account.
// Each transfer is credited under its own idempotency key, so a crash between
// crediting and advancing the watermark cannot double-credit on restart.
type DepositReconciler struct {
	ledger    DepositLedger
	feed      TransferFeed
	rates     RateProvider
	notifier  notify.Notifier
	pageSize  int
	minCredit decimal.Decimal
	now       func() time.Time
}

func NewDepositReconciler(ledger DepositLedger, feed TransferFeed, rates RateProvider, n notify.Notifier, pageSize int, minCredit decimal.Decimal) *DepositReconciler {
	if n == nil {
		n = notify.Noop{}
	}
	return &DepositReconciler{
		ledger:    ledger,
		feed:      feed,
		rates:     rates,
		notifier:  n,
		pageSize:  pageSize,
		minCredit: minCredit,
		now:       time.Now,
	}
}

// Run adapts RunCycle to a supervised task.
func (r *DepositReconciler) Run(ctx context.Context) error {
	_, err := r.RunCycle(ctx)
	return err
}

// RunCycle fetches one page of transfers and credits the new ones, oldest
// first. A failed credit ends the cycle before the watermark moves.
func (r *DepositReconciler) RunCycle(ctx context.Context) (CycleResult, error) {
	var res CycleResult

	watermark, err := r.ledger.GetWatermark(ctx)
	if err != nil {
		return res, fmt.Errorf("read watermark: %w", err)
	}
	res.Watermark = watermark

	rate, err := r.rates.Rate(ctx)
	if err != nil {
		return res, fmt.Errorf("deposit cycle skipped: %w", err)
	}

	transfers, err := r.feed.Transactions(ctx, r.pageSize)
	if err != nil {
		return res, fmt.Errorf("fetch transfers: %w", err)
	}
	res.Fetched = len(transfers)

	maxLT := watermark
	for i := len(transfers) - 1; i >= 0; i-- {
		t := transfers[i]
		if t.LT > maxLT {
			maxLT = t.LT
		}
		if t.LT <= watermark {
			continue
		}

		outcome, err := r.apply(ctx, t, rate)
		if err != nil {
			return res, fmt.Errorf("credit transfer lt=%d: %w", t.LT, err)
		}
		switch outcome {
		case outcomeCredited:
			res.Credited++
		case outcomeDuplicate:
			res.Duplicates++
		default:
			res.Skipped++
		}
	}

	if maxLT > watermark {
		if _, err := r.ledger.AdvanceWatermark(ctx, maxLT); err != nil {
			return res, err
		}
		res.Watermark = maxLT
		depositWatermark.Set(float64(maxLT))
	}

	if res.Credited > 0 || res.Skipped > 0 {
		log.WithFields(log.Fields{
			"fetched":   res.Fetched,
			"credited":  res.Credited,
			"skipped":   res.Skipped,
			"watermark": res.Watermark,
		}).Info("Deposit cycle complete")
	}
	return res, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeDuplicate
	outcomeCredited
)

func (r *DepositReconciler) apply(ctx context.Context, t chain.Transfer, rate decimal.Decimal) (outcome, error) {
	if !t.HasInbound() {
		return skip("no_inbound"), nil
	}

	accountID, err := parseMemo(t.Memo)
	if err != nil {
		log.WithFields(log.Fields{"lt": t.LT, "memo": t.Memo}).Warn("Skipping transfer with malformed memo")
		return skip("malformed_memo"), nil
	}

	amount := domain.NativeToCash(t.Value, rate)
	if amount.LessThan(r.minCredit) {
		return skip("below_minimum"), nil
	}

	exists, err := r.ledger.AccountExists(ctx, accountID)
	if err != nil {
		return outcomeSkipped, err
	}
	if !exists {
		log.WithFields(log.Fields{"lt": t.LT, "account_id": accountID}).Warn("Skipping transfer for unknown account")
		return skip("unknown_account"), nil
	}

	native := domain.NativeUnits(t.Value)
	key := fmt.Sprintf("ton:%d:%s", t.LT, t.Hash)
	_, err = r.ledger.Credit(ctx, domain.Mutation{
		AccountID:      accountID,
		Currency:       domain.CurrencyCash,
		Amount:         amount,
		Kind:           domain.KindDepositCrypto,
		Counterparty:   native.StringFixed(4) + " TON",
		IdempotencyKey: key,
	})
	if errors.Is(err, domain.ErrAlreadyApplied) {
		depositsSkipped.WithLabelValues("duplicate").Inc()
		return outcomeDuplicate, nil
	}
	if err != nil {
		return outcomeSkipped, err
	}

	depositsCredited.Inc()
	log.WithFields(log.Fields{
		"account_id": accountID,
		"native":     native.String(),
		"amount":     amount.StringFixed(domain.CashPlaces),
		"lt":         t.LT,
	}).Info("Crypto deposit credited")

	if err := r.notifier.Deposit(ctx, notify.DepositEvent{
		AccountID:    accountID,
		Channel:      "ton",
		Amount:       amount,
		NativeAmount: native.String(),
		Reference:    key,
		OccurredAt:   r.now(),
	}); err != nil {
		log.WithError(err).WithField("account_id", accountID).Warn("Deposit notification failed")
	}
	return outcomeCredited, nil
}

func skip(reason string) outcome {
	depositsSkipped.WithLabelValues(reason).Inc()
	return outcomeSkipped
}

// parseMemo reads an account id from a transfer comment. Only a plain
// decimal number, optionally surrounded by whitespace, is accepted.
func parseMemo(memo string) (int64, error) {
	memo = strings.TrimSpace(memo)
	if memo == "" {
		return 0, domain.ErrMalformedRecord
	}
	for _, ch := range memo {
		if ch < '0' || ch > '9' {
			return 0, domain.ErrMalformedRecord
		}
	}
	id, err := strconv.ParseInt(memo, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrMalformedRecord
	}
	return id, nil
}
