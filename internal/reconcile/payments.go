package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/starledger/internal/domain"
	"github.com/punchamoorthee/starledger/internal/gateway"
	"github.com/punchamoorthee/starledger/internal/notify"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// PaymentLedger is the storage the payment checker needs.
type PaymentLedger interface {
	InsertPendingPayment(ctx context.Context, p domain.PendingPayment) error
	LatestPendingPayment(ctx context.Context, accountID int64) (*domain.PendingPayment, error)
	ListPendingPayments(ctx context.Context, limit int) ([]domain.PendingPayment, error)
	SettlePayment(ctx context.Context, gatewayID string) (domain.Balance, bool, error)
	MarkPaymentStatus(ctx context.Context, gatewayID string, status domain.PaymentStatus) (bool, error)
}

// Gateway is the remote payment provider.
type Gateway interface {
	Create(ctx context.Context, r gateway.CreateRequest) (*gateway.Payment, error)
	Status(ctx context.Context, id string) (*gateway.Payment, error)
}

// PaymentResult reports the outcome of one status check.
type PaymentResult struct {
	PaymentID string               `json:"payment_id"`
	Status    domain.PaymentStatus `json:"status"`
	Amount    decimal.Decimal      `json:"amount"`
	Credited  bool                 `json:"credited"`
	Balance   *decimal.Decimal     `json:"balance,omitempty"`
}

// PaymentChecker settles gateway payments. Only an observed transition from
// pending to succeeded credits, and it does so exactly once.
type PaymentChecker struct {
	ledger    PaymentLedger
	gateway   Gateway
	notifier  notify.Notifier
	returnURL string
	batch     int
	now       func() time.Time

	retryDelay time.Duration
}

const (
	recordAttempts = 3
	recordTimeout  = 10 * time.Second
)

func NewPaymentChecker(ledger PaymentLedger, gw Gateway, n notify.Notifier, returnURL string) *PaymentChecker {
	if n == nil {
		n = notify.Noop{}
	}
	return &PaymentChecker{
		ledger:    ledger,
		gateway:   gw,
		notifier:  n,
		returnURL: returnURL,
		batch:     100,
		now:       time.Now,

		retryDelay: 200 * time.Millisecond,
	}
}

// Initiate opens a gateway payment and records it as pending.
func (c *PaymentChecker) Initiate(ctx context.Context, accountID int64, amount decimal.Decimal) (*gateway.Payment, error) {
	if err := domain.ValidateMutation(domain.Mutation{AccountID: accountID, Currency: domain.CurrencyCash, Amount: amount}); err != nil {
		return nil, err
	}
	p, err := c.gateway.Create(ctx, gateway.CreateRequest{
		AccountID:   accountID,
		Amount:      amount,
		Description: fmt.Sprintf("Balance top-up for %d", accountID),
		ReturnURL:   c.returnURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	if err := c.record(ctx, domain.PendingPayment{
		GatewayID: p.ID,
		AccountID: accountID,
		Amount:    amount,
		Status:    domain.PaymentPending,
	}); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"account_id": accountID,
			"payment_id": p.ID,
			"amount":     amount.String(),
		}).Error("Gateway payment created but not recorded")
		return nil, fmt.Errorf("record payment %s: %w", p.ID, err)
	}

	log.WithFields(log.Fields{"account_id": accountID, "payment_id": p.ID, "amount": amount.String()}).Info("Payment initiated")
	return p, nil
}

// record stores a payment the gateway has already opened. The caller's
// cancellation no longer applies at this point, and transient failures are
// retried a few times before the payment is given up as unrecorded.
func (c *PaymentChecker) record(ctx context.Context, p domain.PendingPayment) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	var err error
	for attempt := 0; attempt < recordAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}
		if err = c.ledger.InsertPendingPayment(ctx, p); err == nil {
			return nil
		}
		log.WithError(err).WithFields(log.Fields{"payment_id": p.GatewayID, "attempt": attempt + 1}).Warn("Recording payment failed")
	}
	return err
}

func statusLabel(s domain.PaymentStatus) string {
	switch s {
	case domain.PaymentPending, domain.PaymentWaitingForCapture, domain.PaymentSucceeded, domain.PaymentCanceled:
		return string(s)
	}
	return "unknown"
}

// Check settles the account's most recent pending payment.
func (c *PaymentChecker) Check(ctx context.Context, accountID int64) (PaymentResult, error) {
	p, err := c.ledger.LatestPendingPayment(ctx, accountID)
	if err != nil {
		return PaymentResult{}, err
	}
	return c.check(ctx, *p)
}

// Sweep checks every pending payment.
func (c *PaymentChecker) Sweep(ctx context.Context) error {
	pending, err := c.ledger.ListPendingPayments(ctx, c.batch)
	if err != nil {
		return fmt.Errorf("list pending payments: %w", err)
	}

	var errs []error
	for _, p := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := c.check(ctx, p); err != nil {
			log.WithError(err).WithField("payment_id", p.GatewayID).Warn("Payment check failed")
			errs = append(errs, fmt.Errorf("payment %s: %w", p.GatewayID, err))
		}
	}
	return errors.Join(errs...)
}

func (c *PaymentChecker) check(ctx context.Context, p domain.PendingPayment) (PaymentResult, error) {
	res := PaymentResult{PaymentID: p.GatewayID, Status: p.Status, Amount: p.Amount}

	remote, err := c.gateway.Status(ctx, p.GatewayID)
	if err != nil {
		return res, fmt.Errorf("check payment %s: %w", p.GatewayID, err)
	}
	res.Status = remote.Status
	paymentChecks.WithLabelValues(statusLabel(remote.Status)).Inc()

	switch remote.Status {
	case domain.PaymentSucceeded:
		bal, applied, err := c.ledger.SettlePayment(ctx, p.GatewayID)
		if err != nil {
			return res, err
		}
		if !applied {
			return res, nil
		}
		res.Credited = true
		res.Balance = &bal.Value
		paymentsSettled.Inc()
		log.WithFields(log.Fields{
			"account_id": p.AccountID,
			"payment_id": p.GatewayID,
			"amount":     p.Amount.String(),
		}).Info("Gateway payment credited")

		if err := c.notifier.Deposit(ctx, notify.DepositEvent{
			AccountID:  p.AccountID,
			Channel:    "yookassa",
			Amount:     p.Amount,
			Reference:  "payment:" + p.GatewayID,
			OccurredAt: c.now(),
		}); err != nil {
			log.WithError(err).WithField("payment_id", p.GatewayID).Warn("Deposit notification failed")
		}
		return res, nil

	case domain.PaymentPending, domain.PaymentWaitingForCapture:
		return res, nil

	case domain.PaymentCanceled:
		if _, err := c.ledger.MarkPaymentStatus(ctx, p.GatewayID, remote.Status); err != nil {
			return res, err
		}
		log.WithFields(log.Fields{"payment_id": p.GatewayID, "status": remote.Status}).Info("Gateway payment closed without success")
		return res, nil

	default:
		// Left pending so a later check can still credit it.
		return res, fmt.Errorf("%w: payment %s has unknown status %q", domain.ErrMalformedRecord, p.GatewayID, remote.Status)
	}
}
