package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/starledger/internal/domain"
	"github.com/punchamoorthee/starledger/internal/gateway"
	"github.com/punchamoorthee/starledger/internal/models"
	"github.com/punchamoorthee/starledger/internal/rates"
	"github.com/punchamoorthee/starledger/internal/reconcile"
	"github.com/punchamoorthee/starledger/internal/service"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Store is the part of the ledger store the operator API reads and mutates
// directly.
type Store interface {
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	GetEntries(ctx context.Context, accountID int64, limit int) ([]domain.TransactionRecord, error)
	GetBalance(ctx context.Context, accountID int64, currency domain.Currency) (domain.Balance, error)
	Credit(ctx context.Context, m domain.Mutation) (domain.Balance, error)
	Debit(ctx context.Context, m domain.Mutation) (domain.Balance, error)
	PoolBalance(ctx context.Context) (int64, error)
	PoolCredit(ctx context.Context, amount int64, reference string) (int64, error)
	PoolDebit(ctx context.Context, amount int64, reference string) (int64, error)
	StarPrice(ctx context.Context, fallback decimal.Decimal) (decimal.Decimal, error)
	SetStarPrice(ctx context.Context, price decimal.Decimal) error
	ReferralReward(ctx context.Context, fallback decimal.Decimal) (domain.ReferralReward, error)
	SetReferralReward(ctx context.Context, r domain.ReferralReward) error
}

// Accounts runs the multi-step account flows.
type Accounts interface {
	Register(ctx context.Context, id int64, username string, referrerID *int64) (service.Registration, error)
	SettlePlatformPayment(ctx context.Context, p service.PlatformPayment) (domain.Balance, error)
	Grant(ctx context.Context, accountID, stars int64, reference string) (domain.Balance, error)
	PurchaseStars(ctx context.Context, accountID, stars int64, target string) (service.Purchase, error)
	NotifyWithdrawal(ctx context.Context, r service.WithdrawalRequest) error
}

type Payments interface {
	Initiate(ctx context.Context, accountID int64, amount decimal.Decimal) (*gateway.Payment, error)
	Check(ctx context.Context, accountID int64) (reconcile.PaymentResult, error)
}

type RateSnapshots interface {
	Snapshot(ctx context.Context) (domain.RateSnapshot, bool, error)
}

type Converter interface {
	Convert(ctx context.Context, dir rates.Direction, amount decimal.Decimal) (rates.Conversion, error)
}

// Options carries the handler's static settings.
type Options struct {
	APIKey         string
	StarPrice      decimal.Decimal
	ReferralReward decimal.Decimal
}

type Handler struct {
	store     Store
	accounts  Accounts
	payments  Payments
	rates     RateSnapshots
	converter Converter
	opts      Options
}

func NewHandler(s Store, accounts Accounts, payments Payments, snaps RateSnapshots, conv Converter, opts Options) *Handler {
	return &Handler{
		store:     s,
		accounts:  accounts,
		payments:  payments,
		rates:     snaps,
		converter: conv,
		opts:      opts,
	}
}

// Router builds the operator HTTP surface. Everything under /api/v1 requires
// the API key; /health and /metrics do not.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(requireAPIKey(h.opts.APIKey))

	v1.HandleFunc("/pool", h.GetPoolHandler).Methods(http.MethodGet)
	v1.HandleFunc("/pool/{op:credit|debit}", h.AdjustPoolHandler).Methods(http.MethodPost)

	v1.HandleFunc("/accounts", h.RegisterHandler).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{id:[0-9]+}", h.GetAccountHandler).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id:[0-9]+}/entries", h.GetAccountEntriesHandler).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id:[0-9]+}/stars", h.GetStarBalanceHandler).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id:[0-9]+}/stars/{op:credit|debit}", h.MutateStarsHandler).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{id:[0-9]+}/cash/{op:credit|debit}", h.MutateCashHandler).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{id:[0-9]+}/grant", h.GrantHandler).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{id:[0-9]+}/purchases", h.PurchaseHandler).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{id:[0-9]+}/payments", h.InitiatePaymentHandler).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{id:[0-9]+}/payments/check", h.CheckPaymentHandler).Methods(http.MethodPost)

	v1.HandleFunc("/payments/platform", h.PlatformPaymentHandler).Methods(http.MethodPost)
	v1.HandleFunc("/withdrawals/notify", h.NotifyWithdrawalHandler).Methods(http.MethodPost)

	v1.HandleFunc("/rates", h.GetRateHandler).Methods(http.MethodGet)
	v1.HandleFunc("/convert", h.ConvertHandler).Methods(http.MethodGet)

	v1.HandleFunc("/settings/star-price", h.GetStarPriceHandler).Methods(http.MethodGet)
	v1.HandleFunc("/settings/star-price", h.SetStarPriceHandler).Methods(http.MethodPut)
	v1.HandleFunc("/settings/referral-reward", h.GetReferralRewardHandler).Methods(http.MethodGet)
	v1.HandleFunc("/settings/referral-reward", h.SetReferralRewardHandler).Methods(http.MethodPut)

	return r
}

func accountID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// respondWithLedgerError maps ledger sentinels onto the status codes and
// error codes bot clients switch on.
func respondWithLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		respondWithError(w, http.StatusBadRequest, "amount_must_be_positive")
	case errors.Is(err, domain.ErrInsufficientBalance), errors.Is(err, domain.ErrInsufficientPool):
		respondWithError(w, http.StatusBadRequest, "insufficient_balance")
	case errors.Is(err, domain.ErrAccountNotFound):
		respondWithError(w, http.StatusNotFound, "account_not_found")
	case errors.Is(err, domain.ErrPaymentNotFound):
		respondWithError(w, http.StatusNotFound, "payment_not_found")
	case errors.Is(err, domain.ErrAlreadyApplied):
		respondWithError(w, http.StatusConflict, "already_applied")
	case errors.Is(err, domain.ErrMalformedRecord):
		respondWithError(w, http.StatusUnprocessableEntity, "malformed_request")
	case errors.Is(err, domain.ErrAdminIDMisconfigured):
		respondWithError(w, http.StatusInternalServerError, "admin_id_not_configured")
	case errors.Is(err, domain.ErrRateUnavailable):
		respondWithError(w, http.StatusServiceUnavailable, "rate_unavailable")
	case errors.Is(err, domain.ErrExternalUnavailable):
		respondWithError(w, http.StatusBadGateway, "upstream_unavailable")
	default:
		log.WithError(err).Error("Request failed")
		respondWithError(w, http.StatusInternalServerError, "internal_error")
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, models.ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.WithError(err).Warn("Failed to encode response")
		}
	}
}
