package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/starledger/internal/domain"
	"github.com/punchamoorthee/starledger/internal/models"
	"github.com/punchamoorthee/starledger/internal/rates"
	"github.com/punchamoorthee/starledger/internal/service"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	defaultEntriesLimit = 50
	maxEntriesLimit     = 500
)

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, models.StatusResponse{Status: "ok"})
}

func (h *Handler) GetPoolHandler(w http.ResponseWriter, r *http.Request) {
	balance, err := h.store.PoolBalance(r.Context())
	if err != nil {
		respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.PoolResponse{Balance: balance})
}

func (h *Handler) AdjustPoolHandler(w http.ResponseWriter, r *http.Request) {
	var req models.StarAmountRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Amount <= 0 {
		respondWithError(w, http.StatusBadRequest, "amount_must_be_positive")
		return
	}

	adjust := h.store.PoolCredit
	if mux.Vars(r)["op"] == "debit" {
		adjust = h.store.PoolDebit
	}
	balance, err := adjust(r.Context(), req.Amount, reference(req.Reference))
	if err != nil {
		respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.PoolResponse{Balance: balance})
}

func (h *Handler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := decodeBody(r, &req); err != nil || req.ID <= 0 {
		respondWithError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	reg, err := h.accounts.Register(r.Context(), req.ID, req.Username, req.ReferrerID)
	if err != nil {
		respondWithLedgerError(w, err)
		return
	}
	code := http.StatusOK
	if reg.Created {
		code = http.StatusCreated
	}
	respondWithJSON(w, code, reg)
}

func (h *Handler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}
	account, err := h.store.GetAccount(r.Context(), id)
	if err != nil {
		respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, account)
}

func (h *Handler) GetAccountEntriesHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}
	limit := defaultEntriesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = min(n, maxEntriesLimit)
	}

	entries, err := h.store.GetEntries(r.Context(), id, limit)
	if err != nil {
		respondWithLedgerError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.TransactionRecord{}
	}
	respondWithJSON(w, http.StatusOK, entries)
}

func (h *Handler) GetStarBalanceHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}
	bal, err := h.store.GetBalance(r.Context(), id, domain.CurrencyStar)
	if err != nil {
		respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.StarBalanceResponse{UserID: id, Balance: bal.Stars()})
}

func (h *Handler) MutateStarsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}
	var req models.StarAmountRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Amount <= 0 {
		respondWithError(w, http.StatusBadRequest, "amount_must_be_positive")
		return
	}

	bal, err := h.mutate(r, id, domain.CurrencyStar, decimal.NewFromInt(req.Amount), req.Reference)
	if err != nil {
		respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.StarBalanceResponse{UserID: id, Balance: bal.Stars()})
}

func (h *Handler) MutateCashHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}
	var req models.CashAmountRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if !req.Amount.IsPositive() {
		respondWithError(w, http.StatusBadRequest, "amount_must_be_positive")
		return
	}

	bal, err := h.mutate(r, id, domain.CurrencyCash, req.Amount, req.Reference)
	if err != nil {
		respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.CashBalanceResponse{UserID: id, Balance: bal.Value})
}

// mutate applies an operator credit or debit. With an Idempotency-Key header
// a retried request is not applied twice; the replay answers with the
// current balance. The key is scoped to the account, currency and op.
func (h *Handler) mutate(r *http.Request, id int64, currency domain.Currency, amount decimal.Decimal, ref string) (domain.Balance, error) {
	m := domain.Mutation{
		AccountID:    id,
		Currency:     currency,
		Amount:       amount,
		Kind:         domain.KindAdminCredit,
		Counterparty: reference(ref),
	}
	op := mux.Vars(r)["op"]
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		// Scoped so the same key on another account, currency or op is a new request.
		m.IdempotencyKey = fmt.Sprintf("api:%d:%s:%s:%s", id, currency, op, key)
	}

	apply := h.store.Credit
	if op == "debit" {
		m.Kind = domain.KindAdminDebit
		apply = h.store.Debit
	}
	bal, err := apply(r.Context(), m)
	if errors.Is(err, domain.ErrAlreadyApplied) {
		log.WithFields(log.Fields{"account_id": id, "key": m.IdempotencyKey}).Info("Replaying idempotent mutation")
		return h.store.GetBalance(r.Context(), id, currency)
	}
	return bal, err
}

func (h *Handler) GrantHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}
	var req models.StarAmountRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Amount <= 0 {
		respondWithError(w, http.StatusBadRequest, "amount_must_be_positive")
		return
	}

	bal, err := h.accounts.Grant(r.Context(), id, req.Amount, reference(req.Reference))
	if err != nil {
		respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.StarBalanceResponse{UserID: id, Balance: bal.Stars()})
}

func (h *Handler) PurchaseHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}
	var req models.PurchaseRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	p, err := h.accounts.PurchaseStars(r.Context(), id, req.Stars, req.Target)
	if err != nil {
		respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

func (h *Handler) InitiatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}
	var req models.CashAmountRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	p, err := h.payments.Initiate(r.Context(), id, req.Amount)
	if err != nil {
		respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, p)
}

func (h *Handler) CheckPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_account_id")
		return
	}
	res, err := h.payments.Check(r.Context(), id)
	if err != nil {
		respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) PlatformPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req service.PlatformPayment
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	bal, err := h.accounts.SettlePlatformPayment(r.Context(), req)
	if err != nil {
		respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.StarBalanceResponse{UserID: bal.AccountID, Balance: bal.Stars()})
}

func (h *Handler) NotifyWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	var req service.WithdrawalRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := h.accounts.NotifyWithdrawal(r.Context(), req); err != nil {
		respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.StatusResponse{Status: "ok"})
}

func (h *Handler) GetRateHandler(w http.ResponseWriter, r *http.Request) {
	snap, ok, err := h.rates.Snapshot(r.Context())
	if err != nil {
		respondWithLedgerError(w, err)
		return
	}
	if !ok {
		respondWithLedgerError(w, domain.ErrRateUnavailable)
		return
	}
	respondWithJSON(w, http.StatusOK, snap)
}

func (h *Handler) ConvertHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dir := rates.Direction(q.Get("direction"))
	if !dir.Valid() {
		respondWithError(w, http.StatusBadRequest, "unknown_direction")
		return
	}
	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_amount")
		return
	}

	conv, err := h.converter.Convert(r.Context(), dir, amount)
	if err != nil {
		respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, conv)
}

func (h *Handler) GetStarPriceHandler(w http.ResponseWriter, r *http.Request) {
	price, err := h.store.StarPrice(r.Context(), h.opts.StarPrice)
	if err != nil {
		respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.StarPriceResponse{Price: price})
}

func (h *Handler) SetStarPriceHandler(w http.ResponseWriter, r *http.Request) {
	var req models.StarPriceRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if !req.Price.IsPositive() {
		respondWithError(w, http.StatusBadRequest, "amount_must_be_positive")
		return
	}
	if err := h.store.SetStarPrice(r.Context(), req.Price); err != nil {
		respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.StarPriceResponse{Price: req.Price})
}

func (h *Handler) GetReferralRewardHandler(w http.ResponseWriter, r *http.Request) {
	reward, err := h.store.ReferralReward(r.Context(), h.opts.ReferralReward)
	if err != nil {
		respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, reward)
}

func (h *Handler) SetReferralRewardHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.ReferralReward
	if err := decodeBody(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if !req.Currency.Valid() {
		respondWithError(w, http.StatusBadRequest, "unknown_currency")
		return
	}
	if !req.Amount.IsPositive() {
		respondWithError(w, http.StatusBadRequest, "amount_must_be_positive")
		return
	}
	if err := h.store.SetReferralReward(r.Context(), req); err != nil {
		respondWithLedgerError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, req)
}

func reference(ref string) string {
	if ref == "" {
		return "api"
	}
	return ref
}
