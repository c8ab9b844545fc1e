package models

import (
	"github.com/shopspring/decimal"
)

// StarAmountRequest is the body of star and pool mutations.
type StarAmountRequest struct {
	Amount    int64  `json:"amount"`
	Reference string `json:"reference,omitempty"`
}

// CashAmountRequest is the body of cash mutations and payment initiation.
type CashAmountRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

// RegisterRequest creates an account, optionally crediting a referrer.
type RegisterRequest struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	ReferrerID *int64 `json:"referrer_id,omitempty"`
}

// PurchaseRequest buys stars for a target with the account's cash.
type PurchaseRequest struct {
	Stars  int64  `json:"stars"`
	Target string `json:"target"`
}

type StarPriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

// StarBalanceResponse mirrors the shape bot clients already parse.
type StarBalanceResponse struct {
	UserID  int64 `json:"user_id"`
	Balance int64 `json:"balance"`
}

type CashBalanceResponse struct {
	UserID  int64           `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

type PoolResponse struct {
	Balance int64 `json:"balance"`
}

type StarPriceResponse struct {
	Price decimal.Decimal `json:"price"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
