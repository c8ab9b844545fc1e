package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/starledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Payment is the gateway's view of a payment.
type Payment struct {
	ID              string
	Status          domain.PaymentStatus
	Amount          decimal.Decimal
	ConfirmationURL string
}

// CreateRequest describes a new card payment to open on the gateway.
type CreateRequest struct {
	AccountID   int64
	Amount      decimal.Decimal
	Description string
	ReturnURL   string
}

// YooKassa is a client for the YooKassa v3 payments API.
type YooKassa struct {
	baseURL   string
	shopID    string
	secretKey string
	http      *http.Client
	newKey    func() string
}

func NewYooKassa(baseURL, shopID, secretKey string) *YooKassa {
	return &YooKassa{
		baseURL:   strings.TrimRight(baseURL, "/"),
		shopID:    shopID,
		secretKey: secretKey,
		http:      &http.Client{Timeout: 10 * time.Second},
		newKey:    func() string { return uuid.NewString() },
	}
}

type amountJSON struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type paymentJSON struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	Amount       amountJSON `json:"amount"`
	Confirmation struct {
		URL string `json:"confirmation_url"`
	} `json:"confirmation"`
}

// Create opens a redirect payment that captures automatically. Each call
// carries a fresh Idempotence-Key.
func (c *YooKassa) Create(ctx context.Context, r CreateRequest) (*Payment, error) {
	if !r.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	payload := map[string]any{
		"amount":       amountJSON{Value: r.Amount.StringFixed(domain.CashPlaces), Currency: "RUB"},
		"capture":      true,
		"confirmation": map[string]string{"type": "redirect", "return_url": r.ReturnURL},
		"description":  r.Description,
		"metadata":     map[string]string{"user_id": strconv.FormatInt(r.AccountID, 10)},
	}
	return c.do(ctx, http.MethodPost, "/v3/payments", payload)
}

// Status fetches the current state of a payment.
func (c *YooKassa) Status(ctx context.Context, id string) (*Payment, error) {
	return c.do(ctx, http.MethodGet, "/v3/payments/"+url.PathEscape(id), nil)
}

func (c *YooKassa) do(ctx context.Context, method, path string, payload any) (*Payment, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.shopID, c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	if method == http.MethodPost {
		req.Header.Set("Idempotence-Key", c.newKey())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: yookassa %s: %v", domain.ErrExternalUnavailable, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("yookassa %s: %w", path, domain.ErrPaymentNotFound)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: yookassa %s failed: status=%d", domain.ErrExternalUnavailable, path, resp.StatusCode)
	}

	var p paymentJSON
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: decode payment: %v", domain.ErrMalformedRecord, err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%w: payment without id", domain.ErrMalformedRecord)
	}
	if p.Status == "" {
		return nil, fmt.Errorf("%w: payment %s without status", domain.ErrMalformedRecord, p.ID)
	}

	out := &Payment{
		ID:              p.ID,
		Status:          domain.PaymentStatus(p.Status),
		ConfirmationURL: p.Confirmation.URL,
	}
	if p.Amount.Value != "" {
		if out.Amount, err = decimal.NewFromString(p.Amount.Value); err != nil {
			return nil, fmt.Errorf("%w: amount %q", domain.ErrMalformedRecord, p.Amount.Value)
		}
	}
	return out, nil
}
