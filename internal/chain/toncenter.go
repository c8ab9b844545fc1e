package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/punchamoorthee/starledger/internal/domain"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Transfer is one transaction on the deposit address, reduced to the fields
// the reconciler reads.
type Transfer struct {
	LT    int64
	Hash  string
	Utime int64
	// Value is the inbound amount in nanocoins; zero when there is no inbound message.
	Value int64
	Memo  string
	From  string
}

// HasInbound reports whether the transfer carries value into the address.
func (t Transfer) HasInbound() bool {
	return t.Value > 0
}

// Client reads the deposit address feed from a TON Center v2 compatible API.
type Client struct {
	baseURL string
	address string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

type Options struct {
	BaseURL           string
	Address           string
	APIKey            string
	RequestsPerSecond float64
	Timeout           time.Duration
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		address: opts.Address,
		apiKey:  opts.APIKey,
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Transactions returns the newest limit transactions of the deposit address,
// newest first, as the API delivers them. It asks an archival node first and
// falls back to a regular one; when both fail the error wraps
// domain.ErrExternalUnavailable.
func (c *Client) Transactions(ctx context.Context, limit int) ([]Transfer, error) {
	txs, err := c.fetch(ctx, limit, true)
	if err == nil {
		return txs, nil
	}
	log.WithError(err).Warn("Archival transaction fetch failed, retrying without archival")

	txs, fallbackErr := c.fetch(ctx, limit, false)
	if fallbackErr != nil {
		return nil, fmt.Errorf("%w: archival: %v; non-archival: %v", domain.ErrExternalUnavailable, err, fallbackErr)
	}
	return txs, nil
}

type apiResponse struct {
	OK     bool             `json:"ok"`
	Result []apiTransaction `json:"result"`
	Error  string           `json:"error"`
}

type apiTransaction struct {
	TransactionID struct {
		LT   string `json:"lt"`
		Hash string `json:"hash"`
	} `json:"transaction_id"`
	Utime int64       `json:"utime"`
	InMsg *apiMessage `json:"in_msg"`
}

type apiMessage struct {
	Source  string `json:"source"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

func (c *Client) fetch(ctx context.Context, limit int, archival bool) ([]Transfer, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("address", c.address)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("archival", strconv.FormatBool(archival))
	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v2/getTransactions?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return nil, fmt.Errorf("status=%d body=%q", resp.StatusCode, snippet)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !body.OK {
		return nil, fmt.Errorf("api error: %s", body.Error)
	}

	// One bad item must not stall the whole feed.
	out := make([]Transfer, 0, len(body.Result))
	for _, tx := range body.Result {
		t, err := tx.toTransfer()
		if err != nil {
			log.WithError(err).WithField("hash", tx.TransactionID.Hash).Error("Skipping malformed transaction")
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// toTransfer fails only when the item has no usable lt. An unreadable value
// yields a transfer without inbound value.
func (tx apiTransaction) toTransfer() (Transfer, error) {
	lt, err := strconv.ParseInt(tx.TransactionID.LT, 10, 64)
	if err != nil {
		return Transfer{}, fmt.Errorf("%w: lt %q", domain.ErrMalformedRecord, tx.TransactionID.LT)
	}
	t := Transfer{LT: lt, Hash: tx.TransactionID.Hash, Utime: tx.Utime}
	if tx.InMsg == nil {
		return t, nil
	}
	t.From = tx.InMsg.Source
	t.Memo = tx.InMsg.Message
	if tx.InMsg.Value != "" {
		v, err := strconv.ParseInt(tx.InMsg.Value, 10, 64)
		if err != nil || v < 0 {
			log.WithFields(log.Fields{"lt": lt, "hash": t.Hash, "value": tx.InMsg.Value}).Error("Unreadable transfer value, treating as zero")
			return t, nil
		}
		t.Value = v
	}
	return t, nil
}
