package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/punchamoorthee/starledger/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	coinID      = "the-open-network"
	vsCurrency  = "rub"
	pricePath   = "/api/v3/simple/price"
	httpTimeout = 10 * time.Second
)

// CoinGecko fetches the native coin price from the public simple-price API.
type CoinGecko struct {
	baseURL string
	http    *http.Client
}

func NewCoinGecko(baseURL string) *CoinGecko {
	return &CoinGecko{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: httpTimeout},
	}
}

// FetchRate returns the price of one native unit in cash units.
func (c *CoinGecko) FetchRate(ctx context.Context) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("ids", coinID)
	q.Set("vs_currencies", vsCurrency)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pricePath+"?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: rate request: %v", domain.ErrExternalUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: rate request status=%d", domain.ErrExternalUnavailable, resp.StatusCode)
	}

	var body map[string]map[string]json.Number
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("%w: decode rate: %v", domain.ErrMalformedRecord, err)
	}

	raw, ok := body[coinID][vsCurrency]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: rate missing from response", domain.ErrMalformedRecord)
	}
	rate, err := decimal.NewFromString(raw.String())
	if err != nil || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: bad rate %q", domain.ErrMalformedRecord, raw)
	}
	return rate, nil
}
