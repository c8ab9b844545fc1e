package chain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/punchamoorthee/starledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `{"ok":true,"result":[
 {"transaction_id":{"lt":"7","hash":"h7"},"utime":1700000007,"in_msg":{"source":"EQsrc","value":"0","message":""}},
 {"transaction_id":{"lt":"5","hash":"h5"},"utime":1700000005,"in_msg":{"source":"EQsrc","value":"2000000000","message":"42"}},
 {"transaction_id":{"lt":"3","hash":"h3"},"utime":1700000003}
]}`

func TestClient_Transactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/getTransactions", r.URL.Path)
		assert.Equal(t, "EQdeposit", r.URL.Query().Get("address"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		assert.Equal(t, "true", r.URL.Query().Get("archival"))
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		w.Write([]byte(page))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Address: "EQdeposit", APIKey: "secret"})
	txs, err := c.Transactions(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, txs, 3)

	assert.Equal(t, int64(7), txs[0].LT)
	assert.False(t, txs[0].HasInbound())

	assert.Equal(t, int64(5), txs[1].LT)
	assert.Equal(t, "h5", txs[1].Hash)
	assert.Equal(t, int64(2_000_000_000), txs[1].Value)
	assert.Equal(t, "42", txs[1].Memo)
	assert.True(t, txs[1].HasInbound())

	assert.False(t, txs[2].HasInbound())
}

func TestClient_FallsBackToNonArchival(t *testing.T) {
	var archivalCalls, plainCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("archival") == "true" {
			archivalCalls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		plainCalls.Add(1)
		w.Write([]byte(page))
	}))
	defer srv.Close()

	txs, err := NewClient(Options{BaseURL: srv.URL, Address: "EQdeposit"}).Transactions(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, txs, 3)
	assert.Equal(t, int32(1), archivalCalls.Load())
	assert.Equal(t, int32(1), plainCalls.Load())
}

func TestClient_BothModesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"error":"rate limit exceeded"}`))
	}))
	defer srv.Close()

	_, err := NewClient(Options{BaseURL: srv.URL, Address: "EQdeposit"}).Transactions(context.Background(), 100)
	assert.ErrorIs(t, err, domain.ErrExternalUnavailable)
	assert.Contains(t, err.Error(), "rate limit exceeded")
}

func TestClient_SkipsMalformedItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"result":[
 {"transaction_id":{"lt":"9","hash":"h9"},"in_msg":{"source":"EQsrc","value":"1000000000","message":"42"}},
 {"transaction_id":{"lt":"abc","hash":"x"}},
 {"transaction_id":{"lt":"6","hash":"h6"},"in_msg":{"source":"EQsrc","value":"1e9","message":"43"}},
 {"transaction_id":{"lt":"4","hash":"h4"},"in_msg":{"source":"EQsrc","value":"3000000000","message":"44"}}
]}`))
	}))
	defer srv.Close()

	txs, err := NewClient(Options{BaseURL: srv.URL, Address: "EQdeposit"}).Transactions(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, txs, 3)

	assert.Equal(t, int64(9), txs[0].LT)
	assert.True(t, txs[0].HasInbound())

	assert.Equal(t, int64(6), txs[1].LT)
	assert.False(t, txs[1].HasInbound())
	assert.Equal(t, "43", txs[1].Memo)

	assert.Equal(t, int64(4), txs[2].LT)
	assert.Equal(t, int64(3_000_000_000), txs[2].Value)
}
