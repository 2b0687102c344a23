package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillm/trade-guard/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bybitStub struct {
	mu       sync.Mutex
	orders   []map[string]interface{}
	headers  http.Header
	price    string
	retCode  int
	priceHit int
}

func (s *bybitStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/tickers", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.priceHit++
		s.mu.Unlock()
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"retCode":0,"result":{"list":[{"symbol":"BTCUSDT","lastPrice":"` + s.price + `"}]}}`))
	})
	mux.HandleFunc("/v5/order/create", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		s.mu.Lock()
		s.orders = append(s.orders, body)
		s.headers = r.Header.Clone()
		code := s.retCode
		s.mu.Unlock()
		if code != 0 {
			w.Write([]byte(`{"retCode":170130,"retMsg":"Insufficient balance"}`))
			return
		}
		w.Write([]byte(`{"retCode":0,"result":{"orderId":"1321003749386327552","orderLinkId":"x"}}`))
	})
	return mux
}

func newStubClient(t *testing.T, stub *bybitStub) *BybitClient {
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)
	c := NewBybitClient("key", "secret", srv.URL+"/", 0)
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func TestBybitClient_SubmitWithQty(t *testing.T) {
	stub := &bybitStub{price: "50000"}
	c := newStubClient(t, stub)

	key := strings.Repeat("ab", 32)
	orderID, err := c.Submit(context.Background(), domain.Execution{
		ID:             "exec-1",
		Operation:      domain.OperationOpen,
		Payload:        map[string]interface{}{"symbol": "btcusdt", "side": "buy", "qty": 0.01},
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	assert.Equal(t, "1321003749386327552", orderID)
	assert.Equal(t, 0, stub.priceHit)

	require.Len(t, stub.orders, 1)
	order := stub.orders[0]
	assert.Equal(t, "BTCUSDT", order["symbol"])
	assert.Equal(t, "Buy", order["side"])
	assert.Equal(t, "Market", order["orderType"])
	assert.Equal(t, "0.01", order["qty"])
	assert.Equal(t, key[:36], order["orderLinkId"])

	assert.Equal(t, "key", stub.headers.Get("X-BAPI-API-KEY"))
	assert.Equal(t, "1700000000000", stub.headers.Get("X-BAPI-TIMESTAMP"))
	assert.Len(t, stub.headers.Get("X-BAPI-SIGN"), 64)
}

func TestBybitClient_SubmitWithNotional(t *testing.T) {
	stub := &bybitStub{price: "40000"}
	c := newStubClient(t, stub)

	_, err := c.Submit(context.Background(), domain.Execution{
		Operation: domain.OperationClose,
		Payload:   map[string]interface{}{"asset": "BTCUSDT", "notionalUsd": 1000.0},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stub.priceHit)
	require.Len(t, stub.orders, 1)
	assert.Equal(t, "Sell", stub.orders[0]["side"])
	assert.Equal(t, "0.025", stub.orders[0]["qty"])
	assert.NotContains(t, stub.orders[0], "orderLinkId")
}

func TestBybitClient_APIError(t *testing.T) {
	stub := &bybitStub{price: "50000", retCode: 1}
	c := newStubClient(t, stub)

	_, err := c.Submit(context.Background(), domain.Execution{
		Payload: map[string]interface{}{"symbol": "BTCUSDT", "qty": "0.5"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExchangeAPI)
	assert.Contains(t, err.Error(), "Insufficient balance")
}

func TestOrderFromPayload_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]interface{}
	}{
		{"no symbol", map[string]interface{}{"qty": 1}},
		{"bad side", map[string]interface{}{"symbol": "ETHUSDT", "side": "hold", "qty": 1}},
		{"no size", map[string]interface{}{"symbol": "ETHUSDT"}},
		{"negative qty", map[string]interface{}{"symbol": "ETHUSDT", "qty": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OrderFromPayload(domain.Execution{Payload: tt.payload})
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestBybitClient_Signature(t *testing.T) {
	c := NewBybitClient("key", "secret", "http://unused", 0)
	a := c.generateSignature("1", "payload")
	b := c.generateSignature("1", "payload")
	other := c.generateSignature("2", "payload")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, other)
}
