package policy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractNotional_Precedence(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]interface{}
		want   float64
		wantOK bool
	}{
		{"nil params", nil, 0, false},
		{"empty params", map[string]interface{}{}, 0, false},
		{"notionalUsd", map[string]interface{}{"notionalUsd": 1200.0}, 1200, true},
		{"notional beats size", map[string]interface{}{"notional": 10, "size": 20}, 10, true},
		{"size beats value", map[string]interface{}{"size": 20, "value": 30}, 20, true},
		{"value beats amountUsd", map[string]interface{}{"value": 30, "amountUsd": 40}, 30, true},
		{"exposure last explicit key", map[string]interface{}{"exposure": 50}, 50, true},
		{"negative notional is absolute", map[string]interface{}{"sizeUsd": -750}, 750, true},
		{"numeric string", map[string]interface{}{"notional": "125.5"}, 125.5, true},
		{"json number", map[string]interface{}{"notional": json.Number("99")}, 99, true},
		{"non numeric key is skipped", map[string]interface{}{"notional": "big", "size": 7}, 7, true},
		{"explicit beats nested risk", map[string]interface{}{
			"size": 5,
			"risk": map[string]interface{}{"notionalUsd": 500},
		}, 5, true},
		{"nested risk beats amount x price", map[string]interface{}{
			"amount": 2, "price": 100,
			"risk": map[string]interface{}{"notionalUsd": 500},
		}, 500, true},
		{"amount x price", map[string]interface{}{"amount": 2, "price": 30000}, 60000, true},
		{"qty x entryPrice", map[string]interface{}{"qty": -0.5, "entryPrice": 2000}, 1000, true},
		{"amount without price", map[string]interface{}{"amount": 2}, 0, false},
		{"nested amount x price", map[string]interface{}{
			"risk": map[string]interface{}{"quantity": 3, "markPrice": 10},
		}, 30, true},
		{"risk not an object", map[string]interface{}{"risk": "high"}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractNotional(tt.params)
			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestExtractAsset(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]interface{}
		want   string
	}{
		{"nil", nil, "UNKNOWN"},
		{"asset", map[string]interface{}{"asset": "eth"}, "ETH"},
		{"asset beats symbol", map[string]interface{}{"asset": "btc", "symbol": "ETH"}, "BTC"},
		{"symbol", map[string]interface{}{"symbol": " sol "}, "SOL"},
		{"blank asset skipped", map[string]interface{}{"asset": "  ", "coin": "arb"}, "ARB"},
		{"non string skipped", map[string]interface{}{"asset": 5, "market": "op-perp"}, "OP-PERP"},
		{"nested risk", map[string]interface{}{"risk": map[string]interface{}{"asset": "doge"}}, "DOGE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractAsset(tt.params))
		})
	}
}

func TestExtractLeverage(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]interface{}
		want   float64
		wantOK bool
	}{
		{"missing", map[string]interface{}{}, 0, false},
		{"leverage", map[string]interface{}{"leverage": 5}, 5, true},
		{"lev string", map[string]interface{}{"lev": "3"}, 3, true},
		{"zero ignored", map[string]interface{}{"leverage": 0}, 0, false},
		{"nested", map[string]interface{}{"risk": map[string]interface{}{"leverage": 10}}, 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractLeverage(tt.params)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
