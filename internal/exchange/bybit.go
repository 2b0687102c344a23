package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillm/trade-guard/internal/domain"
	"github.com/kirillm/trade-guard/internal/policy"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	bybitCategorySpot = "spot"
	bybitRecvWindow   = "5000"
	orderTypeMarket   = "Market"
	maxOrderLinkIDLen = 36
)

// BybitClient REST клиент Bybit v5, используется как площадка исполнения
type BybitClient struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	client     *http.Client
	recvWindow string
	limiter    *rate.Limiter
	now        func() time.Time
}

type TickerResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	} `json:"result"`
}

type OrderResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	} `json:"result"`
}

// OrderRequest рыночный ордер, извлеченный из payload исполнения
type OrderRequest struct {
	Symbol      string
	Side        string
	Qty         decimal.Decimal
	NotionalUSD float64
	LinkID      string
}

// NewBybitClient создает клиента; requestsPerSecond <= 0 = без ограничения
func NewBybitClient(apiKey, apiSecret, baseURL string, requestsPerSecond float64) *BybitClient {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &BybitClient{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: 30 * time.Second},
		recvWindow: bybitRecvWindow,
		limiter:    rate.NewLimiter(limit, 1),
		now:        time.Now,
	}
}

// Submit размещает рыночный ордер по payload исполнения и возвращает orderId.
// orderLinkId строится из ключа идемпотентности, поэтому повтор того же
// исполнения биржа отклонит как дубликат.
func (b *BybitClient) Submit(ctx context.Context, exec domain.Execution) (string, error) {
	order, err := OrderFromPayload(exec)
	if err != nil {
		return "", err
	}

	if order.Qty.IsZero() {
		price, err := b.GetPrice(ctx, order.Symbol)
		if err != nil {
			return "", err
		}
		order.Qty = decimal.NewFromFloat(order.NotionalUSD).Div(price).Round(8)
	}

	return b.PlaceOrder(ctx, order)
}

// OrderFromPayload извлекает symbol, side и qty (или notional) из payload
func OrderFromPayload(exec domain.Execution) (OrderRequest, error) {
	p := exec.Payload
	symbol, _ := p["symbol"].(string)
	if symbol == "" {
		symbol, _ = p["asset"].(string)
	}
	if symbol == "" {
		return OrderRequest{}, fmt.Errorf("%w: payload.symbol is required", domain.ErrInvalidInput)
	}

	side, _ := p["side"].(string)
	switch strings.ToLower(side) {
	case "buy":
		side = "Buy"
	case "sell":
		side = "Sell"
	case "":
		if exec.Operation == domain.OperationClose {
			side = "Sell"
		} else {
			side = "Buy"
		}
	default:
		return OrderRequest{}, fmt.Errorf("%w: unknown side %q", domain.ErrInvalidInput, side)
	}

	order := OrderRequest{
		Symbol: strings.ToUpper(symbol),
		Side:   side,
		LinkID: exec.IdempotencyKey,
	}
	if len(order.LinkID) > maxOrderLinkIDLen {
		order.LinkID = order.LinkID[:maxOrderLinkIDLen]
	}

	if qty, ok := policy.ToFloat(p["qty"]); ok && qty > 0 {
		order.Qty = decimal.NewFromFloat(qty)
		return order, nil
	}
	for _, key := range []string{"notionalUsd", "notional_usd", "notional"} {
		if n, ok := policy.ToFloat(p[key]); ok && n > 0 {
			order.NotionalUSD = n
			return order, nil
		}
	}
	return OrderRequest{}, fmt.Errorf("%w: payload needs qty or notionalUsd", domain.ErrInvalidInput)
}

// GetPrice получает текущую цену актива
func (b *BybitClient) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := fmt.Sprintf("category=%s&symbol=%s", bybitCategorySpot, symbol)
	url := fmt.Sprintf("%s/v5/market/tickers?%s", b.baseURL, params)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}

	var tickerResp TickerResponse
	if err := b.do(req, &tickerResp); err != nil {
		return decimal.Zero, err
	}
	if tickerResp.RetCode != 0 {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrExchangeAPI, tickerResp.RetMsg)
	}
	if len(tickerResp.Result.List) == 0 || tickerResp.Result.List[0].LastPrice == "" {
		return decimal.Zero, fmt.Errorf("no price data for symbol %s", symbol)
	}

	price, err := decimal.NewFromString(tickerResp.Result.List[0].LastPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse price for %s: %w", symbol, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price for %s: %s", symbol, price)
	}
	return price, nil
}

// PlaceOrder размещает рыночный ордер и возвращает orderId
func (b *BybitClient) PlaceOrder(ctx context.Context, order OrderRequest) (string, error) {
	params := map[string]interface{}{
		"category":  bybitCategorySpot,
		"symbol":    order.Symbol,
		"side":      order.Side,
		"orderType": orderTypeMarket,
		"qty":       order.Qty.String(),
	}
	if order.LinkID != "" {
		params["orderLinkId"] = order.LinkID
	}

	jsonData, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal params: %w", err)
	}

	timestamp := strconv.FormatInt(b.now().UnixMilli(), 10)
	signature := b.generateSignature(timestamp, string(jsonData))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v5/order/create", strings.NewReader(string(jsonData)))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	b.setAuthHeaders(req, timestamp, signature)

	var orderResp OrderResponse
	if err := b.do(req, &orderResp); err != nil {
		return "", err
	}
	if orderResp.RetCode != 0 {
		return "", fmt.Errorf("%w: %s", ErrExchangeAPI, orderResp.RetMsg)
	}
	return orderResp.Result.OrderID, nil
}

func (b *BybitClient) do(req *http.Request, out interface{}) error {
	if err := b.limiter.Wait(req.Context()); err != nil {
		return err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: http %d", ErrExchangeAPI, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// generateSignature генерирует подпись для запросов (GET и POST)
func (b *BybitClient) generateSignature(timestamp, payload string) string {
	message := timestamp + b.apiKey + b.recvWindow + payload
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// setAuthHeaders устанавливает заголовки авторизации для запроса
func (b *BybitClient) setAuthHeaders(req *http.Request, timestamp, signature string) {
	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-SIGN", signature)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", b.recvWindow)
}
