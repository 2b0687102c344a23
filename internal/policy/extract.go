package policy

import (
	"math"
	"strings"

	"github.com/kirillm/trade-guard/internal/domain"
)

// Порядок ключей задает приоритет: первый найденный валидный ключ выигрывает.
var (
	notionalKeys = []string{
		"notionalUsd", "notional_usd", "notional",
		"sizeUsd", "size_usd", "size",
		"valueUsd", "value_usd", "value",
		"amountUsd", "amount_usd", "usdAmount",
		"exposureUsd", "exposure_usd", "exposure",
	}
	quantityKeys = []string{"amount", "quantity", "qty", "units"}
	priceKeys    = []string{"price", "entryPrice", "entry_price", "limitPrice", "limit_price", "markPrice", "mark_price"}
	assetKeys    = []string{"asset", "symbol", "coin", "market", "ticker", "instrument", "pair", "token"}
	leverageKeys = []string{"leverage", "lev"}
)

const riskKey = "risk"

// ExtractNotional вычисляет USD-номинал операции из параметров.
// Порядок: явные ключи номинала, вложенный объект "risk", затем amount × price
// (сначала на верхнем уровне, потом в "risk"). Знак отбрасывается.
func ExtractNotional(params map[string]interface{}) (float64, bool) {
	if params == nil {
		return 0, false
	}

	if v, ok := firstNumber(params, notionalKeys); ok {
		return math.Abs(v), true
	}

	nested, hasNested := nestedRisk(params)
	if hasNested {
		if v, ok := firstNumber(nested, notionalKeys); ok {
			return math.Abs(v), true
		}
	}

	if v, ok := amountTimesPrice(params); ok {
		return v, true
	}
	if hasNested {
		if v, ok := amountTimesPrice(nested); ok {
			return v, true
		}
	}
	return 0, false
}

// ExtractAsset возвращает символ актива в верхнем регистре или "UNKNOWN"
func ExtractAsset(params map[string]interface{}) string {
	if s, ok := firstString(params, assetKeys); ok {
		return strings.ToUpper(s)
	}
	if nested, ok := nestedRisk(params); ok {
		if s, ok := firstString(nested, assetKeys); ok {
			return strings.ToUpper(s)
		}
	}
	return domain.AssetUnknown
}

// ExtractLeverage возвращает плечо, если оно указано и положительно
func ExtractLeverage(params map[string]interface{}) (float64, bool) {
	if v, ok := firstPositive(params, leverageKeys); ok {
		return v, true
	}
	if nested, ok := nestedRisk(params); ok {
		return firstPositive(nested, leverageKeys)
	}
	return 0, false
}

func amountTimesPrice(m map[string]interface{}) (float64, bool) {
	qty, ok := firstNumber(m, quantityKeys)
	if !ok {
		return 0, false
	}
	price, ok := firstNumber(m, priceKeys)
	if !ok {
		return 0, false
	}
	v := math.Abs(qty * price)
	if math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func nestedRisk(params map[string]interface{}) (map[string]interface{}, bool) {
	v, ok := params[riskKey]
	if !ok {
		return nil, false
	}
	return asObject(v)
}

func firstNumber(m map[string]interface{}, keys []string) (float64, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		if n, ok := ToFloat(v); ok {
			return n, true
		}
	}
	return 0, false
}

func firstPositive(m map[string]interface{}, keys []string) (float64, bool) {
	for _, k := range keys {
		if n, ok := ToFloat(m[k]); ok && n > 0 {
			return n, true
		}
	}
	return 0, false
}

func firstString(m map[string]interface{}, keys []string) (string, bool) {
	for _, k := range keys {
		s, ok := m[k].(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s, true
		}
	}
	return "", false
}
