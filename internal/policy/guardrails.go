package policy

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/kirillm/trade-guard/internal/domain"
)

// Defaults for optional circuit breaker fields
const (
	DefaultMetricKey       = "volatility"
	DefaultLookbackMinutes = 60
	DefaultCooldownMinutes = 30
)

// FieldError ошибка конкретного поля конфигурации
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationError все ошибки разбора конфигурации guardrails
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return "invalid guardrails config: " + strings.Join(parts, "; ")
}

// Parse валидирует нетипизированную конфигурацию (YAML/JSON агента).
// Ключи принимаются в camelCase и snake_case. Отсутствие блока (nil)
// означает выключенные guardrails.
func Parse(raw map[string]interface{}) (*Guardrails, error) {
	if raw == nil {
		return &Guardrails{}, nil
	}

	p := &parser{}
	g := &Guardrails{Enabled: true}

	if v, ok := p.boolean(raw, "", "enabled"); ok {
		g.Enabled = v
	}
	if !g.Enabled {
		return &Guardrails{}, p.result()
	}

	equity, ok := p.number(raw, "", "initialEquityUsd")
	switch {
	case !ok:
		p.fail("initialEquityUsd", "is required")
	case equity <= 0:
		p.fail("initialEquityUsd", "must be > 0")
	}
	g.InitialEquityUSD = equity

	if pos := p.object(raw, "positionLimits"); pos != nil {
		g.PositionLimits.MaxPerPositionUSD = p.nonNegative(pos, "positionLimits", "maxPerPositionUsd")
		g.PositionLimits.MaxGrossExposureUSD = p.nonNegative(pos, "positionLimits", "maxGrossExposureUsd")
		g.PositionLimits.MaxPerAssetUSD = p.assetLimits(pos)

		if n, ok := p.number(pos, "positionLimits", "maxConcurrentPositions"); ok {
			switch {
			case n < 0 || n != math.Trunc(n):
				p.fail("positionLimits.maxConcurrentPositions", "must be a non-negative integer")
			case n > math.MaxInt32:
				p.fail("positionLimits.maxConcurrentPositions", fmt.Sprintf("must be at most %d", math.MaxInt32))
			default:
				g.PositionLimits.MaxConcurrentPositions = int(n)
			}
		}
	}

	if port := p.object(raw, "portfolioLimits"); port != nil {
		g.PortfolioLimits.MaxGrossExposureUSD = p.nonNegative(port, "portfolioLimits", "maxGrossExposureUsd")
		g.PortfolioLimits.MaxDrawdownPct = p.fraction(port, "portfolioLimits", "maxDrawdownPct")
		g.PortfolioLimits.StopLossPct = p.fraction(port, "portfolioLimits", "stopLossPct")
		g.PortfolioLimits.MinEquityUSD = p.nonNegative(port, "portfolioLimits", "minEquityUsd")
	}

	if cb := p.object(raw, "circuitBreaker"); cb != nil {
		g.CircuitBreaker = p.circuitBreaker(cb)
	}

	if prot := p.object(raw, "protected"); prot != nil {
		g.Protected.Workflows = p.stringSet(prot, "protected", "workflows")
		g.Protected.Tools = p.stringSet(prot, "protected", "tools")
	}

	if mo := p.object(raw, "manualOverride"); mo != nil {
		if v, ok := p.boolean(mo, "manualOverride", "allow"); ok {
			g.ManualOverride.Allow = v
		}
		g.ManualOverride.MaxDurationMinutes = p.nonNegative(mo, "manualOverride", "maxDurationMinutes")
	}

	if err := p.result(); err != nil {
		return nil, err
	}
	return g, nil
}

type parser struct {
	errs []FieldError
}

func (p *parser) fail(field, msg string) {
	p.errs = append(p.errs, FieldError{Field: field, Message: msg})
}

func (p *parser) result() error {
	if len(p.errs) == 0 {
		return nil
	}
	return &ValidationError{Fields: p.errs}
}

// lookup ищет ключ в camelCase, затем в snake_case
func lookup(m map[string]interface{}, key string) (interface{}, bool) {
	if v, ok := m[key]; ok && v != nil {
		return v, true
	}
	if v, ok := m[toSnake(key)]; ok && v != nil {
		return v, true
	}
	return nil, false
}

func (p *parser) object(m map[string]interface{}, key string) map[string]interface{} {
	v, ok := lookup(m, key)
	if !ok {
		return nil
	}
	obj, ok := asObject(v)
	if !ok {
		p.fail(key, "must be an object")
		return nil
	}
	return obj
}

func (p *parser) boolean(m map[string]interface{}, section, key string) (bool, bool) {
	v, ok := lookup(m, key)
	if !ok {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		if err == nil {
			return parsed, true
		}
	}
	p.fail(fieldName(section, key), "must be a boolean")
	return false, false
}

func (p *parser) number(m map[string]interface{}, section, key string) (float64, bool) {
	v, ok := lookup(m, key)
	if !ok {
		return 0, false
	}
	n, ok := ToFloat(v)
	if !ok {
		p.fail(fieldName(section, key), "must be a finite number")
		return 0, false
	}
	return n, true
}

func (p *parser) nonNegative(m map[string]interface{}, section, key string) float64 {
	v, ok := lookup(m, key)
	if !ok {
		return 0
	}
	n, ok := ToFloat(v)
	if !ok {
		p.fail(section+"."+key, "must be a finite number")
		return 0
	}
	if n < 0 {
		p.fail(section+"."+key, "must be >= 0")
		return 0
	}
	return n
}

func (p *parser) fraction(m map[string]interface{}, section, key string) float64 {
	n := p.nonNegative(m, section, key)
	if n > 1 {
		p.fail(section+"."+key, "must be within [0, 1]")
		return 0
	}
	return n
}

func (p *parser) assetLimits(pos map[string]interface{}) map[string]float64 {
	v, ok := lookup(pos, "maxPerAssetUsd")
	if !ok {
		return nil
	}
	obj, ok := asObject(v)
	if !ok {
		p.fail("positionLimits.maxPerAssetUsd", "must be an object of asset -> limit")
		return nil
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	limits := make(map[string]float64, len(obj))
	for _, asset := range keys {
		field := "positionLimits.maxPerAssetUsd." + asset
		n, ok := ToFloat(obj[asset])
		if !ok {
			p.fail(field, "must be a finite number")
			continue
		}
		if n < 0 {
			p.fail(field, "must be >= 0")
			continue
		}
		if strings.EqualFold(asset, domain.AssetDefault) {
			limits[domain.AssetDefault] = n
			continue
		}
		limits[strings.ToUpper(strings.TrimSpace(asset))] = n
	}
	return limits
}

func (p *parser) circuitBreaker(cb map[string]interface{}) CircuitBreakerConfig {
	cfg := CircuitBreakerConfig{
		MetricKey:       DefaultMetricKey,
		LookbackMinutes: DefaultLookbackMinutes,
		CooldownMinutes: DefaultCooldownMinutes,
	}
	if v, ok := p.boolean(cb, "circuitBreaker", "enabled"); ok {
		cfg.Enabled = v
	}
	if v, ok := lookup(cb, "metricKey"); ok {
		s, isString := v.(string)
		if !isString || strings.TrimSpace(s) == "" {
			p.fail("circuitBreaker.metricKey", "must be a non-empty string")
		} else {
			cfg.MetricKey = strings.TrimSpace(s)
		}
	}

	threshold, hasThreshold := p.number(cb, "circuitBreaker", "threshold")
	switch {
	case cfg.Enabled && !hasThreshold:
		p.fail("circuitBreaker.threshold", "is required when the circuit breaker is enabled")
	case threshold < 0:
		p.fail("circuitBreaker.threshold", "must be >= 0")
	}
	cfg.Threshold = threshold

	if n, ok := p.number(cb, "circuitBreaker", "lookbackMinutes"); ok {
		if n <= 0 {
			p.fail("circuitBreaker.lookbackMinutes", "must be > 0")
		} else {
			cfg.LookbackMinutes = n
		}
	}
	if n, ok := p.number(cb, "circuitBreaker", "cooldownMinutes"); ok {
		if n <= 0 {
			p.fail("circuitBreaker.cooldownMinutes", "must be > 0")
		} else {
			cfg.CooldownMinutes = n
		}
	}
	return cfg
}

func (p *parser) stringSet(m map[string]interface{}, section, key string) map[string]struct{} {
	v, ok := lookup(m, key)
	if !ok {
		return nil
	}

	var items []interface{}
	switch list := v.(type) {
	case []interface{}:
		items = list
	case []string:
		for _, s := range list {
			items = append(items, s)
		}
	default:
		p.fail(section+"."+key, "must be a list of names")
		return nil
	}

	set := make(map[string]struct{}, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok || strings.TrimSpace(s) == "" {
			p.fail(fmt.Sprintf("%s.%s[%d]", section, key, i), "must be a non-empty string")
			continue
		}
		set[strings.TrimSpace(s)] = struct{}{}
	}
	return set
}

// ToFloat приводит числовые значения из YAML/JSON к float64.
// Строки с числом тоже принимаются; NaN и Inf отклоняются.
func ToFloat(v interface{}) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func asObject(v interface{}) (map[string]interface{}, bool) {
	switch obj := v.(type) {
	case map[string]interface{}:
		return obj, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(obj))
		for k, val := range obj {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

func fieldName(section, key string) string {
	if section == "" {
		return key
	}
	return section + "." + key
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
