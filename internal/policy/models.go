package policy

import (
	"time"

	"github.com/kirillm/trade-guard/internal/domain"
)

// Guardrails валидированная конфигурация лимитов риска.
// После Parse не изменяется; менеджер риска хранит собственную копию (Clone).
// Нулевые числовые лимиты означают "не настроено".
type Guardrails struct {
	Enabled          bool                 `yaml:"enabled" json:"enabled"`
	InitialEquityUSD float64              `yaml:"initialEquityUsd" json:"initialEquityUsd"`
	PositionLimits   PositionLimits       `yaml:"positionLimits" json:"positionLimits"`
	PortfolioLimits  PortfolioLimits      `yaml:"portfolioLimits" json:"portfolioLimits"`
	CircuitBreaker   CircuitBreakerConfig `yaml:"circuitBreaker" json:"circuitBreaker"`
	Protected        ProtectedSet         `yaml:"protected" json:"protected"`
	ManualOverride   ManualOverrideConfig `yaml:"manualOverride" json:"manualOverride"`
}

// PositionLimits лимиты на одну позицию и на актив
type PositionLimits struct {
	MaxPerPositionUSD      float64            `yaml:"maxPerPositionUsd" json:"maxPerPositionUsd"`
	MaxGrossExposureUSD    float64            `yaml:"maxGrossExposureUsd" json:"maxGrossExposureUsd"`
	MaxPerAssetUSD         map[string]float64 `yaml:"maxPerAssetUsd" json:"maxPerAssetUsd"` // ключи в верхнем регистре, кроме "default"
	MaxConcurrentPositions int                `yaml:"maxConcurrentPositions" json:"maxConcurrentPositions"`
}

// PortfolioLimits лимиты уровня портфеля
type PortfolioLimits struct {
	MaxGrossExposureUSD float64 `yaml:"maxGrossExposureUsd" json:"maxGrossExposureUsd"`
	MaxDrawdownPct      float64 `yaml:"maxDrawdownPct" json:"maxDrawdownPct"` // 0..1
	StopLossPct         float64 `yaml:"stopLossPct" json:"stopLossPct"`       // 0..1
	MinEquityUSD        float64 `yaml:"minEquityUsd" json:"minEquityUsd"`
}

// CircuitBreakerConfig предохранитель по волатильности
type CircuitBreakerConfig struct {
	Enabled         bool    `yaml:"enabled" json:"enabled"`
	MetricKey       string  `yaml:"metricKey" json:"metricKey"`
	Threshold       float64 `yaml:"threshold" json:"threshold"`
	LookbackMinutes float64 `yaml:"lookbackMinutes" json:"lookbackMinutes"`
	CooldownMinutes float64 `yaml:"cooldownMinutes" json:"cooldownMinutes"`
}

// Cooldown длительность охлаждения предохранителя
func (c CircuitBreakerConfig) Cooldown() time.Duration {
	return minutes(c.CooldownMinutes)
}

// Lookback окно наблюдения метрики
func (c CircuitBreakerConfig) Lookback() time.Duration {
	return minutes(c.LookbackMinutes)
}

// ProtectedSet имена workflow и инструментов под контролем риска
type ProtectedSet struct {
	Workflows map[string]struct{} `yaml:"-" json:"-"`
	Tools     map[string]struct{} `yaml:"-" json:"-"`
}

// ManualOverrideConfig политика ручного обхода блокировок
type ManualOverrideConfig struct {
	Allow              bool    `yaml:"allow" json:"allow"`
	MaxDurationMinutes float64 `yaml:"maxDurationMinutes" json:"maxDurationMinutes"`
}

// MaxDuration максимальная длительность override (0 = без ограничения)
func (m ManualOverrideConfig) MaxDuration() time.Duration {
	return minutes(m.MaxDurationMinutes)
}

// IsWorkflowProtected true если workflow подлежит проверке.
// Пустой список означает, что проверяется все.
func (g *Guardrails) IsWorkflowProtected(name string) bool {
	return inSet(g.Protected.Workflows, name)
}

// IsToolProtected true если инструмент подлежит проверке
func (g *Guardrails) IsToolProtected(name string) bool {
	return inSet(g.Protected.Tools, name)
}

// GrossExposureCeiling наименьший из настроенных лимитов общей экспозиции
func (g *Guardrails) GrossExposureCeiling() float64 {
	a := g.PositionLimits.MaxGrossExposureUSD
	b := g.PortfolioLimits.MaxGrossExposureUSD
	switch {
	case a > 0 && b > 0:
		if a < b {
			return a
		}
		return b
	case a > 0:
		return a
	default:
		return b
	}
}

// AssetLimit лимит для актива с fallback на "default"
func (g *Guardrails) AssetLimit(asset string) (float64, bool) {
	if limit, ok := g.PositionLimits.MaxPerAssetUSD[asset]; ok {
		return limit, true
	}
	limit, ok := g.PositionLimits.MaxPerAssetUSD[domain.AssetDefault]
	return limit, ok
}

// Clone возвращает глубокую копию
func (g *Guardrails) Clone() *Guardrails {
	if g == nil {
		return nil
	}
	c := *g
	if g.PositionLimits.MaxPerAssetUSD != nil {
		c.PositionLimits.MaxPerAssetUSD = make(map[string]float64, len(g.PositionLimits.MaxPerAssetUSD))
		for k, v := range g.PositionLimits.MaxPerAssetUSD {
			c.PositionLimits.MaxPerAssetUSD[k] = v
		}
	}
	c.Protected.Workflows = cloneSet(g.Protected.Workflows)
	c.Protected.Tools = cloneSet(g.Protected.Tools)
	return &c
}

func inSet(set map[string]struct{}, name string) bool {
	if len(set) == 0 {
		return true
	}
	_, ok := set[name]
	return ok
}

func cloneSet(set map[string]struct{}) map[string]struct{} {
	if set == nil {
		return nil
	}
	out := make(map[string]struct{}, len(set))
	for k := range set {
		out[k] = struct{}{}
	}
	return out
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
