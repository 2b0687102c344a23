package risk

import (
	"sort"
	"time"

	"github.com/kirillm/trade-guard/internal/domain"
	"github.com/shopspring/decimal"
)

// MetricRetention возраст, после которого сэмплы метрик удаляются
const MetricRetention = 5 * time.Minute

// OpenPosition позиция, допущенная RegisterWorkflowExecution
type OpenPosition struct {
	OperationID  string                 `json:"operationId"`
	WorkflowName string                 `json:"workflowName"`
	OriginID     string                 `json:"originId,omitempty"`
	ContextID    string                 `json:"contextId,omitempty"`
	Asset        string                 `json:"asset"`
	NotionalUSD  float64                `json:"notionalUsd"`
	Leverage     *float64               `json:"leverage,omitempty"`
	OpenedAt     time.Time              `json:"openedAt"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// MetricSample одно наблюдение метрики
type MetricSample struct {
	Asset string
	Value float64
	At    time.Time
}

// MetricSummary сводка по окну метрики для статуса
type MetricSummary struct {
	Samples  int       `json:"samples"`
	Latest   float64   `json:"latest"`
	Max      float64   `json:"max"`
	LatestAt time.Time `json:"latestAt"`
}

type haltState struct {
	active bool
	reason string
	since  time.Time
}

type overrideState struct {
	active    bool
	reason    string
	since     time.Time
	expiresAt *time.Time
}

type breakerState struct {
	active        bool
	reason        string
	lastTriggered time.Time
}

// runtimeState изменяемое состояние менеджера, единственный владелец Manager.
// Экспозиция и PnL считаются в decimal, чтобы сумма открытых номиналов
// совпадала с экспозицией точно.
type runtimeState struct {
	positions     map[string]*OpenPosition
	exposure      decimal.Decimal
	realizedPnL   decimal.Decimal
	initialEquity decimal.Decimal
	peakEquity    decimal.Decimal

	killSwitch    KillSwitch
	halt          haltState
	override      overrideState
	breaker       breakerState
	lastViolation *Violation

	metrics map[string][]MetricSample
}

func newRuntimeState(initialEquity float64) *runtimeState {
	eq := decimal.NewFromFloat(initialEquity)
	return &runtimeState{
		positions:     make(map[string]*OpenPosition),
		exposure:      decimal.Zero,
		realizedPnL:   decimal.Zero,
		initialEquity: eq,
		peakEquity:    eq,
		metrics:       make(map[string][]MetricSample),
	}
}

func (s *runtimeState) currentEquity() decimal.Decimal {
	return s.initialEquity.Add(s.realizedPnL)
}

func (s *runtimeState) addPosition(p *OpenPosition) {
	s.positions[p.OperationID] = p
	s.exposure = s.exposure.Add(decimal.NewFromFloat(p.NotionalUSD))
}

// removePosition удаляет позицию и освобождает экспозицию (не ниже нуля)
func (s *runtimeState) removePosition(operationID string) (*OpenPosition, bool) {
	p, ok := s.positions[operationID]
	if !ok {
		return nil, false
	}
	delete(s.positions, operationID)

	s.exposure = s.exposure.Sub(decimal.NewFromFloat(p.NotionalUSD))
	if s.exposure.IsNegative() {
		s.exposure = decimal.Zero
	}
	return p, true
}

func (s *runtimeState) applyPnL(pnl decimal.Decimal) {
	s.realizedPnL = s.realizedPnL.Add(pnl)
	if current := s.currentEquity(); current.GreaterThan(s.peakEquity) {
		s.peakEquity = current
	}
}

func (s *runtimeState) drawdown() decimal.Decimal {
	if !s.peakEquity.IsPositive() {
		return decimal.Zero
	}
	dd := s.peakEquity.Sub(s.currentEquity()).Div(s.peakEquity)
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}

func (s *runtimeState) recordSample(key string, sample MetricSample, now time.Time) {
	s.metrics[key] = append(s.metrics[key], sample)
	s.pruneMetrics(now)
}

func (s *runtimeState) pruneMetrics(now time.Time) {
	cutoff := now.Add(-MetricRetention)
	for key, samples := range s.metrics {
		kept := samples[:0]
		for _, sm := range samples {
			if !sm.At.Before(cutoff) {
				kept = append(kept, sm)
			}
		}
		if len(kept) == 0 {
			delete(s.metrics, key)
			continue
		}
		s.metrics[key] = kept
	}
}

func (s *runtimeState) metricSummaries() map[string]MetricSummary {
	if len(s.metrics) == 0 {
		return nil
	}
	out := make(map[string]MetricSummary, len(s.metrics))
	for key, samples := range s.metrics {
		var sum MetricSummary
		for i, sm := range samples {
			if i == 0 || sm.Value > sum.Max {
				sum.Max = sm.Value
			}
			if i == 0 || !sm.At.Before(sum.LatestAt) {
				sum.Latest = sm.Value
				sum.LatestAt = sm.At
			}
		}
		sum.Samples = len(samples)
		out[key] = sum
	}
	return out
}

func (s *runtimeState) sortedPositions() []OpenPosition {
	out := make([]OpenPosition, 0, len(s.positions))
	for _, p := range s.positions {
		c := *p
		c.Metadata = domain.CloneMap(p.Metadata)
		if p.Leverage != nil {
			lev := *p.Leverage
			c.Leverage = &lev
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OperationID < out[j].OperationID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}
