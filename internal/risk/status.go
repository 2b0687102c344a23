package risk

import (
	"time"
)

// Status снапшот состояния риск-менеджера
type Status struct {
	Enabled          bool                     `json:"enabled"`
	TradingAllowed   bool                     `json:"tradingAllowed"`
	KillSwitch       KillSwitchStatus         `json:"killSwitch"`
	ManualHalt       HaltStatus               `json:"manualHalt"`
	ManualOverride   OverrideStatus           `json:"manualOverride"`
	CircuitBreaker   BreakerStatus            `json:"circuitBreaker"`
	ExposureUSD      float64                  `json:"exposureUsd"`
	OpenPositions    int                      `json:"openPositions"`
	RealizedPnLUSD   float64                  `json:"realizedPnlUsd"`
	CurrentEquityUSD float64                  `json:"currentEquityUsd"`
	PeakEquityUSD    float64                  `json:"peakEquityUsd"`
	DrawdownPct      float64                  `json:"drawdownPct"`
	LastViolation    *Violation               `json:"lastViolation,omitempty"`
	Metrics          map[string]MetricSummary `json:"metrics,omitempty"`
	CheckedAt        time.Time                `json:"checkedAt"`
}

// HaltStatus ручная остановка
type HaltStatus struct {
	Active bool       `json:"active"`
	Reason string     `json:"reason,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
}

// OverrideStatus ручной override
type OverrideStatus struct {
	Active    bool       `json:"active"`
	Reason    string     `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// BreakerStatus circuit breaker
type BreakerStatus struct {
	Active          bool       `json:"active"`
	Reason          string     `json:"reason,omitempty"`
	LastTriggeredAt *time.Time `json:"lastTriggeredAt,omitempty"`
	CooldownEndsAt  *time.Time `json:"cooldownEndsAt,omitempty"`
}

// Status возвращает снапшот. Перед снятием применяет ленивое истечение,
// поэтому может изменить состояние override и circuit breaker.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if !m.enabled {
		return Status{Enabled: false, TradingAllowed: true, CheckedAt: now}
	}
	m.refreshLocked(now)

	st := m.state
	out := Status{
		Enabled:          true,
		TradingAllowed:   m.tradingAllowedLocked(),
		KillSwitch:       st.killSwitch.GetStatus(),
		ExposureUSD:      st.exposure.InexactFloat64(),
		OpenPositions:    len(st.positions),
		RealizedPnLUSD:   st.realizedPnL.InexactFloat64(),
		CurrentEquityUSD: st.currentEquity().InexactFloat64(),
		PeakEquityUSD:    st.peakEquity.InexactFloat64(),
		DrawdownPct:      st.drawdown().InexactFloat64(),
		LastViolation:    st.lastViolation.clone(),
		Metrics:          st.metricSummaries(),
		CheckedAt:        now,
	}

	if st.halt.active {
		since := st.halt.since
		out.ManualHalt = HaltStatus{Active: true, Reason: st.halt.reason, Since: &since}
	}
	if st.override.active {
		out.ManualOverride = OverrideStatus{Active: true, Reason: st.override.reason}
		if st.override.expiresAt != nil {
			exp := *st.override.expiresAt
			out.ManualOverride.ExpiresAt = &exp
		}
	}
	if !st.breaker.lastTriggered.IsZero() {
		last := st.breaker.lastTriggered
		out.CircuitBreaker.LastTriggeredAt = &last
	}
	if st.breaker.active {
		out.CircuitBreaker.Active = true
		out.CircuitBreaker.Reason = st.breaker.reason
		if cooldown := m.cfg.CircuitBreaker.Cooldown(); cooldown > 0 {
			ends := st.breaker.lastTriggered.Add(cooldown)
			out.CircuitBreaker.CooldownEndsAt = &ends
		}
	}
	return out
}
