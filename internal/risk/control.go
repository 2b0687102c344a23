package risk

import (
	"fmt"
	"time"

	"github.com/kirillm/trade-guard/internal/domain"
)

// DefaultMetricKey ключ метрики волатильности по умолчанию
const DefaultMetricKey = "volatility"

// VolatilityObservation наблюдение волатильности рынка
type VolatilityObservation struct {
	Asset           string
	MetricKey       string // пусто = ключ из конфигурации
	Volatility      float64
	LookbackMinutes float64
	ObservedAt      time.Time // нулевое = текущее время
}

// OverrideRequest запрос на ручной обход автоматических блокировок
type OverrideRequest struct {
	Active   bool
	Duration time.Duration // 0 = без истечения, либо максимум из конфигурации
	Reason   string
}

// UpdateMarketVolatility записывает сэмпл метрики и при превышении порога
// включает circuit breaker. Возвращает true если предохранитель сработал.
func (m *Manager) UpdateMarketVolatility(obs VolatilityObservation) bool {
	if !m.enabled {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.refreshLocked(now)

	cb := m.cfg.CircuitBreaker
	key := obs.MetricKey
	if key == "" {
		key = cb.MetricKey
	}
	if key == "" {
		key = DefaultMetricKey
	}
	at := obs.ObservedAt
	if at.IsZero() {
		at = now
	}
	m.state.recordSample(key, MetricSample{Asset: obs.Asset, Value: obs.Volatility, At: at}, now)

	if !cb.Enabled || key != cb.MetricKey || obs.Volatility < cb.Threshold {
		return false
	}

	reason := fmt.Sprintf("%s %s %.4f >= threshold %.4f", obs.Asset, key, obs.Volatility, cb.Threshold)
	v := newViolation(domain.InvariantCircuitBreaker, now,
		map[string]interface{}{
			"asset":      obs.Asset,
			"metricKey":  key,
			"volatility": obs.Volatility,
			"threshold":  cb.Threshold,
		},
		"volatility breach: %s", reason)
	if obs.LookbackMinutes > 0 {
		v.Details["lookbackMinutes"] = obs.LookbackMinutes
	}

	wasActive := m.state.breaker.active
	m.state.breaker = breakerState{active: true, reason: reason, lastTriggered: now}
	m.state.lastViolation = v

	if !wasActive {
		m.logger.WithFields(map[string]interface{}{
			"asset":      obs.Asset,
			"volatility": obs.Volatility,
			"threshold":  cb.Threshold,
			"cooldown":   cb.Cooldown().String(),
		}).Warn("circuit breaker tripped")
		m.publish(domain.EventTradingHalted, domain.InvariantCircuitBreaker, reason, now)
	}
	return true
}

// SetManualHalt включает или снимает ручную остановку торговли.
// Override ее не обходит.
func (m *Manager) SetManualHalt(active bool, reason string) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.refreshLocked(now)

	if !active {
		if m.state.halt.active {
			m.logger.Info("manual halt cleared")
		}
		m.state.halt = haltState{}
		return
	}

	if reason == "" {
		reason = "manual halt"
	}
	wasActive := m.state.halt.active
	m.state.halt = haltState{active: true, reason: reason, since: now}
	if !wasActive {
		m.logger.Warn("trading manually halted: %s", reason)
		m.publish(domain.EventTradingHalted, domain.InvariantManualHalt, reason, now)
	}
}

// SetManualOverride включает или снимает override kill switch и circuit breaker
func (m *Manager) SetManualOverride(req OverrideRequest) error {
	if !m.enabled {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.refreshLocked(now)

	if !req.Active {
		if m.state.override.active {
			m.logger.Info("manual override cleared")
		}
		m.state.override = overrideState{}
		return nil
	}

	overridePolicy := m.cfg.ManualOverride
	if !overridePolicy.Allow {
		return domain.ErrOverrideDisabled
	}
	if req.Duration < 0 {
		return fmt.Errorf("%w: negative override duration", domain.ErrInvalidInput)
	}

	duration := req.Duration
	if limit := overridePolicy.MaxDuration(); limit > 0 {
		if duration > limit {
			return fmt.Errorf("%w: %s > %s", domain.ErrOverrideDurationExceeded, duration, limit)
		}
		if duration == 0 {
			duration = limit
		}
	}

	st := overrideState{active: true, reason: req.Reason, since: now}
	if duration > 0 {
		exp := now.Add(duration)
		st.expiresAt = &exp
	}
	m.state.override = st

	m.logger.WithFields(map[string]interface{}{
		"reason":   req.Reason,
		"duration": duration.String(),
	}).Warn("manual override activated")
	return nil
}

// ResetKillSwitch сбрасывает kill switch (действие оператора)
func (m *Manager) ResetKillSwitch() bool {
	if !m.enabled {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshLocked(m.clock.Now())
	if !m.state.killSwitch.Deactivate() {
		return false
	}
	m.logger.Warn("kill switch reset by operator")
	return true
}

// ResetCircuitBreaker снимает circuit breaker до окончания cooldown
func (m *Manager) ResetCircuitBreaker() bool {
	if !m.enabled {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshLocked(m.clock.Now())
	if !m.state.breaker.active {
		return false
	}
	m.state.breaker = breakerState{lastTriggered: m.state.breaker.lastTriggered}
	m.logger.Info("circuit breaker reset by operator")
	return true
}

// TradingAllowed текущее разрешение торговли
func (m *Manager) TradingAllowed() bool {
	if !m.enabled {
		return true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshLocked(m.clock.Now())
	return m.tradingAllowedLocked()
}

// refreshLocked ленивое истечение override и cooldown предохранителя
func (m *Manager) refreshLocked(now time.Time) {
	st := m.state

	if st.override.active && st.override.expiresAt != nil && !now.Before(*st.override.expiresAt) {
		expiredAt := *st.override.expiresAt
		st.override = overrideState{}
		m.logger.Info("manual override expired at %s", expiredAt.Format(time.RFC3339))
		m.publish(domain.EventManualOverrideExpired, "", "", now)
	}

	if st.breaker.active {
		if cooldown := m.cfg.CircuitBreaker.Cooldown(); cooldown > 0 && !now.Before(st.breaker.lastTriggered.Add(cooldown)) {
			st.breaker = breakerState{lastTriggered: st.breaker.lastTriggered}
			m.logger.Info("circuit breaker cooled down")
		}
	}

	st.pruneMetrics(now)
}
