package risk

import (
	"time"

	"github.com/kirillm/trade-guard/internal/domain"
	"github.com/shopspring/decimal"
)

// permissionViolationLocked нарушение, блокирующее торговлю сейчас.
// Порядок: ручная остановка, kill switch, circuit breaker.
func (m *Manager) permissionViolationLocked(now time.Time) *Violation {
	st := m.state
	if st.halt.active {
		return newViolation(domain.InvariantManualHalt, now,
			map[string]interface{}{"reason": st.halt.reason},
			"trading manually halted: %s", st.halt.reason)
	}
	if st.override.active {
		return nil
	}
	if st.killSwitch.IsActive() {
		ks := st.killSwitch.GetStatus()
		return newViolation(domain.InvariantKillSwitch, now,
			map[string]interface{}{"cause": string(ks.Invariant), "reason": ks.Reason},
			"kill switch engaged: %s", ks.Reason)
	}
	if st.breaker.active {
		return newViolation(domain.InvariantCircuitBreaker, now,
			map[string]interface{}{"reason": st.breaker.reason},
			"circuit breaker active: %s", st.breaker.reason)
	}
	return nil
}

func (m *Manager) tradingAllowedLocked() bool {
	st := m.state
	if st.halt.active {
		return false
	}
	if st.override.active {
		return true
	}
	return !st.killSwitch.IsActive() && !st.breaker.active
}

func (m *Manager) checkSizingLocked(now time.Time, asset string, notional float64) *Violation {
	limits := m.cfg.PositionLimits
	if limits.MaxPerPositionUSD > 0 && notional > limits.MaxPerPositionUSD {
		return newViolation(domain.InvariantPositionSizing, now,
			map[string]interface{}{
				"asset":    asset,
				"notional": notional,
				"limit":    limits.MaxPerPositionUSD,
			},
			"notional %.2f exceeds max per position %.2f", notional, limits.MaxPerPositionUSD)
	}
	if limit, ok := m.cfg.AssetLimit(asset); ok && limit > 0 && notional > limit {
		return newViolation(domain.InvariantPositionSizing, now,
			map[string]interface{}{
				"asset":    asset,
				"notional": notional,
				"limit":    limit,
			},
			"notional %.2f exceeds %s limit %.2f", notional, asset, limit)
	}
	return nil
}

func (m *Manager) checkExposureLocked(now time.Time, notional float64) *Violation {
	ceiling := m.cfg.GrossExposureCeiling()
	if ceiling <= 0 {
		return nil
	}
	projected := m.state.exposure.Add(decimal.NewFromFloat(notional))
	if projected.GreaterThan(decimal.NewFromFloat(ceiling)) {
		return newViolation(domain.InvariantMaxExposure, now,
			map[string]interface{}{
				"exposure":  m.state.exposure.InexactFloat64(),
				"notional":  notional,
				"projected": projected.InexactFloat64(),
				"limit":     ceiling,
			},
			"projected exposure %s exceeds ceiling %.2f", projected.StringFixed(2), ceiling)
	}
	return nil
}

func (m *Manager) checkConcurrencyLocked(now time.Time) *Violation {
	limit := m.cfg.PositionLimits.MaxConcurrentPositions
	if limit <= 0 {
		return nil
	}
	if open := len(m.state.positions); open+1 > limit {
		return newViolation(domain.InvariantMaxExposure, now,
			map[string]interface{}{
				"limit":         "maxConcurrentPositions",
				"openPositions": open,
				"max":           limit,
			},
			"open positions %d would exceed max concurrent %d", open+1, limit)
	}
	return nil
}

// checkPortfolioLocked min-equity, stop-loss, drawdown; первое нарушение побеждает
func (m *Manager) checkPortfolioLocked(now time.Time) *Violation {
	limits := m.cfg.PortfolioLimits
	st := m.state
	current := st.currentEquity()

	if limits.MinEquityUSD > 0 {
		floor := decimal.NewFromFloat(limits.MinEquityUSD)
		if current.LessThan(floor) {
			return newViolation(domain.InvariantMinEquity, now,
				map[string]interface{}{
					"equity": current.InexactFloat64(),
					"limit":  limits.MinEquityUSD,
				},
				"equity %s below minimum %.2f", current.StringFixed(2), limits.MinEquityUSD)
		}
	}

	if limits.StopLossPct > 0 && st.initialEquity.IsPositive() {
		loss := st.initialEquity.Sub(current).Div(st.initialEquity)
		if loss.GreaterThanOrEqual(decimal.NewFromFloat(limits.StopLossPct)) {
			return newViolation(domain.InvariantStopLoss, now,
				map[string]interface{}{
					"lossPct": loss.InexactFloat64(),
					"limit":   limits.StopLossPct,
					"equity":  current.InexactFloat64(),
				},
				"loss %s%% reached stop-loss %s%%", pct(loss), pct(decimal.NewFromFloat(limits.StopLossPct)))
		}
	}

	if limits.MaxDrawdownPct > 0 {
		dd := st.drawdown()
		if dd.GreaterThanOrEqual(decimal.NewFromFloat(limits.MaxDrawdownPct)) {
			return newViolation(domain.InvariantMaxDrawdown, now,
				map[string]interface{}{
					"drawdownPct": dd.InexactFloat64(),
					"limit":       limits.MaxDrawdownPct,
					"peak":        st.peakEquity.InexactFloat64(),
					"equity":      current.InexactFloat64(),
				},
				"drawdown %s%% reached limit %s%%", pct(dd), pct(decimal.NewFromFloat(limits.MaxDrawdownPct)))
		}
	}
	return nil
}

// engageKillSwitchLocked фиксирует нарушение и включает kill switch.
// Событие публикуется только при переходе в активное состояние.
func (m *Manager) engageKillSwitchLocked(v *Violation) {
	m.state.lastViolation = v
	if !m.state.killSwitch.Activate(v.Invariant, v.Message, v.Timestamp) {
		m.logger.Warn("violation %s while kill switch already engaged", v.Invariant)
		return
	}

	m.logger.WithFields(map[string]interface{}{
		"invariant": v.Invariant,
		"reason":    v.Message,
	}).Error("kill switch engaged")

	m.publish(domain.EventKillSwitchEngaged, v.Invariant, v.Message, v.Timestamp)
}

func (m *Manager) publish(typ domain.RiskEventType, inv domain.Invariant, reason string, at time.Time) {
	m.bus.Publish(newEvent(typ, inv, reason, at))
}

func pct(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).StringFixed(2)
}
