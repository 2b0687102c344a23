package risk

import (
	"io"
	"testing"
	"time"

	"github.com/kirillm/trade-guard/internal/clock"
	"github.com/kirillm/trade-guard/internal/domain"
	"github.com/kirillm/trade-guard/internal/policy"
	"github.com/kirillm/trade-guard/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *utils.Logger {
	l := utils.NewLogger("error")
	l.SetOutput(io.Discard)
	return l
}

func baseConfig() *policy.Guardrails {
	return &policy.Guardrails{
		Enabled:          true,
		InitialEquityUSD: 10000,
		PositionLimits: policy.PositionLimits{
			MaxPerPositionUSD:   5000,
			MaxGrossExposureUSD: 8000,
		},
		PortfolioLimits: policy.PortfolioLimits{
			StopLossPct: 0.2,
		},
		CircuitBreaker: policy.CircuitBreakerConfig{
			Enabled:         true,
			MetricKey:       "volatility",
			Threshold:       0.5,
			LookbackMinutes: 60,
			CooldownMinutes: 30,
		},
		ManualOverride: policy.ManualOverrideConfig{
			Allow:              true,
			MaxDurationMinutes: 60,
		},
	}
}

func newTestManager(t *testing.T, cfg *policy.Guardrails) (*Manager, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(t0)
	return New(cfg, WithClock(fc), WithLogger(quietLogger())), fc
}

func register(m *Manager, op string, notional float64) error {
	return m.RegisterWorkflowExecution(RegisterRequest{
		WorkflowName: "open-position",
		OperationID:  op,
		Params:       map[string]interface{}{"notionalUsd": notional, "asset": "eth"},
	})
}

func TestRegister_ExposureConservation(t *testing.T) {
	m, _ := newTestManager(t, baseConfig())

	require.NoError(t, register(m, "a", 1000))
	require.NoError(t, register(m, "b", 2500.5))
	require.NoError(t, register(m, "c", 0.1))
	assert.InDelta(t, 3500.6, m.Status().ExposureUSD, 1e-9)

	require.NoError(t, m.CompleteWorkflow("b", Completed(0)))
	assert.InDelta(t, 1000.1, m.Status().ExposureUSD, 1e-9)

	assert.True(t, m.CancelWorkflow("a"))
	assert.False(t, m.CancelWorkflow("a"))

	status := m.Status()
	assert.InDelta(t, 0.1, status.ExposureUSD, 1e-9)
	assert.Equal(t, 1, status.OpenPositions)

	positions := m.OpenPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, "c", positions[0].OperationID)
	assert.Equal(t, "ETH", positions[0].Asset)
}

func TestRegister_KillSwitchEscalation(t *testing.T) {
	m, _ := newTestManager(t, baseConfig())
	sub := m.Subscribe(4)
	defer sub.Unsubscribe()

	err := register(m, "big", 6000)
	require.Error(t, err)
	assert.True(t, IsInvariant(err, domain.InvariantPositionSizing))
	assert.False(t, m.TradingAllowed())

	select {
	case ev := <-sub.C:
		assert.Equal(t, domain.EventKillSwitchEngaged, ev.Type)
		assert.Equal(t, domain.InvariantPositionSizing, ev.Invariant)
		assert.NotEmpty(t, ev.ID)
	default:
		t.Fatal("expected kill-switch-engaged event")
	}

	err = m.RegisterWorkflowExecution(RegisterRequest{
		WorkflowName: "open-position",
		OperationID:  "small",
		Params:       map[string]interface{}{"notionalUsd": 10, "asset": "BTC"},
	})
	assert.True(t, IsInvariant(err, domain.InvariantKillSwitch))

	err = m.EvaluateToolInvocation("place_order", map[string]interface{}{"notionalUsd": 1})
	assert.True(t, IsInvariant(err, domain.InvariantKillSwitch))

	assert.True(t, m.ResetKillSwitch())
	assert.False(t, m.ResetKillSwitch())
	assert.True(t, m.TradingAllowed())
	require.NoError(t, register(m, "small", 10))
}

func TestRegister_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(cfg *policy.Guardrails)
		setup      func(m *Manager)
		params     map[string]interface{}
		invariant  domain.Invariant
		killSwitch bool
	}{
		{
			name:       "per-asset limit",
			mutate:     func(cfg *policy.Guardrails) { cfg.PositionLimits.MaxPerAssetUSD = map[string]float64{"ETH": 1000} },
			params:     map[string]interface{}{"notionalUsd": 1500, "asset": "eth"},
			invariant:  domain.InvariantPositionSizing,
			killSwitch: true,
		},
		{
			name:       "per-asset default fallback",
			mutate:     func(cfg *policy.Guardrails) { cfg.PositionLimits.MaxPerAssetUSD = map[string]float64{"default": 200} },
			params:     map[string]interface{}{"notionalUsd": 300, "asset": "SOL"},
			invariant:  domain.InvariantPositionSizing,
			killSwitch: true,
		},
		{
			name:       "gross exposure",
			setup:      func(m *Manager) { _ = register(m, "first", 5000) },
			params:     map[string]interface{}{"notionalUsd": 3500},
			invariant:  domain.InvariantMaxExposure,
			killSwitch: true,
		},
		{
			name:   "portfolio ceiling is smaller",
			mutate: func(cfg *policy.Guardrails) { cfg.PortfolioLimits.MaxGrossExposureUSD = 100 },
			params: map[string]interface{}{"notionalUsd": 150},

			invariant:  domain.InvariantMaxExposure,
			killSwitch: true,
		},
		{
			name:       "concurrency",
			mutate:     func(cfg *policy.Guardrails) { cfg.PositionLimits.MaxConcurrentPositions = 1 },
			setup:      func(m *Manager) { _ = register(m, "first", 10) },
			params:     map[string]interface{}{"notionalUsd": 10},
			invariant:  domain.InvariantMaxExposure,
			killSwitch: true,
		},
		{
			name:       "no notional",
			params:     map[string]interface{}{"asset": "ETH"},
			invariant:  domain.InvariantPositionSizing,
			killSwitch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			m, _ := newTestManager(t, cfg)
			if tt.setup != nil {
				tt.setup(m)
			}

			err := m.RegisterWorkflowExecution(RegisterRequest{
				WorkflowName: "open-position",
				OperationID:  "op",
				Params:       tt.params,
			})
			require.Error(t, err)
			v, ok := AsViolation(err)
			require.True(t, ok)
			assert.Equal(t, tt.invariant, v.Invariant)

			status := m.Status()
			assert.Equal(t, tt.killSwitch, status.KillSwitch.Engaged)
			require.NotNil(t, status.LastViolation)
			assert.Equal(t, tt.invariant, status.LastViolation.Invariant)
		})
	}
}

func TestRegister_ConcurrencyDetails(t *testing.T) {
	cfg := baseConfig()
	cfg.PositionLimits.MaxConcurrentPositions = 1
	m, _ := newTestManager(t, cfg)

	require.NoError(t, register(m, "a", 10))
	v, ok := AsViolation(register(m, "b", 10))
	require.True(t, ok)
	assert.Equal(t, "maxConcurrentPositions", v.Details["limit"])
}

func TestRegister_ProtectedWorkflows(t *testing.T) {
	cfg := baseConfig()
	cfg.Protected.Workflows = map[string]struct{}{"open-position": {}}
	m, _ := newTestManager(t, cfg)

	err := m.RegisterWorkflowExecution(RegisterRequest{
		WorkflowName: "rebalance-report",
		OperationID:  "r1",
		Params:       map[string]interface{}{"notionalUsd": 999999},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, m.Status().OpenPositions)
	assert.True(t, m.TradingAllowed())
}

func TestRegister_InputErrors(t *testing.T) {
	m, _ := newTestManager(t, baseConfig())

	assert.ErrorIs(t, register(m, "", 10), domain.ErrInvalidInput)

	require.NoError(t, register(m, "dup", 10))
	assert.ErrorIs(t, register(m, "dup", 10), domain.ErrDuplicateOperation)
	assert.InDelta(t, 10, m.Status().ExposureUSD, 1e-9)
}

func TestCompleteWorkflow_StopLoss(t *testing.T) {
	m, _ := newTestManager(t, baseConfig())

	require.NoError(t, register(m, "a", 3000))
	err := m.CompleteWorkflow("a", Completed(-2500))
	require.Error(t, err)
	assert.True(t, IsInvariant(err, domain.InvariantStopLoss))

	status := m.Status()
	assert.True(t, status.KillSwitch.Engaged)
	assert.False(t, status.TradingAllowed)
	assert.InDelta(t, 7500, status.CurrentEquityUSD, 1e-9)
	assert.InDelta(t, 0, status.ExposureUSD, 1e-9)
}

func TestCompleteWorkflow_PortfolioOrder(t *testing.T) {
	cfg := baseConfig()
	cfg.PortfolioLimits = policy.PortfolioLimits{
		MinEquityUSD:   9000,
		StopLossPct:    0.05,
		MaxDrawdownPct: 0.05,
	}
	m, _ := newTestManager(t, cfg)

	require.NoError(t, register(m, "a", 2000))
	err := m.CompleteWorkflow("a", Completed(-1500))
	assert.True(t, IsInvariant(err, domain.InvariantMinEquity))
}

func TestCompleteWorkflow_Drawdown(t *testing.T) {
	cfg := baseConfig()
	cfg.PortfolioLimits = policy.PortfolioLimits{MaxDrawdownPct: 0.1}
	m, _ := newTestManager(t, cfg)

	require.NoError(t, register(m, "win", 1000))
	require.NoError(t, m.CompleteWorkflow("win", Completed(2000)))
	assert.InDelta(t, 12000, m.Status().PeakEquityUSD, 1e-9)

	require.NoError(t, register(m, "lose", 1000))
	err := m.CompleteWorkflow("lose", Completed(-1200))
	assert.True(t, IsInvariant(err, domain.InvariantMaxDrawdown))

	status := m.Status()
	assert.InDelta(t, 12000, status.PeakEquityUSD, 1e-9)
	assert.InDelta(t, 0.1, status.DrawdownPct, 1e-9)
}

func TestCompleteWorkflow_PnLResolution(t *testing.T) {
	loss := -0.1
	tests := []struct {
		name    string
		outcome Outcome
		want    float64
	}{
		{"explicit pnl", Completed(125), 125},
		{"loss pct uses magnitude", Outcome{Status: domain.OutcomeCompleted, LossPct: &loss}, -100},
		{"failed loses notional", Failed(), -1000},
		{"completed without pnl", Outcome{Status: domain.OutcomeCompleted}, 0},
		{"canceled without pnl", Outcome{Status: domain.OutcomeCanceled}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.PortfolioLimits = policy.PortfolioLimits{}
			m, _ := newTestManager(t, cfg)

			require.NoError(t, register(m, "op", 1000))
			require.NoError(t, m.CompleteWorkflow("op", tt.outcome))
			assert.InDelta(t, tt.want, m.Status().RealizedPnLUSD, 1e-9)
		})
	}
}

func TestCompleteWorkflow_UnknownIsNoop(t *testing.T) {
	m, _ := newTestManager(t, baseConfig())
	require.NoError(t, m.CompleteWorkflow("missing", Failed()))
	assert.InDelta(t, 0, m.Status().RealizedPnLUSD, 1e-9)
}

func TestEvaluateToolInvocation(t *testing.T) {
	cfg := baseConfig()
	cfg.Protected.Tools = map[string]struct{}{"place_order": {}}
	m, _ := newTestManager(t, cfg)

	require.NoError(t, m.EvaluateToolInvocation("place_order", map[string]interface{}{"symbol": "ETH"}))
	require.NoError(t, m.EvaluateToolInvocation("get_price", map[string]interface{}{"notionalUsd": 1e9}))
	require.NoError(t, m.EvaluateToolInvocation("place_order", map[string]interface{}{"notionalUsd": 100}))
	assert.Equal(t, 0, m.Status().OpenPositions)

	err := m.EvaluateToolInvocation("place_order", map[string]interface{}{"amount": 10, "price": 600})
	require.Error(t, err)
	v, ok := AsViolation(err)
	require.True(t, ok)
	assert.Equal(t, domain.InvariantPositionSizing, v.Invariant)
	assert.Equal(t, "place_order", v.Details["tool"])
	assert.False(t, m.TradingAllowed())
}

func TestCircuitBreaker_TripAndCooldown(t *testing.T) {
	m, fc := newTestManager(t, baseConfig())
	sub := m.Subscribe(4)
	defer sub.Unsubscribe()

	assert.False(t, m.UpdateMarketVolatility(VolatilityObservation{Asset: "BTC", Volatility: 0.2}))
	assert.False(t, m.UpdateMarketVolatility(VolatilityObservation{Asset: "BTC", MetricKey: "spread", Volatility: 9}))
	assert.True(t, m.UpdateMarketVolatility(VolatilityObservation{Asset: "BTC", Volatility: 0.5}))
	assert.True(t, m.UpdateMarketVolatility(VolatilityObservation{Asset: "BTC", Volatility: 0.7}))

	require.Len(t, sub.C, 1)
	ev := <-sub.C
	assert.Equal(t, domain.EventTradingHalted, ev.Type)
	assert.Equal(t, domain.InvariantCircuitBreaker, ev.Invariant)

	status := m.Status()
	assert.True(t, status.CircuitBreaker.Active)
	assert.False(t, status.KillSwitch.Engaged)
	assert.False(t, status.TradingAllowed)
	require.NotNil(t, status.CircuitBreaker.CooldownEndsAt)
	assert.Equal(t, t0.Add(30*time.Minute), *status.CircuitBreaker.CooldownEndsAt)
	assert.Equal(t, 3, status.Metrics["volatility"].Samples)
	assert.Equal(t, 1, status.Metrics["spread"].Samples)

	err := register(m, "op", 10)
	assert.True(t, IsInvariant(err, domain.InvariantCircuitBreaker))

	fc.Advance(29 * time.Minute)
	assert.False(t, m.TradingAllowed())

	fc.Advance(time.Minute)
	assert.True(t, m.TradingAllowed())
	status = m.Status()
	assert.False(t, status.CircuitBreaker.Active)
	assert.Empty(t, status.Metrics, "samples older than retention are pruned")
}

func TestCircuitBreaker_OperatorReset(t *testing.T) {
	m, _ := newTestManager(t, baseConfig())

	require.True(t, m.UpdateMarketVolatility(VolatilityObservation{Asset: "ETH", Volatility: 1}))
	assert.True(t, m.ResetCircuitBreaker())
	assert.False(t, m.ResetCircuitBreaker())
	assert.True(t, m.TradingAllowed())
}

func TestManualOverride_BypassWithExpiry(t *testing.T) {
	m, fc := newTestManager(t, baseConfig())
	sub := m.Subscribe(8)
	defer sub.Unsubscribe()

	require.Error(t, register(m, "big", 6000))
	require.False(t, m.TradingAllowed())
	<-sub.C

	require.NoError(t, m.SetManualOverride(OverrideRequest{Active: true, Duration: 5 * time.Minute, Reason: "ops"}))
	status := m.Status()
	assert.True(t, status.TradingAllowed)
	assert.True(t, status.ManualOverride.Active)
	assert.True(t, status.KillSwitch.Engaged)
	require.NoError(t, register(m, "small", 10))

	fc.Advance(5 * time.Minute)
	status = m.Status()
	assert.False(t, status.ManualOverride.Active)
	assert.False(t, status.TradingAllowed)

	ev := <-sub.C
	assert.Equal(t, domain.EventManualOverrideExpired, ev.Type)
	assert.Empty(t, ev.Invariant)
	assert.Empty(t, ev.Reason)
}

func TestManualOverride_Policy(t *testing.T) {
	t.Run("disabled by config", func(t *testing.T) {
		cfg := baseConfig()
		cfg.ManualOverride.Allow = false
		m, _ := newTestManager(t, cfg)
		assert.ErrorIs(t, m.SetManualOverride(OverrideRequest{Active: true}), domain.ErrOverrideDisabled)
	})

	t.Run("duration exceeds max", func(t *testing.T) {
		m, _ := newTestManager(t, baseConfig())
		err := m.SetManualOverride(OverrideRequest{Active: true, Duration: 2 * time.Hour})
		assert.ErrorIs(t, err, domain.ErrOverrideDurationExceeded)
		assert.False(t, m.Status().ManualOverride.Active)
	})

	t.Run("zero duration uses max", func(t *testing.T) {
		m, _ := newTestManager(t, baseConfig())
		require.NoError(t, m.SetManualOverride(OverrideRequest{Active: true}))
		exp := m.Status().ManualOverride.ExpiresAt
		require.NotNil(t, exp)
		assert.Equal(t, t0.Add(time.Hour), *exp)
	})

	t.Run("no max means no expiry", func(t *testing.T) {
		cfg := baseConfig()
		cfg.ManualOverride.MaxDurationMinutes = 0
		m, fc := newTestManager(t, cfg)
		require.NoError(t, m.SetManualOverride(OverrideRequest{Active: true}))
		fc.Advance(24 * time.Hour)
		status := m.Status()
		assert.True(t, status.ManualOverride.Active)
		assert.Nil(t, status.ManualOverride.ExpiresAt)

		require.NoError(t, m.SetManualOverride(OverrideRequest{Active: false}))
		assert.False(t, m.Status().ManualOverride.Active)
	})

	t.Run("negative duration", func(t *testing.T) {
		m, _ := newTestManager(t, baseConfig())
		assert.ErrorIs(t, m.SetManualOverride(OverrideRequest{Active: true, Duration: -time.Second}), domain.ErrInvalidInput)
	})
}

func TestManualHalt_NotBypassedByOverride(t *testing.T) {
	m, _ := newTestManager(t, baseConfig())
	sub := m.Subscribe(4)
	defer sub.Unsubscribe()

	require.NoError(t, m.SetManualOverride(OverrideRequest{Active: true}))
	m.SetManualHalt(true, "maintenance")
	assert.False(t, m.TradingAllowed())

	err := register(m, "op", 10)
	assert.True(t, IsInvariant(err, domain.InvariantManualHalt))

	ev := <-sub.C
	assert.Equal(t, domain.EventTradingHalted, ev.Type)
	assert.Equal(t, domain.InvariantManualHalt, ev.Invariant)
	assert.Equal(t, "maintenance", ev.Reason)

	m.SetManualHalt(false, "")
	assert.True(t, m.TradingAllowed())
}

func TestPermissionPrecedence(t *testing.T) {
	m, _ := newTestManager(t, baseConfig())

	require.True(t, IsInvariant(register(m, "big", 6000), domain.InvariantPositionSizing))
	require.True(t, m.UpdateMarketVolatility(VolatilityObservation{Asset: "BTC", Volatility: 1}))

	assert.True(t, IsInvariant(register(m, "x", 1), domain.InvariantKillSwitch))

	m.SetManualHalt(true, "ops")
	assert.True(t, IsInvariant(register(m, "x", 1), domain.InvariantManualHalt))
}

func TestDisabledManager(t *testing.T) {
	m, _ := newTestManager(t, nil)

	require.NoError(t, register(m, "huge", 1e12))
	require.NoError(t, m.CompleteWorkflow("huge", Failed()))
	require.NoError(t, m.SetManualOverride(OverrideRequest{Active: true}))
	assert.False(t, m.UpdateMarketVolatility(VolatilityObservation{Volatility: 100}))
	m.SetManualHalt(true, "ignored")

	status := m.Status()
	assert.False(t, status.Enabled)
	assert.True(t, status.TradingAllowed)
	assert.True(t, m.TradingAllowed())
	assert.Empty(t, m.OpenPositions())
}

func TestFromGuardrails_InvalidConfigDisables(t *testing.T) {
	raw := map[string]interface{}{
		"initialEquityUsd": -5,
		"portfolioLimits":  map[string]interface{}{"stopLossPct": 3},
	}
	m := FromGuardrails(raw, WithLogger(quietLogger()))
	assert.False(t, m.Enabled())
	assert.True(t, m.TradingAllowed())
}

func TestFromGuardrails_Valid(t *testing.T) {
	raw := map[string]interface{}{
		"initialEquityUsd": 10000,
		"positionLimits":   map[string]interface{}{"maxPerPositionUsd": 5000},
	}
	fc := clock.NewFake(t0)
	m := FromGuardrails(raw, WithClock(fc), WithLogger(quietLogger()))
	require.True(t, m.Enabled())

	err := m.RegisterWorkflowExecution(RegisterRequest{
		WorkflowName: "any",
		OperationID:  "op",
		Params:       map[string]interface{}{"risk": map[string]interface{}{"notionalUsd": "6000"}},
	})
	assert.True(t, IsInvariant(err, domain.InvariantPositionSizing))
}

func TestParseOutcome(t *testing.T) {
	out, err := ParseOutcome(map[string]interface{}{"status": "failed", "lossPct": "0.25"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, out.Status)
	require.NotNil(t, out.LossPct)
	assert.InDelta(t, 0.25, *out.LossPct, 1e-12)

	out, err = ParseOutcome(map[string]interface{}{"pnl_usd": -12.5})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, out.Status)
	assert.InDelta(t, -12.5, *out.PnLUSD, 1e-12)

	_, err = ParseOutcome(map[string]interface{}{"status": "exploded"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = ParseOutcome(map[string]interface{}{"pnlUsd": "lots"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
