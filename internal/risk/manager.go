package risk

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kirillm/trade-guard/internal/clock"
	"github.com/kirillm/trade-guard/internal/domain"
	"github.com/kirillm/trade-guard/internal/policy"
	"github.com/kirillm/trade-guard/pkg/utils"
)

// Manager движок guardrails: допускает или отклоняет торговые операции
// и хранит глобальное состояние разрешения торговли.
//
// Все изменения состояния сериализуются одним мьютексом. Истечение
// override и cooldown circuit breaker проверяются лениво на каждом
// вызове, поэтому Status() тоже может изменить эти поля.
type Manager struct {
	mu      sync.Mutex
	cfg     *policy.Guardrails
	enabled bool
	clock   clock.Clock
	logger  *utils.Logger
	bus     *EventBus
	state   *runtimeState
}

// Option настройка менеджера
type Option func(*Manager)

// WithClock подменяет источник времени
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger задает логгер
func WithLogger(l *utils.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// RegisterRequest запрос на допуск stateful операции
type RegisterRequest struct {
	WorkflowName string
	OriginID     string
	OperationID  string
	ContextID    string
	Params       map[string]interface{}
	Metadata     map[string]interface{}
}

// FromGuardrails строит менеджер из нетипизированной конфигурации.
// Ошибки конфигурации логируются по полям, и менеджер возвращается
// выключенным вместо отказа вызывающему.
func FromGuardrails(raw map[string]interface{}, opts ...Option) *Manager {
	cfg, err := policy.Parse(raw)
	if err != nil {
		m := New(nil, opts...)
		var verr *policy.ValidationError
		if errors.As(err, &verr) {
			for _, f := range verr.Fields {
				m.logger.WithFields(map[string]interface{}{
					"field": f.Field,
					"error": f.Message,
				}).Error("invalid guardrail configuration")
			}
		} else {
			m.logger.Error("invalid guardrail configuration: %v", err)
		}
		m.logger.Warn("guardrails disabled: configuration rejected, trading is NOT risk-checked")
		return m
	}
	return New(cfg, opts...)
}

// New создает менеджер из уже валидированной конфигурации.
// nil или Enabled=false дают выключенный менеджер: все операции no-op.
func New(cfg *policy.Guardrails, opts ...Option) *Manager {
	if cfg == nil {
		cfg = &policy.Guardrails{}
	}

	m := &Manager{
		cfg:     cfg.Clone(),
		enabled: cfg.Enabled,
		clock:   clock.Real{},
		logger:  utils.Default(),
		bus:     NewEventBus(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state = newRuntimeState(m.cfg.InitialEquityUSD)
	return m
}

// Enabled true если guardrails применяются
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Subscribe подписка на события kill switch, остановки торговли и истечения override
func (m *Manager) Subscribe(buffer int) *Subscription {
	return m.bus.Subscribe(buffer)
}

// RegisterWorkflowExecution проверяет операцию и, при успехе, открывает позицию
func (m *Manager) RegisterWorkflowExecution(req RegisterRequest) error {
	if !m.enabled {
		return nil
	}
	if req.OperationID == "" {
		return fmt.Errorf("%w: operation id is required", domain.ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.refreshLocked(now)

	if !m.cfg.IsWorkflowProtected(req.WorkflowName) {
		m.logger.Debug("workflow %s is not protected, skipping risk checks", req.WorkflowName)
		return nil
	}

	if v := m.permissionViolationLocked(now); v != nil {
		m.state.lastViolation = v
		return v
	}

	if _, exists := m.state.positions[req.OperationID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateOperation, req.OperationID)
	}

	notional, ok := policy.ExtractNotional(req.Params)
	if !ok {
		v := newViolation(domain.InvariantPositionSizing, now,
			map[string]interface{}{"workflow": req.WorkflowName, "operationId": req.OperationID},
			"cannot derive notional for workflow %s", req.WorkflowName)
		m.state.lastViolation = v
		return v
	}
	asset := policy.ExtractAsset(req.Params)

	if v := m.checkSizingLocked(now, asset, notional); v != nil {
		m.engageKillSwitchLocked(v)
		return v
	}
	if v := m.checkExposureLocked(now, notional); v != nil {
		m.engageKillSwitchLocked(v)
		return v
	}
	if v := m.checkConcurrencyLocked(now); v != nil {
		m.engageKillSwitchLocked(v)
		return v
	}

	pos := &OpenPosition{
		OperationID:  req.OperationID,
		WorkflowName: req.WorkflowName,
		OriginID:     req.OriginID,
		ContextID:    req.ContextID,
		Asset:        asset,
		NotionalUSD:  notional,
		OpenedAt:     now,
		Metadata:     domain.CloneMap(req.Metadata),
	}
	if lev, ok := policy.ExtractLeverage(req.Params); ok {
		pos.Leverage = &lev
	}
	m.state.addPosition(pos)

	m.logger.WithFields(map[string]interface{}{
		"operation": req.OperationID,
		"workflow":  req.WorkflowName,
		"asset":     asset,
		"notional":  notional,
		"exposure":  m.state.exposure.InexactFloat64(),
	}).Info("position registered")
	return nil
}

// CompleteWorkflow закрывает позицию, учитывает PnL и проверяет
// инварианты портфеля. Неизвестная операция игнорируется.
func (m *Manager) CompleteWorkflow(operationID string, outcome Outcome) error {
	if !m.enabled {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.refreshLocked(now)

	pos, ok := m.state.removePosition(operationID)
	if !ok {
		m.logger.Debug("complete for unknown operation %s ignored", operationID)
		return nil
	}

	pnl := outcome.resolvePnL(pos.NotionalUSD)
	m.state.applyPnL(pnl)

	m.logger.WithFields(map[string]interface{}{
		"operation": operationID,
		"status":    outcome.Status,
		"pnl":       pnl.InexactFloat64(),
		"equity":    m.state.currentEquity().InexactFloat64(),
	}).Info("position completed")

	if v := m.checkPortfolioLocked(now); v != nil {
		m.engageKillSwitchLocked(v)
		return v
	}
	return nil
}

// CancelWorkflow освобождает экспозицию операции, которая не исполнялась.
// PnL и equity не меняются.
func (m *Manager) CancelWorkflow(operationID string) bool {
	if !m.enabled {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshLocked(m.clock.Now())
	_, ok := m.state.removePosition(operationID)
	if ok {
		m.logger.Info("position %s cancelled, exposure %.2f", operationID, m.state.exposure.InexactFloat64())
	}
	return ok
}

// EvaluateToolInvocation stateless проверка вызова торгового инструмента.
// Без извлекаемого номинала вызов допускается без проверок.
func (m *Manager) EvaluateToolInvocation(toolName string, args map[string]interface{}) error {
	if !m.enabled {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.refreshLocked(now)

	if !m.cfg.IsToolProtected(toolName) {
		return nil
	}
	notional, ok := policy.ExtractNotional(args)
	if !ok {
		return nil
	}

	if v := m.permissionViolationLocked(now); v != nil {
		m.state.lastViolation = v
		return v
	}

	asset := policy.ExtractAsset(args)
	if v := m.checkSizingLocked(now, asset, notional); v != nil {
		v.Details["tool"] = toolName
		m.engageKillSwitchLocked(v)
		return v
	}
	if v := m.checkExposureLocked(now, notional); v != nil {
		v.Details["tool"] = toolName
		m.engageKillSwitchLocked(v)
		return v
	}
	return nil
}

// OpenPositions список открытых позиций в порядке открытия
func (m *Manager) OpenPositions() []OpenPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.sortedPositions()
}
