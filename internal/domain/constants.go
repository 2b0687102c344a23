package domain

// ExecutionStatus статус исполнения операции
type ExecutionStatus string

// Execution statuses
const (
	StatusPending   ExecutionStatus = "pending"
	StatusSubmitted ExecutionStatus = "submitted"
	StatusConfirmed ExecutionStatus = "confirmed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal возвращает true для статусов, из которых нет переходов
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusCancelled
}

// Valid проверяет что статус известен
func (s ExecutionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSubmitted, StatusConfirmed, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Operation вид торговой операции
type Operation string

// Operation kinds
const (
	OperationOpen   Operation = "open"
	OperationAdjust Operation = "adjust"
	OperationClose  Operation = "close"
)

// Valid проверяет что вид операции известен
func (o Operation) Valid() bool {
	return o == OperationOpen || o == OperationAdjust || o == OperationClose
}

// Invariant тег нарушенного инварианта риска
type Invariant string

// Risk invariants
const (
	InvariantPositionSizing Invariant = "risk.position-sizing"
	InvariantMaxExposure    Invariant = "risk.max-exposure"
	InvariantStopLoss       Invariant = "risk.stop-loss"
	InvariantMaxDrawdown    Invariant = "risk.max-drawdown"
	InvariantMinEquity      Invariant = "risk.min-equity"
	InvariantKillSwitch     Invariant = "risk.kill-switch"
	InvariantCircuitBreaker Invariant = "risk.circuit-breaker"
	InvariantManualHalt     Invariant = "risk.manual-halt"
)

// RiskEventType тип события риск-менеджера
type RiskEventType string

// Risk event types
const (
	EventKillSwitchEngaged     RiskEventType = "kill-switch-engaged"
	EventTradingHalted         RiskEventType = "trading-halted"
	EventManualOverrideExpired RiskEventType = "manual-override-expired"
)

// Outcome statuses reported by the orchestrator
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
)

// Special symbols
const (
	AssetUnknown = "UNKNOWN"
	AssetDefault = "default"
)
