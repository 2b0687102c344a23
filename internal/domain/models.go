package domain

import "time"

// Execution представляет жизненный цикл одной отправленной операции
type Execution struct {
	ID             string                 `json:"id" db:"id"`
	Account        string                 `json:"account" db:"account"`
	Operation      Operation              `json:"operation" db:"operation"`
	Payload        map[string]interface{} `json:"payload,omitempty" db:"payload"` // JSON
	Status         ExecutionStatus        `json:"status" db:"status"`
	TxHash         string                 `json:"txHash,omitempty" db:"tx_hash"`
	BlockNumber    uint64                 `json:"blockNumber,omitempty" db:"block_number"`
	Confirmations  int                    `json:"confirmations" db:"confirmations"`
	Receipt        map[string]interface{} `json:"receipt,omitempty" db:"receipt"` // JSON
	Attempts       int                    `json:"attempts" db:"attempts"`
	IdempotencyKey string                 `json:"idempotencyKey" db:"idempotency_key"`
	FailureReason  string                 `json:"failureReason,omitempty" db:"failure_reason"`
	FailureError   string                 `json:"failureError,omitempty" db:"failure_error"`
	CreatedAt      time.Time              `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time              `json:"updatedAt" db:"updated_at"`
	SubmittedAt    *time.Time             `json:"submittedAt,omitempty" db:"submitted_at"`
	ConfirmedAt    *time.Time             `json:"confirmedAt,omitempty" db:"confirmed_at"`
	FailedAt       *time.Time             `json:"failedAt,omitempty" db:"failed_at"`
	CancelledAt    *time.Time             `json:"cancelledAt,omitempty" db:"cancelled_at"`
}

// Clone возвращает глубокую копию записи
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	c := *e
	c.Payload = CloneMap(e.Payload)
	c.Receipt = CloneMap(e.Receipt)
	c.SubmittedAt = cloneTime(e.SubmittedAt)
	c.ConfirmedAt = cloneTime(e.ConfirmedAt)
	c.FailedAt = cloneTime(e.FailedAt)
	c.CancelledAt = cloneTime(e.CancelledAt)
	return &c
}

// RiskEvent событие риск-менеджера для подписчиков (алерты, аудит)
type RiskEvent struct {
	ID        string        `json:"id" db:"id"`
	Type      RiskEventType `json:"type" db:"event_type"`
	Invariant Invariant     `json:"invariant,omitempty" db:"invariant"`
	Reason    string        `json:"reason,omitempty" db:"reason"`
	Timestamp time.Time     `json:"timestamp" db:"occurred_at"`
}

// CloneMap копирует map рекурсивно (вложенные map и slice)
func CloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return CloneMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
