package risk

import (
	"errors"
	"fmt"
	"time"

	"github.com/kirillm/trade-guard/internal/domain"
)

// Violation нарушение guardrail, возвращается вызывающему синхронно.
// Внутри менеджера никогда не повторяется.
type Violation struct {
	Invariant domain.Invariant       `json:"invariant"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Invariant, v.Message)
}

// AsViolation извлекает *Violation из цепочки ошибок
func AsViolation(err error) (*Violation, bool) {
	var v *Violation
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// IsInvariant проверяет что ошибка является нарушением конкретного инварианта
func IsInvariant(err error, inv domain.Invariant) bool {
	v, ok := AsViolation(err)
	return ok && v.Invariant == inv
}

func newViolation(inv domain.Invariant, at time.Time, details map[string]interface{}, format string, args ...interface{}) *Violation {
	return &Violation{
		Invariant: inv,
		Message:   fmt.Sprintf(format, args...),
		Details:   details,
		Timestamp: at,
	}
}

func (v *Violation) clone() *Violation {
	if v == nil {
		return nil
	}
	c := *v
	c.Details = domain.CloneMap(v.Details)
	return &c
}
