package risk

import (
	"fmt"
	"math"
	"strings"

	"github.com/kirillm/trade-guard/internal/domain"
	"github.com/kirillm/trade-guard/internal/policy"
	"github.com/shopspring/decimal"
)

// Outcome итог операции, переданный в CompleteWorkflow
type Outcome struct {
	Status   string                 `json:"status"`
	PnLUSD   *float64               `json:"pnlUsd,omitempty"`
	LossPct  *float64               `json:"lossPct,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Completed успешный итог с известным PnL
func Completed(pnl float64) Outcome {
	return Outcome{Status: domain.OutcomeCompleted, PnLUSD: &pnl}
}

// Failed неуспешный итог; без PnL теряется весь номинал
func Failed() Outcome {
	return Outcome{Status: domain.OutcomeFailed}
}

// ParseOutcome разбирает итог из нетипизированной map
func ParseOutcome(raw map[string]interface{}) (Outcome, error) {
	var out Outcome

	status, _ := raw["status"].(string)
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "":
		status = domain.OutcomeCompleted
	case domain.OutcomeCompleted, domain.OutcomeFailed, domain.OutcomeCanceled:
	case "cancelled":
		status = domain.OutcomeCanceled
	default:
		return out, fmt.Errorf("%w: unknown outcome status %q", domain.ErrInvalidInput, status)
	}
	out.Status = status

	for _, key := range []string{"pnlUsd", "pnl_usd", "pnl"} {
		if v, ok := raw[key]; ok {
			f, ok := policy.ToFloat(v)
			if !ok {
				return out, fmt.Errorf("%w: %s must be a number", domain.ErrInvalidInput, key)
			}
			out.PnLUSD = &f
			break
		}
	}
	for _, key := range []string{"lossPct", "loss_pct"} {
		if v, ok := raw[key]; ok {
			f, ok := policy.ToFloat(v)
			if !ok {
				return out, fmt.Errorf("%w: %s must be a number", domain.ErrInvalidInput, key)
			}
			out.LossPct = &f
			break
		}
	}
	if md, ok := raw["metadata"].(map[string]interface{}); ok {
		out.Metadata = domain.CloneMap(md)
	}
	return out, nil
}

// resolvePnL pnlUsd, иначе -|lossPct|*notional, иначе -notional для failed, иначе 0
func (o Outcome) resolvePnL(notional float64) decimal.Decimal {
	switch {
	case o.PnLUSD != nil:
		return decimal.NewFromFloat(*o.PnLUSD)
	case o.LossPct != nil:
		return decimal.NewFromFloat(math.Abs(*o.LossPct)).Mul(decimal.NewFromFloat(notional)).Neg()
	case o.Status == domain.OutcomeFailed:
		return decimal.NewFromFloat(notional).Neg()
	default:
		return decimal.Zero
	}
}
