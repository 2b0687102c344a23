package execution

import (
	"errors"
	"fmt"

	"github.com/kirillm/trade-guard/internal/domain"
)

var errNoChange = errors.New("no change")

func notFound(id string) error {
	return fmt.Errorf("execution %s: %w", id, domain.ErrNotFound)
}

func transitionError(rec *domain.Execution, to domain.ExecutionStatus) error {
	return fmt.Errorf("%w: execution %s %s -> %s", domain.ErrInvalidTransition, rec.ID, rec.Status, to)
}
