package domain

import (
	"context"
	"time"
)

// RiskEventRepository определяет интерфейс журнала событий риска
type RiskEventRepository interface {
	Save(ctx context.Context, event *RiskEvent) error
	GetRecent(ctx context.Context, limit int) ([]RiskEvent, error)
	CountByType(ctx context.Context, since time.Time) (map[RiskEventType]int, error)
}

// ExecutionRepository определяет интерфейс хранения снапшотов исполнений
type ExecutionRepository interface {
	Upsert(ctx context.Context, exec *Execution) error
	Get(ctx context.Context, id string) (*Execution, error)
	ListByAccount(ctx context.Context, account string, limit int) ([]Execution, error)
}
