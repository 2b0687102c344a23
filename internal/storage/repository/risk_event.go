package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillm/trade-guard/internal/domain"
)

// RiskEventRepository журнал событий риск-менеджера
type RiskEventRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewRiskEventRepository создает новый репозиторий
func NewRiskEventRepository(db *sql.DB, dialect Dialect) *RiskEventRepository {
	return &RiskEventRepository{db: db, dialect: dialect}
}

// Save сохраняет событие; повторная запись с тем же ID игнорируется
func (r *RiskEventRepository) Save(ctx context.Context, event *domain.RiskEvent) error {
	if event.ID == "" {
		return fmt.Errorf("%w: risk event id is required", domain.ErrInvalidInput)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	query := `
		INSERT INTO risk_events (id, event_type, invariant, reason, occurred_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(query),
		event.ID,
		string(event.Type),
		string(event.Invariant),
		event.Reason,
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save risk event %s: %w", event.ID, err)
	}
	return nil
}

// GetRecent получает последние N событий, новые первыми
func (r *RiskEventRepository) GetRecent(ctx context.Context, limit int) ([]domain.RiskEvent, error) {
	query := `
		SELECT id, event_type, invariant, reason, occurred_at
		FROM risk_events
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.RiskEvent
	for rows.Next() {
		var (
			e         domain.RiskEvent
			eventType string
			invariant string
		)
		if err := rows.Scan(&e.ID, &eventType, &invariant, &e.Reason, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Type = domain.RiskEventType(eventType)
		e.Invariant = domain.Invariant(invariant)
		events = append(events, e)
	}

	return events, rows.Err()
}

// CountByType статистика событий по типам начиная с since
func (r *RiskEventRepository) CountByType(ctx context.Context, since time.Time) (map[domain.RiskEventType]int, error) {
	query := `
		SELECT event_type, COUNT(*) AS count
		FROM risk_events
		WHERE occurred_at >= ?
		GROUP BY event_type
	`
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[domain.RiskEventType]int)
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		stats[domain.RiskEventType(eventType)] = count
	}

	return stats, rows.Err()
}
