package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirillm/trade-guard/internal/domain"
)

// ExecutionRepository снапшоты исполнений для аудита
type ExecutionRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewExecutionRepository создает новый репозиторий
func NewExecutionRepository(db *sql.DB, dialect Dialect) *ExecutionRepository {
	return &ExecutionRepository{db: db, dialect: dialect}
}

const executionColumns = `
	id, account, operation, payload, status, tx_hash, block_number,
	confirmations, receipt, attempts, idempotency_key, failure_reason,
	failure_error, created_at, updated_at, submitted_at, confirmed_at,
	failed_at, cancelled_at`

// Upsert сохраняет последнее состояние исполнения
func (r *ExecutionRepository) Upsert(ctx context.Context, e *domain.Execution) error {
	payload, err := marshalJSON(e.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	receipt, err := marshalJSON(e.Receipt)
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}

	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			tx_hash = excluded.tx_hash,
			block_number = excluded.block_number,
			confirmations = excluded.confirmations,
			receipt = excluded.receipt,
			attempts = excluded.attempts,
			failure_reason = excluded.failure_reason,
			failure_error = excluded.failure_error,
			updated_at = excluded.updated_at,
			submitted_at = excluded.submitted_at,
			confirmed_at = excluded.confirmed_at,
			failed_at = excluded.failed_at,
			cancelled_at = excluded.cancelled_at
	`
	_, err = r.db.ExecContext(ctx, r.dialect.Rebind(query),
		e.ID,
		e.Account,
		string(e.Operation),
		payload,
		string(e.Status),
		e.TxHash,
		int64(e.BlockNumber),
		e.Confirmations,
		receipt,
		e.Attempts,
		e.IdempotencyKey,
		e.FailureReason,
		e.FailureError,
		e.CreatedAt.UTC(),
		e.UpdatedAt.UTC(),
		nullTime(e.SubmittedAt),
		nullTime(e.ConfirmedAt),
		nullTime(e.FailedAt),
		nullTime(e.CancelledAt),
	)
	if err != nil {
		return fmt.Errorf("upsert execution %s: %w", e.ID, err)
	}
	return nil
}

// Get получает исполнение по ID
func (r *ExecutionRepository) Get(ctx context.Context, id string) (*domain.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = ?`
	rows, err := r.query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("execution %s: %w", id, domain.ErrNotFound)
	}
	return &rows[0], nil
}

// ListByAccount последние исполнения аккаунта, новые первыми
func (r *ExecutionRepository) ListByAccount(ctx context.Context, account string, limit int) ([]domain.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE account = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	return r.query(ctx, query, account, limit)
}

// query helper
func (r *ExecutionRepository) query(ctx context.Context, query string, args ...interface{}) ([]domain.Execution, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []domain.Execution
	for rows.Next() {
		var (
			e                                          domain.Execution
			operation, status                          string
			payload, receipt                           sql.NullString
			blockNumber                                int64
			submittedAt, confirmedAt, failedAt, cancAt sql.NullTime
		)
		err := rows.Scan(
			&e.ID,
			&e.Account,
			&operation,
			&payload,
			&status,
			&e.TxHash,
			&blockNumber,
			&e.Confirmations,
			&receipt,
			&e.Attempts,
			&e.IdempotencyKey,
			&e.FailureReason,
			&e.FailureError,
			&e.CreatedAt,
			&e.UpdatedAt,
			&submittedAt,
			&confirmedAt,
			&failedAt,
			&cancAt,
		)
		if err != nil {
			return nil, err
		}

		e.Operation = domain.Operation(operation)
		e.Status = domain.ExecutionStatus(status)
		e.BlockNumber = uint64(blockNumber)
		if e.Payload, err = unmarshalJSON(payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", e.ID, err)
		}
		if e.Receipt, err = unmarshalJSON(receipt); err != nil {
			return nil, fmt.Errorf("decode receipt of %s: %w", e.ID, err)
		}
		e.SubmittedAt = timePtr(submittedAt)
		e.ConfirmedAt = timePtr(confirmedAt)
		e.FailedAt = timePtr(failedAt)
		e.CancelledAt = timePtr(cancAt)
		executions = append(executions, e)
	}

	return executions, rows.Err()
}

func marshalJSON(m map[string]interface{}) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalJSON(s sql.NullString) (map[string]interface{}, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
