package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillm/trade-guard/internal/domain"
	"github.com/kirillm/trade-guard/internal/storage/repository"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// PoolConfig параметры пула соединений
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Storage журнал аудита: события риска и снапшоты исполнений.
// Поддерживает PostgreSQL (lib/pq) и SQLite (go-sqlite3).
type Storage struct {
	db         *sql.DB
	dialect    repository.Dialect
	riskEvents *repository.RiskEventRepository
	executions *repository.ExecutionRepository
}

// Open подключается к базе, настраивает пул и запускает миграции
func Open(ctx context.Context, driver, dsn string, pool PoolConfig) (*Storage, error) {
	dialect := repository.Dialect(driver)
	if dialect != repository.Postgres && dialect != repository.SQLite {
		return nil, fmt.Errorf("%w: unsupported database driver %q", domain.ErrInvalidInput, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite не допускает параллельных писателей
	if dialect == repository.SQLite {
		pool.MaxOpenConns = 1
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	s := &Storage{
		db:         db,
		dialect:    dialect,
		riskEvents: repository.NewRiskEventRepository(db, dialect),
		executions: repository.NewExecutionRepository(db, dialect),
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *Storage) migrate(ctx context.Context) error {
	ts := "TIMESTAMPTZ"
	if s.dialect == repository.SQLite {
		ts = "TIMESTAMP"
	}

	migrations := []string{
		// Журнал событий риск-менеджера
		`CREATE TABLE IF NOT EXISTS risk_events (
			id VARCHAR(26) PRIMARY KEY,
			event_type VARCHAR(40) NOT NULL,
			invariant VARCHAR(40) NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			occurred_at ` + ts + ` NOT NULL
		)`,
		// Последнее известное состояние каждого исполнения
		`CREATE TABLE IF NOT EXISTS executions (
			id VARCHAR(36) PRIMARY KEY,
			account VARCHAR(128) NOT NULL,
			operation VARCHAR(10) NOT NULL,
			payload TEXT,
			status VARCHAR(20) NOT NULL,
			tx_hash VARCHAR(128) NOT NULL DEFAULT '',
			block_number BIGINT NOT NULL DEFAULT 0,
			confirmations INTEGER NOT NULL DEFAULT 0,
			receipt TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			idempotency_key VARCHAR(128) NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			failure_error TEXT NOT NULL DEFAULT '',
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL,
			submitted_at ` + ts + `,
			confirmed_at ` + ts + `,
			failed_at ` + ts + `,
			cancelled_at ` + ts + `
		)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_events_occurred_at ON risk_events(occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_account ON executions(account, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// RiskEvents репозиторий событий риска
func (s *Storage) RiskEvents() domain.RiskEventRepository {
	return s.riskEvents
}

// Executions репозиторий снапшотов исполнений
func (s *Storage) Executions() domain.ExecutionRepository {
	return s.executions
}

// Dialect используемый SQL-диалект
func (s *Storage) Dialect() repository.Dialect {
	return s.dialect
}

// Ping проверяет соединение (для /health)
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close закрывает соединение с базой данных
func (s *Storage) Close() error {
	return s.db.Close()
}
