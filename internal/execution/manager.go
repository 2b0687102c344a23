package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/trade-guard/internal/clock"
	"github.com/kirillm/trade-guard/internal/domain"
	"github.com/kirillm/trade-guard/pkg/utils"
)

// Config параметры жизненного цикла исполнений
type Config struct {
	MaxRetries         int
	RetryDelay         time.Duration
	ConfirmationBlocks int
}

// DefaultConfig 3 повтора, базовая задержка 2s, 2 подтверждения
func DefaultConfig() Config {
	return Config{
		MaxRetries:         3,
		RetryDelay:         2 * time.Second,
		ConfirmationBlocks: 2,
	}
}

// CreateRequest запрос на создание исполнения
type CreateRequest struct {
	Account        string
	Operation      domain.Operation
	Payload        map[string]interface{}
	IdempotencyKey string // пусто = вычисляется из account, operation, payload
}

// Confirmation данные подтверждения транзакции
type Confirmation struct {
	BlockNumber   uint64
	Confirmations int
	Receipt       map[string]interface{}
}

// Failure причина неудачи
type Failure struct {
	Reason string
	Err    error
}

// ListFilter фильтр ListExecutions
type ListFilter struct {
	Account string
	Status  domain.ExecutionStatus // пусто = любой
}

// Option настройка менеджера
type Option func(*Manager)

// WithClock подменяет источник времени (ожидание повторов тоже идет через него)
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger задает логгер
func WithLogger(l *utils.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager отслеживает жизненный цикл исполнений.
// Все методы возвращают копии; изменить хранимую запись снаружи нельзя.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	clock    clock.Clock
	logger   *utils.Logger
	store    *store
	retrying map[string]struct{}
}

// NewManager создает менеджер исполнений
func NewManager(cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.ConfirmationBlocks <= 0 {
		cfg.ConfirmationBlocks = def.ConfirmationBlocks
	}

	m := &Manager{
		cfg:      cfg,
		clock:    clock.Real{},
		logger:   utils.Default(),
		store:    newStore(),
		retrying: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config возвращает действующие параметры
func (m *Manager) Config() Config {
	return m.cfg
}

// CreateExecution создает запись или возвращает существующую с тем же ключом
// идемпотентности. created=false означает, что запись уже была.
func (m *Manager) CreateExecution(req CreateRequest) (*domain.Execution, bool, error) {
	if req.Account == "" {
		return nil, false, fmt.Errorf("%w: account is required", domain.ErrInvalidInput)
	}
	if !req.Operation.Valid() {
		return nil, false, fmt.Errorf("%w: unknown operation %q", domain.ErrInvalidInput, req.Operation)
	}

	key := req.IdempotencyKey
	if key == "" {
		var err error
		key, err = IdempotencyKey(req.Account, req.Operation, req.Payload)
		if err != nil {
			return nil, false, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.store.getByKey(key); ok {
		m.logger.Debug("execution %s reused for idempotency key %s", existing.ID, key)
		return existing.Clone(), false, nil
	}

	now := m.clock.Now()
	rec := &domain.Execution{
		ID:             utils.NewExecutionID(),
		Account:        req.Account,
		Operation:      req.Operation,
		Payload:        domain.CloneMap(req.Payload),
		Status:         domain.StatusPending,
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.store.insert(rec)

	m.logger.WithFields(map[string]interface{}{
		"execution": rec.ID,
		"account":   rec.Account,
		"operation": rec.Operation,
	}).Info("execution created")
	return rec.Clone(), true, nil
}

// MarkSubmitted pending|failed -> submitted, увеличивает счетчик попыток
func (m *Manager) MarkSubmitted(id, txHash string) (*domain.Execution, error) {
	return m.mutate(id, func(rec *domain.Execution, now time.Time) error {
		if rec.Status != domain.StatusPending && rec.Status != domain.StatusFailed {
			return transitionError(rec, domain.StatusSubmitted)
		}
		rec.Status = domain.StatusSubmitted
		rec.TxHash = txHash
		rec.SubmittedAt = &now
		rec.Attempts++
		return nil
	})
}

// MarkConfirmed submitted -> confirmed; повторное подтверждение ничего не меняет
func (m *Manager) MarkConfirmed(id string, c Confirmation) (*domain.Execution, error) {
	return m.mutate(id, func(rec *domain.Execution, now time.Time) error {
		switch rec.Status {
		case domain.StatusConfirmed:
			return errNoChange
		case domain.StatusSubmitted:
		default:
			return transitionError(rec, domain.StatusConfirmed)
		}
		rec.Status = domain.StatusConfirmed
		rec.BlockNumber = c.BlockNumber
		rec.Confirmations = c.Confirmations
		rec.Receipt = domain.CloneMap(c.Receipt)
		rec.ConfirmedAt = &now
		return nil
	})
}

// MarkFailed pending|submitted -> failed
func (m *Manager) MarkFailed(id string, f Failure) (*domain.Execution, error) {
	return m.mutate(id, func(rec *domain.Execution, now time.Time) error {
		if rec.Status != domain.StatusPending && rec.Status != domain.StatusSubmitted {
			return transitionError(rec, domain.StatusFailed)
		}
		rec.Status = domain.StatusFailed
		rec.FailureReason = f.Reason
		rec.FailureError = ""
		if f.Err != nil {
			rec.FailureError = f.Err.Error()
		}
		rec.FailedAt = &now
		return nil
	})
}

// MarkSubmitFailed pending -> failed, когда площадка отклонила отправку.
// Попытка засчитывается, поэтому Retry ограничен maxRetries и backoff растет.
func (m *Manager) MarkSubmitFailed(id string, f Failure) (*domain.Execution, error) {
	return m.mutate(id, func(rec *domain.Execution, now time.Time) error {
		if rec.Status != domain.StatusPending {
			return transitionError(rec, domain.StatusFailed)
		}
		rec.Status = domain.StatusFailed
		rec.FailureReason = f.Reason
		rec.FailureError = ""
		if f.Err != nil {
			rec.FailureError = f.Err.Error()
		}
		rec.FailedAt = &now
		rec.Attempts++
		return nil
	})
}

// Retry ждет retryDelay * 2^(attempts-1) и возвращает failed запись в pending.
// Ожидание идет без блокировки менеджера; отмена ctx прерывает его.
func (m *Manager) Retry(ctx context.Context, id string) (*domain.Execution, error) {
	m.mu.Lock()
	rec, ok := m.store.get(id)
	if !ok {
		m.mu.Unlock()
		return nil, notFound(id)
	}
	if _, busy := m.retrying[id]; busy {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrRetryInProgress, id)
	}
	if rec.Attempts >= m.cfg.MaxRetries {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s after %d attempts", domain.ErrMaxRetriesExceeded, id, rec.Attempts)
	}
	if rec.Status != domain.StatusFailed {
		err := transitionError(rec, domain.StatusPending)
		m.mu.Unlock()
		return nil, err
	}
	attempts := rec.Attempts
	delay := backoff(m.cfg.RetryDelay, attempts)
	m.retrying[id] = struct{}{}
	m.mu.Unlock()

	m.logger.Info("retrying execution %s in %s (attempt %d/%d)", id, delay, attempts+1, m.cfg.MaxRetries)

	defer func() {
		m.mu.Lock()
		delete(m.retrying, id)
		m.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.clock.After(delay):
	}

	return m.mutate(id, func(rec *domain.Execution, now time.Time) error {
		if rec.Status != domain.StatusFailed {
			return transitionError(rec, domain.StatusPending)
		}
		rec.Status = domain.StatusPending
		rec.FailureReason = ""
		rec.FailureError = ""
		rec.FailedAt = nil
		return nil
	})
}

// UpdateConfirmations сохраняет число подтверждений; submitted запись
// становится confirmed по достижении порога
func (m *Manager) UpdateConfirmations(id string, count int) (*domain.Execution, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: negative confirmations", domain.ErrInvalidInput)
	}
	return m.mutate(id, func(rec *domain.Execution, now time.Time) error {
		rec.Confirmations = count
		if rec.Status == domain.StatusSubmitted && count >= m.cfg.ConfirmationBlocks {
			rec.Status = domain.StatusConfirmed
			rec.ConfirmedAt = &now
			m.logger.Info("execution %s confirmed with %d confirmations", rec.ID, count)
		}
		return nil
	})
}

// HandleReorg сбрасывает подтверждения и возвращает запись в submitted.
// Хэш транзакции сохраняется.
func (m *Manager) HandleReorg(id string) (*domain.Execution, error) {
	return m.mutate(id, func(rec *domain.Execution, now time.Time) error {
		if rec.Status != domain.StatusSubmitted && rec.Status != domain.StatusConfirmed {
			return transitionError(rec, domain.StatusSubmitted)
		}
		if rec.Status == domain.StatusConfirmed {
			m.logger.Warn("reorg reverted confirmed execution %s (tx %s)", rec.ID, rec.TxHash)
		}
		rec.Status = domain.StatusSubmitted
		rec.Confirmations = 0
		rec.ConfirmedAt = nil
		return nil
	})
}

// Cancel pending|failed -> cancelled (терминальный статус)
func (m *Manager) Cancel(id, reason string) (*domain.Execution, error) {
	return m.mutate(id, func(rec *domain.Execution, now time.Time) error {
		if rec.Status != domain.StatusPending && rec.Status != domain.StatusFailed {
			return transitionError(rec, domain.StatusCancelled)
		}
		if _, busy := m.retrying[rec.ID]; busy {
			m.logger.Warn("execution %s cancelled while a retry is pending", rec.ID)
		}
		rec.Status = domain.StatusCancelled
		if reason != "" {
			rec.FailureReason = reason
		}
		rec.CancelledAt = &now
		return nil
	})
}

// GetExecution возвращает копию записи
func (m *Manager) GetExecution(id string) (*domain.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.store.get(id)
	if !ok {
		return nil, notFound(id)
	}
	return rec.Clone(), nil
}

// ListExecutions записи аккаунта в порядке создания
func (m *Manager) ListExecutions(f ListFilter) ([]*domain.Execution, error) {
	if f.Account == "" {
		return nil, fmt.Errorf("%w: account is required", domain.ErrInvalidInput)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, f.Status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.store.list(func(rec *domain.Execution) bool {
		return rec.Account == f.Account && (f.Status == "" || rec.Status == f.Status)
	})
	out := make([]*domain.Execution, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Clone())
	}
	return out, nil
}

// Len количество записей
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.len()
}

// mutate применяет переход под блокировкой и возвращает копию записи
func (m *Manager) mutate(id string, fn func(rec *domain.Execution, now time.Time) error) (*domain.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.store.get(id)
	if !ok {
		return nil, notFound(id)
	}

	prev := rec.Status
	now := m.clock.Now()
	if err := fn(rec, now); err != nil {
		if err == errNoChange {
			return rec.Clone(), nil
		}
		return nil, err
	}
	rec.UpdatedAt = now

	if prev != rec.Status {
		m.logger.WithFields(map[string]interface{}{
			"execution": rec.ID,
			"from":      prev,
			"to":        rec.Status,
			"attempts":  rec.Attempts,
		}).Info("execution status changed")
	}
	return rec.Clone(), nil
}

// backoff retryDelay * 2^(attempts-1); attempts < 1 считается как 1
func backoff(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	shift := attempts - 1
	if shift > 30 {
		shift = 30
	}
	return base * time.Duration(1<<uint(shift))
}
