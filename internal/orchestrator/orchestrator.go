package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/trade-guard/internal/domain"
	"github.com/kirillm/trade-guard/internal/execution"
	"github.com/kirillm/trade-guard/internal/risk"
	"github.com/kirillm/trade-guard/pkg/utils"
)

// Mode режим работы orchestrator
type Mode string

const (
	ModeShadow Mode = "shadow" // Проверки риска выполняются, но на площадку ничего не уходит
	ModeLive   Mode = "live"   // Полное исполнение
)

// ErrAlreadyRunning возвращается при повторном Start
var ErrAlreadyRunning = errors.New("orchestrator already running")

// Venue площадка исполнения (биржа, RPC цепочки).
// Возвращает хэш транзакции или идентификатор ордера.
type Venue interface {
	Submit(ctx context.Context, exec domain.Execution) (string, error)
}

// Config конфигурация orchestrator
type Config struct {
	Mode            Mode
	RefreshInterval time.Duration // Период принудительной проверки ленивых таймеров риска (0 = выключено)
}

// SubmitRequest запрос агента на stateful операцию
type SubmitRequest struct {
	WorkflowName   string
	OriginID       string
	ContextID      string
	Account        string
	Operation      domain.Operation
	Params         map[string]interface{}
	Metadata       map[string]interface{}
	IdempotencyKey string
}

// SubmitResult результат SubmitWorkflow
type SubmitResult struct {
	Execution *domain.Execution
	Created   bool // false = повтор по ключу идемпотентности, ничего не отправлялось
}

type workflowLink struct {
	workflow string
	origin   string
	context  string
	metadata map[string]interface{}
}

// Orchestrator связывает риск-менеджер, менеджер исполнений, площадку и журнал.
// Идентификатор исполнения используется как operation id в риск-менеджере.
type Orchestrator struct {
	mode       Mode
	interval   time.Duration
	risk       *risk.Manager
	executions *execution.Manager
	venue      Venue
	journal    domain.ExecutionRepository
	events     domain.RiskEventRepository
	logger     *utils.Logger

	mu        sync.Mutex
	links     map[string]workflowLink
	stopChan  chan struct{}
	doneChan  chan struct{}
	isRunning bool
}

// Option дополнительная настройка
type Option func(*Orchestrator)

// WithJournal включает запись снапшотов исполнений и событий риска
func WithJournal(executions domain.ExecutionRepository, events domain.RiskEventRepository) Option {
	return func(o *Orchestrator) {
		o.journal = executions
		o.events = events
	}
}

// WithLogger задает логгер
func WithLogger(l *utils.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New создает новый orchestrator
func New(cfg Config, riskMgr *risk.Manager, execMgr *execution.Manager, venue Venue, opts ...Option) *Orchestrator {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeLive
	}
	o := &Orchestrator{
		mode:       mode,
		interval:   cfg.RefreshInterval,
		risk:       riskMgr,
		executions: execMgr,
		venue:      venue,
		logger:     utils.Default(),
		links:      make(map[string]workflowLink),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Mode текущий режим
func (o *Orchestrator) Mode() Mode {
	return o.mode
}

// Risk риск-менеджер (для API)
func (o *Orchestrator) Risk() *risk.Manager {
	return o.risk
}

// Executions менеджер исполнений (для API)
func (o *Orchestrator) Executions() *execution.Manager {
	return o.executions
}

// SubmitWorkflow проводит операцию через все проверки:
// исполнение -> риск -> площадка -> submitted.
func (o *Orchestrator) SubmitWorkflow(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	// 1. Идемпотентная запись исполнения
	exec, created, err := o.executions.CreateExecution(execution.CreateRequest{
		Account:        req.Account,
		Operation:      req.Operation,
		Payload:        req.Params,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	if !created {
		o.logger.Info("♻️ Duplicate submission for %s, returning execution %s (%s)", req.WorkflowName, exec.ID, exec.Status)
		return &SubmitResult{Execution: exec}, nil
	}
	o.persist(ctx, exec)

	link := workflowLink{
		workflow: req.WorkflowName,
		origin:   req.OriginID,
		context:  req.ContextID,
		metadata: domain.CloneMap(req.Metadata),
	}

	// 2. Проверка риска
	if err := o.register(exec, link); err != nil {
		o.logger.Warn("🚫 %s rejected by risk manager: %v", req.WorkflowName, err)
		if cancelled, cerr := o.executions.Cancel(exec.ID, err.Error()); cerr == nil {
			o.persist(ctx, cancelled)
		}
		return nil, err
	}

	o.mu.Lock()
	o.links[exec.ID] = link
	o.mu.Unlock()

	// 3. Shadow mode: только проверка
	if o.mode == ModeShadow {
		o.logger.Info("🔍 Shadow mode: would submit %s %s for %s", exec.Operation, exec.ID, exec.Account)
		o.release(exec.ID)
		cancelled, err := o.executions.Cancel(exec.ID, "shadow mode")
		if err != nil {
			return nil, err
		}
		o.persist(ctx, cancelled)
		return &SubmitResult{Execution: cancelled, Created: true}, nil
	}

	// 4. Отправка на площадку
	submitted, err := o.submit(ctx, exec)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Execution: submitted, Created: true}, nil
}

// RetryExecution повторяет неудачное исполнение: ждет backoff, заново
// проходит риск-проверку и отправляет на площадку.
func (o *Orchestrator) RetryExecution(ctx context.Context, id string) (*domain.Execution, error) {
	o.mu.Lock()
	link, ok := o.links[id]
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("execution %s has no active workflow: %w", id, domain.ErrNotFound)
	}

	pending, err := o.executions.Retry(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrMaxRetriesExceeded) {
			o.logger.Error("⛔ Execution %s exhausted its retries, cancel it to release the workflow", id)
		}
		return nil, err
	}
	o.persist(ctx, pending)

	if err := o.register(pending, link); err != nil {
		o.logger.Warn("🚫 Retry of %s rejected by risk manager: %v", id, err)
		o.forget(id)
		if cancelled, cerr := o.executions.Cancel(id, err.Error()); cerr == nil {
			o.persist(ctx, cancelled)
		}
		return nil, err
	}

	return o.submit(ctx, pending)
}

// Cancel отменяет pending или failed исполнение оператором:
// экспозиция освобождается, связь с workflow забывается, снапшот пишется в журнал.
func (o *Orchestrator) Cancel(ctx context.Context, id, reason string) (*domain.Execution, error) {
	cancelled, err := o.executions.Cancel(id, reason)
	if err != nil {
		return nil, err
	}
	o.release(id)
	o.persist(ctx, cancelled)
	o.logger.Info("🗑️ Execution %s cancelled: %s", id, reason)
	return cancelled, nil
}

// OnConfirmations обновляет число подтверждений транзакции
func (o *Orchestrator) OnConfirmations(ctx context.Context, id string, count int) (*domain.Execution, error) {
	exec, err := o.executions.UpdateConfirmations(id, count)
	if err != nil {
		return nil, err
	}
	o.persist(ctx, exec)
	return exec, nil
}

// OnReorg откатывает исполнение после реорганизации цепочки
func (o *Orchestrator) OnReorg(ctx context.Context, id string) (*domain.Execution, error) {
	exec, err := o.executions.HandleReorg(id)
	if err != nil {
		return nil, err
	}
	o.persist(ctx, exec)
	return exec, nil
}

// Finalize закрывает позицию в риск-менеджере с итогом операции.
// Нарушение портфельного инварианта возвращается как *risk.Violation.
func (o *Orchestrator) Finalize(ctx context.Context, id string, outcome risk.Outcome) error {
	if _, err := o.executions.GetExecution(id); err != nil {
		return err
	}
	o.forget(id)

	if err := o.risk.CompleteWorkflow(id, outcome); err != nil {
		o.logger.Error("⛔ Portfolio invariant breached after %s: %v", id, err)
		return err
	}
	o.logger.Info("✅ Workflow for %s finalized (%s)", id, outcome.Status)
	return nil
}

// RunEventJournal пишет события риска в журнал до отмены ctx или закрытия подписки
func (o *Orchestrator) RunEventJournal(ctx context.Context, sub *risk.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			o.logger.WithFields(map[string]interface{}{
				"type":      ev.Type,
				"invariant": ev.Invariant,
				"reason":    ev.Reason,
			}).Warn("risk event")

			if o.events == nil {
				continue
			}
			if err := o.events.Save(ctx, &ev); err != nil {
				o.logger.Warn("⚠️ Failed to save risk event %s: %v", ev.ID, err)
			}
		}
	}
}

// Start запускает периодическую проверку ленивых таймеров риска
// (истечение override, cooldown circuit breaker), чтобы события
// публиковались даже без входящих операций.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.isRunning {
		return ErrAlreadyRunning
	}
	if o.interval <= 0 {
		return nil
	}

	o.isRunning = true
	o.stopChan = make(chan struct{})
	o.doneChan = make(chan struct{})
	o.logger.Info("🚀 Orchestrator started in %s mode (refresh: %v)", o.mode, o.interval)

	go o.run(ctx, o.stopChan, o.doneChan)
	return nil
}

// Stop останавливает фоновую проверку
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.isRunning {
		o.mu.Unlock()
		return
	}
	close(o.stopChan)
	done := o.doneChan
	o.isRunning = false
	o.mu.Unlock()

	<-done
	o.logger.Info("✅ Orchestrator stopped")
}

// IsRunning проверяет запущен ли orchestrator
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isRunning
}

func (o *Orchestrator) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !o.risk.TradingAllowed() {
				o.logger.Debug("trading blocked at refresh")
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) register(exec *domain.Execution, link workflowLink) error {
	return o.risk.RegisterWorkflowExecution(risk.RegisterRequest{
		WorkflowName: link.workflow,
		OriginID:     link.origin,
		OperationID:  exec.ID,
		ContextID:    link.context,
		Params:       exec.Payload,
		Metadata:     link.metadata,
	})
}

// submit отправляет pending исполнение на площадку. При ошибке площадки
// исполнение помечается failed, а экспозиция освобождается до повтора.
func (o *Orchestrator) submit(ctx context.Context, exec *domain.Execution) (*domain.Execution, error) {
	txHash, err := o.venue.Submit(ctx, *exec)
	if err != nil {
		o.logger.Error("❌ Venue rejected %s: %v", exec.ID, err)
		o.risk.CancelWorkflow(exec.ID)
		failed, ferr := o.executions.MarkSubmitFailed(exec.ID, execution.Failure{Reason: "venue submit failed", Err: err})
		if ferr == nil {
			o.persist(ctx, failed)
		}
		return failed, fmt.Errorf("venue submit %s: %w", exec.ID, err)
	}

	submitted, err := o.executions.MarkSubmitted(exec.ID, txHash)
	if err != nil {
		return nil, err
	}
	o.persist(ctx, submitted)
	o.logger.Info("📤 Submitted %s %s (tx %s, attempt %d)", submitted.Operation, submitted.ID, txHash, submitted.Attempts)
	return submitted, nil
}

// release освобождает экспозицию и забывает связь с workflow
func (o *Orchestrator) release(id string) {
	o.forget(id)
	o.risk.CancelWorkflow(id)
}

func (o *Orchestrator) forget(id string) {
	o.mu.Lock()
	delete(o.links, id)
	o.mu.Unlock()
}

func (o *Orchestrator) persist(ctx context.Context, exec *domain.Execution) {
	if o.journal == nil || exec == nil {
		return
	}
	if err := o.journal.Upsert(ctx, exec); err != nil {
		o.logger.Warn("⚠️ Failed to save execution %s to journal: %v", exec.ID, err)
	}
}
