package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/kirillm/trade-guard/internal/domain"
	"github.com/kirillm/trade-guard/internal/execution"
	"github.com/kirillm/trade-guard/internal/orchestrator"
	"github.com/kirillm/trade-guard/internal/risk"
	"github.com/kirillm/trade-guard/pkg/utils"
)

// Pinger проверка доступности журнала для /health
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	logger   *utils.Logger
	orch     *orchestrator.Orchestrator
	journal  Pinger
	events   domain.RiskEventRepository
	port     int
	upgrader websocket.Upgrader
	started  time.Time
	http     *http.Server
}

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type HaltRequest struct {
	Active bool   `json:"active"`
	Reason string `json:"reason"`
}

type OverrideRequest struct {
	Active          bool    `json:"active"`
	DurationMinutes float64 `json:"durationMinutes"`
	Reason          string  `json:"reason"`
}

type VolatilityRequest struct {
	Asset           string  `json:"asset"`
	MetricKey       string  `json:"metricKey"`
	Volatility      float64 `json:"volatility"`
	LookbackMinutes float64 `json:"lookbackMinutes"`
}

type WorkflowRequest struct {
	WorkflowName   string                 `json:"workflowName"`
	OriginID       string                 `json:"originId"`
	ContextID      string                 `json:"contextId"`
	Account        string                 `json:"account"`
	Operation      domain.Operation       `json:"operation"`
	Params         map[string]interface{} `json:"params"`
	Metadata       map[string]interface{} `json:"metadata"`
	IdempotencyKey string                 `json:"idempotencyKey"`
}

type ConfirmationsRequest struct {
	Confirmations int `json:"confirmations"`
}

// Option дополнительная настройка сервера
type Option func(*Server)

// WithJournal подключает журнал: проверка в /health и GET /risk/events
func WithJournal(p Pinger, events domain.RiskEventRepository) Option {
	return func(s *Server) {
		s.journal = p
		s.events = events
	}
}

func NewServer(logger *utils.Logger, orch *orchestrator.Orchestrator, port int, opts ...Option) *Server {
	s := &Server{
		logger:  logger,
		orch:    orch,
		port:    port,
		started: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes собирает chi router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)

	r.Route("/risk", func(r chi.Router) {
		r.Get("/status", s.handleRiskStatus)
		r.Get("/positions", s.handlePositions)
		r.Get("/events", s.handleRecentEvents)
		r.Post("/kill-switch/reset", s.handleKillSwitchReset)
		r.Post("/circuit-breaker/reset", s.handleCircuitBreakerReset)
		r.Post("/halt", s.handleHalt)
		r.Post("/override", s.handleOverride)
		r.Post("/volatility", s.handleVolatility)
	})

	r.Post("/workflows", s.handleSubmitWorkflow)

	r.Route("/executions", func(r chi.Router) {
		r.Get("/", s.handleListExecutions)
		r.Get("/{id}", s.handleGetExecution)
		r.Post("/{id}/retry", s.handleRetry)
		r.Post("/{id}/confirmations", s.handleConfirmations)
		r.Post("/{id}/reorg", s.handleReorg)
		r.Post("/{id}/finalize", s.handleFinalize)
		r.Post("/{id}/cancel", s.handleCancel)
	})

	r.Get("/events", s.handleEventStream)
	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("Starting HTTP server on %s", addr)

	s.http = &http.Server{
		Addr:        addr,
		Handler:     s.Routes(),
		ReadTimeout: 15 * time.Second,
		// WriteTimeout не задается: /events держит соединение, а retry ждет backoff
		IdleTimeout: 60 * time.Second,
	}

	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown останавливает сервер
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// handleHealth - health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().Unix(),
		"uptime":         time.Since(s.started).Round(time.Second).String(),
		"mode":           s.orch.Mode(),
		"tradingAllowed": s.orch.Risk().TradingAllowed(),
	}

	if s.journal != nil {
		if err := s.journal.Ping(r.Context()); err != nil {
			s.sendError(w, fmt.Sprintf("Journal unavailable: %v", err), http.StatusServiceUnavailable)
			return
		}
		health["journal"] = "ok"
	}

	s.sendSuccess(w, health)
}

// handleRiskStatus - risk manager snapshot
func (s *Server) handleRiskStatus(w http.ResponseWriter, r *http.Request) {
	s.sendSuccess(w, s.orch.Risk().Status())
}

// handlePositions - open positions
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	s.sendSuccess(w, s.orch.Risk().OpenPositions())
}

// handleRecentEvents - risk events from the journal
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.sendError(w, "Journal not configured", http.StatusServiceUnavailable)
		return
	}

	events, err := s.events.GetRecent(r.Context(), getQueryParamInt(r, "limit", 50))
	if err != nil {
		s.sendError(w, fmt.Sprintf("Failed to get risk events: %v", err), http.StatusInternalServerError)
		return
	}
	s.sendSuccess(w, events)
}

func (s *Server) handleKillSwitchReset(w http.ResponseWriter, r *http.Request) {
	wasEngaged := s.orch.Risk().ResetKillSwitch()
	s.logger.Warn("kill switch reset requested via API (was engaged: %v)", wasEngaged)
	s.sendSuccess(w, map[string]interface{}{
		"reset":          wasEngaged,
		"tradingAllowed": s.orch.Risk().TradingAllowed(),
	})
}

func (s *Server) handleCircuitBreakerReset(w http.ResponseWriter, r *http.Request) {
	wasActive := s.orch.Risk().ResetCircuitBreaker()
	s.sendSuccess(w, map[string]interface{}{
		"reset":          wasActive,
		"tradingAllowed": s.orch.Risk().TradingAllowed(),
	})
}

func (s *Server) handleHalt(w http.ResponseWriter, r *http.Request) {
	var req HaltRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.orch.Risk().SetManualHalt(req.Active, req.Reason)
	s.sendSuccess(w, map[string]interface{}{
		"manualHalt":     req.Active,
		"tradingAllowed": s.orch.Risk().TradingAllowed(),
	})
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := s.orch.Risk().SetManualOverride(risk.OverrideRequest{
		Active:   req.Active,
		Duration: time.Duration(req.DurationMinutes * float64(time.Minute)),
		Reason:   req.Reason,
	})
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, s.orch.Risk().Status().ManualOverride)
}

func (s *Server) handleVolatility(w http.ResponseWriter, r *http.Request) {
	var req VolatilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Asset == "" {
		s.sendError(w, "Asset is required", http.StatusBadRequest)
		return
	}

	tripped := s.orch.Risk().UpdateMarketVolatility(risk.VolatilityObservation{
		Asset:           req.Asset,
		MetricKey:       req.MetricKey,
		Volatility:      req.Volatility,
		LookbackMinutes: req.LookbackMinutes,
	})
	s.sendSuccess(w, map[string]interface{}{
		"circuitBreakerTripped": tripped,
		"tradingAllowed":        s.orch.Risk().TradingAllowed(),
	})
}

func (s *Server) handleSubmitWorkflow(w http.ResponseWriter, r *http.Request) {
	var req WorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.orch.SubmitWorkflow(r.Context(), orchestrator.SubmitRequest{
		WorkflowName:   req.WorkflowName,
		OriginID:       req.OriginID,
		ContextID:      req.ContextID,
		Account:        req.Account,
		Operation:      req.Operation,
		Params:         req.Params,
		Metadata:       req.Metadata,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, map[string]interface{}{
		"execution": res.Execution,
		"created":   res.Created,
	})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	account := getQueryParam(r, "account", "")
	status := domain.ExecutionStatus(getQueryParam(r, "status", ""))

	list, err := s.orch.Executions().ListExecutions(execution.ListFilter{Account: account, Status: status})
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, list)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.orch.Executions().GetExecution(chi.URLParam(r, "id"))
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, exec)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	exec, err := s.orch.RetryExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, exec)
}

func (s *Server) handleConfirmations(w http.ResponseWriter, r *http.Request) {
	var req ConfirmationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	exec, err := s.orch.OnConfirmations(r.Context(), chi.URLParam(r, "id"), req.Confirmations)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, exec)
}

func (s *Server) handleReorg(w http.ResponseWriter, r *http.Request) {
	exec, err := s.orch.OnReorg(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, exec)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var raw map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	outcome, err := risk.ParseOutcome(raw)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	if err := s.orch.Finalize(r.Context(), chi.URLParam(r, "id"), outcome); err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, s.orch.Risk().Status())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	exec, err := s.orch.Cancel(r.Context(), id, getQueryParam(r, "reason", "cancelled via API"))
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, exec)
}

// Helper methods
func (s *Server) sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(Response{
		Success: true,
		Data:    data,
	})
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Response{
		Success: false,
		Error:   message,
	})
}

// sendDomainError отображает ошибки домена на HTTP-статусы.
// Нарушение guardrail отдается вместе с деталями.
func (s *Server) sendDomainError(w http.ResponseWriter, err error) {
	if v, ok := risk.AsViolation(err); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(Response{
			Success: false,
			Data:    v,
			Error:   v.Error(),
		})
		return
	}
	s.sendError(w, err.Error(), statusFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrOverrideDurationExceeded):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrOverrideDisabled):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrMaxRetriesExceeded),
		errors.Is(err, domain.ErrRetryInProgress),
		errors.Is(err, domain.ErrDuplicateOperation):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
			"request":  middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}

// Helper function to parse query parameter
func getQueryParam(r *http.Request, key string, defaultValue string) string {
	if value := r.URL.Query().Get(key); value != "" {
		return value
	}
	return defaultValue
}

// Helper function to parse int query parameter
func getQueryParamInt(r *http.Request, key string, defaultValue int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
