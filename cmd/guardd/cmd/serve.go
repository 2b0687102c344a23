package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillm/trade-guard/internal/api"
	"github.com/kirillm/trade-guard/internal/config"
	"github.com/kirillm/trade-guard/internal/exchange"
	"github.com/kirillm/trade-guard/internal/execution"
	"github.com/kirillm/trade-guard/internal/orchestrator"
	"github.com/kirillm/trade-guard/internal/policy"
	"github.com/kirillm/trade-guard/internal/risk"
	"github.com/kirillm/trade-guard/internal/storage"
	"github.com/kirillm/trade-guard/internal/telegram"
	"github.com/kirillm/trade-guard/pkg/utils"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane HTTP API",
	Long: `Start the risk manager, execution manager and HTTP API.

Optional components are enabled by configuration:
  DB_DRIVER/DB_DSN         audit journal (postgres or sqlite3)
  TELEGRAM_BOT_TOKEN       operator alerts and commands
  VENUE=bybit              real order placement (default: paper)`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := utils.NewLogger(cfg.Log.Level)
	if cfg.Log.Format == "json" {
		logger.SetJSON()
	}
	if err := logger.EnableFileOutput(utils.LogFileConfig{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   true,
	}); err != nil {
		return err
	}
	defer logger.Close()
	utils.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	riskMgr, err := buildRiskManager(cfg, logger)
	if err != nil {
		return err
	}

	execMgr := execution.NewManager(execution.Config{
		MaxRetries:         cfg.Execution.MaxRetries,
		RetryDelay:         cfg.Execution.RetryDelay,
		ConfirmationBlocks: cfg.Execution.ConfirmationBlocks,
	}, execution.WithLogger(logger))

	orchOpts := []orchestrator.Option{orchestrator.WithLogger(logger)}
	var apiOpts []api.Option

	var journal *storage.Storage
	if cfg.JournalEnabled() {
		journal, err = storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, storage.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		defer journal.Close()
		logger.Info("✅ Journal connected (%s)", journal.Dialect())

		orchOpts = append(orchOpts, orchestrator.WithJournal(journal.Executions(), journal.RiskEvents()))
		apiOpts = append(apiOpts, api.WithJournal(journal, journal.RiskEvents()))
	}

	orch := orchestrator.New(orchestrator.Config{
		Mode:            orchestrator.Mode(cfg.Orchestrator.Mode),
		RefreshInterval: cfg.Orchestrator.RefreshInterval,
	}, riskMgr, execMgr, buildVenue(cfg, logger), orchOpts...)

	if err := orch.Start(ctx); err != nil {
		return err
	}
	defer orch.Stop()

	go orch.RunEventJournal(ctx, riskMgr.Subscribe(0))

	if cfg.TelegramEnabled() {
		bot, err := telegram.NewBot(telegram.BotConfig{
			Token:           cfg.Telegram.BotToken,
			ChatID:          cfg.Telegram.ChatID,
			AlertsPerMinute: cfg.Telegram.AlertsPerMinute,
			Lang:            telegram.ParseLang(cfg.Telegram.Lang),
			Admins:          cfg.Telegram.Admins,
			Whitelist:       cfg.Telegram.Whitelist,
		}, riskMgr, logger)
		if err != nil {
			// алерты не критичны для работы guardrails
			logger.Error("❌ Telegram disabled: %v", err)
		} else {
			bot.Start(ctx, riskMgr.Subscribe(0))
			defer bot.Wait()
		}
	}

	server := api.NewServer(logger, orch, cfg.API.Port, apiOpts...)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("🛑 Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("⚠️ HTTP shutdown: %v", err)
	}
	return serveErr
}

// buildRiskManager читает guardrails. Нечитаемый файл - ошибка запуска,
// невалидные поля - выключенный менеджер с логом по каждому полю.
func buildRiskManager(cfg *config.Config, logger *utils.Logger) (*risk.Manager, error) {
	opts := []risk.Option{risk.WithLogger(logger)}

	if cfg.Guardrails.Path == "" {
		logger.Warn("⚠️ GUARDRAILS_PATH not set: guardrails disabled")
		return risk.New(nil, opts...), nil
	}

	raw, err := policy.LoadRaw(cfg.Guardrails.Path, cfg.Guardrails.Profile)
	if err != nil {
		return nil, fmt.Errorf("load guardrails: %w", err)
	}

	m := risk.FromGuardrails(raw, opts...)
	if m.Enabled() {
		logger.Info("🛡️ Guardrails loaded from %s", cfg.Guardrails.Path)
	}
	return m, nil
}

func buildVenue(cfg *config.Config, logger *utils.Logger) orchestrator.Venue {
	if cfg.Venue.Kind == "bybit" {
		logger.Info("🏦 Venue: Bybit (%s)", cfg.Venue.BybitBaseURL)
		return exchange.NewBybitClient(cfg.Venue.BybitAPIKey, cfg.Venue.BybitAPISecret, cfg.Venue.BybitBaseURL, cfg.Venue.RequestsPerSecond)
	}
	logger.Info("📝 Venue: paper")
	return exchange.NewPaperVenue(logger)
}
