package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kirillm/trade-guard/internal/risk"
	"github.com/kirillm/trade-guard/pkg/utils"
)

// BotConfig настройки бота
type BotConfig struct {
	Token           string
	ChatID          int64
	AlertsPerMinute int
	Lang            Lang
	Admins          string
	Whitelist       string
}

// Bot операторский бот: алерты из шины риска и команды управления
type Bot struct {
	api      *tgbotapi.BotAPI
	logger   *utils.Logger
	router   *Router
	notifier *Notifier
	auth     *AuthManager
	wg       sync.WaitGroup
}

// NewBot авторизуется в Telegram и собирает роутер и notifier
func NewBot(cfg BotConfig, control RiskControl, logger *utils.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	if logger == nil {
		logger = utils.Default()
	}
	logger.Info("Telegram bot authorized: @%s", api.Self.UserName)

	formatter := NewFormatter(cfg.Lang)
	auth := NewAuthManager(cfg.Admins, cfg.Whitelist)

	return &Bot{
		api:      api,
		logger:   logger,
		router:   NewRouter(control, auth, formatter),
		notifier: NewNotifier(api, cfg.ChatID, formatter, cfg.AlertsPerMinute, logger),
		auth:     auth,
	}, nil
}

// Start запускает алерты и обработку команд; останавливается по ctx
func (b *Bot) Start(ctx context.Context, sub *risk.Subscription) {
	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.notifier.Run(ctx, sub.C)
	}()
	go func() {
		defer b.wg.Done()
		b.pollUpdates(ctx)
	}()
}

// Wait ждет завершения горутин бота
func (b *Bot) Wait() {
	b.wg.Wait()
}

func (b *Bot) pollUpdates(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	cleanup := time.NewTicker(5 * time.Minute)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case <-cleanup.C:
			b.auth.CleanupRateLimiters(time.Now(), 5*time.Minute)
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() || update.Message.From == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	userID := message.From.ID
	response, err := b.router.HandleCommand(ctx, userID, message.Text)
	if err != nil {
		b.logger.WithFields(map[string]interface{}{
			"user_id": userID,
			"command": message.Command(),
		}).Warnf("Command failed: %v", err)
	}

	reply := tgbotapi.NewMessage(message.Chat.ID, response)
	reply.ReplyToMessageID = message.MessageID
	if _, err := b.api.Send(reply); err != nil {
		b.logger.Error("Failed to send reply: %v", err)
	}
}
