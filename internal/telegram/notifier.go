package telegram

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kirillm/trade-guard/internal/domain"
	"github.com/kirillm/trade-guard/pkg/utils"
	"golang.org/x/time/rate"
)

// Sender отправка сообщений; *tgbotapi.BotAPI удовлетворяет интерфейсу
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier пересылает события риска в чат операторов
type Notifier struct {
	sender    Sender
	chatID    int64
	formatter *Formatter
	limiter   *rate.Limiter
	logger    *utils.Logger
}

// NewNotifier создает notifier с ограничением alertsPerMinute сообщений в минуту
func NewNotifier(sender Sender, chatID int64, formatter *Formatter, alertsPerMinute int, logger *utils.Logger) *Notifier {
	if alertsPerMinute < 1 {
		alertsPerMinute = 1
	}
	if logger == nil {
		logger = utils.Default()
	}
	return &Notifier{
		sender:    sender,
		chatID:    chatID,
		formatter: formatter,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(alertsPerMinute)), alertsPerMinute),
		logger:    logger,
	}
}

// Notify отправляет одно событие, дожидаясь слота лимитера
func (n *Notifier) Notify(ctx context.Context, event domain.RiskEvent) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, n.formatter.FormatEvent(event))
	if _, err := n.sender.Send(msg); err != nil {
		return err
	}
	return nil
}

// Run читает события из канала до его закрытия или отмены ctx.
// Ошибка отправки логируется, событие не повторяется.
func (n *Notifier) Run(ctx context.Context, events <-chan domain.RiskEvent) {
	n.logger.Info("📨 Telegram notifier started (chat %d)", n.chatID)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := n.Notify(ctx, event); err != nil {
				if ctx.Err() != nil {
					return
				}
				n.logger.WithFields(map[string]interface{}{
					"event_id":   event.ID,
					"event_type": event.Type,
				}).Errorf("Failed to send telegram alert: %v", err)
			}
		}
	}
}
