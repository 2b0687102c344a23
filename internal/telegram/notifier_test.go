package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kirillm/trade-guard/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	fail bool
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return tgbotapi.Message{}, errors.New("telegram unavailable")
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

func TestNotifier_Notify(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, -100500, NewFormatter(LangEN), 60, nil)

	err := n.Notify(context.Background(), domain.RiskEvent{
		Type:      domain.EventTradingHalted,
		Invariant: domain.InvariantCircuitBreaker,
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(-100500), msgs[0].ChatID)
	assert.Contains(t, msgs[0].Text, "Trading halted")
}

func TestNotifier_Run(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, 1, NewFormatter(LangEN), 60, nil)

	events := make(chan domain.RiskEvent, 3)
	events <- domain.RiskEvent{Type: domain.EventKillSwitchEngaged, Timestamp: time.Now()}
	events <- domain.RiskEvent{Type: domain.EventManualOverrideExpired, Timestamp: time.Now()}
	close(events)

	done := make(chan struct{})
	go func() {
		n.Run(context.Background(), events)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after channel close")
	}
	assert.Len(t, sender.messages(), 2)
}

func TestNotifier_RunSurvivesSendErrors(t *testing.T) {
	sender := &fakeSender{fail: true}
	n := NewNotifier(sender, 1, NewFormatter(LangEN), 60, nil)

	events := make(chan domain.RiskEvent, 2)
	events <- domain.RiskEvent{Type: domain.EventTradingHalted}
	events <- domain.RiskEvent{Type: domain.EventTradingHalted}
	close(events)

	n.Run(context.Background(), events)
	assert.Empty(t, sender.messages())
}

func TestNotifier_RunStopsOnCancel(t *testing.T) {
	n := NewNotifier(&fakeSender{}, 1, NewFormatter(LangEN), 1, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		n.Run(ctx, make(chan domain.RiskEvent))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
