package risk

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillm/trade-guard/internal/domain"
	"github.com/kirillm/trade-guard/pkg/utils"
)

// DefaultSubscriberBuffer размер буфера подписки по умолчанию
const DefaultSubscriberBuffer = 64

// EventBus реестр подписчиков на события риска.
// Publish никогда не блокирует: при переполненном буфере событие
// для этого подписчика отбрасывается и учитывается в Dropped.
type EventBus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*Subscription
}

// Subscription подписка на события; читать из C до закрытия канала
type Subscription struct {
	C <-chan domain.RiskEvent

	id      uint64
	ch      chan domain.RiskEvent
	bus     *EventBus
	dropped atomic.Uint64
	once    sync.Once
}

// NewEventBus создает пустой реестр
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[uint64]*Subscription)}
}

// Subscribe регистрирует нового подписчика
func (b *EventBus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	ch := make(chan domain.RiskEvent, buffer)
	sub := &Subscription{C: ch, id: b.nextID, ch: ch, bus: b}
	b.subs[sub.id] = sub
	return sub
}

// Publish рассылает событие всем подписчикам
func (b *EventBus) Publish(event domain.RiskEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Len количество активных подписчиков
func (b *EventBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Unsubscribe снимает подписку и закрывает канал. Повторный вызов безопасен.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		delete(s.bus.subs, s.id)
		close(s.ch)
	})
}

// Dropped количество событий, потерянных из-за переполнения буфера
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func newEvent(typ domain.RiskEventType, inv domain.Invariant, reason string, at time.Time) domain.RiskEvent {
	return domain.RiskEvent{
		ID:        utils.NewEventID(at),
		Type:      typ,
		Invariant: inv,
		Reason:    reason,
		Timestamp: at,
	}
}
