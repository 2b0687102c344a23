package exchange

import (
	"context"
	"errors"
	"sync"

	"github.com/kirillm/trade-guard/internal/domain"
	"github.com/kirillm/trade-guard/pkg/utils"
)

// ErrExchangeAPI ошибка, возвращенная API площадки
var ErrExchangeAPI = errors.New("exchange api error")

// PaperVenue площадка без реальных ордеров: валидирует payload,
// выдает синтетический id и помнит отправленные исполнения
type PaperVenue struct {
	mu     sync.Mutex
	logger *utils.Logger
	orders map[string]OrderRequest
}

// NewPaperVenue создает paper площадку
func NewPaperVenue(logger *utils.Logger) *PaperVenue {
	if logger == nil {
		logger = utils.Default()
	}
	return &PaperVenue{logger: logger, orders: make(map[string]OrderRequest)}
}

// Submit принимает исполнение; повтор с тем же ключом возвращает тот же id
func (p *PaperVenue) Submit(ctx context.Context, exec domain.Execution) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	order, err := OrderFromPayload(exec)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for id, o := range p.orders {
		if o.LinkID != "" && o.LinkID == order.LinkID {
			return id, nil
		}
	}

	id := "paper-" + utils.NewExecutionID()
	p.orders[id] = order
	p.logger.Info("📝 Paper order %s: %s %s qty=%s notional=%.2f", id, order.Side, order.Symbol, order.Qty, order.NotionalUSD)
	return id, nil
}

// Orders количество принятых ордеров
func (p *PaperVenue) Orders() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}
