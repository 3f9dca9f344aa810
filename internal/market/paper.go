package market

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// PaperBroker is an in-memory brokerage used in dev mode and tests. Orders
// fill immediately at the limit price, or the contract mid for market orders.
type PaperBroker struct {
	mu        sync.Mutex
	quotes    map[string]Quote
	history   map[string][]Bar
	chains    map[string][]OptionContract
	orders    map[string]OrderResult
	rejectAll bool
}

func NewPaperBroker() *PaperBroker {
	return &PaperBroker{
		quotes:  make(map[string]Quote),
		history: make(map[string][]Bar),
		chains:  make(map[string][]OptionContract),
		orders:  make(map[string]OrderResult),
	}
}

func (p *PaperBroker) SetQuote(q Quote) { p.mu.Lock(); p.quotes[q.Symbol] = q; p.mu.Unlock() }

func (p *PaperBroker) SetHistory(symbol string, bars []Bar) {
	p.mu.Lock()
	p.history[symbol] = bars
	p.mu.Unlock()
}

func (p *PaperBroker) SetChain(symbol string, c []OptionContract) {
	p.mu.Lock()
	p.chains[symbol] = c
	p.mu.Unlock()
}

// RejectOrders makes every subsequent placement come back rejected.
func (p *PaperBroker) RejectOrders(reject bool) {
	p.mu.Lock()
	p.rejectAll = reject
	p.mu.Unlock()
}

func (p *PaperBroker) GetQuote(_ context.Context, symbol string) (Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.quotes[symbol]
	if !ok {
		return Quote{}, fmt.Errorf("paper broker: no quote for %s", symbol)
	}
	return q, nil
}

func (p *PaperBroker) GetPriceHistory(_ context.Context, symbol string, lookback int) ([]Bar, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	bars := p.history[symbol]
	if lookback > 0 && len(bars) > lookback {
		bars = bars[len(bars)-lookback:]
	}
	out := make([]Bar, len(bars))
	copy(out, bars)
	return out, nil
}

func (p *PaperBroker) GetOptionChain(_ context.Context, symbol string) ([]OptionContract, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OptionContract, len(p.chains[symbol]))
	copy(out, p.chains[symbol])
	return out, nil
}

func (p *PaperBroker) PlaceOrder(_ context.Context, req OrderRequest) (OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rejectAll {
		return OrderResult{Status: OrderRejected, Reason: "paper broker rejecting"}, nil
	}
	price := req.LimitPrice
	if price <= 0 {
		price = req.Contract.Mid()
	}
	res := OrderResult{
		BrokerOrderID: uuid.NewString(),
		Status:        OrderFilled,
		FillPrice:     price,
		FilledQty:     req.Quantity,
	}
	p.orders[res.BrokerOrderID] = res
	return res, nil
}

func (p *PaperBroker) OrderStatus(_ context.Context, brokerOrderID string) (OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res, ok := p.orders[brokerOrderID]
	if !ok {
		return OrderResult{}, fmt.Errorf("paper broker: unknown order %s", brokerOrderID)
	}
	return res, nil
}
