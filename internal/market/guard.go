package market

import (
	"context"
	"errors"
	"time"

	"wheelhouse/internal/pkg/circuit"
)

// ErrBreakerOpen marks a call refused because the brokerage circuit is open.
// Treated like a transient failure: skip this cycle, retry next.
var ErrBreakerOpen = errors.New("broker circuit open")

// GuardedBroker wraps a Broker with a circuit breaker. Repeated transport
// failures open the circuit and subsequent calls fail fast until the
// cooldown elapses.
type GuardedBroker struct {
	inner   Broker
	breaker *circuit.Breaker
}

func NewGuardedBroker(inner Broker, threshold int, cooldown time.Duration) *GuardedBroker {
	return &GuardedBroker{
		inner:   inner,
		breaker: circuit.NewBreaker("broker", threshold, cooldown),
	}
}

// BreakerState is used by status reporting.
func (g *GuardedBroker) BreakerState() circuit.State {
	return g.breaker.CurrentState()
}

// record counts only transport failures against the breaker. Business
// rejections (ErrOrderUnknown, bad symbols) do not open the circuit.
func (g *GuardedBroker) record(err error) {
	if err == nil {
		g.breaker.RecordSuccess()
		return
	}
	if errors.Is(err, ErrBrokerTimeout) {
		g.breaker.RecordFailure()
	}
}

func (g *GuardedBroker) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	if !g.breaker.Allow() {
		return Quote{}, ErrBreakerOpen
	}
	q, err := g.inner.GetQuote(ctx, symbol)
	g.record(err)
	return q, err
}

func (g *GuardedBroker) GetPriceHistory(ctx context.Context, symbol string, lookback int) ([]Bar, error) {
	if !g.breaker.Allow() {
		return nil, ErrBreakerOpen
	}
	bars, err := g.inner.GetPriceHistory(ctx, symbol, lookback)
	g.record(err)
	return bars, err
}

func (g *GuardedBroker) GetOptionChain(ctx context.Context, symbol string) ([]OptionContract, error) {
	if !g.breaker.Allow() {
		return nil, ErrBreakerOpen
	}
	chain, err := g.inner.GetOptionChain(ctx, symbol)
	g.record(err)
	return chain, err
}

// PlaceOrder refuses the order before it reaches the wire when the circuit
// is open, so nothing ambiguous is ever in flight.
func (g *GuardedBroker) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if !g.breaker.Allow() {
		return OrderResult{}, ErrBreakerOpen
	}
	res, err := g.inner.PlaceOrder(ctx, req)
	// Ambiguous placement is not a transport failure.
	if err != nil && !errors.Is(err, ErrOrderUnknown) {
		g.record(err)
	} else {
		g.breaker.RecordSuccess()
	}
	return res, err
}

func (g *GuardedBroker) OrderStatus(ctx context.Context, brokerOrderID string) (OrderResult, error) {
	if !g.breaker.Allow() {
		return OrderResult{}, ErrBreakerOpen
	}
	res, err := g.inner.OrderStatus(ctx, brokerOrderID)
	g.record(err)
	return res, err
}

var _ Broker = (*GuardedBroker)(nil)
