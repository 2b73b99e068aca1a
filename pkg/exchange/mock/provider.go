// Package mock is a deterministic in-memory exchange.Provider used by
// component tests and by the webhook path in the test environment. Orders
// fill instantly at the submitted price unless configured otherwise.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"spotgrid-engine/pkg/exchange"
	"spotgrid-engine/pkg/gridcalc"
)

// Provider is a fully synchronous, deterministic exchange.Provider.
type Provider struct {
	mu      sync.Mutex
	orders  map[string]*exchange.Order
	rules   map[string]gridcalc.PrecisionRules
	prices  map[string]decimal.Decimal
	balances map[string]exchange.Balance

	// AutoFill, when true (the default), marks every placed order FILLED
	// immediately at its submitted price. Tests can set it false to drive
	// fills manually via Fill.
	AutoFill bool
}

// New constructs a Provider seeded with the given precision rules and
// last-trade prices.
func New(rules map[string]gridcalc.PrecisionRules, prices map[string]decimal.Decimal) *Provider {
	return &Provider{
		orders:   make(map[string]*exchange.Order),
		rules:    rules,
		prices:   prices,
		balances: make(map[string]exchange.Balance),
		AutoFill: true,
	}
}

func (p *Provider) Name() string { return "mock" }
func (p *Provider) Close() error { return nil }

func (p *Provider) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		return nil, fmt.Errorf("mock: invalid quantity %q: %w", req.Quantity, err)
	}
	price := decimal.Zero
	if req.Price != "" {
		price, err = decimal.NewFromString(req.Price)
		if err != nil {
			return nil, fmt.Errorf("mock: invalid price %q: %w", req.Price, err)
		}
	} else if last, ok := p.prices[req.Symbol]; ok {
		price = last
	}

	order := &exchange.Order{
		ExchangeOrderID: uuid.NewString(),
		ClientOrderID:   req.ClientOrderID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		State:           exchange.OrderStateNew,
		Price:           price,
		Quantity:        qty,
		TimestampMillis: time.Now().UnixMilli(),
	}
	if p.AutoFill {
		order.State = exchange.OrderStateFilled
		order.FilledQuantity = qty
		order.AvgFillPrice = price
	}
	p.orders[order.ExchangeOrderID] = order

	out := *order
	return &out, nil
}

// Fill marks a resting order as filled at its submitted price. Used by
// tests that set AutoFill=false to drive partial-fill scenarios.
func (p *Provider) Fill(exchangeOrderID string, filledQty decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[exchangeOrderID]
	if !ok {
		return fmt.Errorf("mock: unknown order %s", exchangeOrderID)
	}
	order.FilledQuantity = filledQty
	order.AvgFillPrice = order.Price
	if filledQty.GreaterThanOrEqual(order.Quantity) {
		order.State = exchange.OrderStateFilled
	} else {
		order.State = exchange.OrderStatePartiallyFilled
	}
	return nil
}

func (p *Provider) GetOrderStatus(ctx context.Context, symbol, exchangeOrderID string) (*exchange.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[exchangeOrderID]
	if !ok {
		return nil, fmt.Errorf("mock: unknown order %s", exchangeOrderID)
	}
	out := *order
	return &out, nil
}

func (p *Provider) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[exchangeOrderID]
	if !ok {
		return fmt.Errorf("mock: unknown order %s", exchangeOrderID)
	}
	if order.State == exchange.OrderStateFilled {
		return fmt.Errorf("mock: order %s already filled", exchangeOrderID)
	}
	order.State = exchange.OrderStateCancelled
	return nil
}

func (p *Provider) GetCurrentPrice(ctx context.Context, symbol string) (exchange.Ticker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok {
		return exchange.Ticker{}, fmt.Errorf("mock: no price for %s", symbol)
	}
	return exchange.Ticker{Symbol: symbol, Price: price}, nil
}

func (p *Provider) GetAllTickers(ctx context.Context) ([]exchange.Ticker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]exchange.Ticker, 0, len(p.prices))
	for sym, price := range p.prices {
		out = append(out, exchange.Ticker{Symbol: sym, Price: price})
	}
	return out, nil
}

func (p *Provider) FetchBalance(ctx context.Context) (map[string]exchange.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]exchange.Balance, len(p.balances))
	for k, v := range p.balances {
		out[k] = v
	}
	return out, nil
}

func (p *Provider) FetchFreeBalance(ctx context.Context) (map[string]exchange.Balance, error) {
	return p.FetchBalance(ctx)
}

func (p *Provider) GetTradingFeeRate(ctx context.Context, symbol string) (exchange.FeeRate, error) {
	return exchange.FeeRate{Maker: decimal.NewFromFloat(0.001), Taker: decimal.NewFromFloat(0.001)}, nil
}

func (p *Provider) GetPrecisionRules(ctx context.Context) (map[string]gridcalc.PrecisionRules, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]gridcalc.PrecisionRules, len(p.rules))
	for k, v := range p.rules {
		out[k] = v
	}
	return out, nil
}

// SetPrice updates the last-trade price used for market orders and
// unrealized PnL computation in tests.
func (p *Provider) SetPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

var _ exchange.Provider = (*Provider)(nil)
