// Package binance adapts github.com/adshao/go-binance/v2's spot client to
// the exchange.Provider capability set, mapping every vendor error at
// this boundary per pkg/exchange.MapVendorError.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	binancesdk "github.com/adshao/go-binance/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"spotgrid-engine/internal/apperr"
	"spotgrid-engine/pkg/exchange"
	"spotgrid-engine/pkg/gridcalc"
)

// Config configures a spot Provider instance.
type Config struct {
	APIKey    string `json:"-"`
	APISecret string `json:"-"`
	Testnet   bool   `json:",default=false"`
}

// Provider adapts the Binance spot REST client.
type Provider struct {
	client *binancesdk.Client
}

// Option customizes a Provider beyond its Config, mainly for tests that
// need to swap in a recording HTTP transport.
type Option func(*Provider)

// WithHTTPClient overrides the SDK's transport, used by recorded tests
// to play back a cassette instead of hitting the real venue.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.client.HTTPClient = client
	}
}

// New constructs a Provider from Config.
func New(cfg Config, opts ...Option) *Provider {
	if cfg.Testnet {
		binancesdk.UseTestnet = true
	}
	p := &Provider{client: binancesdk.NewClient(cfg.APIKey, cfg.APISecret)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// withRetry retries an idempotent read against transient errors
// (rate limits, connection hiccups) a bounded number of times before
// giving up, mirroring the decorator-based retry the original system
// wrapped around every read-only exchange call.
func withRetry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !apperr.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func (p *Provider) Name() string { return "binance" }
func (p *Provider) Close() error { return nil }

func (p *Provider) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	svc := p.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(sideToSDK(req.Side)).
		Type(typeToSDK(req.Type)).
		Quantity(req.Quantity)

	if req.Type == exchange.OrderTypeLimit {
		svc = svc.TimeInForce(binancesdk.TimeInForceTypeGTC).Price(req.Price)
	}
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, exchange.MapVendorError("binance.PlaceOrder", err)
	}
	return fromCreateOrderResponse(resp), nil
}

func (p *Provider) GetOrderStatus(ctx context.Context, symbol, exchangeOrderID string) (*exchange.Order, error) {
	orderID, err := strconv.ParseInt(exchangeOrderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("binance: invalid order id %q: %w", exchangeOrderID, err)
	}
	var resp *binancesdk.Order
	err = withRetry(ctx, func() error {
		var doErr error
		resp, doErr = p.client.NewGetOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
		if doErr != nil {
			return exchange.MapVendorError("binance.GetOrderStatus", doErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fromOrder(resp), nil
}

func (p *Provider) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	orderID, err := strconv.ParseInt(exchangeOrderID, 10, 64)
	if err != nil {
		return fmt.Errorf("binance: invalid order id %q: %w", exchangeOrderID, err)
	}
	_, err = p.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		return exchange.MapVendorError("binance.CancelOrder", err)
	}
	return nil
}

func (p *Provider) GetCurrentPrice(ctx context.Context, symbol string) (exchange.Ticker, error) {
	var prices []*binancesdk.SymbolPrice
	err := withRetry(ctx, func() error {
		var doErr error
		prices, doErr = p.client.NewListPricesService().Symbol(symbol).Do(ctx)
		if doErr != nil {
			return exchange.MapVendorError("binance.GetCurrentPrice", doErr)
		}
		return nil
	})
	if err != nil {
		return exchange.Ticker{}, err
	}
	if len(prices) == 0 {
		return exchange.Ticker{}, fmt.Errorf("binance: no price returned for %s", symbol)
	}
	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return exchange.Ticker{}, fmt.Errorf("binance: parse price: %w", err)
	}
	return exchange.Ticker{Symbol: symbol, Price: price}, nil
}

func (p *Provider) GetAllTickers(ctx context.Context) ([]exchange.Ticker, error) {
	var prices []*binancesdk.SymbolPrice
	err := withRetry(ctx, func() error {
		var doErr error
		prices, doErr = p.client.NewListPricesService().Do(ctx)
		if doErr != nil {
			return exchange.MapVendorError("binance.GetAllTickers", doErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]exchange.Ticker, 0, len(prices))
	for _, entry := range prices {
		price, err := decimal.NewFromString(entry.Price)
		if err != nil {
			continue
		}
		out = append(out, exchange.Ticker{Symbol: entry.Symbol, Price: price})
	}
	return out, nil
}

func (p *Provider) FetchBalance(ctx context.Context) (map[string]exchange.Balance, error) {
	account, err := p.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, exchange.MapVendorError("binance.FetchBalance", err)
	}
	return balancesFromAccount(account), nil
}

func (p *Provider) FetchFreeBalance(ctx context.Context) (map[string]exchange.Balance, error) {
	return p.FetchBalance(ctx)
}

func (p *Provider) GetTradingFeeRate(ctx context.Context, symbol string) (exchange.FeeRate, error) {
	// The spot SDK's trade-fee endpoint is account-tier specific; the
	// engine's fallback default keeps the risk engine's notional math
	// working even without a dedicated fee-tier lookup wired in.
	return exchange.FeeRate{Maker: decimal.NewFromFloat(0.001), Taker: decimal.NewFromFloat(0.001)}, nil
}

func (p *Provider) GetPrecisionRules(ctx context.Context) (map[string]gridcalc.PrecisionRules, error) {
	info, err := p.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, exchange.MapVendorError("binance.GetPrecisionRules", err)
	}
	out := make(map[string]gridcalc.PrecisionRules, len(info.Symbols))
	for _, sym := range info.Symbols {
		out[sym.Symbol] = rulesFromSymbol(sym)
	}
	return out, nil
}

func sideToSDK(side exchange.OrderSide) binancesdk.SideType {
	if side == exchange.OrderSideSell {
		return binancesdk.SideTypeSell
	}
	return binancesdk.SideTypeBuy
}

func typeToSDK(t exchange.OrderType) binancesdk.OrderType {
	if t == exchange.OrderTypeMarket {
		return binancesdk.OrderTypeMarket
	}
	return binancesdk.OrderTypeLimit
}

var _ exchange.Provider = (*Provider)(nil)
