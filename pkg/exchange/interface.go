// Package exchange is the uniform capability set over one exchange
// account: place/cancel/fetch order, fetch ticker, fetch balance, fetch
// fee rate, and the symbol precision map. Concrete venues (Binance, a
// deterministic mock for tests) implement Provider; callers never type-
// switch on the concrete venue.
package exchange

import (
	"context"

	"spotgrid-engine/pkg/gridcalc"
)

// AmountType selects whether Quantity on an order request is denominated
// in base asset units or quote currency.
type AmountType string

const (
	AmountBase  AmountType = "base"
	AmountQuote AmountType = "quote"
)

// Provider exposes spot trading capabilities in an exchange-agnostic
// fashion. Implementations map vendor-specific errors to the taxonomy in
// internal/apperr at this boundary; callers above Provider never see a
// vendor error type.
type Provider interface {
	// PlaceOrder submits a new order and returns the exchange's view of it.
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)
	// GetOrderStatus fetches the current state of a previously placed order.
	GetOrderStatus(ctx context.Context, symbol, exchangeOrderID string) (*Order, error)
	// CancelOrder cancels a resting order.
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error

	// GetCurrentPrice fetches the latest trade price for symbol.
	GetCurrentPrice(ctx context.Context, symbol string) (Ticker, error)
	// GetAllTickers fetches the latest trade price for every tradable symbol.
	GetAllTickers(ctx context.Context) ([]Ticker, error)

	// FetchBalance returns the account's total balances by asset.
	FetchBalance(ctx context.Context) (map[string]Balance, error)
	// FetchFreeBalance returns only the available (non-locked) balances.
	FetchFreeBalance(ctx context.Context) (map[string]Balance, error)
	// GetTradingFeeRate returns the maker/taker fee rate, optionally scoped
	// to one symbol; an empty symbol requests the account-wide default.
	GetTradingFeeRate(ctx context.Context, symbol string) (FeeRate, error)

	// GetPrecisionRules returns the full symbol precision map, consumed by
	// the precision cache (C2) as its refresh source.
	GetPrecisionRules(ctx context.Context) (map[string]gridcalc.PrecisionRules, error)

	// Name identifies the venue, e.g. "binance", used for logging and for
	// keying per-venue connector pools.
	Name() string

	// Close releases vendor resources (HTTP clients, websocket sessions).
	Close() error
}

// OrderRequest is a normalized order submission.
type OrderRequest struct {
	Symbol      string
	Side        OrderSide
	Type        OrderType
	Quantity    string // decimal string to avoid float precision loss
	Price       string // empty for market orders
	AmountType  AmountType
	ClientOrderID string
}

// OrderSide mirrors domain.OrderSide without importing the domain
// package, keeping the gateway usable independently of the position
// state machine.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the venue order type.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderState is the exchange-reported lifecycle of an order.
type OrderState string

const (
	OrderStateNew             OrderState = "new"
	OrderStatePartiallyFilled OrderState = "partially_filled"
	OrderStateFilled          OrderState = "filled"
	OrderStateCancelled       OrderState = "cancelled"
	OrderStateRejected        OrderState = "rejected"
)
