package exchange

import "github.com/shopspring/decimal"

// Order is the exchange's view of a submitted order.
type Order struct {
	ExchangeOrderID string
	ClientOrderID   string
	Symbol          string
	Side            OrderSide
	Type            OrderType
	State           OrderState
	Price           decimal.Decimal
	Quantity        decimal.Decimal
	FilledQuantity  decimal.Decimal
	AvgFillPrice    decimal.Decimal
	Fee             decimal.Decimal
	FeeCurrency     string
	TimestampMillis int64
}

// Ticker is the latest trade price for a symbol.
type Ticker struct {
	Symbol string
	Price  decimal.Decimal
}

// Balance is one asset's total/locked balance split.
type Balance struct {
	Asset  string
	Total  decimal.Decimal
	Locked decimal.Decimal
	Free   decimal.Decimal
}

// FeeRate is the maker/taker fee rate, as a fraction (0.001 = 0.1%).
type FeeRate struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}
