// Package signalrouter implements the signal router (C4): the webhook
// admission path that verifies a TradingView alert, serializes it
// against concurrent duplicates with a named lock, classifies it as an
// exit, a pyramid continuation, or a fresh entry, and dispatches to the
// execution pool, queue, or position managers accordingly.
package signalrouter

import (
	"time"

	"github.com/shopspring/decimal"

	"spotgrid-engine/internal/domain"
)

// ExecutionIntent mirrors the webhook's execution_intent object.
type ExecutionIntent struct {
	Type domain.ExecutionIntentType `json:"type"`
	Side domain.OrderSide           `json:"side"`
}

// TVPayload is TradingView's strategy-alert block.
type TVPayload struct {
	Exchange       string               `json:"exchange"`
	Symbol         string               `json:"symbol"`
	Timeframe      string               `json:"timeframe"`
	Action         string               `json:"action"`
	MarketPosition domain.MarketPosition `json:"market_position"`
}

// RiskOverride is the webhook's optional per-signal risk block.
type RiskOverride struct {
	MaxSlippagePercent decimal.Decimal `json:"max_slippage_percent"`
}

// WebhookPayload is the full validated webhook body for one signal.
type WebhookPayload struct {
	UserID          string          `json:"user_id"`
	Secret          string          `json:"secret"`
	Source          string          `json:"source"`
	Timestamp       time.Time       `json:"timestamp"`
	TradeID         string          `json:"trade_id"`
	TV              TVPayload       `json:"tv"`
	StrategyInfo    map[string]any  `json:"strategy_info"`
	ExecutionIntent ExecutionIntent `json:"execution_intent"`
	Risk            RiskOverride    `json:"risk"`
	BasePrice       decimal.Decimal `json:"base_price"`
}
