package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is the identity and configuration root. Credentials are stored as
// opaque encrypted blobs; the engine never sees plaintext API keys.
type User struct {
	ID              string
	Email           string
	SecureSignals   bool
	WebhookSecret   string
	Credentials     map[string]ExchangeCredential
	Risk            RiskConfig
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ExchangeCredential wraps an encrypted API credential blob for one venue.
type ExchangeCredential struct {
	Exchange     string
	EncryptedKey []byte
	Enabled      bool
}

// RiskConfig is a user's risk-engine configuration.
type RiskConfig struct {
	MaxOpenPositionsGlobal int
	PostFullWaitMinutes    int
	TimerStartCondition    string // "after_all_dca_filled" is the only supported value today.
	RequireFullPyramids    bool
	ResetTimerOnReplacement bool
	LossThresholdPercent   decimal.Decimal
	MaxWinnersToCombine    int
	UseTradeAgeFilter      bool
	AgeThresholdMinutes    int
	PartialCloseEnabled    bool
	MinCloseNotional       decimal.Decimal
	ClosingTimeoutMinutes  int
}

// DCALevel is one leg of a DCA grid: gap from base price, capital weight,
// and the take-profit percent applied once that leg fills.
type DCALevel struct {
	GapPercent    decimal.Decimal
	WeightPercent decimal.Decimal
	TPPercent     decimal.Decimal
}

// DCAConfiguration is the per (user, pair, timeframe, exchange) grid plan.
type DCAConfiguration struct {
	ID                  string
	UserID              string
	Pair                string
	Timeframe           string
	Exchange            string
	Levels              []DCALevel
	TPMode              TPMode
	TPAggregatePercent  decimal.Decimal
	PyramidOverrides    map[int][]DCALevel
	DefaultCapitalUSD   decimal.Decimal
	CapitalOverrides    map[int]decimal.Decimal
	MaxPyramids         int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CapitalFor resolves the capital allocated to a pyramid index, honouring
// a per-pyramid override when one is configured.
func (c DCAConfiguration) CapitalFor(pyramidIndex int) decimal.Decimal {
	if v, ok := c.CapitalOverrides[pyramidIndex]; ok {
		return v
	}
	return c.DefaultCapitalUSD
}

// LevelsFor resolves the DCA level list for a pyramid index, honouring a
// per-pyramid override when one is configured.
func (c DCAConfiguration) LevelsFor(pyramidIndex int) []DCALevel {
	if v, ok := c.PyramidOverrides[pyramidIndex]; ok {
		return v
	}
	return c.Levels
}

// PositionGroup is the atomic tradable unit for one
// (user, symbol, timeframe, side=long, exchange).
type PositionGroup struct {
	ID        string
	UserID    string
	Symbol    string
	Timeframe string
	Exchange  string
	Side      OrderSide

	Status PositionGroupStatus

	PyramidCount  int
	MaxPyramids   int
	TotalDCALegs  int
	FilledDCALegs int

	BasePrice        decimal.Decimal
	WeightedAvgEntry decimal.Decimal

	TotalInvestedUSD     decimal.Decimal
	TotalFilledQuantity  decimal.Decimal
	UnrealizedPnLUSD     decimal.Decimal
	UnrealizedPnLPercent decimal.Decimal
	RealizedPnLUSD       decimal.Decimal
	TotalEntryFeesUSD    decimal.Decimal
	TotalExitFeesUSD     decimal.Decimal
	TotalHedgedQty       decimal.Decimal
	TotalHedgedValueUSD  decimal.Decimal

	RiskTimerStart   *time.Time
	RiskTimerExpires *time.Time
	RiskEligible     bool
	RiskBlocked      bool
	RiskSkipOnce     bool

	TPMode             TPMode
	TPAggregatePercent decimal.Decimal

	CreatedAt       time.Time
	UpdatedAt       time.Time
	ClosingStartedAt *time.Time
	ClosedAt         *time.Time
}

// FullyFilled reports whether every planned DCA leg across all pyramids
// of the group has been filled.
func (g PositionGroup) FullyFilled() bool {
	return g.TotalDCALegs > 0 && g.FilledDCALegs >= g.TotalDCALegs
}

// Pyramid is a child of PositionGroup, one full DCA plan.
type Pyramid struct {
	ID              string
	GroupID         string
	PyramidIndex    int
	EntryPrice      decimal.Decimal
	Status          PyramidStatus
	DCAConfigSnapshot DCAConfiguration

	ClosedAt       *time.Time
	ExitPrice      decimal.Decimal
	RealizedPnLUSD decimal.Decimal
	TotalQuantity  decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DCAOrder is a leaf order leg belonging to a Pyramid and PositionGroup.
type DCAOrder struct {
	ID        string
	GroupID   string
	PyramidID string
	LegIndex  int

	Side      OrderSide
	OrderType OrderKind

	Price       decimal.Decimal
	Quantity    decimal.Decimal
	QuoteAmount decimal.Decimal

	Status DCAOrderStatus

	FilledQuantity decimal.Decimal
	AvgFillPrice   decimal.Decimal
	Fee            decimal.Decimal
	FeeCurrency    string

	TPPercent    decimal.Decimal
	TPPrice      decimal.Decimal
	TPOrderID    string
	TPHit        bool
	TPExecutedAt *time.Time

	ExchangeOrderID string

	SubmittedAt *time.Time
	FilledAt    *time.Time
	CancelledAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsSynthetic reports whether this row represents a synthetic exit
// (exit/hedge market sell) rather than a planned grid leg.
func (o DCAOrder) IsSynthetic() bool { return o.LegIndex == SyntheticLegIndex }

// IsExitFill reports whether this row, once filled, reduces the group's
// position rather than opening it: a synthetic exit/hedge sell or an
// aggregate/pyramid-aggregate take-profit order. Stat recomputation
// excludes both from entry-leg bookkeeping.
func (o DCAOrder) IsExitFill() bool {
	return o.LegIndex == SyntheticLegIndex || o.LegIndex == AggregateTPLegIndex
}

// QueuedSignal is a deferred admission request.
type QueuedSignal struct {
	ID        string
	UserID    string
	Exchange  string
	Symbol    string
	Timeframe string
	Side      OrderSide

	EntryPrice decimal.Decimal
	RawPayload []byte

	QueuedAt              time.Time
	ReplacementCount      int
	PriorityScore         decimal.Decimal
	IsPyramidContinuation bool
	CurrentLossPercent    decimal.Decimal
	PriorityExplanation   string

	Status QueueStatus

	PromotedAt      *time.Time
	RejectionReason string
}

// RiskAction is an audit record for a risk-engine decision.
type RiskAction struct {
	ID             string
	ActionType     RiskActionType
	LoserGroupID   string
	WinnerGroupIDs []string
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	PnLUSD         decimal.Decimal
	DurationSeconds int64
	Timestamp      time.Time
	FailureReason  string
}
