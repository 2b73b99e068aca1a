package repo

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"spotgrid-engine/internal/domain"
	"spotgrid-engine/internal/model"
)

// PositionRepo exposes domain-typed, transaction-aware access to
// PositionGroup, Pyramid and DCAOrder rows. Every write method that needs
// a row lock takes an explicit sqlx.Session so callers control the
// transaction boundary (the split-transaction create-from-signal flow and
// the pool manager's slot count both depend on this).
type PositionRepo struct {
	groups   model.PositionGroupsModel
	pyramids model.PyramidsModel
	orders   model.DCAOrdersModel
}

// NewPositionRepo constructs a PositionRepo over the given models.
func NewPositionRepo(groups model.PositionGroupsModel, pyramids model.PyramidsModel, orders model.DCAOrdersModel) *PositionRepo {
	return &PositionRepo{groups: groups, pyramids: pyramids, orders: orders}
}

func (r *PositionRepo) FindGroup(ctx context.Context, id string) (*domain.PositionGroup, error) {
	row, err := r.groups.FindOne(ctx, id)
	if err != nil {
		return nil, err
	}
	return groupFromRow(row), nil
}

func (r *PositionRepo) FindGroupForUpdate(ctx context.Context, session sqlx.Session, id string) (*domain.PositionGroup, error) {
	row, err := r.groups.FindOneForUpdate(ctx, session, id)
	if err != nil {
		return nil, err
	}
	return groupFromRow(row), nil
}

func (r *PositionRepo) FindActiveGroup(ctx context.Context, userID, symbol, timeframe, exchange string, side domain.OrderSide) (*domain.PositionGroup, error) {
	row, err := r.groups.FindActiveByUserSymbol(ctx, userID, symbol, timeframe, exchange, string(side))
	if err != nil {
		return nil, err
	}
	return groupFromRow(row), nil
}

// CountOpenSlots locks and counts how many non-terminal groups a user
// currently occupies, the pool manager's admission check.
func (r *PositionRepo) CountOpenSlots(ctx context.Context, session sqlx.Session, userID string) (int, error) {
	return r.groups.CountActiveForUpdate(ctx, session, userID, []string{
		string(domain.StatusWaiting), string(domain.StatusPartiallyFilled),
		string(domain.StatusActive), string(domain.StatusClosing),
	})
}

func (r *PositionRepo) InsertGroup(ctx context.Context, session sqlx.Session, g *domain.PositionGroup) error {
	return r.groups.Insert(ctx, session, rowFromGroup(g))
}

func (r *PositionRepo) UpdateGroup(ctx context.Context, session sqlx.Session, g *domain.PositionGroup) error {
	return r.groups.Update(ctx, session, rowFromGroup(g))
}

func (r *PositionRepo) NonTerminalGroups(ctx context.Context) ([]domain.PositionGroup, error) {
	rows, err := r.groups.FindNonTerminal(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PositionGroup, 0, len(rows))
	for i := range rows {
		out = append(out, *groupFromRow(&rows[i]))
	}
	return out, nil
}

func (r *PositionRepo) StuckClosingGroups(ctx context.Context, before time.Time) ([]domain.PositionGroup, error) {
	rows, err := r.groups.FindStuckClosing(ctx, before)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PositionGroup, 0, len(rows))
	for i := range rows {
		out = append(out, *groupFromRow(&rows[i]))
	}
	return out, nil
}

func (r *PositionRepo) EligibleLosers(ctx context.Context, userID string, lossThresholdPercent string) ([]domain.PositionGroup, error) {
	rows, err := r.groups.FindEligibleLosers(ctx, userID, lossThresholdPercent)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PositionGroup, 0, len(rows))
	for i := range rows {
		out = append(out, *groupFromRow(&rows[i]))
	}
	return out, nil
}

func (r *PositionRepo) PositiveGroupsForUser(ctx context.Context, userID, excludeID string) ([]domain.PositionGroup, error) {
	rows, err := r.groups.FindPositiveForUser(ctx, userID, excludeID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PositionGroup, 0, len(rows))
	for i := range rows {
		out = append(out, *groupFromRow(&rows[i]))
	}
	return out, nil
}

func (r *PositionRepo) PyramidsForGroup(ctx context.Context, groupID string) ([]domain.Pyramid, error) {
	rows, err := r.pyramids.FindByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Pyramid, 0, len(rows))
	for i := range rows {
		out = append(out, *pyramidFromRow(&rows[i]))
	}
	return out, nil
}

func (r *PositionRepo) PyramidsForGroupForUpdate(ctx context.Context, session sqlx.Session, groupID string) ([]domain.Pyramid, error) {
	rows, err := r.pyramids.FindByGroupForUpdate(ctx, session, groupID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Pyramid, 0, len(rows))
	for i := range rows {
		out = append(out, *pyramidFromRow(&rows[i]))
	}
	return out, nil
}

func (r *PositionRepo) InsertPyramid(ctx context.Context, session sqlx.Session, p *domain.Pyramid) error {
	return r.pyramids.Insert(ctx, session, rowFromPyramid(p))
}

func (r *PositionRepo) UpdatePyramid(ctx context.Context, session sqlx.Session, p *domain.Pyramid) error {
	return r.pyramids.Update(ctx, session, rowFromPyramid(p))
}

func (r *PositionRepo) OrdersForPyramid(ctx context.Context, pyramidID string) ([]domain.DCAOrder, error) {
	rows, err := r.orders.FindByPyramid(ctx, pyramidID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DCAOrder, 0, len(rows))
	for i := range rows {
		out = append(out, *orderFromRow(&rows[i]))
	}
	return out, nil
}

func (r *PositionRepo) OpenOrderBatch(ctx context.Context, limit int) ([]domain.DCAOrder, error) {
	rows, err := r.orders.FindOpenBatch(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DCAOrder, 0, len(rows))
	for i := range rows {
		out = append(out, *orderFromRow(&rows[i]))
	}
	return out, nil
}

// OpenTPBatch fetches filled entry legs whose own per_leg TP order is
// still resting (tp_order_id set, tp_hit=false), the fill monitor's
// second working set.
func (r *PositionRepo) OpenTPBatch(ctx context.Context, limit int) ([]domain.DCAOrder, error) {
	rows, err := r.orders.FindOpenTPBatch(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DCAOrder, 0, len(rows))
	for i := range rows {
		out = append(out, *orderFromRow(&rows[i]))
	}
	return out, nil
}

func (r *PositionRepo) InsertOrder(ctx context.Context, session sqlx.Session, o *domain.DCAOrder) error {
	return r.orders.Insert(ctx, session, rowFromOrder(o))
}

func (r *PositionRepo) UpdateOrder(ctx context.Context, session sqlx.Session, o *domain.DCAOrder) error {
	return r.orders.Update(ctx, session, rowFromOrder(o))
}

func groupFromRow(row *model.PositionGroupRow) *domain.PositionGroup {
	return &domain.PositionGroup{
		ID:        row.ID,
		UserID:    row.UserID,
		Symbol:    row.Symbol,
		Timeframe: row.Timeframe,
		Exchange:  row.Exchange,
		Side:      domain.OrderSide(row.Side),

		Status: domain.PositionGroupStatus(row.Status),

		PyramidCount:  row.PyramidCount,
		MaxPyramids:   row.MaxPyramids,
		TotalDCALegs:  row.TotalDCALegs,
		FilledDCALegs: row.FilledDCALegs,

		BasePrice:        parseDecimal(row.BasePrice),
		WeightedAvgEntry: parseDecimal(row.WeightedAvgEntry),

		TotalInvestedUSD:     parseDecimal(row.TotalInvestedUSD),
		TotalFilledQuantity:  parseDecimal(row.TotalFilledQuantity),
		UnrealizedPnLUSD:     parseDecimal(row.UnrealizedPnLUSD),
		UnrealizedPnLPercent: parseDecimal(row.UnrealizedPnLPercent),
		RealizedPnLUSD:       parseDecimal(row.RealizedPnLUSD),
		TotalEntryFeesUSD:    parseDecimal(row.TotalEntryFeesUSD),
		TotalExitFeesUSD:     parseDecimal(row.TotalExitFeesUSD),
		TotalHedgedQty:       parseDecimal(row.TotalHedgedQty),
		TotalHedgedValueUSD:  parseDecimal(row.TotalHedgedValueUSD),

		RiskTimerStart:   timePtr(row.RiskTimerStart.Time, row.RiskTimerStart.Valid),
		RiskTimerExpires: timePtr(row.RiskTimerExpires.Time, row.RiskTimerExpires.Valid),
		RiskEligible:     row.RiskEligible,
		RiskBlocked:      row.RiskBlocked,
		RiskSkipOnce:     row.RiskSkipOnce,

		TPMode:             domain.TPMode(row.TPMode),
		TPAggregatePercent: parseDecimal(row.TPAggregatePercent),

		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
		ClosingStartedAt: timePtr(row.ClosingStartedAt.Time, row.ClosingStartedAt.Valid),
		ClosedAt:         timePtr(row.ClosedAt.Time, row.ClosedAt.Valid),
	}
}

func rowFromGroup(g *domain.PositionGroup) *model.PositionGroupRow {
	now := g.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	return &model.PositionGroupRow{
		ID:        g.ID,
		UserID:    g.UserID,
		Symbol:    g.Symbol,
		Timeframe: g.Timeframe,
		Exchange:  g.Exchange,
		Side:      string(g.Side),
		Status:    string(g.Status),

		PyramidCount:  g.PyramidCount,
		MaxPyramids:   g.MaxPyramids,
		TotalDCALegs:  g.TotalDCALegs,
		FilledDCALegs: g.FilledDCALegs,

		BasePrice:        decStr(g.BasePrice),
		WeightedAvgEntry: decStr(g.WeightedAvgEntry),

		TotalInvestedUSD:     decStr(g.TotalInvestedUSD),
		TotalFilledQuantity:  decStr(g.TotalFilledQuantity),
		UnrealizedPnLUSD:     decStr(g.UnrealizedPnLUSD),
		UnrealizedPnLPercent: decStr(g.UnrealizedPnLPercent),
		RealizedPnLUSD:       decStr(g.RealizedPnLUSD),
		TotalEntryFeesUSD:    decStr(g.TotalEntryFeesUSD),
		TotalExitFeesUSD:     decStr(g.TotalExitFeesUSD),
		TotalHedgedQty:       decStr(g.TotalHedgedQty),
		TotalHedgedValueUSD:  decStr(g.TotalHedgedValueUSD),

		RiskTimerStart:   toNullTimePtr(g.RiskTimerStart),
		RiskTimerExpires: toNullTimePtr(g.RiskTimerExpires),
		RiskEligible:     g.RiskEligible,
		RiskBlocked:      g.RiskBlocked,
		RiskSkipOnce:     g.RiskSkipOnce,

		TPMode:             string(g.TPMode),
		TPAggregatePercent: decStr(g.TPAggregatePercent),

		CreatedAt:        g.CreatedAt,
		UpdatedAt:        now,
		ClosingStartedAt: toNullTimePtr(g.ClosingStartedAt),
		ClosedAt:         toNullTimePtr(g.ClosedAt),
	}
}

func pyramidFromRow(row *model.PyramidRow) *domain.Pyramid {
	return &domain.Pyramid{
		ID:             row.ID,
		GroupID:        row.PositionGroupID,
		PyramidIndex:   row.PyramidIndex,
		Status:         domain.PyramidStatus(row.Status),
		EntryPrice:     parseDecimal(row.WeightedAvgEntry),
		TotalQuantity:  parseDecimal(row.TotalFilledQuantity),
		ExitPrice:      parseDecimal(nullStr(row.ExitPrice)),
		RealizedPnLUSD: parseDecimal(nullStr(row.RealizedPnLUSD)),
		ClosedAt:       timePtr(row.ClosedAt.Time, row.ClosedAt.Valid),
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}

func rowFromPyramid(p *domain.Pyramid) *model.PyramidRow {
	now := p.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	return &model.PyramidRow{
		ID:                  p.ID,
		PositionGroupID:     p.GroupID,
		PyramidIndex:        p.PyramidIndex,
		Status:              string(p.Status),
		WeightedAvgEntry:    decStr(p.EntryPrice),
		TotalInvestedUSD:    decStr(p.EntryPrice.Mul(p.TotalQuantity)),
		TotalFilledQuantity: decStr(p.TotalQuantity),
		EntryFeesUSD:        "0",
		ExitPrice:           toNullStr(decStr(p.ExitPrice)),
		RealizedPnLUSD:      toNullStr(decStr(p.RealizedPnLUSD)),
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           now,
		ClosedAt:            toNullTimePtr(p.ClosedAt),
	}
}

func orderFromRow(row *model.DCAOrderRow) *domain.DCAOrder {
	return &domain.DCAOrder{
		ID:        row.ID,
		GroupID:   row.GroupID,
		PyramidID: row.PyramidID,
		LegIndex:  row.LegIndex,

		Side:      domain.OrderSide(row.Side),
		OrderType: domain.OrderKind(row.Kind),

		Price:       parseDecimal(row.PlannedPrice),
		Quantity:    parseDecimal(row.PlannedQuantity),
		QuoteAmount: parseDecimal(row.QuoteAmount),

		Status: domain.DCAOrderStatus(row.Status),

		FilledQuantity: parseDecimal(row.FilledQuantity),
		AvgFillPrice:   parseDecimal(nullStr(row.FilledPrice)),
		Fee:            parseDecimal(nullStr(row.FeeUSD)),
		FeeCurrency:    nullStr(row.FeeCurrency),

		TPPercent:    parseDecimal(nullStr(row.TPPercent)),
		TPPrice:      parseDecimal(nullStr(row.TPPrice)),
		TPOrderID:    nullStr(row.TPOrderID),
		TPHit:        row.TPHit,
		TPExecutedAt: timePtr(row.TPExecutedAt.Time, row.TPExecutedAt.Valid),

		ExchangeOrderID: nullStr(row.ExchangeOrderID),

		SubmittedAt: timePtr(row.SubmittedAt.Time, row.SubmittedAt.Valid),
		FilledAt:    timePtr(row.FilledAt.Time, row.FilledAt.Valid),
		CancelledAt: timePtr(row.CancelledAt.Time, row.CancelledAt.Valid),

		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

func rowFromOrder(o *domain.DCAOrder) *model.DCAOrderRow {
	now := o.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	return &model.DCAOrderRow{
		ID:        o.ID,
		GroupID:   o.GroupID,
		PyramidID: o.PyramidID,
		LegIndex:  o.LegIndex,
		Status:    string(o.Status),
		Side:      string(o.Side),
		Kind:      string(o.OrderType),

		PlannedPrice:    decStr(o.Price),
		PlannedQuantity: decStr(o.Quantity),
		QuoteAmount:     decStr(o.QuoteAmount),
		FilledQuantity:  decStr(o.FilledQuantity),
		FilledPrice:     toNullStr(decStr(o.AvgFillPrice)),
		FeeUSD:          toNullStr(decStr(o.Fee)),
		FeeCurrency:     toNullStr(o.FeeCurrency),
		ExchangeOrderID: toNullStr(o.ExchangeOrderID),

		TPPercent:    toNullStr(decStr(o.TPPercent)),
		TPPrice:      toNullStr(decStr(o.TPPrice)),
		TPOrderID:    toNullStr(o.TPOrderID),
		TPHit:        o.TPHit,
		TPExecutedAt: toNullTimePtr(o.TPExecutedAt),

		IsSynthetic: o.IsSynthetic(),
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   now,
		SubmittedAt: toNullTimePtr(o.SubmittedAt),
		FilledAt:    toNullTimePtr(o.FilledAt),
		CancelledAt: toNullTimePtr(o.CancelledAt),
	}
}
