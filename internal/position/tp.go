package position

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"spotgrid-engine/internal/apperr"
	"spotgrid-engine/internal/domain"
	"spotgrid-engine/pkg/exchange"
	"spotgrid-engine/pkg/gridcalc"
)

// OnEntryFilled places the take-profit order(s) implied by the group's
// TPMode once entry order orderID has transitioned to FILLED. Per mode:
//   - per_leg: one LIMIT sell at that leg's own tp_price.
//   - aggregate: a single group-wide target on the weighted average
//     entry, re-placed (cancel + replace) on every fill.
//   - pyramid_aggregate: one target per pyramid, re-placed on every fill
//     of that pyramid's legs.
//   - hybrid: both per-leg and aggregate targets; OnTPFilled cancels
//     whichever one didn't fire first.
func (m *Manager) OnEntryFilled(ctx context.Context, session sqlx.Session, group *domain.PositionGroup, pyramid *domain.Pyramid, order *domain.DCAOrder) error {
	switch group.TPMode {
	case domain.TPPerLeg:
		return m.placePerLegTP(ctx, session, group, order)
	case domain.TPAggregate:
		return m.placeAggregateTP(ctx, session, group, pyramid)
	case domain.TPPyramidAggregate:
		return m.placePyramidAggregateTP(ctx, session, group, pyramid)
	case domain.TPHybrid:
		if err := m.placePerLegTP(ctx, session, group, order); err != nil {
			return err
		}
		return m.placeAggregateTP(ctx, session, group, pyramid)
	default:
		return apperr.New(apperr.KindValidation, "position.OnEntryFilled", "unknown tp mode")
	}
}

func (m *Manager) placePerLegTP(ctx context.Context, session sqlx.Session, group *domain.PositionGroup, order *domain.DCAOrder) error {
	if order.TPOrderID != "" || order.TPPrice.IsZero() || order.FilledQuantity.IsZero() {
		return nil
	}
	provider, ok := m.provider(ctx, group.Exchange)
	if !ok {
		return apperr.New(apperr.KindExchangeFatal, "position.placePerLegTP", "no exchange provider configured")
	}
	result, err := provider.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:        group.Symbol,
		Side:          exchange.OrderSideSell,
		Type:          exchange.OrderTypeLimit,
		Quantity:      order.FilledQuantity.String(),
		Price:         order.TPPrice.String(),
		AmountType:    exchange.AmountBase,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		logx.WithContext(ctx).Errorf("position: tp placement failed for leg %d: %v", order.LegIndex, err)
		return apperr.Wrap(apperr.KindExchangeTransient, "position.placePerLegTP", err)
	}
	order.TPOrderID = result.ExchangeOrderID
	order.UpdatedAt = time.Now()
	return m.positions.UpdateOrder(ctx, session, order)
}

// placeAggregateTP maintains the single group-wide TP: it cancels any
// resting aggregate TP order and re-places one sized to the group's
// current total_filled_quantity at a target on the weighted average. The
// row is attached to the most recent pyramid since dca_orders requires a
// pyramid_id; the target is a property of the group, not that pyramid.
func (m *Manager) placeAggregateTP(ctx context.Context, session sqlx.Session, group *domain.PositionGroup, hostPyramid *domain.Pyramid) error {
	return m.reTargetTP(ctx, session, group, hostPyramid.ID, group.WeightedAvgEntry, group.TotalFilledQuantity, group.TPAggregatePercent)
}

// placePyramidAggregateTP is the pyramid-scoped analogue: the target
// tracks only this pyramid's own filled legs.
func (m *Manager) placePyramidAggregateTP(ctx context.Context, session sqlx.Session, group *domain.PositionGroup, pyramid *domain.Pyramid) error {
	orders, err := m.positions.OrdersForPyramid(ctx, pyramid.ID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "position.placePyramidAggregateTP", err)
	}
	var qtys, prices []decimal.Decimal
	totalQty := decimal.Zero
	for _, o := range orders {
		if o.IsExitFill() {
			continue
		}
		if o.FilledQuantity.GreaterThan(decimal.Zero) {
			qtys = append(qtys, o.FilledQuantity)
			prices = append(prices, o.AvgFillPrice)
			totalQty = totalQty.Add(o.FilledQuantity)
		}
	}
	weightedAvg := gridcalc.WeightedAverageEntry(qtys, prices)
	return m.reTargetTP(ctx, session, group, pyramid.ID, weightedAvg, totalQty, group.TPAggregatePercent)
}

func (m *Manager) reTargetTP(ctx context.Context, session sqlx.Session, group *domain.PositionGroup, hostPyramidID string, weightedAvg, totalQty, tpPercent decimal.Decimal) error {
	if totalQty.IsZero() || weightedAvg.IsZero() {
		return nil
	}
	provider, ok := m.provider(ctx, group.Exchange)
	if !ok {
		return apperr.New(apperr.KindExchangeFatal, "position.reTargetTP", "no exchange provider configured")
	}

	existing, err := m.findAggregateTPOrder(ctx, hostPyramidID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "position.reTargetTP", err)
	}
	if existing != nil && existing.Status == domain.OrderOpen {
		if err := provider.CancelOrder(ctx, group.Symbol, existing.ExchangeOrderID); err != nil {
			logx.WithContext(ctx).Errorf("position: cancel prior aggregate tp failed: %v", err)
		}
		existing.Status = domain.OrderCancelled
		now := time.Now()
		existing.CancelledAt = &now
		existing.UpdatedAt = now
		if err := m.positions.UpdateOrder(ctx, session, existing); err != nil {
			return err
		}
	}

	target := weightedAvg.Mul(decimal.NewFromInt(1).Add(tpPercent.Div(decimal.NewFromInt(100))))
	result, err := provider.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:        group.Symbol,
		Side:          exchange.OrderSideSell,
		Type:          exchange.OrderTypeLimit,
		Quantity:      totalQty.String(),
		Price:         target.String(),
		AmountType:    exchange.AmountBase,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return apperr.Wrap(apperr.KindExchangeTransient, "position.reTargetTP", err)
	}

	now := time.Now()
	row := &domain.DCAOrder{
		ID:              uuid.NewString(),
		GroupID:         group.ID,
		PyramidID:       hostPyramidID,
		LegIndex:        domain.AggregateTPLegIndex,
		Side:            domain.SideSell,
		OrderType:       domain.OrderLimit,
		Price:           target,
		Quantity:        totalQty,
		QuoteAmount:     target.Mul(totalQty),
		Status:          domain.OrderOpen,
		ExchangeOrderID: result.ExchangeOrderID,
		SubmittedAt:     &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return m.positions.InsertOrder(ctx, session, row)
}

// OnTPFilled credits the realized PnL a just-filled TP order produced
// and, for pyramid_aggregate mode, closes the pyramid it belonged to:
// the spec treats a pyramid TP hit as closing that pyramid outright,
// recording its own exit_price/realized_pnl_usd/total_quantity rather
// than leaving it to decay through ordinary stat recomputation.
func (m *Manager) OnTPFilled(ctx context.Context, session sqlx.Session, group *domain.PositionGroup, pyramid *domain.Pyramid, tpOrder *domain.DCAOrder) error {
	pnl := tpOrder.FilledQuantity.Mul(tpOrder.AvgFillPrice.Sub(group.WeightedAvgEntry))
	group.RealizedPnLUSD = group.RealizedPnLUSD.Add(pnl)
	if err := m.positions.UpdateGroup(ctx, session, group); err != nil {
		return err
	}

	if group.TPMode == domain.TPHybrid {
		if err := m.cancelHybridSibling(ctx, session, group, tpOrder); err != nil {
			return err
		}
	}

	if group.TPMode != domain.TPPyramidAggregate || pyramid == nil {
		return nil
	}

	now := time.Now()
	pyramid.Status = domain.PyramidClosed
	pyramid.ClosedAt = &now
	pyramid.ExitPrice = tpOrder.AvgFillPrice
	pyramid.RealizedPnLUSD = pnl
	pyramid.TotalQuantity = tpOrder.FilledQuantity
	pyramid.UpdatedAt = now
	return m.positions.UpdatePyramid(ctx, session, pyramid)
}

// cancelHybridSibling enforces the hybrid TP race rule: whichever of the
// per-leg and aggregate targets fires first, the other resting order is
// cancelled so the position doesn't end up flat with a stale sell order
// still working on the exchange.
func (m *Manager) cancelHybridSibling(ctx context.Context, session sqlx.Session, group *domain.PositionGroup, tpOrder *domain.DCAOrder) error {
	provider, ok := m.provider(ctx, group.Exchange)
	if !ok {
		return apperr.New(apperr.KindExchangeFatal, "position.cancelHybridSibling", "no exchange provider configured")
	}

	pyramids, err := m.positions.PyramidsForGroupForUpdate(ctx, session, group.ID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "position.cancelHybridSibling", err)
	}

	if tpOrder.LegIndex == domain.AggregateTPLegIndex {
		for _, p := range pyramids {
			orders, err := m.positions.OrdersForPyramid(ctx, p.ID)
			if err != nil {
				return apperr.Wrap(apperr.KindInternal, "position.cancelHybridSibling", err)
			}
			for i := range orders {
				o := orders[i]
				if o.TPOrderID == "" || o.TPHit {
					continue
				}
				if err := provider.CancelOrder(ctx, group.Symbol, o.TPOrderID); err != nil {
					logx.WithContext(ctx).Errorf("position: cancel sibling per-leg tp for order %s failed: %v", o.ID, err)
				}
				now := time.Now()
				o.TPHit = true
				o.TPExecutedAt = &now
				o.UpdatedAt = now
				if err := m.positions.UpdateOrder(ctx, session, &o); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, p := range pyramids {
		existing, err := m.findAggregateTPOrder(ctx, p.ID)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "position.cancelHybridSibling", err)
		}
		if existing == nil || existing.Status != domain.OrderOpen {
			continue
		}
		if err := provider.CancelOrder(ctx, group.Symbol, existing.ExchangeOrderID); err != nil {
			logx.WithContext(ctx).Errorf("position: cancel sibling aggregate tp failed: %v", err)
		}
		now := time.Now()
		existing.Status = domain.OrderCancelled
		existing.CancelledAt = &now
		existing.UpdatedAt = now
		return m.positions.UpdateOrder(ctx, session, existing)
	}
	return nil
}

func (m *Manager) findAggregateTPOrder(ctx context.Context, pyramidID string) (*domain.DCAOrder, error) {
	orders, err := m.positions.OrdersForPyramid(ctx, pyramidID)
	if err != nil {
		return nil, err
	}
	var latest *domain.DCAOrder
	for i := range orders {
		if orders[i].LegIndex != domain.AggregateTPLegIndex {
			continue
		}
		o := orders[i]
		if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
			latest = &o
		}
	}
	return latest, nil
}
