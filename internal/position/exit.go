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
)

// HandleExit cancels every open entry and TP order on a group, market-
// sells its full filled quantity, and drives it to CLOSED. Per the
// transactional-boundary rule, the exchange calls happen outside any
// database transaction: the group is marked CLOSING and locked first,
// released, then the cancels/market-sell run, then a follow-up
// transaction records the outcome and recomputes stats. writeAudit
// records a RiskAction row (action_type=manual_close for an operator
// force-close; omitted for a plain TradingView exit signal).
func (m *Manager) HandleExit(ctx context.Context, groupID string, writeAudit bool, reason string) (*domain.PositionGroup, error) {
	var group *domain.PositionGroup
	err := m.transact.Transact(ctx, func(ctx context.Context, session sqlx.Session) error {
		g, err := m.positions.FindGroupForUpdate(ctx, session, groupID)
		if err != nil {
			return err
		}
		if g.Status.Terminal() {
			group = g
			return nil
		}
		now := time.Now()
		g.Status = domain.StatusClosing
		g.ClosingStartedAt = &now
		g.UpdatedAt = now
		if err := m.positions.UpdateGroup(ctx, session, g); err != nil {
			return err
		}
		group = g
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "position.HandleExit", err)
	}
	if group.Status.Terminal() {
		return group, nil
	}

	provider, ok := m.provider(ctx, group.Exchange)
	if !ok {
		return nil, apperr.New(apperr.KindExchangeFatal, "position.HandleExit", "no exchange provider configured")
	}

	pyramids, err := m.positions.PyramidsForGroup(ctx, groupID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "position.HandleExit", err)
	}

	var openOrders []domain.DCAOrder
	for _, p := range pyramids {
		orders, err := m.positions.OrdersForPyramid(ctx, p.ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "position.HandleExit", err)
		}
		openOrders = append(openOrders, orders...)
	}

	now := time.Now()
	var cancelled []domain.DCAOrder
	for _, o := range openOrders {
		if o.Status != domain.OrderOpen && o.Status != domain.OrderPartiallyFilled && !o.TPHit && o.TPOrderID == "" {
			continue
		}
		if o.Status == domain.OrderOpen || o.Status == domain.OrderPartiallyFilled {
			if err := provider.CancelOrder(ctx, group.Symbol, o.ExchangeOrderID); err != nil {
				logx.WithContext(ctx).Errorf("position: cancel entry %s failed: %v", o.ID, err)
			} else {
				o.Status = domain.OrderCancelled
				o.CancelledAt = &now
				o.UpdatedAt = now
				cancelled = append(cancelled, o)
			}
		}
		if o.TPOrderID != "" && !o.TPHit {
			if err := provider.CancelOrder(ctx, group.Symbol, o.TPOrderID); err != nil {
				logx.WithContext(ctx).Errorf("position: cancel tp for %s failed: %v", o.ID, err)
			}
		}
	}

	qty := group.TotalFilledQuantity
	var marketSell *exchange.Order
	if qty.GreaterThan(decimal.Zero) {
		result, err := provider.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol:        group.Symbol,
			Side:          exchange.OrderSideSell,
			Type:          exchange.OrderTypeMarket,
			Quantity:      qty.String(),
			AmountType:    exchange.AmountBase,
			ClientOrderID: uuid.NewString(),
		})
		if err != nil {
			return nil, apperr.Wrap(apperr.KindExchangeTransient, "position.HandleExit", err)
		}
		marketSell = result
	}

	hostPyramid := pyramids[len(pyramids)-1]
	err = m.transact.Transact(ctx, func(ctx context.Context, session sqlx.Session) error {
		for i := range cancelled {
			if err := m.positions.UpdateOrder(ctx, session, &cancelled[i]); err != nil {
				return err
			}
		}
		if marketSell != nil {
			fillPrice := marketSell.AvgFillPrice
			if fillPrice.IsZero() {
				fillPrice = marketSell.Price
			}
			filledQty := marketSell.FilledQuantity
			if filledQty.IsZero() {
				filledQty = qty
			}
			synthetic := &domain.DCAOrder{
				ID:              uuid.NewString(),
				GroupID:         group.ID,
				PyramidID:       hostPyramid.ID,
				LegIndex:        domain.SyntheticLegIndex,
				Side:            domain.SideSell,
				OrderType:       domain.OrderMarket,
				Price:           fillPrice,
				Quantity:        filledQty,
				FilledQuantity:  filledQty,
				AvgFillPrice:    fillPrice,
				Status:          domain.OrderFilled,
				ExchangeOrderID: marketSell.ExchangeOrderID,
				SubmittedAt:     &now,
				FilledAt:        &now,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := m.positions.InsertOrder(ctx, session, synthetic); err != nil {
				return err
			}
			locked, err := m.positions.FindGroupForUpdate(ctx, session, groupID)
			if err != nil {
				return err
			}
			locked.RealizedPnLUSD = locked.RealizedPnLUSD.Add(filledQty.Mul(fillPrice.Sub(locked.WeightedAvgEntry)))
			if err := m.positions.UpdateGroup(ctx, session, locked); err != nil {
				return err
			}
		}

		updated, err := m.RecomputeStats(ctx, session, groupID)
		if err != nil {
			return err
		}
		group = updated

		if writeAudit {
			action := &domain.RiskAction{
				ID:           uuid.NewString(),
				ActionType:   domain.ActionManualClose,
				LoserGroupID: groupID,
				Quantity:     qty,
				PnLUSD:       group.RealizedPnLUSD,
				Timestamp:    now,
				FailureReason: reason,
			}
			if err := m.risk.Insert(ctx, session, group.UserID, action); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "position.HandleExit", err)
	}

	return group, nil
}

// ForceClose is the operator-driven verb: identical to HandleExit but
// always records the RiskAction audit row.
func (m *Manager) ForceClose(ctx context.Context, groupID, reason string) (*domain.PositionGroup, error) {
	return m.HandleExit(ctx, groupID, true, reason)
}
