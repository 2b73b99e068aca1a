package position

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"spotgrid-engine/internal/apperr"
	"spotgrid-engine/internal/domain"
	"spotgrid-engine/pkg/gridcalc"
)

// RecomputeStats is the single place group aggregates are derived from
// their orders. Callers hold the group locked in session; it is invoked
// after any DCAOrder state change per the spec's stat-recomputation rule.
func (m *Manager) RecomputeStats(ctx context.Context, session sqlx.Session, groupID string) (*domain.PositionGroup, error) {
	group, err := m.positions.FindGroupForUpdate(ctx, session, groupID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "position.RecomputeStats", err)
	}
	pyramids, err := m.positions.PyramidsForGroupForUpdate(ctx, session, groupID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "position.RecomputeStats", err)
	}

	var (
		totalFilledQty    = decimal.Zero
		totalInvested     = decimal.Zero
		totalEntryFees    = decimal.Zero
		totalExitFees     = decimal.Zero
		filledLegs        int
		totalLegs         int
		entryQtys         []decimal.Decimal
		entryPrices       []decimal.Decimal
		allEntriesFilled  = true
		anyEntryLegExists bool
	)

	for i := range pyramids {
		orders, err := m.positions.OrdersForPyramid(ctx, pyramids[i].ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "position.RecomputeStats", err)
		}
		for _, o := range orders {
			if o.IsExitFill() {
				// Synthetic exits and aggregate/pyramid-aggregate TP fills
				// reduce filled quantity; they are not part of the
				// entry-fill bookkeeping. Realized PnL for an exit fill is
				// credited onto the group by its caller at the moment the
				// fill is recorded, not re-derived here.
				if o.Status != domain.OrderFilled {
					continue
				}
				totalFilledQty = totalFilledQty.Sub(o.FilledQuantity)
				totalExitFees = totalExitFees.Add(o.Fee)
				continue
			}

			totalLegs++
			anyEntryLegExists = true
			switch o.Status {
			case domain.OrderFilled:
				filledLegs++
				totalFilledQty = totalFilledQty.Add(o.FilledQuantity)
				totalInvested = totalInvested.Add(o.FilledQuantity.Mul(o.AvgFillPrice))
				totalEntryFees = totalEntryFees.Add(o.Fee)
				entryQtys = append(entryQtys, o.FilledQuantity)
				entryPrices = append(entryPrices, o.AvgFillPrice)
			case domain.OrderPartiallyFilled:
				allEntriesFilled = false
				totalFilledQty = totalFilledQty.Add(o.FilledQuantity)
				totalInvested = totalInvested.Add(o.FilledQuantity.Mul(o.AvgFillPrice))
				totalEntryFees = totalEntryFees.Add(o.Fee)
				if o.FilledQuantity.GreaterThan(decimal.Zero) {
					entryQtys = append(entryQtys, o.FilledQuantity)
					entryPrices = append(entryPrices, o.AvgFillPrice)
				}
			case domain.OrderCancelled, domain.OrderFailed:
				// neither filled nor pending; doesn't block all-filled.
			default:
				allEntriesFilled = false
			}
		}
	}

	weightedAvg := gridcalc.WeightedAverageEntry(entryQtys, entryPrices)

	group.FilledDCALegs = filledLegs
	group.TotalDCALegs = totalLegs
	group.WeightedAvgEntry = weightedAvg
	group.TotalInvestedUSD = totalInvested
	group.TotalFilledQuantity = totalFilledQty
	group.TotalEntryFeesUSD = totalEntryFees
	group.TotalExitFeesUSD = totalExitFees

	if price, err := m.currentPrice(ctx, group.Exchange, group.Symbol); err == nil && totalFilledQty.GreaterThan(decimal.Zero) {
		marketValue := totalFilledQty.Mul(price)
		group.UnrealizedPnLUSD = marketValue.Sub(totalInvested)
		if totalInvested.GreaterThan(decimal.Zero) {
			group.UnrealizedPnLPercent = group.UnrealizedPnLUSD.Div(totalInvested).Mul(decimal.NewFromInt(100))
		}
	} else if err != nil {
		logx.WithContext(ctx).Errorf("position: ticker unavailable for %s/%s, unrealized pnl stale: %v", group.Exchange, group.Symbol, err)
	}

	now := time.Now()
	switch {
	case totalFilledQty.IsZero() && group.Status != domain.StatusWaiting && group.Status != domain.StatusFailed:
		group.Status = domain.StatusClosed
		group.ClosedAt = &now
		group.ClosingStartedAt = nil
	case group.Status == domain.StatusWaiting && filledLegs > 0:
		group.Status = domain.StatusPartiallyFilled
	case anyEntryLegExists && allEntriesFilled && filledLegs == totalLegs && group.Status == domain.StatusPartiallyFilled:
		group.Status = domain.StatusActive
	}
	group.UpdatedAt = now

	if err := m.positions.UpdateGroup(ctx, session, group); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "position.RecomputeStats", err)
	}
	return group, nil
}

func (m *Manager) currentPrice(ctx context.Context, venue, symbol string) (decimal.Decimal, error) {
	provider, ok := m.provider(ctx, venue)
	if !ok {
		return decimal.Zero, apperr.New(apperr.KindExchangeFatal, "position.currentPrice", "no exchange provider configured")
	}
	ticker, err := provider.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, apperr.Wrap(apperr.KindExchangeTransient, "position.currentPrice", err)
	}
	return ticker.Price, nil
}
