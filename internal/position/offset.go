package position

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"spotgrid-engine/internal/apperr"
	"spotgrid-engine/internal/domain"
	"spotgrid-engine/pkg/exchange"
)

// RecordOffsetFill persists a risk-engine market sell as a synthetic exit
// order and credits the realized PnL it produced. The exchange call
// itself has already happened by the time this runs, outside any
// transaction; this only records the outcome and recomputes stats, the
// same split-transaction pattern HandleExit follows. isWinner accumulates
// the group's hedged-volume counters; a loser being closed does not.
func (m *Manager) RecordOffsetFill(ctx context.Context, session sqlx.Session, groupID string, fill *exchange.Order, isWinner bool) (*domain.PositionGroup, error) {
	group, err := m.positions.FindGroupForUpdate(ctx, session, groupID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "position.RecordOffsetFill", err)
	}
	pyramids, err := m.positions.PyramidsForGroupForUpdate(ctx, session, groupID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "position.RecordOffsetFill", err)
	}
	if len(pyramids) == 0 {
		return nil, apperr.New(apperr.KindInternal, "position.RecordOffsetFill", "group has no pyramids to attach an offset fill to")
	}
	hostPyramid := pyramids[len(pyramids)-1]

	now := time.Now()
	fillPrice := fill.AvgFillPrice
	if fillPrice.IsZero() {
		fillPrice = fill.Price
	}
	filledQty := fill.FilledQuantity
	if filledQty.IsZero() {
		filledQty = fill.Quantity
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
		ExchangeOrderID: fill.ExchangeOrderID,
		SubmittedAt:     &now,
		FilledAt:        &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := m.positions.InsertOrder(ctx, session, synthetic); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "position.RecordOffsetFill", err)
	}

	group.RealizedPnLUSD = group.RealizedPnLUSD.Add(filledQty.Mul(fillPrice.Sub(group.WeightedAvgEntry)))
	if isWinner {
		group.TotalHedgedQty = group.TotalHedgedQty.Add(filledQty)
		group.TotalHedgedValueUSD = group.TotalHedgedValueUSD.Add(filledQty.Mul(fillPrice))
	}
	if err := m.positions.UpdateGroup(ctx, session, group); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "position.RecordOffsetFill", err)
	}

	return m.RecomputeStats(ctx, session, groupID)
}
