package position

import (
	"context"
	"strings"
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

// CreateSignalInput is everything the position manager needs to plan and
// persist a fresh PositionGroup and its opening pyramid.
type CreateSignalInput struct {
	UserID    string
	Config    domain.DCAConfiguration
	Symbol    string
	Timeframe string
	Exchange  string
	BasePrice decimal.Decimal
}

// CreateFromSignal computes the grid plan and inserts the PositionGroup
// (WAITING), pyramid 0, and every planned DCAOrder (PENDING) in the
// caller's transaction. It does not talk to the exchange: callers submit
// the planned legs with SubmitPendingOrders once this transaction has
// committed, per the split-transaction requirement on any read-and-decide
// span that crosses exchange I/O.
func (m *Manager) CreateFromSignal(ctx context.Context, session sqlx.Session, in CreateSignalInput) (*domain.PositionGroup, *domain.Pyramid, error) {
	rules, err := m.precision.GetPrecisionForSymbol(ctx, in.Exchange, in.Symbol)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindValidation, "position.CreateFromSignal", err)
	}

	levels := in.Config.LevelsFor(0)
	capital := in.Config.CapitalFor(0)
	legs, err := gridcalc.Plan(in.BasePrice, domain.SideBuy, levels, capital, rules)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindValidation, "position.CreateFromSignal", err)
	}

	if err := m.checkBalance(ctx, in.Exchange, in.Symbol, legs); err != nil {
		return nil, nil, err
	}

	now := time.Now()
	group := &domain.PositionGroup{
		ID:                 uuid.NewString(),
		UserID:             in.UserID,
		Symbol:             in.Symbol,
		Timeframe:          in.Timeframe,
		Exchange:           in.Exchange,
		Side:               domain.SideBuy,
		Status:             domain.StatusWaiting,
		PyramidCount:       1,
		MaxPyramids:        in.Config.MaxPyramids,
		TotalDCALegs:       len(legs),
		BasePrice:          in.BasePrice,
		TPMode:             in.Config.TPMode,
		TPAggregatePercent: in.Config.TPAggregatePercent,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := m.positions.InsertGroup(ctx, session, group); err != nil {
		return nil, nil, apperr.Wrap(apperr.KindInternal, "position.CreateFromSignal", err)
	}

	pyramid := &domain.Pyramid{
		ID:           uuid.NewString(),
		GroupID:      group.ID,
		PyramidIndex: 0,
		Status:       domain.PyramidPending,
		EntryPrice:   in.BasePrice,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.positions.InsertPyramid(ctx, session, pyramid); err != nil {
		return nil, nil, apperr.Wrap(apperr.KindInternal, "position.CreateFromSignal", err)
	}

	for _, leg := range legs {
		order := orderFromLeg(group, pyramid, leg, now)
		if err := m.positions.InsertOrder(ctx, session, order); err != nil {
			return nil, nil, apperr.Wrap(apperr.KindInternal, "position.CreateFromSignal", err)
		}
	}

	return group, pyramid, nil
}

// PyramidContinuation appends pyramid_index=pyramidCount to an existing
// active group using the incoming entry price as its base. The caller
// must already hold the group locked (FindGroupForUpdate) in session.
func (m *Manager) PyramidContinuation(ctx context.Context, session sqlx.Session, group *domain.PositionGroup, config domain.DCAConfiguration, entryPrice decimal.Decimal) (*domain.Pyramid, error) {
	if group.PyramidCount >= group.MaxPyramids {
		return nil, apperr.New(apperr.KindAdmission, "position.PyramidContinuation", "max-pyramids-reached")
	}

	rules, err := m.precision.GetPrecisionForSymbol(ctx, group.Exchange, group.Symbol)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "position.PyramidContinuation", err)
	}

	index := group.PyramidCount
	levels := config.LevelsFor(index)
	capital := config.CapitalFor(index)
	legs, err := gridcalc.Plan(entryPrice, domain.SideBuy, levels, capital, rules)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "position.PyramidContinuation", err)
	}

	now := time.Now()
	pyramid := &domain.Pyramid{
		ID:           uuid.NewString(),
		GroupID:      group.ID,
		PyramidIndex: index,
		Status:       domain.PyramidPending,
		EntryPrice:   entryPrice,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.positions.InsertPyramid(ctx, session, pyramid); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "position.PyramidContinuation", err)
	}
	for _, leg := range legs {
		order := orderFromLeg(group, pyramid, leg, now)
		if err := m.positions.InsertOrder(ctx, session, order); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "position.PyramidContinuation", err)
		}
	}

	group.PyramidCount++
	group.MaxPyramids = config.MaxPyramids
	group.TotalDCALegs += len(legs)
	group.UpdatedAt = now
	if err := m.positions.UpdateGroup(ctx, session, group); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "position.PyramidContinuation", err)
	}

	return pyramid, nil
}

// SubmitPendingOrders submits every PENDING leg of pyramidID to the
// exchange, outside any database transaction. It then opens a follow-up
// transaction to persist the outcome: accepted legs move to OPEN with
// their exchange_order_id, rejected legs move to FAILED, and the group
// status is adjusted to PARTIALLY_FILLED (any leg accepted) or FAILED
// (none accepted). isContinuation distinguishes a fresh group's opening
// pyramid from a later pyramid appended by PyramidContinuation: when a
// continuation pyramid accepts zero legs, the pyramid row itself is
// rolled back (closed, pyramid_count decremented) rather than leaving a
// stranded empty pyramid on an otherwise-healthy group. Returns the
// number of legs accepted.
func (m *Manager) SubmitPendingOrders(ctx context.Context, groupID, pyramidID string, isContinuation bool) (int, error) {
	group, err := m.positions.FindGroup(ctx, groupID)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "position.SubmitPendingOrders", err)
	}
	provider, ok := m.provider(ctx, group.Exchange)
	if !ok {
		return 0, apperr.New(apperr.KindExchangeFatal, "position.SubmitPendingOrders", "no exchange provider configured")
	}

	orders, err := m.positions.OrdersForPyramid(ctx, pyramidID)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "position.SubmitPendingOrders", err)
	}

	rules, err := m.precision.GetPrecisionForSymbol(ctx, group.Exchange, group.Symbol)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindValidation, "position.SubmitPendingOrders", err)
	}

	accepted := 0
	now := time.Now()
	outcomes := make([]domain.DCAOrder, 0, len(orders))
	for _, order := range orders {
		if order.Status != domain.OrderPending {
			continue
		}

		if err := gridcalc.ValidateAgainstRules(gridcalc.Leg{
			Index:    order.LegIndex,
			Price:    order.Price,
			Notional: order.QuoteAmount,
			Quantity: order.Quantity,
		}, rules); err != nil {
			logx.WithContext(ctx).Errorf("position: leg %d of pyramid %s stale against current precision rules: %v", order.LegIndex, pyramidID, err)
			order.Status = domain.OrderFailed
			order.UpdatedAt = now
			outcomes = append(outcomes, order)
			continue
		}

		req := exchange.OrderRequest{
			Symbol:        group.Symbol,
			Side:          exchange.OrderSideBuy,
			Type:          exchange.OrderTypeLimit,
			Quantity:      order.Quantity.String(),
			Price:         order.Price.String(),
			AmountType:    exchange.AmountBase,
			ClientOrderID: order.ID,
		}
		result, err := provider.PlaceOrder(ctx, req)
		if err != nil {
			logx.WithContext(ctx).Errorf("position: submit leg %d of pyramid %s failed: %v", order.LegIndex, pyramidID, err)
			order.Status = domain.OrderFailed
			order.UpdatedAt = now
			outcomes = append(outcomes, order)
			continue
		}
		accepted++
		order.Status = domain.OrderOpen
		order.ExchangeOrderID = result.ExchangeOrderID
		order.SubmittedAt = &now
		order.UpdatedAt = now
		if result.State == exchange.OrderStateFilled {
			order.Status = domain.OrderFilled
			order.FilledQuantity = result.FilledQuantity
			order.AvgFillPrice = result.AvgFillPrice
			order.FilledAt = &now
		}
		outcomes = append(outcomes, order)
	}

	err = m.transact.Transact(ctx, func(ctx context.Context, session sqlx.Session) error {
		for i := range outcomes {
			if err := m.positions.UpdateOrder(ctx, session, &outcomes[i]); err != nil {
				return err
			}
		}
		g, err := m.positions.FindGroupForUpdate(ctx, session, groupID)
		if err != nil {
			return err
		}

		if isContinuation && accepted == 0 {
			rolledBack := time.Now()
			pyramids, err := m.positions.PyramidsForGroupForUpdate(ctx, session, groupID)
			if err != nil {
				return err
			}
			for i := range pyramids {
				if pyramids[i].ID != pyramidID {
					continue
				}
				pyramids[i].Status = domain.PyramidClosed
				pyramids[i].ClosedAt = &rolledBack
				pyramids[i].UpdatedAt = rolledBack
				if err := m.positions.UpdatePyramid(ctx, session, &pyramids[i]); err != nil {
					return err
				}
				break
			}
			g.PyramidCount--
			g.TotalDCALegs -= len(outcomes)
			g.UpdatedAt = rolledBack
			return m.positions.UpdateGroup(ctx, session, g)
		}

		if g.Status == domain.StatusWaiting {
			if accepted > 0 {
				g.Status = domain.StatusPartiallyFilled
			} else {
				g.Status = domain.StatusFailed
				now := time.Now()
				g.ClosedAt = &now
			}
			g.UpdatedAt = time.Now()
			if err := m.positions.UpdateGroup(ctx, session, g); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return accepted, apperr.Wrap(apperr.KindInternal, "position.SubmitPendingOrders", err)
	}

	return accepted, nil
}

func orderFromLeg(group *domain.PositionGroup, pyramid *domain.Pyramid, leg gridcalc.Leg, now time.Time) *domain.DCAOrder {
	return &domain.DCAOrder{
		ID:          uuid.NewString(),
		GroupID:     group.ID,
		PyramidID:   pyramid.ID,
		LegIndex:    leg.Index,
		Side:        domain.SideBuy,
		OrderType:   domain.OrderLimit,
		Price:       leg.Price,
		Quantity:    leg.Quantity,
		QuoteAmount: leg.Notional,
		Status:      domain.OrderPending,
		TPPercent:   leg.TPPercent,
		TPPrice:     leg.TPPrice,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// checkBalance verifies the user's free quote-asset balance can cover
// the planned notional. The quote asset is derived from the trailing
// characters of the symbol; venues without a recognizable suffix skip
// the check rather than reject a valid plan on a naming mismatch.
func (m *Manager) checkBalance(ctx context.Context, venue, symbol string, legs []gridcalc.Leg) error {
	quote := quoteAsset(symbol)
	if quote == "" {
		return nil
	}
	provider, ok := m.provider(ctx, venue)
	if !ok {
		return apperr.New(apperr.KindExchangeFatal, "position.checkBalance", "no exchange provider configured")
	}
	balances, err := provider.FetchFreeBalance(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindExchangeTransient, "position.checkBalance", err)
	}
	total := decimal.Zero
	for _, leg := range legs {
		total = total.Add(leg.Notional)
	}
	bal, ok := balances[quote]
	if !ok || bal.Free.LessThan(total) {
		return apperr.New(apperr.KindValidation, "position.checkBalance", "insufficient free balance for planned grid")
	}
	return nil
}

func quoteAsset(symbol string) string {
	for _, suffix := range []string{"USDT", "USDC", "BUSD", "USD"} {
		if strings.HasSuffix(symbol, suffix) {
			return suffix
		}
	}
	return ""
}
