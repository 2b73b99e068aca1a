// Package risk implements the risk engine (C9): per-position timer
// management, stuck-CLOSING recovery, loser selection, winner selection,
// and the offset execution that closes a losing group against one or
// more winners' unrealized profit.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"spotgrid-engine/internal/apperr"
	"spotgrid-engine/internal/corrid"
	"spotgrid-engine/internal/domain"
	"spotgrid-engine/internal/lock"
	"spotgrid-engine/internal/metrics"
	"spotgrid-engine/internal/notify"
	"spotgrid-engine/internal/position"
	"spotgrid-engine/internal/precision"
	"spotgrid-engine/internal/repo"
	"spotgrid-engine/pkg/exchange"
	"spotgrid-engine/pkg/gridcalc"
)

const healthLoopName = "risk_engine"

// Engine runs one full pass of timer management, recovery, and offset
// execution per Tick, sharded across users within a single process.
type Engine struct {
	users     *repo.UserRepo
	positions *repo.PositionRepo
	actions   *repo.RiskRepo
	transact  repo.Transactor
	position  *position.Manager
	precision *precision.Cache
	exchanges map[string]exchange.Provider
	health    *lock.Store
	notifier  notify.Notifier

	closingTimeout time.Duration
}

// New constructs an Engine over its collaborators. closingTimeout is the
// CLOSING_TIMEOUT_MINUTES duration after which a stuck CLOSING group is
// reverted to ACTIVE.
func New(
	users *repo.UserRepo,
	positions *repo.PositionRepo,
	actions *repo.RiskRepo,
	transact repo.Transactor,
	positionMgr *position.Manager,
	prec *precision.Cache,
	exchanges map[string]exchange.Provider,
	health *lock.Store,
	notifier notify.Notifier,
	closingTimeout time.Duration,
) *Engine {
	if closingTimeout <= 0 {
		closingTimeout = 15 * time.Minute
	}
	return &Engine{
		users:          users,
		positions:      positions,
		actions:        actions,
		transact:       transact,
		position:       positionMgr,
		precision:      prec,
		exchanges:      exchanges,
		health:         health,
		notifier:       notifier,
		closingTimeout: closingTimeout,
	}
}

// Tick runs one full iteration: recovery, then per-user timer
// maintenance and offset selection, then a heartbeat. A failure scoped to
// one user never aborts the pass for the rest.
func (e *Engine) Tick(ctx context.Context) {
	ctx = corrid.New(ctx)
	if err := e.recoverStuckClosing(ctx); err != nil {
		corrid.Logger(ctx).Errorf("risk: stuck-closing recovery failed: %v", err)
	}

	users, err := e.users.ListAll(ctx)
	if err != nil {
		corrid.Logger(ctx).Errorf("risk: listing users failed: %v", err)
	} else {
		for _, u := range users {
			if err := e.runForUser(ctx, u); err != nil {
				corrid.Logger(ctx).Errorf("risk: pass failed for user %s: %v", u.ID, err)
			}
		}
	}

	if err := e.health.SetServiceHealth(ctx, lock.Health{
		Name:      healthLoopName,
		Status:    "ok",
		Timestamp: time.Now(),
	}); err != nil {
		corrid.Logger(ctx).Errorf("risk: heartbeat publish failed: %v", err)
	}
}

func (e *Engine) runForUser(ctx context.Context, u domain.User) error {
	if err := e.updateRiskTimers(ctx, u); err != nil {
		return err
	}
	return e.selectAndOffset(ctx, u)
}

// recoverStuckClosing reverts any group that has sat in CLOSING past the
// configured timeout back to ACTIVE with its timers cleared: the prior
// hedge attempt is treated as failed and will be retried next cycle once
// the group re-qualifies.
func (e *Engine) recoverStuckClosing(ctx context.Context) error {
	stuck, err := e.positions.StuckClosingGroups(ctx, time.Now().Add(-e.closingTimeout))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "risk.recoverStuckClosing", err)
	}
	for _, g := range stuck {
		err := e.transact.Transact(ctx, func(ctx context.Context, session sqlx.Session) error {
			fresh, err := e.positions.FindGroupForUpdate(ctx, session, g.ID)
			if err != nil {
				return err
			}
			if fresh.Status != domain.StatusClosing {
				return nil
			}
			fresh.Status = domain.StatusActive
			fresh.ClosingStartedAt = nil
			fresh.RiskTimerStart = nil
			fresh.RiskTimerExpires = nil
			fresh.UpdatedAt = time.Now()
			return e.positions.UpdateGroup(ctx, session, fresh)
		})
		if err != nil {
			corrid.Logger(ctx).Errorf("risk: recovering stuck-closing group %s failed: %v", g.ID, err)
		}
	}
	return nil
}

// updateRiskTimers implements update_risk_timers for one user's
// non-terminal groups: starting the timer the round a group first
// reaches fully-filled, clearing it when reset_timer_on_replacement fires
// on a pyramid continuation, and honoring risk_skip_once.
func (e *Engine) updateRiskTimers(ctx context.Context, u domain.User) error {
	groups, err := e.positions.NonTerminalGroups(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "risk.updateRiskTimers", err)
	}
	metrics.OpenPositionGroups.Set(float64(len(groups)))

	for _, g := range groups {
		if g.UserID != u.ID {
			continue
		}
		if err := e.updateTimerForGroup(ctx, u, g); err != nil {
			corrid.Logger(ctx).Errorf("risk: updating timer for group %s failed: %v", g.ID, err)
		}
	}
	return nil
}

func (e *Engine) updateTimerForGroup(ctx context.Context, u domain.User, g domain.PositionGroup) error {
	return e.transact.Transact(ctx, func(ctx context.Context, session sqlx.Session) error {
		fresh, err := e.positions.FindGroupForUpdate(ctx, session, g.ID)
		if err != nil {
			return err
		}
		if fresh.Status.Terminal() {
			return nil
		}

		now := time.Now()
		fullyFilled := fresh.TotalDCALegs > 0 && fresh.FilledDCALegs == fresh.TotalDCALegs
		if u.Risk.RequireFullPyramids {
			fullyFilled = fullyFilled && fresh.PyramidCount >= fresh.MaxPyramids
		}

		changed := false
		switch {
		case fresh.RiskSkipOnce:
			fresh.RiskSkipOnce = false
			changed = true
		case !fullyFilled:
			// A pyramid continuation reopened legs underneath an already
			// running timer; reset_timer_on_replacement decides whether
			// that timer keeps counting from its original full-fill time
			// or gets cleared until the group reaches fully-filled again.
			if u.Risk.ResetTimerOnReplacement && fresh.RiskTimerExpires != nil {
				fresh.RiskTimerStart = nil
				fresh.RiskTimerExpires = nil
				changed = true
			}
		case fullyFilled && fresh.RiskTimerExpires == nil:
			expires := now.Add(time.Duration(u.Risk.PostFullWaitMinutes) * time.Minute)
			fresh.RiskTimerStart = &now
			fresh.RiskTimerExpires = &expires
			changed = true
		}

		if !changed {
			return nil
		}
		fresh.UpdatedAt = now
		return e.positions.UpdateGroup(ctx, session, fresh)
	})
}

// selectAndOffset runs selection (c), winner selection (d) and offset
// execution (e) for one user.
func (e *Engine) selectAndOffset(ctx context.Context, u domain.User) error {
	losers, err := e.positions.EligibleLosers(ctx, u.ID, u.Risk.LossThresholdPercent.String())
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "risk.selectAndOffset", err)
	}

	var loser *domain.PositionGroup
	for i := range losers {
		if u.Risk.RequireFullPyramids && losers[i].PyramidCount < losers[i].MaxPyramids {
			continue
		}
		loser = &losers[i]
		break
	}
	if loser == nil {
		return nil
	}

	winners, err := e.positions.PositiveGroupsForUser(ctx, u.ID, loser.ID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "risk.selectAndOffset", err)
	}
	if u.Risk.UseTradeAgeFilter {
		cutoff := time.Now().Add(-time.Duration(u.Risk.AgeThresholdMinutes) * time.Minute)
		filtered := winners[:0]
		for _, w := range winners {
			if w.CreatedAt.Before(cutoff) {
				filtered = append(filtered, w)
			}
		}
		winners = filtered
	}
	if len(winners) > u.Risk.MaxWinnersToCombine {
		winners = winners[:u.Risk.MaxWinnersToCombine]
	}
	if len(winners) == 0 {
		return nil
	}

	return e.executeOffset(ctx, u, *loser, winners)
}

// executeOffset is step (e): it computes how much of the loser's loss
// the selected winners can absorb, sizes each winner's hedge close and
// the loser's own close proportionally, places the MARKET sells via the
// exchange gateway outside any transaction, then records the outcome.
func (e *Engine) executeOffset(ctx context.Context, u domain.User, loser domain.PositionGroup, winners []domain.PositionGroup) error {
	needed := loser.UnrealizedPnLUSD.Neg()
	if needed.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	combined := decimal.Zero
	for _, w := range winners {
		combined = combined.Add(w.UnrealizedPnLUSD)
	}
	if combined.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	fullClose := !(u.Risk.PartialCloseEnabled && combined.LessThan(needed))
	offsetAmount := decimal.Min(combined, needed)

	winnerFills := make(map[string]*exchange.Order, len(winners))
	for _, w := range winners {
		share := w.UnrealizedPnLUSD.Div(combined)
		usdToClose := offsetAmount.Mul(share)
		if usdToClose.LessThanOrEqual(decimal.Zero) {
			continue
		}

		qty, err := e.sizeWinnerClose(ctx, u, w, usdToClose)
		if err != nil {
			corrid.Logger(ctx).Errorf("risk: sizing hedge close for winner %s failed: %v", w.ID, err)
			continue
		}
		if qty.LessThanOrEqual(decimal.Zero) {
			continue
		}

		provider, ok := e.exchanges[w.Exchange]
		if !ok {
			corrid.Logger(ctx).Errorf("risk: no exchange provider for winner %s venue %s", w.ID, w.Exchange)
			continue
		}
		fill, err := provider.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol:        w.Symbol,
			Side:          exchange.OrderSideSell,
			Type:          exchange.OrderTypeMarket,
			Quantity:      qty.String(),
			AmountType:    exchange.AmountBase,
			ClientOrderID: uuid.NewString(),
		})
		if err != nil {
			corrid.Logger(ctx).Errorf("risk: hedge close market sell failed for winner %s: %v", w.ID, err)
			continue
		}
		winnerFills[w.ID] = fill
	}

	if len(winnerFills) == 0 {
		return nil
	}

	var (
		loserFill   *exchange.Order
		loserClosed *domain.PositionGroup
	)
	if fullClose {
		closed, err := e.position.HandleExit(ctx, loser.ID, false, "risk engine offset: full close")
		if err != nil {
			return err
		}
		loserClosed = closed
	} else {
		loserQty, err := e.sizeLoserPartialClose(ctx, u, loser, offsetAmount, needed)
		if err != nil {
			corrid.Logger(ctx).Errorf("risk: sizing partial close for loser %s failed: %v", loser.ID, err)
		} else if loserQty.GreaterThan(decimal.Zero) {
			provider, ok := e.exchanges[loser.Exchange]
			if !ok {
				return apperr.New(apperr.KindExchangeFatal, "risk.executeOffset", "no exchange provider configured for "+loser.Exchange)
			}
			fill, err := provider.PlaceOrder(ctx, exchange.OrderRequest{
				Symbol:        loser.Symbol,
				Side:          exchange.OrderSideSell,
				Type:          exchange.OrderTypeMarket,
				Quantity:      loserQty.String(),
				AmountType:    exchange.AmountBase,
				ClientOrderID: uuid.NewString(),
			})
			if err != nil {
				return apperr.Wrap(apperr.KindExchangeTransient, "risk.executeOffset", err)
			}
			loserFill = fill
		}
	}

	if err := e.recordOffset(ctx, u, loser, loserClosed, winners, winnerFills, fullClose, loserFill); err != nil {
		return err
	}

	verb := "partially closed"
	if fullClose {
		verb = "closed"
	}
	if err := e.notifier.Notify(ctx, 0, fmt.Sprintf("risk engine %s position %s against %d winner(s), offsetting %s USD", verb, loser.ID, len(winnerFills), offsetAmount.StringFixed(2))); err != nil {
		corrid.Logger(ctx).Errorf("risk: offset notification failed: %v", err)
	}
	return nil
}

// sizeWinnerClose converts a USD amount into a step-rounded quantity for
// one winner, bumping up to clear min_close_notional if needed, capped by
// the winner's own filled quantity.
func (e *Engine) sizeWinnerClose(ctx context.Context, u domain.User, w domain.PositionGroup, usdToClose decimal.Decimal) (decimal.Decimal, error) {
	rules, err := e.precision.GetPrecisionForSymbol(ctx, w.Exchange, w.Symbol)
	if err != nil {
		return decimal.Zero, err
	}
	price := markPrice(w)
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, nil
	}
	qty := usdToClose.Div(price)
	return sizeClose(qty, price, w.TotalFilledQuantity, rules, u.Risk.MinCloseNotional), nil
}

// sizeLoserPartialClose converts the fraction of the loser's position
// that the combined winner profit can cover into a step-rounded quantity.
func (e *Engine) sizeLoserPartialClose(ctx context.Context, u domain.User, loser domain.PositionGroup, offsetAmount, needed decimal.Decimal) (decimal.Decimal, error) {
	rules, err := e.precision.GetPrecisionForSymbol(ctx, loser.Exchange, loser.Symbol)
	if err != nil {
		return decimal.Zero, err
	}
	fraction := offsetAmount.Div(needed)
	qty := loser.TotalFilledQuantity.Mul(fraction)
	price := markPrice(loser)
	return sizeClose(qty, price, loser.TotalFilledQuantity, rules, u.Risk.MinCloseNotional), nil
}

// markPrice reconstructs a group's current mark price from its already
// recomputed aggregates (invested + unrealized pnl, divided by filled
// quantity) rather than a fresh ticker round-trip.
func markPrice(g domain.PositionGroup) decimal.Decimal {
	if g.TotalFilledQuantity.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return g.TotalInvestedUSD.Add(g.UnrealizedPnLUSD).Div(g.TotalFilledQuantity)
}

// sizeClose step-rounds a raw quantity down, caps it to what's available,
// then bumps it up to clear whichever is larger of the exchange's own
// min_notional and the user's configured min_close_notional, if
// available quantity allows.
func sizeClose(qty, price, available decimal.Decimal, rules gridcalc.PrecisionRules, userMinCloseNotional decimal.Decimal) decimal.Decimal {
	rounded := gridcalc.RoundQtyDownToStep(qty, rules.StepSize)
	if rounded.GreaterThan(available) {
		rounded = gridcalc.RoundQtyDownToStep(available, rules.StepSize)
	}

	floor := decimal.Max(rules.MinNotional, userMinCloseNotional)
	if floor.GreaterThan(decimal.Zero) && price.GreaterThan(decimal.Zero) {
		notional := rounded.Mul(price)
		if notional.LessThan(floor) {
			bumped := gridcalc.RoundQtyUpToStep(floor.Div(price), rules.StepSize)
			if bumped.LessThanOrEqual(available) {
				rounded = bumped
			} else {
				rounded = gridcalc.RoundQtyDownToStep(available, rules.StepSize)
			}
		}
	}
	if !rules.MinQty.IsZero() && rounded.LessThan(rules.MinQty) {
		return decimal.Zero
	}
	return rounded
}

// recordOffset writes the audit trail and persists every winner fill (and
// the loser's partial-close fill, if any) inside a single follow-up
// transaction. A full close already recorded its own outcome through
// HandleExit; this only adds the risk engine's audit row on top of it.
func (e *Engine) recordOffset(ctx context.Context, u domain.User, loser domain.PositionGroup, loserClosed *domain.PositionGroup, winners []domain.PositionGroup, winnerFills map[string]*exchange.Order, fullClose bool, loserFill *exchange.Order) error {
	winnerIDs := make([]string, 0, len(winnerFills))
	for id := range winnerFills {
		winnerIDs = append(winnerIDs, id)
	}

	return e.transact.Transact(ctx, func(ctx context.Context, session sqlx.Session) error {
		for _, w := range winners {
			fill, ok := winnerFills[w.ID]
			if !ok {
				continue
			}
			updated, err := e.position.RecordOffsetFill(ctx, session, w.ID, fill, true)
			if err != nil {
				return err
			}
			action := &domain.RiskAction{
				ID:             uuid.NewString(),
				ActionType:     domain.ActionHedgeClose,
				LoserGroupID:   loser.ID,
				WinnerGroupIDs: []string{w.ID},
				Quantity:       fill.FilledQuantity,
				Price:          fill.AvgFillPrice,
				PnLUSD:         updated.RealizedPnLUSD,
				Timestamp:      time.Now(),
			}
			if err := e.actions.Insert(ctx, session, u.ID, action); err != nil {
				return err
			}
			metrics.RiskActionsTotal.WithLabelValues(string(action.ActionType)).Inc()
		}

		loserAction := &domain.RiskAction{
			ID:             uuid.NewString(),
			LoserGroupID:   loser.ID,
			WinnerGroupIDs: winnerIDs,
			Timestamp:      time.Now(),
		}
		switch {
		case fullClose && loserClosed != nil:
			loserAction.ActionType = domain.ActionFullClose
			loserAction.Quantity = loser.TotalFilledQuantity
			loserAction.PnLUSD = loserClosed.RealizedPnLUSD
		case loserFill != nil:
			updated, err := e.position.RecordOffsetFill(ctx, session, loser.ID, loserFill, false)
			if err != nil {
				return err
			}
			loserAction.ActionType = domain.ActionPartialClose
			loserAction.Quantity = loserFill.FilledQuantity
			loserAction.Price = loserFill.AvgFillPrice
			loserAction.PnLUSD = updated.RealizedPnLUSD
		default:
			loserAction.ActionType = domain.ActionPartialClose
		}
		if err := e.actions.Insert(ctx, session, u.ID, loserAction); err != nil {
			return err
		}
		metrics.RiskActionsTotal.WithLabelValues(string(loserAction.ActionType)).Inc()
		return nil
	})
}
