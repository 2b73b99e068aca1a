package signalrouter

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"spotgrid-engine/internal/apperr"
	"spotgrid-engine/internal/domain"
	"spotgrid-engine/internal/position"
)

// PromoteQueued drains userID's queue into freed execution-pool slots:
// it keeps promoting the highest-priority queued signal and creating a
// position group for it until either the queue is empty or the pool is
// full again. A full close freeing a slot is the usual trigger; callers
// run this once per user on a schedule rather than wiring an explicit
// close→promote event, since the pool's capacity is always read live.
func (r *Router) PromoteQueued(ctx context.Context, userID string, maxOpenPositionsGlobal int) error {
	for {
		var (
			promoted *domain.QueuedSignal
			group    *domain.PositionGroup
			pyramid  *domain.Pyramid
			granted  bool
		)
		err := r.transact.Transact(ctx, func(ctx context.Context, session sqlx.Session) error {
			ok, err := r.pool.RequestSlot(ctx, session, userID, maxOpenPositionsGlobal)
			if err != nil {
				return err
			}
			granted = ok
			if !ok {
				return nil
			}
			sig, err := r.queue.PromoteHighestPriority(ctx, session, userID)
			if err != nil {
				return err
			}
			if sig == nil {
				return nil
			}
			promoted = sig

			config, err := r.configs.FindActive(ctx, userID, sig.Symbol, sig.Timeframe, sig.Exchange, string(sig.Side))
			if err != nil {
				return apperr.Wrap(apperr.KindValidation, "signalrouter.PromoteQueued", err)
			}
			group, pyramid, err = r.position.CreateFromSignal(ctx, session, position.CreateSignalInput{
				UserID:    userID,
				Config:    *config,
				Symbol:    sig.Symbol,
				Timeframe: sig.Timeframe,
				Exchange:  sig.Exchange,
				BasePrice: sig.EntryPrice,
			})
			return err
		})
		if err != nil {
			return err
		}
		if !granted || promoted == nil {
			return nil
		}

		if _, err := r.position.SubmitPendingOrders(ctx, group.ID, pyramid.ID, false); err != nil {
			logx.WithContext(ctx).Errorf("signalrouter: submitting promoted signal %s failed: %v", promoted.ID, err)
			return err
		}
		logx.WithContext(ctx).Infof("signalrouter: promoted queued signal=%s user=%s into group=%s", promoted.ID, userID, group.ID)
	}
}
