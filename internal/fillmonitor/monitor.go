// Package fillmonitor implements the order fill monitor (C8): a single
// background loop that polls a batch of up to batchSize OPEN/
// PARTIALLY_FILLED orders across all users in one round trip per pass,
// refreshes each against its exchange, and
// drives fills through take-profit placement and stat recomputation.
package fillmonitor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"spotgrid-engine/internal/apperr"
	"spotgrid-engine/internal/corrid"
	"spotgrid-engine/internal/domain"
	"spotgrid-engine/internal/lock"
	"spotgrid-engine/internal/metrics"
	"spotgrid-engine/internal/position"
	"spotgrid-engine/internal/repo"
	"spotgrid-engine/pkg/exchange"
)

const healthLoopName = "fill_monitor"

// Monitor runs one polling pass per Tick. Exchange errors on one order
// never abort the batch; they are logged and picked up again next pass.
type Monitor struct {
	positions *repo.PositionRepo
	transact  repo.Transactor
	position  *position.Manager
	exchanges map[string]exchange.Provider
	health    *lock.Store
	batchSize int
}

// New constructs a Monitor over its collaborators.
func New(positions *repo.PositionRepo, transact repo.Transactor, positionMgr *position.Manager, exchanges map[string]exchange.Provider, health *lock.Store, batchSize int) *Monitor {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Monitor{
		positions: positions,
		transact:  transact,
		position:  positionMgr,
		exchanges: exchanges,
		health:    health,
		batchSize: batchSize,
	}
}

// Tick runs one full iteration: entry-leg fills, then per-leg TP fills,
// then a heartbeat. Orders are processed sequentially per user to avoid
// two goroutines racing to recompute the same group's stats.
func (mon *Monitor) Tick(ctx context.Context) {
	ctx = corrid.New(ctx)
	if err := mon.pollEntryLegs(ctx); err != nil {
		corrid.Logger(ctx).Errorf("fillmonitor: entry-leg pass failed: %v", err)
	}
	if err := mon.pollPerLegTPs(ctx); err != nil {
		corrid.Logger(ctx).Errorf("fillmonitor: per-leg tp pass failed: %v", err)
	}

	if err := mon.health.SetServiceHealth(ctx, lock.Health{
		Name:      healthLoopName,
		Status:    "ok",
		Timestamp: time.Now(),
	}); err != nil {
		corrid.Logger(ctx).Errorf("fillmonitor: heartbeat publish failed: %v", err)
	}
}

func (mon *Monitor) pollEntryLegs(ctx context.Context) error {
	orders, err := mon.positions.OpenOrderBatch(ctx, mon.batchSize)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "fillmonitor.pollEntryLegs", err)
	}

	for _, order := range orders {
		if err := mon.refreshEntryLeg(ctx, order); err != nil {
			corrid.Logger(ctx).Errorf("fillmonitor: order %s refresh failed: %v", order.ID, err)
		}
	}
	return nil
}

func (mon *Monitor) refreshEntryLeg(ctx context.Context, order domain.DCAOrder) error {
	group, err := mon.positions.FindGroup(ctx, order.GroupID)
	if err != nil {
		return err
	}
	provider, ok := mon.exchanges[group.Exchange]
	if !ok {
		return apperr.New(apperr.KindExchangeFatal, "fillmonitor.refreshEntryLeg", "no exchange provider configured")
	}

	remote, err := provider.GetOrderStatus(ctx, group.Symbol, order.ExchangeOrderID)
	if err != nil {
		return apperr.Wrap(apperr.KindExchangeTransient, "fillmonitor.refreshEntryLeg", err)
	}

	newStatus := statusFromRemote(remote.State)
	if newStatus == order.Status {
		return nil
	}

	return mon.transact.Transact(ctx, func(ctx context.Context, session sqlx.Session) error {
		fresh, err := mon.positions.FindGroupForUpdate(ctx, session, order.GroupID)
		if err != nil {
			return err
		}
		pyramids, err := mon.positions.PyramidsForGroupForUpdate(ctx, session, fresh.ID)
		if err != nil {
			return err
		}
		var pyramid *domain.Pyramid
		for i := range pyramids {
			if pyramids[i].ID == order.PyramidID {
				pyramid = &pyramids[i]
				break
			}
		}

		order.Status = newStatus
		order.FilledQuantity = remote.FilledQuantity
		order.AvgFillPrice = remote.AvgFillPrice
		order.UpdatedAt = time.Now()
		if newStatus == domain.OrderFilled {
			now := time.Now()
			order.FilledAt = &now
		}
		if err := mon.positions.UpdateOrder(ctx, session, &order); err != nil {
			return err
		}

		if newStatus == domain.OrderFilled && pyramid != nil {
			var err error
			if order.IsExitFill() {
				err = mon.position.OnTPFilled(ctx, session, fresh, pyramid, &order)
				metrics.FillsProcessed.WithLabelValues("tp").Inc()
			} else {
				err = mon.position.OnEntryFilled(ctx, session, fresh, pyramid, &order)
				metrics.FillsProcessed.WithLabelValues("entry").Inc()
			}
			if err != nil {
				return err
			}
		}

		_, err = mon.position.RecomputeStats(ctx, session, fresh.ID)
		return err
	})
}

func (mon *Monitor) pollPerLegTPs(ctx context.Context) error {
	orders, err := mon.positions.OpenTPBatch(ctx, mon.batchSize)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "fillmonitor.pollPerLegTPs", err)
	}

	for _, order := range orders {
		if err := mon.refreshPerLegTP(ctx, order); err != nil {
			corrid.Logger(ctx).Errorf("fillmonitor: tp for order %s refresh failed: %v", order.ID, err)
		}
	}
	return nil
}

func (mon *Monitor) refreshPerLegTP(ctx context.Context, order domain.DCAOrder) error {
	group, err := mon.positions.FindGroup(ctx, order.GroupID)
	if err != nil {
		return err
	}
	provider, ok := mon.exchanges[group.Exchange]
	if !ok {
		return apperr.New(apperr.KindExchangeFatal, "fillmonitor.refreshPerLegTP", "no exchange provider configured")
	}

	remote, err := provider.GetOrderStatus(ctx, group.Symbol, order.TPOrderID)
	if err != nil {
		return apperr.Wrap(apperr.KindExchangeTransient, "fillmonitor.refreshPerLegTP", err)
	}
	if remote.State != exchange.OrderStateFilled {
		return nil
	}

	return mon.transact.Transact(ctx, func(ctx context.Context, session sqlx.Session) error {
		fresh, err := mon.positions.FindGroupForUpdate(ctx, session, order.GroupID)
		if err != nil {
			return err
		}
		pyramids, err := mon.positions.PyramidsForGroupForUpdate(ctx, session, fresh.ID)
		if err != nil {
			return err
		}
		var pyramid *domain.Pyramid
		for i := range pyramids {
			if pyramids[i].ID == order.PyramidID {
				pyramid = &pyramids[i]
				break
			}
		}

		now := time.Now()
		order.TPHit = true
		order.TPExecutedAt = &now
		order.UpdatedAt = now
		if err := mon.positions.UpdateOrder(ctx, session, &order); err != nil {
			return err
		}

		synthetic := &domain.DCAOrder{
			ID:              uuid.NewString(),
			GroupID:         fresh.ID,
			PyramidID:       order.PyramidID,
			LegIndex:        domain.SyntheticLegIndex,
			Side:            domain.SideSell,
			OrderType:       domain.OrderLimit,
			Price:           remote.AvgFillPrice,
			Quantity:        remote.FilledQuantity,
			FilledQuantity:  remote.FilledQuantity,
			AvgFillPrice:    remote.AvgFillPrice,
			Status:          domain.OrderFilled,
			ExchangeOrderID: order.TPOrderID,
			FilledAt:        &now,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := mon.positions.InsertOrder(ctx, session, synthetic); err != nil {
			return err
		}

		if err := mon.position.OnTPFilled(ctx, session, fresh, pyramid, synthetic); err != nil {
			return err
		}
		metrics.FillsProcessed.WithLabelValues("tp").Inc()

		_, err = mon.position.RecomputeStats(ctx, session, fresh.ID)
		return err
	})
}

func statusFromRemote(state exchange.OrderState) domain.DCAOrderStatus {
	switch state {
	case exchange.OrderStateFilled:
		return domain.OrderFilled
	case exchange.OrderStatePartiallyFilled:
		return domain.OrderPartiallyFilled
	case exchange.OrderStateCancelled, exchange.OrderStateRejected:
		return domain.OrderCancelled
	default:
		return domain.OrderOpen
	}
}
