// Package queue implements the queue manager (C6): signals deferred for
// lack of an execution-pool slot, ranked by a priority score and
// promoted once a slot frees up.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"spotgrid-engine/internal/apperr"
	"spotgrid-engine/internal/domain"
	"spotgrid-engine/internal/repo"
)

// Manager stores and ranks deferred signals.
type Manager struct {
	queue     *repo.QueueRepo
	transact  repo.Transactor
}

// New constructs a Manager over the queue repo and a transactor.
func New(queue *repo.QueueRepo, transact repo.Transactor) *Manager {
	return &Manager{queue: queue, transact: transact}
}

// Enqueue stores signal, idempotent on (user, symbol, timeframe, side):
// an existing QUEUED entry is overwritten in place and its
// replacement_count incremented rather than duplicated. Pyramid
// continuations never touch replacement_count; only a same-slot
// overwrite does.
func (m *Manager) Enqueue(ctx context.Context, session sqlx.Session, s *domain.QueuedSignal) (*domain.QueuedSignal, error) {
	existing, err := m.queue.QueuedForSymbolForUpdate(ctx, session, s.UserID, s.Symbol, s.Timeframe, s.Exchange, s.Side)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "queue.Enqueue", err)
	}

	now := time.Now()
	if len(existing) > 0 {
		row := existing[0]
		row.EntryPrice = s.EntryPrice
		row.RawPayload = s.RawPayload
		row.CurrentLossPercent = s.CurrentLossPercent
		row.IsPyramidContinuation = s.IsPyramidContinuation
		if !s.IsPyramidContinuation {
			row.ReplacementCount++
		}
		row.PriorityScore = m.score(row, now)
		if err := m.queue.Update(ctx, session, &row); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "queue.Enqueue", err)
		}
		return &row, nil
	}

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.QueuedAt.IsZero() {
		s.QueuedAt = now
	}
	s.Status = domain.QueueQueued
	s.PriorityScore = m.score(*s, now)
	if err := m.queue.Insert(ctx, session, s); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "queue.Enqueue", err)
	}
	return s, nil
}

// CancelForSymbol drops every pending entry for (user, symbol) on an
// exit signal. Timeframe, exchange and side are always matched exactly:
// an empty timeframe or side matches only entries stored with that empty
// value, not every timeframe or side.
func (m *Manager) CancelForSymbol(ctx context.Context, session sqlx.Session, userID, symbol, timeframe, exchange string, side domain.OrderSide) error {
	pending, err := m.queue.QueuedForSymbolForUpdate(ctx, session, userID, symbol, timeframe, exchange, side)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "queue.CancelForSymbol", err)
	}
	for i := range pending {
		pending[i].Status = domain.QueueCancelled
		if err := m.queue.Update(ctx, session, &pending[i]); err != nil {
			return apperr.Wrap(apperr.KindInternal, "queue.CancelForSymbol", err)
		}
	}
	return nil
}

// PromoteHighestPriority locks and returns the user's top-ranked queued
// signal, marking it promoted. Callers invoke this after a slot release,
// inside the same transaction that will create the resulting group.
func (m *Manager) PromoteHighestPriority(ctx context.Context, session sqlx.Session, userID string) (*domain.QueuedSignal, error) {
	candidate, err := m.queue.HighestPriorityForUpdate(ctx, session, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "queue.PromoteHighestPriority", err)
	}
	if candidate == nil {
		return nil, nil
	}
	now := time.Now()
	candidate.Status = domain.QueuePromoted
	candidate.PromotedAt = &now
	if err := m.queue.Update(ctx, session, candidate); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "queue.PromoteHighestPriority", err)
	}
	logx.WithContext(ctx).Infof("queue: promoted signal=%s user=%s score=%s", candidate.ID, userID, candidate.PriorityScore)
	return candidate, nil
}

// PromoteSpecific is the operator-driven override: force one signal to
// promoted status regardless of its rank.
func (m *Manager) PromoteSpecific(ctx context.Context, id string) (*domain.QueuedSignal, error) {
	var promoted *domain.QueuedSignal
	err := m.transact.Transact(ctx, func(ctx context.Context, session sqlx.Session) error {
		sig, err := m.queue.FindOne(ctx, id)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "queue.PromoteSpecific", err)
		}
		if sig.Status != domain.QueueQueued {
			return apperr.New(apperr.KindValidation, "queue.PromoteSpecific", "signal is not queued")
		}
		now := time.Now()
		sig.Status = domain.QueuePromoted
		sig.PromotedAt = &now
		if err := m.queue.Update(ctx, session, sig); err != nil {
			return apperr.Wrap(apperr.KindInternal, "queue.PromoteSpecific", err)
		}
		promoted = sig
		return nil
	})
	return promoted, err
}

// ForceAdd is the operator verb that enqueues a signal outside the
// normal admission path, e.g. replaying a dropped webhook.
func (m *Manager) ForceAdd(ctx context.Context, s *domain.QueuedSignal) (*domain.QueuedSignal, error) {
	var added *domain.QueuedSignal
	err := m.transact.Transact(ctx, func(ctx context.Context, session sqlx.Session) error {
		out, err := m.Enqueue(ctx, session, s)
		added = out
		return err
	})
	return added, err
}

func (m *Manager) score(s domain.QueuedSignal, now time.Time) decimal.Decimal {
	queuedAt := s.QueuedAt
	if queuedAt.IsZero() {
		queuedAt = now
	}
	return Score(ScoreInput{
		IsPyramidContinuation: s.IsPyramidContinuation,
		CurrentLossPercent:    s.CurrentLossPercent,
		ReplacementCount:      s.ReplacementCount,
		TimeInQueueSeconds:    decimal.NewFromFloat(now.Sub(queuedAt).Seconds()),
	})
}
