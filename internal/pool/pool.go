// Package pool implements the execution pool manager (C5): the bounded
// set of concurrently active position groups per user. A slot request
// counts non-terminal groups under a row lock and either grants the
// caller room to create a new group in the same transaction, or denies
// it so the caller can fall back to the queue.
package pool

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"spotgrid-engine/internal/apperr"
	"spotgrid-engine/internal/repo"
)

// Manager enforces max_open_positions_global per user.
type Manager struct {
	positions *repo.PositionRepo
}

// New constructs a Manager over the position repo.
func New(positions *repo.PositionRepo) *Manager {
	return &Manager{positions: positions}
}

// RequestSlot counts the user's currently open groups, locking the
// affected rows, and reports whether a new group may be created. The
// caller MUST perform the count and any resulting group insert in the
// same session/transaction: granting a slot and creating the group are
// not separable without risking a race between two concurrent webhooks.
func (m *Manager) RequestSlot(ctx context.Context, session sqlx.Session, userID string, maxOpenPositionsGlobal int) (bool, error) {
	if maxOpenPositionsGlobal <= 0 {
		return false, apperr.New(apperr.KindValidation, "pool.RequestSlot", "max_open_positions_global must be positive")
	}
	count, err := m.positions.CountOpenSlots(ctx, session, userID)
	if err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "pool.RequestSlot", err)
	}
	granted := count < maxOpenPositionsGlobal
	logx.WithContext(ctx).Infof("pool: user=%s open=%d cap=%d granted=%v", userID, count, maxOpenPositionsGlobal, granted)
	return granted, nil
}
