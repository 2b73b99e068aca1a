// Package position implements the position manager (C7): creating
// position groups and pyramids from admitted signals, submitting their
// legs to the exchange gateway, recomputing aggregate stats after every
// order state change, placing take-profit orders, and handling exit and
// forced-close requests.
package position

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"

	"spotgrid-engine/internal/precision"
	"spotgrid-engine/internal/repo"
	"spotgrid-engine/pkg/exchange"
)

// Manager owns the PositionGroup/Pyramid/DCAOrder lifecycle.
type Manager struct {
	positions *repo.PositionRepo
	risk      *repo.RiskRepo
	transact  repo.Transactor
	precision *precision.Cache
	exchanges map[string]exchange.Provider
}

// New constructs a Manager. exchanges is keyed by venue name, matching
// svc.ServiceContext.ExchangeProviders.
func New(positions *repo.PositionRepo, risk *repo.RiskRepo, transact repo.Transactor, prec *precision.Cache, exchanges map[string]exchange.Provider) *Manager {
	return &Manager{positions: positions, risk: risk, transact: transact, precision: prec, exchanges: exchanges}
}

func (m *Manager) provider(ctx context.Context, venue string) (exchange.Provider, bool) {
	p, ok := m.exchanges[venue]
	if !ok {
		logx.WithContext(ctx).Errorf("position: no exchange provider configured for venue %q", venue)
	}
	return p, ok
}
