package repo

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"spotgrid-engine/internal/domain"
	"spotgrid-engine/internal/model"
)

// RiskRepo exposes domain-typed access to the risk_actions audit table.
type RiskRepo struct {
	actions model.RiskActionsModel
}

// NewRiskRepo constructs a RiskRepo over the given model.
func NewRiskRepo(actions model.RiskActionsModel) *RiskRepo {
	return &RiskRepo{actions: actions}
}

func (r *RiskRepo) Insert(ctx context.Context, session sqlx.Session, userID string, a *domain.RiskAction) error {
	now := a.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	row := &model.RiskActionRow{
		ID:             a.ID,
		UserID:         userID,
		ActionType:     string(a.ActionType),
		LoserGroupID:   a.LoserGroupID,
		WinnerGroupIDs: a.WinnerGroupIDs,
		OffsetQuantity: decStr(a.Quantity),
		OffsetValueUSD: decStr(a.PnLUSD),
		Notes:          toNullStr(a.FailureReason),
		CreatedAt:      now,
	}
	return r.actions.Insert(ctx, session, row)
}

func (r *RiskRepo) FindByGroup(ctx context.Context, groupID string) ([]domain.RiskAction, error) {
	rows, err := r.actions.FindByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.RiskAction, 0, len(rows))
	for i := range rows {
		row := rows[i]
		out = append(out, domain.RiskAction{
			ID:             row.ID,
			ActionType:     domain.RiskActionType(row.ActionType),
			LoserGroupID:   row.LoserGroupID,
			WinnerGroupIDs: row.WinnerGroupIDs,
			Quantity:       parseDecimal(row.OffsetQuantity),
			PnLUSD:         parseDecimal(row.OffsetValueUSD),
			Timestamp:      row.CreatedAt,
			FailureReason:  nullStr(row.Notes),
		})
	}
	return out, nil
}
