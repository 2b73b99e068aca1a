package model

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

const riskActionsTable = "risk_actions"

var riskActionFields = []string{
	"id", "user_id", "action_type", "loser_group_id", "winner_group_ids",
	"offset_quantity", "offset_value_usd", "notes", "created_at",
}

// RiskActionRow is the raw row shape for risk_actions, the audit trail
// the risk engine writes every time it offsets a loser against winners.
type RiskActionRow struct {
	ID             string
	UserID         string
	ActionType     string
	LoserGroupID   string
	WinnerGroupIDs []string
	OffsetQuantity string
	OffsetValueUSD string
	Notes          sql.NullString
	CreatedAt      time.Time
}

// RiskActionsModel is the data access interface for risk_actions.
type RiskActionsModel interface {
	Insert(ctx context.Context, session sqlx.Session, row *RiskActionRow) error
	FindByUser(ctx context.Context, userID string, limit int) ([]RiskActionRow, error)
	FindByGroup(ctx context.Context, groupID string) ([]RiskActionRow, error)
}

type defaultRiskActionsModel struct {
	conn sqlx.SqlConn
}

// NewRiskActionsModel constructs a RiskActionsModel over conn.
func NewRiskActionsModel(conn sqlx.SqlConn) RiskActionsModel {
	return &defaultRiskActionsModel{conn: conn}
}

func (m *defaultRiskActionsModel) Insert(ctx context.Context, session sqlx.Session, row *RiskActionRow) error {
	query := fmt.Sprintf("insert into %s (%s) values (%s)", riskActionsTable, joinFields(riskActionFields), placeholders(len(riskActionFields)))
	_, err := session.ExecCtx(ctx, query,
		row.ID, row.UserID, row.ActionType, row.LoserGroupID, textArray(row.WinnerGroupIDs),
		row.OffsetQuantity, row.OffsetValueUSD, row.Notes, row.CreatedAt)
	return err
}

func (m *defaultRiskActionsModel) FindByUser(ctx context.Context, userID string, limit int) ([]RiskActionRow, error) {
	query := fmt.Sprintf("select %s from %s where user_id=$1 order by created_at desc limit $2", joinFields(riskActionFields), riskActionsTable)
	var rows []RiskActionRow
	if err := m.conn.QueryRowsCtx(ctx, &rows, query, userID, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

func (m *defaultRiskActionsModel) FindByGroup(ctx context.Context, groupID string) ([]RiskActionRow, error) {
	query := fmt.Sprintf(`select %s from %s where loser_group_id=$1 or $1 = any(winner_group_ids)
		order by created_at desc`, joinFields(riskActionFields), riskActionsTable)
	var rows []RiskActionRow
	if err := m.conn.QueryRowsCtx(ctx, &rows, query, groupID); err != nil {
		return nil, err
	}
	return rows, nil
}
