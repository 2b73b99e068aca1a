package model

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

const positionGroupsTable = "position_groups"

// PositionGroupRow is the raw row shape for position_groups. Money and
// quantity columns are NUMERIC in Postgres, scanned as strings here and
// converted to decimal.Decimal by the repo layer.
type PositionGroupRow struct {
	ID        string
	UserID    string
	Symbol    string
	Timeframe string
	Exchange  string
	Side      string
	Status    string

	PyramidCount  int
	MaxPyramids   int
	TotalDCALegs  int
	FilledDCALegs int

	BasePrice        string
	WeightedAvgEntry string

	TotalInvestedUSD     string
	TotalFilledQuantity  string
	UnrealizedPnLUSD     string
	UnrealizedPnLPercent string
	RealizedPnLUSD       string
	TotalEntryFeesUSD    string
	TotalExitFeesUSD     string
	TotalHedgedQty       string
	TotalHedgedValueUSD  string

	RiskTimerStart   sql.NullTime
	RiskTimerExpires sql.NullTime
	RiskEligible     bool
	RiskBlocked      bool
	RiskSkipOnce     bool

	TPMode             string
	TPAggregatePercent string

	CreatedAt        time.Time
	UpdatedAt        time.Time
	ClosingStartedAt sql.NullTime
	ClosedAt         sql.NullTime
}

var positionGroupFields = []string{
	"id", "user_id", "symbol", "timeframe", "exchange", "side", "status",
	"pyramid_count", "max_pyramids", "total_dca_legs", "filled_dca_legs",
	"base_price", "weighted_avg_entry",
	"total_invested_usd", "total_filled_quantity", "unrealized_pnl_usd", "unrealized_pnl_percent",
	"realized_pnl_usd", "total_entry_fees_usd", "total_exit_fees_usd",
	"total_hedged_qty", "total_hedged_value_usd",
	"risk_timer_start", "risk_timer_expires", "risk_eligible", "risk_blocked", "risk_skip_once",
	"tp_mode", "tp_aggregate_percent",
	"created_at", "updated_at", "closing_started_at", "closed_at",
}

// PositionGroupsModel is the data access interface for position_groups.
// ForUpdate methods acquire row-level locks (SELECT ... FOR UPDATE) so
// callers can safely read-then-write within one transaction, per the
// execution pool's slot-counting requirement and the stat-recompute path.
type PositionGroupsModel interface {
	Insert(ctx context.Context, session sqlx.Session, row *PositionGroupRow) error
	Update(ctx context.Context, session sqlx.Session, row *PositionGroupRow) error
	FindOne(ctx context.Context, id string) (*PositionGroupRow, error)
	FindOneForUpdate(ctx context.Context, session sqlx.Session, id string) (*PositionGroupRow, error)
	CountActiveForUpdate(ctx context.Context, session sqlx.Session, userID string, statuses []string) (int, error)
	FindActiveByUserSymbol(ctx context.Context, userID, symbol, timeframe, exchange, side string) (*PositionGroupRow, error)
	FindNonTerminal(ctx context.Context) ([]PositionGroupRow, error)
	FindStuckClosing(ctx context.Context, before time.Time) ([]PositionGroupRow, error)
	FindEligibleLosers(ctx context.Context, userID string, lossThresholdPercent string) ([]PositionGroupRow, error)
	FindPositiveForUser(ctx context.Context, userID string, excludeID string) ([]PositionGroupRow, error)
}

type defaultPositionGroupsModel struct {
	conn sqlx.SqlConn
}

// NewPositionGroupsModel constructs a PositionGroupsModel over conn.
func NewPositionGroupsModel(conn sqlx.SqlConn) PositionGroupsModel {
	return &defaultPositionGroupsModel{conn: conn}
}

func (m *defaultPositionGroupsModel) Insert(ctx context.Context, session sqlx.Session, row *PositionGroupRow) error {
	query := fmt.Sprintf("insert into %s (%s) values (%s)", positionGroupsTable, joinFields(positionGroupFields), placeholders(len(positionGroupFields)))
	args := positionGroupArgs(row)
	_, err := session.ExecCtx(ctx, query, args...)
	return err
}

func (m *defaultPositionGroupsModel) Update(ctx context.Context, session sqlx.Session, row *PositionGroupRow) error {
	query := fmt.Sprintf(`update %s set status=$2, pyramid_count=$3, total_dca_legs=$4, filled_dca_legs=$5,
		base_price=$6, weighted_avg_entry=$7, total_invested_usd=$8, total_filled_quantity=$9,
		unrealized_pnl_usd=$10, unrealized_pnl_percent=$11, realized_pnl_usd=$12,
		total_entry_fees_usd=$13, total_exit_fees_usd=$14, total_hedged_qty=$15, total_hedged_value_usd=$16,
		risk_timer_start=$17, risk_timer_expires=$18, risk_eligible=$19, risk_blocked=$20, risk_skip_once=$21,
		tp_mode=$22, tp_aggregate_percent=$23, updated_at=$24, closing_started_at=$25, closed_at=$26
		where id=$1`, positionGroupsTable)
	_, err := session.ExecCtx(ctx, query,
		row.ID, row.Status, row.PyramidCount, row.TotalDCALegs, row.FilledDCALegs,
		row.BasePrice, row.WeightedAvgEntry, row.TotalInvestedUSD, row.TotalFilledQuantity,
		row.UnrealizedPnLUSD, row.UnrealizedPnLPercent, row.RealizedPnLUSD,
		row.TotalEntryFeesUSD, row.TotalExitFeesUSD, row.TotalHedgedQty, row.TotalHedgedValueUSD,
		row.RiskTimerStart, row.RiskTimerExpires, row.RiskEligible, row.RiskBlocked, row.RiskSkipOnce,
		row.TPMode, row.TPAggregatePercent, row.UpdatedAt, row.ClosingStartedAt, row.ClosedAt)
	return err
}

func (m *defaultPositionGroupsModel) FindOne(ctx context.Context, id string) (*PositionGroupRow, error) {
	query := fmt.Sprintf("select %s from %s where id=$1", joinFields(positionGroupFields), positionGroupsTable)
	var row PositionGroupRow
	if err := m.conn.QueryRowCtx(ctx, &row, query, id); err != nil {
		return nil, err
	}
	return &row, nil
}

func (m *defaultPositionGroupsModel) FindOneForUpdate(ctx context.Context, session sqlx.Session, id string) (*PositionGroupRow, error) {
	query := fmt.Sprintf("select %s from %s where id=$1 for update", joinFields(positionGroupFields), positionGroupsTable)
	var row PositionGroupRow
	if err := session.QueryRowCtx(ctx, &row, query, id); err != nil {
		return nil, err
	}
	return &row, nil
}

// CountActiveForUpdate locks and counts groups in the given statuses for
// a user, used by the execution pool manager's slot acquisition.
func (m *defaultPositionGroupsModel) CountActiveForUpdate(ctx context.Context, session sqlx.Session, userID string, statuses []string) (int, error) {
	query := fmt.Sprintf("select count(*) from %s where user_id=$1 and status = any($2) for update", positionGroupsTable)
	var count int
	if err := session.QueryRowCtx(ctx, &count, query, userID, textArray(statuses)); err != nil {
		return 0, err
	}
	return count, nil
}

func (m *defaultPositionGroupsModel) FindActiveByUserSymbol(ctx context.Context, userID, symbol, timeframe, exchange, side string) (*PositionGroupRow, error) {
	query := fmt.Sprintf(`select %s from %s
		where user_id=$1 and symbol=$2 and timeframe=$3 and exchange=$4 and side=$5
		and status not in ('closed','failed')`, joinFields(positionGroupFields), positionGroupsTable)
	var row PositionGroupRow
	err := m.conn.QueryRowCtx(ctx, &row, query, userID, symbol, timeframe, exchange, side)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (m *defaultPositionGroupsModel) FindNonTerminal(ctx context.Context) ([]PositionGroupRow, error) {
	query := fmt.Sprintf("select %s from %s where status not in ('closed','failed')", joinFields(positionGroupFields), positionGroupsTable)
	var rows []PositionGroupRow
	if err := m.conn.QueryRowsCtx(ctx, &rows, query); err != nil {
		return nil, err
	}
	return rows, nil
}

func (m *defaultPositionGroupsModel) FindStuckClosing(ctx context.Context, before time.Time) ([]PositionGroupRow, error) {
	query := fmt.Sprintf("select %s from %s where status='closing' and closing_started_at < $1", joinFields(positionGroupFields), positionGroupsTable)
	var rows []PositionGroupRow
	if err := m.conn.QueryRowsCtx(ctx, &rows, query, before); err != nil {
		return nil, err
	}
	return rows, nil
}

func (m *defaultPositionGroupsModel) FindEligibleLosers(ctx context.Context, userID string, lossThresholdPercent string) ([]PositionGroupRow, error) {
	query := fmt.Sprintf(`select %s from %s
		where user_id=$1 and status='active' and risk_eligible=true and risk_blocked=false
		and risk_timer_expires is not null and risk_timer_expires <= now()
		and unrealized_pnl_percent <= $2
		order by unrealized_pnl_percent asc`, joinFields(positionGroupFields), positionGroupsTable)
	var rows []PositionGroupRow
	if err := m.conn.QueryRowsCtx(ctx, &rows, query, userID, lossThresholdPercent); err != nil {
		return nil, err
	}
	return rows, nil
}

func (m *defaultPositionGroupsModel) FindPositiveForUser(ctx context.Context, userID string, excludeID string) ([]PositionGroupRow, error) {
	query := fmt.Sprintf(`select %s from %s
		where user_id=$1 and id != $2 and status='active' and unrealized_pnl_usd > 0
		order by unrealized_pnl_usd desc`, joinFields(positionGroupFields), positionGroupsTable)
	var rows []PositionGroupRow
	if err := m.conn.QueryRowsCtx(ctx, &rows, query, userID, excludeID); err != nil {
		return nil, err
	}
	return rows, nil
}

func positionGroupArgs(row *PositionGroupRow) []interface{} {
	return []interface{}{
		row.ID, row.UserID, row.Symbol, row.Timeframe, row.Exchange, row.Side, row.Status,
		row.PyramidCount, row.MaxPyramids, row.TotalDCALegs, row.FilledDCALegs,
		row.BasePrice, row.WeightedAvgEntry,
		row.TotalInvestedUSD, row.TotalFilledQuantity, row.UnrealizedPnLUSD, row.UnrealizedPnLPercent,
		row.RealizedPnLUSD, row.TotalEntryFeesUSD, row.TotalExitFeesUSD,
		row.TotalHedgedQty, row.TotalHedgedValueUSD,
		row.RiskTimerStart, row.RiskTimerExpires, row.RiskEligible, row.RiskBlocked, row.RiskSkipOnce,
		row.TPMode, row.TPAggregatePercent,
		row.CreatedAt, row.UpdatedAt, row.ClosingStartedAt, row.ClosedAt,
	}
}

func placeholders(n int) string {
	out := ""
	for i := 1; i <= n; i++ {
		if i > 1 {
			out += ","
		}
		out += fmt.Sprintf("$%d", i)
	}
	return out
}
