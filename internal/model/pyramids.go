package model

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

const pyramidsTable = "pyramids"

var pyramidFields = []string{
	"id", "position_group_id", "pyramid_index", "status",
	"weighted_avg_entry", "total_invested_usd", "total_filled_quantity",
	"entry_fees_usd", "exit_price", "realized_pnl_usd",
	"created_at", "updated_at", "closed_at",
}

// PyramidRow is the raw row shape for one DCA pyramid within a group.
type PyramidRow struct {
	ID                  string
	PositionGroupID     string
	PyramidIndex        int
	Status              string
	WeightedAvgEntry    string
	TotalInvestedUSD    string
	TotalFilledQuantity string
	EntryFeesUSD        string
	ExitPrice           sql.NullString
	RealizedPnLUSD      sql.NullString
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ClosedAt            sql.NullTime
}

// PyramidsModel is the data access interface for pyramids.
type PyramidsModel interface {
	Insert(ctx context.Context, session sqlx.Session, row *PyramidRow) error
	Update(ctx context.Context, session sqlx.Session, row *PyramidRow) error
	FindByGroup(ctx context.Context, groupID string) ([]PyramidRow, error)
	FindByGroupForUpdate(ctx context.Context, session sqlx.Session, groupID string) ([]PyramidRow, error)
}

type defaultPyramidsModel struct {
	conn sqlx.SqlConn
}

// NewPyramidsModel constructs a PyramidsModel over conn.
func NewPyramidsModel(conn sqlx.SqlConn) PyramidsModel {
	return &defaultPyramidsModel{conn: conn}
}

func (m *defaultPyramidsModel) Insert(ctx context.Context, session sqlx.Session, row *PyramidRow) error {
	query := fmt.Sprintf("insert into %s (%s) values (%s)", pyramidsTable, joinFields(pyramidFields), placeholders(len(pyramidFields)))
	_, err := session.ExecCtx(ctx, query,
		row.ID, row.PositionGroupID, row.PyramidIndex, row.Status,
		row.WeightedAvgEntry, row.TotalInvestedUSD, row.TotalFilledQuantity,
		row.EntryFeesUSD, row.ExitPrice, row.RealizedPnLUSD,
		row.CreatedAt, row.UpdatedAt, row.ClosedAt)
	return err
}

func (m *defaultPyramidsModel) Update(ctx context.Context, session sqlx.Session, row *PyramidRow) error {
	query := fmt.Sprintf(`update %s set status=$2, weighted_avg_entry=$3, total_invested_usd=$4,
		total_filled_quantity=$5, entry_fees_usd=$6, exit_price=$7, realized_pnl_usd=$8,
		updated_at=$9, closed_at=$10 where id=$1`, pyramidsTable)
	_, err := session.ExecCtx(ctx, query,
		row.ID, row.Status, row.WeightedAvgEntry, row.TotalInvestedUSD,
		row.TotalFilledQuantity, row.EntryFeesUSD, row.ExitPrice, row.RealizedPnLUSD,
		row.UpdatedAt, row.ClosedAt)
	return err
}

func (m *defaultPyramidsModel) FindByGroup(ctx context.Context, groupID string) ([]PyramidRow, error) {
	query := fmt.Sprintf("select %s from %s where position_group_id=$1 order by pyramid_index asc", joinFields(pyramidFields), pyramidsTable)
	var rows []PyramidRow
	if err := m.conn.QueryRowsCtx(ctx, &rows, query, groupID); err != nil {
		return nil, err
	}
	return rows, nil
}

func (m *defaultPyramidsModel) FindByGroupForUpdate(ctx context.Context, session sqlx.Session, groupID string) ([]PyramidRow, error) {
	query := fmt.Sprintf("select %s from %s where position_group_id=$1 order by pyramid_index asc for update", joinFields(pyramidFields), pyramidsTable)
	var rows []PyramidRow
	if err := session.QueryRowsCtx(ctx, &rows, query, groupID); err != nil {
		return nil, err
	}
	return rows, nil
}
