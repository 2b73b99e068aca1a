package model

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

const dcaOrdersTable = "dca_orders"

var dcaOrderFields = []string{
	"id", "group_id", "pyramid_id", "leg_index", "status", "side", "kind",
	"planned_price", "planned_quantity", "quote_amount", "filled_quantity", "filled_price",
	"fee_usd", "fee_currency", "exchange_order_id",
	"tp_percent", "tp_price", "tp_order_id", "tp_hit", "tp_executed_at",
	"is_synthetic", "created_at", "updated_at", "submitted_at", "filled_at", "cancelled_at",
}

// DCAOrderRow is the raw row shape for dca_orders.
type DCAOrderRow struct {
	ID              string
	GroupID         string
	PyramidID       string
	LegIndex        int
	Status          string
	Side            string
	Kind            string
	PlannedPrice    string
	PlannedQuantity string
	QuoteAmount     string
	FilledQuantity  string
	FilledPrice     sql.NullString
	FeeUSD          sql.NullString
	FeeCurrency     sql.NullString
	ExchangeOrderID sql.NullString
	TPPercent       sql.NullString
	TPPrice         sql.NullString
	TPOrderID       sql.NullString
	TPHit           bool
	TPExecutedAt    sql.NullTime
	IsSynthetic     bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	SubmittedAt     sql.NullTime
	FilledAt        sql.NullTime
	CancelledAt     sql.NullTime
}

// DCAOrdersModel is the data access interface for dca_orders.
type DCAOrdersModel interface {
	Insert(ctx context.Context, session sqlx.Session, row *DCAOrderRow) error
	Update(ctx context.Context, session sqlx.Session, row *DCAOrderRow) error
	FindByPyramid(ctx context.Context, pyramidID string) ([]DCAOrderRow, error)
	FindOpenBatch(ctx context.Context, limit int) ([]DCAOrderRow, error)
	FindOpenTPBatch(ctx context.Context, limit int) ([]DCAOrderRow, error)
	FindByExchangeOrderID(ctx context.Context, exchangeOrderID string) (*DCAOrderRow, error)
}

type defaultDCAOrdersModel struct {
	conn sqlx.SqlConn
}

// NewDCAOrdersModel constructs a DCAOrdersModel over conn.
func NewDCAOrdersModel(conn sqlx.SqlConn) DCAOrdersModel {
	return &defaultDCAOrdersModel{conn: conn}
}

func (m *defaultDCAOrdersModel) Insert(ctx context.Context, session sqlx.Session, row *DCAOrderRow) error {
	query := fmt.Sprintf("insert into %s (%s) values (%s)", dcaOrdersTable, joinFields(dcaOrderFields), placeholders(len(dcaOrderFields)))
	_, err := session.ExecCtx(ctx, query,
		row.ID, row.GroupID, row.PyramidID, row.LegIndex, row.Status, row.Side, row.Kind,
		row.PlannedPrice, row.PlannedQuantity, row.QuoteAmount, row.FilledQuantity, row.FilledPrice,
		row.FeeUSD, row.FeeCurrency, row.ExchangeOrderID,
		row.TPPercent, row.TPPrice, row.TPOrderID, row.TPHit, row.TPExecutedAt,
		row.IsSynthetic, row.CreatedAt, row.UpdatedAt, row.SubmittedAt, row.FilledAt, row.CancelledAt)
	return err
}

func (m *defaultDCAOrdersModel) Update(ctx context.Context, session sqlx.Session, row *DCAOrderRow) error {
	query := fmt.Sprintf(`update %s set status=$2, filled_quantity=$3, filled_price=$4, fee_usd=$5,
		fee_currency=$6, exchange_order_id=$7, tp_price=$8, tp_order_id=$9, tp_hit=$10, tp_executed_at=$11,
		updated_at=$12, submitted_at=$13, filled_at=$14, cancelled_at=$15
		where id=$1`, dcaOrdersTable)
	_, err := session.ExecCtx(ctx, query,
		row.ID, row.Status, row.FilledQuantity, row.FilledPrice, row.FeeUSD,
		row.FeeCurrency, row.ExchangeOrderID, row.TPPrice, row.TPOrderID, row.TPHit, row.TPExecutedAt,
		row.UpdatedAt, row.SubmittedAt, row.FilledAt, row.CancelledAt)
	return err
}

func (m *defaultDCAOrdersModel) FindByPyramid(ctx context.Context, pyramidID string) ([]DCAOrderRow, error) {
	query := fmt.Sprintf("select %s from %s where pyramid_id=$1 order by leg_index asc", joinFields(dcaOrderFields), dcaOrdersTable)
	var rows []DCAOrderRow
	if err := m.conn.QueryRowsCtx(ctx, &rows, query, pyramidID); err != nil {
		return nil, err
	}
	return rows, nil
}

// FindOpenBatch fetches up to limit orders in open/partially_filled status,
// the working set for the fill monitor's polling pass.
func (m *defaultDCAOrdersModel) FindOpenBatch(ctx context.Context, limit int) ([]DCAOrderRow, error) {
	query := fmt.Sprintf(`select %s from %s where status in ('open','partially_filled')
		order by created_at asc limit $1`, joinFields(dcaOrderFields), dcaOrdersTable)
	var rows []DCAOrderRow
	if err := m.conn.QueryRowsCtx(ctx, &rows, query, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

// FindOpenTPBatch fetches filled entry legs still awaiting their own
// per_leg take-profit fill: tp_order_id is set, tp_hit is false, and the
// row's own status has already settled to filled. These never appear in
// FindOpenBatch since that query tracks the entry leg's own order state,
// not the resting TP riding on it.
func (m *defaultDCAOrdersModel) FindOpenTPBatch(ctx context.Context, limit int) ([]DCAOrderRow, error) {
	query := fmt.Sprintf(`select %s from %s where status='filled' and tp_order_id is not null and tp_order_id <> '' and tp_hit=false
		order by created_at asc limit $1`, joinFields(dcaOrderFields), dcaOrdersTable)
	var rows []DCAOrderRow
	if err := m.conn.QueryRowsCtx(ctx, &rows, query, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

func (m *defaultDCAOrdersModel) FindByExchangeOrderID(ctx context.Context, exchangeOrderID string) (*DCAOrderRow, error) {
	query := fmt.Sprintf("select %s from %s where exchange_order_id=$1", joinFields(dcaOrderFields), dcaOrdersTable)
	var row DCAOrderRow
	if err := m.conn.QueryRowCtx(ctx, &row, query, exchangeOrderID); err != nil {
		return nil, err
	}
	return &row, nil
}
