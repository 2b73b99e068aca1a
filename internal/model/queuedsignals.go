package model

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

const queuedSignalsTable = "queued_signals"

var queuedSignalFields = []string{
	"id", "user_id", "symbol", "timeframe", "exchange", "side",
	"signal_type", "priority_score", "replacement_count", "status",
	"payload_json", "created_at", "updated_at", "promoted_at",
}

// QueuedSignalRow is the raw row shape for queued_signals.
type QueuedSignalRow struct {
	ID               string
	UserID           string
	Symbol           string
	Timeframe        string
	Exchange         string
	Side             string
	SignalType       string
	PriorityScore    string
	ReplacementCount int
	Status           string
	PayloadJSON      []byte
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PromotedAt       sql.NullTime
}

// QueuedSignalsModel is the data access interface for queued_signals.
type QueuedSignalsModel interface {
	Insert(ctx context.Context, session sqlx.Session, row *QueuedSignalRow) error
	Update(ctx context.Context, session sqlx.Session, row *QueuedSignalRow) error
	FindOne(ctx context.Context, id string) (*QueuedSignalRow, error)
	FindQueuedForSymbol(ctx context.Context, userID, symbol, timeframe, exchange, side string) ([]QueuedSignalRow, error)
	FindQueuedForSymbolForUpdate(ctx context.Context, session sqlx.Session, userID, symbol, timeframe, exchange, side string) ([]QueuedSignalRow, error)
	FindHighestPriorityForUpdate(ctx context.Context, session sqlx.Session, userID string) (*QueuedSignalRow, error)
}

type defaultQueuedSignalsModel struct {
	conn sqlx.SqlConn
}

// NewQueuedSignalsModel constructs a QueuedSignalsModel over conn.
func NewQueuedSignalsModel(conn sqlx.SqlConn) QueuedSignalsModel {
	return &defaultQueuedSignalsModel{conn: conn}
}

func (m *defaultQueuedSignalsModel) Insert(ctx context.Context, session sqlx.Session, row *QueuedSignalRow) error {
	query := fmt.Sprintf("insert into %s (%s) values (%s)", queuedSignalsTable, joinFields(queuedSignalFields), placeholders(len(queuedSignalFields)))
	_, err := session.ExecCtx(ctx, query,
		row.ID, row.UserID, row.Symbol, row.Timeframe, row.Exchange, row.Side,
		row.SignalType, row.PriorityScore, row.ReplacementCount, row.Status,
		row.PayloadJSON, row.CreatedAt, row.UpdatedAt, row.PromotedAt)
	return err
}

func (m *defaultQueuedSignalsModel) Update(ctx context.Context, session sqlx.Session, row *QueuedSignalRow) error {
	query := fmt.Sprintf(`update %s set priority_score=$2, replacement_count=$3, status=$4,
		updated_at=$5, promoted_at=$6 where id=$1`, queuedSignalsTable)
	_, err := session.ExecCtx(ctx, query,
		row.ID, row.PriorityScore, row.ReplacementCount, row.Status, row.UpdatedAt, row.PromotedAt)
	return err
}

func (m *defaultQueuedSignalsModel) FindOne(ctx context.Context, id string) (*QueuedSignalRow, error) {
	query := fmt.Sprintf("select %s from %s where id=$1", joinFields(queuedSignalFields), queuedSignalsTable)
	var row QueuedSignalRow
	if err := m.conn.QueryRowCtx(ctx, &row, query, id); err != nil {
		return nil, err
	}
	return &row, nil
}

func (m *defaultQueuedSignalsModel) FindQueuedForSymbol(ctx context.Context, userID, symbol, timeframe, exchange, side string) ([]QueuedSignalRow, error) {
	query := fmt.Sprintf(`select %s from %s where user_id=$1 and symbol=$2 and timeframe=$3
		and exchange=$4 and side=$5 and status='queued' order by priority_score desc`, joinFields(queuedSignalFields), queuedSignalsTable)
	var rows []QueuedSignalRow
	if err := m.conn.QueryRowsCtx(ctx, &rows, query, userID, symbol, timeframe, exchange, side); err != nil {
		return nil, err
	}
	return rows, nil
}

func (m *defaultQueuedSignalsModel) FindQueuedForSymbolForUpdate(ctx context.Context, session sqlx.Session, userID, symbol, timeframe, exchange, side string) ([]QueuedSignalRow, error) {
	query := fmt.Sprintf(`select %s from %s where user_id=$1 and symbol=$2 and timeframe=$3
		and exchange=$4 and side=$5 and status='queued' order by priority_score desc for update`, joinFields(queuedSignalFields), queuedSignalsTable)
	var rows []QueuedSignalRow
	if err := session.QueryRowsCtx(ctx, &rows, query, userID, symbol, timeframe, exchange, side); err != nil {
		return nil, err
	}
	return rows, nil
}

// FindHighestPriorityForUpdate locks and returns the single queued signal
// with the highest priority_score for a user, the core read behind
// promote_highest_priority.
func (m *defaultQueuedSignalsModel) FindHighestPriorityForUpdate(ctx context.Context, session sqlx.Session, userID string) (*QueuedSignalRow, error) {
	query := fmt.Sprintf(`select %s from %s where user_id=$1 and status='queued'
		order by priority_score desc, created_at asc limit 1 for update`, joinFields(queuedSignalFields), queuedSignalsTable)
	var row QueuedSignalRow
	if err := session.QueryRowCtx(ctx, &row, query, userID); err != nil {
		return nil, err
	}
	return &row, nil
}
