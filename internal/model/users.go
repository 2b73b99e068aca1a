package model

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

var usersFieldNames = []string{
	"id", "email", "secure_signals", "webhook_secret",
	"max_open_positions_global", "post_full_wait_minutes", "timer_start_condition",
	"require_full_pyramids", "reset_timer_on_replacement", "loss_threshold_percent",
	"max_winners_to_combine", "use_trade_age_filter", "age_threshold_minutes",
	"partial_close_enabled", "min_close_notional", "closing_timeout_minutes",
	"created_at", "updated_at",
}

const usersTable = "users"

// UsersRow is the raw row shape for the users table.
type UsersRow struct {
	ID                      string
	Email                   string
	SecureSignals           bool
	WebhookSecret           string
	MaxOpenPositionsGlobal  int
	PostFullWaitMinutes     int
	TimerStartCondition     string
	RequireFullPyramids     bool
	ResetTimerOnReplacement bool
	LossThresholdPercent    string
	MaxWinnersToCombine     int
	UseTradeAgeFilter       bool
	AgeThresholdMinutes     int
	PartialCloseEnabled     bool
	MinCloseNotional        string
	ClosingTimeoutMinutes   int
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// UsersModel is the data access interface for the users table.
type UsersModel interface {
	Insert(ctx context.Context, row *UsersRow) error
	FindOne(ctx context.Context, id string) (*UsersRow, error)
	Update(ctx context.Context, row *UsersRow) error
	FindAll(ctx context.Context) ([]UsersRow, error)
}

type defaultUsersModel struct {
	conn sqlx.SqlConn
}

// NewUsersModel constructs a UsersModel over conn.
func NewUsersModel(conn sqlx.SqlConn) UsersModel {
	return &defaultUsersModel{conn: conn}
}

func (m *defaultUsersModel) Insert(ctx context.Context, row *UsersRow) error {
	query := fmt.Sprintf("insert into %s (%s) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)",
		usersTable, joinFields(usersFieldNames))
	_, err := m.conn.ExecCtx(ctx, query,
		row.ID, row.Email, row.SecureSignals, row.WebhookSecret,
		row.MaxOpenPositionsGlobal, row.PostFullWaitMinutes, row.TimerStartCondition,
		row.RequireFullPyramids, row.ResetTimerOnReplacement, row.LossThresholdPercent,
		row.MaxWinnersToCombine, row.UseTradeAgeFilter, row.AgeThresholdMinutes,
		row.PartialCloseEnabled, row.MinCloseNotional, row.ClosingTimeoutMinutes,
		row.CreatedAt, row.UpdatedAt)
	return err
}

func (m *defaultUsersModel) FindOne(ctx context.Context, id string) (*UsersRow, error) {
	query := fmt.Sprintf("select %s from %s where id = $1", joinFields(usersFieldNames), usersTable)
	var row UsersRow
	err := m.conn.QueryRowCtx(ctx, &row, query, id)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (m *defaultUsersModel) Update(ctx context.Context, row *UsersRow) error {
	query := fmt.Sprintf(`update %s set email=$2, secure_signals=$3, webhook_secret=$4,
		max_open_positions_global=$5, post_full_wait_minutes=$6, timer_start_condition=$7,
		require_full_pyramids=$8, reset_timer_on_replacement=$9, loss_threshold_percent=$10,
		max_winners_to_combine=$11, use_trade_age_filter=$12, age_threshold_minutes=$13,
		partial_close_enabled=$14, min_close_notional=$15, closing_timeout_minutes=$16,
		updated_at=$17 where id=$1`, usersTable)
	_, err := m.conn.ExecCtx(ctx, query,
		row.ID, row.Email, row.SecureSignals, row.WebhookSecret,
		row.MaxOpenPositionsGlobal, row.PostFullWaitMinutes, row.TimerStartCondition,
		row.RequireFullPyramids, row.ResetTimerOnReplacement, row.LossThresholdPercent,
		row.MaxWinnersToCombine, row.UseTradeAgeFilter, row.AgeThresholdMinutes,
		row.PartialCloseEnabled, row.MinCloseNotional, row.ClosingTimeoutMinutes,
		row.UpdatedAt)
	return err
}

// FindAll fetches every registered user, the risk engine's per-user
// sharding source.
func (m *defaultUsersModel) FindAll(ctx context.Context) ([]UsersRow, error) {
	query := fmt.Sprintf("select %s from %s order by created_at asc", joinFields(usersFieldNames), usersTable)
	var rows []UsersRow
	if err := m.conn.QueryRowsCtx(ctx, &rows, query); err != nil {
		return nil, err
	}
	return rows, nil
}

func joinFields(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += ", "
		}
		out += f
	}
	return out
}
