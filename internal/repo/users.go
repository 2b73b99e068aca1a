package repo

import (
	"context"
	"time"

	"spotgrid-engine/internal/domain"
	"spotgrid-engine/internal/model"
)

// UserRepo exposes domain-typed access to user and risk configuration rows.
type UserRepo struct {
	users model.UsersModel
}

// NewUserRepo constructs a UserRepo over the given model.
func NewUserRepo(users model.UsersModel) *UserRepo {
	return &UserRepo{users: users}
}

// FindOne loads a user by id. Credentials aren't modeled yet here; callers
// needing exchange credentials fetch them separately from the secrets store.
func (r *UserRepo) FindOne(ctx context.Context, id string) (*domain.User, error) {
	row, err := r.users.FindOne(ctx, id)
	if err != nil {
		return nil, err
	}
	return userFromRow(row), nil
}

// Insert creates a new user with its embedded risk configuration.
func (r *UserRepo) Insert(ctx context.Context, u *domain.User) error {
	return r.users.Insert(ctx, rowFromUser(u))
}

// Update persists a user's risk configuration changes.
func (r *UserRepo) Update(ctx context.Context, u *domain.User) error {
	return r.users.Update(ctx, rowFromUser(u))
}

// ListAll fetches every registered user, the risk engine's per-user
// sharding source.
func (r *UserRepo) ListAll(ctx context.Context) ([]domain.User, error) {
	rows, err := r.users.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(rows))
	for i := range rows {
		out = append(out, *userFromRow(&rows[i]))
	}
	return out, nil
}

func userFromRow(row *model.UsersRow) *domain.User {
	return &domain.User{
		ID:            row.ID,
		Email:         row.Email,
		SecureSignals: row.SecureSignals,
		WebhookSecret: row.WebhookSecret,
		Risk: domain.RiskConfig{
			MaxOpenPositionsGlobal:  row.MaxOpenPositionsGlobal,
			PostFullWaitMinutes:     row.PostFullWaitMinutes,
			TimerStartCondition:     row.TimerStartCondition,
			RequireFullPyramids:     row.RequireFullPyramids,
			ResetTimerOnReplacement: row.ResetTimerOnReplacement,
			LossThresholdPercent:    parseDecimal(row.LossThresholdPercent),
			MaxWinnersToCombine:     row.MaxWinnersToCombine,
			UseTradeAgeFilter:       row.UseTradeAgeFilter,
			AgeThresholdMinutes:     row.AgeThresholdMinutes,
			PartialCloseEnabled:     row.PartialCloseEnabled,
			MinCloseNotional:        parseDecimal(row.MinCloseNotional),
			ClosingTimeoutMinutes:   row.ClosingTimeoutMinutes,
		},
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

func rowFromUser(u *domain.User) *model.UsersRow {
	now := u.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	return &model.UsersRow{
		ID:                      u.ID,
		Email:                   u.Email,
		SecureSignals:           u.SecureSignals,
		WebhookSecret:           u.WebhookSecret,
		MaxOpenPositionsGlobal:  u.Risk.MaxOpenPositionsGlobal,
		PostFullWaitMinutes:     u.Risk.PostFullWaitMinutes,
		TimerStartCondition:     u.Risk.TimerStartCondition,
		RequireFullPyramids:     u.Risk.RequireFullPyramids,
		ResetTimerOnReplacement: u.Risk.ResetTimerOnReplacement,
		LossThresholdPercent:    decStr(u.Risk.LossThresholdPercent),
		MaxWinnersToCombine:     u.Risk.MaxWinnersToCombine,
		UseTradeAgeFilter:       u.Risk.UseTradeAgeFilter,
		AgeThresholdMinutes:     u.Risk.AgeThresholdMinutes,
		PartialCloseEnabled:     u.Risk.PartialCloseEnabled,
		MinCloseNotional:        decStr(u.Risk.MinCloseNotional),
		ClosingTimeoutMinutes:   u.Risk.ClosingTimeoutMinutes,
		CreatedAt:               u.CreatedAt,
		UpdatedAt:               now,
	}
}
