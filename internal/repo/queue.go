package repo

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"spotgrid-engine/internal/domain"
	"spotgrid-engine/internal/model"
)

// QueueRepo exposes domain-typed access to queued_signals.
type QueueRepo struct {
	signals model.QueuedSignalsModel
}

// NewQueueRepo constructs a QueueRepo over the given model.
func NewQueueRepo(signals model.QueuedSignalsModel) *QueueRepo {
	return &QueueRepo{signals: signals}
}

func (r *QueueRepo) Insert(ctx context.Context, session sqlx.Session, s *domain.QueuedSignal) error {
	return r.signals.Insert(ctx, session, rowFromSignal(s))
}

func (r *QueueRepo) Update(ctx context.Context, session sqlx.Session, s *domain.QueuedSignal) error {
	return r.signals.Update(ctx, session, rowFromSignal(s))
}

func (r *QueueRepo) FindOne(ctx context.Context, id string) (*domain.QueuedSignal, error) {
	row, err := r.signals.FindOne(ctx, id)
	if err != nil {
		return nil, err
	}
	return signalFromRow(row), nil
}

func (r *QueueRepo) QueuedForSymbol(ctx context.Context, userID, symbol, timeframe, exchange string, side domain.OrderSide) ([]domain.QueuedSignal, error) {
	rows, err := r.signals.FindQueuedForSymbol(ctx, userID, symbol, timeframe, exchange, string(side))
	if err != nil {
		return nil, err
	}
	return signalsFromRows(rows), nil
}

func (r *QueueRepo) QueuedForSymbolForUpdate(ctx context.Context, session sqlx.Session, userID, symbol, timeframe, exchange string, side domain.OrderSide) ([]domain.QueuedSignal, error) {
	rows, err := r.signals.FindQueuedForSymbolForUpdate(ctx, session, userID, symbol, timeframe, exchange, string(side))
	if err != nil {
		return nil, err
	}
	return signalsFromRows(rows), nil
}

// HighestPriorityForUpdate locks and returns the next candidate for
// promotion for a user, per promote_highest_priority.
func (r *QueueRepo) HighestPriorityForUpdate(ctx context.Context, session sqlx.Session, userID string) (*domain.QueuedSignal, error) {
	row, err := r.signals.FindHighestPriorityForUpdate(ctx, session, userID)
	if err != nil {
		return nil, err
	}
	return signalFromRow(row), nil
}

func signalsFromRows(rows []model.QueuedSignalRow) []domain.QueuedSignal {
	out := make([]domain.QueuedSignal, 0, len(rows))
	for i := range rows {
		out = append(out, *signalFromRow(&rows[i]))
	}
	return out
}

func signalFromRow(row *model.QueuedSignalRow) *domain.QueuedSignal {
	return &domain.QueuedSignal{
		ID:                    row.ID,
		UserID:                row.UserID,
		Exchange:              row.Exchange,
		Symbol:                row.Symbol,
		Timeframe:             row.Timeframe,
		Side:                  domain.OrderSide(row.Side),
		RawPayload:            row.PayloadJSON,
		QueuedAt:              row.CreatedAt,
		ReplacementCount:      row.ReplacementCount,
		PriorityScore:         parseDecimal(row.PriorityScore),
		IsPyramidContinuation: row.SignalType == "pyramid_continuation",
		Status:                domain.QueueStatus(row.Status),
		PromotedAt:            timePtr(row.PromotedAt.Time, row.PromotedAt.Valid),
	}
}

func rowFromSignal(s *domain.QueuedSignal) *model.QueuedSignalRow {
	now := time.Now()
	signalType := "fresh_entry"
	if s.IsPyramidContinuation {
		signalType = "pyramid_continuation"
	}
	return &model.QueuedSignalRow{
		ID:               s.ID,
		UserID:           s.UserID,
		Symbol:           s.Symbol,
		Timeframe:        s.Timeframe,
		Exchange:         s.Exchange,
		Side:             string(s.Side),
		SignalType:       signalType,
		PriorityScore:    decStr(s.PriorityScore),
		ReplacementCount: s.ReplacementCount,
		Status:           string(s.Status),
		PayloadJSON:      s.RawPayload,
		CreatedAt:         firstNonZero(s.QueuedAt, now),
		UpdatedAt:         now,
		PromotedAt:        toNullTimePtr(s.PromotedAt),
	}
}

func firstNonZero(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}
