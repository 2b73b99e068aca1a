package position

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"spotgrid-engine/internal/domain"
	"spotgrid-engine/internal/model"
	"spotgrid-engine/internal/repo"
)

type fakeGroupsModel struct {
	model.PositionGroupsModel
	row     *model.PositionGroupRow
	updated *model.PositionGroupRow
}

func (f *fakeGroupsModel) FindOneForUpdate(ctx context.Context, session sqlx.Session, id string) (*model.PositionGroupRow, error) {
	return f.row, nil
}

func (f *fakeGroupsModel) Update(ctx context.Context, session sqlx.Session, row *model.PositionGroupRow) error {
	f.updated = row
	return nil
}

type fakePyramidsModel struct {
	model.PyramidsModel
	rows []model.PyramidRow
}

func (f *fakePyramidsModel) FindByGroupForUpdate(ctx context.Context, session sqlx.Session, groupID string) ([]model.PyramidRow, error) {
	return f.rows, nil
}

type fakeOrdersModel struct {
	model.DCAOrdersModel
	byPyramid map[string][]model.DCAOrderRow
}

func (f *fakeOrdersModel) FindByPyramid(ctx context.Context, pyramidID string) ([]model.DCAOrderRow, error) {
	return f.byPyramid[pyramidID], nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func TestRecomputeStats_PartiallyFilledGroupTracksFilledLegs(t *testing.T) {
	now := time.Now()
	groups := &fakeGroupsModel{row: &model.PositionGroupRow{
		ID:                  "group-1",
		Exchange:            "binance",
		Symbol:              "BTCUSDT",
		Status:              string(domain.StatusWaiting),
		TotalInvestedUSD:    "0",
		TotalFilledQuantity: "0",
		CreatedAt:           now,
		UpdatedAt:           now,
	}}
	pyramids := &fakePyramidsModel{rows: []model.PyramidRow{{ID: "pyramid-1", PositionGroupID: "group-1"}}}
	orders := &fakeOrdersModel{byPyramid: map[string][]model.DCAOrderRow{
		"pyramid-1": {
			{ID: "o1", PyramidID: "pyramid-1", LegIndex: 0, Status: "filled", Side: "buy", Kind: "limit", PlannedPrice: "100", PlannedQuantity: "1", FilledQuantity: "1", FilledPrice: nullStr("100")},
			{ID: "o2", PyramidID: "pyramid-1", LegIndex: 1, Status: "open", Side: "buy", Kind: "limit", PlannedPrice: "90", PlannedQuantity: "1", FilledQuantity: "0"},
		},
	}}

	positions := repo.NewPositionRepo(groups, pyramids, orders)
	mgr := New(positions, nil, nil, nil, nil)

	result, err := mgr.RecomputeStats(context.Background(), nil, "group-1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilledDCALegs)
	assert.Equal(t, 2, result.TotalDCALegs)
	assert.True(t, result.TotalFilledQuantity.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, domain.StatusPartiallyFilled, result.Status)
	require.NotNil(t, groups.updated)
}

func TestRecomputeStats_FullyFilledGroupBecomesActive(t *testing.T) {
	now := time.Now()
	groups := &fakeGroupsModel{row: &model.PositionGroupRow{
		ID:        "group-2",
		Exchange:  "binance",
		Symbol:    "BTCUSDT",
		Status:    string(domain.StatusPartiallyFilled),
		CreatedAt: now,
		UpdatedAt: now,
	}}
	pyramids := &fakePyramidsModel{rows: []model.PyramidRow{{ID: "pyramid-2", PositionGroupID: "group-2"}}}
	orders := &fakeOrdersModel{byPyramid: map[string][]model.DCAOrderRow{
		"pyramid-2": {
			{ID: "o1", PyramidID: "pyramid-2", LegIndex: 0, Status: "filled", Side: "buy", Kind: "limit", PlannedPrice: "100", PlannedQuantity: "1", FilledQuantity: "1", FilledPrice: nullStr("100")},
		},
	}}

	positions := repo.NewPositionRepo(groups, pyramids, orders)
	mgr := New(positions, nil, nil, nil, nil)

	result, err := mgr.RecomputeStats(context.Background(), nil, "group-2")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusActive, result.Status)
}

func TestRecomputeStats_EmptyFilledQuantityClosesGroup(t *testing.T) {
	now := time.Now()
	groups := &fakeGroupsModel{row: &model.PositionGroupRow{
		ID:        "group-3",
		Exchange:  "binance",
		Symbol:    "BTCUSDT",
		Status:    string(domain.StatusActive),
		CreatedAt: now,
		UpdatedAt: now,
	}}
	pyramids := &fakePyramidsModel{rows: []model.PyramidRow{{ID: "pyramid-3", PositionGroupID: "group-3"}}}
	orders := &fakeOrdersModel{byPyramid: map[string][]model.DCAOrderRow{
		"pyramid-3": {
			{ID: "o0", PyramidID: "pyramid-3", LegIndex: 0, Status: "filled", Side: "buy", Kind: "limit", PlannedPrice: "100", PlannedQuantity: "1", FilledQuantity: "1", FilledPrice: nullStr("100")},
			{ID: "o1", PyramidID: "pyramid-3", LegIndex: domain.SyntheticLegIndex, Status: "filled", Side: "sell", Kind: "limit", PlannedPrice: "110", PlannedQuantity: "1", FilledQuantity: "1", FilledPrice: nullStr("110")},
		},
	}}

	positions := repo.NewPositionRepo(groups, pyramids, orders)
	mgr := New(positions, nil, nil, nil, nil)

	result, err := mgr.RecomputeStats(context.Background(), nil, "group-3")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusClosed, result.Status)
	assert.NotNil(t, result.ClosedAt)
}
