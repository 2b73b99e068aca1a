package pool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"spotgrid-engine/internal/model"
	"spotgrid-engine/internal/repo"
)

// fakeGroupsModel stubs only what the pool manager's admission check
// touches; every other method panics so a test that accidentally
// exercises a wider surface fails loudly instead of silently.
type fakeGroupsModel struct {
	model.PositionGroupsModel
	openCount int
	countErr  error
}

func (f *fakeGroupsModel) CountActiveForUpdate(ctx context.Context, session sqlx.Session, userID string, statuses []string) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.openCount, nil
}

func newPoolManager(openCount int) *Manager {
	groups := &fakeGroupsModel{openCount: openCount}
	positions := repo.NewPositionRepo(groups, nil, nil)
	return New(positions)
}

func TestRequestSlot_GrantsUnderCap(t *testing.T) {
	m := newPoolManager(2)

	granted, err := m.RequestSlot(context.Background(), nil, "user-1", 3)
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestRequestSlot_DeniesAtCap(t *testing.T) {
	m := newPoolManager(3)

	granted, err := m.RequestSlot(context.Background(), nil, "user-1", 3)
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestRequestSlot_DeniesOverCap(t *testing.T) {
	m := newPoolManager(5)

	granted, err := m.RequestSlot(context.Background(), nil, "user-1", 3)
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestRequestSlot_RejectsNonPositiveCap(t *testing.T) {
	m := newPoolManager(0)

	_, err := m.RequestSlot(context.Background(), nil, "user-1", 0)
	require.Error(t, err)
}

func TestRequestSlot_PropagatesCountError(t *testing.T) {
	groups := &fakeGroupsModel{countErr: assertAnError}
	positions := repo.NewPositionRepo(groups, nil, nil)
	m := New(positions)

	_, err := m.RequestSlot(context.Background(), nil, "user-1", 3)
	require.Error(t, err)
}

var assertAnError = &poolTestError{}

type poolTestError struct{}

func (*poolTestError) Error() string { return "count query failed" }
