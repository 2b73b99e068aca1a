package signalrouter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotgrid-engine/internal/apperr"
	"spotgrid-engine/internal/domain"
	"spotgrid-engine/internal/model"
	"spotgrid-engine/internal/repo"
)

type fakeUsersModel struct {
	model.UsersModel
	row *model.UsersRow
	err error
}

func (f *fakeUsersModel) FindOne(ctx context.Context, id string) (*model.UsersRow, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.row, nil
}

func newRouterWithUser(row *model.UsersRow, err error) *Router {
	users := repo.NewUserRepo(&fakeUsersModel{row: row, err: err})
	return New(users, nil, nil, nil, nil, nil, nil, nil)
}

func TestRoute_UnknownUserRejectedWith401(t *testing.T) {
	r := newRouterWithUser(nil, assertNotFound{})

	result, err := r.Route(context.Background(), WebhookPayload{UserID: "ghost"})
	require.NoError(t, err)
	assert.Equal(t, 401, result.StatusCode)
}

func TestRoute_SecretMismatchRejectedWith403(t *testing.T) {
	r := newRouterWithUser(&model.UsersRow{
		ID:            "user-1",
		SecureSignals: true,
		WebhookSecret: "correct-secret",
	}, nil)

	result, err := r.Route(context.Background(), WebhookPayload{UserID: "user-1", Secret: "wrong"})
	require.NoError(t, err)
	assert.Equal(t, 403, result.StatusCode)
}

func TestRoute_ShortEntryRejectedAsUnsupported(t *testing.T) {
	r := newRouterWithUser(&model.UsersRow{ID: "user-1"}, nil)

	result, err := r.Route(context.Background(), WebhookPayload{
		UserID: "user-1",
		ExecutionIntent: ExecutionIntent{
			Type: domain.IntentSignal,
			Side: domain.SideSell,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 400, result.StatusCode)
}

func TestSecretMatches(t *testing.T) {
	assert.True(t, secretMatches("abc123", "abc123"))
	assert.False(t, secretMatches("abc123", "abc124"))
	assert.False(t, secretMatches("abc123", "abc12"))
	assert.False(t, secretMatches("", "anything"))
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.KindValidation, 422},
		{apperr.KindAdmission, 400},
		{apperr.KindExchangeTransient, 503},
		{apperr.KindExchangeFatal, 502},
		{apperr.KindInternal, 500},
	}
	for _, tc := range cases {
		err := apperr.New(tc.kind, "test", "boom")
		assert.Equal(t, tc.want, StatusForError(err))
	}
}

type assertNotFound struct{}

func (assertNotFound) Error() string { return "not found" }
