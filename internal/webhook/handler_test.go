package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotgrid-engine/internal/model"
	"spotgrid-engine/internal/repo"
	"spotgrid-engine/internal/signalrouter"
)

type fakeUsersModel struct {
	model.UsersModel
}

func (fakeUsersModel) FindOne(ctx context.Context, id string) (*model.UsersRow, error) {
	return nil, assertNotFound{}
}

type assertNotFound struct{}

func (assertNotFound) Error() string { return "not found" }

func newTestRouter() *signalrouter.Router {
	users := repo.NewUserRepo(fakeUsersModel{})
	return signalrouter.New(users, nil, nil, nil, nil, nil, nil, nil)
}

func TestHandler_UnknownUserReturns401JSON(t *testing.T) {
	handler := newHandler(newTestRouter())

	body, err := json.Marshal(signalrouter.WebhookPayload{UserID: "ghost"})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	handler(rec, req)

	assert.Equal(t, 401, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unknown user", resp["reason"])
}

func TestHandler_MalformedBodyRejected(t *testing.T) {
	handler := newHandler(newTestRouter())

	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()

	handler(rec, req)

	assert.NotEqual(t, 200, rec.Code)
}
