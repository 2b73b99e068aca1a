// Package webhook exposes the signal router over HTTP: a single POST
// endpoint that TradingView (or any alert source speaking the same
// JSON shape) calls for every signal. The heavy lifting is the
// router's; this package only translates between an http.Request and
// signalrouter.Router.Route.
package webhook

import (
	"encoding/json"
	"net/http"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest"
	"github.com/zeromicro/go-zero/rest/httpx"

	"spotgrid-engine/internal/signalrouter"
)

// RegisterRoutes attaches the admission endpoint to server at path.
func RegisterRoutes(server *rest.Server, path string, router *signalrouter.Router) {
	server.AddRoute(rest.Route{
		Method:  http.MethodPost,
		Path:    path,
		Handler: newHandler(router),
	})
}

func newHandler(router *signalrouter.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload signalrouter.WebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			httpx.ErrorCtx(r.Context(), w, err)
			return
		}

		result, err := router.Route(r.Context(), payload)
		if err != nil {
			logx.WithContext(r.Context()).Errorf("webhook: route failed: %v", err)
			status := signalrouter.StatusForError(err)
			httpx.WriteJsonCtx(r.Context(), w, status, map[string]string{"reason": "internal error"})
			return
		}

		httpx.WriteJsonCtx(r.Context(), w, result.StatusCode, map[string]string{
			"reason":     result.Reason,
			"group_id":   result.GroupID,
			"pyramid_id": result.PyramidID,
			"queued_id":  result.QueuedID,
		})
	}
}
