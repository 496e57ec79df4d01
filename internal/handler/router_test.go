package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civaigentics/widget/backend/internal/config"
	"github.com/civaigentics/widget/backend/internal/service/provider/elevenlabs"
	widgetService "github.com/civaigentics/widget/backend/internal/service/widget"
)

func newTestRouter() http.Handler {
	return NewRouter(Deps{
		Provider:  elevenlabs.NewClient(config.ProviderConfig{BaseURL: "http://provider.invalid"}, nil),
		Widgets:   widgetService.NewHost(widgetService.Deps{}, zerolog.Nop()),
		AgentName: "Jacky",
		Logger:    zerolog.Nop(),
	})
}

func serve(router http.Handler, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func TestHealth(t *testing.T) {
	rec, body := serve(newTestRouter(), http.MethodGet, "/api/health")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["providerConfigured"])
	assert.Equal(t, float64(0), body["widgets"])
}

func TestUnknownRoutesAnswerJSON(t *testing.T) {
	router := newTestRouter()

	rec, body := serve(router, http.MethodGet, "/api/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", body["error"])

	rec, body = serve(router, http.MethodGet, "/api/chat")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "Method not allowed", body["error"])
}

func TestSignedURLWithoutKey(t *testing.T) {
	rec, body := serve(newTestRouter(), http.MethodGet, "/api/get-signed-url")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "API key not configured", body["error"])
}

func TestPreflightIsAnswered(t *testing.T) {
	rec, _ := serve(newTestRouter(), http.MethodOptions, "/api/feedback")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
