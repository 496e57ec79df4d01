package chat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/civaigentics/widget/backend/internal/service/provider/elevenlabs"
)

type fakeRelay struct {
	configured bool
	reply      elevenlabs.Reply
	err        error
	gotAgent   string
	gotText    string
}

func (f *fakeRelay) Configured() bool { return f.configured }

func (f *fakeRelay) SendText(_ context.Context, agentID, text string) (elevenlabs.Reply, error) {
	f.gotAgent, f.gotText = agentID, text
	return f.reply, f.err
}

func post(h *Handler, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body)))
	return rec
}

func TestChatRelay(t *testing.T) {
	relay := &fakeRelay{configured: true, reply: elevenlabs.Reply{Text: "Trash pickup is Tuesday.", ConversationID: "conv_5"}}
	rec := post(New(relay, "Jacky"), `{"message":"When is trash pickup?","agentId":"agent_1"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"response":"Trash pickup is Tuesday.","conversationId":"conv_5"}`, rec.Body.String())
	assert.Equal(t, "agent_1", relay.gotAgent)
	assert.Equal(t, "When is trash pickup?", relay.gotText)
}

func TestChatRelayValidation(t *testing.T) {
	rec := post(New(&fakeRelay{}, "Jacky"), `{"message":""}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"API key not configured"}`, rec.Body.String())

	rec = post(New(&fakeRelay{configured: true}, "Jacky"), `{"message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Message is required"}`, rec.Body.String())

	rec = post(New(&fakeRelay{configured: true}, "Jacky"), `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatRelayUpstreamErrors(t *testing.T) {
	relay := &fakeRelay{configured: true, err: &elevenlabs.APIError{Status: http.StatusUnauthorized, Message: "bad key"}}
	rec := post(New(relay, "Jacky"), `{"message":"hi"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to get response from Jacky","details":"bad key"}`, rec.Body.String())

	relay = &fakeRelay{configured: true, err: errors.New("dial tcp: timeout")}
	rec = post(New(relay, "Jacky"), `{"message":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error","message":"dial tcp: timeout"}`, rec.Body.String())
}
