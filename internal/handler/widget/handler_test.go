package widget

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civaigentics/widget/backend/internal/service/credential"
	"github.com/civaigentics/widget/backend/internal/service/session"
	widgetsvc "github.com/civaigentics/widget/backend/internal/service/widget"
)

type stubConn struct {
	events chan session.Event
	once   sync.Once
}

func (c *stubConn) Events() <-chan session.Event { return c.events }
func (c *stubConn) SetMicMuted(bool) error       { return nil }
func (c *stubConn) SetVolume(float64) error      { return nil }

func (c *stubConn) SendUserMessage(context.Context, string) error {
	c.events <- session.Message{Role: session.RoleAgent, Text: "Visit midlandtexas.gov for details."}
	return nil
}
func (c *stubConn) Close() error {
	c.once.Do(func() { close(c.events) })
	return nil
}

// textOnlyProvider behaves like a host without audio input.
type textOnlyProvider struct{}

func (textOnlyProvider) Open(_ context.Context, _ credential.Credential, opts session.Options) (session.Conn, error) {
	if !opts.MicMuted {
		return nil, &session.PermissionError{}
	}
	conn := &stubConn{events: make(chan session.Event, 4)}
	conn.events <- session.Connected{ConversationID: "conv_http"}
	return conn, nil
}

func newServer(t *testing.T) (*httptest.Server, *widgetsvc.Host) {
	t.Helper()
	host := widgetsvc.NewHost(widgetsvc.Deps{
		Fetcher: credential.FetcherFunc(func(context.Context) (credential.Credential, error) {
			return credential.Credential{SignedURL: "wss://provider.test"}, nil
		}),
		Provider: textOnlyProvider{},
		Session:  session.Config{AgentName: "Jacky", ConnectTimeout: time.Second},
	}, zerolog.Nop())

	r := chi.NewRouter()
	New(host).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		host.Shutdown()
	})
	return srv, host
}

func call(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp.StatusCode, out
}

func createWidget(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	status, body := call(t, http.MethodPost, srv.URL+"/widgets", "")
	require.Equal(t, http.StatusCreated, status)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func transcriptOf(t *testing.T, url string) []EntryView {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var views []EntryView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	return views
}

func TestWidgetTextConversation(t *testing.T) {
	srv, _ := newServer(t)
	id := createWidget(t, srv)
	base := srv.URL + "/widgets/" + id

	status, _ := call(t, http.MethodPost, base+"/messages", `{"text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := call(t, http.MethodPost, base+"/messages", `{"text":"Where do I pay my water bill?"}`)
	require.Equal(t, http.StatusAccepted, status)
	sess := body["session"].(map[string]any)
	assert.Equal(t, "text", sess["mode"])
	assert.Equal(t, true, sess["micMuted"])

	var views []EntryView
	require.Eventually(t, func() bool {
		views = transcriptOf(t, base+"/transcript")
		return len(views) == 4
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, "Connecting to Jacky...", views[0].Content)
	assert.Equal(t, "Where do I pay my water bill?", views[2].Content)
	agent := views[3]
	assert.Equal(t, "Visit midlandtexas.gov for details.", agent.Content)
	require.Len(t, agent.Spans, 3)
	assert.Equal(t, "https://midlandtexas.gov", agent.Spans[1].Href)

	tail := transcriptOf(t, base+"/transcript?since=3")
	require.Len(t, tail, 1)
	assert.Equal(t, 3, tail[0].Index)

	status, _ = call(t, http.MethodPost, base+"/entries/3/mark", `{"feedbackType":"positive"}`)
	assert.Equal(t, http.StatusOK, status)
	status, _ = call(t, http.MethodPost, base+"/entries/2/mark", `{"feedbackType":"positive"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	status, _ = call(t, http.MethodPost, base+"/entries/99/mark", `{"feedbackType":"positive"}`)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = call(t, http.MethodPost, base+"/entries/3/mark", `{"feedbackType":"meh"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "positive", string(transcriptOf(t, base+"/transcript")[3].Mark))

	status, body = call(t, http.MethodPost, base+"/entries/3/copy", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Visit midlandtexas.gov for details.", body["text"])

	status, body = call(t, http.MethodPost, base+"/rating", `{"rating":5}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(5), body["rating"])
	status, _ = call(t, http.MethodPost, base+"/rating", `{"rating":0}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = call(t, http.MethodPost, base+"/disconnect", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "disconnected", body["session"].(map[string]any)["status"])
}

func TestWidgetVoiceWithoutMicrophone(t *testing.T) {
	srv, _ := newServer(t)
	base := srv.URL + "/widgets/" + createWidget(t, srv)

	status, body := call(t, http.MethodPost, base+"/connect", "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Contains(t, body["error"], "microphone permission denied")

	views := transcriptOf(t, base+"/transcript")
	require.Len(t, views, 2)
	assert.Equal(t, "error", string(views[1].Kind))
}

func TestWidgetControls(t *testing.T) {
	srv, host := newServer(t)
	id := createWidget(t, srv)
	base := srv.URL + "/widgets/" + id

	_, body := call(t, http.MethodPost, base+"/mic", "")
	assert.Equal(t, true, body["micMuted"])
	_, body = call(t, http.MethodPost, base+"/output", "")
	assert.Equal(t, false, body["outputMuted"])

	_, body = call(t, http.MethodPost, base+"/expand", "")
	assert.Equal(t, true, body["changed"])
	_, body = call(t, http.MethodPost, base+"/expand", "")
	assert.Equal(t, false, body["changed"])

	status, _ := call(t, http.MethodGet, srv.URL+"/widgets/missing", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = call(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, status)
	assert.Zero(t, host.Len())
	status, _ = call(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestWidgetEventStream(t *testing.T) {
	srv, host := newServer(t)
	id := createWidget(t, srv)
	inst, err := host.Get(id)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/widgets/"+id+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 32)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "event: ") {
				events <- strings.TrimPrefix(line, "event: ")
			}
		}
		close(events)
	}()

	waitFor := func(name string) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case ev, ok := <-events:
				require.True(t, ok, "stream closed before %s", name)
				if ev == name {
					return
				}
			case <-deadline:
				t.Fatalf("no %s event", name)
			}
		}
	}

	waitFor("state")
	inst.SetExpanded(true)
	waitFor("embed")
	inst.Session.ToggleMic()
	waitFor("entry")
}
