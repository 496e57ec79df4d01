package elevenlabs

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civaigentics/widget/backend/internal/service/credential"
	"github.com/civaigentics/widget/backend/internal/service/session"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func nextEvent(t *testing.T, ch <-chan session.Event) session.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event channel closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestDialerConversation(t *testing.T) {
	pongs := make(chan pongFrame, 1)
	userMessages := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		var init initiationFrame
		if ws.ReadJSON(&init) != nil || init.Type != "conversation_initiation_client_data" {
			return
		}
		ws.WriteJSON(map[string]any{
			"type":                                   "conversation_initiation_metadata",
			"conversation_initiation_metadata_event": map[string]any{"conversation_id": "conv_123"},
		})
		ws.WriteJSON(map[string]any{"type": "ping", "ping_event": map[string]any{"event_id": 7}})

		var pong pongFrame
		if ws.ReadJSON(&pong) != nil {
			return
		}
		pongs <- pong

		ws.WriteJSON(map[string]any{
			"type":        "audio",
			"audio_event": map[string]any{"audio_base_64": base64.StdEncoding.EncodeToString([]byte("pcm")), "event_id": 1},
		})
		ws.WriteJSON(map[string]any{"type": "vad_score"})
		ws.WriteJSON(map[string]any{
			"type":                 "agent_response",
			"agent_response_event": map[string]any{"agent_response": "Hello from Midland"},
		})

		var msg userMessageFrame
		if ws.ReadJSON(&msg) != nil {
			return
		}
		userMessages <- msg.Text

		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		ws.ReadMessage()
	}))
	defer srv.Close()

	d := NewDialer(Options{}, zerolog.Nop())
	conn, err := d.Open(context.Background(), credential.Credential{SignedURL: wsURL(srv)}, session.Options{MicMuted: true})
	require.NoError(t, err)
	defer conn.Close()

	events := conn.Events()
	assert.Equal(t, session.Connected{ConversationID: "conv_123"}, nextEvent(t, events))

	select {
	case pong := <-pongs:
		assert.Equal(t, pongFrame{Type: "pong", EventID: 7}, pong)
	case <-time.After(2 * time.Second):
		t.Fatal("no pong received")
	}

	assert.Equal(t, session.StatusChange{Value: "speaking"}, nextEvent(t, events))
	assert.Equal(t, session.Audio{Data: []byte("pcm")}, nextEvent(t, events))
	assert.Equal(t, session.Message{Role: session.RoleAgent, Text: "Hello from Midland"}, nextEvent(t, events))

	require.NoError(t, conn.SendUserMessage(context.Background(), "What are the library hours?"))
	assert.Equal(t, "What are the library hours?", <-userMessages)

	assert.Equal(t, session.Disconnected{Code: websocket.CloseNormalClosure, Reason: "bye"}, nextEvent(t, events))

	select {
	case _, ok := <-events:
		assert.False(t, ok, "events should close after disconnect")
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed")
	}
}

func TestDialerAbnormalClosure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.ReadMessage()
		ws.UnderlyingConn().Close()
	}))
	defer srv.Close()

	d := NewDialer(Options{}, zerolog.Nop())
	conn, err := d.Open(context.Background(), credential.Credential{SignedURL: wsURL(srv)}, session.Options{MicMuted: true})
	require.NoError(t, err)
	defer conn.Close()

	ev := nextEvent(t, conn.Events())
	disconnected, ok := ev.(session.Disconnected)
	require.True(t, ok, "got %T", ev)
	assert.True(t, disconnected.Abnormal())
}

func TestDialerRefusesMicrophoneWithoutAudioInput(t *testing.T) {
	d := NewDialer(Options{}, zerolog.Nop())

	_, err := d.Open(context.Background(), credential.Credential{SignedURL: "ws://unused.test"}, session.Options{MicMuted: false})
	assert.ErrorIs(t, err, session.ErrPermissionDenied)
}

func TestDialerOpenFailures(t *testing.T) {
	d := NewDialer(Options{HandshakeTimeout: time.Second}, zerolog.Nop())

	_, err := d.Open(context.Background(), credential.Credential{SignedURL: "  "}, session.Options{MicMuted: true})
	var transportErr *session.TransportError
	require.ErrorAs(t, err, &transportErr)

	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	_, err = d.Open(context.Background(), credential.Credential{SignedURL: url}, session.Options{MicMuted: true})
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "open", transportErr.Op)
}

func TestConnControls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	d := NewDialer(Options{}, zerolog.Nop())
	conn, err := d.Open(context.Background(), credential.Credential{SignedURL: wsURL(srv)}, session.Options{MicMuted: true})
	require.NoError(t, err)

	assert.ErrorIs(t, conn.SetMicMuted(false), session.ErrPermissionDenied)
	assert.NoError(t, conn.SetMicMuted(true))
	assert.NoError(t, conn.SetVolume(1))
	assert.Error(t, conn.SetVolume(1.5))

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.SendUserMessage(context.Background(), "late"), session.ErrNoSession)
}
