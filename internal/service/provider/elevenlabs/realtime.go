package elevenlabs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/civaigentics/widget/backend/internal/service/credential"
	"github.com/civaigentics/widget/backend/internal/service/session"
)

var errNoAudioInput = errors.New("this host has no audio input")

// Dialer opens realtime conversations over the provider's websocket API.
type Dialer struct {
	opts   Options
	logger zerolog.Logger
}

// NewDialer creates a Dialer.
func NewDialer(opts Options, logger zerolog.Logger) *Dialer {
	return &Dialer{
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "elevenlabs").Logger(),
	}
}

// Open dials the signed URL and starts the read and keepalive loops.
func (d *Dialer) Open(ctx context.Context, cred credential.Credential, opts session.Options) (session.Conn, error) {
	if !opts.MicMuted && !d.opts.VoiceCapable {
		return nil, &session.PermissionError{Err: errNoAudioInput}
	}

	url := strings.TrimSpace(cred.SignedURL)
	if url == "" {
		return nil, &session.TransportError{Op: "open", Err: errors.New("signed url is empty")}
	}

	dialer := &websocket.Dialer{HandshakeTimeout: d.opts.HandshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, &session.TransportError{Op: "open", Err: fmt.Errorf("websocket dial failed: %w", err)}
	}

	conn := &realtimeConn{
		ws:       ws,
		opts:     d.opts,
		logger:   d.logger,
		events:   make(chan session.Event, d.opts.EventBuffer),
		done:     make(chan struct{}),
		micMuted: opts.MicMuted,
		volume:   opts.Volume,
	}

	ws.SetReadDeadline(time.Now().Add(d.opts.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(d.opts.ReadTimeout))
	})

	if err := conn.writeJSON(initiationFrame{Type: "conversation_initiation_client_data"}); err != nil {
		ws.Close()
		return nil, &session.TransportError{Op: "open", Err: err}
	}

	go conn.readLoop()
	go conn.pingLoop()

	return conn, nil
}

type realtimeConn struct {
	ws     *websocket.Conn
	opts   Options
	logger zerolog.Logger

	events    chan session.Event
	done      chan struct{}
	closeOnce sync.Once

	writeMu sync.Mutex

	mu       sync.Mutex
	micMuted bool
	volume   float64
	speaking bool
}

func (c *realtimeConn) Events() <-chan session.Event {
	return c.events
}

func (c *realtimeConn) SendUserMessage(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return session.ErrNoSession
	default:
	}
	return c.writeJSON(userMessageFrame{Type: "user_message", Text: text})
}

func (c *realtimeConn) SetMicMuted(muted bool) error {
	if !muted && !c.opts.VoiceCapable {
		return &session.PermissionError{Err: errNoAudioInput}
	}
	c.mu.Lock()
	c.micMuted = muted
	c.mu.Unlock()
	return nil
}

func (c *realtimeConn) SetVolume(volume float64) error {
	if volume < 0 || volume > 1 {
		return fmt.Errorf("volume %.2f out of range", volume)
	}
	c.mu.Lock()
	c.volume = volume
	c.mu.Unlock()
	return nil
}

func (c *realtimeConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(c.opts.WriteTimeout)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			c.logger.Debug().Err(werr).Msg("write close frame")
		}
		err = c.ws.Close()
	})
	return err
}

func (c *realtimeConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := c.ws.WriteJSON(v); err != nil {
		return fmt.Errorf("websocket write failed: %w", err)
	}
	return nil
}

func (c *realtimeConn) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.emit(c.disconnectedFrom(err))
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))

		frame, err := decodeFrame(data)
		if err != nil {
			var unknown errUnknownFrame
			if errors.As(err, &unknown) {
				c.logger.Debug().Str("type", unknown.typ).Msg("ignoring frame")
			} else {
				c.logger.Warn().Err(err).Msg("malformed frame")
			}
			continue
		}

		if frame.reply != nil {
			if err := c.writeJSON(frame.reply); err != nil {
				c.logger.Warn().Err(err).Msg("reply to ping failed")
			}
		}

		for _, ev := range c.floorEvents(frame) {
			c.emit(ev)
		}
		if frame.event != nil {
			c.emit(frame.event)
		}
	}
}

// floorEvents derives speaking/listening transitions from audio and
// user-side frames.
func (c *realtimeConn) floorEvents(frame decoded) []session.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case frame.audio && !c.speaking:
		c.speaking = true
		return []session.Event{session.StatusChange{Value: "speaking"}}
	case frame.floorToUser && c.speaking:
		c.speaking = false
		return []session.Event{session.StatusChange{Value: "listening"}}
	}
	return nil
}

func (c *realtimeConn) emit(ev session.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *realtimeConn) disconnectedFrom(err error) session.Disconnected {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return session.Disconnected{Code: closeErr.Code, Reason: closeErr.Text}
	}

	select {
	case <-c.done:
		return session.Disconnected{Code: websocket.CloseNormalClosure, Reason: "closed by client"}
	default:
	}
	return session.Disconnected{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
}

func (c *realtimeConn) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug().Err(err).Msg("keepalive ping failed")
				return
			}
		}
	}
}
