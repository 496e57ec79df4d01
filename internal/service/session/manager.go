package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/civaigentics/widget/backend/internal/model/transcript"
	"github.com/civaigentics/widget/backend/internal/service/credential"
	transcriptsvc "github.com/civaigentics/widget/backend/internal/service/transcript"
)

// Config holds the session policy constants.
type Config struct {
	AgentName string
	// SettleDelay is how long a voice session waits after the connect
	// acknowledgement before unmuting input and output.
	SettleDelay time.Duration
	// ConnectTimeout bounds credential fetch, open and acknowledgement.
	ConnectTimeout time.Duration
}

// attempt tracks one connect from Begin to acknowledgement or failure.
type attempt struct {
	epoch    uint64
	mode     Mode
	done     chan struct{}
	err      error
	resolved bool
}

func (a *attempt) wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Manager owns the realtime session of one widget: connection lifecycle, mute
// flags and every transcript entry that describes a transition.
//
// All state changes happen under mu. Each connection attempt gets a new epoch
// and events carrying an older epoch are dropped, so late confirmations of an
// abandoned attempt never resurrect it.
type Manager struct {
	fetcher  credential.Fetcher
	provider Provider
	store    *transcriptsvc.Store
	cfg      Config
	logger   zerolog.Logger

	mu             sync.Mutex
	status         Status
	mode           Mode
	micMuted       bool
	outputMuted    bool
	conversationID string
	conn           Conn
	epoch          uint64
	attempt        *attempt

	subs    map[int]chan struct{}
	nextSub int
}

// NewManager creates an idle manager writing to store.
func NewManager(fetcher credential.Fetcher, provider Provider, store *transcriptsvc.Store, cfg Config, logger zerolog.Logger) *Manager {
	if store == nil {
		store = transcriptsvc.NewStore()
	}
	if cfg.AgentName == "" {
		cfg.AgentName = "the assistant"
	}
	return &Manager{
		fetcher:     fetcher,
		provider:    provider,
		store:       store,
		cfg:         cfg,
		logger:      logger.With().Str("component", "session").Logger(),
		status:      StatusIdle,
		outputMuted: true,
		subs:        make(map[int]chan struct{}),
	}
}

// Transcript returns the store the manager appends to.
func (m *Manager) Transcript() *transcriptsvc.Store {
	return m.store
}

// State returns a snapshot of the session.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() State {
	return State{
		Status:         m.status,
		Mode:           m.mode,
		Live:           m.conn != nil && m.attempt == nil,
		MicMuted:       m.micMuted,
		OutputMuted:    m.outputMuted,
		ConversationID: m.conversationID,
	}
}

// Subscribe returns a channel signalled after every state change. Signals
// coalesce; read State after each one.
func (m *Manager) Subscribe() (<-chan struct{}, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan struct{}, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Connect opens a voice session. It returns once the provider acknowledges the
// session; input and output unmute after the settle delay.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.liveLocked() {
		m.mu.Unlock()
		return ErrSessionActive
	}
	at, opts := m.beginLocked(ModeVoice)
	m.mu.Unlock()

	return m.run(ctx, at, opts)
}

// SendText sends a typed message, opening a text session first when needed.
// The user entry is appended before the message leaves.
func (m *Manager) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	m.mu.Lock()
	switch {
	case m.attempt != nil:
		at := m.attempt
		m.mu.Unlock()
		if err := at.wait(ctx); err != nil {
			return err
		}
	case m.conn == nil:
		at, opts := m.beginLocked(ModeText)
		m.mu.Unlock()
		if err := m.run(ctx, at, opts); err != nil {
			return err
		}
	default:
		m.mu.Unlock()
	}

	m.mu.Lock()
	conn := m.conn
	if conn == nil {
		m.appendLocked(transcript.KindError, "Failed to send message: "+ErrNoSession.Error())
		m.mu.Unlock()
		return &TransportError{Op: "send", Err: ErrNoSession}
	}
	m.appendLocked(transcript.KindUser, text)
	m.mu.Unlock()

	if err := conn.SendUserMessage(ctx, text); err != nil {
		m.logger.Warn().Err(err).Msg("send user message failed")
		m.mu.Lock()
		m.appendLocked(transcript.KindError, "Failed to send message: "+err.Error())
		m.mu.Unlock()
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

// ToggleMic flips the microphone flag and returns the new value.
func (m *Manager) ToggleMic() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	muted := !m.micMuted
	if m.conn != nil {
		if err := m.conn.SetMicMuted(muted); err != nil {
			if errors.Is(err, ErrPermissionDenied) {
				m.micMuted = true
				m.appendLocked(transcript.KindError, m.permissionMessage(ModeVoice))
				return m.micMuted
			}
			m.logger.Warn().Err(err).Bool("muted", muted).Msg("forward microphone mute failed")
		}
	}

	m.micMuted = muted
	if muted {
		m.appendLocked(transcript.KindSystem, msgMicMuted)
	} else {
		m.appendLocked(transcript.KindSystem, msgMicUnmuted)
	}
	return m.micMuted
}

// ToggleOutput flips the agent audio flag and returns the new value.
func (m *Manager) ToggleOutput() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	muted := !m.outputMuted
	if m.conn != nil {
		if err := m.conn.SetVolume(VolumeFor(muted)); err != nil {
			m.logger.Warn().Err(err).Bool("muted", muted).Msg("forward output volume failed")
		}
	}

	m.outputMuted = muted
	m.appendLocked(transcript.KindSystem, m.outputMessage(muted))
	return m.outputMuted
}

// Disconnect ends the session, or abandons a connect in flight. Without a
// session it only resets the mute flags.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	conn, at := m.conn, m.attempt
	if conn == nil && at == nil {
		m.micMuted = false
		m.outputMuted = true
		m.notifyLocked()
		m.mu.Unlock()
		return nil
	}

	m.epoch++
	m.conn = nil
	m.status = StatusDisconnected
	m.micMuted = false
	m.outputMuted = true
	if at != nil {
		m.resolveLocked(at, ErrConnectAborted)
	}
	m.appendLocked(transcript.KindSystem, msgEnded)
	m.mu.Unlock()

	m.logger.Info().Msg("session ended by visitor")
	if conn != nil {
		if err := conn.Close(); err != nil {
			m.logger.Debug().Err(err).Msg("close provider connection")
		}
	}
	return nil
}

func (m *Manager) liveLocked() bool {
	return m.conn != nil || m.attempt != nil
}

func (m *Manager) beginLocked(mode Mode) (*attempt, Options) {
	m.epoch++
	at := &attempt{epoch: m.epoch, mode: mode, done: make(chan struct{})}
	m.attempt = at
	m.mode = mode
	m.status = StatusConnecting
	m.conversationID = ""
	m.appendLocked(transcript.KindSystem, m.connectingMessage(mode))

	if mode == ModeText {
		return at, Options{MicMuted: true, Volume: 0}
	}
	return at, Options{MicMuted: m.micMuted, Volume: VolumeFor(m.outputMuted)}
}

func (m *Manager) run(ctx context.Context, at *attempt, opts Options) error {
	if m.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()
	}

	logger := m.logger.With().Str("mode", string(at.mode)).Uint64("epoch", at.epoch).Logger()
	logger.Info().Msg("connecting")

	cred, err := m.fetcher.Fetch(ctx)
	if err != nil {
		var authErr *credential.AuthError
		if !errors.As(err, &authErr) {
			err = &credential.AuthError{Message: err.Error(), Err: err}
		}
		return m.fail(at, err)
	}

	conn, err := m.provider.Open(ctx, cred, opts)
	if err != nil {
		return m.fail(at, classifyOpenError(err))
	}

	m.mu.Lock()
	if at.resolved {
		m.mu.Unlock()
		_ = conn.Close()
		return at.err
	}
	m.conn = conn
	m.mu.Unlock()

	go m.pump(at.epoch, conn)

	select {
	case <-at.done:
		if at.err == nil {
			logger.Info().Msg("connected")
		}
		return at.err
	case <-ctx.Done():
		return m.fail(at, &TransportError{Op: "connect", Err: ctx.Err()})
	}
}

// fail settles at with err. If a disconnect already settled it, the earlier
// outcome wins and nothing is appended.
func (m *Manager) fail(at *attempt, err error) error {
	m.mu.Lock()
	if at.resolved {
		m.mu.Unlock()
		return at.err
	}

	conn := m.conn
	m.conn = nil
	m.epoch++
	m.status = StatusError
	m.appendLocked(transcript.KindError, m.connectFailureMessage(at.mode, err))
	m.status = StatusIdle
	m.resolveLocked(at, err)
	m.notifyLocked()
	m.mu.Unlock()

	m.logger.Warn().Err(err).Str("mode", string(at.mode)).Msg("connect failed")
	if conn != nil {
		_ = conn.Close()
	}
	return err
}

func (m *Manager) resolveLocked(at *attempt, err error) {
	if at.resolved {
		return
	}
	at.resolved = true
	at.err = err
	close(at.done)
	if m.attempt == at {
		m.attempt = nil
	}
}

func classifyOpenError(err error) error {
	var (
		permErr      *PermissionError
		transportErr *TransportError
		authErr      *credential.AuthError
	)
	switch {
	case errors.As(err, &permErr), errors.As(err, &transportErr), errors.As(err, &authErr):
		return err
	case errors.Is(err, ErrPermissionDenied):
		return &PermissionError{Err: err}
	default:
		return &TransportError{Op: "open", Err: err}
	}
}

func (m *Manager) pump(epoch uint64, conn Conn) {
	for ev := range conn.Events() {
		m.dispatch(epoch, ev)
	}
}

func (m *Manager) dispatch(epoch uint64, ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch {
		m.logger.Debug().Uint64("epoch", epoch).Str("event", fmt.Sprintf("%T", ev)).Msg("dropping stale event")
		return
	}

	switch e := ev.(type) {
	case Connected:
		m.onConnectedLocked(e)
	case Disconnected:
		m.onDisconnectedLocked(e)
	case Message:
		m.onMessageLocked(e)
	case ProviderError:
		m.logger.Warn().Err(e).Msg("provider reported an error")
		m.status = StatusError
		m.appendLocked(transcript.KindError, "Error: "+e.Message)
	case StatusChange:
		m.onStatusChangeLocked(e)
	case Audio, ModeChange:
		// no transcript effect
	default:
		m.logger.Warn().Str("event", fmt.Sprintf("%T", ev)).Msg("unknown session event")
	}
}

func (m *Manager) onConnectedLocked(e Connected) {
	at := m.attempt
	if at == nil {
		return
	}

	m.status = StatusConnected
	m.conversationID = e.ConversationID

	if at.mode == ModeText {
		m.micMuted = true
		m.outputMuted = true
		if err := m.conn.SetMicMuted(true); err != nil {
			m.logger.Debug().Err(err).Msg("mute microphone for text session")
		}
		if err := m.conn.SetVolume(0); err != nil {
			m.logger.Debug().Err(err).Msg("mute output for text session")
		}
	} else {
		epoch := m.epoch
		time.AfterFunc(m.cfg.SettleDelay, func() { m.settle(epoch) })
	}

	m.resolveLocked(at, nil)
	m.appendLocked(transcript.KindSystem, m.connectedMessage(at.mode))
}

// settle unmutes a voice session once the audio pipeline had time to start.
func (m *Manager) settle(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch || m.conn == nil {
		return
	}

	m.micMuted = false
	m.outputMuted = false
	if err := m.conn.SetMicMuted(false); err != nil {
		m.micMuted = true
		m.logger.Warn().Err(err).Msg("unmute microphone after connect")
	}
	if err := m.conn.SetVolume(1); err != nil {
		m.logger.Warn().Err(err).Msg("unmute output after connect")
	}
	m.notifyLocked()
}

func (m *Manager) onDisconnectedLocked(e Disconnected) {
	conn := m.conn
	m.conn = nil
	m.epoch++
	if conn != nil {
		defer func() { go conn.Close() }()
	}

	// Closed before the acknowledgement: the connect failed, nothing ended.
	if at := m.attempt; at != nil {
		err := &TransportError{
			Op:  "connect",
			Err: fmt.Errorf("session closed before it was established (code %d)", e.Code),
		}
		m.status = StatusError
		if e.Abnormal() {
			m.appendLocked(transcript.KindError, msgAbnormal)
		} else {
			m.appendLocked(transcript.KindError, m.connectFailureMessage(at.mode, err))
		}
		m.status = StatusIdle
		m.resolveLocked(at, err)
		m.notifyLocked()
		m.logger.Warn().Int("code", e.Code).Str("reason", e.Reason).Msg("provider closed the session during connect")
		return
	}

	m.status = StatusDisconnected
	m.micMuted = false
	m.outputMuted = true
	if e.Abnormal() {
		m.appendLocked(transcript.KindError, msgAbnormal)
	} else {
		m.appendLocked(transcript.KindSystem, msgEnded)
	}
	m.logger.Info().Int("code", e.Code).Str("reason", e.Reason).Msg("provider closed the session")
}

func (m *Manager) onMessageLocked(e Message) {
	text := strings.TrimSpace(e.Text)
	if text == "" {
		return
	}
	if e.Role == RoleUser {
		m.appendLocked(transcript.KindUser, text)
		return
	}
	m.appendLocked(transcript.KindAgent, text)
}

func (m *Manager) onStatusChangeLocked(e StatusChange) {
	if m.conn == nil || m.attempt != nil {
		return
	}
	switch e.Value {
	case "speaking":
		m.status = StatusSpeaking
	case "listening", "connected":
		m.status = StatusConnected
	}
	m.notifyLocked()
}

func (m *Manager) appendLocked(kind transcript.Kind, content string) {
	m.store.Append(kind, content)
	m.notifyLocked()
}

func (m *Manager) notifyLocked() {
	for _, ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
