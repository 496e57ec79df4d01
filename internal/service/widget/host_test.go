package widget

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	feedbackmodel "github.com/civaigentics/widget/backend/internal/model/feedback"
	"github.com/civaigentics/widget/backend/internal/model/transcript"
	"github.com/civaigentics/widget/backend/internal/service/credential"
	"github.com/civaigentics/widget/backend/internal/service/feedback"
	"github.com/civaigentics/widget/backend/internal/service/session"
)

type stubConn struct {
	events chan session.Event
	once   sync.Once
}

func (c *stubConn) Events() <-chan session.Event                  { return c.events }
func (c *stubConn) SendUserMessage(context.Context, string) error { return nil }
func (c *stubConn) SetMicMuted(bool) error                        { return nil }
func (c *stubConn) SetVolume(float64) error                       { return nil }
func (c *stubConn) Close() error                                  { c.once.Do(func() { close(c.events) }); return nil }

type stubProvider struct{}

func (stubProvider) Open(context.Context, credential.Credential, session.Options) (session.Conn, error) {
	conn := &stubConn{events: make(chan session.Event, 4)}
	conn.events <- session.Connected{ConversationID: "conv_host"}
	return conn, nil
}

type memorySink struct {
	mu       sync.Mutex
	feedback []feedbackmodel.FeedbackRecord
	ratings  []feedbackmodel.RatingRecord
}

func (s *memorySink) RecordFeedback(_ context.Context, rec feedbackmodel.FeedbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = append(s.feedback, rec)
	return nil
}

func (s *memorySink) RecordRating(_ context.Context, rec feedbackmodel.RatingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratings = append(s.ratings, rec)
	return nil
}

func newTestHost(sink *memorySink) *Host {
	return NewHost(Deps{
		Fetcher: credential.FetcherFunc(func(context.Context) (credential.Credential, error) {
			return credential.Credential{SignedURL: "wss://provider.test"}, nil
		}),
		Provider:  stubProvider{},
		Sink:      sink,
		Session:   session.Config{AgentName: "Jacky", SettleDelay: time.Millisecond},
		CopyReset: 30 * time.Millisecond,
	}, zerolog.Nop())
}

func TestHostLifecycle(t *testing.T) {
	host := newTestHost(&memorySink{})
	inst := host.Create(context.Background(), feedbackmodel.Client{})

	got, err := host.Get(inst.ID)
	require.NoError(t, err)
	assert.Same(t, inst, got)
	assert.Equal(t, 1, host.Len())

	require.NoError(t, inst.Session.SendText(context.Background(), "hello"))
	require.NoError(t, host.Remove(inst.ID))

	assert.Equal(t, session.StatusDisconnected, inst.Session.State().Status)
	_, err = host.Get(inst.ID)
	assert.ErrorIs(t, err, ErrWidgetNotFound)
	assert.ErrorIs(t, host.Remove(inst.ID), ErrWidgetNotFound)
}

func TestFeedbackReachesSinkWithClient(t *testing.T) {
	sink := &memorySink{}
	host := newTestHost(sink)
	inst := host.Create(context.Background(), feedbackmodel.Client{UserAgent: "embed-test", IP: "198.51.100.4"})

	require.NoError(t, inst.Session.Connect(context.Background()))
	idx := inst.Transcript.Append(transcript.KindAgent, "City hall is open 8 to 5.")

	require.NoError(t, inst.Feedback.Mark(context.Background(), idx, feedbackmodel.MarkHelpful))
	require.NoError(t, inst.Feedback.Rate(context.Background(), 5))
	host.Shutdown()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.feedback, 1)
	assert.Equal(t, "conv_host", sink.feedback[0].ConversationID)
	assert.Equal(t, "embed-test", sink.feedback[0].UserAgent)
	assert.Equal(t, "198.51.100.4", sink.feedback[0].ClientIP)
	require.Len(t, sink.ratings, 1)
	assert.Equal(t, 5, sink.ratings[0].Rating)
	assert.Zero(t, host.Len())
}

func TestExpandQueuesEmbedMessagesOnChange(t *testing.T) {
	inst := newTestHost(&memorySink{}).Create(context.Background(), feedbackmodel.Client{})

	assert.True(t, inst.SetExpanded(true))
	assert.False(t, inst.SetExpanded(true))
	assert.True(t, inst.SetExpanded(false))

	assert.Equal(t, []EmbedMessage{{Type: EmbedExpanded}, {Type: EmbedCollapsed}}, inst.EmbedsSince(0))
	assert.Equal(t, []EmbedMessage{{Type: EmbedCollapsed}}, inst.EmbedsSince(1))
	assert.Nil(t, inst.EmbedsSince(2))
	assert.False(t, inst.Snapshot().Expanded)
}

func TestCopyStateClears(t *testing.T) {
	inst := newTestHost(&memorySink{}).Create(context.Background(), feedbackmodel.Client{})
	idx := inst.Transcript.Append(transcript.KindAgent, "Call 311 for potholes.")

	_, err := inst.Copy(42)
	assert.ErrorIs(t, err, feedback.ErrUnknownEntry)

	text, err := inst.Copy(idx)
	require.NoError(t, err)
	assert.Equal(t, "Call 311 for potholes.", text)

	snap := inst.Snapshot()
	require.NotNil(t, snap.CopiedIndex)
	assert.Equal(t, idx, *snap.CopiedIndex)

	require.Eventually(t, func() bool {
		return inst.Snapshot().CopiedIndex == nil
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribeSignalsDisplayChanges(t *testing.T) {
	inst := newTestHost(&memorySink{}).Create(context.Background(), feedbackmodel.Client{})
	ch, cancel := inst.Subscribe()
	defer cancel()

	inst.SetExpanded(true)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a display change signal")
	}
}
