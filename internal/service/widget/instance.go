package widget

import (
	"sync"
	"time"

	feedbackmodel "github.com/civaigentics/widget/backend/internal/model/feedback"
	"github.com/civaigentics/widget/backend/internal/service/feedback"
	"github.com/civaigentics/widget/backend/internal/service/session"
	transcriptsvc "github.com/civaigentics/widget/backend/internal/service/transcript"
)

// Embed message types posted to the embedding page.
const (
	EmbedExpanded  = "widgetExpanded"
	EmbedCollapsed = "widgetCollapsed"
)

// EmbedMessage is what the widget tells its embedding page.
type EmbedMessage struct {
	Type string `json:"type"`
}

// Snapshot is the full presentation state of a widget.
type Snapshot struct {
	ID            string                     `json:"id"`
	CreatedAt     time.Time                  `json:"createdAt"`
	Session       session.State              `json:"session"`
	AgentActivity string                     `json:"agentActivity,omitempty"`
	Expanded      bool                       `json:"expanded"`
	CopiedIndex   *int                       `json:"copiedIndex,omitempty"`
	Rating        int                        `json:"rating"`
	Marks         map[int]feedbackmodel.Mark `json:"marks"`
	Entries       int                        `json:"entries"`
}

// Instance is one hosted widget: its session, transcript, feedback and the
// display state the embedding page cares about.
type Instance struct {
	ID         string
	CreatedAt  time.Time
	Session    *session.Manager
	Transcript *transcriptsvc.Store
	Feedback   *feedback.Tracker

	copyReset time.Duration

	mu       sync.Mutex
	expanded bool
	copied   int
	copyGen  int
	embeds   []EmbedMessage
	subs     map[int]chan struct{}
	nextSub  int
}

func newInstance(id string, manager *session.Manager, store *transcriptsvc.Store, tracker *feedback.Tracker, copyReset time.Duration) *Instance {
	return &Instance{
		ID:         id,
		CreatedAt:  time.Now().UTC(),
		Session:    manager,
		Transcript: store,
		Feedback:   tracker,
		copyReset:  copyReset,
		copied:     -1,
		subs:       make(map[int]chan struct{}),
	}
}

// SetExpanded opens or closes the widget panel. A change queues one embed
// message; setting the current value does nothing.
func (i *Instance) SetExpanded(expanded bool) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.expanded == expanded {
		return false
	}
	i.expanded = expanded

	msg := EmbedMessage{Type: EmbedCollapsed}
	if expanded {
		msg.Type = EmbedExpanded
	}
	i.embeds = append(i.embeds, msg)
	i.notifyLocked()
	return true
}

// EmbedsSince returns the embed messages queued from index onwards.
func (i *Instance) EmbedsSince(index int) []EmbedMessage {
	i.mu.Lock()
	defer i.mu.Unlock()
	if index < 0 {
		index = 0
	}
	if index >= len(i.embeds) {
		return nil
	}
	return append([]EmbedMessage(nil), i.embeds[index:]...)
}

// Copy flags the entry at index as copied and returns its text. The flag
// clears on its own after the copy reset delay.
func (i *Instance) Copy(index int) (string, error) {
	entry, ok := i.Transcript.Get(index)
	if !ok {
		return "", feedback.ErrUnknownEntry
	}

	i.mu.Lock()
	i.copied = index
	i.copyGen++
	gen := i.copyGen
	i.notifyLocked()
	i.mu.Unlock()

	time.AfterFunc(i.copyReset, func() {
		i.mu.Lock()
		defer i.mu.Unlock()
		if i.copyGen == gen {
			i.copied = -1
			i.notifyLocked()
		}
	})
	return entry.Content, nil
}

// Snapshot returns the current presentation state.
func (i *Instance) Snapshot() Snapshot {
	state := i.Session.State()

	i.mu.Lock()
	snap := Snapshot{
		ID:        i.ID,
		CreatedAt: i.CreatedAt,
		Expanded:  i.expanded,
	}
	if i.copied >= 0 {
		copied := i.copied
		snap.CopiedIndex = &copied
	}
	i.mu.Unlock()

	snap.Session = state
	snap.AgentActivity = state.AgentActivity()
	snap.Rating = i.Feedback.Rating()
	snap.Marks = i.Feedback.Marks()
	snap.Entries = i.Transcript.Len()
	return snap
}

// Subscribe returns a channel signalled after display-state changes.
func (i *Instance) Subscribe() (<-chan struct{}, func()) {
	i.mu.Lock()
	defer i.mu.Unlock()

	id := i.nextSub
	i.nextSub++
	ch := make(chan struct{}, 1)
	i.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			i.mu.Lock()
			delete(i.subs, id)
			i.mu.Unlock()
		})
	}
}

func (i *Instance) notifyLocked() {
	for _, ch := range i.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (i *Instance) close() {
	_ = i.Session.Disconnect()
	i.Feedback.Wait()
}
