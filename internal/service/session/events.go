package session

import "fmt"

// CodeAbnormalClosure is the close code of a connection that dropped without
// a closing handshake.
const CodeAbnormalClosure = 1006

// Event is one inbound notification from the realtime provider. The set of
// implementations is closed; adapters must drop frames they cannot map.
type Event interface {
	event()
}

// Connected acknowledges that the realtime session is established.
type Connected struct {
	ConversationID string
}

// Disconnected reports that the provider connection ended.
type Disconnected struct {
	Code   int
	Reason string
}

// Abnormal reports whether the connection dropped instead of closing cleanly.
func (d Disconnected) Abnormal() bool {
	return d.Code == CodeAbnormalClosure
}

// Role says who produced a conversation message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message carries one finalized utterance of the conversation.
type Message struct {
	Role Role
	Text string
}

// Audio carries agent audio. The session manager ignores it.
type Audio struct {
	Data []byte
}

// ProviderError is an asynchronous error reported by the provider. It does not
// end the session on its own.
type ProviderError struct {
	Message string
}

func (e ProviderError) Error() string {
	return fmt.Sprintf("provider error: %s", e.Message)
}

// StatusChange reports who holds the audio floor: "speaking", "listening" or
// "connected".
type StatusChange struct {
	Value string
}

// ModeChange reports a provider mode switch. It never affects the transcript.
type ModeChange struct {
	Mode string
}

func (Connected) event()     {}
func (Disconnected) event()  {}
func (Message) event()       {}
func (Audio) event()         {}
func (ProviderError) event() {}
func (StatusChange) event()  {}
func (ModeChange) event()    {}
