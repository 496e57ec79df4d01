package session

// Status is the lifecycle state of the widget's realtime session.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusSpeaking     Status = "speaking"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Mode records which intent opened the session.
type Mode string

const (
	ModeVoice Mode = "voice"
	ModeText  Mode = "text"
)

// State is a read-only snapshot of the session aggregate.
type State struct {
	Status         Status `json:"status"`
	Mode           Mode   `json:"mode,omitempty"`
	Live           bool   `json:"live"`
	MicMuted       bool   `json:"micMuted"`
	OutputMuted    bool   `json:"outputMuted"`
	ConversationID string `json:"conversationId,omitempty"`
}

// AgentActivity is the presentation label for the agent: "talking" while it
// holds the audio floor, "listening" otherwise, empty without a session.
func (s State) AgentActivity() string {
	if !s.Live {
		return ""
	}
	if s.Status == StatusSpeaking {
		return "talking"
	}
	return "listening"
}
