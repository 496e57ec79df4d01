package elevenlabs

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/civaigentics/widget/backend/internal/service/session"
)

// Inbound frame types of the conversational websocket.
const (
	frameInitiationMetadata = "conversation_initiation_metadata"
	frameUserTranscript     = "user_transcript"
	frameAgentResponse      = "agent_response"
	frameAudio              = "audio"
	frameInterruption       = "interruption"
	framePing               = "ping"
	frameError              = "error"
)

type inboundFrame struct {
	Type string `json:"type"`

	InitiationMetadata *struct {
		ConversationID string `json:"conversation_id"`
	} `json:"conversation_initiation_metadata_event,omitempty"`

	UserTranscription *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`

	AgentResponse *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`

	Audio *struct {
		AudioBase64 string `json:"audio_base_64"`
		EventID     int    `json:"event_id"`
	} `json:"audio_event,omitempty"`

	Ping *struct {
		EventID int `json:"event_id"`
		PingMs  int `json:"ping_ms"`
	} `json:"ping_event,omitempty"`

	ErrorEvent *struct {
		Message   string `json:"message"`
		ErrorType string `json:"error_type"`
	} `json:"error_event,omitempty"`
	Message string `json:"message,omitempty"`
}

type initiationFrame struct {
	Type string `json:"type"`
}

type userMessageFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type pongFrame struct {
	Type    string `json:"type"`
	EventID int    `json:"event_id"`
}

// decoded is the result of one inbound frame: the session event, if any, and
// a frame to write back, if any.
type decoded struct {
	event session.Event
	reply any
	audio bool
	// floorToUser is set when the visitor took the audio floor back.
	floorToUser bool
}

func decodeFrame(data []byte) (decoded, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return decoded{}, fmt.Errorf("decode frame: %w", err)
	}

	switch frame.Type {
	case frameInitiationMetadata:
		var id string
		if frame.InitiationMetadata != nil {
			id = frame.InitiationMetadata.ConversationID
		}
		return decoded{event: session.Connected{ConversationID: id}}, nil

	case frameUserTranscript:
		if frame.UserTranscription == nil {
			return decoded{}, nil
		}
		return decoded{
			event:       session.Message{Role: session.RoleUser, Text: frame.UserTranscription.UserTranscript},
			floorToUser: true,
		}, nil

	case frameAgentResponse:
		if frame.AgentResponse == nil {
			return decoded{}, nil
		}
		return decoded{event: session.Message{Role: session.RoleAgent, Text: frame.AgentResponse.AgentResponse}}, nil

	case frameAudio:
		if frame.Audio == nil {
			return decoded{}, nil
		}
		audio, err := base64.StdEncoding.DecodeString(frame.Audio.AudioBase64)
		if err != nil {
			return decoded{}, fmt.Errorf("decode audio chunk %d: %w", frame.Audio.EventID, err)
		}
		return decoded{event: session.Audio{Data: audio}, audio: true}, nil

	case frameInterruption:
		return decoded{floorToUser: true}, nil

	case framePing:
		if frame.Ping == nil {
			return decoded{}, nil
		}
		return decoded{reply: pongFrame{Type: "pong", EventID: frame.Ping.EventID}}, nil

	case frameError:
		msg := strings.TrimSpace(frame.Message)
		if frame.ErrorEvent != nil && strings.TrimSpace(frame.ErrorEvent.Message) != "" {
			msg = strings.TrimSpace(frame.ErrorEvent.Message)
		}
		if msg == "" {
			msg = "unknown provider error"
		}
		return decoded{event: session.ProviderError{Message: msg}}, nil

	default:
		return decoded{}, errUnknownFrame{typ: frame.Type}
	}
}

type errUnknownFrame struct {
	typ string
}

func (e errUnknownFrame) Error() string {
	return fmt.Sprintf("unhandled frame type %q", e.typ)
}
