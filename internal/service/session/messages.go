package session

import (
	"errors"
	"fmt"

	"github.com/civaigentics/widget/backend/internal/service/credential"
)

const (
	msgConnectedText   = "Connected! Microphone and audio are muted. Type to chat."
	msgEnded           = "Conversation ended"
	msgAbnormal        = "Connection failed. Please check your internet connection and try again."
	msgMicMuted        = "Microphone muted"
	msgMicUnmuted      = "Microphone unmuted - you can now speak"
	msgPermissionVoice = "Microphone permission denied. To use voice chat, please allow microphone access. You can still use text chat by typing a message."
)

func (m *Manager) connectingMessage(mode Mode) string {
	if mode == ModeVoice {
		return fmt.Sprintf("Connecting to %s with voice...", m.cfg.AgentName)
	}
	return fmt.Sprintf("Connecting to %s...", m.cfg.AgentName)
}

func (m *Manager) connectedMessage(mode Mode) string {
	if mode == ModeVoice {
		return fmt.Sprintf("Voice chat connected. You can speak and hear %s.", m.cfg.AgentName)
	}
	return msgConnectedText
}

func (m *Manager) outputMessage(muted bool) string {
	if muted {
		return fmt.Sprintf("%s muted", m.cfg.AgentName)
	}
	return fmt.Sprintf("%s unmuted - you can now hear responses", m.cfg.AgentName)
}

func (m *Manager) permissionMessage(mode Mode) string {
	if mode == ModeVoice {
		return msgPermissionVoice
	}
	return fmt.Sprintf("Microphone access is required to use %s (even for text chat). Please allow access, or start a voice call to try again.", m.cfg.AgentName)
}

func (m *Manager) connectFailureMessage(mode Mode, err error) string {
	if errors.Is(err, ErrPermissionDenied) {
		return m.permissionMessage(mode)
	}

	var authErr *credential.AuthError
	if errors.As(err, &authErr) {
		return "Failed to connect: " + authErr.Message
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return "Failed to connect: " + transportErr.Err.Error()
	}
	return "Failed to connect: " + err.Error()
}
