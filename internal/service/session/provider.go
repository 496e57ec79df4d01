package session

import (
	"context"

	"github.com/civaigentics/widget/backend/internal/service/credential"
)

// Options are the controlled properties a session is opened with.
type Options struct {
	MicMuted bool
	// Volume is the agent output volume, 0 (muted) or 1.
	Volume float64
}

// VolumeFor maps the output-muted flag to a provider volume.
func VolumeFor(outputMuted bool) float64 {
	if outputMuted {
		return 0
	}
	return 1
}

// Provider opens realtime sessions with the remote agent.
type Provider interface {
	Open(ctx context.Context, cred credential.Credential, opts Options) (Conn, error)
}

// Conn is one live realtime session. Events is closed after the final
// Disconnected event. SetMicMuted and SetVolume must not block; Close must be
// safe to call more than once.
type Conn interface {
	Events() <-chan Event
	SendUserMessage(ctx context.Context, text string) error
	SetMicMuted(muted bool) error
	SetVolume(volume float64) error
	Close() error
}
