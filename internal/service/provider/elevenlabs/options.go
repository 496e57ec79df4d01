package elevenlabs

import "time"

// Options tune the realtime websocket.
type Options struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	// VoiceCapable reports whether this host can capture audio. Without it,
	// opening or switching to an unmuted microphone is refused.
	VoiceCapable bool
	// EventBuffer is the capacity of a connection's event channel.
	EventBuffer int
}

// DefaultOptions returns the options used by the widget backend.
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 15 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     20 * time.Second,
		EventBuffer:      64,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = d.EventBuffer
	}
	return o
}
