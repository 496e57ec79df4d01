package transcript

import "time"

// Kind classifies a transcript entry.
type Kind string

const (
	KindSystem Kind = "system"
	KindUser   Kind = "user"
	KindAgent  Kind = "agent"
	KindError  Kind = "error"
)

// Entry is one immutable line of the conversation log.
type Entry struct {
	Kind      Kind      `json:"kind"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
