package feedback

import "time"

// Mark is the thumbs value recorded for a single transcript entry.
type Mark string

const (
	MarkNone      Mark = "none"
	MarkHelpful   Mark = "positive"
	MarkUnhelpful Mark = "negative"
)

// Valid reports whether m is one of the known marks.
func (m Mark) Valid() bool {
	switch m {
	case MarkNone, MarkHelpful, MarkUnhelpful:
		return true
	default:
		return false
	}
}

const (
	MinRating = 1
	MaxRating = 5
)

// FeedbackEvent is what the widget reports when an entry is marked.
type FeedbackEvent struct {
	MessageIndex   int       `json:"messageIndex"`
	FeedbackType   Mark      `json:"feedbackType"`
	MessageContent string    `json:"messageContent"`
	ConversationID string    `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp"`
}

// RatingEvent is what the widget reports when the conversation is rated.
type RatingEvent struct {
	Rating         int       `json:"rating"`
	ConversationID string    `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp"`
	TotalMessages  int       `json:"totalMessages"`
}

// Client identifies the visitor behind a report.
type Client struct {
	UserAgent string
	IP        string
}

// FeedbackRecord is a feedback event as delivered to the sink.
type FeedbackRecord struct {
	MessageIndex   int    `json:"messageIndex"`
	FeedbackType   Mark   `json:"feedbackType"`
	MessageContent string `json:"messageContent"`
	ConversationID string `json:"conversationId"`
	Timestamp      string `json:"timestamp"`
	UserAgent      string `json:"userAgent"`
	ClientIP       string `json:"clientIp"`
}

// RatingRecord is a rating event as delivered to the sink.
type RatingRecord struct {
	Type           string `json:"type"`
	Rating         int    `json:"rating"`
	ConversationID string `json:"conversationId"`
	Timestamp      string `json:"timestamp"`
	TotalMessages  int    `json:"totalMessages"`
	UserAgent      string `json:"userAgent"`
	ClientIP       string `json:"clientIp"`
}

// NewFeedbackRecord fills the sink defaults used when fields are missing.
func NewFeedbackRecord(ev FeedbackEvent, client Client) FeedbackRecord {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	conversationID := ev.ConversationID
	if conversationID == "" {
		conversationID = "unknown"
	}
	return FeedbackRecord{
		MessageIndex:   ev.MessageIndex,
		FeedbackType:   ev.FeedbackType,
		MessageContent: ev.MessageContent,
		ConversationID: conversationID,
		Timestamp:      ts.UTC().Format(time.RFC3339Nano),
		UserAgent:      orUnknown(client.UserAgent),
		ClientIP:       orUnknown(client.IP),
	}
}

// NewRatingRecord fills the sink defaults used when fields are missing.
func NewRatingRecord(ev RatingEvent, client Client) RatingRecord {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return RatingRecord{
		Type:           "rating",
		Rating:         ev.Rating,
		ConversationID: ev.ConversationID,
		Timestamp:      ts.UTC().Format(time.RFC3339Nano),
		TotalMessages:  ev.TotalMessages,
		UserAgent:      orUnknown(client.UserAgent),
		ClientIP:       orUnknown(client.IP),
	}
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
