package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civaigentics/widget/backend/internal/model/feedback"
)

func sampleFeedback() feedback.FeedbackRecord {
	return feedback.FeedbackRecord{
		MessageIndex:   3,
		FeedbackType:   feedback.MarkHelpful,
		MessageContent: "The library opens at 9am.",
		ConversationID: "conv_1",
		Timestamp:      "2026-10-18T09:00:00Z",
		UserAgent:      "test-agent",
		ClientIP:       "203.0.113.7",
	}
}

func sampleRating() feedback.RatingRecord {
	return feedback.RatingRecord{
		Type:           "rating",
		Rating:         4,
		ConversationID: "conv_1",
		Timestamp:      "2026-10-18T09:05:00Z",
		TotalMessages:  6,
		UserAgent:      "test-agent",
		ClientIP:       "203.0.113.7",
	}
}

func TestWebhookPostsJSON(t *testing.T) {
	var got []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = append(got, body)
	}))
	defer srv.Close()

	hook := NewWebhook(srv.URL, nil)
	require.NoError(t, hook.RecordFeedback(context.Background(), sampleFeedback()))
	require.NoError(t, hook.RecordRating(context.Background(), sampleRating()))

	require.Len(t, got, 2)
	assert.Equal(t, "positive", got[0]["feedbackType"])
	assert.Equal(t, float64(3), got[0]["messageIndex"])
	assert.Equal(t, "rating", got[1]["type"])
	assert.Equal(t, float64(4), got[1]["rating"])
}

func TestWebhookWithoutURLIsNoop(t *testing.T) {
	hook := NewWebhook("", nil)
	assert.False(t, hook.Enabled())
	assert.NoError(t, hook.RecordFeedback(context.Background(), sampleFeedback()))
}

func TestWebhookFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, nil).RecordRating(context.Background(), sampleRating())
	assert.ErrorContains(t, err, "502")
}

func TestSQLiteRoundTrip(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "feedback.db"), zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.RecordFeedback(ctx, sampleFeedback()))
	other := sampleFeedback()
	other.ConversationID = "conv_2"
	require.NoError(t, db.RecordFeedback(ctx, other))

	records, err := db.Feedback(ctx, "conv_1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, sampleFeedback(), records[0])

	require.NoError(t, db.RecordRating(ctx, sampleRating()))
	low := sampleRating()
	low.Rating = 2
	require.NoError(t, db.RecordRating(ctx, low))

	stats, err := db.Ratings(ctx)
	require.NoError(t, err)
	assert.Equal(t, RatingStats{Count: 2, Average: 3}, stats)
}

func TestSQLiteEmptyRatings(t *testing.T) {
	db, err := OpenSQLite(":memory:", zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	stats, err := db.Ratings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RatingStats{}, stats)
}

type failingSink struct{ err error }

func (f failingSink) RecordFeedback(context.Context, feedback.FeedbackRecord) error { return f.err }
func (f failingSink) RecordRating(context.Context, feedback.RatingRecord) error     { return f.err }

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	m := Multi{Nop{}, failingSink{err: boom}, Nop{}}

	assert.ErrorIs(t, m.RecordFeedback(context.Background(), sampleFeedback()), boom)
	assert.ErrorIs(t, m.RecordRating(context.Background(), sampleRating()), boom)
	assert.NoError(t, Multi{Nop{}}.RecordRating(context.Background(), sampleRating()))
}
