package feedback

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	feedbackmodel "github.com/civaigentics/widget/backend/internal/model/feedback"
	"github.com/civaigentics/widget/backend/internal/service/sink"
	"github.com/civaigentics/widget/backend/pkg/utils"
)

// RatingStats summarizes stored ratings.
type RatingStats interface {
	Ratings(ctx context.Context) (sink.RatingStats, error)
}

// Handler receives thumbs feedback and star ratings and hands them to the
// sink. Sink failures never reach the visitor.
type Handler struct {
	sink  sink.Sink
	stats RatingStats
}

// New creates the feedback handler. stats may be nil.
func New(s sink.Sink, stats RatingStats) *Handler {
	if s == nil {
		s = sink.Nop{}
	}
	return &Handler{sink: s, stats: stats}
}

// RegisterRoutes mounts the feedback endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/feedback", h.handleFeedback)
	r.Post("/rating", h.handleRating)
	r.Get("/rating/summary", h.handleRatingSummary)
}

func clientOf(r *http.Request) feedbackmodel.Client {
	return feedbackmodel.Client{
		UserAgent: r.Header.Get("User-Agent"),
		IP:        utils.ClientIP(r),
	}
}

func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	var payload struct {
		MessageIndex   *int   `json:"messageIndex"`
		FeedbackType   string `json:"feedbackType"`
		MessageContent string `json:"messageContent"`
		ConversationID string `json:"conversationId"`
		Timestamp      string `json:"timestamp"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.MessageIndex == nil || payload.FeedbackType == "" {
		utils.RespondError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	rec := feedbackmodel.NewFeedbackRecord(feedbackmodel.FeedbackEvent{
		MessageIndex:   *payload.MessageIndex,
		FeedbackType:   feedbackmodel.Mark(payload.FeedbackType),
		MessageContent: payload.MessageContent,
		ConversationID: payload.ConversationID,
		Timestamp:      parseTimestamp(payload.Timestamp),
	}, clientOf(r))

	logger.Info().
		Int("message_index", rec.MessageIndex).
		Str("feedback_type", string(rec.FeedbackType)).
		Str("conversation_id", rec.ConversationID).
		Msg("message feedback received")

	if err := h.sink.RecordFeedback(r.Context(), rec); err != nil {
		logger.Error().Err(err).Msg("failed to record feedback")
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Feedback recorded",
		"data": map[string]any{
			"messageIndex": rec.MessageIndex,
			"feedbackType": rec.FeedbackType,
			"timestamp":    payload.Timestamp,
		},
	})
}

func (h *Handler) handleRating(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	var payload struct {
		Rating         int    `json:"rating"`
		ConversationID string `json:"conversationId"`
		Timestamp      string `json:"timestamp"`
		TotalMessages  int    `json:"totalMessages"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Rating == 0 {
		utils.RespondError(w, http.StatusBadRequest, "Rating is required")
		return
	}
	if payload.Rating < feedbackmodel.MinRating || payload.Rating > feedbackmodel.MaxRating {
		utils.RespondError(w, http.StatusBadRequest, fmt.Sprintf("Rating must be between %d and %d", feedbackmodel.MinRating, feedbackmodel.MaxRating))
		return
	}

	rec := feedbackmodel.NewRatingRecord(feedbackmodel.RatingEvent{
		Rating:         payload.Rating,
		ConversationID: payload.ConversationID,
		Timestamp:      parseTimestamp(payload.Timestamp),
		TotalMessages:  payload.TotalMessages,
	}, clientOf(r))

	logger.Info().
		Int("rating", rec.Rating).
		Str("conversation_id", rec.ConversationID).
		Int("total_messages", rec.TotalMessages).
		Msg("star rating received")

	if err := h.sink.RecordRating(r.Context(), rec); err != nil {
		logger.Error().Err(err).Msg("failed to record rating")
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"rating":         payload.Rating,
		"conversationId": payload.ConversationID,
		"timestamp":      payload.Timestamp,
	})
}

func (h *Handler) handleRatingSummary(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		utils.RespondError(w, http.StatusNotFound, "rating summary unavailable")
		return
	}

	stats, err := h.stats.Ratings(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("rating summary failed")
		utils.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	utils.RespondJSON(w, http.StatusOK, stats)
}
