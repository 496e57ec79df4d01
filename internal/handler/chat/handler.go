package chat

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/civaigentics/widget/backend/internal/service/provider/elevenlabs"
	"github.com/civaigentics/widget/backend/pkg/utils"
)

// Relay forwards one text message to the hosted agent.
type Relay interface {
	Configured() bool
	SendText(ctx context.Context, agentID, text string) (elevenlabs.Reply, error)
}

// Handler serves the stateless text relay.
type Handler struct {
	relay     Relay
	agentName string
}

// New creates the relay handler.
func New(relay Relay, agentName string) *Handler {
	return &Handler{relay: relay, agentName: agentName}
}

// RegisterRoutes mounts the relay endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	var payload struct {
		Message string `json:"message"`
		AgentID string `json:"agentId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if h.relay == nil || !h.relay.Configured() {
		logger.Error().Msg("provider API key not configured")
		utils.RespondError(w, http.StatusInternalServerError, "API key not configured")
		return
	}

	if strings.TrimSpace(payload.Message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "Message is required")
		return
	}

	reply, err := h.relay.SendText(r.Context(), payload.AgentID, payload.Message)
	if err != nil {
		var apiErr *elevenlabs.APIError
		if errors.As(err, &apiErr) {
			logger.Warn().Int("status", apiErr.Status).Str("details", apiErr.Message).Msg("provider rejected text message")
			utils.RespondJSON(w, apiErr.Status, map[string]string{
				"error":   "Failed to get response from " + h.agentName,
				"details": apiErr.Message,
			})
			return
		}
		logger.Error().Err(err).Msg("text relay failed")
		utils.RespondJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Internal server error",
			"message": err.Error(),
		})
		return
	}

	utils.RespondJSON(w, http.StatusOK, reply)
}
