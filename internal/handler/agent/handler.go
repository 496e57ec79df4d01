package agent

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/civaigentics/widget/backend/internal/model/agent"
	"github.com/civaigentics/widget/backend/pkg/utils"
)

// Handler exposes the agent identity shown in the widget header.
type Handler struct {
	profiles agent.Store
}

// New creates the agent handler.
func New(profiles agent.Store) *Handler {
	return &Handler{profiles: profiles}
}

// RegisterRoutes mounts the agent endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/agent", h.handleDefault)
	r.Get("/agent/{agentID}", h.handleByID)
}

func (h *Handler) handleDefault(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.profiles.Default())
}

func (h *Handler) handleByID(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.profiles.FindByID(chi.URLParam(r, "agentID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "agent not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, profile)
}
