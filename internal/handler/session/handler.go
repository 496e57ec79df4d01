package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/civaigentics/widget/backend/internal/service/provider/elevenlabs"
	"github.com/civaigentics/widget/backend/pkg/utils"
)

// SignedURLIssuer obtains a signed realtime URL with the server-held key.
type SignedURLIssuer interface {
	SignedURL(ctx context.Context) (string, error)
}

// Handler issues realtime credentials to widgets.
type Handler struct {
	issuer SignedURLIssuer
}

// New creates the credential handler. A nil issuer answers every request with
// a configuration error.
func New(issuer SignedURLIssuer) *Handler {
	return &Handler{issuer: issuer}
}

// RegisterRoutes mounts the credential endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/get-signed-url", h.handleSignedURL)
}

func (h *Handler) handleSignedURL(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	if h.issuer == nil {
		utils.RespondError(w, http.StatusInternalServerError, "API key not configured")
		return
	}

	signed, err := h.issuer.SignedURL(r.Context())
	if err != nil {
		if errors.Is(err, elevenlabs.ErrNotConfigured) {
			utils.RespondError(w, http.StatusInternalServerError, "API key not configured")
			return
		}
		logger.Error().Err(err).Msg("signed url request failed")
		utils.RespondError(w, http.StatusInternalServerError, "Failed to get signed URL")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	utils.RespondJSON(w, http.StatusOK, map[string]string{"signedUrl": signed})
}
