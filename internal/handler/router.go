package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/civaigentics/widget/backend/internal/handler/agent"
	"github.com/civaigentics/widget/backend/internal/handler/chat"
	"github.com/civaigentics/widget/backend/internal/handler/feedback"
	"github.com/civaigentics/widget/backend/internal/handler/session"
	"github.com/civaigentics/widget/backend/internal/handler/widget"
	middlewarePkg "github.com/civaigentics/widget/backend/internal/middleware"
	agentModel "github.com/civaigentics/widget/backend/internal/model/agent"
	"github.com/civaigentics/widget/backend/internal/service/provider/elevenlabs"
	"github.com/civaigentics/widget/backend/internal/service/sink"
	widgetService "github.com/civaigentics/widget/backend/internal/service/widget"
	"github.com/civaigentics/widget/backend/pkg/utils"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Provider  *elevenlabs.Client
	Sink      sink.Sink
	Stats     feedback.RatingStats
	Agents    agentModel.Store
	Widgets   *widgetService.Host
	AgentName string
	Logger    zerolog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			payload := map[string]any{
				"status":             "ok",
				"providerConfigured": deps.Provider != nil && deps.Provider.Configured(),
			}
			if deps.Widgets != nil {
				payload["widgets"] = deps.Widgets.Len()
			}
			utils.RespondJSON(w, http.StatusOK, payload)
		})

		if deps.Provider != nil {
			session.New(deps.Provider).RegisterRoutes(api)
			chat.New(deps.Provider, deps.AgentName).RegisterRoutes(api)
		}

		feedback.New(deps.Sink, deps.Stats).RegisterRoutes(api)

		if deps.Agents != nil {
			agent.New(deps.Agents).RegisterRoutes(api)
		}
		if deps.Widgets != nil {
			widget.New(deps.Widgets).RegisterRoutes(api)
		}
	})

	return r
}
