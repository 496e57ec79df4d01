package widget

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/civaigentics/widget/backend/internal/analysis/links"
	feedbackmodel "github.com/civaigentics/widget/backend/internal/model/feedback"
	"github.com/civaigentics/widget/backend/internal/model/transcript"
	"github.com/civaigentics/widget/backend/internal/service/credential"
	"github.com/civaigentics/widget/backend/internal/service/feedback"
	"github.com/civaigentics/widget/backend/internal/service/session"
	widgetsvc "github.com/civaigentics/widget/backend/internal/service/widget"
	"github.com/civaigentics/widget/backend/pkg/utils"
)

// EntryView is a transcript entry as the presentation renders it.
type EntryView struct {
	Index int `json:"index"`
	transcript.Entry
	Spans []links.Span       `json:"spans"`
	Mark  feedbackmodel.Mark `json:"mark,omitempty"`
}

// Handler exposes hosted widgets over REST and a Server-Sent Events stream.
type Handler struct {
	host *widgetsvc.Host
}

// New creates the widget handler.
func New(host *widgetsvc.Host) *Handler {
	return &Handler{host: host}
}

// RegisterRoutes mounts the widget API.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/widgets", func(wr chi.Router) {
		wr.Post("/", h.handleCreate)

		wr.Route("/{widgetID}", func(ir chi.Router) {
			ir.Get("/", h.withInstance(h.handleSnapshot))
			ir.Delete("/", h.handleRemove)

			ir.Post("/connect", h.withInstance(h.handleConnect))
			ir.Post("/messages", h.withInstance(h.handleSend))
			ir.Post("/mic", h.withInstance(h.handleToggleMic))
			ir.Post("/output", h.withInstance(h.handleToggleOutput))
			ir.Post("/disconnect", h.withInstance(h.handleDisconnect))
			ir.Post("/expand", h.withInstance(h.handleExpand(true)))
			ir.Post("/collapse", h.withInstance(h.handleExpand(false)))
			ir.Post("/rating", h.withInstance(h.handleRate))

			ir.Get("/transcript", h.withInstance(h.handleTranscript))
			ir.Post("/entries/{index}/mark", h.withInstance(h.handleMark))
			ir.Post("/entries/{index}/copy", h.withInstance(h.handleCopy))

			ir.Get("/events", h.withInstance(h.handleEvents))
		})
	})
}

type instanceHandler func(w http.ResponseWriter, r *http.Request, inst *widgetsvc.Instance)

func (h *Handler) withInstance(next instanceHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inst, err := h.host.Get(chi.URLParam(r, "widgetID"))
		if err != nil {
			utils.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		next(w, r, inst)
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	inst := h.host.Create(r.Context(), feedbackmodel.Client{
		UserAgent: r.Header.Get("User-Agent"),
		IP:        utils.ClientIP(r),
	})
	utils.RespondJSON(w, http.StatusCreated, inst.Snapshot())
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, _ *http.Request, inst *widgetsvc.Instance) {
	utils.RespondJSON(w, http.StatusOK, inst.Snapshot())
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := h.host.Remove(chi.URLParam(r, "widgetID")); err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request, inst *widgetsvc.Instance) {
	// The session outlives the request that opened it.
	ctx := context.WithoutCancel(r.Context())
	if err := inst.Session.Connect(ctx); err != nil {
		respondSessionError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, inst.Snapshot())
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request, inst *widgetsvc.Instance) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := inst.Session.SendText(context.WithoutCancel(r.Context()), payload.Text); err != nil {
		respondSessionError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, inst.Snapshot())
}

func (h *Handler) handleToggleMic(w http.ResponseWriter, _ *http.Request, inst *widgetsvc.Instance) {
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"micMuted": inst.Session.ToggleMic()})
}

func (h *Handler) handleToggleOutput(w http.ResponseWriter, _ *http.Request, inst *widgetsvc.Instance) {
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"outputMuted": inst.Session.ToggleOutput()})
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request, inst *widgetsvc.Instance) {
	if err := inst.Session.Disconnect(); err != nil {
		respondSessionError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, inst.Snapshot())
}

func (h *Handler) handleExpand(expanded bool) instanceHandler {
	return func(w http.ResponseWriter, _ *http.Request, inst *widgetsvc.Instance) {
		changed := inst.SetExpanded(expanded)
		utils.RespondJSON(w, http.StatusOK, map[string]bool{"expanded": expanded, "changed": changed})
	}
}

func (h *Handler) handleRate(w http.ResponseWriter, r *http.Request, inst *widgetsvc.Instance) {
	var payload struct {
		Rating int `json:"rating"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := inst.Feedback.Rate(r.Context(), payload.Rating); err != nil {
		respondFeedbackError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]int{"rating": inst.Feedback.Rating()})
}

func (h *Handler) handleMark(w http.ResponseWriter, r *http.Request, inst *widgetsvc.Instance) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "index must be an integer")
		return
	}

	var payload struct {
		FeedbackType string `json:"feedbackType"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	mark := feedbackmodel.Mark(payload.FeedbackType)
	if payload.FeedbackType == "" {
		mark = feedbackmodel.MarkNone
	}

	if err := inst.Feedback.Mark(r.Context(), index, mark); err != nil {
		respondFeedbackError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"index": index, "mark": inst.Feedback.MarkFor(index)})
}

func (h *Handler) handleCopy(w http.ResponseWriter, r *http.Request, inst *widgetsvc.Instance) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	text, err := inst.Copy(index)
	if err != nil {
		respondFeedbackError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"index": index, "text": text})
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request, inst *widgetsvc.Instance) {
	since := 0
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			utils.RespondError(w, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = v
	}
	utils.RespondJSON(w, http.StatusOK, entryViews(inst, since))
}

func entryViews(inst *widgetsvc.Instance, since int) []EntryView {
	entries := inst.Transcript.Since(since)
	views := make([]EntryView, 0, len(entries))
	for offset, entry := range entries {
		index := since + offset
		view := EntryView{
			Index: index,
			Entry: entry,
			Spans: links.Format(entry.Content),
		}
		if mark := inst.Feedback.MarkFor(index); mark != feedbackmodel.MarkNone {
			view.Mark = mark
		}
		views = append(views, view)
	}
	return views
}

func respondSessionError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		permErr      *session.PermissionError
		authErr      *credential.AuthError
		transportErr *session.TransportError
	)

	switch {
	case errors.Is(err, session.ErrEmptyMessage):
		utils.RespondError(w, http.StatusBadRequest, "Message is required")
	case errors.Is(err, session.ErrSessionActive), errors.Is(err, session.ErrConnectAborted):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &permErr):
		utils.RespondError(w, http.StatusForbidden, permErr.Error())
	case errors.As(err, &authErr):
		utils.RespondError(w, http.StatusBadGateway, authErr.Message)
	case errors.As(err, &transportErr):
		utils.RespondError(w, http.StatusBadGateway, transportErr.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("widget session operation failed")
		utils.RespondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func respondFeedbackError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, feedback.ErrUnknownEntry):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, feedback.ErrInvalidMark), errors.Is(err, feedback.ErrInvalidRating):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, feedback.ErrNotMarkable):
		utils.RespondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
