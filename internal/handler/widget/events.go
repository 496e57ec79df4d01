package widget

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	widgetsvc "github.com/civaigentics/widget/backend/internal/service/widget"
	"github.com/civaigentics/widget/backend/pkg/utils"
)

var keepaliveInterval = 15 * time.Second

// eventStream tracks what one SSE client has already been sent.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	inst    *widgetsvc.Instance
	entries int
	embeds  int
}

func (s *eventStream) sendState() error {
	return utils.SendSSEEvent(s.w, s.flusher, "state", s.inst.Snapshot())
}

func (s *eventStream) sendEntries() error {
	for _, view := range entryViews(s.inst, s.entries) {
		if err := utils.SendSSEEvent(s.w, s.flusher, "entry", view); err != nil {
			return err
		}
		s.entries = view.Index + 1
	}
	return nil
}

func (s *eventStream) sendEmbeds() error {
	for _, msg := range s.inst.EmbedsSince(s.embeds) {
		if err := utils.SendSSEEvent(s.w, s.flusher, "embed", msg); err != nil {
			return err
		}
		s.embeds++
	}
	return nil
}

// handleEvents streams state snapshots, transcript entries and embed messages.
// Entries replay from ?since= (default 0); embed messages only cover changes
// made after the stream opened.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request, inst *widgetsvc.Instance) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	since := 0
	if raw := r.URL.Query().Get("since"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			since = v
		}
	}

	ctx := r.Context()
	logger := zerolog.Ctx(ctx).With().Str("widget", inst.ID).Logger()

	sessionCh, cancelSession := inst.Session.Subscribe()
	defer cancelSession()
	entryCh, cancelEntries := inst.Transcript.Subscribe()
	defer cancelEntries()
	viewCh, cancelView := inst.Subscribe()
	defer cancelView()

	stream := &eventStream{
		w:       w,
		flusher: flusher,
		inst:    inst,
		entries: since,
		embeds:  len(inst.EmbedsSince(0)),
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	logger.Debug().Msg("event stream opened")

	if err := stream.sendState(); err != nil {
		return
	}
	if err := stream.sendEntries(); err != nil {
		return
	}

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			logger.Debug().Msg("event stream closed")
			return
		case <-sessionCh:
			err = stream.sendState()
		case <-viewCh:
			if err = stream.sendEmbeds(); err == nil {
				err = stream.sendState()
			}
		case <-entryCh:
			err = stream.sendEntries()
		case <-ticker.C:
			err = utils.SendSSEComment(w, flusher, "keepalive")
		}
		if err != nil {
			logger.Debug().Err(err).Msg("event stream write failed")
			return
		}
	}
}
