package widget

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	feedbackmodel "github.com/civaigentics/widget/backend/internal/model/feedback"
	"github.com/civaigentics/widget/backend/internal/service/credential"
	"github.com/civaigentics/widget/backend/internal/service/feedback"
	"github.com/civaigentics/widget/backend/internal/service/session"
	"github.com/civaigentics/widget/backend/internal/service/sink"
	transcriptsvc "github.com/civaigentics/widget/backend/internal/service/transcript"
)

var ErrWidgetNotFound = errors.New("widget not found")

// Deps are the collaborators shared by every hosted widget.
type Deps struct {
	Fetcher  credential.Fetcher
	Provider session.Provider
	Sink     sink.Sink
	Session  session.Config

	ReportTimeout time.Duration
	// CopyReset is how long a copied entry stays flagged. Defaults to 2s.
	CopyReset time.Duration
}

// Host keeps the server-side widget instances, one per embedding page.
type Host struct {
	deps   Deps
	logger zerolog.Logger

	mu      sync.RWMutex
	widgets map[string]*Instance
}

// NewHost creates an empty host.
func NewHost(deps Deps, logger zerolog.Logger) *Host {
	if deps.Sink == nil {
		deps.Sink = sink.Nop{}
	}
	if deps.CopyReset <= 0 {
		deps.CopyReset = 2 * time.Second
	}
	return &Host{
		deps:    deps,
		logger:  logger.With().Str("component", "widget").Logger(),
		widgets: make(map[string]*Instance),
	}
}

// Create provisions a widget for the visitor described by client.
func (h *Host) Create(_ context.Context, client feedbackmodel.Client) *Instance {
	id := uuid.NewString()
	logger := h.logger.With().Str("widget", id).Logger()

	store := transcriptsvc.NewStore()
	manager := session.NewManager(h.deps.Fetcher, h.deps.Provider, store, h.deps.Session, logger)
	tracker := feedback.NewTracker(
		store,
		func() string { return manager.State().ConversationID },
		feedback.SinkReporter{Sink: h.deps.Sink, Client: client},
		h.deps.ReportTimeout,
		logger,
	)

	inst := newInstance(id, manager, store, tracker, h.deps.CopyReset)

	h.mu.Lock()
	h.widgets[id] = inst
	h.mu.Unlock()

	logger.Info().Msg("widget created")
	return inst
}

// Get returns the widget with id.
func (h *Host) Get(id string) (*Instance, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	inst, ok := h.widgets[id]
	if !ok {
		return nil, ErrWidgetNotFound
	}
	return inst, nil
}

// Remove ends the widget's session and forgets it.
func (h *Host) Remove(id string) error {
	h.mu.Lock()
	inst, ok := h.widgets[id]
	delete(h.widgets, id)
	h.mu.Unlock()

	if !ok {
		return ErrWidgetNotFound
	}
	inst.close()
	return nil
}

// Len returns the number of hosted widgets.
func (h *Host) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.widgets)
}

// Shutdown ends every session and waits for pending feedback reports.
func (h *Host) Shutdown() {
	h.mu.Lock()
	widgets := h.widgets
	h.widgets = make(map[string]*Instance)
	h.mu.Unlock()

	for _, inst := range widgets {
		inst.close()
	}
	h.logger.Info().Int("widgets", len(widgets)).Msg("widget host stopped")
}
