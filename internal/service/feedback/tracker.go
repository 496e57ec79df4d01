package feedback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	feedbackmodel "github.com/civaigentics/widget/backend/internal/model/feedback"
	"github.com/civaigentics/widget/backend/internal/model/transcript"
	transcriptsvc "github.com/civaigentics/widget/backend/internal/service/transcript"
)

var (
	ErrInvalidMark   = errors.New("feedback type must be positive, negative or none")
	ErrInvalidRating = fmt.Errorf("rating must be between %d and %d", feedbackmodel.MinRating, feedbackmodel.MaxRating)
	ErrUnknownEntry  = errors.New("no transcript entry at that index")
	ErrNotMarkable   = errors.New("only agent replies can be marked")
)

// Reporter delivers feedback events to the relay.
type Reporter interface {
	ReportFeedback(ctx context.Context, ev feedbackmodel.FeedbackEvent) error
	ReportRating(ctx context.Context, ev feedbackmodel.RatingEvent) error
}

// Tracker holds the thumbs marks and star rating of one conversation and
// reports them best-effort. Local state never depends on delivery.
type Tracker struct {
	entries        *transcriptsvc.Store
	conversationID func() string
	reporter       Reporter
	timeout        time.Duration
	logger         zerolog.Logger
	now            func() time.Time

	mu     sync.Mutex
	marks  map[int]feedbackmodel.Mark
	rating int

	wg sync.WaitGroup
}

// NewTracker creates a tracker over entries. conversationID returns the
// provider conversation id, or "" when none is known yet.
func NewTracker(entries *transcriptsvc.Store, conversationID func() string, reporter Reporter, timeout time.Duration, logger zerolog.Logger) *Tracker {
	if conversationID == nil {
		conversationID = func() string { return "" }
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Tracker{
		entries:        entries,
		conversationID: conversationID,
		reporter:       reporter,
		timeout:        timeout,
		logger:         logger.With().Str("component", "feedback").Logger(),
		now:            time.Now,
		marks:          make(map[int]feedbackmodel.Mark),
	}
}

// Mark sets the thumbs value of the agent entry at index; the last call wins.
// MarkNone clears it and is not reported.
func (t *Tracker) Mark(ctx context.Context, index int, mark feedbackmodel.Mark) error {
	if !mark.Valid() {
		return ErrInvalidMark
	}
	entry, ok := t.entries.Get(index)
	if !ok {
		return ErrUnknownEntry
	}
	if entry.Kind != transcript.KindAgent {
		return ErrNotMarkable
	}

	t.mu.Lock()
	if mark == feedbackmodel.MarkNone {
		delete(t.marks, index)
	} else {
		t.marks[index] = mark
	}
	t.mu.Unlock()

	if mark == feedbackmodel.MarkNone {
		return nil
	}

	ev := feedbackmodel.FeedbackEvent{
		MessageIndex:   index,
		FeedbackType:   mark,
		MessageContent: entry.Content,
		ConversationID: t.conversation(),
		Timestamp:      t.now().UTC(),
	}
	t.report(ctx, "feedback", func(ctx context.Context) error {
		return t.reporter.ReportFeedback(ctx, ev)
	})
	return nil
}

// Rate records the overall star rating; the last call wins.
func (t *Tracker) Rate(ctx context.Context, value int) error {
	if value < feedbackmodel.MinRating || value > feedbackmodel.MaxRating {
		return ErrInvalidRating
	}

	t.mu.Lock()
	t.rating = value
	t.mu.Unlock()

	ev := feedbackmodel.RatingEvent{
		Rating:         value,
		ConversationID: t.conversation(),
		Timestamp:      t.now().UTC(),
		TotalMessages:  t.entries.Len(),
	}
	t.report(ctx, "rating", func(ctx context.Context) error {
		return t.reporter.ReportRating(ctx, ev)
	})
	return nil
}

// MarkFor returns the mark of the entry at index.
func (t *Tracker) MarkFor(index int) feedbackmodel.Mark {
	t.mu.Lock()
	defer t.mu.Unlock()
	if mark, ok := t.marks[index]; ok {
		return mark
	}
	return feedbackmodel.MarkNone
}

// Marks returns a copy of every set mark.
func (t *Tracker) Marks() map[int]feedbackmodel.Mark {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int]feedbackmodel.Mark, len(t.marks))
	for i, m := range t.marks {
		out[i] = m
	}
	return out
}

// Rating returns the current star rating, 0 when unrated.
func (t *Tracker) Rating() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rating
}

// Wait blocks until every report in flight has finished.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func (t *Tracker) conversation() string {
	if id := t.conversationID(); id != "" {
		return id
	}
	return fmt.Sprintf("conversation_%d", t.now().UnixMilli())
}

func (t *Tracker) report(ctx context.Context, kind string, send func(context.Context) error) {
	if t.reporter == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()

		if err := send(ctx); err != nil {
			t.logger.Warn().Err(err).Str("kind", kind).Msg("report failed")
			return
		}
		t.logger.Debug().Str("kind", kind).Msg("report delivered")
	}()
}
