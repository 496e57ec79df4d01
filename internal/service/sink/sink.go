// Package sink delivers feedback and rating records to their destinations.
package sink

import (
	"context"
	"errors"

	"github.com/civaigentics/widget/backend/internal/model/feedback"
)

// Sink records visitor feedback.
type Sink interface {
	RecordFeedback(ctx context.Context, rec feedback.FeedbackRecord) error
	RecordRating(ctx context.Context, rec feedback.RatingRecord) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordFeedback(context.Context, feedback.FeedbackRecord) error { return nil }
func (Nop) RecordRating(context.Context, feedback.RatingRecord) error     { return nil }

// Multi fans a record out to every sink and joins their errors.
type Multi []Sink

func (m Multi) RecordFeedback(ctx context.Context, rec feedback.FeedbackRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.RecordFeedback(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) RecordRating(ctx context.Context, rec feedback.RatingRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.RecordRating(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
