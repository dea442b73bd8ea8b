// Package triage turns user ratings of closed tickets into a review
// decision: good ratings are accepted through the backend, the rest wait for
// staff.
package triage

import (
	"context"
	"errors"
	"fmt"

	internal "github.com/ZanzyTHEbar/guild-assistant/assistant"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/metrics"

	"github.com/rs/zerolog"
)

// ErrInvalidRating is returned for ratings outside 1..5.
var ErrInvalidRating = errors.New("rating must be between 1 and 5")

// AcceptThreshold is the lowest rating that is accepted automatically.
const AcceptThreshold = 4

// State is the review status of a rated ticket.
type State string

const (
	Submitted          State = "submitted"
	Accepted           State = "accepted"
	PendingStaffReview State = "pending_staff_review"
)

// RatingEvent is one rating submitted for a ticket.
type RatingEvent struct {
	TicketID string
	GuildID  string
	Rating   int
}

// Decision is the outcome of one rating.
type Decision struct {
	TicketID string
	GuildID  string
	State    State
	// Confirmed is true when the backend acknowledged the accept call. An
	// Accepted decision with Confirmed false was not persisted remotely.
	Confirmed bool
	Err       error
}

// Reviewer performs the accept-review action on the backend.
type Reviewer interface {
	AcceptReview(ctx context.Context, ticketID, guildID string) error
}

// Triage applies the rating policy.
type Triage struct {
	reviewer Reviewer
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// Option configures a Triage.
type Option func(*Triage)

// WithMetrics counts decisions.
func WithMetrics(m *metrics.Metrics) Option { return func(t *Triage) { t.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Triage) { t.logger = l.With().Str("component", "triage").Logger() }
}

// New creates a Triage that accepts reviews through reviewer.
func New(reviewer Reviewer, opts ...Option) *Triage {
	t := &Triage{reviewer: reviewer, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Handle decides one rating. Ratings of AcceptThreshold or more call the
// backend exactly once; a failed call is logged and not retried, and the
// decision stays Accepted with Confirmed false. Lower ratings never reach the
// backend.
func (t *Triage) Handle(ctx context.Context, ev RatingEvent) (Decision, error) {
	d := Decision{TicketID: ev.TicketID, GuildID: ev.GuildID, State: Submitted}
	if ev.Rating < 1 || ev.Rating > 5 {
		return d, fmt.Errorf("%w: got %d", ErrInvalidRating, ev.Rating)
	}

	log := t.logger.With().
		Str("ticket_id", ev.TicketID).
		Str("guild_id", ev.GuildID).
		Int("rating", ev.Rating).
		Logger()

	if ev.Rating < AcceptThreshold {
		d.State = PendingStaffReview
		t.metrics.ObserveTriage(string(d.State), false)
		log.Info().Msg("rating left for staff review")
		return d, nil
	}

	d.State = Accepted
	if err := t.reviewer.AcceptReview(ctx, ev.TicketID, ev.GuildID); err != nil {
		d.Err = &internal.TriageFailure{TicketID: ev.TicketID, GuildID: ev.GuildID, Err: err}
		t.metrics.ObserveTriage(string(d.State), false)
		log.Error().Err(d.Err).Msg("accept review not confirmed by backend")
		return d, nil
	}

	d.Confirmed = true
	t.metrics.ObserveTriage(string(d.State), true)
	log.Info().Msg("review accepted")
	return d, nil
}

// Run handles events until events is closed or ctx is done. Events are
// handled one at a time in arrival order. onDecision, when set, receives
// every decision.
func (t *Triage) Run(ctx context.Context, events <-chan RatingEvent, onDecision func(Decision)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			d, err := t.Handle(ctx, ev)
			if err != nil {
				t.logger.Warn().Err(err).Str("ticket_id", ev.TicketID).Msg("rating event dropped")
				continue
			}
			if onDecision != nil {
				onDecision(d)
			}
		}
	}
}
