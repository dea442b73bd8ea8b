package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZanzyTHEbar/guild-assistant/assistant/triage"

	"github.com/spf13/cobra"
)

type ratingLine struct {
	TicketID string `json:"ticket_id"`
	GuildID  string `json:"guild_id"`
	Rating   int    `json:"rating"`
}

func runTriage(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	a.serveMetrics(ctx)

	t := triage.New(a.bridge(), triage.WithMetrics(a.metrics), triage.WithLogger(a.logger))
	out := cmd.OutOrStdout()
	report := func(d triage.Decision) {
		fmt.Fprintf(out, "ticket %s: %s (confirmed=%t)\n", d.TicketID, d.State, d.Confirmed)
	}

	if cmd.Flags().Changed("rating") {
		d, err := t.Handle(ctx, triage.RatingEvent{TicketID: triageTicket, GuildID: triageGuild, Rating: triageRating})
		if err != nil {
			return err
		}
		report(d)
		if d.Err != nil {
			return d.Err
		}
		return nil
	}

	events := make(chan triage.RatingEvent)
	go readRatings(ctx, cmd.InOrStdin(), events, func(err error) {
		a.logger.Warn().Err(err).Msg("skipping malformed rating line")
	})
	if err := t.Run(ctx, events, report); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// readRatings decodes one rating per line into events and closes it at the
// end of input or when ctx is done.
func readRatings(ctx context.Context, in io.Reader, events chan<- triage.RatingEvent, onError func(error)) {
	defer close(events)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var line ratingLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			onError(err)
			continue
		}
		select {
		case events <- triage.RatingEvent{TicketID: line.TicketID, GuildID: line.GuildID, Rating: line.Rating}:
		case <-ctx.Done():
			return
		}
	}
}
