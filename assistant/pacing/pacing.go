// Package pacing computes human-like reply delays and drives the typing
// indicator while a reply is held back.
package pacing

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// Variation is the fraction of the base delay that is randomized.
	Variation = 0.3
	// PerCharacter is the simulated typing time per response character.
	PerCharacter = 50 * time.Millisecond
	// MaxTyping caps the simulated typing time.
	MaxTyping = 5 * time.Second
	// TypingRefresh is how long a typing indicator stays visible on the
	// chat platform; longer delays re-send it once.
	TypingRefresh = 8 * time.Second
)

// Typer shows a typing indicator in a channel.
type Typer interface {
	SendTyping(ctx context.Context, channelID string) error
}

// Pacer produces randomized delays. It is safe for concurrent use.
type Pacer struct {
	mu     sync.Mutex
	rng    *rand.Rand
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option configures a Pacer.
type Option func(*Pacer)

// WithSeed makes the random source deterministic.
func WithSeed(seed uint64) Option {
	return func(p *Pacer) { p.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithLogger sets the logger used for typing failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pacer) { p.logger = logger.With().Str("component", "pacing").Logger() }
}

// New creates a Pacer seeded from the runtime.
func New(opts ...Option) *Pacer {
	p := &Pacer{
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger: zerolog.Nop(),
		sleep:  sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NaturalDelay returns the base delay jittered by ±30% plus typing time of
// 50ms per character capped at 5s, floored to whole milliseconds.
func (p *Pacer) NaturalDelay(baseSeconds float64, responseLength int) time.Duration {
	variation := baseSeconds * Variation

	p.mu.Lock()
	jitter := (p.rng.Float64()*2 - 1) * variation
	p.mu.Unlock()

	base := baseSeconds + jitter
	typing := min(time.Duration(max(responseLength, 0))*PerCharacter, MaxTyping)

	ms := math.Floor(base*1000 + float64(typing.Milliseconds()))
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

// SimulateTyping shows the typing indicator and waits the natural delay for
// a response of responseLength characters. Typing failures are logged and
// ignored. Delays past TypingRefresh re-send the indicator once. It returns
// ctx.Err() if ctx ends first.
func (p *Pacer) SimulateTyping(ctx context.Context, typer Typer, channelID string, responseLength int, baseSeconds float64) error {
	delay := p.NaturalDelay(baseSeconds, responseLength)
	p.sendTyping(ctx, typer, channelID)

	if delay <= TypingRefresh {
		return p.sleep(ctx, delay)
	}

	if err := p.sleep(ctx, TypingRefresh); err != nil {
		return err
	}
	p.sendTyping(ctx, typer, channelID)
	return p.sleep(ctx, delay-TypingRefresh)
}

func (p *Pacer) sendTyping(ctx context.Context, typer Typer, channelID string) {
	if typer == nil {
		return
	}
	if err := typer.SendTyping(ctx, channelID); err != nil {
		p.logger.Debug().Err(err).Str("channel_id", channelID).Msg("typing indicator failed")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
