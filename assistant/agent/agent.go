// Package agent runs the per-message generation cycle: screen the message,
// read the channel's memory, retrieve knowledge, let the model answer
// (calling tools as needed), pace the reply and remember the exchange.
package agent

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	internal "github.com/ZanzyTHEbar/guild-assistant/assistant"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/config"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness"
	ports "github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/ports"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/tools"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/memory"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/metrics"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/pacing"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/safety"

	"github.com/rs/zerolog"
)

// Message is one inbound chat message.
type Message struct {
	ID        string
	ChannelID string
	GuildID   string // empty for direct messages
	AuthorID  string
	IsBot     bool
	Content   string
}

// Transport delivers replies. Failures are logged and never end a cycle.
type Transport interface {
	Send(ctx context.Context, channelID, content string) error
	SendTyping(ctx context.Context, channelID string) error
}

// Generator answers a conversation, possibly through tool calls.
type Generator interface {
	Run(ctx context.Context, req harness.Request) (*harness.Response, error)
}

// Screener classifies inbound text.
type Screener interface {
	Verdict(text string) safety.Verdict
}

// Retriever returns knowledge context for a message. It never fails.
type Retriever interface {
	Augment(ctx context.Context, scope, query string) []string
}

// Pacer holds a reply back while showing the typing indicator.
type Pacer interface {
	SimulateTyping(ctx context.Context, typer pacing.Typer, channelID string, responseLength int, baseSeconds float64) error
}

// Outcome is how a message was handled.
type Outcome string

const (
	Ignored   Outcome = "ignored"
	Moderated Outcome = "moderated"
	Clarified Outcome = "clarified"
	Replied   Outcome = "replied"
	Fallback  Outcome = "fallback"
	Canceled  Outcome = "canceled"
)

// Agent handles inbound messages.
type Agent struct {
	memory    *memory.Store
	gate      Screener
	generator Generator
	transport Transport
	retriever Retriever
	pacer     Pacer
	pacing    float64
	cfg       config.AgentConfig
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithConfig sets the bot identity, system prompt and canned replies.
func WithConfig(cfg config.AgentConfig) Option { return func(a *Agent) { a.cfg = cfg } }

// WithRetriever augments prompts with knowledge.
func WithRetriever(r Retriever) Option { return func(a *Agent) { a.retriever = r } }

// WithPacing delays replies around baseSeconds.
func WithPacing(p Pacer, baseSeconds float64) Option {
	return func(a *Agent) { a.pacer, a.pacing = p, baseSeconds }
}

// WithMetrics records message and cycle counters.
func WithMetrics(m *metrics.Metrics) Option { return func(a *Agent) { a.metrics = m } }

// WithLogger sets the agent logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Agent) { a.logger = l.With().Str("component", "agent").Logger() }
}

// New creates an Agent.
func New(store *memory.Store, gate Screener, generator Generator, transport Transport, opts ...Option) *Agent {
	a := &Agent{
		memory:    store,
		gate:      gate,
		generator: generator,
		transport: transport,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handle runs one cycle for msg. Cycles on the same channel are serialized.
// Only cancellation of ctx is returned as an error; every other failure is
// answered with the fallback reply and leaves memory untouched.
func (a *Agent) Handle(ctx context.Context, msg Message) (Outcome, error) {
	if msg.IsBot || (a.cfg.BotID != "" && msg.AuthorID == a.cfg.BotID) {
		a.metrics.ObserveMessage(string(Ignored))
		return Ignored, nil
	}

	log := a.logger.With().
		Str("channel_id", msg.ChannelID).
		Str("guild_id", msg.GuildID).
		Str("message_id", msg.ID).
		Logger()

	verdict := a.gate.Verdict(msg.Content)
	a.metrics.ObserveMessage(verdict.String())
	switch verdict {
	case safety.Abusive:
		log.Info().Str("author_id", msg.AuthorID).Msg("message rejected by moderation policy")
		a.send(ctx, log, msg.ChannelID, a.cfg.ModerationReply)
		return Moderated, nil
	case safety.Useless:
		a.send(ctx, log, msg.ChannelID, a.cfg.ClarificationReply)
		return Clarified, nil
	}

	release, err := a.memory.Acquire(ctx, msg.ChannelID)
	if err != nil {
		return Canceled, err
	}
	defer release()

	start := time.Now()
	outcome, label, err := a.cycle(ctx, log, msg)
	a.metrics.ObserveCycle(label, time.Since(start))
	return outcome, err
}

// cycle returns the outcome and the metrics label for it.
func (a *Agent) cycle(ctx context.Context, log zerolog.Logger, msg Message) (Outcome, string, error) {
	history := a.memory.GetMessages(msg.ChannelID)
	var seeded []ports.Turn
	if len(history) == 0 && a.cfg.SystemPrompt != "" {
		seeded = []ports.Turn{ports.SystemTurn(a.cfg.SystemPrompt)}
		history = seeded
	}
	userTurn := ports.UserTurn(msg.Content)

	var knowledge []string
	if a.retriever != nil {
		knowledge = a.retriever.Augment(ctx, msg.GuildID, msg.Content)
	}

	runCtx := tools.WithScope(ctx, tools.Scope{GuildID: msg.GuildID, ChannelID: msg.ChannelID, UserID: msg.AuthorID})
	resp, err := a.generator.Run(runCtx, harness.Request{
		ConversationID: msg.ChannelID,
		System:         a.cfg.SystemPrompt,
		History:        append(history, userTurn),
		Context:        knowledge,
	})
	if ctx.Err() != nil {
		return Canceled, string(Canceled), ctx.Err()
	}
	if err != nil || resp.Text == "" {
		a.logFailure(log, err)
		a.send(ctx, log, msg.ChannelID, a.cfg.FallbackReply)
		if errors.Is(err, harness.ErrMaxIterations) {
			return Fallback, "iteration_limit", nil
		}
		return Fallback, string(Fallback), nil
	}

	if a.pacer != nil {
		if err := a.pacer.SimulateTyping(ctx, a.transport, msg.ChannelID, utf8.RuneCountInString(resp.Text), a.pacing); err != nil {
			return Canceled, string(Canceled), err
		}
	}
	a.send(ctx, log, msg.ChannelID, resp.Text)

	for _, turn := range seeded {
		a.memory.AddMessage(msg.ChannelID, turn)
	}
	a.memory.AddMessage(msg.ChannelID, userTurn)
	a.memory.AddMessage(msg.ChannelID, ports.AssistantTurn(resp.Text))

	log.Debug().
		Int("iterations", resp.Iterations).
		Int("tool_calls", len(resp.ToolResults)).
		Int("tokens", resp.TokensUsed).
		Int("context_snippets", len(knowledge)).
		Msg("reply sent")
	return Replied, "ok", nil
}

// Reset forgets the channel's conversation.
func (a *Agent) Reset(channelID string) {
	a.memory.ClearChannel(channelID)
}

func (a *Agent) send(ctx context.Context, log zerolog.Logger, channelID, content string) {
	if content == "" {
		return
	}
	if err := a.transport.Send(ctx, channelID, content); err != nil {
		log.Warn().Err(err).Msg("failed to deliver reply")
	}
}

func (a *Agent) logFailure(log zerolog.Logger, err error) {
	switch {
	case err == nil:
		log.Warn().Msg("model returned an empty reply")
	case errors.Is(err, harness.ErrMaxIterations):
		log.Warn().Err(err).Msg("tool loop did not converge")
	case internal.IsTransport(err):
		log.Error().Err(err).Msg("generation provider unavailable")
	default:
		log.Error().Err(err).Msg("generation cycle failed")
	}
}
