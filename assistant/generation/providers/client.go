package providers

import (
	"context"
	"errors"
	"time"

	internal "github.com/ZanzyTHEbar/guild-assistant/assistant"
	ports "github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/ports"

	"github.com/rs/zerolog"
)

// Client implements Provider on top of a Backend.
type Client struct {
	name           string
	model          string
	embeddingModel string
	backend        Backend
	defaults       Options
	timeout        time.Duration
	logger         zerolog.Logger
}

var (
	_ Provider           = (*Client)(nil)
	_ ports.ChatProvider = (*Client)(nil)
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDefaults sets the sampling defaults used when a call passes zero Options.
func WithDefaults(opts Options) ClientOption {
	return func(c *Client) { c.defaults = opts }
}

// WithTimeout bounds every backend call.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithEmbeddingModel sets the model reported by GenerateEmbedding.
func WithEmbeddingModel(model string) ClientOption {
	return func(c *Client) { c.embeddingModel = model }
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient wraps backend as a Provider named name.
func NewClient(name, model string, backend Backend, opts ...ClientOption) *Client {
	c := &Client{
		name:    name,
		model:   model,
		backend: backend,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.embeddingModel == "" {
		c.embeddingModel = model
	}
	c.logger = c.logger.With().Str("provider", name).Str("model", model).Logger()
	return c
}

// Name returns the canonical provider name.
func (c *Client) Name() string { return c.name }

// Model returns the generation model id.
func (c *Client) Model() string { return c.model }

// GenerateText produces a reply to turns under systemPrompt.
func (c *Client) GenerateText(ctx context.Context, systemPrompt string, turns []ports.Turn, opts Options) (TextResult, error) {
	req := c.request(systemPrompt, turns, opts)
	out, err := c.complete(ctx, "generate_text", req)
	if err != nil {
		return TextResult{}, err
	}
	return TextResult{Content: out.Content, Model: c.model, TokensUsed: out.TokensUsed}, nil
}

// Chat runs one round trip with tools available to the model.
func (c *Client) Chat(ctx context.Context, turns []ports.Turn, tools []ports.ToolSpec) (ChatResult, error) {
	req := c.request("", turns, Options{})
	req.Tools = tools
	out, err := c.complete(ctx, "chat", req)
	if err != nil {
		return ChatResult{}, err
	}
	return ChatResult{Content: out.Content, ToolCalls: out.ToolCalls, TokensUsed: out.TokensUsed}, nil
}

// GenerateEmbedding embeds text.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) (EmbeddingResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	vec, err := c.backend.Embed(ctx, text)
	if err != nil {
		return EmbeddingResult{}, c.wrap("embed", err)
	}
	return EmbeddingResult{Embedding: vec, Model: c.embeddingModel}, nil
}

func (c *Client) request(system string, turns []ports.Turn, opts Options) Request {
	req := Request{
		System:      system,
		Turns:       turns,
		Temperature: c.defaults.Temperature,
		MaxTokens:   c.defaults.MaxTokens,
	}
	if opts.Temperature != 0 {
		req.Temperature = opts.Temperature
	}
	if opts.MaxTokens != 0 {
		req.MaxTokens = opts.MaxTokens
	}
	return req
}

func (c *Client) complete(ctx context.Context, op string, req Request) (Completion, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	out, err := c.backend.Complete(ctx, req)
	if err != nil {
		c.logger.Warn().Err(err).Str("op", op).Dur("duration", time.Since(start)).Msg("provider call failed")
		return Completion{}, c.wrap(op, err)
	}
	c.logger.Debug().
		Str("op", op).
		Int("tool_calls", len(out.ToolCalls)).
		Int("tokens", out.TokensUsed).
		Dur("duration", time.Since(start)).
		Msg("provider call complete")
	return out, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// wrap marks backend failures as transport errors. Missing capabilities pass
// through unchanged.
func (c *Client) wrap(op string, err error) error {
	if errors.Is(err, ErrUnsupported) {
		return err
	}
	return &internal.TransportError{Provider: c.name, Op: op, Err: err}
}
