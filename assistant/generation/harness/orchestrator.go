// Package harness runs the bounded tool-calling loop of one generation cycle:
// chat with the provider, dispatch requested tools, feed their results back,
// and stop at a final answer or the iteration limit.
package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	ports "github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/ports"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// ErrMaxIterations is returned when the model keeps requesting tools past
// the policy's iteration limit.
var ErrMaxIterations = errors.New("max iterations exceeded")

const (
	DefaultMaxIterations   = 5
	MaxIterationsCeiling   = 20
	DefaultToolTimeout     = 30 * time.Second
	DefaultToolConcurrency = 4
)

// Policy controls orchestration behavior.
type Policy struct {
	MaxIterations   int           // chat round trips per cycle, tool rounds included
	ToolTimeout     time.Duration // per-tool timeout
	ToolConcurrency int           // tools of one round run in parallel up to this bound
}

// DefaultPolicy returns the defaults used when no policy is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxIterations:   DefaultMaxIterations,
		ToolTimeout:     DefaultToolTimeout,
		ToolConcurrency: DefaultToolConcurrency,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxIterations < 1 {
		p.MaxIterations = 1
	}
	if p.MaxIterations > MaxIterationsCeiling {
		p.MaxIterations = MaxIterationsCeiling
	}
	if p.ToolTimeout <= 0 {
		p.ToolTimeout = DefaultToolTimeout
	}
	if p.ToolConcurrency < 1 {
		p.ToolConcurrency = 1
	}
	return p
}

// Request configures one orchestration run.
type Request struct {
	ConversationID string
	System         string       // prepended unless History opens with a system turn
	History        []ports.Turn // prior turns plus the new user turn, oldest first
	Context        []string     // retrieved snippets
	Policy         *Policy      // nil uses the orchestrator policy
}

// Response is the final output of a run.
type Response struct {
	Text        string
	Turns       []ports.Turn // turns produced by this run, final assistant turn last
	ToolResults []ports.ToolResult
	Iterations  int
	TokensUsed  int
}

// Orchestrator coordinates the tool-calling loop.
type Orchestrator struct {
	provider     ports.ChatProvider
	providerName string
	tools        *Registry
	guardrails   *Guardrails
	builder      *PromptBuilder
	parser       *OutputParser
	limiter      ports.RateLimiter
	tracer       ports.Tracer
	policy       Policy
	metrics      *metrics.Metrics
	logger       zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithGuardrails validates every tool call before dispatch.
func WithGuardrails(g *Guardrails) Option { return func(o *Orchestrator) { o.guardrails = g } }

// WithRateLimiter throttles provider and tool calls.
func WithRateLimiter(l ports.RateLimiter) Option { return func(o *Orchestrator) { o.limiter = l } }

// WithTracer records spans for each run, provider call and tool call.
func WithTracer(t ports.Tracer) Option { return func(o *Orchestrator) { o.tracer = t } }

// WithPolicy replaces the default policy.
func WithPolicy(p Policy) Option { return func(o *Orchestrator) { o.policy = p.normalized() } }

// WithMetrics records call counters.
func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithLogger sets the orchestrator logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l.With().Str("component", "harness").Logger() }
}

// NewOrchestrator creates an orchestrator driving provider with tools.
func NewOrchestrator(provider ports.ChatProvider, providerName string, tools *Registry, opts ...Option) *Orchestrator {
	if tools == nil {
		tools = NewRegistry()
	}
	o := &Orchestrator{
		provider:     provider,
		providerName: providerName,
		tools:        tools,
		builder:      NewPromptBuilder(),
		parser:       NewOutputParser(),
		limiter:      noOpRateLimiter{},
		tracer:       noOpTracer{},
		policy:       DefaultPolicy(),
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Tools returns the tool registry.
func (o *Orchestrator) Tools() *Registry { return o.tools }

// Run executes the loop until the model answers without tool calls. It
// returns ErrMaxIterations when the limit is reached first; provider errors
// end the run unchanged. Tool failures never end the run: they are reported
// to the model as tool results carrying an error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (resp *Response, err error) {
	policy := o.policy
	if req.Policy != nil {
		policy = req.Policy.normalized()
	}

	specs := o.tools.Specs(o.allowed)
	ctx, finish := o.tracer.StartSpan(ctx, "orchestrate", map[string]any{
		"conversation_id": req.ConversationID,
		"tool_count":      len(specs),
	})
	defer func() { finish(err) }()

	turns := o.builder.Build(req.System, req.History, req.Context)
	resp = &Response{}

	for iteration := 1; iteration <= policy.MaxIterations; iteration++ {
		result, chatErr := o.chat(ctx, turns, specs, iteration)
		if chatErr != nil {
			return nil, chatErr
		}
		resp.Iterations = iteration
		resp.TokensUsed += result.TokensUsed

		calls := result.ToolCalls
		content := result.Content
		if len(calls) == 0 && len(specs) > 0 {
			if parsed := o.parser.ParseToolCalls(content, o.offered(specs)); len(parsed) > 0 {
				o.tracer.Event(ctx, "text_tool_calls", map[string]any{"count": len(parsed)})
				calls, content = parsed, ""
			}
		}

		if len(calls) == 0 {
			if o.guardrails != nil {
				content = o.guardrails.SanitizeOutput(content)
			}
			resp.Text = content
			resp.Turns = append(resp.Turns, ports.AssistantTurn(content))
			return resp, nil
		}

		calls = withIDs(calls)
		callTurn := ports.Turn{Role: ports.RoleAssistant, Content: content, ToolCalls: calls}
		turns = append(turns, callTurn)
		resp.Turns = append(resp.Turns, callTurn)

		for _, res := range o.executeTools(ctx, calls, policy) {
			turn := ports.ToolResultTurn(res)
			turns = append(turns, turn)
			resp.Turns = append(resp.Turns, turn)
			resp.ToolResults = append(resp.ToolResults, res)
		}
	}

	o.logger.Warn().
		Str("conversation_id", req.ConversationID).
		Int("max_iterations", policy.MaxIterations).
		Msg("model kept requesting tools, giving up")
	return nil, fmt.Errorf("%w: %d", ErrMaxIterations, policy.MaxIterations)
}

func (o *Orchestrator) chat(ctx context.Context, turns []ports.Turn, specs []ports.ToolSpec, iteration int) (ports.ChatResult, error) {
	release, err := o.limiter.Acquire(ctx, "provider:"+o.providerName)
	if err != nil {
		return ports.ChatResult{}, fmt.Errorf("rate limit wait: %w", err)
	}
	defer release()

	spanCtx, finish := o.tracer.StartSpan(ctx, "provider_call", map[string]any{
		"iteration": iteration,
		"turns":     len(turns),
	})
	start := time.Now()
	result, err := o.provider.Chat(spanCtx, turns, specs)
	o.metrics.ObserveProviderCall(o.providerName, err, time.Since(start))
	finish(err)
	return result, err
}

// executeTools runs the calls of one round in parallel and returns their
// results in call order.
func (o *Orchestrator) executeTools(ctx context.Context, calls []ports.ToolCall, policy Policy) []ports.ToolResult {
	results := make([]ports.ToolResult, len(calls))

	p := pool.New().WithMaxGoroutines(policy.ToolConcurrency)
	for i, call := range calls {
		p.Go(func() {
			results[i] = o.invoke(ctx, call, policy.ToolTimeout)
		})
	}
	p.Wait()

	return results
}

func (o *Orchestrator) invoke(ctx context.Context, call ports.ToolCall, timeout time.Duration) (res ports.ToolResult) {
	res = ports.ToolResult{ID: call.ID, Name: call.Name}
	status := "ok"
	defer func() { o.metrics.ObserveToolCall(call.Name, status) }()

	tool, ok := o.tools.Lookup(call.Name)
	if !ok {
		status = "unknown"
		res.Error = fmt.Sprintf("unknown tool: %s", call.Name)
		return res
	}
	if o.guardrails != nil {
		if err := o.guardrails.ValidateToolCall(call, tool.Spec()); err != nil {
			status = "rejected"
			res.Error = err.Error()
			return res
		}
	}

	release, err := o.limiter.Acquire(ctx, "tool:"+call.Name)
	if err != nil {
		status = "error"
		res.Error = fmt.Sprintf("rate limit wait: %v", err)
		return res
	}
	defer release()

	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	toolCtx, finish := o.tracer.StartSpan(toolCtx, "tool_call", map[string]any{"tool": call.Name, "call_id": call.ID})

	out, err := tool.Invoke(toolCtx, normalizeArgs(call.Arguments))
	finish(err)
	if err != nil {
		status = "error"
		o.logger.Warn().Err(err).Str("tool", call.Name).Str("call_id", call.ID).Msg("tool call failed")
		res.Error = err.Error()
		return res
	}
	res.Result = out
	return res
}

func (o *Orchestrator) allowed(name string) bool {
	return o.guardrails == nil || o.guardrails.Allowed(name)
}

func (o *Orchestrator) offered(specs []ports.ToolSpec) func(string) bool {
	names := make(map[string]struct{}, len(specs))
	for _, s := range specs {
		names[s.Name] = struct{}{}
	}
	return func(name string) bool {
		_, ok := names[name]
		return ok
	}
}

// withIDs assigns ids to calls the backend left unnamed so results can be
// correlated.
func withIDs(calls []ports.ToolCall) []ports.ToolCall {
	out := make([]ports.ToolCall, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}
		if len(call.Arguments) == 0 {
			call.Arguments = json.RawMessage(`{}`)
		}
		out[i] = call
	}
	return out
}
