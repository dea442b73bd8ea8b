package harness

import (
	"context"
	"time"

	"github.com/ZanzyTHEbar/guild-assistant/assistant/config"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/adapters"
	ports "github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/ports"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/metrics"

	"github.com/rs/zerolog"
)

// Factory creates and wires harness components from configuration.
type Factory struct {
	harnessConfig *config.HarnessConfig
	metrics       *metrics.Metrics
	logger        zerolog.Logger
}

// NewFactory creates a new harness factory.
func NewFactory(harnessConfig *config.HarnessConfig, m *metrics.Metrics, logger zerolog.Logger) *Factory {
	return &Factory{
		harnessConfig: harnessConfig,
		metrics:       m,
		logger:        logger,
	}
}

// CreateOrchestrator creates a fully wired Orchestrator around provider.
func (f *Factory) CreateOrchestrator(provider ports.ChatProvider, providerName string, tools *Registry) *Orchestrator {
	opts := []Option{
		WithRateLimiter(f.CreateRateLimiter()),
		WithTracer(f.CreateTracer()),
		WithPolicy(f.CreatePolicy()),
		WithMetrics(f.metrics),
		WithLogger(f.logger),
	}
	if f.harnessConfig.EnableGuardrails {
		opts = append(opts, WithGuardrails(f.CreateGuardrails()))
	}
	return NewOrchestrator(provider, providerName, tools, opts...)
}

// CreateCache creates the cache used to memoize query embeddings.
func (f *Factory) CreateCache(capacity int, ttl time.Duration) ports.Cache {
	if capacity <= 0 {
		return noOpCache{}
	}
	return adapters.NewLRUCache(capacity, ttl)
}

// CreateRateLimiter creates a rate limiter adapter from config.
func (f *Factory) CreateRateLimiter() ports.RateLimiter {
	if !f.harnessConfig.RateLimitEnabled {
		return noOpRateLimiter{}
	}
	return adapters.NewTokenBucket(f.harnessConfig.RateLimitBurst, f.harnessConfig.RateLimitEvery)
}

// CreateTracer creates a tracer adapter from config.
func (f *Factory) CreateTracer() ports.Tracer {
	if !f.harnessConfig.EnableTracing {
		return noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

// CreateGuardrails creates guardrails from config.
func (f *Factory) CreateGuardrails() *Guardrails {
	return NewGuardrails(f.harnessConfig.AllowedTools)
}

// CreatePolicy creates a policy from config, clamping out-of-range values.
func (f *Factory) CreatePolicy() Policy {
	policy := Policy{
		MaxIterations:   f.harnessConfig.MaxIterations,
		ToolTimeout:     f.harnessConfig.ToolTimeout,
		ToolConcurrency: f.harnessConfig.ToolConcurrency,
	}

	if policy.MaxIterations < 1 {
		f.logger.Warn().Int("max_iterations", policy.MaxIterations).Msg("MaxIterations clamped to minimum of 1")
	}
	if policy.MaxIterations > MaxIterationsCeiling {
		f.logger.Warn().Int("max_iterations", policy.MaxIterations).Msgf("MaxIterations clamped to maximum of %d", MaxIterationsCeiling)
	}
	return policy.normalized()
}

// noOpCache implements Cache with no-op behavior for a disabled cache.
type noOpCache struct{}

func (noOpCache) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (noOpCache) Set(context.Context, string, []byte) error { return nil }
func (noOpCache) Delete(context.Context, string) error { return nil }

// noOpRateLimiter implements RateLimiter with no-op behavior.
type noOpRateLimiter struct{}

func (noOpRateLimiter) Acquire(context.Context, string) (func(), error) { return func() {}, nil }

// noOpTracer implements Tracer with no-op behavior.
type noOpTracer struct{}

func (noOpTracer) StartSpan(ctx context.Context, _ string, _ map[string]any) (context.Context, func(err error)) {
	return ctx, func(error) {}
}

func (noOpTracer) Event(context.Context, string, map[string]any) {}

// Ensure all no-op types implement their interfaces.
var (
	_ ports.Cache       = noOpCache{}
	_ ports.RateLimiter = noOpRateLimiter{}
	_ ports.Tracer      = noOpTracer{}
)
