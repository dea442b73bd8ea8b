// Package metrics exposes the assistant's Prometheus collectors on a private
// registry. Every Observe method is safe to call on a nil *Metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "guild_assistant"

// Metrics holds every collector the assistant reports.
type Metrics struct {
	registry *prometheus.Registry

	messages        *prometheus.CounterVec
	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	toolCalls       *prometheus.CounterVec
	retrievals      *prometheus.CounterVec
	embeddingCache  *prometheus.CounterVec
	evictions       prometheus.Counter
	triage          *prometheus.CounterVec
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// messages counts inbound messages by safety verdict.
		// Labels: verdict (allow, abusive, useless, ignored)
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "messages_total",
			Help:      "Inbound messages by safety verdict",
		}, []string{"verdict"}),

		// cycles counts generation cycles by outcome.
		// Labels: outcome (ok, fallback, iteration_limit, canceled)
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "cycles_total",
			Help:      "Generation cycles by outcome",
		}, []string{"outcome"}),

		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "cycle_duration_seconds",
			Help:      "Generation cycle latency, pacing included",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 8, 13, 20, 30, 60},
		}),

		// providerCalls counts chat round trips.
		// Labels: provider, status (ok, error)
		providerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Generation provider calls by status",
		}, []string{"provider", "status"}),

		providerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "latency_seconds",
			Help:      "Generation provider call latency",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"provider"}),

		// toolCalls counts tool invocations.
		// Labels: tool, status (ok, error, rejected, unknown)
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harness",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by status",
		}, []string{"tool", "status"}),

		// retrievals counts knowledge lookups.
		// Labels: result (hit, miss, error)
		retrievals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "lookups_total",
			Help:      "Knowledge retrieval lookups by result",
		}, []string{"result"}),

		embeddingCache: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "embedding_cache_total",
			Help:      "Query embedding cache lookups",
		}, []string{"result"}),

		evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "evictions_total",
			Help:      "Conversations removed by the idle sweep",
		}),

		// triage counts rating decisions.
		// Labels: state (accepted, pending_staff_review), confirmed (true, false)
		triage: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "triage",
			Name:      "decisions_total",
			Help:      "Rating triage decisions",
		}, []string{"state", "confirmed"}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RegisterMemory exposes conversation memory occupancy as gauges read at
// scrape time.
func (m *Metrics) RegisterMemory(stats func() (conversations, busy, turns int)) {
	if m == nil {
		return
	}
	factory := promauto.With(m.registry)
	gauge := func(name, help string, pick func(c, b, t int) int) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      name,
			Help:      help,
		}, func() float64 {
			c, b, t := stats()
			return float64(pick(c, b, t))
		})
	}
	gauge("conversations", "Live conversation contexts", func(c, _, _ int) int { return c })
	gauge("busy_conversations", "Conversations with a generation cycle in flight", func(_, b, _ int) int { return b })
	gauge("turns", "Turns held across all conversations", func(_, _, t int) int { return t })
}

func (m *Metrics) ObserveMessage(verdict string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(verdict).Inc()
}

func (m *Metrics) ObserveCycle(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveProviderCall(provider string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.providerCalls.WithLabelValues(provider, status).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) ObserveToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
}

func (m *Metrics) ObserveRetrieval(result string) {
	if m == nil {
		return
	}
	m.retrievals.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveEmbeddingCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.embeddingCache.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveEviction() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

func (m *Metrics) ObserveTriage(state string, confirmed bool) {
	if m == nil {
		return
	}
	m.triage.WithLabelValues(state, strconv.FormatBool(confirmed)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
