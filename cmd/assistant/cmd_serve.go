package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/ZanzyTHEbar/guild-assistant/assistant/agent"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/bridge"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/tools"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/memory"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/pacing"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/retrieval"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/safety"

	"github.com/spf13/cobra"
)

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	a.serveMetrics(ctx)

	gate, err := safety.NewGate(cfg.Safety.PolicyFile, a.logger)
	if err != nil {
		return err
	}
	if cfg.Safety.Watch {
		a.background.Go(func() {
			if err := gate.Watch(ctx); err != nil {
				a.logger.Error().Err(err).Msg("policy watcher stopped")
			}
		})
	}

	store := memory.NewStore(
		memory.WithMaxMessages(cfg.Memory.MaxMessages),
		memory.WithTTL(cfg.Memory.TTL),
		memory.WithSweepInterval(cfg.Memory.SweepInterval),
		memory.WithLogger(a.logger),
		memory.WithEvictHook(func(string) { a.metrics.ObserveEviction() }),
	)
	a.onClose(func() error { store.Close(); return nil })
	a.metrics.RegisterMemory(func() (int, int, int) {
		s := store.Stats()
		return s.Conversations, s.Busy, s.Turns
	})

	provider, err := a.chatProvider(ctx)
	if err != nil {
		return err
	}

	registry, err := toolRegistry(a)
	if err != nil {
		return err
	}

	opts := []agent.Option{
		agent.WithConfig(cfg.Agent),
		agent.WithMetrics(a.metrics),
		agent.WithLogger(a.logger),
	}

	factory := harness.NewFactory(&cfg.Harness, a.metrics, a.logger)
	if cfg.Knowledge.Enabled && cfg.Retrieval.Enabled {
		embedder, err := a.embedder(ctx)
		if err != nil {
			return err
		}
		index, err := a.knowledgeIndex(ctx, embedder)
		if err != nil {
			return err
		}
		retriever := retrieval.New(embedder, index,
			retrieval.WithCache(factory.CreateCache(cfg.Retrieval.CacheCapacity, cfg.Retrieval.CacheTTL)),
			retrieval.WithTopK(cfg.Retrieval.K, cfg.Retrieval.Threshold),
			retrieval.WithEmbeddingTimeout(cfg.Retrieval.EmbeddingTimeout),
			retrieval.WithMetrics(a.metrics),
			retrieval.WithLogger(a.logger),
		)
		if err := registry.Register(tools.NewKnowledgeSearchTool(retriever)); err != nil {
			return err
		}
		opts = append(opts, agent.WithRetriever(retriever))
	}

	if cfg.Pacing.Enabled {
		opts = append(opts, agent.WithPacing(pacing.New(pacing.WithLogger(a.logger)), cfg.Pacing.BaseSeconds))
	}

	orchestrator := factory.CreateOrchestrator(provider, provider.Name(), registry)
	console := newConsole(os.Stdin, os.Stdout, consoleGuild, consoleAuthor)
	assistant := agent.New(store, gate, orchestrator, console, opts...)

	a.logger.Info().
		Str("provider", provider.Name()).
		Str("model", provider.Model()).
		Int("tools", registry.Len()).
		Msg("assistant ready")

	return console.Run(ctx, assistant)
}

// toolRegistry offers every public catalog tool through the bridge.
func toolRegistry(a *app) (*harness.Registry, error) {
	catalog, err := bridge.LoadCatalog(a.cfg.Bridge.CatalogFile)
	if err != nil {
		return nil, err
	}
	specs, err := catalog.Specs()
	if err != nil {
		return nil, err
	}
	return harness.NewRegistry(tools.RemoteTools(specs, a.bridge())...), nil
}
