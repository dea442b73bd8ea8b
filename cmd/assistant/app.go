package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ZanzyTHEbar/guild-assistant/assistant/bridge"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/config"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/generation/providers"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/knowledge"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/logging"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/metrics"
	"github.com/ZanzyTHEbar/guild-assistant/assistant/similarity"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// app holds what every command shares. Close releases it in reverse order of
// construction.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Metrics

	background conc.WaitGroup
	closers    []func() error
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}
	a.onClose(closeLog)
	return a, nil
}

func (a *app) onClose(fn func() error) { a.closers = append(a.closers, fn) }

// Close waits for background tasks, then runs the closers.
func (a *app) Close() {
	a.background.Wait()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("shutdown step failed")
		}
	}
}

// serveMetrics exposes the registry until ctx is done, when enabled.
func (a *app) serveMetrics(ctx context.Context) {
	if !a.cfg.Metrics.Enabled {
		return
	}
	a.background.Go(func() {
		if err := a.metrics.Serve(ctx, a.cfg.Metrics.Listen, a.logger); err != nil {
			a.logger.Error().Err(err).Msg("metrics endpoint stopped")
		}
	})
}

func (a *app) chatProvider(ctx context.Context) (*providers.Client, error) {
	client, err := providers.New(ctx, providers.FromConfig(a.cfg.Provider, a.logger))
	if err != nil {
		return nil, fmt.Errorf("generation provider: %w", err)
	}
	return client, nil
}

func (a *app) embedder(ctx context.Context) (*providers.Client, error) {
	client, err := providers.NewEmbedder(ctx, providers.FromConfig(a.cfg.Embedding, a.logger))
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	return client, nil
}

func (a *app) knowledgeDB(ctx context.Context) (*sql.DB, error) {
	db, err := knowledge.Open(ctx, a.cfg.Knowledge.DSN, a.logger)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: %w", err)
	}
	a.onClose(db.Close)
	return db, nil
}

// knowledgeIndex opens the knowledge store and loads it into a fresh index.
func (a *app) knowledgeIndex(ctx context.Context, embedder knowledge.Embedder) (*similarity.Index[knowledge.Passage], error) {
	db, err := a.knowledgeDB(ctx)
	if err != nil {
		return nil, err
	}
	index := similarity.NewIndex[knowledge.Passage]()
	store := knowledge.NewStore(db, embedder, knowledge.WithIndex(index), knowledge.WithLogger(a.logger))
	if _, err := store.Load(ctx); err != nil {
		return nil, err
	}
	return index, nil
}

func (a *app) bridge() *bridge.Client {
	client := bridge.New(a.cfg.Bridge.BridgeURL(),
		bridge.WithCallTimeout(a.cfg.Bridge.CallTimeout),
		bridge.WithDialTimeout(a.cfg.Bridge.DialTimeout),
		bridge.WithLogger(a.logger),
	)
	a.onClose(client.Close)
	return client
}
