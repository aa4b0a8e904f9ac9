package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"basegraph.app/parley/common/clock"
	"basegraph.app/parley/common/id"
	"basegraph.app/parley/common/llm"
	"basegraph.app/parley/core/config"
	"basegraph.app/parley/internal/brain"
	"basegraph.app/parley/internal/budget"
	"basegraph.app/parley/internal/conversation"
	"basegraph.app/parley/internal/fetcher"
	"basegraph.app/parley/internal/platform"
	"basegraph.app/parley/internal/search"
	"basegraph.app/parley/internal/source"
)

const memoryCacheSize = 256

// Services is the assembled message pipeline for one chat platform.
type Services struct {
	tracker   *conversation.Tracker
	responder *brain.Responder
	redis     *redis.Client
}

// NewServices wires the tracker, context builder, tools and orchestrator around
// client. The returned Services must be closed.
func NewServices(ctx context.Context, cfg config.Config, client platform.Client, clk clock.Clock) (*Services, error) {
	agent, err := llm.NewAgentClient(llm.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Model:    cfg.LLM.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("creating llm client: %w", err)
	}
	agent = brain.NewRetryingClient(agent, clk)

	ids, err := id.NewGenerator(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("creating id generator: %w", err)
	}

	s := &Services{}

	cache, err := s.pageCache(ctx, cfg.Fetcher)
	if err != nil {
		return nil, err
	}
	pages := fetcher.New(fetcher.Config{Timeout: cfg.Fetcher.Timeout, CacheTTL: cfg.Fetcher.CacheTTL}, cache)

	backends := brain.ToolBackends{Pages: pages, History: client}
	if cfg.Search.Enabled {
		backends.Search = search.NewDefault(search.Config{BraveAPIKey: cfg.Search.BraveAPIKey})
	}
	if cfg.Source.Enabled() {
		reader, err := source.NewReader(cfg.Source.Root)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("opening source root: %w", err)
		}
		backends.Source = reader
		slog.InfoContext(ctx, "source reading enabled", "root", reader.Root())
	}

	s.tracker = conversation.NewTracker(conversation.Config{
		FollowUpTimeout: cfg.Conversation.FollowUpTimeout,
		MaxFollowUps:    cfg.Conversation.MaxFollowUps,
	}, clk)

	contexts := brain.NewContextBuilder(client, pages, pages,
		budget.NewBudgeter(budget.NewEstimator(cfg.Context.TokenEstimator)),
		brain.ContextConfig{
			TokenBudget:     cfg.Context.TokenBudget,
			PreserveRecent:  cfg.Context.PreserveRecent,
			URLFetchEnabled: cfg.Context.URLFetchEnabled,
			URLLookback:     cfg.Context.URLLookback,
		})

	executor := brain.NewToolExecutor(backends, 0)
	orchestrator := brain.NewToolOrchestrator(agent, executor, brain.OrchestratorConfig{
		MaxToolRounds: cfg.Orchestrator.MaxToolRounds,
		MaxTokens:     cfg.LLM.MaxTokens,
	})

	s.responder = brain.NewResponder(client, s.tracker, contexts, orchestrator, ids, clk, brain.ResponderConfig{
		HistoryLimit:         cfg.Context.MessageLimit,
		Streaming:            cfg.Orchestrator.StreamingEnabled,
		StreamUpdateInterval: cfg.Orchestrator.StreamUpdateInterval,
	})

	slog.InfoContext(ctx, "pipeline ready",
		"provider", cfg.LLM.Provider,
		"model", agent.Model(),
		"tools", executor.Kinds(),
		"streaming", cfg.Orchestrator.StreamingEnabled)

	return s, nil
}

// pageCache shares fetched pages through redis when configured, in-process otherwise.
func (s *Services) pageCache(ctx context.Context, cfg config.FetcherConfig) (fetcher.Cache, error) {
	if !cfg.RedisEnabled() {
		return fetcher.NewMemoryCache(memoryCacheSize, cfg.CacheTTL), nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	s.redis = client
	slog.InfoContext(ctx, "redis page cache connected")

	return fetcher.NewRedisCache(client, cfg.CacheTTL), nil
}

func (s *Services) Responder() *brain.Responder {
	return s.responder
}

func (s *Services) Tracker() *conversation.Tracker {
	return s.tracker
}

func (s *Services) Close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			slog.Warn("closing redis", "error", err)
		}
		s.redis = nil
	}
}
