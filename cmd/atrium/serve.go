package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atriumhq/atrium/pkg/config"
	"github.com/atriumhq/atrium/pkg/invoker"
	"github.com/atriumhq/atrium/pkg/llm"
	"github.com/atriumhq/atrium/pkg/logger"
	"github.com/atriumhq/atrium/pkg/observability"
	"github.com/atriumhq/atrium/pkg/planner"
	"github.com/atriumhq/atrium/pkg/pricing"
	"github.com/atriumhq/atrium/pkg/ratelimit"
	"github.com/atriumhq/atrium/pkg/routing"
	"github.com/atriumhq/atrium/pkg/server"
	"github.com/atriumhq/atrium/pkg/store"
	"github.com/atriumhq/atrium/pkg/summary"
	"github.com/atriumhq/atrium/pkg/tool"
	"github.com/atriumhq/atrium/pkg/turn"
	"github.com/atriumhq/atrium/pkg/wallet"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct{}

// coordinatorHolder lets the request path pick up a rebuilt coordinator after
// a config reload without restarting the server.
type coordinatorHolder struct {
	current atomic.Pointer[turn.Coordinator]
}

func (h *coordinatorHolder) Execute(ctx context.Context, req turn.Request) (*turn.Result, error) {
	return h.current.Load().Execute(ctx, req)
}

func (c *ServeCmd) Run(cli *CLI) error {
	config.LoadDotEnv()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	logger.Init(logger.ParseLevel(level), os.Stderr, cfg.Logging.Format)
	log := logger.Get()

	observability.SetGlobalMetrics(observability.NewMetrics(prometheus.DefaultRegisterer))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Config{
		Driver:   cfg.Database.Driver,
		DSN:      cfg.Database.DSN,
		MaxConns: cfg.Database.MaxConns,
		MaxIdle:  cfg.Database.MaxIdle,
	})
	if err != nil {
		return err
	}
	defer st.Close()

	pricingCache := pricing.NewCache(st)
	if err := pricingCache.Reload(ctx); err != nil {
		log.Warn("pricing cache starts empty, all multipliers 1.0", "error", err)
	}

	gateway := llm.NewOpenAIProvider(llm.OpenAIConfig{
		Name:       cfg.LLM.Provider,
		BaseURL:    cfg.LLM.BaseURL,
		APIKey:     cfg.LLM.APIKey,
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: cfg.LLM.MaxRetries,
	})

	tools := []tool.Tool{tool.NewFileReadTool(st, "")}
	if cfg.Search.Endpoint != "" {
		tools = append(tools, tool.NewSearchTool(tool.SearchConfig{
			Endpoint:   cfg.Search.Endpoint,
			APIKey:     cfg.Search.APIKey,
			MaxResults: cfg.Search.MaxResults,
		}))
	}

	holder := &coordinatorHolder{}
	coord, err := buildCoordinator(cfg, st, gateway, tools, pricingCache)
	if err != nil {
		return err
	}
	holder.current.Store(coord)

	var counters ratelimit.CounterStore
	if cfg.Redis.Addr != "" {
		counters = ratelimit.NewRedisStore(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}))
	} else {
		counters = ratelimit.NewMemoryStore()
	}
	gate := ratelimit.NewGate(counters, ratelimit.Config{
		TurnsPerMinute: cfg.RateLimit.TurnsPerMinute,
		TurnsPerHour:   cfg.RateLimit.TurnsPerHour,
	}, log)

	go func() {
		err := config.Watch(ctx, cli.Config, log, func(next *config.Config) {
			rebuilt, err := buildCoordinator(next, st, gateway, tools, pricingCache)
			if err != nil {
				log.Warn("config reload: coordinator rebuild failed", "error", err)
				return
			}
			holder.current.Store(rebuilt)
			if err := pricingCache.Reload(ctx); err != nil {
				log.Warn("config reload: pricing reload failed", "error", err)
			}
		})
		if err != nil && ctx.Err() == nil {
			log.Warn("config watcher stopped", "error", err)
		}
	}()

	srv := server.New(server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, holder, gate, log)
	return srv.Start(ctx)
}

func buildCoordinator(cfg *config.Config, st *store.Store, gateway llm.Gateway, tools []tool.Tool, pricingCache *pricing.Cache) (*turn.Coordinator, error) {
	specs := make([]llm.ModelSpec, len(cfg.Models))
	for i, m := range cfg.Models {
		specs[i] = llm.ModelSpec{
			Alias:         m.Alias,
			Provider:      cfg.LLM.Provider,
			ProviderModel: m.ProviderModel,
			ContextLimit:  m.ContextLimit,
			MaxOutput:     m.MaxOutput,
		}
	}
	catalog, err := llm.NewCatalog(specs)
	if err != nil {
		return nil, fmt.Errorf("invalid model catalog: %w", err)
	}

	summaryAlias := cfg.Turn.SummaryModel
	if summaryAlias == "" {
		summaryAlias = cfg.Models[0].Alias
	}
	managerAlias := cfg.Turn.ManagerModel
	if managerAlias == "" {
		managerAlias = cfg.Models[0].Alias
	}

	threshold, err := decimal.NewFromString(cfg.Turn.LowBalanceThreshold)
	if err != nil {
		return nil, fmt.Errorf("invalid low_balance_threshold: %w", err)
	}

	slogger := logger.Get()
	return turn.NewCoordinator(turn.Deps{
		Store:     st,
		Gateway:   gateway,
		Catalog:   catalog,
		Planner:   planner.New(plannerConfig(cfg)),
		Invoker:   invoker.New(gateway, catalog, tool.NewRegistry(tools...), slogger),
		Router:    routing.NewManager(gateway, catalog, routing.Config{ManagerAlias: managerAlias}, slogger),
		Summaries: summary.NewPipeline(gateway, catalog, slogger),
		Pricing:   pricingCache,
		Ledger:    wallet.NewLedger(st),
		Logger:    slogger,
	}, turn.Config{
		Planner:                  plannerConfig(cfg),
		SummaryAlias:             summaryAlias,
		MaxDepth:                 cfg.Turn.MaxDepth,
		MaxSpecialistInvocations: cfg.Turn.MaxSpecialistInvocations,
		EnforceCredits:           cfg.Turn.EnforceCredits,
		LowBalanceThreshold:      threshold,
	}), nil
}

func plannerConfig(cfg *config.Config) planner.Config {
	return planner.Config{
		MaxOutputTokens:      cfg.Turn.MaxOutputTokens,
		SummaryTriggerRatio:  cfg.Turn.SummaryTriggerRatio,
		PruneTriggerRatio:    cfg.Turn.PruneTriggerRatio,
		MandatorySummaryTurn: cfg.Turn.MandatorySummaryTurn,
		RecentTurnsToKeep:    cfg.Turn.RecentTurnsToKeep,
	}
}
