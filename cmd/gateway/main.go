package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/corewave-ai/litegate/internal/cache"
	"github.com/corewave-ai/litegate/internal/config"
	"github.com/corewave-ai/litegate/internal/events"
	"github.com/corewave-ai/litegate/internal/failover"
	"github.com/corewave-ai/litegate/internal/guardrail"
	"github.com/corewave-ai/litegate/internal/guardrail/pii"
	"github.com/corewave-ai/litegate/internal/guardrail/promptinjection"
	"github.com/corewave-ai/litegate/internal/httpapi"
	"github.com/corewave-ai/litegate/internal/logger"
	"github.com/corewave-ai/litegate/internal/metrics"
	"github.com/corewave-ai/litegate/internal/model"
	"github.com/corewave-ai/litegate/internal/pipeline"
	"github.com/corewave-ai/litegate/internal/provider"
	"github.com/corewave-ai/litegate/internal/ratelimit"
	"github.com/corewave-ai/litegate/internal/registry"
	"github.com/corewave-ai/litegate/internal/router"
	"github.com/corewave-ai/litegate/internal/spend"
	"github.com/corewave-ai/litegate/internal/spend/ledger"
	"github.com/corewave-ai/litegate/internal/statestore"
	"github.com/corewave-ai/litegate/internal/tokencount"
	"github.com/corewave-ai/litegate/internal/tracing"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)
	log.Info().Str("env", cfg.Env).Msg("litegate starting")

	ctx := context.Background()

	shutdownTracing, err := tracing.Setup(ctx, cfg.OTLPEndpoint, 1.0, log)
	if err != nil {
		log.Warn().Err(err).Msg("tracing setup failed, continuing without export")
		shutdownTracing = func(context.Context) error { return nil }
	}
	tracer := tracing.Tracer("litegate/pipeline")

	states, err := statestore.New(cfg.RedisURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid REDIS_URL")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid DATABASE_URL")
	}
	migrateDB := stdlib.OpenDBFromPool(pool)
	if err := ledger.Migrate(migrateDB); err != nil {
		log.Warn().Err(err).Msg("ledger migration failed")
	}
	migrateDB.Close()
	led := ledger.New(pool, log, 256)

	bus := events.New(cfg.NATSURL, log)
	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	regstore := registry.New()
	seedRegistry(regstore, cfg)

	providers := provider.NewRegistry()
	registerProviders(cfg, providers)

	rt := router.New(regstore, states, router.StrategyLeastBusy, true)

	foCfg := failover.Config{
		NumRetries:   1,
		RetryAfter:   2 * time.Second,
		Timeout:      cfg.DefaultTimeout,
		CooldownTime: 30 * time.Second,
		AllowedFails: 3,
	}
	fo := failover.New(regstore, states, rt, providers, foCfg, log, func(deploymentID string) {
		met.DeploymentCooldowns.WithLabelValues(deploymentID).Inc()
		bus.Publish(events.KindDeploymentCooldown, "", map[string]string{"deployment_id": deploymentID})
	})

	cacheEng := cache.New(states, cfg.CacheDefaultTTL)

	guardrailRegistry := guardrail.NewRegistry()
	guardrailRegistry.Register(pii.New(nil, guardrail.ActionBlock, true))
	guardrailRegistry.Register(promptinjection.New(promptinjection.Config{
		Endpoint:  os.Getenv("PROMPT_INJECTION_ENDPOINT"),
		Timeout:   3 * time.Second,
		Threshold: 0.8,
		FailOpen:  true,
		Action:    guardrail.ActionLog,
		DefaultOn: false,
	}))
	guardrailRunner := guardrail.NewRunner(guardrailRegistry)

	limiter := ratelimit.New(states)
	accountant := spend.NewAccountant(states)
	costs := spend.NewCostTable()

	sweeper := spend.NewSweeper(accountant, log, time.Minute, func() []spend.ScopeWindow { return nil })
	sweeper.Start(ctx)

	healthPoller := provider.NewHealthPoller(regstore, states, log, 30*time.Second, func(ctx context.Context, d *model.Deployment) error {
		p, ok := providers.Get(d.ProviderKind)
		if !ok {
			return nil
		}
		_, err := p.CompleteSync(ctx, &model.ChatRequest{Model: d.ProviderModelName, Messages: []model.ChatMessage{{Role: "user", Content: "ping"}}, MaxTokens: intPtr(1)}, d)
		return err
	})
	healthPoller.Start(ctx)

	pl := pipeline.New(regstore, rt, fo, cacheEng, guardrailRunner, limiter, accountant, costs, led, bus, met, tracer, log, pipeline.Config{
		BudgetWindow: 30 * 24 * time.Hour,
		ParallelWait: 2 * time.Second,
	})

	auth := httpapi.NewStaticAuthenticator()
	seedDevKey(auth)

	handler := httpapi.New(httpapi.Deps{
		Pipeline:   pl,
		Registry:   regstore,
		Router:     rt,
		Providers:  providers,
		Limiter:    limiter,
		Accountant: accountant,
		Costs:      costs,
		Tokens:     tokencount.NewCounter(),
		Cache:      cacheEng,
		Bus:        bus,
		Auth:       auth,
		Tracer:     tracer,
		Logger:     log,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.DefaultTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("litegate listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	healthPoller.Stop()
	sweeper.Stop()
	led.Close()
	bus.Close()
	_ = states.Close()
	_ = shutdownTracing(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("litegate stopped gracefully")
	}
}

// seedRegistry installs a minimal registry from environment variables so
// the gateway can run standalone. internal/events offers
// SubscribeConfigChanges for config.changed notifications, but this
// binary does not subscribe to them, so the seeded snapshot is never
// replaced at runtime.
func seedRegistry(reg *registry.Registry, cfg *config.Config) {
	b := registry.NewBuilder()
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		b.AddGroup(&model.ModelGroup{Name: "gpt-4o", DeploymentIDs: []string{"openai-gpt-4o"}})
		b.AddDeployment(&model.Deployment{
			ID: "openai-gpt-4o", Group: "gpt-4o",
			ProviderKind: model.ProviderOpenAI, ProviderModelName: "gpt-4o",
			CredentialsRef: "env:OPENAI_API_KEY", Priority: 0, Weight: 1,
			Timeout: cfg.ProviderTimeout("openai"), Enabled: true, ContextWindowTokens: 128000,
			InputCostPerToken: 0.0000025, OutputCostPerToken: 0.00001,
		})
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		b.AddGroup(&model.ModelGroup{Name: "claude-sonnet", DeploymentIDs: []string{"anthropic-claude-sonnet"}})
		b.AddDeployment(&model.Deployment{
			ID: "anthropic-claude-sonnet", Group: "claude-sonnet",
			ProviderKind: model.ProviderAnthropic, ProviderModelName: "claude-sonnet-4-5",
			CredentialsRef: "env:ANTHROPIC_API_KEY", Priority: 0, Weight: 1,
			Timeout: cfg.ProviderTimeout("anthropic"), Enabled: true, ContextWindowTokens: 200000,
			InputCostPerToken: 0.000003, OutputCostPerToken: 0.000015,
		})
	}
	reg.Swap(b.Build())
}

func registerProviders(cfg *config.Config, reg *provider.Registry) {
	openaiClient := &http.Client{Timeout: cfg.ProviderTimeout("openai")}
	reg.Register(provider.NewOpenAIAdapter(openaiClient, "https://api.openai.com/v1"))

	anthropicClient := &http.Client{Timeout: cfg.ProviderTimeout("anthropic")}
	reg.Register(provider.NewAnthropicAdapter(anthropicClient, "https://api.anthropic.com"))

	genericClient := &http.Client{Timeout: cfg.ProviderTimeout("generic")}
	reg.Register(provider.NewGenericAdapter(genericClient, os.Getenv("GENERIC_PROVIDER_BASE_URL")))
}

// seedDevKey registers a single unlimited principal under a
// development-only API key when no external auth service is configured,
// so the gateway is usable out of the box.
func seedDevKey(auth *httpapi.StaticAuthenticator) {
	devKey := os.Getenv("GATEWAY_DEV_API_KEY")
	if devKey == "" {
		return
	}
	auth.AddKey(devKey, &model.PrincipalContext{
		KeyID: httpapi.HashKey(devKey),
		Limits: map[model.ScopeKind]model.ScopeLimits{},
	})
}

func intPtr(v int) *int { return &v }
