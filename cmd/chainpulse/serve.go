package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/chainpulse/chainpulse/internal/api"
	"github.com/chainpulse/chainpulse/internal/cache"
	"github.com/chainpulse/chainpulse/internal/config"
	"github.com/chainpulse/chainpulse/internal/gateway"
	"github.com/chainpulse/chainpulse/internal/health"
	"github.com/chainpulse/chainpulse/internal/httpx"
	"github.com/chainpulse/chainpulse/internal/metrics"
	"github.com/chainpulse/chainpulse/internal/providers"
	"github.com/chainpulse/chainpulse/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API gateway server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	keys := config.KeysFromEnv()

	reg := metrics.NewRegistry()

	var cacheStore cache.Store
	if cfg.Cache.Addr != "" {
		cacheStore = cache.NewRedisStore(cache.RedisOptions{
			Addr:      cfg.Cache.Addr,
			Password:  cfg.Cache.Password,
			DB:        cfg.Cache.DB,
			KeyPrefix: cfg.Cache.KeyPrefix,
		})
		log.Info().Str("addr", cfg.Cache.Addr).Msg("using redis cache")
	} else {
		cacheStore = cache.NewMemoryStore()
		log.Info().Msg("using in-memory cache")
	}
	defer cacheStore.Close()

	var db *store.Store
	var snapshotter gateway.Snapshotter
	if cfg.Database.DSN != "" {
		db, err = store.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns)
		if err != nil {
			return err
		}
		defer db.Close()
		snapshotter = db
		log.Info().Msg("postgres snapshot store enabled")
	} else {
		log.Info().Msg("postgres snapshot store disabled")
	}

	gw := gateway.New(cacheStore, reg, snapshotter, func(service string) gateway.BreakerSettings {
		svc := cfg.Service(service)
		return gateway.BreakerSettings{
			FailureThreshold: svc.Circuit.FailureThreshold,
			SuccessThreshold: svc.Circuit.SuccessThreshold,
			OpenTimeout:      svc.Circuit.OpenTimeout(),
		}
	})

	handlers := &api.Handlers{
		Gateway:   gw,
		Cache:     cacheStore,
		Config:    cfg,
		CoinGecko: providers.NewCoinGecko(providerOptions(cfg, "market", reg), keys.CoinGecko),
		CMC:       providers.NewCoinMarketCap(fallbackOptions(cfg, "market", reg), keys.CoinMarketCap),
		DeFiLlama: providers.NewDeFiLlama(providerOptions(cfg, "defi", reg)),
		Alchemy:   providers.NewAlchemy(providerOptions(cfg, "portfolio", reg), keys.Alchemy),
		OpenAI:    providers.NewOpenAI(providerOptions(cfg, "ai", reg), keys.OpenAI),
		Store:     db,
	}

	monitor := health.NewMonitor(healthTargets(cfg), cfg.Health.Interval(), cfg.Health.Timeout(), reg)
	handlers.Monitor = monitor

	hub := api.NewHub(handlers.QuoteStreamFetcher(cfg.Stream.Symbols), cfg.Stream.Interval(), reg)
	handlers.Hub = hub

	server := api.NewServer(api.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
		IdleTimeout:  cfg.Server.IdleTimeout(),
	}, handlers, reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	monitor.Start(ctx)
	defer monitor.Stop()
	hub.Start(ctx)
	defer hub.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// providerOptions builds provider options from a service's primary
// target.
func providerOptions(cfg *config.Config, service string, reg *metrics.Registry) providers.Options {
	svc := cfg.Service(service)
	return providers.Options{
		BaseURL:     svc.Primary,
		RPS:         svc.RateLimit.RPS,
		Burst:       svc.RateLimit.Burst,
		DailyBudget: svc.RateLimit.DailyBudget,
		Metrics:     reg,
		Pool: httpx.NewPool(httpx.Config{
			MaxConcurrency: 4,
			RequestTimeout: svc.Timeout(),
			MaxRetries:     2,
			BackoffBase:    time.Second,
			BackoffMax:     30 * time.Second,
			UserAgent:      "ChainPulse/" + version,
		}),
	}
}

// fallbackOptions builds options for a service's first fallback tier.
func fallbackOptions(cfg *config.Config, service string, reg *metrics.Registry) providers.Options {
	opts := providerOptions(cfg, service, reg)
	svc := cfg.Service(service)
	if len(svc.Fallbacks) > 0 {
		opts.BaseURL = svc.Fallbacks[0]
	} else {
		opts.BaseURL = ""
	}
	return opts
}

func healthTargets(cfg *config.Config) []health.Target {
	targets := make([]health.Target, 0, len(cfg.Health.Targets))
	for _, t := range cfg.Health.Targets {
		targets = append(targets, health.Target{Name: t.Name, URL: t.URL})
	}
	return targets
}
