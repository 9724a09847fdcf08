// Command entitlementsd serves the TruthLens subscription and feature-gating API
// and runs the background validation sweep and daily usage rollover.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/truthlens/entitlements/pkg/catalog"
	"github.com/truthlens/entitlements/pkg/clientip"
	"github.com/truthlens/entitlements/pkg/config"
	"github.com/truthlens/entitlements/pkg/email"
	"github.com/truthlens/entitlements/pkg/environment"
	"github.com/truthlens/entitlements/pkg/gate"
	"github.com/truthlens/entitlements/pkg/httpserver"
	"github.com/truthlens/entitlements/pkg/logger"
	"github.com/truthlens/entitlements/pkg/opensearch"
	"github.com/truthlens/entitlements/pkg/prompt"
	"github.com/truthlens/entitlements/pkg/ratelimiter"
	"github.com/truthlens/entitlements/pkg/requestid"
	"github.com/truthlens/entitlements/pkg/scheduler"
	"github.com/truthlens/entitlements/pkg/subscription"
	"github.com/truthlens/entitlements/pkg/usage"
	"github.com/truthlens/entitlements/svc/api"
)

type appConfig struct {
	Env         string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"entitlementsd"`

	// CatalogFile overrides the built-in plan catalog.
	CatalogFile string `env:"CATALOG_FILE"`
	// Storage selects the kv backend: memory, redis, postgres, mongo or s3.
	Storage string `env:"STORAGE_DRIVER" envDefault:"memory"`
	// Locker selects per-user validation locking: local or redis.
	Locker string `env:"LOCKER" envDefault:"local"`

	NearingLimitPercent float64       `env:"USAGE_NEARING_PERCENT" envDefault:"80"`
	ManageURL           string        `env:"MANAGE_SUBSCRIPTION_URL" envDefault:"https://truthlens.app/account/subscription"`
	HealthCheckTimeout  time.Duration `env:"HEALTHCHECK_TIMEOUT" envDefault:"2s"`
	PromptSearchEnabled bool          `env:"PROMPT_EVENTS_OPENSEARCH" envDefault:"false"`
	// AdminToken enables the operator tier override route. Empty leaves it unmounted.
	AdminToken string `env:"ADMIN_TOKEN"`

	SweepInterval    time.Duration `env:"VALIDATION_SWEEP_INTERVAL" envDefault:"15m"`
	RolloverSchedule string        `env:"USAGE_ROLLOVER_SCHEDULE" envDefault:"5 0 0 * * *"`
	RolloverTimeout  time.Duration `env:"USAGE_ROLLOVER_TIMEOUT" envDefault:"10m"`
}

func main() {
	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.New(
		logger.WithEnvironment(environment.Parse(cfg.Env), cfg.ServiceName),
		logger.WithContextExtractors(requestid.LoggerExtractor(), clientip.LoggerExtractor()),
	)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("entitlementsd stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	cat, err := loadCatalog(cfg.CatalogFile)
	if err != nil {
		return err
	}

	infra, err := openStorage(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}
	defer infra.close(log)

	locker, err := openLocker(ctx, cfg.Locker, infra)
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()

	store := subscription.NewStore(infra.kv, cat, subscription.WithStoreClock(clock))
	tracker := usage.NewTracker(infra.kv, usage.NewSubscriptionLimits(store, cat),
		usage.WithClock(clock),
		usage.WithNearingPercent(cfg.NearingLimitPercent),
		usage.WithLogger(log),
	)

	sinks := []prompt.EventSink{prompt.NewLogSink(log)}
	if cfg.PromptSearchEnabled {
		var osCfg opensearch.Config
		if err := config.Load(&osCfg); err != nil {
			return err
		}
		client, err := opensearch.New(ctx, osCfg)
		if err != nil {
			return fmt.Errorf("connect opensearch: %w", err)
		}
		sinks = append(sinks, prompt.NewOpenSearchSink(client, osCfg.PromptEventsIndex))
		infra.checks = append(infra.checks, httpserver.Check{Name: "opensearch", Fn: opensearch.Healthcheck(client)})
	}
	prompts := prompt.NewManager(infra.kv, cat,
		prompt.WithClock(clock),
		prompt.WithSinks(sinks...),
		prompt.WithLogger(log),
	)

	var mailCfg email.Config
	if err := config.Load(&mailCfg); err != nil {
		return err
	}
	sender, err := email.NewSender(mailCfg)
	if err != nil {
		return fmt.Errorf("email sender: %w", err)
	}

	validatorOpts := []subscription.ValidatorOption{
		subscription.WithLocker(locker),
		subscription.WithHooks(
			subscription.LogHook(log),
			subscription.NewNotifier(sender, cfg.ManageURL, log).Hook(),
		),
		subscription.WithValidatorLogger(log),
	}
	apiOpts := []api.Option{
		api.WithLogger(log),
		api.WithHealthChecks(cfg.HealthCheckTimeout, infra.checks...),
	}
	if cfg.AdminToken != "" {
		apiOpts = append(apiOpts, api.WithAdminToken(cfg.AdminToken))
	}

	var paddleCfg subscription.PaddleConfig
	if err := config.Load(&paddleCfg); err != nil {
		return err
	}
	if paddleCfg.Enabled() {
		paddle, err := subscription.NewPaddleProvider(paddleCfg, cat)
		if err != nil {
			return fmt.Errorf("paddle: %w", err)
		}
		validatorOpts = append(validatorOpts, subscription.WithProvider(paddle))
		apiOpts = append(apiOpts,
			api.WithCheckout(paddle),
			api.WithWebhooks(subscription.NewWebhookProcessor(paddle, store, log)),
		)
	} else {
		log.Warn("paddle disabled: checkout and webhooks answer 501")
	}

	validator := subscription.NewValidator(store, validatorOpts...)
	poller := scheduler.NewPoller(scheduler.WithClock(clock), scheduler.WithLogger(log))

	var rlCfg ratelimiter.Config
	if err := config.Load(&rlCfg); err != nil {
		return err
	}
	if rlCfg.Enabled {
		var rlStore ratelimiter.Store
		if infra.redis != nil {
			rlStore = ratelimiter.NewRedisStore(infra.redis, "entitlements:ratelimit:")
		} else {
			mem := ratelimiter.NewMemoryStore()
			if err := poller.Every("ratelimit-prune", 10*time.Minute, func(context.Context) error {
				mem.Prune(clock.Now())
				return nil
			}); err != nil {
				return err
			}
			rlStore = mem
		}
		limiter, err := ratelimiter.NewBucket(rlStore, rlCfg, ratelimiter.WithClock(clock))
		if err != nil {
			return err
		}
		apiOpts = append(apiOpts, api.WithRateLimit(limiter))
	}

	svc := api.New(api.Deps{
		Catalog:   cat,
		Store:     store,
		Validator: validator,
		Tracker:   tracker,
		Gate:      gate.New(store, tracker, cat, gate.WithClock(clock), gate.WithLogger(log)),
		Prompts:   prompts,
	}, apiOpts...)

	if err := poller.Every("validation-sweep", cfg.SweepInterval, func(ctx context.Context) error {
		report, err := validator.ValidateAll(ctx)
		log.InfoContext(ctx, "validation sweep finished",
			slog.Int("checked", report.Checked),
			slog.Int("transitioned", report.Transitioned),
			slog.Int("failed", report.Failed),
		)
		return err
	}); err != nil {
		return err
	}

	crons := scheduler.NewCron(log)
	if err := crons.Add("usage-rollover", cfg.RolloverSchedule, cfg.RolloverTimeout, func(ctx context.Context) error {
		n, err := tracker.RolloverAll(ctx)
		log.InfoContext(ctx, "usage rollover finished", slog.Int("reset", n))
		return err
	}); err != nil {
		return err
	}

	var httpCfg httpserver.Config
	if err := config.Load(&httpCfg); err != nil {
		return err
	}
	server := httpserver.New(httpCfg, httpserver.WithLogger(log))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx, svc.Handle()) })
	g.Go(func() error { return poller.Run(ctx) })
	g.Go(func() error { return crons.Run(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	cat, err := catalog.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return cat, nil
}
