package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"breakout-radar/internal/alerting"
	"breakout-radar/internal/audit"
	"breakout-radar/internal/cache"
	"breakout-radar/internal/catalog"
	"breakout-radar/internal/config"
	"breakout-radar/internal/fetcher"
	"breakout-radar/internal/normalize"
	"breakout-radar/internal/query"
	"breakout-radar/internal/scheduler"
	"breakout-radar/internal/scoring"
	"breakout-radar/internal/service"
	"breakout-radar/internal/storage"
	"breakout-radar/internal/version"
)

// Store is everything the pipeline persists.
type Store interface {
	storage.RankingStore
	storage.ProductStore
	storage.RunStore
	storage.AdvisoryLocker
}

var (
	_ Store = (*storage.Store)(nil)
	_ Store = (*storage.MemoryStore)(nil)
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	store Store
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// WithStore makes every command use store instead of opening the database.
func (a *App) WithStore(store Store) *App {
	a.store = store
	return a
}

// runtime is the wired pipeline for one command invocation.
type runtime struct {
	catalog *catalog.Catalog
	store   Store
	counter *audit.Counter
	service *service.Service
	reader  *query.Reader
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (a *App) loadCatalog() (*catalog.Catalog, error) {
	return catalog.Load(a.Config.Pipeline.CatalogPath)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	if a.Config.Alerting.Enabled {
		return alerting.NewLogNotifier(a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (Store, func(), error) {
	if a.store != nil {
		return a.store, nil, nil
	}
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) openCache(ctx context.Context) (cache.Store, func(), error) {
	cfg := a.Config.Redis
	if cfg.Addr == "" {
		return cache.NewMemoryStore(), nil, nil
	}
	store, err := cache.NewRedisStore(ctx, cache.RedisOptions{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Prefix:   cfg.KeyPrefix,
		Retain:   a.Config.Pipeline.FallbackRetain,
	})
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

// build wires the pipeline. requireDB rejects running without a database; otherwise
// an in-memory store is used.
func (a *App) build(ctx context.Context, requireDB bool, withScheduler bool) (*runtime, error) {
	rt := &runtime{}
	cfg := a.Config

	cat, err := a.loadCatalog()
	if err != nil {
		return nil, err
	}
	rt.catalog = cat

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		rt.closers = append(rt.closers, closeStore)
	}
	if store == nil {
		if requireDB {
			return nil, errors.New("database not configured; set database.dsn")
		}
		a.Logger.Warn().Msg("database.dsn not configured; rankings kept in memory only")
		store = storage.NewMemoryStore()
	}
	rt.store = store

	cacheStore, closeCache, err := a.openCache(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if closeCache != nil {
		rt.closers = append(rt.closers, closeCache)
	}
	layer := cache.NewLayer(cacheStore, a.Logger)

	notifier := a.newNotifier()
	rt.counter = audit.NewCounter(audit.Options{
		DailyBudget:   cfg.Audit.DailyBudget,
		MonthlyBudget: cfg.Audit.MonthlyBudget,
		Channels:      cfg.Alerting.Channels,
	}, notifier, a.Logger)

	userAgent := cfg.Marketplace.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	client := fetcher.NewUnlocker(fetcher.UnlockerOptions{
		BaseURL:       cfg.Marketplace.BaseURL,
		APIKey:        cfg.Marketplace.APIKey,
		Zone:          cfg.Marketplace.Zone,
		Domain:        cfg.Marketplace.Domain,
		Timeout:       cfg.Marketplace.RequestTimeout,
		UserAgent:     userAgent,
		RatePerSecond: cfg.Marketplace.RatePerSecond,
		Burst:         cfg.Marketplace.Burst,
		Recorder:      rt.counter,
	}, a.Logger)

	scorer := scoring.NewClient(scoring.ClientOptions{
		Endpoint: cfg.Scoring.Endpoint,
		APIKey:   cfg.Scoring.APIKey,
		Timeout:  cfg.Scoring.RequestTimeout,
	}, a.Logger)

	var sched *scheduler.Scheduler
	if withScheduler {
		if sched, err = a.newScheduler(); err != nil {
			rt.Close()
			return nil, err
		}
	}

	rt.service, err = service.New(a.serviceOptions(), service.Deps{
		Catalog:    cat,
		Client:     client,
		Cache:      layer,
		Normalizer: a.newNormalizer(cat),
		Ranker:     a.newRanker(scorer),
		Rankings:   store,
		Products:   store,
		Runs:       store,
		Locker:     store,
		Notifier:   notifier,
		Scheduler:  sched,
	}, a.Logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.reader = query.NewReader(store, cat, layer, query.Options{
		TTL:         cfg.ReadCache.TTL,
		DefaultDays: cfg.ReadCache.HistoryDays,
		MaxDays:     cfg.ReadCache.MaxHistoryDays,
		Location:    loc,
	}, a.Logger)
	return rt, nil
}

func (a *App) serviceOptions() service.Options {
	cfg := a.Config
	return service.Options{
		Domain:           cfg.Marketplace.Domain,
		TopN:             cfg.Pipeline.TopN,
		Workers:          cfg.Scheduler.Workers,
		RetentionDays:    cfg.Pipeline.RetentionDays,
		SearchTTL:        cfg.Pipeline.SearchTTL,
		DetailTTL:        cfg.Pipeline.DetailTTL,
		ReviewsTTL:       cfg.Pipeline.ReviewsTTL,
		AlertFailureRate: cfg.Pipeline.AlertFailureRate,
		LockKey:          cfg.Scheduler.AdvisoryLockKey,
		Channels:         cfg.Alerting.Channels,
	}
}

func (a *App) newNormalizer(cat *catalog.Catalog) *normalize.Normalizer {
	return normalize.New(normalize.Options{
		TargetCurrency: a.Config.Normalization.TargetCurrency,
		Rates:          normalize.RatesFromFloats(a.Config.Normalization.Rates),
		Mapper:         normalize.NewCategoryMapper(cat.Categories),
	})
}

func (a *App) newRanker(scorer scoring.Scorer) *scoring.Ranker {
	return scoring.NewRanker(scorer, scoring.Options{
		Thresholds: scoring.Thresholds{
			MinReviewCount: a.Config.Pipeline.MinReviewCount,
			MinRating:      decimal.NewFromFloat(a.Config.Pipeline.MinRating),
			RequireRank:    a.Config.Pipeline.RequireRank,
		},
		Timeout: a.Config.Scoring.RequestTimeout,
	}, a.Logger)
}

func (a *App) newScheduler() (*scheduler.Scheduler, error) {
	hour, minute, err := a.Config.Scheduler.Clock()
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(a.Config.Scheduler.Timezone)
	if err != nil {
		return nil, err
	}
	return scheduler.New(scheduler.Options{
		Hour:         hour,
		Minute:       minute,
		Location:     loc,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
}

// Run executes the long-running daily ranking service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.build(ctx, false, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	a.Logger.Info().
		Str("run_at", a.Config.Scheduler.RunAt).
		Str("timezone", a.Config.Scheduler.Timezone).
		Int("categories", len(rt.catalog.Categories)).
		Msg("starting ranking service")
	err = rt.service.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	snap := rt.counter.Snapshot()
	a.Logger.Info().Int64("requests", snap.Total).Msg("ranking service stopped")
	return nil
}

// TriggerOptions configure a manual run.
type TriggerOptions struct {
	CategoryID string
	From       time.Time
	To         time.Time
}

// ShowOptions configure the show command.
type ShowOptions struct {
	CategoryID string
	GroupID    string
	Date       time.Time
	Limit      int
}

// HistoryOptions configure the history command.
type HistoryOptions struct {
	ProductID string
	Days      int
}

// ProductOptions configure the product command.
type ProductOptions struct {
	ItemIDs []string
	Reviews bool
	Refresh bool
}

// ExportOptions hold parameters for exporting a product's history.
type ExportOptions struct {
	ProductID string
	Days      int
	PNGPath   string
	CSVPath   string
}
