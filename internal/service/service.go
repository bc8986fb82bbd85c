package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"breakout-radar/internal/alerting"
	"breakout-radar/internal/cache"
	"breakout-radar/internal/catalog"
	"breakout-radar/internal/fetcher"
	"breakout-radar/internal/normalize"
	"breakout-radar/internal/scheduler"
	"breakout-radar/internal/scoring"
	"breakout-radar/internal/storage"
)

// ErrRunInProgress is returned when another process holds the run lock.
var ErrRunInProgress = errors.New("ranking run already in progress")

const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
	TriggerSimulated = "simulated"
)

// Options tune the ranking pipeline.
type Options struct {
	Domain           string
	TopN             int
	Workers          int
	RetentionDays    int
	SearchTTL        time.Duration
	DetailTTL        time.Duration
	ReviewsTTL       time.Duration
	AlertFailureRate float64
	LockKey          int64
	Channels         []string
}

// Deps are the collaborators of the pipeline. Products, Runs, Locker, Notifier and
// Scheduler may be nil.
type Deps struct {
	Catalog    *catalog.Catalog
	Client     fetcher.Client
	Cache      *cache.Layer
	Normalizer *normalize.Normalizer
	Ranker     *scoring.Ranker
	Rankings   storage.RankingStore
	Products   storage.ProductStore
	Runs       storage.RunStore
	Locker     storage.AdvisoryLocker
	Notifier   alerting.Notifier
	Scheduler  *scheduler.Scheduler
}

// Service orchestrates fetching, ranking, persistence and alerting.
type Service struct {
	opts   Options
	deps   Deps
	now    func() time.Time
	logger zerolog.Logger
}

// New constructs the ranking service.
func New(opts Options, deps Deps, logger zerolog.Logger) (*Service, error) {
	if deps.Catalog == nil || deps.Client == nil || deps.Normalizer == nil || deps.Ranker == nil || deps.Rankings == nil {
		return nil, fmt.Errorf("service: catalog, client, normalizer, ranker and ranking store are required")
	}
	if opts.TopN <= 0 {
		opts.TopN = 20
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 7
	}
	if opts.SearchTTL <= 0 {
		opts.SearchTTL = 15 * time.Minute
	}
	if opts.DetailTTL <= 0 {
		opts.DetailTTL = time.Hour
	}
	if opts.ReviewsTTL <= 0 {
		opts.ReviewsTTL = time.Hour
	}
	if opts.AlertFailureRate <= 0 {
		opts.AlertFailureRate = 0.5
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewLayer(nil, logger)
	}
	if deps.Locker == nil {
		if l, ok := deps.Rankings.(storage.AdvisoryLocker); ok {
			deps.Locker = l
		}
	}

	return &Service{
		opts:   opts,
		deps:   deps,
		now:    time.Now,
		logger: logger.With().Str("component", "service").Logger(),
	}, nil
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Run begins the daily scheduling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.deps.Scheduler.Run(ctx, s.scheduledRun)
}

func (s *Service) scheduledRun(ctx context.Context, day time.Time) error {
	_, err := s.RunAll(ctx, day, TriggerScheduled)
	if errors.Is(err, ErrRunInProgress) {
		s.logger.Info().Time("day", day).Msg("skip run because advisory lock held elsewhere")
		return nil
	}
	return err
}

func (s *Service) acquireLock(ctx context.Context) (func(), error) {
	if s.opts.LockKey == 0 || s.deps.Locker == nil {
		return func() {}, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, ErrRunInProgress
	}
	return unlock, nil
}
