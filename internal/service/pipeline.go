package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"breakout-radar/internal/alerting"
	"breakout-radar/internal/cache"
	"breakout-radar/internal/domain"
	"breakout-radar/internal/parser"
	"breakout-radar/internal/storage"
)

// RunAll ranks every catalog category for date, purges expired history and
// alerts when too many categories failed.
func (s *Service) RunAll(ctx context.Context, date time.Time, trigger string) (RunReport, error) {
	ids := make([]string, 0, len(s.deps.Catalog.Categories))
	for _, c := range s.deps.Catalog.Categories {
		ids = append(ids, c.ID)
	}
	return s.RunCategories(ctx, ids, date, trigger)
}

// RunCategory ranks a single category for date with the same isolation and cleanup
// as a full run.
func (s *Service) RunCategory(ctx context.Context, categoryID string, date time.Time) (RunReport, error) {
	return s.RunCategories(ctx, []string{categoryID}, date, TriggerManual)
}

// RunCategories ranks the given categories concurrently. A failing category never
// stops the others; after ctx is cancelled the remaining categories are marked cancelled.
func (s *Service) RunCategories(ctx context.Context, categoryIDs []string, date time.Time, trigger string) (RunReport, error) {
	for _, id := range categoryIDs {
		if _, ok := s.deps.Catalog.Category(id); !ok {
			return RunReport{}, fmt.Errorf("%w: unknown category %q", domain.ErrValidation, id)
		}
	}

	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return RunReport{}, err
	}
	defer unlock()

	report := RunReport{
		RunID:     uuid.New(),
		Date:      domain.Day(date),
		Trigger:   trigger,
		StartedAt: s.now().UTC(),
		Results:   make([]CategoryResult, len(categoryIDs)),
	}
	logger := s.logger.With().Str("run_id", report.RunID.String()).Time("date", report.Date).Logger()
	logger.Info().Int("categories", len(categoryIDs)).Str("trigger", trigger).Msg("ranking run started")

	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i, id := range categoryIDs {
		i, id := i, id
		if ctx.Err() != nil {
			report.Results[i] = CategoryResult{CategoryID: id, Outcome: OutcomeCancelled, Err: ctx.Err()}
			continue
		}
		category, _ := s.deps.Catalog.Category(id)
		g.Go(func() error {
			if ctx.Err() != nil {
				report.Results[i] = CategoryResult{CategoryID: id, Outcome: OutcomeCancelled, Err: ctx.Err()}
				return nil
			}
			report.Results[i] = s.processCategory(ctx, category, report.Date)
			return nil
		})
	}
	_ = g.Wait()

	s.cleanup(ctx, &report)
	report.FinishedAt = s.now().UTC()
	s.alertIfNeeded(ctx, &report)

	if s.deps.Runs != nil {
		if err := s.deps.Runs.InsertRun(context.WithoutCancel(ctx), report.Record()); err != nil {
			logger.Error().Err(err).Msg("failed to persist run summary")
		}
	}

	logger.Info().
		Int("succeeded", report.Count(OutcomeSuccess)).
		Int("skipped", report.Count(OutcomeSkipped)).
		Int("failed", report.Failed()).
		Int("cancelled", report.Count(OutcomeCancelled)).
		Int64("purged", report.Purged).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("ranking run finished")
	return report, nil
}

func (s *Service) processCategory(ctx context.Context, category domain.Category, day time.Time) (res CategoryResult) {
	started := s.now()
	res.CategoryID = category.ID
	logger := s.logger.With().Str("category", category.ID).Logger()
	defer func() { res.Duration = s.now().Sub(started) }()

	keyword := category.Keyword
	if keyword == "" {
		keyword = category.Name
	}
	search := s.searchRecords(ctx, keyword)
	res.Freshness = search.Freshness
	res.Fetched = len(search.Value)
	if search.Freshness == domain.Unavailable {
		res.Outcome = OutcomeSkipped
		res.Err = search.Err
		logger.Warn().Err(search.Err).Msg("no listings available, category skipped")
		return res
	}
	if search.Freshness == domain.Stale {
		logger.Warn().Err(search.Err).Time("captured_at", search.CapturedAt).Msg("using stale listings")
	}

	products := s.normalizeRecords(search.Value, category, search.Freshness)
	if search.Freshness == domain.Fresh && s.deps.Products != nil {
		if err := s.deps.Products.UpsertProducts(ctx, products); err != nil {
			logger.Warn().Err(err).Msg("failed to upsert products")
		}
	}

	qualified := s.deps.Ranker.FilterQualified(products)
	res.Qualified = len(qualified)

	entries, err := s.deps.Ranker.AnalyzeAndRankTopN(ctx, qualified, category, day, s.opts.TopN)
	if err != nil {
		res.Outcome = failureOutcome(ctx)
		res.Err = err
		logger.Error().Err(err).Msg("ranking failed")
		return res
	}
	s.applyRankChange(ctx, category.ID, day, entries)

	if err := s.deps.Rankings.SaveRanking(ctx, category.ID, day, entries); err != nil {
		res.Outcome = failureOutcome(ctx)
		res.Err = err
		logger.Error().Err(err).Msg("failed to save ranking")
		return res
	}

	res.Ranked = len(entries)
	res.Outcome = OutcomeSuccess
	logger.Info().
		Str("freshness", search.Freshness.String()).
		Int("fetched", res.Fetched).
		Int("qualified", res.Qualified).
		Int("ranked", res.Ranked).
		Msg("category ranked")
	return res
}

// searchRecords fetches and parses a search page through the fallback cache. Blocked
// pages and pages without records count as failed fetches.
func (s *Service) searchRecords(ctx context.Context, keyword string) cache.Result[[]domain.RawRecord] {
	key := cache.SearchKey(s.opts.Domain, keyword)
	return cache.GetOrFetch(ctx, s.deps.Cache, key, s.opts.SearchTTL, func(ctx context.Context) ([]domain.RawRecord, error) {
		payload, err := s.deps.Client.Search(ctx, keyword, s.opts.Domain)
		if err != nil {
			return nil, err
		}
		return parser.ParseSearchResults(payload.Body, keyword, payload.FetchedAt)
	})
}

func (s *Service) normalizeRecords(records []domain.RawRecord, category domain.Category, freshness domain.Freshness) []domain.CanonicalProduct {
	products := make([]domain.CanonicalProduct, 0, len(records))
	for _, rec := range records {
		source := rec.Source
		if source == "" {
			source = parser.Source
		}
		p, err := s.deps.Normalizer.Normalize(rec, source)
		if err != nil {
			s.logger.Debug().Err(err).Str("category", category.ID).Str("id", rec.ID).Msg("record dropped")
			continue
		}
		if p.CategoryID == "" {
			p.CategoryID = category.ID
		}
		p.Freshness = freshness
		products = append(products, p)
	}
	return products
}

// applyRankChange sets RankChange to yesterday's rank minus today's rank.
func (s *Service) applyRankChange(ctx context.Context, categoryID string, day time.Time, entries []domain.RankedEntry) {
	if len(entries) == 0 {
		return
	}
	prev, err := s.deps.Rankings.TopN(ctx, storage.TopNQuery{CategoryIDs: []string{categoryID}, Date: day.AddDate(0, 0, -1)})
	if err != nil {
		s.logger.Warn().Err(err).Str("category", categoryID).Msg("previous ranking unavailable")
		return
	}
	previous := make(map[string]int, len(prev))
	for _, e := range prev {
		previous[e.ProductID] = e.Rank
	}
	for i := range entries {
		if rank, ok := previous[entries[i].ProductID]; ok {
			change := rank - entries[i].Rank
			entries[i].RankChange = &change
		}
	}
}

func (s *Service) cleanup(ctx context.Context, report *RunReport) {
	cutoff := report.Date.AddDate(0, 0, -s.opts.RetentionDays)
	purged, err := s.deps.Rankings.PurgeOlderThan(context.WithoutCancel(ctx), cutoff)
	if err != nil {
		report.PurgeErr = err
		s.logger.Error().Err(err).Time("cutoff", cutoff).Msg("history cleanup failed")
		return
	}
	report.Purged = purged
	s.logger.Info().Time("cutoff", cutoff).Int64("purged", purged).Msg("history cleanup finished")
}

func (s *Service) alertIfNeeded(ctx context.Context, report *RunReport) {
	if len(report.Results) == 0 || report.FailureRate() <= s.opts.AlertFailureRate {
		return
	}
	report.Alerted = true
	if s.deps.Notifier == nil {
		s.logger.Warn().Int("failed", report.Failed()).Msg("failure threshold crossed but no notifier configured")
		return
	}

	failedIDs := ""
	for _, res := range report.Results {
		if res.Outcome != OutcomeFailed {
			continue
		}
		if failedIDs != "" {
			failedIDs += ", "
		}
		failedIDs += res.CategoryID
	}
	note := alerting.Notification{
		Kind:  alerting.KindRunFailure,
		Title: "Ranking run failure rate exceeded",
		At:    report.FinishedAt,
		Fields: []alerting.Field{
			{Label: "Run", Value: report.RunID.String()},
			{Label: "Date", Value: report.Date.Format("2006-01-02")},
			{Label: "Failed", Value: strconv.Itoa(report.Failed()) + "/" + strconv.Itoa(len(report.Results))},
			{Label: "Categories", Value: failedIDs},
		},
		Channels: s.opts.Channels,
	}
	if err := s.deps.Notifier.Notify(context.WithoutCancel(ctx), note); err != nil {
		s.logger.Error().Err(err).Msg("failed to dispatch run alert")
	}
}

// failureOutcome classifies a failed category; work interrupted by shutdown is cancelled,
// not failed.
func failureOutcome(ctx context.Context) Outcome {
	if ctx.Err() != nil {
		return OutcomeCancelled
	}
	return OutcomeFailed
}
