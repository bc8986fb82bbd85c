package scoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"breakout-radar/internal/domain"
)

var (
	minScore = decimal.Zero
	maxScore = decimal.NewFromInt(100)
)

// Thresholds are the minimum-quality filters applied before scoring.
type Thresholds struct {
	MinReviewCount int64
	MinRating      decimal.Decimal
	RequireRank    bool
}

// Options tune the ranker.
type Options struct {
	Thresholds Thresholds
	Timeout    time.Duration
}

// Ranker filters candidates, scores them and selects the ordered Top-N.
type Ranker struct {
	scorer     Scorer
	thresholds Thresholds
	timeout    time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

// NewRanker builds a Ranker around scorer.
func NewRanker(scorer Scorer, opts Options, logger zerolog.Logger) *Ranker {
	return &Ranker{
		scorer:     scorer,
		thresholds: opts.Thresholds,
		timeout:    opts.Timeout,
		logger:     logger.With().Str("component", "ranker").Logger(),
		now:        time.Now,
	}
}

// FilterQualified keeps products with a positive price that meet the review, rating and
// rank thresholds. Input order is preserved.
func (r *Ranker) FilterQualified(products []domain.CanonicalProduct) []domain.CanonicalProduct {
	out := make([]domain.CanonicalProduct, 0, len(products))
	for _, p := range products {
		if !p.Price.IsPositive() {
			continue
		}
		if p.ReviewCount < r.thresholds.MinReviewCount {
			continue
		}
		if p.Rating.LessThan(r.thresholds.MinRating) {
			continue
		}
		if r.thresholds.RequireRank && p.RankSignal <= 0 {
			continue
		}
		out = append(out, p)
	}
	return out
}

// AnalyzeAndRankTopN scores qualified products and returns at most n entries ordered by
// descending score, ties broken by ascending product id, with ranks 1..len.
// A scoring failure fails the whole call with domain.ErrScoringUnavailable.
func (r *Ranker) AnalyzeAndRankTopN(ctx context.Context, products []domain.CanonicalProduct, category domain.Category, date time.Time, n int) ([]domain.RankedEntry, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: top-n must be positive, got %d", domain.ErrValidation, n)
	}
	if n > domain.MaxRankedEntries {
		n = domain.MaxRankedEntries
	}
	if len(products) == 0 {
		return []domain.RankedEntry{}, nil
	}
	if r.scorer == nil {
		return nil, fmt.Errorf("%w: no scorer configured", domain.ErrScoringUnavailable)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	scores, err := r.scorer.Score(ctx, category, products)
	if err != nil {
		return nil, fmt.Errorf("score category %s: %w", category.ID, asUnavailable(err))
	}

	candidates := Candidates(products, scores)
	qualifying := make([]domain.ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Qualifying {
			qualifying = append(qualifying, c)
		}
	}
	if dropped := len(candidates) - len(qualifying); dropped > 0 {
		r.logger.Warn().Str("category", category.ID).Int("dropped", dropped).Msg("candidates without a valid score")
	}

	sort.SliceStable(qualifying, func(i, j int) bool {
		if c := qualifying[i].Score.Cmp(qualifying[j].Score); c != 0 {
			return c > 0
		}
		return qualifying[i].Product.ID < qualifying[j].Product.ID
	})
	if len(qualifying) > n {
		qualifying = qualifying[:n]
	}

	day := domain.Day(date)
	created := r.now().UTC()
	entries := make([]domain.RankedEntry, 0, len(qualifying))
	for i, c := range qualifying {
		entries = append(entries, domain.RankedEntry{
			CategoryID: category.ID,
			Date:       day,
			ProductID:  c.Product.ID,
			Title:      c.Product.Title,
			Price:      c.Product.Price,
			Score:      c.Score,
			Rank:       i + 1,
			CreatedAt:  created,
		})
	}
	return entries, nil
}

// Candidates pairs products with their scores. A missing or out-of-range score marks the
// candidate non-qualifying.
func Candidates(products []domain.CanonicalProduct, scores map[string]decimal.Decimal) []domain.ScoredCandidate {
	out := make([]domain.ScoredCandidate, 0, len(products))
	seen := make(map[string]struct{}, len(products))
	for _, p := range products {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		score, ok := scores[p.ID]
		valid := ok && !score.LessThan(minScore) && !score.GreaterThan(maxScore)
		out = append(out, domain.ScoredCandidate{Product: p, Score: score, Qualifying: valid})
	}
	return out
}

func asUnavailable(err error) error {
	if errors.Is(err, domain.ErrScoringUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrScoringUnavailable, err)
}
