package query

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"breakout-radar/internal/cache"
	"breakout-radar/internal/catalog"
	"breakout-radar/internal/domain"
	"breakout-radar/internal/scheduler"
	"breakout-radar/internal/storage"
)

// Options tune the read paths.
type Options struct {
	TTL         time.Duration
	DefaultDays int
	MaxDays     int
	// Location decides which calendar date is today. Nil means UTC.
	Location *time.Location
}

// TopNResult is a day's ranking for a category or group.
type TopNResult struct {
	Date       time.Time
	CategoryID string
	GroupID    string
	Entries    []domain.RankedEntry
	NoData     bool
}

// HistoryResult is a product's ranking history, newest first.
type HistoryResult struct {
	ProductID string
	Since     time.Time
	Days      int
	Entries   []domain.RankedEntry
	NoData    bool
}

// Reader serves Top-N and history queries through a read-through cache.
type Reader struct {
	store   storage.RankingStore
	catalog *catalog.Catalog
	cache   *cache.Layer
	opts    Options
	now     func() time.Time
	logger  zerolog.Logger
}

// NewReader builds a Reader. A nil layer uses an in-memory cache.
func NewReader(store storage.RankingStore, cat *catalog.Catalog, layer *cache.Layer, opts Options, logger zerolog.Logger) *Reader {
	if layer == nil {
		layer = cache.NewLayer(nil, logger)
	}
	if opts.TTL <= 0 {
		opts.TTL = 6 * time.Hour
	}
	if opts.DefaultDays <= 0 {
		opts.DefaultDays = 7
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = 30
	}
	return &Reader{
		store:   store,
		catalog: cat,
		cache:   layer,
		opts:    opts,
		now:     time.Now,
		logger:  logger.With().Str("component", "query").Logger(),
	}
}

// WithClock overrides the time source.
func (r *Reader) WithClock(now func() time.Time) *Reader {
	r.now = now
	return r
}

// TopN returns the ranking of categoryID, or of every category in groupID merged by
// score, for date (zero means today). When both are set the category must belong to
// the group, otherwise the result is empty.
func (r *Reader) TopN(ctx context.Context, categoryID, groupID string, date time.Time, limit int) (TopNResult, error) {
	day := r.today()
	if !date.IsZero() {
		day = domain.Day(date)
	}
	if limit <= 0 || limit > domain.MaxRankedEntries {
		limit = domain.MaxRankedEntries
	}

	ids, err := r.resolveCategories(categoryID, groupID)
	if err != nil {
		return TopNResult{}, err
	}
	result := TopNResult{Date: day, CategoryID: categoryID, GroupID: groupID, Entries: []domain.RankedEntry{}}
	if len(ids) == 0 {
		result.NoData = true
		return result, nil
	}

	key := cache.TopNKey(categoryID, groupID, day, limit)
	entries, err := cache.ReadThrough(ctx, r.cache, key, r.opts.TTL, func(ctx context.Context) ([]domain.RankedEntry, error) {
		return r.store.TopN(ctx, storage.TopNQuery{CategoryIDs: ids, Date: day, Limit: limit})
	}, nonEmpty)
	if err != nil {
		return TopNResult{}, fmt.Errorf("top-n %s/%s: %w", categoryID, groupID, err)
	}
	result.Entries = entries
	result.NoData = len(entries) == 0
	return result, nil
}

// History returns productID's entries over the last days days, today included.
// days <= 0 uses the default window; larger values are capped.
func (r *Reader) History(ctx context.Context, productID string, days int) (HistoryResult, error) {
	if productID == "" {
		return HistoryResult{}, fmt.Errorf("%w: product id is required", domain.ErrValidation)
	}
	days = r.ClampDays(days)
	since := r.today().AddDate(0, 0, -(days - 1))

	key := cache.HistoryKey(productID, since, days)
	entries, err := cache.ReadThrough(ctx, r.cache, key, r.opts.TTL, func(ctx context.Context) ([]domain.RankedEntry, error) {
		return r.store.History(ctx, productID, since)
	}, nonEmpty)
	if err != nil {
		return HistoryResult{}, fmt.Errorf("history %s: %w", productID, err)
	}
	return HistoryResult{
		ProductID: productID,
		Since:     since,
		Days:      days,
		Entries:   entries,
		NoData:    len(entries) == 0,
	}, nil
}

// today is the current calendar date in the configured location, stored as UTC
// midnight like every ranking date.
func (r *Reader) today() time.Time {
	now := r.now()
	if r.opts.Location != nil {
		now = now.In(r.opts.Location)
	}
	return scheduler.RunDay(now)
}

// Empty results are not cached so a ranking saved later shows up on the next read.
func nonEmpty(entries []domain.RankedEntry) bool {
	return len(entries) > 0
}

// ClampDays applies the default and maximum history window.
func (r *Reader) ClampDays(days int) int {
	if days <= 0 {
		return r.opts.DefaultDays
	}
	if days > r.opts.MaxDays {
		return r.opts.MaxDays
	}
	return days
}

func (r *Reader) resolveCategories(categoryID, groupID string) ([]string, error) {
	switch {
	case categoryID != "":
		cat, ok := r.catalog.Category(categoryID)
		if !ok {
			return nil, fmt.Errorf("%w: unknown category %q", domain.ErrValidation, categoryID)
		}
		if groupID != "" && cat.GroupID != groupID {
			r.logger.Debug().Str("category", categoryID).Str("group", groupID).Msg("category outside requested group")
			return nil, nil
		}
		return []string{categoryID}, nil
	case groupID != "":
		if !r.catalog.HasGroup(groupID) {
			return nil, fmt.Errorf("%w: unknown group %q", domain.ErrValidation, groupID)
		}
		return r.catalog.InGroup(groupID), nil
	default:
		return nil, fmt.Errorf("%w: category or group is required", domain.ErrValidation)
	}
}
