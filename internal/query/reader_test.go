package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"breakout-radar/internal/cache"
	"breakout-radar/internal/catalog"
	"breakout-radar/internal/domain"
	"breakout-radar/internal/storage"
)

var today = time.Date(2026, 10, 8, 9, 0, 0, 0, time.UTC)

type countingStore struct {
	*storage.MemoryStore
	topN    int
	history int
}

func (c *countingStore) TopN(ctx context.Context, q storage.TopNQuery) ([]domain.RankedEntry, error) {
	c.topN++
	return c.MemoryStore.TopN(ctx, q)
}

func (c *countingStore) History(ctx context.Context, productID string, since time.Time) ([]domain.RankedEntry, error) {
	c.history++
	return c.MemoryStore.History(ctx, productID, since)
}

func testCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		Groups: []domain.CategoryGroup{{ID: "audio"}, {ID: "home"}},
		Categories: []domain.Category{
			{ID: "earbuds", GroupID: "audio", Keyword: "earbuds"},
			{ID: "speakers", GroupID: "audio", Keyword: "speakers"},
			{ID: "kettles", GroupID: "home", Keyword: "kettles"},
		},
	}
}

func save(t *testing.T, s *storage.MemoryStore, category string, day time.Time, products ...string) {
	t.Helper()
	entries := make([]domain.RankedEntry, len(products))
	for i, p := range products {
		entries[i] = domain.RankedEntry{
			CategoryID: category, Date: day, ProductID: p,
			Score: decimal.NewFromInt(int64(90 - 10*i)), Rank: i + 1,
		}
	}
	if err := s.SaveRanking(context.Background(), category, day, entries); err != nil {
		t.Fatal(err)
	}
}

func newTestReader() (*Reader, *countingStore) {
	store := &countingStore{MemoryStore: storage.NewMemoryStore()}
	clock := func() time.Time { return today }
	layer := cache.NewLayer(cache.NewMemoryStore(), zerolog.Nop()).WithClock(clock)
	r := NewReader(store, testCatalog(), layer, Options{TTL: time.Hour}, zerolog.Nop()).WithClock(clock)
	return r, store
}

func TestTopNDefaultsToTodayAndCaches(t *testing.T) {
	r, store := newTestReader()
	save(t, store.MemoryStore, "earbuds", domain.Day(today), "A", "B")

	for i := 0; i < 3; i++ {
		res, err := r.TopN(context.Background(), "earbuds", "", time.Time{}, 0)
		if err != nil {
			t.Fatal(err)
		}
		if res.NoData || len(res.Entries) != 2 || res.Entries[0].ProductID != "A" {
			t.Fatalf("unexpected result %#v", res)
		}
	}
	if store.topN != 1 {
		t.Fatalf("expected one store read behind the cache, got %d", store.topN)
	}
}

func TestTopNNoData(t *testing.T) {
	r, _ := newTestReader()
	res, err := r.TopN(context.Background(), "kettles", "", today.AddDate(0, 0, -3), 20)
	if err != nil {
		t.Fatalf("missing data must not be an error: %v", err)
	}
	if !res.NoData || res.Entries == nil {
		t.Fatalf("expected explicit no-data with empty entries, got %#v", res)
	}
}

func TestTopNGroupFilter(t *testing.T) {
	r, store := newTestReader()
	day := domain.Day(today)
	save(t, store.MemoryStore, "earbuds", day, "A", "B")
	save(t, store.MemoryStore, "speakers", day, "C")
	save(t, store.MemoryStore, "kettles", day, "K")

	res, err := r.TopN(context.Background(), "", "audio", day, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entries) != 3 {
		t.Fatalf("group should merge its categories, got %d", len(res.Entries))
	}
	for _, e := range res.Entries {
		if e.CategoryID == "kettles" {
			t.Fatalf("category outside the group leaked into results")
		}
	}

	outside, err := r.TopN(context.Background(), "kettles", "audio", day, 20)
	if err != nil || !outside.NoData {
		t.Fatalf("category outside group should be empty, got %#v %v", outside, err)
	}

	if _, err := r.TopN(context.Background(), "", "", day, 20); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation without category or group, got %v", err)
	}
	if _, err := r.TopN(context.Background(), "", "garden", day, 20); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown group, got %v", err)
	}
}

func TestHistoryWindow(t *testing.T) {
	r, store := newTestReader()
	for i := 0; i < 12; i++ {
		save(t, store.MemoryStore, "earbuds", domain.Day(today).AddDate(0, 0, -i), "A")
	}

	res, err := r.History(context.Background(), "A", 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Days != 7 || len(res.Entries) != 7 {
		t.Fatalf("default window should return 7 days, got %d entries over %d days", len(res.Entries), res.Days)
	}
	if !res.Entries[0].Date.Equal(domain.Day(today)) {
		t.Fatalf("history must start with today, got %v", res.Entries[0].Date)
	}
	for i := 1; i < len(res.Entries); i++ {
		if !res.Entries[i].Date.Before(res.Entries[i-1].Date) {
			t.Fatalf("history must be in descending date order")
		}
	}

	if got := r.ClampDays(90); got != 30 {
		t.Fatalf("days should be capped at 30, got %d", got)
	}
	res, _ = r.History(context.Background(), "A", 3)
	if len(res.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(res.Entries))
	}

	none, err := r.History(context.Background(), "Z", 7)
	if err != nil || !none.NoData {
		t.Fatalf("unknown product should yield no data, got %#v %v", none, err)
	}
	if _, err := r.History(context.Background(), "", 7); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("empty product id should be ErrValidation")
	}
}

func TestEmptyResultsAreNotCached(t *testing.T) {
	r, store := newTestReader()
	day := domain.Day(today)

	before, err := r.TopN(context.Background(), "earbuds", "", day, 20)
	if err != nil || !before.NoData {
		t.Fatalf("expected no data before the save, got %#v %v", before, err)
	}
	history, err := r.History(context.Background(), "A", 7)
	if err != nil || !history.NoData {
		t.Fatalf("expected no history before the save, got %#v %v", history, err)
	}

	save(t, store.MemoryStore, "earbuds", day, "A", "B")

	after, err := r.TopN(context.Background(), "earbuds", "", day, 20)
	if err != nil {
		t.Fatal(err)
	}
	if after.NoData || len(after.Entries) != 2 {
		t.Fatalf("ranking saved after an empty read must be visible, got %#v", after)
	}
	history, err = r.History(context.Background(), "A", 7)
	if err != nil {
		t.Fatal(err)
	}
	if history.NoData || len(history.Entries) != 1 {
		t.Fatalf("history saved after an empty read must be visible, got %#v", history)
	}

	if _, err := r.TopN(context.Background(), "earbuds", "", day, 20); err != nil {
		t.Fatal(err)
	}
	if store.topN != 2 {
		t.Fatalf("non-empty ranking should be served from cache, got %d store reads", store.topN)
	}
}

func TestTodayFollowsLocation(t *testing.T) {
	store := &countingStore{MemoryStore: storage.NewMemoryStore()}
	late := time.Date(2026, 10, 8, 20, 0, 0, 0, time.UTC)
	clock := func() time.Time { return late }
	layer := cache.NewLayer(cache.NewMemoryStore(), zerolog.Nop()).WithClock(clock)
	r := NewReader(store, testCatalog(), layer, Options{TTL: time.Hour, Location: time.FixedZone("UTC+8", 8*3600)}, zerolog.Nop()).WithClock(clock)

	local := time.Date(2026, 10, 9, 0, 0, 0, 0, time.UTC)
	save(t, store.MemoryStore, "earbuds", local, "A")
	save(t, store.MemoryStore, "earbuds", local.AddDate(0, 0, -2), "A")

	res, err := r.TopN(context.Background(), "earbuds", "", time.Time{}, 20)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Date.Equal(local) || res.NoData {
		t.Fatalf("default date should be the local day %v, got %v (no data %v)", local, res.Date, res.NoData)
	}

	history, err := r.History(context.Background(), "A", 2)
	if err != nil {
		t.Fatal(err)
	}
	if !history.Since.Equal(local.AddDate(0, 0, -1)) || len(history.Entries) != 1 {
		t.Fatalf("two-day window should start at %v, got %v with %d entries", local.AddDate(0, 0, -1), history.Since, len(history.Entries))
	}
}
