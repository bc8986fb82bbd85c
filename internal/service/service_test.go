package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"breakout-radar/internal/alerting"
	"breakout-radar/internal/cache"
	"breakout-radar/internal/catalog"
	"breakout-radar/internal/domain"
	"breakout-radar/internal/fetcher"
	"breakout-radar/internal/normalize"
	"breakout-radar/internal/scoring"
	"breakout-radar/internal/storage"
)

var runDay = time.Date(2026, 10, 8, 0, 0, 0, 0, time.UTC)

type fakeClient struct {
	mu      sync.Mutex
	items   map[string]int
	down    bool
	searchN int
	batches []int
}

func (f *fakeClient) Search(_ context.Context, keyword, _ string) (fetcher.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchN++
	n, ok := f.items[keyword]
	if f.down || !ok {
		return fetcher.Payload{}, fmt.Errorf("%w: connection refused", domain.ErrFetchFailed)
	}
	return fetcher.Payload{Body: []byte(searchPage(keyword, n)), FetchedAt: time.Now().UTC()}, nil
}

func (f *fakeClient) Detail(_ context.Context, itemID, _ string) (fetcher.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return fetcher.Payload{}, domain.ErrFetchFailed
	}
	return fetcher.Payload{Body: []byte(detailPage(itemID)), FetchedAt: time.Now().UTC()}, nil
}

func (f *fakeClient) Reviews(_ context.Context, _, _ string) (fetcher.Payload, error) {
	return fetcher.Payload{Body: []byte(`<html><body>
<div data-hook="review" id="R1"><span class="a-profile-name">Ann</span>
<a data-hook="review-title"><span>Great</span></a>
<span data-hook="review-body"><span>Loud and clear</span></span></div>
</body></html>`)}, nil
}

func (f *fakeClient) BatchDetail(_ context.Context, urls []string) ([]fetcher.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(urls) > fetcher.MaxBatchItems {
		return nil, domain.ErrValidation
	}
	f.batches = append(f.batches, len(urls))
	out := make([]fetcher.BatchResult, len(urls))
	for i, u := range urls {
		out[i] = fetcher.BatchResult{URL: u, Payload: fetcher.Payload{Body: []byte(detailPage(path.Base(u)))}}
	}
	return out, nil
}

func (f *fakeClient) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func itemID(keyword string, i int) string {
	upper := strings.ToUpper(keyword)
	return fmt.Sprintf("B%s%03d", upper[len(upper)-6:], i)
}

func searchPage(keyword string, n int) string {
	b := strings.Builder{}
	b.WriteString("<html><body>")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `<div data-component-type="s-search-result" data-asin="%s">
<h2><a href="/dp/%s"><span>%s item %d</span></a></h2>
<span class="a-price"><span class="a-offscreen">$%d.99</span></span>
<span class="a-icon-alt">4.5 out of 5 stars</span>
<span class="a-size-base s-underline-text">120</span>
</div>`, itemID(keyword, i), itemID(keyword, i), keyword, i, 10+i)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func detailPage(id string) string {
	return fmt.Sprintf(`<html><body><input id="ASIN" value="%s"><span id="productTitle">Item %s</span>
<div id="corePrice_feature_div"><span class="a-price"><span class="a-offscreen">$12.00</span></span></div>
<span id="acrCustomerReviewText">77 ratings</span></body></html>`, id, id)
}

type fakeScorer struct {
	mu       sync.Mutex
	failing  map[string]bool
	override map[string]int64
	calls    int
}

func (s *fakeScorer) Score(_ context.Context, category domain.Category, products []domain.CanonicalProduct) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failing[category.ID] {
		return nil, errors.New("scoring backend timeout")
	}
	out := make(map[string]decimal.Decimal, len(products))
	for i, p := range products {
		score := int64(50 + i)
		if v, ok := s.override[p.ID]; ok {
			score = v
		}
		out[p.ID] = decimal.NewFromInt(score)
	}
	return out, nil
}

type flakyStore struct {
	*storage.MemoryStore
	failSave map[string]bool
}

func (f *flakyStore) SaveRanking(ctx context.Context, categoryID string, date time.Time, entries []domain.RankedEntry) error {
	if f.failSave[categoryID] {
		return fmt.Errorf("%w: disk full", domain.ErrPersistence)
	}
	return f.MemoryStore.SaveRanking(ctx, categoryID, date, entries)
}

type brokenProducts struct {
	*storage.MemoryStore
}

func (b *brokenProducts) GetProduct(context.Context, string) (domain.CanonicalProduct, error) {
	return domain.CanonicalProduct{}, fmt.Errorf("%w: connection reset", domain.ErrPersistence)
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

type harness struct {
	svc      *Service
	client   *fakeClient
	scorer   *fakeScorer
	store    *storage.MemoryStore
	flaky    *flakyStore
	notifier *recordingNotifier
	clock    *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newHarness(t *testing.T, categories int, itemsPer int) *harness {
	t.Helper()
	cat := &catalog.Catalog{Groups: []domain.CategoryGroup{{ID: "audio", Name: "Audio"}}}
	client := &fakeClient{items: make(map[string]int)}
	for i := 0; i < categories; i++ {
		keyword := fmt.Sprintf("keyword%02d", i)
		cat.Categories = append(cat.Categories, domain.Category{
			ID: fmt.Sprintf("cat-%02d", i), GroupID: "audio", Name: keyword, Keyword: keyword,
		})
		client.items[keyword] = itemsPer
	}

	clock := &testClock{now: runDay.Add(2 * time.Hour)}
	scorer := &fakeScorer{failing: map[string]bool{}, override: map[string]int64{}}
	store := storage.NewMemoryStore()
	flaky := &flakyStore{MemoryStore: store, failSave: map[string]bool{}}
	notifier := &recordingNotifier{}
	logger := zerolog.Nop()

	svc, err := New(Options{Workers: 3, LockKey: 42}, Deps{
		Catalog: cat,
		Client:  client,
		Cache:   cache.NewLayer(cache.NewMemoryStore(), logger).WithClock(clock.Now),
		Normalizer: normalize.New(normalize.Options{
			TargetCurrency: "USD",
			Rates:          map[string]decimal.Decimal{"USD": decimal.NewFromInt(1)},
			Mapper:         normalize.NewCategoryMapper(cat.Categories),
		}),
		Ranker: scoring.NewRanker(scorer, scoring.Options{Thresholds: scoring.Thresholds{
			MinReviewCount: 1, MinRating: decimal.NewFromInt(3),
		}}, logger),
		Rankings: flaky,
		Products: store,
		Runs:     store,
		Notifier: notifier,
	}, logger)
	if err != nil {
		t.Fatal(err)
	}
	svc.WithClock(clock.Now)
	return &harness{svc: svc, client: client, scorer: scorer, store: store, flaky: flaky, notifier: notifier, clock: clock}
}

func TestRunAllIsolatesCategoryFailures(t *testing.T) {
	h := newHarness(t, 6, 5)
	h.scorer.failing["cat-01"] = true
	h.scorer.failing["cat-04"] = true
	h.flaky.failSave["cat-02"] = true

	report, err := h.svc.RunAll(context.Background(), runDay, TriggerManual)
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed() != 3 || report.Count(OutcomeSuccess) != 3 {
		t.Fatalf("expected 3 failed and 3 succeeded, got %d/%d", report.Failed(), report.Count(OutcomeSuccess))
	}
	if h.client.searchN != 6 || h.scorer.calls != 6 {
		t.Fatalf("every category must be attempted: searches=%d scores=%d", h.client.searchN, h.scorer.calls)
	}
	if !errors.Is(report.Results[1].Err, domain.ErrScoringUnavailable) {
		t.Fatalf("cat-01 should fail with ErrScoringUnavailable, got %v", report.Results[1].Err)
	}
	if !errors.Is(report.Results[2].Err, domain.ErrPersistence) {
		t.Fatalf("cat-02 should fail with ErrPersistence, got %v", report.Results[2].Err)
	}
	if report.Alerted || len(h.notifier.notes) != 0 {
		t.Fatalf("exactly half failing must not alert")
	}
	if h.store.Len("cat-00", runDay) != 5 || h.store.Len("cat-01", runDay) != 0 {
		t.Fatalf("unexpected stored rankings")
	}

	runs, _ := h.store.ListRecentRuns(context.Background(), 5)
	if len(runs) != 1 || runs[0].Failed != 3 || runs[0].Total != 6 || runs[0].ID != report.RunID {
		t.Fatalf("run summary not persisted: %#v", runs)
	}
}

func TestRunAllAlertsWhenMajorityFails(t *testing.T) {
	h := newHarness(t, 5, 3)
	for _, id := range []string{"cat-00", "cat-01", "cat-03"} {
		h.scorer.failing[id] = true
	}

	report, err := h.svc.RunAll(context.Background(), runDay, TriggerScheduled)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Alerted || len(h.notifier.notes) != 1 {
		t.Fatalf("3 of 5 failing should raise one alert, got %d", len(h.notifier.notes))
	}
	note := h.notifier.notes[0]
	if note.Kind != alerting.KindRunFailure {
		t.Fatalf("unexpected alert kind %q", note.Kind)
	}
	found := false
	for _, f := range note.Fields {
		if f.Label == "Failed" && f.Value == "3/5" {
			found = true
		}
	}
	if !found {
		t.Fatalf("alert should carry the failure tally: %#v", note.Fields)
	}
}

func TestUnavailableCategoryIsSkippedNotFailed(t *testing.T) {
	h := newHarness(t, 3, 4)
	h.client.setDown(true)

	report, err := h.svc.RunAll(context.Background(), runDay, TriggerManual)
	if err != nil {
		t.Fatal(err)
	}
	if report.Count(OutcomeSkipped) != 3 || report.Failed() != 0 || report.Alerted {
		t.Fatalf("unavailable listings must be skipped: %#v", report.Results)
	}
	if report.Results[0].Freshness != domain.Unavailable {
		t.Fatalf("expected unavailable freshness")
	}
	if h.scorer.calls != 0 {
		t.Fatalf("scoring must not run without listings")
	}
}

func TestStaleListingsStillRank(t *testing.T) {
	h := newHarness(t, 1, 4)
	if _, err := h.svc.RunAll(context.Background(), runDay, TriggerManual); err != nil {
		t.Fatal(err)
	}

	h.client.setDown(true)
	h.clock.Advance(time.Hour)
	report, err := h.svc.RunAll(context.Background(), runDay, TriggerManual)
	if err != nil {
		t.Fatal(err)
	}
	res := report.Results[0]
	if res.Freshness != domain.Stale || res.Outcome != OutcomeSuccess || res.Ranked != 4 {
		t.Fatalf("stale listings should still be ranked: %#v", res)
	}
}

func TestSecondRunSameDayReplacesRows(t *testing.T) {
	h := newHarness(t, 1, 8)
	for i := 0; i < 2; i++ {
		if _, err := h.svc.RunCategory(context.Background(), "cat-00", runDay.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatal(err)
		}
		h.clock.Advance(time.Hour)
	}

	hist, _ := h.store.History(context.Background(), itemID("keyword00", 0), runDay)
	if len(hist) != 1 {
		t.Fatalf("expected a single history row for the day, got %d", len(hist))
	}
	top, _ := h.store.TopN(context.Background(), storage.TopNQuery{CategoryIDs: []string{"cat-00"}, Date: runDay})
	if len(top) != 8 {
		t.Fatalf("expected 8 rows after two runs, got %d", len(top))
	}
}

func TestRunPurgesExpiredHistory(t *testing.T) {
	h := newHarness(t, 1, 2)
	ctx := context.Background()
	for _, offset := range []int{-8, -7} {
		d := runDay.AddDate(0, 0, offset)
		entries := []domain.RankedEntry{{CategoryID: "cat-00", Date: d, ProductID: "OLD", Score: decimal.NewFromInt(1), Rank: 1}}
		if err := h.store.SaveRanking(ctx, "cat-00", d, entries); err != nil {
			t.Fatal(err)
		}
	}

	report, err := h.svc.RunAll(ctx, runDay, TriggerManual)
	if err != nil {
		t.Fatal(err)
	}
	if report.Purged != 1 {
		t.Fatalf("expected one purged row, got %d", report.Purged)
	}
	if h.store.Len("cat-00", runDay.AddDate(0, 0, -8)) != 0 || h.store.Len("cat-00", runDay.AddDate(0, 0, -7)) != 1 {
		t.Fatalf("retention boundary not honoured")
	}
}

func TestRankChangeAgainstPreviousDay(t *testing.T) {
	h := newHarness(t, 1, 3)
	ctx := context.Background()
	if _, err := h.svc.RunAll(ctx, runDay.AddDate(0, 0, -1), TriggerManual); err != nil {
		t.Fatal(err)
	}

	// yesterday: item 2 ranked 1, item 0 ranked 3. Reverse the order today.
	h.scorer.override[itemID("keyword00", 0)] = 99
	h.scorer.override[itemID("keyword00", 2)] = 10
	h.clock.Advance(24 * time.Hour)
	if _, err := h.svc.RunAll(ctx, runDay, TriggerManual); err != nil {
		t.Fatal(err)
	}

	top, _ := h.store.TopN(ctx, storage.TopNQuery{CategoryIDs: []string{"cat-00"}, Date: runDay})
	if top[0].ProductID != itemID("keyword00", 0) || top[0].RankChange == nil || *top[0].RankChange != 2 {
		t.Fatalf("item 0 should climb by 2: %#v", top[0])
	}
	if top[2].RankChange == nil || *top[2].RankChange != -2 {
		t.Fatalf("item 2 should drop by 2: %#v", top[2])
	}
}

func TestCancelledRunMarksRemainingCategories(t *testing.T) {
	h := newHarness(t, 4, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.svc.RunAll(ctx, runDay, TriggerManual)
	if err != nil {
		t.Fatal(err)
	}
	if report.Count(OutcomeCancelled) != 4 || report.Failed() != 0 {
		t.Fatalf("expected every category cancelled: %#v", report.Results)
	}
}

func TestRunCategoryValidatesAndLocks(t *testing.T) {
	h := newHarness(t, 1, 2)
	if _, err := h.svc.RunCategory(context.Background(), "nope", runDay); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("unknown category should be ErrValidation, got %v", err)
	}

	unlock, ok, _ := h.store.TryAdvisoryLock(context.Background(), 42)
	if !ok {
		t.Fatal("lock should be free")
	}
	defer unlock()
	if _, err := h.svc.RunCategory(context.Background(), "cat-00", runDay); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	if err := h.svc.scheduledRun(context.Background(), runDay); err != nil {
		t.Fatalf("scheduled run should skip quietly when locked, got %v", err)
	}
}

func TestRefreshProductsSplitsBatches(t *testing.T) {
	h := newHarness(t, 1, 1)
	ids := make([]string, 23)
	for i := range ids {
		ids[i] = fmt.Sprintf("B0REFR%04d", i)
	}

	results, err := h.svc.RefreshProducts(context.Background(), ids)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 23 {
		t.Fatalf("expected 23 results, got %d", len(results))
	}
	if fmt.Sprint(h.client.batches) != "[10 10 3]" {
		t.Fatalf("unexpected batch sizes %v", h.client.batches)
	}
	p, err := h.store.GetProduct(context.Background(), "B0REFR0022")
	if err != nil || !p.Price.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("refreshed product not stored: %#v %v", p, err)
	}

	if _, err := h.svc.RefreshProducts(context.Background(), []string{"bad id"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("malformed id should be ErrValidation, got %v", err)
	}
}

func TestProductDetail(t *testing.T) {
	h := newHarness(t, 1, 1)
	ctx := context.Background()

	view, err := h.svc.ProductDetail(ctx, "B0DETAIL01", true)
	if err != nil {
		t.Fatal(err)
	}
	if view.Freshness != domain.Fresh || view.Product.Title != "Item B0DETAIL01" || view.Product.ReviewCount != 77 {
		t.Fatalf("unexpected fresh view %#v", view)
	}
	if len(view.Reviews) != 1 || view.ReviewsFreshness != domain.Fresh {
		t.Fatalf("expected one fresh review, got %#v", view.Reviews)
	}

	h.client.setDown(true)
	h.clock.Advance(2 * time.Hour)
	view, err = h.svc.ProductDetail(ctx, "B0DETAIL01", false)
	if err != nil || view.Freshness != domain.Stale || view.Product.ID != "B0DETAIL01" {
		t.Fatalf("expected stale cached detail: %#v %v", view, err)
	}

	_ = h.store.UpsertProducts(ctx, []domain.CanonicalProduct{{ID: "B0STORED01", Title: "stored", UpdatedAt: runDay}})
	view, err = h.svc.ProductDetail(ctx, "B0STORED01", false)
	if err != nil || view.Freshness != domain.Stale || view.Product.Title != "stored" || !view.CapturedAt.Equal(runDay) {
		t.Fatalf("expected stored product fallback: %#v %v", view, err)
	}

	view, err = h.svc.ProductDetail(ctx, "B0MISSING1", false)
	if err != nil || view.Freshness != domain.Unavailable {
		t.Fatalf("unknown product should be unavailable, got %#v %v", view, err)
	}
}

func TestProductDetailLogsStoredLookupFailure(t *testing.T) {
	h := newHarness(t, 1, 1)
	var logs bytes.Buffer
	h.svc.logger = zerolog.New(&logs)
	h.svc.deps.Products = &brokenProducts{MemoryStore: h.store}

	view, err := h.svc.ProductDetail(context.Background(), "B0DETAIL02", false)
	if err != nil {
		t.Fatalf("stored lookup failure must not fail a fresh detail: %v", err)
	}
	if view.Freshness != domain.Fresh || view.Product.Title != "Item B0DETAIL02" {
		t.Fatalf("unexpected view %#v", view)
	}
	if !strings.Contains(logs.String(), "failed to load stored product") || !strings.Contains(logs.String(), "connection reset") {
		t.Fatalf("expected a warning for the lookup failure, got %q", logs.String())
	}
	if _, err := h.store.GetProduct(context.Background(), "B0DETAIL02"); err != nil {
		t.Fatalf("fresh product should still be upserted: %v", err)
	}
}
