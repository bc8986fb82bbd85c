package app

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"breakout-radar/internal/cache"
	"breakout-radar/internal/catalog"
	"breakout-radar/internal/domain"
	"breakout-radar/internal/fetcher"
	"breakout-radar/internal/service"
	"breakout-radar/internal/storage"
)

// SimulateOptions configure a simulated run.
type SimulateOptions struct {
	// Failing is the number of categories whose scoring fails; negative means all.
	Failing int
}

// SimulateAlert 用静态页面和故障评分器跑一次完整流水线，验证告警链路。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) (service.RunReport, error) {
	if !a.Config.Alerting.Enabled {
		return service.RunReport{}, errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return service.RunReport{}, errors.New("未配置任何告警通道")
	}

	cat, err := a.loadCatalog()
	if err != nil {
		return service.RunReport{}, err
	}

	failing := make(map[string]bool)
	for i, c := range cat.Categories {
		if opts.Failing < 0 || i < opts.Failing {
			failing[c.ID] = true
		}
	}

	store := storage.NewMemoryStore()
	svc, err := service.New(a.serviceOptions(), service.Deps{
		Catalog:    cat,
		Client:     newStaticClient(cat),
		Cache:      cache.NewLayer(cache.NewMemoryStore(), a.Logger),
		Normalizer: a.newNormalizer(cat),
		Ranker:     a.newRanker(&simulatedScorer{failing: failing}),
		Rankings:   store,
		Products:   store,
		Runs:       store,
		Notifier:   notifier,
	}, a.Logger)
	if err != nil {
		return service.RunReport{}, err
	}

	report, err := svc.RunAll(ctx, a.today(), service.TriggerSimulated)
	if err != nil {
		return report, err
	}
	a.printReport(report)
	a.Logger.Info().
		Int("failed", report.Failed()).
		Int("total", len(report.Results)).
		Bool("alerted", report.Alerted).
		Msg("模拟运行完成")
	return report, nil
}

// staticClient serves synthetic marketplace pages for every catalog keyword.
type staticClient struct {
	keywords map[string]int
}

func newStaticClient(cat *catalog.Catalog) *staticClient {
	keywords := make(map[string]int, len(cat.Categories))
	for i, c := range cat.Categories {
		keywords[c.Keyword] = i
	}
	return &staticClient{keywords: keywords}
}

func simulatedID(category, item int) string {
	return fmt.Sprintf("SIM%04d%03d", category, item)
}

func (s *staticClient) Search(_ context.Context, keyword, _ string) (fetcher.Payload, error) {
	idx, ok := s.keywords[keyword]
	if !ok {
		return fetcher.Payload{}, fmt.Errorf("%w: unknown keyword %q", domain.ErrFetchFailed, keyword)
	}
	b := strings.Builder{}
	b.WriteString("<html><body>")
	for i := 0; i < 5; i++ {
		id := simulatedID(idx, i)
		fmt.Fprintf(&b, `<div data-component-type="s-search-result" data-asin="%s">
<h2><a href="/dp/%s"><span>%s sample %d</span></a></h2>
<span class="a-price"><span class="a-offscreen">$%d.99</span></span>
<span class="a-icon-alt">4.8 out of 5 stars</span>
<span class="a-size-base s-underline-text">5,000</span>
<span class="zg-bdg-text">#%d</span>
</div>`, id, id, keyword, i, 10+i, i+1)
	}
	b.WriteString("</body></html>")
	return fetcher.Payload{Body: []byte(b.String()), FetchedAt: time.Now().UTC()}, nil
}

func (s *staticClient) Detail(_ context.Context, itemID, _ string) (fetcher.Payload, error) {
	return fetcher.Payload{Body: []byte(staticDetail(itemID)), FetchedAt: time.Now().UTC()}, nil
}

func (s *staticClient) Reviews(_ context.Context, _, _ string) (fetcher.Payload, error) {
	return fetcher.Payload{Body: []byte("<html><body></body></html>"), FetchedAt: time.Now().UTC()}, nil
}

func (s *staticClient) BatchDetail(_ context.Context, urls []string) ([]fetcher.BatchResult, error) {
	out := make([]fetcher.BatchResult, len(urls))
	for i, u := range urls {
		out[i] = fetcher.BatchResult{URL: u, Payload: fetcher.Payload{Body: []byte(staticDetail(path.Base(u)))}}
	}
	return out, nil
}

func staticDetail(itemID string) string {
	return fmt.Sprintf(`<html><body><input id="ASIN" value="%s"><span id="productTitle">Sample %s</span>
<div id="corePrice_feature_div"><span class="a-price"><span class="a-offscreen">$19.99</span></span></div>
<span id="acrCustomerReviewText">5,000 ratings</span></body></html>`, itemID, itemID)
}

// simulatedScorer fails for the configured categories and scores the rest by position.
type simulatedScorer struct {
	failing map[string]bool
}

func (s *simulatedScorer) Score(_ context.Context, category domain.Category, products []domain.CanonicalProduct) (map[string]decimal.Decimal, error) {
	if s.failing[category.ID] {
		return nil, fmt.Errorf("%w: simulated scoring outage", domain.ErrScoringUnavailable)
	}
	out := make(map[string]decimal.Decimal, len(products))
	for i, p := range products {
		out[p.ID] = decimal.NewFromInt(int64(90 - i))
	}
	return out, nil
}

var _ fetcher.Client = (*staticClient)(nil)
