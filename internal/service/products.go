package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"breakout-radar/internal/cache"
	"breakout-radar/internal/domain"
	"breakout-radar/internal/fetcher"
	"breakout-radar/internal/parser"
	"breakout-radar/internal/storage"
)

// ProductView is a product with its reviews and where they came from.
type ProductView struct {
	Product          domain.CanonicalProduct
	Freshness        domain.Freshness
	CapturedAt       time.Time
	Reviews          []domain.Review
	ReviewsFreshness domain.Freshness
}

// RefreshResult is the outcome of refreshing one product.
type RefreshResult struct {
	ItemID  string
	Product domain.CanonicalProduct
	Err     error
}

// ProductDetail loads one product through the detail cache, falling back to the
// last persisted copy when the marketplace is unreachable.
func (s *Service) ProductDetail(ctx context.Context, itemID string, withReviews bool) (ProductView, error) {
	itemID = strings.TrimSpace(itemID)
	if err := fetcher.ValidateItemID(itemID); err != nil {
		return ProductView{}, err
	}

	detail := cache.GetOrFetch(ctx, s.deps.Cache, cache.DetailKey(s.opts.Domain, itemID), s.opts.DetailTTL,
		func(ctx context.Context) (domain.RawRecord, error) {
			payload, err := s.deps.Client.Detail(ctx, itemID, s.opts.Domain)
			if err != nil {
				return domain.RawRecord{}, err
			}
			return parser.ParseDetail(payload.Body, itemID, payload.FetchedAt)
		})

	view := ProductView{Freshness: detail.Freshness, CapturedAt: detail.CapturedAt}
	switch detail.Freshness {
	case domain.Unavailable:
		stored, err := s.storedProduct(ctx, itemID)
		if err != nil {
			return ProductView{}, err
		}
		if stored != nil {
			view.Product = *stored
			view.Freshness = domain.Stale
			view.CapturedAt = stored.UpdatedAt
		}
	default:
		p, err := s.deps.Normalizer.Normalize(detail.Value, parser.Source)
		if err != nil {
			return ProductView{}, err
		}
		p.Freshness = detail.Freshness
		stored, err := s.storedProduct(ctx, itemID)
		if err != nil {
			s.logger.Warn().Err(err).Str("id", itemID).Msg("failed to load stored product")
		} else if stored != nil && p.CategoryID == "" {
			p.CategoryID = stored.CategoryID
		}
		if detail.Freshness == domain.Fresh && s.deps.Products != nil {
			if err := s.deps.Products.UpsertProducts(ctx, []domain.CanonicalProduct{p}); err != nil {
				s.logger.Warn().Err(err).Str("id", itemID).Msg("failed to upsert product")
			}
		}
		view.Product = p
	}

	if withReviews {
		reviews := cache.GetOrFetch(ctx, s.deps.Cache, cache.ReviewsKey(s.opts.Domain, itemID), s.opts.ReviewsTTL,
			func(ctx context.Context) ([]domain.Review, error) {
				payload, err := s.deps.Client.Reviews(ctx, itemID, s.opts.Domain)
				if err != nil {
					return nil, err
				}
				return parser.ParseReviews(payload.Body)
			})
		view.Reviews = reviews.Value
		view.ReviewsFreshness = reviews.Freshness
	}
	return view, nil
}

// RefreshProducts re-fetches the detail pages of itemIDs, splitting them into
// batches of at most fetcher.MaxBatchItems, and upserts every product parsed.
func (s *Service) RefreshProducts(ctx context.Context, itemIDs []string) ([]RefreshResult, error) {
	if len(itemIDs) == 0 {
		return nil, fmt.Errorf("%w: no item ids given", domain.ErrValidation)
	}
	urls := make([]string, len(itemIDs))
	for i, id := range itemIDs {
		u, err := fetcher.DetailURL(strings.TrimSpace(id), s.opts.Domain)
		if err != nil {
			return nil, err
		}
		urls[i] = u
	}

	results := make([]RefreshResult, 0, len(itemIDs))
	fresh := make([]domain.CanonicalProduct, 0, len(itemIDs))
	for start := 0; start < len(urls); start += fetcher.MaxBatchItems {
		end := min(start+fetcher.MaxBatchItems, len(urls))
		batch, err := s.deps.Client.BatchDetail(ctx, urls[start:end])
		if err != nil {
			return results, err
		}
		for i, item := range batch {
			id := strings.TrimSpace(itemIDs[start+i])
			res := RefreshResult{ItemID: id, Err: item.Err}
			if item.Err == nil {
				res.Product, res.Err = s.parseDetail(item.Payload, id)
			}
			if res.Err == nil {
				fresh = append(fresh, res.Product)
			}
			results = append(results, res)
		}
	}

	if len(fresh) > 0 && s.deps.Products != nil {
		if err := s.deps.Products.UpsertProducts(ctx, fresh); err != nil {
			return results, err
		}
	}
	return results, nil
}

func (s *Service) parseDetail(payload fetcher.Payload, itemID string) (domain.CanonicalProduct, error) {
	rec, err := parser.ParseDetail(payload.Body, itemID, payload.FetchedAt)
	if err != nil {
		return domain.CanonicalProduct{}, err
	}
	p, err := s.deps.Normalizer.Normalize(rec, parser.Source)
	if err != nil {
		return domain.CanonicalProduct{}, err
	}
	p.Freshness = domain.Fresh
	return p, nil
}

func (s *Service) storedProduct(ctx context.Context, itemID string) (*domain.CanonicalProduct, error) {
	if s.deps.Products == nil {
		return nil, nil
	}
	p, err := s.deps.Products.GetProduct(ctx, itemID)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNotConfigured) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
