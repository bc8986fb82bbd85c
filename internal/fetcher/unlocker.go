package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"breakout-radar/internal/domain"
	"breakout-radar/internal/parser"
)

const (
	requestPath   = "/request"
	defaultDomain = "amazon.com"

	KindSearch  = "search"
	KindDetail  = "detail"
	KindReviews = "reviews"
	KindBatch   = "batch"
)

var (
	itemIDPattern  = regexp.MustCompile(`^[A-Z0-9]{10}$`)
	allowedDomains = map[string]struct{}{
		"amazon.com":   {},
		"amazon.co.uk": {},
		"amazon.de":    {},
		"amazon.co.jp": {},
	}
)

// UnlockerOptions parameterise the proxied marketplace client.
type UnlockerOptions struct {
	BaseURL       string
	APIKey        string
	Zone          string
	Domain        string
	Timeout       time.Duration
	UserAgent     string
	RatePerSecond float64
	Burst         int
	Recorder      Recorder
}

// Unlocker fetches marketplace pages through a web-unlocker style proxy API.
type Unlocker struct {
	opts    UnlockerOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
	now     func() time.Time
}

// NewUnlocker constructs a marketplace client.
func NewUnlocker(opts UnlockerOptions, logger zerolog.Logger) *Unlocker {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.Domain == "" {
		opts.Domain = defaultDomain
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Unlocker{
		opts:    opts,
		logger:  logger.With().Str("component", "marketplace_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
}

// Search fetches the search-result page for keyword.
func (u *Unlocker) Search(ctx context.Context, keyword, domainVariant string) (Payload, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return Payload{}, fmt.Errorf("%w: empty search keyword", domain.ErrValidation)
	}
	host, err := u.host(domainVariant)
	if err != nil {
		return Payload{}, err
	}
	target := fmt.Sprintf("https://www.%s/s?k=%s", host, url.QueryEscape(keyword))
	return u.fetch(ctx, KindSearch, keyword, target)
}

// Detail fetches the product page of itemID.
func (u *Unlocker) Detail(ctx context.Context, itemID, domainVariant string) (Payload, error) {
	target, err := u.itemURL(itemID, domainVariant, "dp")
	if err != nil {
		return Payload{}, err
	}
	return u.fetch(ctx, KindDetail, itemID, target)
}

// Reviews fetches the first review page of itemID.
func (u *Unlocker) Reviews(ctx context.Context, itemID, domainVariant string) (Payload, error) {
	target, err := u.itemURL(itemID, domainVariant, "product-reviews")
	if err != nil {
		return Payload{}, err
	}
	return u.fetch(ctx, KindReviews, itemID, target)
}

// BatchDetail fetches up to MaxBatchItems product URLs concurrently.
// Oversized or empty batches fail with domain.ErrValidation before any request is made.
func (u *Unlocker) BatchDetail(ctx context.Context, urls []string) ([]BatchResult, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: batch requires at least one url", domain.ErrValidation)
	}
	if len(urls) > MaxBatchItems {
		return nil, fmt.Errorf("%w: batch of %d urls exceeds limit of %d", domain.ErrValidation, len(urls), MaxBatchItems)
	}
	for _, raw := range urls {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Host == "" {
			return nil, fmt.Errorf("%w: invalid url %q", domain.ErrValidation, raw)
		}
	}

	results := make([]BatchResult, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxBatchItems)
	for i, raw := range urls {
		i, raw := i, raw
		g.Go(func() error {
			payload, err := u.fetch(gctx, KindBatch, raw, raw)
			results[i] = BatchResult{URL: raw, Payload: payload, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (u *Unlocker) host(variant string) (string, error) {
	if strings.TrimSpace(variant) == "" {
		variant = u.opts.Domain
	}
	return resolveHost(variant)
}

func resolveHost(variant string) (string, error) {
	variant = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(variant)), "www.")
	if variant == "" {
		variant = defaultDomain
	}
	if _, ok := allowedDomains[variant]; !ok {
		return "", fmt.Errorf("%w: unsupported marketplace domain %q", domain.ErrValidation, variant)
	}
	return variant, nil
}

func (u *Unlocker) itemURL(itemID, variant, path string) (string, error) {
	if err := ValidateItemID(itemID); err != nil {
		return "", err
	}
	host, err := u.host(variant)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://www.%s/%s/%s", host, path, itemID), nil
}

// ValidateItemID reports whether itemID has the marketplace identifier shape.
func ValidateItemID(itemID string) error {
	if !itemIDPattern.MatchString(itemID) {
		return fmt.Errorf("%w: malformed item id %q", domain.ErrValidation, itemID)
	}
	return nil
}

// DetailURL builds the product page URL of itemID on domainVariant.
func DetailURL(itemID, domainVariant string) (string, error) {
	if err := ValidateItemID(itemID); err != nil {
		return "", err
	}
	host, err := resolveHost(domainVariant)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://www.%s/dp/%s", host, itemID), nil
}

func (u *Unlocker) fetch(ctx context.Context, kind, query, target string) (Payload, error) {
	started := u.now()
	payload, err := u.do(ctx, kind, target)

	event := u.logger.Info()
	outcome := "ok"
	if err != nil {
		event = u.logger.Warn().Err(err)
		outcome = "failed"
		if errors.Is(err, domain.ErrBlocked) {
			outcome = "blocked"
		}
	}
	event.Str("kind", kind).
		Str("query", query).
		Str("url", target).
		Str("outcome", outcome).
		Time("requested_at", started).
		Dur("duration", u.now().Sub(started)).
		Msg("marketplace request")

	return payload, err
}

func (u *Unlocker) do(ctx context.Context, kind, target string) (Payload, error) {
	if u.baseURL == "" || u.opts.APIKey == "" {
		return Payload{}, fmt.Errorf("%w: marketplace access point not configured", domain.ErrFetchFailed)
	}
	if err := u.limiter.Wait(ctx); err != nil {
		return Payload{}, fmt.Errorf("%w: rate limiter: %v", domain.ErrFetchFailed, err)
	}
	if u.opts.Recorder != nil {
		u.opts.Recorder.Record(ctx, kind)
	}

	body, err := json.Marshal(unlockRequest{Zone: u.opts.Zone, URL: target, Format: "raw"})
	if err != nil {
		return Payload{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, u.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+requestPath, bytes.NewReader(body))
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", domain.ErrFetchFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+u.opts.APIKey)
	if ua := strings.TrimSpace(u.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", domain.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: read body: %v", domain.ErrFetchFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Payload{}, fmt.Errorf("%w: %w", domain.ErrFetchFailed, &HTTPError{URL: target, StatusCode: resp.StatusCode, Body: raw})
	}

	encoding := resp.Header.Get("Content-Encoding")
	decoded, err := decode(raw, encoding)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: decode %s payload: %v", domain.ErrFetchFailed, encoding, err)
	}
	if parser.DetectChallenge(decoded) {
		return Payload{}, fmt.Errorf("%w: %w", domain.ErrFetchFailed, domain.ErrBlocked)
	}

	return Payload{URL: target, Body: decoded, Encoding: encoding, FetchedAt: u.now().UTC()}, nil
}

type unlockRequest struct {
	Zone   string `json:"zone"`
	URL    string `json:"url"`
	Format string `json:"format"`
}

// HTTPError carries status and a body snippet for non-2xx upstream responses.
type HTTPError struct {
	URL        string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("marketplace error (%d) %s: %s", e.StatusCode, e.URL, snippet(e.Body, 300))
}

func snippet(b []byte, max int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

var _ Client = (*Unlocker)(nil)
