package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"breakout-radar/internal/domain"
)

const scorePath = "/score"

// Scorer returns a score per product id. Ids missing from the result were not scored.
type Scorer interface {
	Score(ctx context.Context, category domain.Category, products []domain.CanonicalProduct) (map[string]decimal.Decimal, error)
}

// ClientOptions parameterise the HTTP scoring client.
type ClientOptions struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client calls the external scoring capability over HTTP.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	logger   zerolog.Logger
}

// NewClient creates a reusable scoring client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		apiKey:   opts.APIKey,
		http:     &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "scoring_client").Logger(),
	}
}

type scoreRequest struct {
	Category   scoreCategory    `json:"category"`
	Candidates []scoreCandidate `json:"candidates"`
}

type scoreCategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type scoreCandidate struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Price       decimal.Decimal `json:"price"`
	Rating      decimal.Decimal `json:"rating"`
	ReviewCount int64           `json:"review_count"`
	RankSignal  int64           `json:"rank_signal"`
}

type scoreResponse struct {
	Scores []struct {
		ID    string          `json:"id"`
		Score decimal.Decimal `json:"score"`
	} `json:"scores"`
}

// Score posts the candidates and returns their scores. Any failure wraps domain.ErrScoringUnavailable.
func (c *Client) Score(ctx context.Context, category domain.Category, products []domain.CanonicalProduct) (map[string]decimal.Decimal, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("%w: scoring endpoint not configured", domain.ErrScoringUnavailable)
	}

	payload := scoreRequest{
		Category:   scoreCategory{ID: category.ID, Name: category.Name},
		Candidates: make([]scoreCandidate, 0, len(products)),
	}
	for _, p := range products {
		payload.Candidates = append(payload.Candidates, scoreCandidate{
			ID:          p.ID,
			Title:       p.Title,
			Price:       p.Price,
			Rating:      p.Rating,
			ReviewCount: p.ReviewCount,
			RankSignal:  p.RankSignal,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+scorePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: new request: %v", domain.ErrScoringUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrScoringUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrScoringUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrScoringUnavailable, err)
	}

	scores := make(map[string]decimal.Decimal, len(decoded.Scores))
	for _, s := range decoded.Scores {
		scores[s.ID] = s.Score
	}

	c.logger.Debug().Str("category", category.ID).
		Int("candidates", len(products)).
		Int("scored", len(scores)).
		Dur("duration", time.Since(started)).
		Msg("scoring call completed")
	return scores, nil
}

var _ Scorer = (*Client)(nil)
