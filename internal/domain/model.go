package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxRankedEntries bounds the ranked list stored per category and day.
const MaxRankedEntries = 20

// RawRecord is a loosely-typed bag of fields extracted from one marketplace payload.
// Every field except ID may be empty.
type RawRecord struct {
	ID           string
	Title        string
	Price        string
	Currency     string
	Rating       string
	ReviewCount  string
	RankSignal   string
	ImageURL     string
	CategoryHint string
	Source       string
	Query        string
	FetchedAt    time.Time
}

// CanonicalProduct is the normalized, source-independent view of an item.
type CanonicalProduct struct {
	ID          string
	Title       string
	Price       decimal.Decimal
	Currency    string
	RankSignal  int64
	ReviewCount int64
	Rating      decimal.Decimal
	ImageURL    string
	CategoryID  string
	Source      string
	Freshness   Freshness
	UpdatedAt   time.Time
}

// ScoredCandidate pairs a product with the external score it received.
type ScoredCandidate struct {
	Product    CanonicalProduct
	Score      decimal.Decimal
	Qualifying bool
}

// RankedEntry is one row of a category's daily Top-N list.
type RankedEntry struct {
	CategoryID string
	Date       time.Time
	ProductID  string
	Title      string
	Price      decimal.Decimal
	Score      decimal.Decimal
	Rank       int
	RankChange *int
	CreatedAt  time.Time
}

// Review is a single customer review parsed from a review page.
type Review struct {
	ID       string
	Author   string
	Rating   string
	Title    string
	Body     string
	Date     string
	Verified bool
}

// CategoryGroup is a higher-level grouping of categories.
type CategoryGroup struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Category is one entry of the fixed catalog the pipeline iterates over.
type Category struct {
	ID               string `yaml:"id"`
	GroupID          string `yaml:"group"`
	Name             string `yaml:"name"`
	Keyword          string `yaml:"keyword"`
	SourceCategoryID string `yaml:"source_category_id"`
}

// Freshness classifies a cache-layer read.
type Freshness int

const (
	Unavailable Freshness = iota
	Fresh
	Stale
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "unavailable"
	}
}

// Day truncates t to midnight UTC, the key used for daily rankings.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
