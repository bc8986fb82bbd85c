package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"breakout-radar/internal/domain"
)

// MaxSearchRecords bounds the records accepted from one search page.
const MaxSearchRecords = 20

// Source tags records produced by this parser.
const Source = "amazon"

var (
	itemIDPattern = regexp.MustCompile(`/(?:dp|gp/product)/([A-Z0-9]{10})`)
	ratingPattern = regexp.MustCompile(`([\d.,]+) out of 5`)
	rankPattern   = regexp.MustCompile(`#\s?([\d,]+)`)
	countPattern  = regexp.MustCompile(`[\d][\d,.]*\s*[KkMm]?`)

	challengeMarkers = []string{
		"type the characters you see in this image",
		"enter the characters you see below",
		"/errors/validatecaptcha",
		"captchacharacters",
		"to discuss automated access to amazon data",
	}
)

var (
	searchItems    = []string{"[data-component-type='s-search-result']", "div.s-result-item[data-asin], div[data-asin]"}
	searchID       = Field{Attr("", "data-asin"), Map(Attr("a[href*='/dp/']", "href"), itemIDFromURL)}
	searchTitle    = Field{Text("h2 a span"), Text("h2.a-size-mini a span"), Text("span.a-size-base-plus"), Attr("a.a-link-normal[title]", "title"), Text("h2")}
	searchPrice    = Field{Text("span.a-price .a-offscreen"), Joined("span.a-price-whole", "span.a-price-fraction", "."), Text("span.a-color-price")}
	searchRating   = Field{Map(Text("span.a-icon-alt"), ratingValue), Map(Attr("i[class*='a-star']", "aria-label"), ratingValue)}
	searchReviews  = Field{Map(Attr("a[href*='#customerReviews']", "aria-label"), countValue), Map(Text("span.a-size-base.s-underline-text"), countValue), Map(Text("a[href*='#reviews'] span"), countValue)}
	searchRank     = Field{Map(Text("span.zg-bdg-text"), rankValue), Map(Text(".a-badge-text"), rankValue)}
	searchImage    = Field{Attr("img.s-image", "src"), Attr("img.s-image", "data-src"), Attr("img", "src")}
	detailID       = Field{Attr("#ASIN", "value"), Attr("input[name='ASIN']", "value"), Attr("[data-asin]", "data-asin"), Map(Attr("link[rel='canonical']", "href"), itemIDFromURL)}
	detailTitle    = Field{Text("#productTitle"), Text("#title"), Text("h1.product-title")}
	detailPrice    = Field{Text("#corePrice_feature_div .a-price .a-offscreen"), Text(".a-price .a-offscreen"), Text("#priceblock_ourprice"), Text("#priceblock_dealprice")}
	detailRating   = Field{Map(Text("[data-hook='average-star-rating'] .a-icon-alt"), ratingValue), Map(Attr("#acrPopover", "title"), ratingValue)}
	detailReviews  = Field{Map(Text("#acrCustomerReviewText"), countValue), Map(Text("[data-hook='total-review-count']"), countValue)}
	detailRank     = Field{Map(Text("#SalesRank"), rankValue), Map(Text("#productDetails_detailBullets_sections1"), rankValue), Map(Text("#detailBulletsWrapper_feature_div"), rankValue)}
	detailImage    = Field{Attr("#landingImage", "data-old-hires"), Attr("#landingImage", "src"), Attr("#imgBlkFront", "src")}
	detailCategory = Field{Text("#wayfinding-breadcrumbs_feature_div ul li:last-child a"), Text("#nav-subnav .nav-a-content")}
	reviewTitle    = Field{Text("[data-hook='review-title'] span:not(.a-icon-alt)"), Text("[data-hook='review-title']")}
	reviewRating   = Field{Map(Text("[data-hook='review-star-rating'] .a-icon-alt"), ratingValue), Map(Text("i.a-icon-star .a-icon-alt"), ratingValue)}
)

// DetectChallenge reports whether payload looks like an anti-bot interstitial.
func DetectChallenge(payload []byte) bool {
	lower := bytes.ToLower(payload)
	for _, marker := range challengeMarkers {
		if bytes.Contains(lower, []byte(marker)) {
			return true
		}
	}
	return false
}

// ParseSearchResults extracts up to MaxSearchRecords records from a search page.
// A challenge page yields domain.ErrBlocked; a page without usable records yields domain.ErrParseEmpty.
func ParseSearchResults(payload []byte, query string, fetchedAt time.Time) ([]domain.RawRecord, error) {
	if DetectChallenge(payload) {
		return nil, domain.ErrBlocked
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParseEmpty, err)
	}

	var items *goquery.Selection
	for _, selector := range searchItems {
		items = doc.Find(selector)
		if items.Length() > 0 {
			break
		}
	}

	records := make([]domain.RawRecord, 0, MaxSearchRecords)
	seen := make(map[string]struct{})
	items.EachWithBreak(func(i int, item *goquery.Selection) bool {
		id := searchID.Extract(item)
		if id == "" {
			return true
		}
		if _, dup := seen[id]; dup {
			return true
		}
		seen[id] = struct{}{}

		price := searchPrice.Extract(item)
		records = append(records, domain.RawRecord{
			ID:          id,
			Title:       searchTitle.Extract(item),
			Price:       price,
			Currency:    currencyOf(price),
			Rating:      searchRating.Extract(item),
			ReviewCount: searchReviews.Extract(item),
			RankSignal:  searchRank.Extract(item),
			ImageURL:    searchImage.Extract(item),
			Source:      Source,
			Query:       query,
			FetchedAt:   fetchedAt,
		})
		return len(records) < MaxSearchRecords
	})

	if len(records) == 0 {
		return nil, domain.ErrParseEmpty
	}
	return records, nil
}

// ParseDetail extracts a single record from a product detail page.
// fallbackID is used when the page does not carry its own identifier.
func ParseDetail(payload []byte, fallbackID string, fetchedAt time.Time) (domain.RawRecord, error) {
	if DetectChallenge(payload) {
		return domain.RawRecord{}, domain.ErrBlocked
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return domain.RawRecord{}, fmt.Errorf("%w: %v", domain.ErrParseEmpty, err)
	}

	root := doc.Selection
	id := detailID.Extract(root)
	if id == "" {
		id = fallbackID
	}
	title := detailTitle.Extract(root)
	if id == "" || title == "" {
		return domain.RawRecord{}, domain.ErrParseEmpty
	}

	price := detailPrice.Extract(root)
	return domain.RawRecord{
		ID:           id,
		Title:        title,
		Price:        price,
		Currency:     currencyOf(price),
		Rating:       detailRating.Extract(root),
		ReviewCount:  detailReviews.Extract(root),
		RankSignal:   detailRank.Extract(root),
		ImageURL:     detailImage.Extract(root),
		CategoryHint: detailCategory.Extract(root),
		Source:       Source,
		FetchedAt:    fetchedAt,
	}, nil
}

// ParseReviews extracts customer reviews from a review page.
// An empty review list is valid and returns no error.
func ParseReviews(payload []byte) ([]domain.Review, error) {
	if DetectChallenge(payload) {
		return nil, domain.ErrBlocked
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParseEmpty, err)
	}

	reviews := make([]domain.Review, 0)
	doc.Find("[data-hook='review']").Each(func(i int, s *goquery.Selection) {
		id, _ := s.Attr("id")
		reviews = append(reviews, domain.Review{
			ID:       id,
			Author:   collapse(s.Find(".a-profile-name").First().Text()),
			Rating:   reviewRating.Extract(s),
			Title:    reviewTitle.Extract(s),
			Body:     collapse(s.Find("[data-hook='review-body']").First().Text()),
			Date:     collapse(s.Find("[data-hook='review-date']").First().Text()),
			Verified: s.Find("[data-hook='avp-badge']").Length() > 0,
		})
	})
	return reviews, nil
}

// ItemIDFromURL extracts a 10-character item identifier from a product URL.
func ItemIDFromURL(raw string) string {
	return itemIDFromURL(raw)
}

func itemIDFromURL(raw string) string {
	if m := itemIDPattern.FindStringSubmatch(raw); len(m) == 2 {
		return m[1]
	}
	return ""
}

func ratingValue(v string) string {
	if m := ratingPattern.FindStringSubmatch(v); len(m) == 2 {
		return strings.ReplaceAll(m[1], ",", ".")
	}
	return ""
}

func rankValue(v string) string {
	if m := rankPattern.FindStringSubmatch(v); len(m) == 2 {
		return strings.ReplaceAll(m[1], ",", "")
	}
	return ""
}

func countValue(v string) string {
	return strings.TrimSpace(countPattern.FindString(v))
}

func currencyOf(price string) string {
	switch {
	case price == "":
		return ""
	case strings.Contains(price, "$"):
		return "USD"
	case strings.Contains(price, "£"):
		return "GBP"
	case strings.Contains(price, "€"):
		return "EUR"
	case strings.Contains(price, "CNY"), strings.Contains(price, "RMB"), strings.Contains(price, "元"):
		return "CNY"
	case strings.Contains(price, "￥"), strings.Contains(price, "¥"):
		return "JPY"
	default:
		return ""
	}
}
