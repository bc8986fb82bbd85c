package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"breakout-radar/internal/domain"
)

var (
	numberPattern = regexp.MustCompile(`\d[\d.,]*`)
	digitsOnly    = regexp.MustCompile(`[^\d]`)
	fiveStars     = decimal.NewFromInt(5)

	// Currency assumed when a record carries no currency marker.
	sourceCurrency = map[string]string{
		"amazon": "USD",
		"1688":   "CNY",
	}
)

// Options configure a Normalizer.
type Options struct {
	TargetCurrency string
	// Rates maps a source currency to the multiplier into TargetCurrency.
	Rates  map[string]decimal.Decimal
	Mapper *CategoryMapper
}

// Normalizer converts raw records into canonical products. It holds no mutable state.
type Normalizer struct {
	target string
	rates  map[string]decimal.Decimal
	mapper *CategoryMapper
}

// New builds a Normalizer. Currency codes are matched case-insensitively.
func New(opts Options) *Normalizer {
	target := strings.ToUpper(strings.TrimSpace(opts.TargetCurrency))
	if target == "" {
		target = "USD"
	}
	rates := make(map[string]decimal.Decimal, len(opts.Rates)+1)
	for code, rate := range opts.Rates {
		rates[strings.ToUpper(code)] = rate
	}
	if _, ok := rates[target]; !ok {
		rates[target] = decimal.NewFromInt(1)
	}
	return &Normalizer{target: target, rates: rates, mapper: opts.Mapper}
}

// RatesFromFloats converts configured float rates to decimals.
func RatesFromFloats(in map[string]float64) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for code, rate := range in {
		out[code] = decimal.NewFromFloat(rate)
	}
	return out
}

// Normalize maps rec to a CanonicalProduct. The result depends only on rec and source.
func (n *Normalizer) Normalize(rec domain.RawRecord, source string) (domain.CanonicalProduct, error) {
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return domain.CanonicalProduct{}, fmt.Errorf("%w: record without identifier", domain.ErrValidation)
	}
	if source == "" {
		source = rec.Source
	}

	currency := strings.ToUpper(rec.Currency)
	if currency == "" {
		currency = sourceCurrency[strings.ToLower(source)]
	}
	if currency == "" {
		currency = n.target
	}

	price := decimal.Zero
	if amount, ok := ParsePrice(rec.Price); ok {
		converted, err := n.Convert(amount, currency)
		if err != nil {
			return domain.CanonicalProduct{}, fmt.Errorf("normalize %s: %w", id, err)
		}
		price = converted
	}

	categoryID := ""
	if n.mapper != nil {
		categoryID = n.mapper.Resolve(rec.CategoryHint)
	}

	return domain.CanonicalProduct{
		ID:          id,
		Title:       strings.Join(strings.Fields(rec.Title), " "),
		Price:       price,
		Currency:    n.target,
		RankSignal:  ParseCount(rec.RankSignal),
		ReviewCount: ParseCount(rec.ReviewCount),
		Rating:      ParseRating(rec.Rating),
		ImageURL:    strings.TrimSpace(rec.ImageURL),
		CategoryID:  categoryID,
		Source:      source,
		UpdatedAt:   rec.FetchedAt,
	}, nil
}

// Convert multiplies amount by the fixed rate of currency and rounds half-up to 2 places.
// Negative amounts are rejected.
func (n *Normalizer) Convert(amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative price %s", domain.ErrValidation, amount)
	}
	rate, ok := n.rates[strings.ToUpper(currency)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no conversion rate for %s", domain.ErrValidation, currency)
	}
	return RoundHalfUp(amount.Mul(rate)), nil
}

// RoundHalfUp rounds a non-negative amount to 2 decimal places, ties away from zero.
func RoundHalfUp(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ParsePrice extracts the first number in a price label such as "$1,299.99",
// "19,99 €" or "$10.99 - $15.99".
func ParsePrice(label string) (decimal.Decimal, bool) {
	token := numberPattern.FindString(label)
	if token == "" {
		return decimal.Zero, false
	}
	token = strings.TrimRight(token, ".,")
	lastDot := strings.LastIndex(token, ".")
	lastComma := strings.LastIndex(token, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			token = strings.ReplaceAll(token, ".", "")
			token = strings.Replace(token, ",", ".", 1)
		} else {
			token = strings.ReplaceAll(token, ",", "")
		}
	case lastComma >= 0:
		if len(token)-lastComma-1 == 2 && strings.Count(token, ",") == 1 {
			token = strings.Replace(token, ",", ".", 1)
		} else {
			token = strings.ReplaceAll(token, ",", "")
		}
	case strings.Count(token, ".") > 1:
		token = strings.ReplaceAll(token, ".", "")
	}
	d, err := decimal.NewFromString(token)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParseRating parses a 0-5 star rating; anything outside the range is zero.
func ParseRating(label string) decimal.Decimal {
	label = strings.ReplaceAll(strings.TrimSpace(label), ",", ".")
	token := numberPattern.FindString(label)
	if token == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.TrimRight(token, "."))
	if err != nil || d.IsNegative() || d.GreaterThan(fiveStars) {
		return decimal.Zero
	}
	return d
}

// ParseCount parses counts such as "1,234", "#56" or "1.2K".
func ParseCount(label string) int64 {
	label = strings.TrimSpace(label)
	token := numberPattern.FindString(label)
	if token == "" {
		return 0
	}
	rest := strings.TrimSpace(label[strings.Index(label, token)+len(token):])
	multiplier := int64(0)
	if rest != "" && (len(rest) == 1 || !unicode.IsLetter(rune(rest[1]))) {
		switch rest[0] {
		case 'k', 'K':
			multiplier = 1_000
		case 'm', 'M':
			multiplier = 1_000_000
		}
	}
	if multiplier > 0 {
		d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimRight(token, ".,"), ",", "."))
		if err != nil {
			return 0
		}
		return d.Mul(decimal.NewFromInt(multiplier)).IntPart()
	}
	digits := digitsOnly.ReplaceAllString(token, "")
	if digits == "" {
		return 0
	}
	v, err := decimal.NewFromString(digits)
	if err != nil {
		return 0
	}
	return v.IntPart()
}
