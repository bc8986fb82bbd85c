package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Strategy extracts one field from a selection; empty means "no match".
type Strategy func(s *goquery.Selection) string

// Field is an ordered list of strategies tried until one yields a value.
type Field []Strategy

// Extract returns the first non-empty trimmed value produced by the strategies.
func (f Field) Extract(s *goquery.Selection) string {
	for _, strategy := range f {
		if v := strings.TrimSpace(strategy(s)); v != "" {
			return v
		}
	}
	return ""
}

// Text returns the text of the first element matching selector.
func Text(selector string) Strategy {
	return func(s *goquery.Selection) string {
		return collapse(s.Find(selector).First().Text())
	}
}

// Attr returns attr of the first element matching selector.
// An empty selector reads the attribute from s itself.
func Attr(selector, attr string) Strategy {
	return func(s *goquery.Selection) string {
		target := s
		if selector != "" {
			target = s.Find(selector).First()
		}
		v, _ := target.Attr(attr)
		return v
	}
}

// Joined concatenates the text of two selectors, used for split price markup.
func Joined(first, second, sep string) Strategy {
	return func(s *goquery.Selection) string {
		a := strings.TrimSpace(s.Find(first).First().Text())
		if a == "" {
			return ""
		}
		a = strings.TrimSuffix(a, ".")
		b := strings.TrimSpace(s.Find(second).First().Text())
		if b == "" {
			return a
		}
		return a + sep + b
	}
}

// Map post-processes the value of another strategy.
func Map(inner Strategy, fn func(string) string) Strategy {
	return func(s *goquery.Selection) string {
		v := inner(s)
		if v == "" {
			return ""
		}
		return fn(v)
	}
}

func collapse(v string) string {
	return strings.Join(strings.Fields(v), " ")
}
