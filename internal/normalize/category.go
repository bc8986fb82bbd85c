package normalize

import (
	"strings"

	"breakout-radar/internal/domain"
)

const minTokenLen = 3

// CategoryMapper resolves free-text category hints to configured category ids.
type CategoryMapper struct {
	categories []domain.Category
}

// NewCategoryMapper builds a mapper over the fixed catalog, preserving its order.
func NewCategoryMapper(categories []domain.Category) *CategoryMapper {
	cp := make([]domain.Category, len(categories))
	copy(cp, categories)
	return &CategoryMapper{categories: cp}
}

// Resolve returns the id of the matching category, or "" when none matches.
// Matching order: source category id, exact name or id, containment either way,
// then any shared word of at least three letters. The first catalog entry wins at each step.
func (m *CategoryMapper) Resolve(hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" || len(m.categories) == 0 {
		return ""
	}
	lower := strings.ToLower(hint)

	for _, c := range m.categories {
		if c.SourceCategoryID != "" && c.SourceCategoryID == hint {
			return c.ID
		}
	}
	for _, c := range m.categories {
		if strings.ToLower(c.Name) == lower || strings.ToLower(c.ID) == lower {
			return c.ID
		}
	}
	for _, c := range m.categories {
		name := strings.ToLower(c.Name)
		if name == "" {
			continue
		}
		if strings.Contains(lower, name) || strings.Contains(name, lower) {
			return c.ID
		}
	}
	hintTokens := tokens(lower)
	for _, c := range m.categories {
		for candidate := range tokens(strings.ToLower(c.Name)) {
			if _, ok := hintTokens[candidate]; ok {
				return c.ID
			}
		}
	}
	return ""
}

// Known reports whether id names a configured category.
func (m *CategoryMapper) Known(id string) bool {
	for _, c := range m.categories {
		if c.ID == id {
			return true
		}
	}
	return false
}

func tokens(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	}) {
		if len([]rune(f)) >= minTokenLen {
			out[f] = struct{}{}
		}
	}
	return out
}
