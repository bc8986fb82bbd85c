package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"breakout-radar/internal/domain"
)

//go:embed categories.yaml
var defaultCatalog []byte

// Catalog is the fixed set of categories and their groups.
type Catalog struct {
	Groups     []domain.CategoryGroup `yaml:"groups"`
	Categories []domain.Category      `yaml:"categories"`
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog file, or the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML catalog.
func Parse(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if len(c.Categories) == 0 {
		return fmt.Errorf("%w: catalog has no categories", domain.ErrValidation)
	}
	groups := make(map[string]struct{}, len(c.Groups))
	for _, g := range c.Groups {
		groups[g.ID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(c.Categories))
	for _, cat := range c.Categories {
		if cat.ID == "" || cat.Keyword == "" {
			return fmt.Errorf("%w: category %q needs id and keyword", domain.ErrValidation, cat.Name)
		}
		if _, dup := seen[cat.ID]; dup {
			return fmt.Errorf("%w: duplicate category id %q", domain.ErrValidation, cat.ID)
		}
		seen[cat.ID] = struct{}{}
		if cat.GroupID != "" {
			if _, ok := groups[cat.GroupID]; !ok {
				return fmt.Errorf("%w: category %q references unknown group %q", domain.ErrValidation, cat.ID, cat.GroupID)
			}
		}
	}
	return nil
}

// Category looks up a category by id.
func (c *Catalog) Category(id string) (domain.Category, bool) {
	for _, cat := range c.Categories {
		if cat.ID == id {
			return cat, true
		}
	}
	return domain.Category{}, false
}

// InGroup returns the ids of categories belonging to groupID.
func (c *Catalog) InGroup(groupID string) []string {
	ids := make([]string, 0)
	for _, cat := range c.Categories {
		if cat.GroupID == groupID {
			ids = append(ids, cat.ID)
		}
	}
	return ids
}

// HasGroup reports whether groupID is configured.
func (c *Catalog) HasGroup(groupID string) bool {
	for _, g := range c.Groups {
		if g.ID == groupID {
			return true
		}
	}
	return false
}
