package derivative

import (
	"errors"
	"fmt"
	"regexp"

	"photoassets/internal/models"
)

// DefaultSize is the rendition served when a caller does not ask for one.
const DefaultSize = "medium"

var specNamePattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// Catalog is an ordered, immutable set of derivative specs. Generation walks
// specs in catalog order.
type Catalog struct {
	specs []models.DerivativeSpec
}

// DefaultCatalog returns the standard portfolio renditions.
func DefaultCatalog() Catalog {
	return Catalog{specs: []models.DerivativeSpec{
		{Name: "thumbnail", MaxWidth: 300, MaxHeight: 300, Quality: 85, Thumbnail: true},
		{Name: "small", MaxWidth: 600, MaxHeight: 600, Quality: 85},
		{Name: "medium", MaxWidth: 1200, MaxHeight: 1200, Quality: 90},
		{Name: "large", MaxWidth: 1920, MaxHeight: 1920, Quality: 95, KeepSmaller: true},
	}}
}

// NewCatalog validates specs and returns them as a catalog.
func NewCatalog(specs ...models.DerivativeSpec) (Catalog, error) {
	const op = "derivative.NewCatalog"

	if len(specs) == 0 {
		return Catalog{}, fmt.Errorf("%s: %w", op, errors.New("catalog is empty"))
	}
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if !specNamePattern.MatchString(s.Name) {
			return Catalog{}, fmt.Errorf("%s: invalid spec name %q", op, s.Name)
		}
		if seen[s.Name] {
			return Catalog{}, fmt.Errorf("%s: duplicate spec %q", op, s.Name)
		}
		seen[s.Name] = true
		if s.MaxWidth <= 0 || s.MaxHeight <= 0 {
			return Catalog{}, fmt.Errorf("%s: spec %q needs a positive box, got %dx%d", op, s.Name, s.MaxWidth, s.MaxHeight)
		}
		if s.Quality < 1 || s.Quality > 100 {
			return Catalog{}, fmt.Errorf("%s: spec %q quality %d out of range 1-100", op, s.Name, s.Quality)
		}
	}
	return Catalog{specs: append([]models.DerivativeSpec(nil), specs...)}, nil
}

// CatalogFromConfig uses the configured specs, or the default catalog when
// the config does not override it.
func CatalogFromConfig(cfg *models.Config) (Catalog, error) {
	if len(cfg.Derivatives) == 0 {
		return DefaultCatalog(), nil
	}
	return NewCatalog(cfg.Derivatives...)
}

// Specs returns a copy of the specs in catalog order.
func (c Catalog) Specs() []models.DerivativeSpec {
	return append([]models.DerivativeSpec(nil), c.specs...)
}

func (c Catalog) Lookup(name string) (models.DerivativeSpec, bool) {
	for _, s := range c.specs {
		if s.Name == name {
			return s, true
		}
	}
	return models.DerivativeSpec{}, false
}

func (c Catalog) Names() []string {
	names := make([]string, 0, len(c.specs))
	for _, s := range c.specs {
		names = append(names, s.Name)
	}
	return names
}

func (c Catalog) Len() int {
	return len(c.specs)
}

// specsIn returns the specs whose output lands in dir.
func (c Catalog) specsIn(dir string) []models.DerivativeSpec {
	var out []models.DerivativeSpec
	for _, s := range c.specs {
		if s.Dir() == dir {
			out = append(out, s)
		}
	}
	return out
}
