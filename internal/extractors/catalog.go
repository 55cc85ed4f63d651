package extractors

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog lists the metrics the extractor knows how to read.
type Catalog struct {
	direct  map[string]struct{}
	derived map[string]struct{}
}

// CatalogFile is the YAML root structure of a metric catalog.
type CatalogFile struct {
	Direct  []string `yaml:"direct"`
	Derived []string `yaml:"derived"`
}

var (
	defaultDirectMetrics  = []string{"overall_score", "pain_level", "fatigue_level", "stress_level", "sleep_quality", "mood"}
	defaultDerivedMetrics = []string{"symptom", "condition"}
)

// DefaultCatalog returns the built-in metric catalog.
func DefaultCatalog() *Catalog {
	return NewCatalog(defaultDirectMetrics, defaultDerivedMetrics)
}

// NewCatalog builds a catalog from direct field names and derived kinds.
func NewCatalog(direct, derived []string) *Catalog {
	c := &Catalog{
		direct:  make(map[string]struct{}, len(direct)),
		derived: make(map[string]struct{}, len(derived)),
	}
	for _, name := range direct {
		if name = strings.TrimSpace(name); name != "" {
			c.direct[name] = struct{}{}
		}
	}
	for _, kind := range derived {
		if kind = strings.TrimSpace(kind); kind != "" {
			c.derived[kind] = struct{}{}
		}
	}
	return c
}

// LoadCatalog reads a catalog from path. An empty path or a missing file yields the
// built-in catalog.
func LoadCatalog(path string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("metric catalog not found, using built-in catalog", slog.String("path", path))
			return DefaultCatalog(), nil
		}
		return nil, fmt.Errorf("read metric catalog: %w", err)
	}
	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse metric catalog: %w", err)
	}
	if len(file.Direct) == 0 && len(file.Derived) == 0 {
		return nil, fmt.Errorf("metric catalog %s defines no metrics", path)
	}
	return NewCatalog(file.Direct, file.Derived), nil
}

// IsDirect reports whether name is a known direct field.
func (c *Catalog) IsDirect(name string) bool {
	if c == nil {
		return false
	}
	_, ok := c.direct[name]
	return ok
}

// IsDerived reports whether kind is a known derived metric kind.
func (c *Catalog) IsDerived(kind string) bool {
	if c == nil {
		return false
	}
	_, ok := c.derived[kind]
	return ok
}
