package bridge

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	ports "github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/ports"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// CatalogEntry is one backend tool as declared in the catalog file.
type CatalogEntry struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Internal    bool           `yaml:"internal"`
	Parameters  map[string]any `yaml:"parameters"`
}

// Catalog lists the backend tools.
type Catalog struct {
	Tools []CatalogEntry `yaml:"tools"`
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() (Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog file, or the embedded catalog when path is empty.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("failed to read tool catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML catalog. Names must be unique and non-empty.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("failed to parse tool catalog: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Tools))
	for _, t := range c.Tools {
		if t.Name == "" {
			return Catalog{}, fmt.Errorf("tool catalog: entry without a name")
		}
		if _, dup := seen[t.Name]; dup {
			return Catalog{}, fmt.Errorf("tool catalog: duplicate tool %q", t.Name)
		}
		seen[t.Name] = struct{}{}
	}
	return c, nil
}

// Specs returns the specs of the tools offered to the model.
func (c Catalog) Specs() ([]ports.ToolSpec, error) {
	specs := make([]ports.ToolSpec, 0, len(c.Tools))
	for _, t := range c.Tools {
		if t.Internal {
			continue
		}
		spec := ports.ToolSpec{Name: t.Name, Description: t.Description}
		if len(t.Parameters) > 0 {
			raw, err := json.Marshal(t.Parameters)
			if err != nil {
				return nil, fmt.Errorf("encode parameters of %s: %w", t.Name, err)
			}
			spec.Parameters = raw
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
