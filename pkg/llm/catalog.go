package llm

import (
	"fmt"
	"sort"
)

// DefaultContextLimit is assumed for aliases absent from the catalog.
const DefaultContextLimit = 8192

// ModelSpec describes one alias in the model catalog.
type ModelSpec struct {
	Alias         string
	Provider      string
	ProviderModel string
	ContextLimit  int // total context window in tokens
	MaxOutput     int // provider hard cap on output tokens
}

// Catalog maps model aliases to provider models. Aliases are the only model
// identifiers the rest of the system uses; provider model names never leak
// past the gateway.
type Catalog struct {
	specs map[string]ModelSpec
}

func NewCatalog(specs []ModelSpec) (*Catalog, error) {
	m := make(map[string]ModelSpec, len(specs))
	for _, spec := range specs {
		if spec.Alias == "" {
			return nil, fmt.Errorf("model spec missing alias")
		}
		if spec.ContextLimit <= 0 {
			return nil, fmt.Errorf("model %s: context limit must be positive", spec.Alias)
		}
		if _, dup := m[spec.Alias]; dup {
			return nil, fmt.Errorf("duplicate model alias: %s", spec.Alias)
		}
		m[spec.Alias] = spec
	}
	return &Catalog{specs: m}, nil
}

// Resolve looks up an alias. Unknown aliases pass through to the provider
// unchanged, with a conservative context window.
func (c *Catalog) Resolve(alias string) ModelSpec {
	if spec, ok := c.specs[alias]; ok {
		return spec
	}
	return ModelSpec{
		Alias:         alias,
		ProviderModel: alias,
		ContextLimit:  DefaultContextLimit,
	}
}

// Aliases returns the known aliases, sorted.
func (c *Catalog) Aliases() []string {
	out := make([]string, 0, len(c.specs))
	for alias := range c.specs {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}
