package tool

import (
	"sort"
)

// Registry holds the tools available in this deployment. Agents get a view of
// it filtered by their permission list.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	m := make(map[string]Tool, len(tools))
	for _, t := range tools {
		m[t.GetInfo().Name] = t
	}
	return &Registry{tools: m}
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// ForPermissions returns the granted subset, sorted by name. Unknown
// permission entries are ignored rather than failing the turn.
func (r *Registry) ForPermissions(permissions []string) []Tool {
	var out []Tool
	seen := make(map[string]bool)
	for _, name := range permissions {
		if seen[name] {
			continue
		}
		seen[name] = true
		if t, ok := r.tools[name]; ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].GetInfo().Name < out[j].GetInfo().Name
	})
	return out
}
