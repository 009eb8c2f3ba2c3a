package providers

import (
	"fmt"
	"sort"
)

// Registry holds the providers available to an orchestrator instance.
// It is built explicitly at startup and injected; construction panics
// on duplicates because a collision is always a wiring bug.
type Registry struct {
	byName map[string]Provider
	byType map[string]Provider
}

// NewRegistry builds a registry from the given providers.
func NewRegistry(provs ...Provider) *Registry {
	r := &Registry{
		byName: make(map[string]Provider),
		byType: make(map[string]Provider),
	}
	for _, p := range provs {
		r.Register(p)
	}
	return r
}

// Register adds a provider, panicking if its name or type is taken.
func (r *Registry) Register(p Provider) {
	name := p.Name()
	if _, exists := r.byName[name]; exists {
		panic(fmt.Sprintf("provider already registered: %s", name))
	}
	ptype := p.ProviderType()
	if _, exists := r.byType[ptype]; exists {
		panic(fmt.Sprintf("provider type already registered: %s", ptype))
	}
	r.byName[name] = p
	r.byType[ptype] = p
}

// ByName looks a provider up by its unique name.
func (r *Registry) ByName(name string) (Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// ByType looks a provider up by its configuration type string.
func (r *Registry) ByType(providerType string) (Provider, bool) {
	p, ok := r.byType[providerType]
	return p, ok
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
