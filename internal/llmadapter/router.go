package llmadapter

import "fmt"

// Route binds a model_id to the provider that serves it.
type Route struct {
	ModelID  string
	Provider string
}

// Router is the static model_id→provider table the turn coordinator
// consults before dispatching a completion request; it intentionally does
// not do dynamic health-based failover.
type Router struct {
	routes    map[string]string
	providers map[string]Provider
	fallback  string
}

// NewRouter builds a Router from a static route table and the set of
// registered providers. fallback names the provider used when a model_id
// has no explicit route.
func NewRouter(routes []Route, providers map[string]Provider, fallback string) *Router {
	table := make(map[string]string, len(routes))
	for _, r := range routes {
		table[r.ModelID] = r.Provider
	}
	return &Router{routes: table, providers: providers, fallback: fallback}
}

// Resolve returns the Provider that should serve modelID.
func (r *Router) Resolve(modelID string) (Provider, error) {
	name, ok := r.routes[modelID]
	if !ok {
		name = r.fallback
	}
	provider, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("no provider registered for %q (model %q)", name, modelID)
	}
	return provider, nil
}
