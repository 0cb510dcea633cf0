package providers

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// RoleConfig binds a model role (e.g. "executor", "summarizer") to a primary
// model spec and an ordered list of fallbacks, plus the capabilities the
// role requires of whichever provider ends up serving it.
type RoleConfig struct {
	Model            string
	RequireTools     bool
	RequireJSON      bool
	RequireStreaming bool
	Fallbacks        []FallbackConfig
}

// FallbackConfig is one entry in a RoleConfig's fallback chain.
type FallbackConfig struct {
	Model        string
	RequireTools bool
	RequireJSON  bool
}

// ProviderSpec is one provider construction attempt handed to BuildRegistry.
// Build is deferred so construction failures (missing API keys, bad config)
// can be caught and logged without aborting the rest of the registry.
type ProviderSpec struct {
	ID    string
	Build func() (Provider, error)
}

// Registry holds all constructed providers plus the role table. Construction
// tolerates partial failure: a provider that fails to build is skipped with
// a warning rather than failing the whole registry.
type Registry struct {
	providers map[string]Provider
	roles     map[string]RoleConfig
}

// NewRegistry builds an empty registry. Use BuildRegistry to populate it from
// a set of provider specs, or Register to add providers one at a time (tests,
// manual wiring).
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider), roles: make(map[string]RoleConfig)}
}

// BuildRegistry constructs a registry from specs, skipping (and logging) any
// that fail. If requireOne is true and nothing builds successfully while
// specs was non-empty, BuildRegistry returns an error instead of an empty
// registry — the SA_REQUIRE_LLM=1 behavior the original gateway exposes.
func BuildRegistry(specs []ProviderSpec, roles map[string]RoleConfig, requireOne bool, log *zap.SugaredLogger) (*Registry, error) {
	r := NewRegistry()
	for _, spec := range specs {
		p, err := spec.Build()
		if err != nil {
			if log != nil {
				log.Warnw("failed to initialize LLM provider, skipping", "provider_id", spec.ID, "error", err)
			}
			continue
		}
		r.providers[spec.ID] = p
		if log != nil {
			log.Infow("registered LLM provider", "provider_id", spec.ID)
		}
	}

	if len(r.providers) == 0 && len(specs) > 0 {
		if requireOne {
			return nil, fmt.Errorf("providers: all configured LLM providers failed to initialize")
		}
		if log != nil {
			log.Warnw("no LLM providers initialized; LLM endpoints will fail until auth is configured")
		}
	}

	for role, cfg := range roles {
		r.roles[role] = cfg
	}
	return r, nil
}

// Register adds or replaces a single provider. Useful for tests and for
// providers built outside the BuildRegistry batch (e.g. late-bound plugins).
func (r *Registry) Register(id string, p Provider) {
	r.providers[id] = p
}

// SetRole assigns or replaces a role's configuration.
func (r *Registry) SetRole(role string, cfg RoleConfig) {
	r.roles[role] = cfg
}

// Get looks up a provider by its registry id.
func (r *Registry) Get(id string) (Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// RoleConfig returns the configuration registered for role, if any.
func (r *Registry) RoleConfig(role string) (RoleConfig, bool) {
	cfg, ok := r.roles[role]
	return cfg, ok
}

// Any returns an arbitrary registered provider, used when the orchestrator
// has no model hint and no "executor" role configured.
func (r *Registry) Any() (id string, p Provider, ok bool) {
	for id, p := range r.providers {
		return id, p, true
	}
	return "", nil, false
}

// List returns the sorted provider ids currently registered.
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int       { return len(r.providers) }
func (r *Registry) IsEmpty() bool  { return len(r.providers) == 0 }

// SplitModelSpec splits a "provider_id/model_name" string into its two
// components. A spec with no '/' is treated entirely as a provider id with
// an empty model name, so the provider's own default model is used.
func SplitModelSpec(spec string) (providerID, model string) {
	if idx := strings.IndexByte(spec, '/'); idx >= 0 {
		return spec[:idx], spec[idx+1:]
	}
	return spec, ""
}
