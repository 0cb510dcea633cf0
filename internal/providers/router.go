package providers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Router is the capability-driven provider router: it resolves a role to
// a provider/model, checks the provider satisfies the role's declared
// requirements, and falls back through the role's fallback chain on timeout
// or a transient (5xx-class) provider error.
type Router struct {
	registry          *Registry
	defaultTimeout    time.Duration
	log               *zap.SugaredLogger
}

// NewRouter builds a Router over registry, timing out any single provider
// call after defaultTimeout.
func NewRouter(registry *Registry, defaultTimeout time.Duration, log *zap.SugaredLogger) *Router {
	if defaultTimeout <= 0 {
		defaultTimeout = 60 * time.Second
	}
	return &Router{registry: registry, defaultTimeout: defaultTimeout, log: log}
}

// Registry exposes the underlying provider registry.
func (r *Router) Registry() *Registry { return r.registry }

// ChatForRole sends req for the named role, falling back through the role's
// configured chain on a retryable error.
func (r *Router) ChatForRole(ctx context.Context, role string, req ChatRequest) (*ChatResponse, error) {
	cfg, ok := r.registry.RoleConfig(role)
	if !ok {
		return nil, fmt.Errorf("providers: no role config for %q", role)
	}

	providerID, model := SplitModelSpec(cfg.Model)
	if resp, err, attempted := r.attempt(ctx, providerID, model, cfg.RequireTools, cfg.RequireJSON, cfg.RequireStreaming, req); attempted {
		if err == nil {
			return resp, nil
		}
		if !ShouldRetryRouter(err) {
			return nil, err
		}
		if r.log != nil {
			r.log.Warnw("primary model failed, trying fallbacks", "provider", providerID, "model", model, "error", err)
		}
	} else if r.log != nil {
		r.log.Warnw("primary provider unavailable, trying fallbacks", "provider", providerID)
	}

	for i, fb := range cfg.Fallbacks {
		fbProviderID, fbModel := SplitModelSpec(fb.Model)
		resp, err, attempted := r.attempt(ctx, fbProviderID, fbModel, fb.RequireTools, fb.RequireJSON, false, req)
		if !attempted {
			if r.log != nil {
				r.log.Warnw("fallback provider unavailable, skipping", "provider", fbProviderID, "index", i)
			}
			continue
		}
		if err == nil {
			return resp, nil
		}
		if !ShouldRetryRouter(err) {
			return nil, err
		}
		if r.log != nil {
			r.log.Warnw("fallback model failed, trying next", "provider", fbProviderID, "model", fbModel, "index", i, "error", err)
		}
	}

	return nil, fmt.Errorf("providers: all models for role %q failed or were unavailable", role)
}

// attempt resolves providerID, checks capabilities, and calls it under the
// router's timeout. attempted is false when the provider isn't registered or
// fails its capability check, signaling the caller to move on without
// treating it as a retryable failure.
func (r *Router) attempt(ctx context.Context, providerID, model string, requireTools, requireJSON, requireStreaming bool, req ChatRequest) (resp *ChatResponse, err error, attempted bool) {
	p, ok := r.registry.Get(providerID)
	if !ok {
		return nil, nil, false
	}
	cap := p.Capabilities()
	if requireTools && cap.SupportsTools == ToolSupportNone {
		return nil, nil, false
	}
	if requireJSON && !cap.SupportsJSONMode {
		return nil, nil, false
	}
	if requireStreaming && !cap.SupportsStreaming {
		return nil, nil, false
	}

	req.Model = model
	callCtx, cancel := context.WithTimeout(ctx, r.defaultTimeout)
	defer cancel()

	resp, err = p.Chat(callCtx, req)
	if err != nil {
		if callCtx.Err() != nil {
			err = (&ProviderError{Reason: FailoverTimeout, Provider: providerID, Model: model, Cause: err}).WithMessage(
				fmt.Sprintf("provider %q timed out after %s", providerID, r.defaultTimeout))
		}
		return nil, err, true
	}
	return resp, nil, true
}

// ShouldRetryRouter reports whether the router should walk to the next
// fallback rather than surface err immediately: timeouts and 5xx-class
// provider errors.
func ShouldRetryRouter(err error) bool {
	return IsRetryableHTTPError(err)
}
