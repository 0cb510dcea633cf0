package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relaygate/relaygate/pkg/models"
)

func newTestRegistry(primary, fallback stubProvider) *Registry {
	reg := NewRegistry()
	reg.Register(primary.id, primary)
	reg.Register(fallback.id, fallback)
	reg.SetRole("executor", RoleConfig{
		Model:     primary.id + "/model-a",
		Fallbacks: []FallbackConfig{{Model: fallback.id + "/model-b"}},
	})
	return reg
}

func TestRouterChatForRolePrimarySuccess(t *testing.T) {
	primary := stubProvider{id: "anthropic", resp: &ChatResponse{Message: models.Message{Text: "ok"}}}
	fallback := stubProvider{id: "openai", resp: &ChatResponse{Message: models.Message{Text: "should not be used"}}}
	router := NewRouter(newTestRegistry(primary, fallback), time.Second, nil)

	resp, err := router.ChatForRole(context.Background(), "executor", ChatRequest{})
	if err != nil {
		t.Fatalf("ChatForRole: %v", err)
	}
	if resp.Message.Text != "ok" {
		t.Fatalf("got %q", resp.Message.Text)
	}
}

func TestRouterChatForRoleFallsBackOnRetryableError(t *testing.T) {
	primary := stubProvider{id: "anthropic", err: errors.New("HTTP 503 Service Unavailable")}
	fallback := stubProvider{id: "openai", resp: &ChatResponse{Message: models.Message{Text: "fallback ok"}}}
	router := NewRouter(newTestRegistry(primary, fallback), time.Second, nil)

	resp, err := router.ChatForRole(context.Background(), "executor", ChatRequest{})
	if err != nil {
		t.Fatalf("ChatForRole: %v", err)
	}
	if resp.Message.Text != "fallback ok" {
		t.Fatalf("got %q", resp.Message.Text)
	}
}

func TestRouterChatForRoleNonRetryableErrorStopsImmediately(t *testing.T) {
	primary := stubProvider{id: "anthropic", err: errors.New("invalid_api_key")}
	fallback := stubProvider{id: "openai", resp: &ChatResponse{Message: models.Message{Text: "should not run"}}}
	router := NewRouter(newTestRegistry(primary, fallback), time.Second, nil)

	_, err := router.ChatForRole(context.Background(), "executor", ChatRequest{})
	if err == nil {
		t.Fatal("expected non-retryable error to propagate")
	}
}

func TestRouterChatForRoleSkipsProviderMissingCapability(t *testing.T) {
	primary := stubProvider{
		id:   "anthropic",
		caps: Capabilities{SupportsTools: ToolSupportNone},
		resp: &ChatResponse{Message: models.Message{Text: "should not be used"}},
	}
	fallback := stubProvider{id: "openai", resp: &ChatResponse{Message: models.Message{Text: "fallback ok"}}}
	reg := newTestRegistry(primary, fallback)
	reg.SetRole("executor", RoleConfig{
		Model:        primary.id + "/model-a",
		RequireTools: true,
		Fallbacks:    []FallbackConfig{{Model: fallback.id + "/model-b"}},
	})
	router := NewRouter(reg, time.Second, nil)

	resp, err := router.ChatForRole(context.Background(), "executor", ChatRequest{})
	if err != nil {
		t.Fatalf("ChatForRole: %v", err)
	}
	if resp.Message.Text != "fallback ok" {
		t.Fatalf("got %q", resp.Message.Text)
	}
}

func TestRouterChatForRoleUnknownRole(t *testing.T) {
	router := NewRouter(NewRegistry(), time.Second, nil)
	if _, err := router.ChatForRole(context.Background(), "nonexistent", ChatRequest{}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestRouterChatForRoleExhaustsAllFallbacks(t *testing.T) {
	primary := stubProvider{id: "anthropic", err: errors.New("HTTP 500")}
	fallback := stubProvider{id: "openai", err: errors.New("HTTP 502")}
	router := NewRouter(newTestRegistry(primary, fallback), time.Second, nil)

	if _, err := router.ChatForRole(context.Background(), "executor", ChatRequest{}); err == nil {
		t.Fatal("expected aggregate error when all providers fail")
	}
}
