package providers

import (
	"context"
	"errors"
	"testing"
)

type stubProvider struct {
	id   string
	caps Capabilities
	resp *ChatResponse
	err  error
}

func (s stubProvider) ID() string                { return s.id }
func (s stubProvider) Capabilities() Capabilities { return s.caps }
func (s stubProvider) Chat(context.Context, ChatRequest) (*ChatResponse, error) {
	return s.resp, s.err
}
func (s stubProvider) ChatStream(context.Context, ChatRequest) (<-chan StreamEvent, error) {
	return nil, errors.New("not implemented")
}

func TestSplitModelSpec(t *testing.T) {
	p, m := SplitModelSpec("anthropic/claude-sonnet-4-20250514")
	if p != "anthropic" || m != "claude-sonnet-4-20250514" {
		t.Fatalf("got (%q, %q)", p, m)
	}
	p, m = SplitModelSpec("anthropic")
	if p != "anthropic" || m != "" {
		t.Fatalf("got (%q, %q)", p, m)
	}
}

func TestBuildRegistrySkipsFailedProviders(t *testing.T) {
	specs := []ProviderSpec{
		{ID: "good", Build: func() (Provider, error) { return stubProvider{id: "good"}, nil }},
		{ID: "bad", Build: func() (Provider, error) { return nil, errors.New("no api key") }},
	}
	reg, err := BuildRegistry(specs, nil, false, nil)
	if err != nil {
		t.Fatalf("BuildRegistry: %v", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected 1 registered provider, got %d: %v", reg.Len(), reg.List())
	}
	if _, ok := reg.Get("bad"); ok {
		t.Fatal("expected bad provider to be skipped")
	}
}

func TestBuildRegistryRequireOneFailsWhenEmpty(t *testing.T) {
	specs := []ProviderSpec{
		{ID: "bad", Build: func() (Provider, error) { return nil, errors.New("no api key") }},
	}
	if _, err := BuildRegistry(specs, nil, true, nil); err == nil {
		t.Fatal("expected error when requireOne and all providers fail")
	}
}

func TestBuildRegistryEmptySpecsNeverErrors(t *testing.T) {
	reg, err := BuildRegistry(nil, nil, true, nil)
	if err != nil || !reg.IsEmpty() {
		t.Fatalf("got reg=%v err=%v", reg, err)
	}
}

func TestRegistryRoleConfig(t *testing.T) {
	reg := NewRegistry()
	reg.SetRole("executor", RoleConfig{Model: "anthropic/claude-sonnet-4-20250514"})
	cfg, ok := reg.RoleConfig("executor")
	if !ok || cfg.Model != "anthropic/claude-sonnet-4-20250514" {
		t.Fatalf("got %+v, %v", cfg, ok)
	}
	if _, ok := reg.RoleConfig("missing"); ok {
		t.Fatal("expected missing role to be absent")
	}
}
