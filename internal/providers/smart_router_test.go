package providers

import "testing"

func testTiers() TierModels {
	return TierModels{
		Simple:    []string{"deepseek/deepseek-chat"},
		Complex:   []string{"anthropic/claude-sonnet-4-20250514"},
		Reasoning: []string{"anthropic/claude-opus-4-6"},
		Free:      []string{"venice/venice-uncensored"},
	}
}

func TestResolveTierModelPicksFirstInList(t *testing.T) {
	tiers := TierModels{Simple: []string{"model-a", "model-b"}}
	got, ok := ResolveTierModel(TierSimple, tiers)
	if !ok || got != "model-a" {
		t.Fatalf("got (%q, %v)", got, ok)
	}
}

func TestResolveTierModelEmptyTierReturnsFalse(t *testing.T) {
	if _, ok := ResolveTierModel(TierSimple, TierModels{}); ok {
		t.Fatal("expected false for empty tier")
	}
}

func TestProfileToTierEcoIsSimple(t *testing.T) {
	tier, ok := ProfileToTier(ProfileEco)
	if !ok || tier != TierSimple {
		t.Fatalf("got (%v, %v)", tier, ok)
	}
}

func TestProfileToTierPremiumIsComplex(t *testing.T) {
	tier, ok := ProfileToTier(ProfilePremium)
	if !ok || tier != TierComplex {
		t.Fatalf("got (%v, %v)", tier, ok)
	}
}

func TestProfileToTierAutoIsFalse(t *testing.T) {
	if _, ok := ProfileToTier(ProfileAuto); ok {
		t.Fatal("expected Auto to require classification")
	}
}

func TestResolveWithExplicitModelBypassesRouter(t *testing.T) {
	decision := ResolveModelForRequest("custom/my-model", ProfileAuto, "", testTiers())
	if decision.Model != "custom/my-model" || !decision.Bypassed {
		t.Fatalf("got %+v", decision)
	}
}

func TestResolveWithEcoProfileUsesSimpleTier(t *testing.T) {
	decision := ResolveModelForRequest("", ProfileEco, "", testTiers())
	if decision.Model != "deepseek/deepseek-chat" || decision.Tier != TierSimple || decision.Bypassed {
		t.Fatalf("got %+v", decision)
	}
}

func TestResolveWithAutoProfileUsesClassifiedTier(t *testing.T) {
	decision := ResolveModelForRequest("", ProfileAuto, TierReasoning, testTiers())
	if decision.Model != "anthropic/claude-opus-4-6" || decision.Tier != TierReasoning {
		t.Fatalf("got %+v", decision)
	}
}

func TestResolveFallsBackAcrossTiers(t *testing.T) {
	tiers := TierModels{Complex: []string{"fallback-model"}}
	decision := ResolveModelForRequest("", ProfileEco, "", tiers) // Eco -> Simple, empty
	if decision.Model != "fallback-model" || decision.Tier != TierComplex || decision.Bypassed {
		t.Fatalf("got %+v", decision)
	}
}

func TestResolveFreeFallsBackThroughFullChain(t *testing.T) {
	tiers := TierModels{Reasoning: []string{"last-resort"}}
	decision := ResolveModelForRequest("", ProfileFree, "", tiers)
	if decision.Model != "last-resort" || decision.Tier != TierReasoning {
		t.Fatalf("got %+v", decision)
	}
}

func TestResolveNothingConfiguredReturnsEmptyModel(t *testing.T) {
	decision := ResolveModelForRequest("", ProfileEco, "", TierModels{})
	if decision.Model != "" || decision.Bypassed {
		t.Fatalf("got %+v", decision)
	}
}
