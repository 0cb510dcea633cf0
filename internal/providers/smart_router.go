package providers

// ModelTier is a coarse capability/cost bucket a smart-router profile maps
// down to before a concrete model is picked.
type ModelTier string

const (
	TierSimple    ModelTier = "simple"
	TierComplex   ModelTier = "complex"
	TierReasoning ModelTier = "reasoning"
	TierFree      ModelTier = "free"
)

// RoutingProfile is the caller-facing knob: "auto" defers to a classifier's
// tier, the rest map directly to a fixed tier.
type RoutingProfile string

const (
	ProfileAuto      RoutingProfile = "auto"
	ProfileEco       RoutingProfile = "eco"
	ProfilePremium   RoutingProfile = "premium"
	ProfileReasoning RoutingProfile = "reasoning"
	ProfileFree      RoutingProfile = "free"
)

// TierModels lists the candidate models for each tier, in preference order;
// the smart router always takes the first entry of whichever tier it lands on.
type TierModels struct {
	Simple    []string
	Complex   []string
	Reasoning []string
	Free      []string
}

// RoutingDecision is the smart router's resolution result.
type RoutingDecision struct {
	Model    string
	Tier     ModelTier
	Profile  RoutingProfile
	Bypassed bool
}

// ProfileToTier maps a fixed profile to its tier. Returns ("", false) for
// ProfileAuto, which requires a classifier's tier instead.
func ProfileToTier(profile RoutingProfile) (ModelTier, bool) {
	switch profile {
	case ProfileEco:
		return TierSimple, true
	case ProfilePremium:
		return TierComplex, true
	case ProfileFree:
		return TierFree, true
	case ProfileReasoning:
		return TierReasoning, true
	default: // ProfileAuto
		return "", false
	}
}

// ResolveTierModel returns the first configured model in tier, if any.
func ResolveTierModel(tier ModelTier, tiers TierModels) (string, bool) {
	var models []string
	switch tier {
	case TierSimple:
		models = tiers.Simple
	case TierComplex:
		models = tiers.Complex
	case TierReasoning:
		models = tiers.Reasoning
	case TierFree:
		models = tiers.Free
	}
	if len(models) == 0 {
		return "", false
	}
	return models[0], true
}

// fallbackTiers is the fixed tier fallback order used when the resolved
// tier has no models configured.
func fallbackTiers(starting ModelTier) []ModelTier {
	switch starting {
	case TierSimple:
		return []ModelTier{TierComplex, TierReasoning}
	case TierComplex:
		return []ModelTier{TierReasoning, TierSimple}
	case TierReasoning:
		return []ModelTier{TierComplex, TierSimple}
	case TierFree:
		return []ModelTier{TierSimple, TierComplex, TierReasoning}
	default:
		return nil
	}
}

// ResolveModelForRequest is the smart router's core, pure resolution
// function: explicit model bypasses everything; otherwise a fixed profile's
// tier (or, for "auto", the classifier's tier) is tried, falling back across
// tiers in the fixed order above when the target tier is empty.
func ResolveModelForRequest(explicitModel string, profile RoutingProfile, classifiedTier ModelTier, tiers TierModels) RoutingDecision {
	if explicitModel != "" {
		return RoutingDecision{Model: explicitModel, Tier: TierComplex, Profile: profile, Bypassed: true}
	}

	targetTier, ok := ProfileToTier(profile)
	if !ok {
		targetTier = classifiedTier
		if targetTier == "" {
			targetTier = TierComplex
		}
	}

	if model, ok := ResolveTierModel(targetTier, tiers); ok {
		return RoutingDecision{Model: model, Tier: targetTier, Profile: profile}
	}

	for _, fb := range fallbackTiers(targetTier) {
		if model, ok := ResolveTierModel(fb, tiers); ok {
			return RoutingDecision{Model: model, Tier: fb, Profile: profile}
		}
	}

	return RoutingDecision{Model: "", Tier: targetTier, Profile: profile}
}
