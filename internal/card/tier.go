package card

// Tier orders card richness from Basic (plain text/buttons, every platform)
// through Rich (facts, images) to Premium (raw Adaptive Cards JSON), per
// spec §4.7.
type Tier int

const (
	TierBasic Tier = iota
	TierRich
	TierPremium
)

func (t Tier) String() string {
	switch t {
	case TierBasic:
		return "basic"
	case TierRich:
		return "rich"
	case TierPremium:
		return "premium"
	default:
		return "unknown"
	}
}

// classifyTier derives the minimum tier a card actually needs: Premium if it
// carries raw Adaptive-Cards payload, Rich if it has facts or images,
// Basic otherwise.
func classifyTier(c AdaptiveMessageCard) Tier {
	if len(c.AdaptivePayload) > 0 {
		return TierPremium
	}
	for _, b := range c.Body {
		if b.Fact != nil || b.Image != nil {
			return TierRich
		}
	}
	return TierBasic
}
