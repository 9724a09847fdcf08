package catalog

import "fmt"

// Tier is a subscription level. Tiers are totally ordered: free < premium < enterprise.
type Tier string

const (
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// Tiers lists every tier in ascending order.
var Tiers = []Tier{TierFree, TierPremium, TierEnterprise}

// Unlimited marks a daily limit with no cap.
const Unlimited int64 = -1

// Rank is the tier's ordinal; unknown tiers rank below free.
func (t Tier) Rank() int {
	switch t {
	case TierFree:
		return 0
	case TierPremium:
		return 1
	case TierEnterprise:
		return 2
	default:
		return -1
	}
}

func (t Tier) Valid() bool { return t.Rank() >= 0 }

// AtLeast reports whether t ranks at or above required.
func (t Tier) AtLeast(required Tier) bool { return t.Valid() && t.Rank() >= required.Rank() }

func (t Tier) String() string { return string(t) }

func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}
