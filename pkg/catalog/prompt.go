package catalog

import (
	"slices"
	"time"
)

// Trigger is the user action or situation that may surface an upgrade prompt.
type Trigger string

const (
	TriggerPremiumFeatureAttempt Trigger = "premium_feature_attempt"
	TriggerRestrictedDomain      Trigger = "restricted_domain"
	TriggerUsageThreshold        Trigger = "usage_threshold"
	TriggerLimitReached          Trigger = "limit_reached"
	TriggerEngagementMilestone   Trigger = "engagement_milestone"
	TriggerReturnUser            Trigger = "return_user"
)

func (t Trigger) Valid() bool {
	switch t {
	case TriggerPremiumFeatureAttempt, TriggerRestrictedDomain, TriggerUsageThreshold,
		TriggerLimitReached, TriggerEngagementMilestone, TriggerReturnUser:
		return true
	}
	return false
}

// Style is how the popup renders a prompt.
type Style string

const (
	StyleModal   Style = "modal"
	StyleBanner  Style = "banner"
	StyleTooltip Style = "tooltip"
	StyleInline  Style = "inline"
)

func (s Style) Valid() bool {
	switch s {
	case StyleModal, StyleBanner, StyleTooltip, StyleInline:
		return true
	}
	return false
}

// Prompt is one upgrade-prompt definition.
type Prompt struct {
	ID          string  `yaml:"id" json:"id"`
	Trigger     Trigger `yaml:"trigger" json:"trigger"`
	Style       Style   `yaml:"style" json:"style"`
	Priority    int     `yaml:"priority" json:"priority"`
	TargetTier  Tier    `yaml:"target_tier" json:"target_tier"`
	Dismissible bool    `yaml:"dismissible" json:"dismissible"`

	Title   string `yaml:"title" json:"title,omitempty"`
	Message string `yaml:"message" json:"message,omitempty"`
	CTA     string `yaml:"cta" json:"cta,omitempty"`

	// Cooldown overrides the catalog-wide prompt cooldown when non-zero.
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown,omitempty"`
	// MaxDisplays caps lifetime displays per user; zero means no cap.
	MaxDisplays int `yaml:"max_displays" json:"max_displays,omitempty"`
	// Features restricts the prompt to attempts on these features.
	Features []string `yaml:"features" json:"features,omitempty"`
	// MinUsagePercent restricts the prompt to users at or above this share of their daily limit.
	MinUsagePercent float64 `yaml:"min_usage_percent" json:"min_usage_percent,omitempty"`
}

// Matches reports whether the optional feature and usage conditions hold.
func (p Prompt) Matches(feature string, usagePercent float64) bool {
	if len(p.Features) > 0 && !slices.Contains(p.Features, feature) {
		return false
	}
	return usagePercent >= p.MinUsagePercent
}
