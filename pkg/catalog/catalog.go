// Package catalog holds the static configuration the entitlement engine runs
// on: per-tier plans, the feature table, restricted domains and the
// upgrade-prompt catalog. Catalogs are loaded from YAML; an embedded default
// ships with the binary.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidCatalog = errors.New("catalog: invalid catalog")
	ErrUnknownTier    = errors.New("catalog: unknown tier")
)

const (
	DefaultPromptCooldown      = 24 * time.Hour
	DefaultNearingLimitPercent = 80.0
)

//go:embed default.yaml
var defaultYAML []byte

// Plan is the per-tier configuration.
type Plan struct {
	Tier Tier `yaml:"tier"`
	// DailyLimit caps quota-consuming uses per UTC day; Unlimited disables the cap.
	DailyLimit int64 `yaml:"daily_limit"`
	// Term is how long a paid activation lasts when the payment provider gives no expiry.
	Term               time.Duration `yaml:"term"`
	GracePeriod        time.Duration `yaml:"grace_period"`
	ValidationInterval time.Duration `yaml:"validation_interval"`
	RestrictedDomains  []string      `yaml:"restricted_domains"`
	// PriceID is the payment provider's price for this tier; empty for free.
	PriceID string `yaml:"price_id"`
}

// FeatureRule gates one named feature.
type FeatureRule struct {
	Name          string `yaml:"name"`
	RequiredTier  Tier   `yaml:"required_tier"`
	ConsumesQuota bool   `yaml:"consumes_quota"`
}

// Catalog is immutable after Load.
type Catalog struct {
	Plans               []Plan        `yaml:"plans"`
	Features            []FeatureRule `yaml:"features"`
	Prompts             []Prompt      `yaml:"prompts"`
	PromptCooldown      time.Duration `yaml:"prompt_cooldown"`
	NearingLimitPercent float64       `yaml:"nearing_limit_percent"`

	plans    map[Tier]Plan
	features map[string]FeatureRule
	prices   map[string]Tier
	prompts  map[string]int
}

// Load parses and validates a YAML catalog.
func Load(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	if err := c.init(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFile reads a catalog from path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Load(bytes.NewReader(defaultYAML))
	if err != nil {
		panic(err)
	}
	return c
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidCatalog, fmt.Sprintf(format, args...))
}

func (c *Catalog) init() error {
	if c.PromptCooldown == 0 {
		c.PromptCooldown = DefaultPromptCooldown
	}
	if c.NearingLimitPercent == 0 {
		c.NearingLimitPercent = DefaultNearingLimitPercent
	}
	if c.PromptCooldown < 0 || c.NearingLimitPercent < 0 || c.NearingLimitPercent > 100 {
		return invalid("prompt_cooldown and nearing_limit_percent must be in range")
	}

	c.plans = make(map[Tier]Plan, len(c.Plans))
	c.prices = make(map[string]Tier)
	for i, p := range c.Plans {
		if !p.Tier.Valid() {
			return invalid("plan %d: unknown tier %q", i, p.Tier)
		}
		if _, dup := c.plans[p.Tier]; dup {
			return invalid("plan %q defined twice", p.Tier)
		}
		if p.DailyLimit < Unlimited {
			return invalid("plan %q: daily_limit must be >= -1", p.Tier)
		}
		if p.Term < 0 || p.GracePeriod < 0 || p.ValidationInterval < 0 {
			return invalid("plan %q: durations must not be negative", p.Tier)
		}
		if p.Tier != TierFree && p.Term == 0 {
			return invalid("plan %q: paid plans need a term", p.Tier)
		}
		for j, d := range p.RestrictedDomains {
			norm := NormalizeDomain(d)
			if norm == "" || IsPublicSuffix(norm) {
				return invalid("plan %q: restricted domain %q is not a registrable host", p.Tier, d)
			}
			p.RestrictedDomains[j] = norm
		}
		if p.PriceID != "" {
			if _, dup := c.prices[p.PriceID]; dup {
				return invalid("price %q mapped to more than one tier", p.PriceID)
			}
			c.prices[p.PriceID] = p.Tier
		}
		c.plans[p.Tier] = p
	}
	for _, t := range Tiers {
		if _, ok := c.plans[t]; !ok {
			return invalid("missing plan for tier %q", t)
		}
	}

	c.features = make(map[string]FeatureRule, len(c.Features))
	for i, f := range c.Features {
		if f.Name == "" {
			return invalid("feature %d has no name", i)
		}
		if _, dup := c.features[f.Name]; dup {
			return invalid("feature %q defined twice", f.Name)
		}
		if !f.RequiredTier.Valid() {
			return invalid("feature %q: unknown tier %q", f.Name, f.RequiredTier)
		}
		c.features[f.Name] = f
	}

	c.prompts = make(map[string]int, len(c.Prompts))
	for i, p := range c.Prompts {
		switch {
		case p.ID == "":
			return invalid("prompt %d has no id", i)
		case !p.Trigger.Valid():
			return invalid("prompt %q: unknown trigger %q", p.ID, p.Trigger)
		case !p.Style.Valid():
			return invalid("prompt %q: unknown style %q", p.ID, p.Style)
		case !p.TargetTier.Valid() || p.TargetTier == TierFree:
			return invalid("prompt %q: target tier must be a paid tier", p.ID)
		case p.Cooldown < 0 || p.MaxDisplays < 0:
			return invalid("prompt %q: cooldown and max_displays must not be negative", p.ID)
		}
		if _, dup := c.prompts[p.ID]; dup {
			return invalid("prompt %q defined twice", p.ID)
		}
		c.prompts[p.ID] = i
	}
	return nil
}

// Plan returns the plan for tier.
func (c *Catalog) Plan(t Tier) (Plan, bool) {
	p, ok := c.plans[t]
	return p, ok
}

// MustPlan is Plan for tiers already validated; unknown tiers get the free plan.
func (c *Catalog) MustPlan(t Tier) Plan {
	if p, ok := c.plans[t]; ok {
		return p
	}
	return c.plans[TierFree]
}

func (c *Catalog) Feature(name string) (FeatureRule, bool) {
	f, ok := c.features[name]
	return f, ok
}

// FeaturesFor lists, sorted, every feature whose required tier t satisfies.
func (c *Catalog) FeaturesFor(t Tier) []string {
	out := make([]string, 0, len(c.Features))
	for _, f := range c.Features {
		if t.AtLeast(f.RequiredTier) {
			out = append(out, f.Name)
		}
	}
	slices.Sort(out)
	return out
}

// TierForPrice maps a payment-provider price id back to its tier.
func (c *Catalog) TierForPrice(priceID string) (Tier, bool) {
	t, ok := c.prices[priceID]
	return t, ok
}

// Prompt returns the prompt with id and its catalog position.
func (c *Catalog) Prompt(id string) (Prompt, int, bool) {
	i, ok := c.prompts[id]
	if !ok {
		return Prompt{}, -1, false
	}
	return c.Prompts[i], i, true
}

// CooldownFor resolves the effective cooldown for p.
func (c *Catalog) CooldownFor(p Prompt) time.Duration {
	if p.Cooldown > 0 {
		return p.Cooldown
	}
	return c.PromptCooldown
}
