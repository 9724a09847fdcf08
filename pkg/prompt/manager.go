// Package prompt chooses which upgrade prompt, if any, a free user should see
// and keeps the per-user display history that de-duplicates them.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/truthlens/entitlements/pkg/catalog"
	"github.com/truthlens/entitlements/pkg/kvstore"
	"github.com/truthlens/entitlements/pkg/logger"
)

var (
	ErrPromptNotFound       = errors.New("prompt: unknown prompt")
	ErrPromptNotDismissible = errors.New("prompt: prompt cannot be dismissed")
)

const keyPrefix = "prompts:"

func historyKey(userID uuid.UUID) string { return keyPrefix + userID.String() }

// DisplayRecord is one user's history with one prompt.
type DisplayRecord struct {
	Displays        int        `json:"displays"`
	LastShownAt     *time.Time `json:"last_shown_at,omitempty"`
	Dismissals      int        `json:"dismissals"`
	LastDismissedAt *time.Time `json:"last_dismissed_at,omitempty"`
	Converted       bool       `json:"converted"`
	ConvertedAt     *time.Time `json:"converted_at,omitempty"`
}

// History maps prompt id to its display record.
type History map[string]DisplayRecord

// Context carries the optional conditions some prompts filter on.
type Context struct {
	Feature      string  `json:"feature,omitempty"`
	UsagePercent float64 `json:"usage_percent,omitempty"`
}

// Decision is the prompt to show, if any.
type Decision struct {
	Show   bool            `json:"show"`
	Prompt *catalog.Prompt `json:"prompt,omitempty"`
}

type Manager struct {
	history *kvstore.JSON[History]
	catalog *catalog.Catalog
	clock   clockwork.Clock
	sinks   []EventSink
	log     *slog.Logger
}

type Option func(*Manager)

func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithSinks adds destinations for display, dismissal and conversion events.
func WithSinks(sinks ...EventSink) Option {
	return func(m *Manager) {
		for _, s := range sinks {
			if s != nil {
				m.sinks = append(m.sinks, s)
			}
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager panics when kv or cat is nil.
func NewManager(kv kvstore.Store, cat *catalog.Catalog, opts ...Option) *Manager {
	if kv == nil {
		panic("prompt: kvstore is required")
	}
	if cat == nil {
		panic("prompt: catalog is required")
	}
	m := &Manager{
		history: kvstore.NewJSON[History](kv),
		catalog: cat,
		clock:   clockwork.NewRealClock(),
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) now() time.Time { return m.clock.Now().UTC() }

// History returns the user's display records.
func (m *Manager) History(ctx context.Context, userID uuid.UUID) (History, error) {
	h, _, err := m.history.Get(ctx, historyKey(userID))
	if err != nil {
		return nil, err
	}
	if h == nil {
		h = History{}
	}
	return h, nil
}

// ShouldShowPrompt picks the prompt for trigger. Only free users see prompts.
// A prompt is skipped when it was shown within its cooldown, was ever
// converted, or hit its display cap. The highest priority survivor wins; equal
// priorities go to the one declared first. Nothing is recorded.
func (m *Manager) ShouldShowPrompt(ctx context.Context, userID uuid.UUID, trigger catalog.Trigger, pctx Context, currentTier catalog.Tier) (Decision, error) {
	if currentTier != catalog.TierFree {
		return Decision{}, nil
	}
	history, err := m.History(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	now := m.now()

	best := -1
	for i, p := range m.catalog.Prompts {
		if p.Trigger != trigger || !p.Matches(pctx.Feature, pctx.UsagePercent) {
			continue
		}
		if !m.eligible(p, history[p.ID], now) {
			continue
		}
		// Strictly greater keeps the earlier prompt on ties.
		if best < 0 || p.Priority > m.catalog.Prompts[best].Priority {
			best = i
		}
	}
	if best < 0 {
		return Decision{}, nil
	}
	p := m.catalog.Prompts[best]
	return Decision{Show: true, Prompt: &p}, nil
}

func (m *Manager) eligible(p catalog.Prompt, rec DisplayRecord, now time.Time) bool {
	if rec.Converted {
		return false
	}
	if p.MaxDisplays > 0 && rec.Displays >= p.MaxDisplays {
		return false
	}
	if rec.LastShownAt != nil && now.Sub(*rec.LastShownAt) < m.catalog.CooldownFor(p) {
		return false
	}
	return true
}

// RecordPromptDisplayed counts a display and starts the cooldown.
func (m *Manager) RecordPromptDisplayed(ctx context.Context, userID uuid.UUID, promptID string) (DisplayRecord, error) {
	return m.record(ctx, userID, promptID, EventDisplayed, func(_ catalog.Prompt, rec *DisplayRecord, now time.Time) error {
		rec.Displays++
		rec.LastShownAt = &now
		return nil
	})
}

// RecordPromptDismissed counts a dismissal.
func (m *Manager) RecordPromptDismissed(ctx context.Context, userID uuid.UUID, promptID string) (DisplayRecord, error) {
	return m.record(ctx, userID, promptID, EventDismissed, func(p catalog.Prompt, rec *DisplayRecord, now time.Time) error {
		if !p.Dismissible {
			return fmt.Errorf("%w: %s", ErrPromptNotDismissible, p.ID)
		}
		rec.Dismissals++
		rec.LastDismissedAt = &now
		return nil
	})
}

// RecordPromptConversion marks the prompt converted. It is never shown to the
// user again. Repeated conversions keep the first timestamp.
func (m *Manager) RecordPromptConversion(ctx context.Context, userID uuid.UUID, promptID string) (DisplayRecord, error) {
	return m.record(ctx, userID, promptID, EventConverted, func(_ catalog.Prompt, rec *DisplayRecord, now time.Time) error {
		if !rec.Converted {
			rec.Converted = true
			rec.ConvertedAt = &now
		}
		return nil
	})
}

func (m *Manager) record(ctx context.Context, userID uuid.UUID, promptID string, kind EventType, fn func(p catalog.Prompt, rec *DisplayRecord, now time.Time) error) (DisplayRecord, error) {
	p, _, ok := m.catalog.Prompt(promptID)
	if !ok {
		return DisplayRecord{}, fmt.Errorf("%w: %q", ErrPromptNotFound, promptID)
	}

	var now time.Time
	history, err := m.history.Update(ctx, historyKey(userID), func(cur History, _ bool) (History, error) {
		if cur == nil {
			cur = History{}
		}
		now = m.now()
		rec := cur[promptID]
		if err := fn(p, &rec, now); err != nil {
			return nil, err
		}
		cur[promptID] = rec
		return cur, nil
	})
	if err != nil {
		return DisplayRecord{}, err
	}

	rec := history[promptID]
	m.publish(ctx, Event{
		Type:       kind,
		UserID:     userID,
		PromptID:   p.ID,
		Trigger:    p.Trigger,
		Style:      p.Style,
		TargetTier: p.TargetTier,
		Displays:   rec.Displays,
		At:         now,
	})
	return rec, nil
}

func (m *Manager) publish(ctx context.Context, e Event) {
	for _, s := range m.sinks {
		if err := s.Publish(ctx, e); err != nil {
			m.log.WarnContext(ctx, "prompt event not published",
				logger.UserID(e.UserID),
				logger.PromptID(e.PromptID),
				logger.Event(string(e.Type)),
				logger.Error(err),
			)
		}
	}
}
