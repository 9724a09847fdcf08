package prompt

import (
	"cmp"
	"context"
	"slices"

	"github.com/google/uuid"
)

// PromptStats summarises one prompt for one user.
type PromptStats struct {
	PromptID   string `json:"prompt_id"`
	Displays   int    `json:"displays"`
	Dismissals int    `json:"dismissals"`
	Converted  bool   `json:"converted"`
	// ConversionRate is a percentage of displays.
	ConversionRate float64 `json:"conversion_rate"`
}

// Analytics aggregates a user's prompt history.
type Analytics struct {
	// TotalPrompts is the number of displays across all prompts.
	TotalPrompts    int `json:"total_prompts"`
	TotalDismissals int `json:"total_dismissals"`
	Conversions     int `json:"conversions"`
	// ConversionRate is Conversions per 100 displays, 0 without displays.
	ConversionRate float64       `json:"conversion_rate"`
	Prompts        []PromptStats `json:"prompts"`
}

// GetPromptAnalytics aggregates the user's history. Per-prompt stats are
// sorted by conversion rate, highest first, in catalog order on ties. Records
// of prompts no longer in the catalog are counted but not listed.
func (m *Manager) GetPromptAnalytics(ctx context.Context, userID uuid.UUID) (Analytics, error) {
	history, err := m.History(ctx, userID)
	if err != nil {
		return Analytics{}, err
	}

	a := Analytics{Prompts: []PromptStats{}}
	for _, rec := range history {
		a.TotalPrompts += rec.Displays
		a.TotalDismissals += rec.Dismissals
		if rec.Converted {
			a.Conversions++
		}
	}
	a.ConversionRate = rate(a.Conversions, a.TotalPrompts)

	for _, p := range m.catalog.Prompts {
		rec, ok := history[p.ID]
		if !ok {
			continue
		}
		converted := 0
		if rec.Converted {
			converted = 1
		}
		a.Prompts = append(a.Prompts, PromptStats{
			PromptID:       p.ID,
			Displays:       rec.Displays,
			Dismissals:     rec.Dismissals,
			Converted:      rec.Converted,
			ConversionRate: rate(converted, rec.Displays),
		})
	}
	slices.SortStableFunc(a.Prompts, func(x, y PromptStats) int {
		return cmp.Compare(y.ConversionRate, x.ConversionRate)
	})
	return a, nil
}

func rate(conversions, displays int) float64 {
	if displays == 0 {
		return 0
	}
	return float64(conversions) / float64(displays) * 100
}
