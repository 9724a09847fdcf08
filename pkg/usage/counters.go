package usage

import (
	"time"

	"github.com/truthlens/entitlements/pkg/catalog"
)

// Counters is the persisted usage of one user. All reset times are UTC.
type Counters struct {
	DailyUsed      int64     `json:"daily_used"`
	WeeklyTotal    int64     `json:"weekly_total"`
	MonthlyTotal   int64     `json:"monthly_total"`
	AllTimeTotal   int64     `json:"all_time_total"`
	ResetTime      time.Time `json:"reset_time"`
	WeekResetTime  time.Time `json:"week_reset_time"`
	MonthResetTime time.Time `json:"month_reset_time"`
}

// Stats is Counters plus the values derived from the daily limit.
type Stats struct {
	Counters
	DailyLimit     int64   `json:"daily_limit"`
	DailyRemaining int64   `json:"daily_remaining"`
	PercentageUsed float64 `json:"percentage_used"`
	NearingLimit   bool    `json:"nearing_limit"`
	LimitReached   bool    `json:"limit_reached"`
}

// Unlimited reports whether the daily limit is disabled.
func (s Stats) Unlimited() bool { return s.DailyLimit == catalog.Unlimited }

func nextMidnight(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

func nextMonday(now time.Time) time.Time {
	now = now.UTC()
	days := (8 - int(now.Weekday())) % 7
	if days == 0 {
		days = 7
	}
	y, m, d := now.Date()
	return time.Date(y, m, d+days, 0, 0, 0, 0, time.UTC)
}

func nextMonth(now time.Time) time.Time {
	y, m, _ := now.UTC().Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
}

func freshCounters(now time.Time) Counters {
	return Counters{
		ResetTime:      nextMidnight(now),
		WeekResetTime:  nextMonday(now),
		MonthResetTime: nextMonth(now),
	}
}

// rollover zeroes every period whose boundary has passed and reports whether
// anything changed.
func (c *Counters) rollover(now time.Time) bool {
	changed := false
	if c.ResetTime.IsZero() || !now.Before(c.ResetTime) {
		c.DailyUsed = 0
		c.ResetTime = nextMidnight(now)
		changed = true
	}
	if c.WeekResetTime.IsZero() || !now.Before(c.WeekResetTime) {
		c.WeeklyTotal = 0
		c.WeekResetTime = nextMonday(now)
		changed = true
	}
	if c.MonthResetTime.IsZero() || !now.Before(c.MonthResetTime) {
		c.MonthlyTotal = 0
		c.MonthResetTime = nextMonth(now)
		changed = true
	}
	return changed
}

func (c *Counters) increment() {
	c.DailyUsed++
	c.WeeklyTotal++
	c.MonthlyTotal++
	c.AllTimeTotal++
}

func derive(c Counters, limit int64, nearingPercent float64) Stats {
	s := Stats{Counters: c, DailyLimit: limit}
	if limit == catalog.Unlimited {
		s.DailyRemaining = -1
		return s
	}
	s.DailyRemaining = max(0, limit-c.DailyUsed)
	if limit > 0 {
		s.PercentageUsed = float64(c.DailyUsed) / float64(limit) * 100
	} else {
		s.PercentageUsed = 100
	}
	s.LimitReached = c.DailyUsed >= limit
	s.NearingLimit = s.PercentageUsed >= nearingPercent
	return s
}
