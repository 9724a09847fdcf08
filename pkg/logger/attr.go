package logger

import (
	"log/slog"
	"time"
)

// Error records err under "error"; nil yields an empty Attr which slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the user identifier under "user_id".
func UserID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("user_id", id)
}

func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

func Component(name string) slog.Attr { return slog.String("component", name) }

func Event(name string) slog.Attr { return slog.String("event", name) }

func Duration(d time.Duration) slog.Attr { return slog.Duration("duration", d) }

func Tier(tier string) slog.Attr { return slog.String("tier", tier) }

func Feature(name string) slog.Attr { return slog.String("feature", name) }

func PromptID(id string) slog.Attr { return slog.String("prompt_id", id) }

// Transition records a status change as "from" and "to" inside a "transition" group.
func Transition(from, to string) slog.Attr {
	return slog.Group("transition", slog.String("from", from), slog.String("to", to))
}

func Status(s string) slog.Attr { return slog.String("status", s) }
