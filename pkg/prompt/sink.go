package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/truthlens/entitlements/pkg/catalog"
	"github.com/truthlens/entitlements/pkg/logger"
)

// EventType is what happened to a prompt.
type EventType string

const (
	EventDisplayed EventType = "displayed"
	EventDismissed EventType = "dismissed"
	EventConverted EventType = "converted"
)

// Event is published after a prompt record has been persisted.
type Event struct {
	Type       EventType       `json:"type"`
	UserID     uuid.UUID       `json:"user_id"`
	PromptID   string          `json:"prompt_id"`
	Trigger    catalog.Trigger `json:"trigger"`
	Style      catalog.Style   `json:"style"`
	TargetTier catalog.Tier    `json:"target_tier"`
	Displays   int             `json:"displays"`
	At         time.Time       `json:"@timestamp"`
}

// EventSink receives prompt events. Failures are logged by the manager and
// never fail the recording call.
type EventSink interface {
	Publish(ctx context.Context, e Event) error
}

// LogSink writes events to a structured logger.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = logger.Nop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Publish(ctx context.Context, e Event) error {
	s.log.InfoContext(ctx, "prompt event",
		logger.UserID(e.UserID),
		logger.PromptID(e.PromptID),
		logger.Event(string(e.Type)),
		slog.String("trigger", string(e.Trigger)),
		slog.Int("displays", e.Displays),
	)
	return nil
}

var ErrIndexFailed = errors.New("prompt: indexing event failed")

// OpenSearchSink indexes events for conversion dashboards.
type OpenSearchSink struct {
	client *opensearch.Client
	index  string
}

// NewOpenSearchSink panics when client is nil or index is empty.
func NewOpenSearchSink(client *opensearch.Client, index string) *OpenSearchSink {
	if client == nil {
		panic("prompt: opensearch client is required")
	}
	if index == "" {
		panic("prompt: opensearch index is required")
	}
	return &OpenSearchSink{client: client, index: index}
}

func (s *OpenSearchSink) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return errors.Join(ErrIndexFailed, err)
	}
	res, err := s.client.Index(s.index, bytes.NewReader(body),
		s.client.Index.WithContext(ctx),
	)
	if err != nil {
		return errors.Join(ErrIndexFailed, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return errors.Join(ErrIndexFailed, fmt.Errorf("status %s", res.Status()))
	}
	return nil
}
