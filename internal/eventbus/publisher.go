package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/AutoEver-4Ever/ever-gateway/internal/notify"
	"github.com/AutoEver-4Ever/ever-gateway/internal/platform/logger"
)

// StatusEvent is the acknowledgment shape carried on the status streams.
type StatusEvent struct {
	EventID   string    `json:"eventId"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher appends JSON-encoded events to bus streams. Streams are capped
// (approximate MAXLEN) so an idle consumer cannot grow them unbounded.
type Publisher struct {
	log    *logger.Logger
	rdb    *goredis.Client
	maxLen int64
}

func NewPublisher(log *logger.Logger, rdb *goredis.Client) *Publisher {
	return &Publisher{
		log:    log.With("component", "Publisher"),
		rdb:    rdb,
		maxLen: 100_000,
	}
}

// Publish appends event to stream and returns the bus-assigned entry ID.
func (p *Publisher) Publish(ctx context.Context, stream string, event any) (string, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("encode event for %s: %w", stream, err)
	}
	id, err := p.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{payloadField: raw},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	p.log.Debug("event published", "stream", stream, "entry_id", id)
	return id, nil
}

// ReportOutcome emits the dispatch outcome of a delivery attempt to the
// sent-status stream. Best effort: a failure is logged, never propagated,
// because outcome reporting must not affect ack discipline.
func (p *Publisher) ReportOutcome(ctx context.Context, event *notify.NotificationEvent, outcome notify.DispatchOutcome) {
	if p == nil || event == nil {
		return
	}
	status := StatusEvent{
		EventID:   event.EventID,
		Status:    outcome.String(),
		Timestamp: time.Now().UTC(),
	}
	if _, err := p.Publish(ctx, AlarmSentStatusStream, status); err != nil {
		p.log.Warn("dispatch outcome report failed", "event_id", event.EventID, "error", err)
	}
}
