package notify

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/AutoEver-4Ever/ever-gateway/internal/platform/logger"
)

// ErrMissingTarget marks a malformed event with no targetId. It is the
// only error Dispatch returns; every business-level result is an outcome.
var ErrMissingTarget = errors.New("notification event has no targetId")

// EventDispatcher bridges decoded notification events to the stream
// connection of their target user.
type EventDispatcher struct {
	registry *ConnectionRegistry
	log      *logger.Logger
}

func NewEventDispatcher(log *logger.Logger, registry *ConnectionRegistry) *EventDispatcher {
	return &EventDispatcher{
		registry: registry,
		log:      log.With("component", "EventDispatcher"),
	}
}

// Dispatch attempts to deliver event to its target's open stream.
//
// NoRecipient means the user has no open stream; the event is considered
// handled because the gateway does not persist undelivered notifications.
// DeliveryFailed means a connection existed but the write failed (almost
// always a client that is already gone); the connection is errored out and
// evicted. Neither is retryable.
func (d *EventDispatcher) Dispatch(event *NotificationEvent) (DispatchOutcome, error) {
	if event == nil || strings.TrimSpace(event.TargetID) == "" {
		return DeliveryFailed, ErrMissingTarget
	}

	conn, ok := d.registry.Lookup(event.TargetID)
	if !ok {
		d.log.Debug("no open stream for target", "target_id", event.TargetID, "alarm_id", event.AlarmID)
		return NoRecipient, nil
	}

	payload, err := json.Marshal(event.frame())
	if err != nil {
		return DeliveryFailed, err
	}

	if err := conn.Send(EventAlarm, payload); err != nil {
		d.log.Warn("alarm delivery failed",
			"target_id", event.TargetID,
			"alarm_id", event.AlarmID,
			"event_id", event.EventID,
			"error", err)
		conn.CloseWithError(err)
		d.registry.Remove(event.TargetID, conn)
		return DeliveryFailed, nil
	}

	d.log.Debug("alarm delivered", "target_id", event.TargetID, "alarm_id", event.AlarmID, "event_id", event.EventID)
	return Delivered, nil
}
