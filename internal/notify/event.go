package notify

import "time"

// SSE frame names emitted to subscribed clients.
const (
	EventAlarm     = "alarm"
	EventKeepalive = "keepalive"
)

// NotificationEvent is one delivery request consumed from the alarm event
// stream. The payload fields are forwarded to the client verbatim.
// ScheduledAt is carried through but never interpreted; deferred delivery
// is not implemented anywhere in the pipeline.
type NotificationEvent struct {
	EventID     string     `json:"eventId"`
	AlarmID     string     `json:"alarmId"`
	AlarmType   string     `json:"alarmType,omitempty"`
	TargetID    string     `json:"targetId"`
	TargetType  string     `json:"targetType,omitempty"`
	Title       string     `json:"title,omitempty"`
	Message     string     `json:"message,omitempty"`
	LinkID      string     `json:"linkId,omitempty"`
	LinkType    string     `json:"linkType,omitempty"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
}

// alarmFrame is the client-facing body of an "alarm" frame: the event
// payload minus the routing fields.
type alarmFrame struct {
	EventID     string     `json:"eventId,omitempty"`
	AlarmID     string     `json:"alarmId"`
	AlarmType   string     `json:"alarmType,omitempty"`
	Title       string     `json:"title,omitempty"`
	Message     string     `json:"message,omitempty"`
	LinkID      string     `json:"linkId,omitempty"`
	LinkType    string     `json:"linkType,omitempty"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
}

func (e *NotificationEvent) frame() alarmFrame {
	return alarmFrame{
		EventID:     e.EventID,
		AlarmID:     e.AlarmID,
		AlarmType:   e.AlarmType,
		Title:       e.Title,
		Message:     e.Message,
		LinkID:      e.LinkID,
		LinkType:    e.LinkType,
		ScheduledAt: e.ScheduledAt,
	}
}

// DispatchOutcome classifies the result of one delivery attempt. None of
// the outcomes are retryable at the event-bus level.
type DispatchOutcome int

const (
	Delivered DispatchOutcome = iota
	NoRecipient
	DeliveryFailed
)

func (o DispatchOutcome) String() string {
	switch o {
	case Delivered:
		return "DELIVERED"
	case NoRecipient:
		return "NO_RECIPIENT"
	case DeliveryFailed:
		return "DELIVERY_FAILED"
	default:
		return "UNKNOWN"
	}
}
