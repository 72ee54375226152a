package eventbus

// Stream names shared with the other services on the bus.
const (
	// Payment service streams.
	PaymentRequestStream  = "payment-request"
	PaymentCompleteStream = "payment-complete"
	PaymentCancelStream   = "payment-cancel"
	PaymentFailedStream   = "payment-failed"

	// Cross-service business streams.
	UserEventStream     = "user-event"
	ScmEventStream      = "scm-event"
	BusinessEventStream = "business-event"

	// Alarm delivery requests consumed by the gateway's ingestor.
	AlarmEventStream = "alarm-event"

	// Delivery/request status acknowledgments. Consumed, logged and
	// acked; the gateway also reports dispatch outcomes to the sent
	// status stream for observability.
	AlarmSentStatusStream    = "alarm-sent-status"
	AlarmRequestStatusStream = "alarm-request-status"
)

// payloadField is the stream entry field carrying the JSON-encoded event.
const payloadField = "payload"
