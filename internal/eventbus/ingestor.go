package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/AutoEver-4Ever/ever-gateway/internal/notify"
	"github.com/AutoEver-4Ever/ever-gateway/internal/platform/logger"
)

// Dispatcher is the delivery side the ingestor drives.
type Dispatcher interface {
	Dispatch(event *notify.NotificationEvent) (notify.DispatchOutcome, error)
}

type Config struct {
	Group          string
	Consumer       string
	BatchSize      int64
	Block          time.Duration
	PendingMinIdle time.Duration
}

func (c *Config) applyDefaults() {
	if c.Group == "" {
		c.Group = "ever-gateway"
	}
	if c.Consumer == "" {
		host, _ := os.Hostname()
		if host == "" {
			host = "gateway"
		}
		c.Consumer = host + "-" + uuid.NewString()[:8]
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
	if c.PendingMinIdle <= 0 {
		c.PendingMinIdle = time.Minute
	}
}

// Ingestor consumes the alarm streams through a consumer group and drives
// the dispatcher. Every message is acked after handling regardless of the
// dispatch outcome: no outcome is retryable and a malformed payload must
// never block the stream. The only path to redelivery is a crash between
// read and ack, which the startup pending-claim pass picks up.
type Ingestor struct {
	log        *logger.Logger
	rdb        *goredis.Client
	dispatcher Dispatcher
	publisher  *Publisher
	cfg        Config
}

func NewIngestor(log *logger.Logger, rdb *goredis.Client, dispatcher Dispatcher, publisher *Publisher, cfg Config) *Ingestor {
	cfg.applyDefaults()
	return &Ingestor{
		log:        log.With("component", "Ingestor", "group", cfg.Group, "consumer", cfg.Consumer),
		rdb:        rdb,
		dispatcher: dispatcher,
		publisher:  publisher,
		cfg:        cfg,
	}
}

var consumedStreams = []string{AlarmEventStream, AlarmSentStatusStream, AlarmRequestStatusStream}

// Run blocks consuming until ctx is canceled.
func (in *Ingestor) Run(ctx context.Context) error {
	if err := in.ensureGroups(ctx); err != nil {
		return err
	}
	in.claimPending(ctx)

	in.log.Info("event ingestion started", "streams", strings.Join(consumedStreams, ","))

	streams := make([]string, 0, 2*len(consumedStreams))
	streams = append(streams, consumedStreams...)
	for range consumedStreams {
		streams = append(streams, ">")
	}

	for {
		if ctx.Err() != nil {
			in.log.Info("event ingestion stopped")
			return nil
		}
		res, err := in.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    in.cfg.Group,
			Consumer: in.cfg.Consumer,
			Streams:  streams,
			Count:    in.cfg.BatchSize,
			Block:    in.cfg.Block,
		}).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				in.log.Info("event ingestion stopped")
				return nil
			}
			in.log.Warn("event bus read failed, backing off", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				in.handle(ctx, stream.Stream, msg)
				in.ack(ctx, stream.Stream, msg.ID)
			}
		}
	}
}

// handle processes one entry. It never returns an error: all failure
// modes here are either unrecoverable by retry or not the bus's concern,
// so the caller acks unconditionally.
func (in *Ingestor) handle(ctx context.Context, stream string, msg goredis.XMessage) {
	switch stream {
	case AlarmEventStream:
		in.handleAlarmEvent(ctx, msg)
	case AlarmSentStatusStream, AlarmRequestStatusStream:
		in.handleStatusEvent(stream, msg)
	default:
		in.log.Warn("entry from unexpected stream", "stream", stream, "entry_id", msg.ID)
	}
}

func (in *Ingestor) handleAlarmEvent(ctx context.Context, msg goredis.XMessage) {
	var event notify.NotificationEvent
	if err := decodePayload(msg, &event); err != nil {
		in.log.Warn("skipping malformed alarm event", "entry_id", msg.ID, "error", err)
		return
	}

	outcome, err := in.dispatcher.Dispatch(&event)
	if err != nil {
		in.log.Error("dropping undispatchable alarm event", "entry_id", msg.ID, "event_id", event.EventID, "error", err)
		return
	}

	switch outcome {
	case notify.Delivered:
		in.log.Info("alarm event delivered", "entry_id", msg.ID, "event_id", event.EventID, "target_id", event.TargetID)
	case notify.NoRecipient:
		in.log.Debug("alarm event had no recipient", "entry_id", msg.ID, "event_id", event.EventID, "target_id", event.TargetID)
	case notify.DeliveryFailed:
		in.log.Warn("alarm event delivery failed", "entry_id", msg.ID, "event_id", event.EventID, "target_id", event.TargetID)
	}

	if in.publisher != nil {
		in.publisher.ReportOutcome(ctx, &event, outcome)
	}
}

func (in *Ingestor) handleStatusEvent(stream string, msg goredis.XMessage) {
	var status StatusEvent
	if err := decodePayload(msg, &status); err != nil {
		in.log.Warn("skipping malformed status event", "stream", stream, "entry_id", msg.ID, "error", err)
		return
	}
	in.log.Info("status event received", "stream", stream, "entry_id", msg.ID, "event_id", status.EventID, "status", status.Status)
}

func (in *Ingestor) ack(ctx context.Context, stream, id string) {
	if err := in.rdb.XAck(ctx, stream, in.cfg.Group, id).Err(); err != nil && ctx.Err() == nil {
		in.log.Warn("ack failed, entry may be redelivered", "stream", stream, "entry_id", id, "error", err)
	}
}

func (in *Ingestor) ensureGroups(ctx context.Context) error {
	for _, stream := range consumedStreams {
		err := in.rdb.XGroupCreateMkStream(ctx, stream, in.cfg.Group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create consumer group on %s: %w", stream, err)
		}
	}
	return nil
}

// claimPending adopts entries read but never acked by a dead consumer.
// This is the at-least-once half of the contract: a crash mid-dispatch
// causes redelivery here, and nothing else does.
func (in *Ingestor) claimPending(ctx context.Context) {
	start := "0-0"
	for {
		msgs, next, err := in.rdb.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
			Stream:   AlarmEventStream,
			Group:    in.cfg.Group,
			Consumer: in.cfg.Consumer,
			MinIdle:  in.cfg.PendingMinIdle,
			Start:    start,
			Count:    in.cfg.BatchSize,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				in.log.Warn("pending claim failed", "error", err)
			}
			return
		}
		for _, msg := range msgs {
			in.log.Info("redelivering pending alarm event", "entry_id", msg.ID)
			in.handle(ctx, AlarmEventStream, msg)
			in.ack(ctx, AlarmEventStream, msg.ID)
		}
		if next == "0-0" || len(msgs) == 0 {
			return
		}
		start = next
	}
}

func decodePayload(msg goredis.XMessage, out any) error {
	raw, ok := msg.Values[payloadField]
	if !ok {
		return fmt.Errorf("entry %s has no %q field", msg.ID, payloadField)
	}
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("entry %s has non-string payload (%T)", msg.ID, raw)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode entry %s: %w", msg.ID, err)
	}
	return nil
}
