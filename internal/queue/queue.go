// Package queue implements the Delivery Queue Producer of §4.8: for each
// fired Alert, a Notification row is created pending and a job is pushed
// onto a durable, ordered-per-channel, competing-consumers queue for
// external delivery workers to drain.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"flare-emissary/internal/apperrors"
	"flare-emissary/internal/storage"
)

// Job is the payload pushed onto the stream, per §4.8's
// {notification_id, channel_type, config, payload} shape.
type Job struct {
	NotificationID uuid.UUID       `json:"notification_id"`
	ChannelType    string          `json:"channel_type"`
	Config         json.RawMessage `json:"config"`
	Payload        json.RawMessage `json:"payload"`
}

// Producer implements engine.AlertPublisher via Redis Streams: XADD gives
// per-stream append order and, combined with consumer groups on the worker
// side, the "ordered per channel, persistent, competing consumers"
// semantics §4.8 requires of the core's chosen queue technology.
type Producer struct {
	client       *redis.Client
	streamPrefix string
	store        *storage.Store
	logger       zerolog.Logger
}

// NewProducer wires the queue producer to its Redis client and the store it
// uses to create the Notification row before enqueuing, per §5's
// "persist before publish" ordering.
func NewProducer(client *redis.Client, streamPrefix string, store *storage.Store, logger zerolog.Logger) *Producer {
	if streamPrefix == "" {
		streamPrefix = "flareemissary:notifications"
	}
	return &Producer{client: client, streamPrefix: streamPrefix, store: store, logger: logger.With().Str("component", "queue_producer").Logger()}
}

func (p *Producer) streamName(channelType storage.ChannelType) string {
	return fmt.Sprintf("%s:%s", p.streamPrefix, channelType)
}

// Publish implements engine.AlertPublisher: it loads alert's channel,
// creates the pending Notification row, and XADDs one job onto that
// channel type's stream.
func (p *Producer) Publish(ctx context.Context, alert storage.Alert, sub storage.Subscription) error {
	channel, err := p.store.GetChannel(ctx, sub.ChannelID)
	if err != nil {
		return apperrors.NewPersistenceError(true, "get_channel", err)
	}
	if !channel.Verified {
		p.logger.Warn().Str("channel_id", channel.ID.String()).Msg("skipping delivery to unverified channel")
		return nil
	}

	notification, err := p.store.InsertNotification(ctx, alert.ID, channel.ID)
	if err != nil {
		return apperrors.NewPersistenceError(true, "insert_notification", err)
	}

	payload, err := translatePayload(alert, sub, channel)
	if err != nil {
		return apperrors.NewQueueError("translate_payload", err)
	}

	job := Job{
		NotificationID: notification.ID,
		ChannelType:    string(channel.ChannelType),
		Config:         channel.Config,
		Payload:        payload,
	}
	body, err := json.Marshal(job)
	if err != nil {
		return apperrors.NewQueueError("marshal_job", err)
	}

	stream := p.streamName(channel.ChannelType)
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"job": body},
	}).Err()
	if err != nil {
		return apperrors.NewQueueError("xadd", err)
	}

	return nil
}

// SweepOnce re-publishes every Notification that has sat pending for
// longer than staleAfter, per §7's QueueError policy: the alert row stays
// committed and the notification stays pending across a failed
// translate/marshal/XADD, so this reuses the existing notification_id
// rather than minting a new one — a delivery worker that already saw it
// once still dedupes on the same id.
func (p *Producer) SweepOnce(ctx context.Context, staleAfter time.Duration) (int, error) {
	stuck, err := p.store.FindStuckPendingNotifications(ctx, staleAfter)
	if err != nil {
		return 0, apperrors.NewPersistenceError(true, "find_stuck_pending_notifications", err)
	}

	swept := 0
	for _, sn := range stuck {
		if !sn.Channel.Verified {
			continue
		}

		payload, err := translatePayload(sn.Alert, sn.Subscription, sn.Channel)
		if err != nil {
			p.logger.Warn().Err(err).Str("notification_id", sn.Notification.ID.String()).Msg("sweep: translate payload failed, will retry next sweep")
			continue
		}

		job := Job{
			NotificationID: sn.Notification.ID,
			ChannelType:    string(sn.Channel.ChannelType),
			Config:         sn.Channel.Config,
			Payload:        payload,
		}
		body, err := json.Marshal(job)
		if err != nil {
			p.logger.Warn().Err(err).Str("notification_id", sn.Notification.ID.String()).Msg("sweep: marshal job failed, will retry next sweep")
			continue
		}

		err = p.client.XAdd(ctx, &redis.XAddArgs{
			Stream: p.streamName(sn.Channel.ChannelType),
			Values: map[string]interface{}{"job": body},
		}).Err()
		if err != nil {
			p.logger.Warn().Err(err).Str("notification_id", sn.Notification.ID.String()).Msg("sweep: xadd failed, will retry next sweep")
			continue
		}
		swept++
	}
	return swept, nil
}

// translatePayload builds the channel-agnostic notification payload from
// the alert/subscription triple. Delivery workers (out of scope per §9's
// notifier stub) are responsible for rendering it per transport.
func translatePayload(alert storage.Alert, sub storage.Subscription, channel storage.NotificationChannel) (json.RawMessage, error) {
	return json.Marshal(struct {
		SubscriptionID string    `json:"subscription_id"`
		EventID        int64     `json:"event_id"`
		Severity       string    `json:"severity"`
		Message        string    `json:"message"`
		TriggeredAt    time.Time `json:"triggered_at"`
	}{
		SubscriptionID: sub.ID.String(),
		EventID:        alert.EventID,
		Severity:       string(alert.Severity),
		Message:        alert.Message,
		TriggeredAt:    alert.TriggeredAt,
	})
}
