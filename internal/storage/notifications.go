package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const insertNotificationSQL = `INSERT INTO notifications (id, alert_id, channel_id, status, created_at)
    VALUES ($1, $2, $3, 'pending', now())
    RETURNING id, created_at;`

// InsertNotification creates a pending notification row for the Delivery
// Queue Producer to enqueue after the enclosing alert commit, per §5's
// "persist before publish" ordering.
func (s *Store) InsertNotification(ctx context.Context, alertID, channelID uuid.UUID) (Notification, error) {
	pool, err := s.getPool()
	if err != nil {
		return Notification{}, err
	}

	n := Notification{
		ID:        uuid.New(),
		AlertID:   alertID,
		ChannelID: channelID,
		Status:    DeliveryPending,
	}

	err = pool.QueryRow(ctx, insertNotificationSQL, n.ID, n.AlertID, n.ChannelID).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return Notification{}, err
	}
	return n, nil
}

// StuckNotification joins a pending Notification with everything the
// Delivery Queue Producer needs to re-derive its job payload, without
// re-running the Alert Matcher: the Alert it was raised for, the
// Subscription that raised it, and the destination channel.
type StuckNotification struct {
	Notification Notification
	Alert        Alert
	Subscription Subscription
	Channel      NotificationChannel
}

const findStuckPendingNotificationsSQL = `SELECT
    n.id, n.alert_id, n.channel_id, n.status, n.sent_at, n.error_detail, n.created_at,
    a.id, a.subscription_id, a.event_id, a.severity, a.message, a.triggered_at,
    s.id, s.user_id, s.address_id, s.channel_id, s.event_type, s.threshold_config, s.active, s.created_at,
    c.id, c.user_id, c.channel_type, c.config, c.verified, c.created_at
FROM notifications n
JOIN alerts a ON a.id = n.alert_id
JOIN subscriptions s ON s.id = a.subscription_id
JOIN notification_channels c ON c.id = n.channel_id
WHERE n.status = 'pending' AND n.created_at < $1
ORDER BY n.created_at ASC
LIMIT $2;`

// stuckNotificationBatchLimit bounds a single sweep so a large pending
// backlog after an outage doesn't try to XADD thousands of jobs in one
// tick; the rest is picked up on the next 30s sweep.
const stuckNotificationBatchLimit = 200

// FindStuckPendingNotifications returns Notifications that have sat
// `pending` for longer than olderThan, per §7's QueueError retry policy:
// "notification row stays pending; retried on a background sweeper every
// 30s".
func (s *Store) FindStuckPendingNotifications(ctx context.Context, olderThan time.Duration) ([]StuckNotification, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, findStuckPendingNotificationsSQL, time.Now().Add(-olderThan), stuckNotificationBatchLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stuck []StuckNotification
	for rows.Next() {
		var sn StuckNotification
		var notifStatus, subEventType, alertSeverity, chanType string
		if err := rows.Scan(
			&sn.Notification.ID, &sn.Notification.AlertID, &sn.Notification.ChannelID, &notifStatus, &sn.Notification.SentAt, &sn.Notification.ErrorDetail, &sn.Notification.CreatedAt,
			&sn.Alert.ID, &sn.Alert.SubscriptionID, &sn.Alert.EventID, &alertSeverity, &sn.Alert.Message, &sn.Alert.TriggeredAt,
			&sn.Subscription.ID, &sn.Subscription.UserID, &sn.Subscription.AddressID, &sn.Subscription.ChannelID, &subEventType, &sn.Subscription.ThresholdConfig, &sn.Subscription.Active, &sn.Subscription.CreatedAt,
			&sn.Channel.ID, &sn.Channel.UserID, &chanType, &sn.Channel.Config, &sn.Channel.Verified, &sn.Channel.CreatedAt,
		); err != nil {
			return nil, err
		}
		sn.Notification.Status = DeliveryStatus(notifStatus)
		sn.Alert.Severity = Severity(alertSeverity)
		sn.Subscription.EventType = EventType(subEventType)
		sn.Channel.ChannelType = ChannelType(chanType)
		stuck = append(stuck, sn)
	}
	return stuck, rows.Err()
}
