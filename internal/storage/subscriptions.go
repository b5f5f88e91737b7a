package storage

import (
	"context"

	"github.com/google/uuid"
)

const (
	findActiveSubscriptionsSQL = `SELECT s.id, s.user_id, s.address_id, s.channel_id, s.event_type, s.threshold_config, s.active, s.created_at
    FROM subscriptions s
    JOIN monitored_addresses ma ON s.address_id = ma.id
    WHERE ma.address = $1
      AND ma.chain = $2
      AND (s.event_type = $3 OR s.event_type = '*')
      AND s.active = true;`
)

// FindActiveSubscriptions returns every active subscription whose
// (address, event_type) matches, or whose event_type is the wildcard "*",
// per §4.6 step 1. Used by the Alert Matcher for each newly persisted
// event.
func (s *Store) FindActiveSubscriptions(ctx context.Context, chain Chain, address string, eventType EventType) ([]Subscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, findActiveSubscriptionsSQL, address, string(chain), string(eventType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		var evType string
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.AddressID, &sub.ChannelID, &evType, &sub.ThresholdConfig, &sub.Active, &sub.CreatedAt); err != nil {
			return nil, err
		}
		sub.EventType = EventType(evType)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

const getChannelSQL = `SELECT id, user_id, channel_type, config, verified, created_at FROM notification_channels WHERE id = $1;`

// GetChannel loads a notification channel by id, used by the Delivery
// Queue Producer to build a queue job's {channel_type, config}.
func (s *Store) GetChannel(ctx context.Context, id uuid.UUID) (NotificationChannel, error) {
	pool, err := s.getPool()
	if err != nil {
		return NotificationChannel{}, err
	}

	var ch NotificationChannel
	var chType string
	err = pool.QueryRow(ctx, getChannelSQL, id).Scan(&ch.ID, &ch.UserID, &chType, &ch.Config, &ch.Verified, &ch.CreatedAt)
	if err != nil {
		return NotificationChannel{}, err
	}
	ch.ChannelType = ChannelType(chType)
	return ch, nil
}
