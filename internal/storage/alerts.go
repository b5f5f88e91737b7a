package storage

import (
	"context"

	"github.com/google/uuid"
)

const insertAlertSQL = `INSERT INTO alerts (id, subscription_id, event_id, severity, message, triggered_at)
    VALUES ($1, $2, $3, $4, $5, now())
    ON CONFLICT (subscription_id, event_id) DO NOTHING
    RETURNING id, triggered_at;`

// InsertAlert creates an alert row, returning (alert, true) if newly
// inserted or (zero, false) if (SubscriptionID, EventID) already fired —
// the replay-safety guard required by §4.7/§8's exactly-once-per-event
// alert invariant.
func (s *Store) InsertAlert(ctx context.Context, a Alert) (Alert, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, false, err
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	var id uuid.UUID
	err = pool.QueryRow(ctx, insertAlertSQL, a.ID, a.SubscriptionID, a.EventID, string(a.Severity), a.Message).
		Scan(&id, &a.TriggeredAt)
	if err != nil {
		if isNoRows(err) {
			return Alert{}, false, nil
		}
		return Alert{}, false, err
	}
	a.ID = id
	return a, true, nil
}
