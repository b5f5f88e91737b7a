package storage

import (
	"context"

	"github.com/google/uuid"
)

const (
	getHysteresisStateSQL = `SELECT subscription_id, state_key, in_alert, last_fire_at, last_value, updated_at
    FROM hysteresis_state WHERE subscription_id = $1 AND state_key = $2;`

	upsertHysteresisStateSQL = `INSERT INTO hysteresis_state (subscription_id, state_key, in_alert, last_fire_at, last_value, updated_at)
    VALUES ($1, $2, $3, $4, $5, now())
    ON CONFLICT (subscription_id, state_key) DO UPDATE
    SET in_alert = EXCLUDED.in_alert,
        last_fire_at = EXCLUDED.last_fire_at,
        last_value = EXCLUDED.last_value,
        updated_at = now();`
)

// GetHysteresisState loads the (subscription, state_key) row, or a
// zero-value InAlert=false state if none exists yet — the "no prior
// observation" starting condition described in §4.7.
func (s *Store) GetHysteresisState(ctx context.Context, subscriptionID uuid.UUID, stateKey string) (HysteresisState, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return HysteresisState{}, false, err
	}

	var st HysteresisState
	err = pool.QueryRow(ctx, getHysteresisStateSQL, subscriptionID, stateKey).
		Scan(&st.SubscriptionID, &st.StateKey, &st.InAlert, &st.LastFireAt, &st.LastValue, &st.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return HysteresisState{SubscriptionID: subscriptionID, StateKey: stateKey}, false, nil
		}
		return HysteresisState{}, false, err
	}
	return st, true, nil
}

// UpsertHysteresisState persists the engine's new decision for this
// (subscription, state_key), making the DB the durable source of truth
// per §4.7.
func (s *Store) UpsertHysteresisState(ctx context.Context, st HysteresisState) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var lastValue interface{}
	if st.LastValue != nil {
		lastValue = st.LastValue.String()
	}

	_, err = pool.Exec(ctx, upsertHysteresisStateSQL, st.SubscriptionID, st.StateKey, st.InAlert, st.LastFireAt, lastValue)
	return err
}
