package storage

import (
	"context"

	"github.com/shopspring/decimal"
)

const getEventSQL = `SELECT id, tx_hash, log_index, block_number, block_timestamp, chain, address, event_type, decoded_data, is_reorged, created_at
    FROM indexed_events WHERE id = $1;`

// GetEvent loads a single indexed event by id, used by the Alert Matcher
// after receiving a PersistedEvent notification.
func (s *Store) GetEvent(ctx context.Context, id int64) (IndexedEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return IndexedEvent{}, err
	}

	var e IndexedEvent
	var chainStr, evType string
	err = pool.QueryRow(ctx, getEventSQL, id).Scan(
		&e.ID, &e.TxHash, &e.LogIndex, &e.BlockNumber, &e.BlockTimestamp,
		&chainStr, &e.Address, &evType, &e.DecodedData, &e.IsReorged, &e.CreatedAt,
	)
	if err != nil {
		return IndexedEvent{}, err
	}
	e.Chain = Chain(chainStr)
	e.EventType = EventType(evType)
	return e, nil
}

const recentFeedPricesSQL = `SELECT price FROM (
    SELECT price, block_timestamp FROM ftso_price_ticks
    WHERE feed_id = $1
    ORDER BY block_timestamp DESC
    LIMIT $2
) sub ORDER BY block_timestamp ASC;`

// RecentFeedPrices returns up to n most recent prices for feedID, oldest
// first, used by the price change_pct_abs predicate's window comparison
// per §4.6.
func (s *Store) RecentFeedPrices(ctx context.Context, feedID string, n int) ([]decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, recentFeedPricesSQL, feedID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []decimal.Decimal
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		p, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
