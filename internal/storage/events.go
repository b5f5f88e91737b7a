package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
)

const (
	upsertBlockHeaderSQL = `INSERT INTO indexer_block_headers (chain, block_number, block_hash, parent_hash)
    VALUES ($1, $2, $3, $4)
    ON CONFLICT (chain, block_number) DO UPDATE
    SET block_hash = EXCLUDED.block_hash, parent_hash = EXCLUDED.parent_hash;`

	upsertIndexedEventSQL = `INSERT INTO indexed_events
        (tx_hash, log_index, block_number, block_timestamp, chain, address, event_type, decoded_data, is_reorged)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false)
    ON CONFLICT (tx_hash, log_index) DO NOTHING
    RETURNING id;`

	insertFtsoPriceTickSQL = `INSERT INTO ftso_price_ticks
        (feed_id, price, decimals, block_number, block_timestamp, epoch_id, tx_hash)
    VALUES ($1, $2, $3, $4, $5, $6, $7)
    ON CONFLICT (feed_id, tx_hash) DO NOTHING;`

	markReorgedFromSQL = `UPDATE indexed_events
    SET is_reorged = true
    WHERE chain = $1 AND block_number >= $2 AND NOT is_reorged;`

	deleteHeadersFromChainSQL = `DELETE FROM indexer_block_headers WHERE chain = $1 AND block_number >= $2;`

	setCursorSQL = `INSERT INTO indexer_state (chain, last_block, updated_at)
    VALUES ($1, $2, now())
    ON CONFLICT (chain) DO UPDATE SET last_block = EXCLUDED.last_block, updated_at = now();`
)

// BeginTx starts a transaction for the caller to drive the atomic per-block
// commit described in §4.5: every cross-table write for one block's worth
// of events happens inside a single transaction alongside the cursor
// advance.
func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return pool.Begin(ctx)
}

// UpsertBlockHeaderTx records (or updates) the block header used to seed
// the Reorg Detector's window on restart.
func (s *Store) UpsertBlockHeaderTx(ctx context.Context, tx pgx.Tx, chain Chain, h RecentBlockHeader) error {
	_, err := tx.Exec(ctx, upsertBlockHeaderSQL, string(chain), int64(h.BlockNumber), h.BlockHash, h.ParentHash)
	return err
}

// UpsertIndexedEventTx inserts event, returning (id, true) if it was newly
// inserted or (0, false) if the (tx_hash, log_index) pair already existed —
// the ON CONFLICT DO NOTHING path that makes replay idempotent per
// invariant 2 in §8.
func (s *Store) UpsertIndexedEventTx(ctx context.Context, tx pgx.Tx, e IndexedEvent) (int64, bool, error) {
	var logIndex interface{}
	if e.LogIndex != nil {
		logIndex = int64(*e.LogIndex)
	}

	var id int64
	err := tx.QueryRow(ctx, upsertIndexedEventSQL,
		e.TxHash,
		logIndex,
		int64(e.BlockNumber),
		e.BlockTimestamp,
		string(e.Chain),
		e.Address,
		string(e.EventType),
		[]byte(e.DecodedData),
	).Scan(&id)
	if err != nil {
		if isNoRows(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}

// InsertFtsoPriceTickTx inserts a derived FTSO tick, deduplicated on
// (feed_id, tx_hash) so replaying an already-persisted block is harmless.
func (s *Store) InsertFtsoPriceTickTx(ctx context.Context, tx pgx.Tx, t FtsoPriceTick) error {
	var epochID interface{}
	if t.EpochID != nil {
		epochID = int64(*t.EpochID)
	}
	_, err := tx.Exec(ctx, insertFtsoPriceTickSQL,
		t.FeedID,
		t.Price.String(),
		t.Decimals,
		int64(t.BlockNumber),
		t.BlockTimestamp,
		epochID,
		t.TxHash,
	)
	return err
}

// SetCursorTx advances the per-chain checkpoint within the block's
// transaction, satisfying §3's "updated in the same atomic commit as the
// events of last_block" invariant.
func (s *Store) SetCursorTx(ctx context.Context, tx pgx.Tx, chain Chain, height uint64) error {
	_, err := tx.Exec(ctx, setCursorSQL, string(chain), int64(height))
	return err
}

// MarkReorgedFrom flags every non-reorged event at or above fromHeight as
// reorged, drops the now-stale seeded headers, and resets the cursor to
// fromHeight-1 (the last common ancestor), all in one transaction, per
// §4.4/§4.5's rollback description.
func (s *Store) MarkReorgedFrom(ctx context.Context, chain Chain, fromHeight uint64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, markReorgedFromSQL, string(chain), int64(fromHeight)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, deleteHeadersFromChainSQL, string(chain), int64(fromHeight)); err != nil {
		return err
	}

	var newCursor int64
	if fromHeight > 0 {
		newCursor = int64(fromHeight - 1)
	}
	if _, err := tx.Exec(ctx, setCursorSQL, string(chain), newCursor); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
