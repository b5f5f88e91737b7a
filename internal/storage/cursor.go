package storage

import (
	"context"
	"time"
)

const (
	getCursorSQL = `SELECT last_block FROM indexer_state WHERE chain = $1;`

	recentHeadersSQL = `SELECT block_number, block_hash, parent_hash
    FROM indexer_block_headers
    WHERE chain = $1
    ORDER BY block_number DESC
    LIMIT $2;`
)

// GetCursor returns the last persisted block height for chain, or (0,
// false) if no cursor row exists yet.
func (s *Store) GetCursor(ctx context.Context, chain Chain) (uint64, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, false, err
	}

	var last int64
	err = pool.QueryRow(ctx, getCursorSQL, string(chain)).Scan(&last)
	if err != nil {
		if isNoRows(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(last), true, nil
}

// RecentBlockHeader is a seeding row for the Reorg Detector's ring buffer.
type RecentBlockHeader struct {
	BlockNumber uint64
	BlockHash   string
	ParentHash  string
}

// RecentHeaders returns up to limit most-recent block headers for chain, in
// descending block-number order, used to seed the Reorg Detector's window
// on startup per §4.4.
func (s *Store) RecentHeaders(ctx context.Context, chain Chain, limit int) ([]RecentBlockHeader, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, recentHeadersSQL, string(chain), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RecentBlockHeader
	for rows.Next() {
		var h RecentBlockHeader
		var num int64
		if err := rows.Scan(&num, &h.BlockHash, &h.ParentHash); err != nil {
			return nil, err
		}
		h.BlockNumber = uint64(num)
		out = append(out, h)
	}
	return out, rows.Err()
}

// timeNow is overridable in tests.
var timeNow = time.Now
