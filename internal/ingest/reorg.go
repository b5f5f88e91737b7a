package ingest

import (
	"context"

	"flare-emissary/internal/apperrors"
	"flare-emissary/internal/chain"
)

type headerEntry struct {
	number     uint64
	hash       string
	parentHash string
}

// ReorgDetector maintains the sliding window of §4.4: an ordered ring
// buffer of the most recent W (height, block_hash, parent_hash) entries,
// used to detect forks by comparing a newly fetched block's parent hash
// against the window's tip.
type ReorgDetector struct {
	chain   string
	window  []headerEntry // ascending by number, oldest first
	maxSize int
}

// NewReorgDetector builds a detector for chain with window size maxSize
// (default 10 per §4.4), pre-seeded with seed (typically loaded from
// Store.RecentHeaders on startup, per §4.4's "seeded from the database"
// requirement).
func NewReorgDetector(chainName string, maxSize int, seed []chain.Header) *ReorgDetector {
	d := &ReorgDetector{chain: chainName, maxSize: maxSize}
	for _, h := range seed {
		d.window = append(d.window, headerEntry{number: h.Number, hash: h.Hash, parentHash: h.ParentHash})
	}
	return d
}

// WindowSize reports how many entries are currently tracked.
func (d *ReorgDetector) WindowSize() int { return len(d.window) }

func (d *ReorgDetector) tip() (headerEntry, bool) {
	if len(d.window) == 0 {
		return headerEntry{}, false
	}
	return d.window[len(d.window)-1], true
}

func (d *ReorgDetector) findByNumber(n uint64) (headerEntry, bool) {
	for _, e := range d.window {
		if e.number == n {
			return e, true
		}
	}
	return headerEntry{}, false
}

// BlockFetcher fetches the canonical header at height n as currently
// reported by the RPC. Passed in so the detector never imports the chain
// client's dial/retry machinery directly.
type BlockFetcher func(ctx context.Context, n uint64) (chain.Header, error)

// CheckAndRecord implements §4.4's per-block decision: canonical append,
// fork rollback (returns the reorg start height), stale-height ignore, or
// DeepReorgError when the fork is deeper than the window.
//
// reorgStart, when non-nil, is the lowest height whose event must be
// rolled back — the caller is expected to call Store.MarkReorgedFrom(chain,
// *reorgStart) and reset its cursor to *reorgStart-1 before re-entering the
// poll loop at *reorgStart.
func (d *ReorgDetector) CheckAndRecord(ctx context.Context, h chain.Header, fetch BlockFetcher) (reorgStart *uint64, err error) {
	tip, hasTip := d.tip()

	if hasTip && h.Number <= tip.number {
		return nil, nil // stale response, ignore
	}

	if !hasTip || (h.Number == tip.number+1 && h.ParentHash == tip.hash) {
		d.append(h)
		return nil, nil
	}

	if expected, ok := d.findByNumber(h.Number - 1); ok && h.ParentHash == expected.hash {
		d.append(h)
		return nil, nil
	}

	start, found, err := d.findDivergencePoint(ctx, fetch)
	if err != nil {
		return nil, err
	}
	if !found {
		depth := int(h.Number-d.window[0].number) + 1
		return nil, apperrors.NewDeepReorgError(d.chain, d.maxSize, depth)
	}

	// Retain only entries strictly below the reorg start.
	kept := d.window[:0]
	for _, e := range d.window {
		if e.number < start {
			kept = append(kept, e)
		}
	}
	d.window = kept

	return &start, nil
}

func (d *ReorgDetector) append(h chain.Header) {
	d.window = append(d.window, headerEntry{number: h.Number, hash: h.Hash, parentHash: h.ParentHash})
	if len(d.window) > d.maxSize {
		d.window = d.window[1:]
	}
}

// findDivergencePoint walks backward through the window re-querying the RPC
// for the canonical hash at each height, returning the height one above the
// first still-canonical entry, per the original_source's
// find_divergence_point. found=false means the whole window was walked
// without a canonical match — a reorg deeper than the tracked window, per
// §4.4's DeepReorgError escalation (a REDESIGN of the original, which
// silently fell back to the oldest window entry instead of erroring).
func (d *ReorgDetector) findDivergencePoint(ctx context.Context, fetch BlockFetcher) (start uint64, found bool, err error) {
	for i := len(d.window) - 1; i >= 0; i-- {
		entry := d.window[i]
		canonical, err := fetch(ctx, entry.number)
		if err != nil {
			return 0, false, err
		}
		if canonical.Hash == entry.hash {
			return entry.number + 1, true, nil
		}
	}
	return 0, false, nil
}
