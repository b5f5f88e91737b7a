package ingest

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"flare-emissary/internal/apperrors"
	"flare-emissary/internal/chain"
)

func hashOf(n uint64) string       { return fmt.Sprintf("hash-%d", n) }
func parentHashOf(n uint64) string { return fmt.Sprintf("hash-%d", n-1) }

func canonicalHeader(n uint64) chain.Header {
	var parent string
	if n > 0 {
		parent = parentHashOf(n)
	}
	return chain.Header{Number: n, Hash: hashOf(n), ParentHash: parent}
}

func canonicalFetcher(ctx context.Context, n uint64) (chain.Header, error) {
	return canonicalHeader(n), nil
}

func TestReorgDetector_CanonicalAppendNoWindowGrowthBeyondMax(t *testing.T) {
	d := NewReorgDetector("flare", 3, nil)
	for n := uint64(1); n <= 10; n++ {
		start, err := d.CheckAndRecord(context.Background(), canonicalHeader(n), canonicalFetcher)
		require.NoError(t, err)
		require.Nil(t, start)
		require.LessOrEqual(t, d.WindowSize(), 3)
	}
	require.Equal(t, 3, d.WindowSize())
}

func TestReorgDetector_StaleHeightIgnored(t *testing.T) {
	d := NewReorgDetector("flare", 10, nil)
	_, err := d.CheckAndRecord(context.Background(), canonicalHeader(5), canonicalFetcher)
	require.NoError(t, err)

	start, err := d.CheckAndRecord(context.Background(), canonicalHeader(3), canonicalFetcher)
	require.NoError(t, err)
	require.Nil(t, start)
	require.Equal(t, 1, d.WindowSize())
}

func TestReorgDetector_ShallowForkAtTipRollsBackJustThatHeight(t *testing.T) {
	d := NewReorgDetector("flare", 10, nil)
	for n := uint64(1); n <= 5; n++ {
		_, err := d.CheckAndRecord(context.Background(), canonicalHeader(n), canonicalFetcher)
		require.NoError(t, err)
	}

	// Height 6 arrives with a parent hash matching neither the recorded
	// tip nor anything else in the window, but the walk immediately finds
	// the tip (height 5) is still canonical — so only height 6 itself needs
	// re-fetching, nothing below it.
	bad := chain.Header{Number: 6, Hash: "bad-6", ParentHash: "bogus-5"}
	start, err := d.CheckAndRecord(context.Background(), bad, canonicalFetcher)
	require.NoError(t, err)
	require.NotNil(t, start)
	require.Equal(t, uint64(6), *start)
}

func TestReorgDetector_DeepForkWalksBackAndRollsBack(t *testing.T) {
	d := NewReorgDetector("flare", 10, nil)
	for n := uint64(1); n <= 5; n++ {
		_, err := d.CheckAndRecord(context.Background(), canonicalHeader(n), canonicalFetcher)
		require.NoError(t, err)
	}

	// RPC now reports heights 4 and 5 as no longer canonical (the chain
	// reorganized past our tracked tip) but height 3 still matches, forcing
	// findDivergencePoint to walk back two entries before finding solid
	// ground and rolling back from height 4.
	fetch := func(ctx context.Context, n uint64) (chain.Header, error) {
		if n >= 4 {
			return chain.Header{Number: n, Hash: "reorged-" + hashOf(n)}, nil
		}
		return canonicalHeader(n), nil
	}

	rogue := chain.Header{Number: 6, Hash: "rogue-6", ParentHash: "rogue-5"}
	start, err := d.CheckAndRecord(context.Background(), rogue, fetch)
	require.NoError(t, err)
	require.NotNil(t, start)
	require.Equal(t, uint64(4), *start)

	for _, e := range d.window {
		require.Less(t, e.number, uint64(4))
	}
}

func TestReorgDetector_DeepReorgBeyondWindowEscalates(t *testing.T) {
	d := NewReorgDetector("flare", 3, nil)
	for n := uint64(1); n <= 3; n++ {
		_, err := d.CheckAndRecord(context.Background(), canonicalHeader(n), canonicalFetcher)
		require.NoError(t, err)
	}

	neverCanonical := func(ctx context.Context, n uint64) (chain.Header, error) {
		return chain.Header{Number: n, Hash: "never-matches"}, nil
	}

	rogue := chain.Header{Number: 4, Hash: "rogue-4", ParentHash: "rogue-3"}
	_, err := d.CheckAndRecord(context.Background(), rogue, neverCanonical)
	require.Error(t, err)
	require.True(t, apperrors.IsDeepReorg(err))
}

func TestReorgDetector_SeededFromExistingHeaders(t *testing.T) {
	seed := []chain.Header{canonicalHeader(1), canonicalHeader(2), canonicalHeader(3)}
	d := NewReorgDetector("flare", 10, seed)
	require.Equal(t, 3, d.WindowSize())

	start, err := d.CheckAndRecord(context.Background(), canonicalHeader(4), canonicalFetcher)
	require.NoError(t, err)
	require.Nil(t, start)
	require.Equal(t, 4, d.WindowSize())
}

// TestReorgDetector_WindowInvariant checks, over random canonical block
// sequences of varying window sizes, that the window never exceeds maxSize
// and always stays sorted ascending by height — the two invariants §4.4
// requires of the sliding window regardless of how it fills.
func TestReorgDetector_WindowInvariant(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("window never exceeds maxSize and stays ascending", prop.ForAll(
		func(maxSize int, blocks int) bool {
			if maxSize < 1 || blocks < 1 {
				return true
			}
			d := NewReorgDetector("flare", maxSize, nil)
			for n := uint64(1); n <= uint64(blocks); n++ {
				_, err := d.CheckAndRecord(context.Background(), canonicalHeader(n), canonicalFetcher)
				if err != nil {
					return false
				}
			}
			if d.WindowSize() > maxSize {
				return false
			}
			for i := 1; i < len(d.window); i++ {
				if d.window[i].number <= d.window[i-1].number {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 20),
		gen.IntRange(1, 100),
	))

	properties.TestingRun(t)
}
