package chain

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"flare-emissary/internal/apperrors"
)

func TestJitteredBackoff_NeverExceedsCap(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for attempt := 1; attempt <= 10; attempt++ {
		d := jitteredBackoff(rng, attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, backoffCap)
	}
}

func TestJitteredBackoff_GrowsWithAttemptUntilCap(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	// attempt=1 draws from [0, base); by attempt=6 base*2^5 already exceeds
	// the cap so the draw range has saturated at [0, cap).
	small := jitteredBackoff(rng, 1)
	require.Less(t, small, backoffBase)

	large := jitteredBackoff(rng, 6)
	require.Less(t, large, backoffCap)
}

func TestClassify_TimeoutIsTransient(t *testing.T) {
	err := classify("http://primary", "eth_getLogs", errors.New("context deadline exceeded (timeout)"))
	require.True(t, apperrors.IsRetryable(err))
	require.Equal(t, apperrors.CategoryTransientRPC, apperrors.CategoryOf(err))
}

func TestClassify_ConnectionResetIsTransient(t *testing.T) {
	err := classify("http://primary", "eth_blockNumber", errors.New("read: connection reset by peer"))
	require.True(t, apperrors.IsRetryable(err))
}

func TestClassify_TooManyRequestsIsTransient(t *testing.T) {
	err := classify("http://primary", "eth_getLogs", errors.New("429 too many requests"))
	require.True(t, apperrors.IsRetryable(err))
}

func TestClassify_MalformedResponseIsFatal(t *testing.T) {
	err := classify("http://primary", "eth_getLogs", errors.New("invalid character 'x' looking for beginning of value"))
	require.False(t, apperrors.IsRetryable(err))
	require.Equal(t, apperrors.CategoryFatalRPC, apperrors.CategoryOf(err))
}

func TestBuildFilterQuery_RangeAndAddresses(t *testing.T) {
	addr := "0x0000000000000000000000000000000000dEaD"
	q := buildFilterQuery(100, 200, []string{addr}, nil)
	require.Equal(t, big.NewInt(100), q.FromBlock)
	require.Equal(t, big.NewInt(200), q.ToBlock)
	require.Equal(t, []common.Address{common.HexToAddress(addr)}, q.Addresses)
	require.Nil(t, q.Topics)
}

func TestBuildFilterQuery_TopicsPreservePositionalGroups(t *testing.T) {
	topic0 := "0x01"
	topic1a, topic1b := "0x02", "0x03"
	q := buildFilterQuery(1, 1, nil, [][]string{{topic0}, {topic1a, topic1b}})
	require.Len(t, q.Topics, 2)
	require.Equal(t, []common.Hash{common.HexToHash(topic0)}, q.Topics[0])
	require.Equal(t, []common.Hash{common.HexToHash(topic1a), common.HexToHash(topic1b)}, q.Topics[1])
}

func TestHeaderFromEth_MapsFields(t *testing.T) {
	raw := &types.Header{
		Number:     big.NewInt(42),
		ParentHash: common.HexToHash("0x01"),
		Time:       1700000000,
	}
	h := headerFromEth(raw)
	require.Equal(t, uint64(42), h.Number)
	require.Equal(t, raw.ParentHash.Hex(), h.ParentHash)
	require.Equal(t, uint64(1700000000), h.Timestamp)
	require.NotEmpty(t, h.Hash)
}
