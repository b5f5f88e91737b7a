package decode

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"flare-emissary/internal/storage"
)

func topicFromFeedID(feedIDHex string) common.Hash {
	var h common.Hash
	feedBytes := common.FromHex(feedIDHex)
	copy(h[:21], feedBytes)
	return h
}

func TestPriceEpochFinalizedDecoder(t *testing.T) {
	args := abi.Arguments{{Type: int32Ty}, {Type: uint32Ty}}
	data, err := args.Pack(int32(123456), uint32(7))
	require.NoError(t, err)

	feedIDHex := "0x0102030405060708090a0b0c0d0e0f101112131415"
	log := RawLog{
		Address:     common.HexToAddress("0x0000000000000000000000000000000000000001"),
		Topics:      []common.Hash{TopicPriceEpochFinalized, topicFromFeedID(feedIDHex)},
		Data:        data,
		BlockNumber: 100,
		TxHash:      common.HexToHash("0xabc"),
	}

	decoder := NewPriceEpochFinalizedDecoder()
	ev, err := decoder.Decode(log)
	require.NoError(t, err)
	require.Equal(t, storage.EventPriceEpochFinalized, ev.EventType)
	require.NotNil(t, ev.FtsoTick)
	require.Equal(t, uint64(7), *ev.FtsoTick.EpochID)
	require.True(t, ev.FtsoTick.Price.Equal(ev.FtsoTick.Price)) // sanity: constructible

	var payload ftsoPriceEpochFinalizedPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	require.Equal(t, int32(5), payload.Decimals)
	require.Equal(t, uint32(7), payload.EpochID)
	require.Equal(t, feedIDHex, payload.FeedID)
}

func TestPriceEpochFinalizedDecoder_ShortTopicsErrors(t *testing.T) {
	decoder := NewPriceEpochFinalizedDecoder()
	_, err := decoder.Decode(RawLog{Topics: []common.Hash{TopicPriceEpochFinalized}})
	require.Error(t, err)
}

func TestVotePowerChangedDecoder(t *testing.T) {
	args := abi.Arguments{{Type: uint256Ty}, {Type: uint256Ty}}
	data, err := args.Pack(big.NewInt(100), big.NewInt(150))
	require.NoError(t, err)

	provider := common.HexToAddress("0x0000000000000000000000000000000000000042")
	log := RawLog{
		Address: common.HexToAddress("0x0000000000000000000000000000000000000002"),
		Topics:  []common.Hash{TopicVotePowerChanged, common.BytesToHash(provider.Bytes())},
		Data:    data,
	}

	decoder := NewVotePowerChangedDecoder()
	ev, err := decoder.Decode(log)
	require.NoError(t, err)
	require.Equal(t, storage.EventVotePowerChanged, ev.EventType)

	var payload votePowerChangedPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	require.Equal(t, "100", payload.OldPower)
	require.Equal(t, "150", payload.NewPower)
}

func TestRewardEpochStartedDecoder(t *testing.T) {
	args := abi.Arguments{{Type: uint32Ty}, {Type: uint32Ty}}
	data, err := args.Pack(uint32(42), uint32(1700000000))
	require.NoError(t, err)

	log := RawLog{Data: data}

	decoder := NewRewardEpochStartedDecoder()
	ev, err := decoder.Decode(log)
	require.NoError(t, err)
	require.Equal(t, storage.EventRewardEpochStarted, ev.EventType)

	var payload rewardEpochStartedPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	require.Equal(t, uint32(42), payload.EpochID)
	require.Equal(t, uint32(1700000000), payload.StartTs)
}
