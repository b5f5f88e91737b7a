package decode

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"flare-emissary/internal/storage"
)

func TestGenericDecoder_EmitsTopicsAndHexData(t *testing.T) {
	log := RawLog{
		Address: common.HexToAddress("0x0000000000000000000000000000000000dEaD"),
		Topics:  []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")},
		Data:    []byte{0xde, 0xad, 0xbe, 0xef},
	}

	ev, err := NewGenericDecoder().Decode(log)
	require.NoError(t, err)
	require.Equal(t, storage.EventGeneric, ev.EventType)
	require.Equal(t, log.Address.Hex(), ev.Address)

	var payload genericPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	require.Equal(t, []string{log.Topics[0].Hex(), log.Topics[1].Hex()}, payload.Topics)
	require.Equal(t, "0xdeadbeef", payload.Data)
}

func TestGenericDecoder_NoTopicsStillDecodes(t *testing.T) {
	ev, err := NewGenericDecoder().Decode(RawLog{})
	require.NoError(t, err)

	var payload genericPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	require.Empty(t, payload.Topics)
	require.Equal(t, "0x", payload.Data)
}

func TestRegisterFlareProtocols_RegistersEveryTopic(t *testing.T) {
	r := NewRegistry()
	RegisterFlareProtocols(r)

	for _, topic := range []common.Hash{
		TopicPriceEpochFinalized,
		TopicVotePowerChanged,
		TopicRewardEpochStarted,
		TopicAttestationRequested,
		TopicAttestationProved,
		TopicRoundFinalized,
		TopicCollateralDeposited,
		TopicCollateralWithdrawn,
		TopicMintingExecuted,
		TopicRedemptionRequested,
		TopicLiquidationStarted,
	} {
		_, ok := r.byTopic[topic]
		require.True(t, ok, "expected %s to be registered as a protocol-wide fallback", topic.Hex())
	}
}
