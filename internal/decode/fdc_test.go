package decode

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"flare-emissary/internal/storage"
)

func TestAttestationRequestedDecoder(t *testing.T) {
	args := abi.Arguments{{Type: uint8Ty}, {Type: bytesTy}}
	body := make([]byte, 40)
	for i := range body {
		body[i] = byte(i)
	}
	data, err := args.Pack(uint8(2), body)
	require.NoError(t, err)

	log := RawLog{
		Topics: []common.Hash{TopicAttestationRequested, common.HexToHash("0x01")},
		Data:   data,
	}

	ev, err := NewAttestationRequestedDecoder().Decode(log)
	require.NoError(t, err)
	require.Equal(t, storage.EventAttestationRequest, ev.EventType)

	var payload attestationRequestedPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	require.Equal(t, uint8(2), payload.SourceChain)
	require.Equal(t, hex.EncodeToString(body[:32]), payload.AttestationType)
	require.Equal(t, "0x"+hex.EncodeToString(body), payload.RequestBody)
}

func TestAttestationRequestedDecoder_ShortTopicsErrors(t *testing.T) {
	_, err := NewAttestationRequestedDecoder().Decode(RawLog{Topics: []common.Hash{TopicAttestationRequested}})
	require.Error(t, err)
}

func TestAttestationProvedDecoder(t *testing.T) {
	args := abi.Arguments{{Type: uint32Ty}}
	data, err := args.Pack(uint32(99))
	require.NoError(t, err)

	log := RawLog{
		Topics: []common.Hash{TopicAttestationProved, common.HexToHash("0xdead")},
		Data:   data,
	}

	ev, err := NewAttestationProvedDecoder().Decode(log)
	require.NoError(t, err)

	var payload attestationProvedPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	require.Equal(t, uint32(99), payload.RoundID)
}

func TestRoundFinalizedDecoder(t *testing.T) {
	var root [32]byte
	for i := range root {
		root[i] = byte(i + 1)
	}
	args := abi.Arguments{{Type: bytes32Ty}}
	data, err := args.Pack(root)
	require.NoError(t, err)

	log := RawLog{
		Topics: []common.Hash{TopicRoundFinalized, common.BigToHash(big.NewInt(42))},
		Data:   data,
	}

	ev, err := NewRoundFinalizedDecoder().Decode(log)
	require.NoError(t, err)

	var payload roundFinalizedPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	require.Equal(t, uint32(42), payload.RoundID)
	require.Equal(t, common.BytesToHash(root[:]).Hex(), payload.MerkleRoot)
}
