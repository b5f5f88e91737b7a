package decode

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"flare-emissary/internal/apperrors"
	"flare-emissary/internal/storage"
)

func stubDecoder(eventType storage.EventType) EventDecoder {
	return DecoderFunc(func(log RawLog) (DecodedEvent, error) {
		return DecodedEvent{EventType: eventType, Address: log.Address.Hex(), Payload: json.RawMessage("{}")}, nil
	})
}

func TestRegistry_NoTopicsNoMatch(t *testing.T) {
	r := NewRegistry()
	_, matched, err := r.Decode(RawLog{})
	require.NoError(t, err)
	require.False(t, matched)
}

func TestRegistry_UnregisteredTopicNoMatchWhenGenericDisabled(t *testing.T) {
	r := NewRegistry()
	_, matched, err := r.Decode(RawLog{Topics: []common.Hash{common.HexToHash("0x99")}})
	require.NoError(t, err)
	require.False(t, matched)
}

func TestRegistry_TopicFallbackMatches(t *testing.T) {
	r := NewRegistry()
	topic := common.HexToHash("0x01")
	r.RegisterForTopic(topic, stubDecoder(storage.EventGeneric))

	ev, matched, err := r.Decode(RawLog{Topics: []common.Hash{topic}})
	require.NoError(t, err)
	require.True(t, matched)
	require.Equal(t, storage.EventGeneric, ev.EventType)
}

func TestRegistry_AddressSpecificDecoderTakesPriorityOverTopicFallback(t *testing.T) {
	r := NewRegistry()
	topic := common.HexToHash("0x01")
	addr := common.HexToAddress("0x0000000000000000000000000000000000dEaD")

	r.RegisterForTopic(topic, stubDecoder(storage.EventGeneric))
	r.RegisterForAddress(addr.Hex(), topic, stubDecoder(storage.EventPriceEpochFinalized))

	ev, matched, err := r.Decode(RawLog{Address: addr, Topics: []common.Hash{topic}})
	require.NoError(t, err)
	require.True(t, matched)
	require.Equal(t, storage.EventPriceEpochFinalized, ev.EventType)
}

func TestRegistry_AddressMatchIsCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	topic := common.HexToHash("0x01")
	addr := common.HexToAddress("0x0000000000000000000000000000000000dEaD")

	r.RegisterForAddress(addr.Hex(), topic, stubDecoder(storage.EventPriceEpochFinalized))

	upper := common.HexToAddress("0x0000000000000000000000000000000000DEAD")
	ev, matched, err := r.Decode(RawLog{Address: upper, Topics: []common.Hash{topic}})
	require.NoError(t, err)
	require.True(t, matched)
	require.Equal(t, storage.EventPriceEpochFinalized, ev.EventType)
}

func TestRegistry_GenericFallbackUsedWhenEnabledAndNothingElseMatches(t *testing.T) {
	r := NewRegistry()
	r.EnableGeneric(NewGenericDecoder())

	ev, matched, err := r.Decode(RawLog{Topics: []common.Hash{common.HexToHash("0x99")}})
	require.NoError(t, err)
	require.True(t, matched)
	require.Equal(t, storage.EventGeneric, ev.EventType)
}

func TestRegistry_DecodeErrorIsWrappedAsCategorizedDecodeError(t *testing.T) {
	r := NewRegistry()
	topic := common.HexToHash("0x01")
	boom := errors.New("boom")
	r.RegisterForTopic(topic, DecoderFunc(func(log RawLog) (DecodedEvent, error) {
		return DecodedEvent{}, boom
	}))

	_, matched, err := r.Decode(RawLog{Topics: []common.Hash{topic}})
	require.True(t, matched, "a decoder claimed the log even though it failed to decode it")
	require.Error(t, err)

	var catErr *apperrors.CategorizedError
	require.ErrorAs(t, err, &catErr)
	require.Equal(t, apperrors.CategoryDecode, catErr.Category)
	require.ErrorIs(t, err, boom)
}

func TestKey_LowercasesAddress(t *testing.T) {
	topic := common.HexToHash("0x01")
	require.Equal(t, key("0xABC", topic), key("0xabc", topic))
}
