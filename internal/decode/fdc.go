package decode

import (
	"encoding/hex"
	"encoding/json"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"flare-emissary/internal/storage"
)

var (
	TopicAttestationRequested = eventTopic("AttestationRequest(bytes32,uint8,bytes)")
	TopicAttestationProved    = eventTopic("AttestationProved(bytes32,uint32)")
	TopicRoundFinalized       = eventTopic("RoundFinalised(uint32,bytes32)")
)

var (
	bytes32Ty, _ = abi.NewType("bytes32", "", nil)
	uint8Ty, _   = abi.NewType("uint8", "", nil)
	bytesTy, _   = abi.NewType("bytes", "", nil)
)

type attestationRequestedPayload struct {
	RequestID       string `json:"request_id"`
	SourceChain     uint8  `json:"source_chain"`
	AttestationType string `json:"attestation_type"`
	RequestBody     string `json:"request_body"`
}

// NewAttestationRequestedDecoder decodes AttestationRequested: request_id is
// topic1, source_chain/attestation_type/request_body come from data.
// attestation_type is left as the raw hex prefix of request_body since the
// FDC does not expose a separate type tag on-chain.
func NewAttestationRequestedDecoder() EventDecoder {
	args := abi.Arguments{{Type: uint8Ty}, {Type: bytesTy}}
	return DecoderFunc(func(log RawLog) (DecodedEvent, error) {
		if len(log.Topics) < 2 {
			return DecodedEvent{}, errShortTopics("AttestationRequested", 2, len(log.Topics))
		}
		values, err := args.Unpack(log.Data)
		if err != nil {
			return DecodedEvent{}, err
		}
		body := values[1].([]byte)
		attestationType := ""
		if len(body) >= 32 {
			attestationType = hex.EncodeToString(body[:32])
		}
		payload := attestationRequestedPayload{
			RequestID:       log.Topics[1].Hex(),
			SourceChain:     values[0].(uint8),
			AttestationType: attestationType,
			RequestBody:     "0x" + hex.EncodeToString(body),
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return DecodedEvent{}, err
		}
		return DecodedEvent{EventType: storage.EventAttestationRequest, Address: log.Address.Hex(), Payload: raw}, nil
	})
}

type attestationProvedPayload struct {
	RequestID string `json:"request_id"`
	RoundID   uint32 `json:"round_id"`
}

// NewAttestationProvedDecoder decodes AttestationProved: request_id is
// topic1, round_id is a non-indexed data word.
func NewAttestationProvedDecoder() EventDecoder {
	args := abi.Arguments{{Type: uint32Ty}}
	return DecoderFunc(func(log RawLog) (DecodedEvent, error) {
		if len(log.Topics) < 2 {
			return DecodedEvent{}, errShortTopics("AttestationProved", 2, len(log.Topics))
		}
		values, err := args.Unpack(log.Data)
		if err != nil {
			return DecodedEvent{}, err
		}
		payload := attestationProvedPayload{
			RequestID: log.Topics[1].Hex(),
			RoundID:   values[0].(uint32),
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return DecodedEvent{}, err
		}
		return DecodedEvent{EventType: storage.EventAttestationProved, Address: log.Address.Hex(), Payload: raw}, nil
	})
}

type roundFinalizedPayload struct {
	RoundID    uint32 `json:"round_id"`
	MerkleRoot string `json:"merkle_root"`
}

// NewRoundFinalizedDecoder decodes RoundFinalised: round_id is topic1,
// merkle_root is a non-indexed bytes32 data word.
func NewRoundFinalizedDecoder() EventDecoder {
	args := abi.Arguments{{Type: bytes32Ty}}
	return DecoderFunc(func(log RawLog) (DecodedEvent, error) {
		if len(log.Topics) < 2 {
			return DecodedEvent{}, errShortTopics("RoundFinalized", 2, len(log.Topics))
		}
		values, err := args.Unpack(log.Data)
		if err != nil {
			return DecodedEvent{}, err
		}
		root := values[0].([32]byte)
		payload := roundFinalizedPayload{
			RoundID:    uint32FromTopic(log.Topics[1]),
			MerkleRoot: common.BytesToHash(root[:]).Hex(),
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return DecodedEvent{}, err
		}
		return DecodedEvent{EventType: storage.EventRoundFinalized, Address: log.Address.Hex(), Payload: raw}, nil
	})
}

func uint32FromTopic(topic common.Hash) uint32 {
	b := topic.Bytes()
	return uint32(b[28])<<24 | uint32(b[29])<<16 | uint32(b[30])<<8 | uint32(b[31])
}
