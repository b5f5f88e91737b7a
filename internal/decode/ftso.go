package decode

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"flare-emissary/internal/storage"
)

// FTSO topic0 signatures, computed once at package init.
var (
	TopicPriceEpochFinalized = eventTopic("PriceEpochFinalized(bytes21,int32,uint32)")
	TopicVotePowerChanged    = eventTopic("VotePowerChanged(address,uint256,uint256)")
	TopicRewardEpochStarted  = eventTopic("RewardEpochStarted(uint24,uint32)")
)

func eventTopic(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(signature))
}

var (
	uint256Ty, _ = abi.NewType("uint256", "", nil)
	int32Ty, _   = abi.NewType("int32", "", nil)
	uint32Ty, _  = abi.NewType("uint32", "", nil)
)

// ftsoPriceEpochFinalizedPayload is the §4.2 canonical shape for
// PriceEpochFinalized.
type ftsoPriceEpochFinalizedPayload struct {
	FeedID   string `json:"feed_id"`
	Price    string `json:"price"`
	Decimals int32  `json:"decimals"`
	EpochID  uint32 `json:"epoch_id"`
}

// NewPriceEpochFinalizedDecoder decodes the FTSOv2 PriceEpochFinalized
// event. feed_id is topic1 (bytes21, left-aligned in the 32-byte topic with
// zero padding on the right); price and epoch_id are non-indexed data words.
// price is emitted as a decimal string scaled by the fixed 5 decimals.
func NewPriceEpochFinalizedDecoder() EventDecoder {
	args := abi.Arguments{{Type: int32Ty}, {Type: uint32Ty}}
	return DecoderFunc(func(log RawLog) (DecodedEvent, error) {
		if len(log.Topics) < 2 {
			return DecodedEvent{}, errShortTopics("PriceEpochFinalized", 2, len(log.Topics))
		}
		values, err := args.Unpack(log.Data)
		if err != nil {
			return DecodedEvent{}, err
		}
		price := values[0].(int32)
		epochID := values[1].(uint32)

		feedID := common.Bytes2Hex(log.Topics[1].Bytes()[:21])
		payload := ftsoPriceEpochFinalizedPayload{
			FeedID:   "0x" + feedID,
			Price:    decimal.NewFromBigInt(big.NewInt(int64(price)), -5).String(),
			Decimals: 5, // FTSOv2 fixed-point exponent per Flare's feed convention
			EpochID:  epochID,
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return DecodedEvent{}, err
		}

		epoch64 := uint64(epochID)
		return DecodedEvent{
			EventType: storage.EventPriceEpochFinalized,
			Address:   log.Address.Hex(),
			Payload:   raw,
			FtsoTick: &storage.FtsoPriceTick{
				FeedID:      payload.FeedID,
				Price:       decimal.NewFromBigInt(big.NewInt(int64(price)), -5),
				Decimals:    5,
				BlockNumber: log.BlockNumber,
				EpochID:     &epoch64,
				TxHash:      log.TxHash.Hex(),
			},
		}, nil
	})
}

type votePowerChangedPayload struct {
	Provider string `json:"provider"`
	OldPower string `json:"old_power"`
	NewPower string `json:"new_power"`
}

// NewVotePowerChangedDecoder decodes VotePowerChanged: provider is topic1,
// old_power/new_power are non-indexed uint256 data words.
func NewVotePowerChangedDecoder() EventDecoder {
	args := abi.Arguments{{Type: uint256Ty}, {Type: uint256Ty}}
	return DecoderFunc(func(log RawLog) (DecodedEvent, error) {
		if len(log.Topics) < 2 {
			return DecodedEvent{}, errShortTopics("VotePowerChanged", 2, len(log.Topics))
		}
		values, err := args.Unpack(log.Data)
		if err != nil {
			return DecodedEvent{}, err
		}
		payload := votePowerChangedPayload{
			Provider: common.HexToAddress(log.Topics[1].Hex()).Hex(),
			OldPower: values[0].(*big.Int).String(),
			NewPower: values[1].(*big.Int).String(),
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return DecodedEvent{}, err
		}
		return DecodedEvent{EventType: storage.EventVotePowerChanged, Address: log.Address.Hex(), Payload: raw}, nil
	})
}

type rewardEpochStartedPayload struct {
	EpochID uint32 `json:"epoch_id"`
	StartTs uint32 `json:"start_ts"`
}

// NewRewardEpochStartedDecoder decodes RewardEpochStarted: both fields are
// non-indexed data words (uint24 widened to uint32 for the ABI decode).
func NewRewardEpochStartedDecoder() EventDecoder {
	args := abi.Arguments{{Type: uint32Ty}, {Type: uint32Ty}}
	return DecoderFunc(func(log RawLog) (DecodedEvent, error) {
		values, err := args.Unpack(log.Data)
		if err != nil {
			return DecodedEvent{}, err
		}
		payload := rewardEpochStartedPayload{
			EpochID: values[0].(uint32),
			StartTs: values[1].(uint32),
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return DecodedEvent{}, err
		}
		return DecodedEvent{EventType: storage.EventRewardEpochStarted, Address: log.Address.Hex(), Payload: raw}, nil
	})
}
