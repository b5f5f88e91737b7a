package decode

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"flare-emissary/internal/storage"
)

var (
	TopicCollateralDeposited = eventTopic("CollateralDeposited(address,uint256,uint256)")
	TopicCollateralWithdrawn = eventTopic("CollateralWithdrawn(address,uint256,uint256)")
	TopicMintingExecuted     = eventTopic("MintingExecuted(address,address,uint256,address)")
	TopicRedemptionRequested = eventTopic("RedemptionRequested(address,address,uint256)")
	TopicLiquidationStarted  = eventTopic("LiquidationStarted(address,uint256)")
)

type collateralMovedPayload struct {
	Agent      string `json:"agent"`
	Amount     string `json:"amount"`
	NewBalance string `json:"new_balance"`
}

// newCollateralMovedDecoder is shared by CollateralDeposited/Withdrawn: both
// carry agent as topic1 and (amount, new_balance) as non-indexed data words.
func newCollateralMovedDecoder(eventType storage.EventType, name string) EventDecoder {
	args := abi.Arguments{{Type: uint256Ty}, {Type: uint256Ty}}
	return DecoderFunc(func(log RawLog) (DecodedEvent, error) {
		if len(log.Topics) < 2 {
			return DecodedEvent{}, errShortTopics(name, 2, len(log.Topics))
		}
		values, err := args.Unpack(log.Data)
		if err != nil {
			return DecodedEvent{}, err
		}
		payload := collateralMovedPayload{
			Agent:      common.HexToAddress(log.Topics[1].Hex()).Hex(),
			Amount:     values[0].(*big.Int).String(),
			NewBalance: values[1].(*big.Int).String(),
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return DecodedEvent{}, err
		}
		return DecodedEvent{EventType: eventType, Address: log.Address.Hex(), Payload: raw}, nil
	})
}

// NewCollateralDepositedDecoder decodes CollateralDeposited per §4.2.
func NewCollateralDepositedDecoder() EventDecoder {
	return newCollateralMovedDecoder(storage.EventCollateralDeposited, "CollateralDeposited")
}

// NewCollateralWithdrawnDecoder decodes CollateralWithdrawn per §4.2.
func NewCollateralWithdrawnDecoder() EventDecoder {
	return newCollateralMovedDecoder(storage.EventCollateralWithdrawn, "CollateralWithdrawn")
}

type mintingExecutedPayload struct {
	Agent  string `json:"agent"`
	Minter string `json:"minter"`
	Amount string `json:"amount"`
	Asset  string `json:"asset"`
}

var addressTy, _ = abi.NewType("address", "", nil)

// NewMintingExecutedDecoder decodes MintingExecuted: agent/minter are
// topics 1 and 2, amount/asset are non-indexed data words.
func NewMintingExecutedDecoder() EventDecoder {
	args := abi.Arguments{{Type: uint256Ty}, {Type: addressTy}}
	return DecoderFunc(func(log RawLog) (DecodedEvent, error) {
		if len(log.Topics) < 3 {
			return DecodedEvent{}, errShortTopics("MintingExecuted", 3, len(log.Topics))
		}
		values, err := args.Unpack(log.Data)
		if err != nil {
			return DecodedEvent{}, err
		}
		payload := mintingExecutedPayload{
			Agent:  common.HexToAddress(log.Topics[1].Hex()).Hex(),
			Minter: common.HexToAddress(log.Topics[2].Hex()).Hex(),
			Amount: values[0].(*big.Int).String(),
			Asset:  values[1].(common.Address).Hex(),
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return DecodedEvent{}, err
		}
		return DecodedEvent{EventType: storage.EventMintingExecuted, Address: log.Address.Hex(), Payload: raw}, nil
	})
}

type redemptionRequestedPayload struct {
	Agent    string `json:"agent"`
	Redeemer string `json:"redeemer"`
	Amount   string `json:"amount"`
}

// NewRedemptionRequestedDecoder decodes RedemptionRequested: agent/redeemer
// are topics 1 and 2, amount is the sole non-indexed data word.
func NewRedemptionRequestedDecoder() EventDecoder {
	args := abi.Arguments{{Type: uint256Ty}}
	return DecoderFunc(func(log RawLog) (DecodedEvent, error) {
		if len(log.Topics) < 3 {
			return DecodedEvent{}, errShortTopics("RedemptionRequested", 3, len(log.Topics))
		}
		values, err := args.Unpack(log.Data)
		if err != nil {
			return DecodedEvent{}, err
		}
		payload := redemptionRequestedPayload{
			Agent:    common.HexToAddress(log.Topics[1].Hex()).Hex(),
			Redeemer: common.HexToAddress(log.Topics[2].Hex()).Hex(),
			Amount:   values[0].(*big.Int).String(),
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return DecodedEvent{}, err
		}
		return DecodedEvent{EventType: storage.EventRedemptionRequested, Address: log.Address.Hex(), Payload: raw}, nil
	})
}

// liquidationStartedPayload matches §4.2's {agent, collateral_ratio} shape.
// collateral_ratio is a pointer: per DESIGN.md's Open Question decision,
// the upstream event (grounded in original_source's fasset.rs) carries only
// {agent} on-chain, so collateral_ratio is always omitted here. A live CR
// calculator (§9, out of scope) would be the only source able to populate
// it.
type liquidationStartedPayload struct {
	Agent            string  `json:"agent"`
	CollateralRatio  *string `json:"collateral_ratio,omitempty"`
}

// NewLiquidationStartedDecoder decodes LiquidationStarted: agent is topic1.
func NewLiquidationStartedDecoder() EventDecoder {
	return DecoderFunc(func(log RawLog) (DecodedEvent, error) {
		if len(log.Topics) < 2 {
			return DecodedEvent{}, errShortTopics("LiquidationStarted", 2, len(log.Topics))
		}
		payload := liquidationStartedPayload{
			Agent: common.HexToAddress(log.Topics[1].Hex()).Hex(),
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return DecodedEvent{}, err
		}
		return DecodedEvent{EventType: storage.EventLiquidationStarted, Address: log.Address.Hex(), Payload: raw}, nil
	})
}
