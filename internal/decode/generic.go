package decode

import (
	"encoding/hex"
	"encoding/json"

	"flare-emissary/internal/storage"
)

type genericPayload struct {
	Topics []string `json:"topics"`
	Data   string   `json:"data"`
}

// NewGenericDecoder builds the opt-in fallback decoder described in §4.2:
// topics and hex data only, no schema knowledge. Used when EnableGeneric is
// called on the registry.
func NewGenericDecoder() EventDecoder {
	return DecoderFunc(func(log RawLog) (DecodedEvent, error) {
		topics := make([]string, len(log.Topics))
		for i, t := range log.Topics {
			topics[i] = t.Hex()
		}
		payload := genericPayload{
			Topics: topics,
			Data:   "0x" + hex.EncodeToString(log.Data),
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return DecodedEvent{}, err
		}
		return DecodedEvent{EventType: storage.EventGeneric, Address: log.Address.Hex(), Payload: raw}, nil
	})
}

// RegisterFlareProtocols wires every built-in FTSO/FDC/FAsset decoder as a
// protocol-wide topic0 fallback. Callers that know specific contract
// addresses ahead of time (e.g. from monitored_addresses) can additionally
// call RegisterForAddress for tighter matching; the topic0 fallback keeps
// decoding events from addresses not yet in that table.
func RegisterFlareProtocols(r *Registry) {
	r.RegisterForTopic(TopicPriceEpochFinalized, NewPriceEpochFinalizedDecoder())
	r.RegisterForTopic(TopicVotePowerChanged, NewVotePowerChangedDecoder())
	r.RegisterForTopic(TopicRewardEpochStarted, NewRewardEpochStartedDecoder())

	r.RegisterForTopic(TopicAttestationRequested, NewAttestationRequestedDecoder())
	r.RegisterForTopic(TopicAttestationProved, NewAttestationProvedDecoder())
	r.RegisterForTopic(TopicRoundFinalized, NewRoundFinalizedDecoder())

	r.RegisterForTopic(TopicCollateralDeposited, NewCollateralDepositedDecoder())
	r.RegisterForTopic(TopicCollateralWithdrawn, NewCollateralWithdrawnDecoder())
	r.RegisterForTopic(TopicMintingExecuted, NewMintingExecutedDecoder())
	r.RegisterForTopic(TopicRedemptionRequested, NewRedemptionRequestedDecoder())
	r.RegisterForTopic(TopicLiquidationStarted, NewLiquidationStartedDecoder())
}
