// Package decode implements the Decoder Registry described in §4.2: a pure
// function from a raw chain log to a canonical DecodedEvent, keyed by
// (contract_address_lowercased, topic0) with a per-protocol fallback keyed
// by topic0 alone.
package decode

import (
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"flare-emissary/internal/apperrors"
	"flare-emissary/internal/storage"
)

// RawLog is the subset of an eth_getLogs entry the registry needs. It is
// intentionally narrower than go-ethereum's types.Log so the chain package
// stays the only place that talks to ethclient directly.
type RawLog struct {
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	BlockHash   common.Hash
	BlockTime   uint64
	TxHash      common.Hash
	LogIndex    uint
	Removed     bool
}

// DecodedEvent is a canonically shaped, JSON-serializable event ready for
// persistence, per §4.2's payload table.
type DecodedEvent struct {
	EventType   storage.EventType
	Address     string
	Payload     json.RawMessage
	FtsoTick    *storage.FtsoPriceTick // set only for PriceEpochFinalized
}

// EventDecoder decodes one already-topic0-matched log.
type EventDecoder interface {
	Decode(log RawLog) (DecodedEvent, error)
}

// DecoderFunc adapts a function to EventDecoder.
type DecoderFunc func(log RawLog) (DecodedEvent, error)

func (f DecoderFunc) Decode(log RawLog) (DecodedEvent, error) { return f(log) }

// Registry dispatches raw logs to the decoder registered for
// (address, topic0), falling back to a protocol-wide decoder registered for
// topic0 alone, and finally to the opt-in generic decoder.
type Registry struct {
	byAddressAndTopic map[string]EventDecoder
	byTopic           map[common.Hash]EventDecoder
	generic           EventDecoder
	genericEnabled    bool
}

// NewRegistry builds an empty registry. Use RegisterFlareProtocols to
// populate it with the built-in FTSO/FDC/FAsset decoders.
func NewRegistry() *Registry {
	return &Registry{
		byAddressAndTopic: make(map[string]EventDecoder),
		byTopic:           make(map[common.Hash]EventDecoder),
	}
}

// RegisterForAddress binds decoder to a specific (address, topic0) pair.
// Takes priority over any protocol-wide fallback for the same topic0.
func (r *Registry) RegisterForAddress(address string, topic common.Hash, decoder EventDecoder) {
	r.byAddressAndTopic[key(address, topic)] = decoder
}

// RegisterForTopic binds decoder as the protocol-wide fallback for topic0,
// used when no address-specific decoder is registered.
func (r *Registry) RegisterForTopic(topic common.Hash, decoder EventDecoder) {
	r.byTopic[topic] = decoder
}

// EnableGeneric turns on the opt-in fallback decoder for otherwise-unmatched
// logs, which emits only topics and hex data per §4.2.
func (r *Registry) EnableGeneric(decoder EventDecoder) {
	r.generic = decoder
	r.genericEnabled = true
}

// Decode looks up a decoder for log and runs it. matched=false with a nil
// error means no decoder claimed the log and the generic fallback is
// disabled — the "drop unknown logs" path in §4.2, not an error. A non-nil
// error is always a *apperrors.CategorizedError with CategoryDecode.
func (r *Registry) Decode(log RawLog) (event DecodedEvent, matched bool, err error) {
	if len(log.Topics) == 0 {
		return DecodedEvent{}, false, nil
	}
	topic0 := log.Topics[0]

	d, ok := r.byAddressAndTopic[key(log.Address.Hex(), topic0)]
	if !ok {
		d, ok = r.byTopic[topic0]
	}
	if !ok && r.genericEnabled {
		d, ok = r.generic, true
	}
	if !ok {
		return DecodedEvent{}, false, nil
	}

	ev, decodeErr := d.Decode(log)
	if decodeErr != nil {
		return DecodedEvent{}, true, wrapDecodeErr(decodeErr, log)
	}
	return ev, true, nil
}

func wrapDecodeErr(err error, log RawLog) error {
	if err == nil {
		return nil
	}
	return apperrors.NewDecodeError("registry", log.TxHash.Hex(), log.LogIndex, err)
}

func key(address string, topic common.Hash) string {
	return strings.ToLower(address) + "|" + topic.Hex()
}
