// Package engine implements the Alert Matcher (§4.6) and Hysteresis Engine
// (§4.7): declarative threshold predicates evaluated against decoded event
// payloads, and a per-(subscription, state_key) enter/exit/cooldown state
// machine deciding whether a match becomes an Alert.
package engine

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"flare-emissary/internal/storage"
)

// Op enumerates the comparison operators supported by the price predicate,
// per §4.6's table.
type Op string

const (
	OpGT             Op = ">"
	OpLT             Op = "<"
	OpGTE            Op = ">="
	OpLTE            Op = "<="
	OpChangePctAbs   Op = "change_pct_abs"
)

// PricePredicate matches §4.6's FTSO PriceEpochFinalized row.
type PricePredicate struct {
	FeedID      string          `json:"feed_id"`
	Op          Op              `json:"op"`
	Value       decimal.Decimal `json:"value"`
	WindowTicks int             `json:"window_ticks,omitempty"`
}

// LiquidationPredicate matches §4.6's FAsset LiquidationStarted row.
type LiquidationPredicate struct {
	MinCR *decimal.Decimal `json:"min_cr,omitempty"`
	MaxCR *decimal.Decimal `json:"max_cr,omitempty"`
}

// CollateralPredicate matches §4.6's FAsset CollateralDeposited/Withdrawn row.
type CollateralPredicate struct {
	MinAmount *decimal.Decimal `json:"min_amount,omitempty"`
}

// Predicate is the parsed form of a subscription's threshold_config,
// resolved once per subscription load per §9's "predicate evaluator as
// data" design note — not re-parsed on every event.
type Predicate struct {
	Kind        Kind
	Price       PricePredicate
	Liquidation LiquidationPredicate
	Collateral  CollateralPredicate

	// Hysteresis parameters. Enter is set for Price (from value) and
	// Collateral (from min_amount) predicates; Exit comes from an optional
	// "exit" key. Liquidation and occurrence-only predicates leave Enter
	// unset and never stay in a hysteresis in_alert state beyond "matched
	// this event".
	Enter    *decimal.Decimal `json:"enter,omitempty"`
	Exit     *decimal.Decimal `json:"exit,omitempty"`
	Cooldown *durationSeconds `json:"cooldown_seconds,omitempty"`
	Edge     Edge             `json:"edge,omitempty"`
}

// Kind classifies which predicate shape was parsed from threshold_config.
type Kind int

const (
	KindOccurrence Kind = iota
	KindPrice
	KindLiquidation
	KindCollateral
)

// Edge controls whether a recovery (exit) transition also fires an alert,
// per §4.7.
type Edge string

const (
	EdgeEnterOnly Edge = "enter_only"
	EdgeBoth      Edge = "both"
)

type durationSeconds int64

// rawThresholdConfig mirrors the JSON shapes in §4.6's table, used only to
// sniff which predicate kind a subscription's threshold_config encodes.
type rawThresholdConfig struct {
	FeedID         string           `json:"feed_id"`
	Op             Op               `json:"op"`
	Value          *decimal.Decimal `json:"value"`
	WindowTicks    int              `json:"window_ticks"`
	MinCR          *decimal.Decimal `json:"min_cr"`
	MaxCR          *decimal.Decimal `json:"max_cr"`
	MinAmount      *decimal.Decimal `json:"min_amount"`
	Exit           *decimal.Decimal `json:"exit"`
	CooldownSecs   *int64           `json:"cooldown_seconds"`
	Edge           Edge             `json:"edge"`
}

// ParsePredicate parses a subscription's threshold_config JSON once, per
// §9. An empty object ({}) yields an occurrence-only predicate matching
// every event of the subscription's event_type.
func ParsePredicate(raw json.RawMessage) (Predicate, error) {
	if len(raw) == 0 || string(raw) == "{}" || string(raw) == "null" {
		return Predicate{Kind: KindOccurrence, Edge: EdgeEnterOnly}, nil
	}

	var rc rawThresholdConfig
	if err := json.Unmarshal(raw, &rc); err != nil {
		return Predicate{}, fmt.Errorf("parse threshold_config: %w", err)
	}

	p := Predicate{Edge: EdgeEnterOnly}
	if rc.Edge != "" {
		p.Edge = rc.Edge
	}
	if rc.CooldownSecs != nil {
		d := durationSeconds(*rc.CooldownSecs)
		p.Cooldown = &d
	}
	p.Exit = rc.Exit

	switch {
	case rc.FeedID != "" && rc.Value != nil:
		p.Kind = KindPrice
		p.Price = PricePredicate{FeedID: rc.FeedID, Op: rc.Op, Value: *rc.Value, WindowTicks: rc.WindowTicks}
		p.Enter = rc.Value
	case rc.MinCR != nil || rc.MaxCR != nil:
		p.Kind = KindLiquidation
		p.Liquidation = LiquidationPredicate{MinCR: rc.MinCR, MaxCR: rc.MaxCR}
	case rc.MinAmount != nil:
		p.Kind = KindCollateral
		p.Collateral = CollateralPredicate{MinAmount: rc.MinAmount}
		p.Enter = rc.MinAmount
	default:
		p.Kind = KindOccurrence
	}

	return p, nil
}

// CooldownDuration returns the configured cooldown, defaulting to 5 minutes
// per §4.7.
func (p Predicate) CooldownDuration() int64 {
	if p.Cooldown != nil {
		return int64(*p.Cooldown)
	}
	return 300
}

// StateKey derives the hysteresis state key for decoded, per §4.6's
// "predicate-specific: feed_id for price, agent for FAsset" note.
func StateKey(eventType storage.EventType, decoded map[string]interface{}) string {
	switch eventType {
	case storage.EventPriceEpochFinalized:
		if v, ok := decoded["feed_id"].(string); ok {
			return v
		}
	case storage.EventLiquidationStarted, storage.EventCollateralDeposited, storage.EventCollateralWithdrawn,
		storage.EventMintingExecuted, storage.EventRedemptionRequested:
		if v, ok := decoded["agent"].(string); ok {
			return v
		}
	}
	return "default"
}
