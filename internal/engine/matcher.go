package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"flare-emissary/internal/apperrors"
	"flare-emissary/internal/ingest"
	"flare-emissary/internal/storage"
)

// Candidate is a subscription whose predicate passed for one event, ready
// to be handed to the Hysteresis Engine, per §4.6's final step.
type Candidate struct {
	Subscription storage.Subscription
	Predicate    Predicate
	StateKey     string
	Value        decimal.Decimal // the observed value the hysteresis engine compares against enter/exit
	Event        storage.IndexedEvent
}

// Matcher implements §4.6: subscription lookup by (address, event_type),
// then declarative predicate evaluation against decoded_data.
type Matcher struct {
	store  *storage.Store
	hyst   *Hysteresis
	logger zerolog.Logger
}

// NewMatcher wires the Alert Matcher to its storage lookups and the
// Hysteresis Engine it forwards passing candidates to.
func NewMatcher(store *storage.Store, hyst *Hysteresis, logger zerolog.Logger) *Matcher {
	return &Matcher{store: store, hyst: hyst, logger: logger.With().Str("component", "alert_matcher").Logger()}
}

// Run consumes persisted event ids from in and drives them through
// matching and hysteresis until in is closed or ctx is cancelled — the
// "matcher dispatcher" task of §5.
func (m *Matcher) Run(ctx context.Context, in <-chan ingest.PersistedEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pe, ok := <-in:
			if !ok {
				return nil
			}
			if err := m.handle(ctx, pe); err != nil {
				m.logger.Warn().Err(err).Int64("event_id", pe.ID).Msg("failed to process matched event")
			}
		}
	}
}

func (m *Matcher) handle(ctx context.Context, pe ingest.PersistedEvent) error {
	event, err := m.store.GetEvent(ctx, pe.ID)
	if err != nil {
		return apperrors.NewPersistenceError(true, "get_event", err)
	}

	if err := m.store.TouchMonitoredAddress(ctx, pe.Chain, pe.Address, event.BlockTimestamp); err != nil {
		m.logger.Warn().Err(err).Str("address", pe.Address).Msg("failed to touch monitored address")
	}

	subs, err := m.store.FindActiveSubscriptions(ctx, pe.Chain, pe.Address, pe.Type)
	if err != nil {
		return apperrors.NewPersistenceError(true, "find_active_subscriptions", err)
	}
	if len(subs) == 0 {
		return nil
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(event.DecodedData, &decoded); err != nil {
		return apperrors.NewDecodeError("matcher", event.TxHash, 0, err)
	}

	for _, sub := range subs {
		pred, err := ParsePredicate(sub.ThresholdConfig)
		if err != nil {
			m.logger.Warn().Err(err).Str("subscription_id", sub.ID.String()).Msg("skipping subscription with invalid threshold_config")
			continue
		}

		matched, value, err := evaluate(pred, event.EventType, decoded, func(feedID string, n int) ([]decimal.Decimal, error) {
			return m.store.RecentFeedPrices(ctx, feedID, n)
		})
		if err != nil {
			m.logger.Warn().Err(err).Str("subscription_id", sub.ID.String()).Msg("predicate evaluation failed")
			continue
		}
		if !matched {
			continue
		}

		stateKey := StateKey(event.EventType, decoded)
		if err := m.hyst.Evaluate(ctx, Candidate{
			Subscription: sub,
			Predicate:    pred,
			StateKey:     stateKey,
			Value:        value,
			Event:        event,
		}); err != nil {
			m.logger.Warn().Err(err).Str("subscription_id", sub.ID.String()).Msg("hysteresis evaluation failed")
		}
	}

	return nil
}

// feedHistoryFn fetches the last n prices for feedID, oldest first, used by
// the change_pct_abs operator's window comparison.
type feedHistoryFn func(feedID string, n int) ([]decimal.Decimal, error)

// evaluate implements the predicate table of §4.6 against decoded, and
// returns the "observed value" the hysteresis engine will compare to enter/
// exit thresholds.
func evaluate(p Predicate, eventType storage.EventType, decoded map[string]interface{}, history feedHistoryFn) (bool, decimal.Decimal, error) {
	switch p.Kind {
	case KindOccurrence:
		return true, decimal.Zero, nil

	case KindPrice:
		if eventType != storage.EventPriceEpochFinalized {
			return false, decimal.Zero, nil
		}
		feedID, _ := decoded["feed_id"].(string)
		if feedID != p.Price.FeedID {
			return false, decimal.Zero, nil
		}
		priceStr, _ := decoded["price"].(string)
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return false, decimal.Zero, fmt.Errorf("price predicate: %w", err)
		}

		if p.Price.Op == OpChangePctAbs {
			window := p.Price.WindowTicks
			if window < 2 {
				window = 2
			}
			ticks, err := history(feedID, window)
			if err != nil {
				return false, decimal.Zero, err
			}
			if len(ticks) < window {
				return false, decimal.Zero, nil // window not yet full
			}
			oldest, current := ticks[0], ticks[len(ticks)-1]
			if oldest.IsZero() {
				return false, decimal.Zero, nil
			}
			pct := current.Sub(oldest).Div(oldest).Mul(decimal.NewFromInt(100)).Abs()
			return pct.GreaterThanOrEqual(p.Price.Value), pct, nil
		}

		return compareOp(p.Price.Op, price, p.Price.Value), price, nil

	case KindLiquidation:
		if eventType != storage.EventLiquidationStarted {
			return false, decimal.Zero, nil
		}
		crStr, _ := decoded["collateral_ratio"].(string)
		if crStr == "" {
			// The upstream event does not always carry collateral_ratio
			// (per DESIGN.md's Open Question decision). Without a ratio we
			// can only match occurrence-style subscriptions.
			if p.Liquidation.MinCR == nil && p.Liquidation.MaxCR == nil {
				return true, decimal.Zero, nil
			}
			return false, decimal.Zero, nil
		}
		cr, err := decimal.NewFromString(crStr)
		if err != nil {
			return false, decimal.Zero, fmt.Errorf("liquidation predicate: %w", err)
		}
		if p.Liquidation.MinCR != nil && cr.LessThan(*p.Liquidation.MinCR) {
			return false, decimal.Zero, nil
		}
		if p.Liquidation.MaxCR != nil && cr.GreaterThan(*p.Liquidation.MaxCR) {
			return false, decimal.Zero, nil
		}
		return true, cr, nil

	case KindCollateral:
		if eventType != storage.EventCollateralDeposited && eventType != storage.EventCollateralWithdrawn {
			return false, decimal.Zero, nil
		}
		amountStr, _ := decoded["amount"].(string)
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return false, decimal.Zero, fmt.Errorf("collateral predicate: %w", err)
		}
		if p.Collateral.MinAmount != nil && amount.LessThan(*p.Collateral.MinAmount) {
			return false, decimal.Zero, nil
		}
		return true, amount, nil
	}

	return false, decimal.Zero, nil
}

func compareOp(op Op, observed, threshold decimal.Decimal) bool {
	switch op {
	case OpGT:
		return observed.GreaterThan(threshold)
	case OpLT:
		return observed.LessThan(threshold)
	case OpGTE:
		return observed.GreaterThanOrEqual(threshold)
	case OpLTE:
		return observed.LessThanOrEqual(threshold)
	default:
		return false
	}
}
