package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"flare-emissary/internal/storage"
)

func noHistory(string, int) ([]decimal.Decimal, error) { return nil, nil }

func TestEvaluate_OccurrencePredicateAlwaysMatches(t *testing.T) {
	p, err := ParsePredicate(nil)
	require.NoError(t, err)

	matched, _, err := evaluate(p, storage.EventGeneric, map[string]interface{}{}, noHistory)
	require.NoError(t, err)
	require.True(t, matched)
}

func TestEvaluate_PriceThresholdGT(t *testing.T) {
	p, err := ParsePredicate([]byte(`{"feed_id":"FLR/USD","op":">","value":"0.05"}`))
	require.NoError(t, err)

	decoded := map[string]interface{}{"feed_id": "FLR/USD", "price": "0.06"}
	matched, value, err := evaluate(p, storage.EventPriceEpochFinalized, decoded, noHistory)
	require.NoError(t, err)
	require.True(t, matched)
	require.True(t, decimal.RequireFromString("0.06").Equal(value))

	decoded["price"] = "0.04"
	matched, _, err = evaluate(p, storage.EventPriceEpochFinalized, decoded, noHistory)
	require.NoError(t, err)
	require.False(t, matched)
}

func TestEvaluate_PriceWrongFeedNeverMatches(t *testing.T) {
	p, err := ParsePredicate([]byte(`{"feed_id":"FLR/USD","op":">","value":"0.05"}`))
	require.NoError(t, err)

	decoded := map[string]interface{}{"feed_id": "BTC/USD", "price": "999"}
	matched, _, err := evaluate(p, storage.EventPriceEpochFinalized, decoded, noHistory)
	require.NoError(t, err)
	require.False(t, matched)
}

func TestEvaluate_ChangePctAbs_WindowNotFull(t *testing.T) {
	p, err := ParsePredicate([]byte(`{"feed_id":"FLR/USD","op":"change_pct_abs","value":"5","window_ticks":4}`))
	require.NoError(t, err)

	history := func(feedID string, n int) ([]decimal.Decimal, error) {
		return []decimal.Decimal{decimal.NewFromInt(1), decimal.NewFromInt(1)}, nil // shorter than window
	}

	decoded := map[string]interface{}{"feed_id": "FLR/USD", "price": "1.10"}
	matched, _, err := evaluate(p, storage.EventPriceEpochFinalized, decoded, history)
	require.NoError(t, err)
	require.False(t, matched, "an unfilled window must never match")
}

func TestEvaluate_ChangePctAbs_CrossesThreshold(t *testing.T) {
	p, err := ParsePredicate([]byte(`{"feed_id":"FLR/USD","op":"change_pct_abs","value":"5","window_ticks":3}`))
	require.NoError(t, err)

	history := func(feedID string, n int) ([]decimal.Decimal, error) {
		return []decimal.Decimal{decimal.NewFromFloat(1.0), decimal.NewFromFloat(1.02), decimal.NewFromFloat(1.10)}, nil
	}

	decoded := map[string]interface{}{"feed_id": "FLR/USD", "price": "1.10"}
	matched, pct, err := evaluate(p, storage.EventPriceEpochFinalized, decoded, history)
	require.NoError(t, err)
	require.True(t, matched)
	require.True(t, pct.GreaterThanOrEqual(decimal.NewFromInt(5)))
}

func TestEvaluate_LiquidationWithoutRatioMatchesOccurrenceOnly(t *testing.T) {
	occurrence, err := ParsePredicate([]byte(`{}`))
	require.NoError(t, err)
	occurrence.Kind = KindLiquidation // simulate a subscription with no CR bounds configured

	matched, _, err := evaluate(occurrence, storage.EventLiquidationStarted, map[string]interface{}{"agent": "0xabc"}, noHistory)
	require.NoError(t, err)
	require.True(t, matched)

	bounded, err := ParsePredicate([]byte(`{"min_cr":"1.2"}`))
	require.NoError(t, err)
	matched, _, err = evaluate(bounded, storage.EventLiquidationStarted, map[string]interface{}{"agent": "0xabc"}, noHistory)
	require.NoError(t, err)
	require.False(t, matched, "a CR-bounded subscription cannot match an event that carries no ratio")
}

func TestEvaluate_LiquidationWithRatioBounds(t *testing.T) {
	p, err := ParsePredicate([]byte(`{"min_cr":"1.2","max_cr":"1.5"}`))
	require.NoError(t, err)

	decoded := map[string]interface{}{"agent": "0xabc", "collateral_ratio": "1.3"}
	matched, cr, err := evaluate(p, storage.EventLiquidationStarted, decoded, noHistory)
	require.NoError(t, err)
	require.True(t, matched)
	require.True(t, decimal.RequireFromString("1.3").Equal(cr))

	decoded["collateral_ratio"] = "1.9"
	matched, _, err = evaluate(p, storage.EventLiquidationStarted, decoded, noHistory)
	require.NoError(t, err)
	require.False(t, matched)
}

func TestEvaluate_CollateralMinAmount(t *testing.T) {
	p, err := ParsePredicate([]byte(`{"min_amount":"1000"}`))
	require.NoError(t, err)

	decoded := map[string]interface{}{"agent": "0xabc", "amount": "1500"}
	matched, amount, err := evaluate(p, storage.EventCollateralDeposited, decoded, noHistory)
	require.NoError(t, err)
	require.True(t, matched)
	require.True(t, decimal.RequireFromString("1500").Equal(amount))

	decoded["amount"] = "500"
	matched, _, err = evaluate(p, storage.EventCollateralDeposited, decoded, noHistory)
	require.NoError(t, err)
	require.False(t, matched)
}

func TestEvaluate_MismatchedEventTypeNeverMatches(t *testing.T) {
	p, err := ParsePredicate([]byte(`{"feed_id":"FLR/USD","op":">","value":"1"}`))
	require.NoError(t, err)

	matched, _, err := evaluate(p, storage.EventCollateralDeposited, map[string]interface{}{}, noHistory)
	require.NoError(t, err)
	require.False(t, matched)
}
