package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"flare-emissary/internal/apperrors"
	"flare-emissary/internal/storage"
)

// AlertPublisher receives every Alert the Hysteresis Engine fires, so the
// Delivery Queue Producer can enqueue notifications for it. Kept as an
// interface so the engine package never imports the queue package
// directly.
type AlertPublisher interface {
	Publish(ctx context.Context, alert storage.Alert, sub storage.Subscription) error
}

// Hysteresis implements §4.7: per (subscription_id, state_key), tracks
// in_alert/last_fire_at/last_value in the database (the durable source of
// truth per §9) and decides whether an incoming candidate fires an Alert.
type Hysteresis struct {
	store     *storage.Store
	publisher AlertPublisher
	cooldown  *CooldownGuard
	now       func() time.Time
	logger    zerolog.Logger
}

// NewHysteresis wires the engine to its storage, downstream publisher, and
// Redis-backed cooldown guard.
func NewHysteresis(store *storage.Store, publisher AlertPublisher, cooldown *CooldownGuard, logger zerolog.Logger) *Hysteresis {
	return &Hysteresis{
		store:     store,
		publisher: publisher,
		cooldown:  cooldown,
		now:       time.Now,
		logger:    logger.With().Str("component", "hysteresis_engine").Logger(),
	}
}

// Evaluate applies the transition rules of §4.7 to c and fires an Alert
// through the publisher when the rules say to.
func (h *Hysteresis) Evaluate(ctx context.Context, c Candidate) error {
	state, _, err := h.store.GetHysteresisState(ctx, c.Subscription.ID, c.StateKey)
	if err != nil {
		return apperrors.NewPersistenceError(true, "get_hysteresis_state", err)
	}

	now := h.now()
	crossedEnter := crossesEnter(c.Predicate, state.InAlert, c.Value)
	crossedExit := crossesExit(c.Predicate, state.InAlert, c.Value)

	var toFire *fireDecision

	switch {
	case !state.InAlert && crossedEnter:
		cooldown := time.Duration(c.Predicate.CooldownDuration()) * time.Second
		if h.cooldownSatisfied(ctx, c, cooldown, state.LastFireAt, now) {
			state.InAlert = true
			state.LastFireAt = &now
			toFire = &fireDecision{severity: enterSeverity(c), message: enterMessage(c)}
		}
		// else: cooldown not satisfied, update last_value only (below).

	case state.InAlert && crossedExit:
		state.InAlert = false
		if c.Predicate.Edge == EdgeBoth {
			cooldown := time.Duration(c.Predicate.CooldownDuration()) * time.Second
			if h.cooldownSatisfied(ctx, c, cooldown, state.LastFireAt, now) {
				state.LastFireAt = &now
				toFire = &fireDecision{severity: storage.SeverityInfo, message: exitMessage(c)}
			}
		}
	}

	// Occurrence and liquidation predicates have no recovery observation of
	// their own: crossesExit reports them exited the instant they entered,
	// so this is the "each observation is its own enter/exit pair" case —
	// cooldownSatisfied's last_fire_at check is what actually keeps them
	// from re-firing on every matching event.
	if state.InAlert && crossesExit(c.Predicate, true, c.Value) {
		state.InAlert = false
	}

	state.LastValue = &c.Value
	state.UpdatedAt = now

	if err := h.store.UpsertHysteresisState(ctx, state); err != nil {
		return apperrors.NewPersistenceError(true, "upsert_hysteresis_state", err)
	}

	if toFire == nil {
		return nil
	}

	alert := storage.Alert{
		SubscriptionID: c.Subscription.ID,
		EventID:        c.Event.ID,
		Severity:       toFire.severity,
		Message:        toFire.message,
	}
	inserted, isNew, err := h.store.InsertAlert(ctx, alert)
	if err != nil {
		return apperrors.NewPersistenceError(true, "insert_alert", err)
	}
	if !isNew {
		// (subscription_id, event_id) already fired — crash-recovery
		// replay, per §4.7's uniqueness guard. Harmless no-op.
		return nil
	}

	return h.publisher.Publish(ctx, inserted, c.Subscription)
}

// cooldownSatisfied combines the DB-recorded last_fire_at check with the
// Redis SET NX EX guard: both must agree the window has elapsed. The Redis
// check closes the race between two matcher instances reading the same
// stale last_fire_at before either has committed its write.
func (h *Hysteresis) cooldownSatisfied(ctx context.Context, c Candidate, cooldown time.Duration, lastFireAt *time.Time, now time.Time) bool {
	if lastFireAt != nil && now.Sub(*lastFireAt) < cooldown {
		return false
	}
	acquired, err := h.cooldown.Acquire(ctx, c.Subscription.ID.String(), c.StateKey, cooldown)
	if err != nil {
		h.logger.Warn().Err(err).Msg("cooldown guard unavailable, falling back to database-only check")
		return true
	}
	return acquired
}

type fireDecision struct {
	severity storage.Severity
	message  string
}

// enterSeverity assigns the entering alert's severity per §8 scenario S6:
// a liquidation is critical by default, everything else warning. Occurrence
// and price/collateral predicates carry no protocol-implied urgency of
// their own, so they stay at warning.
func enterSeverity(c Candidate) storage.Severity {
	switch c.Predicate.Kind {
	case KindLiquidation:
		return storage.SeverityCritical
	default:
		return storage.SeverityWarning
	}
}

// crossesEnter reports whether value crosses the predicate's enter
// threshold in the alerting direction. Occurrence-only predicates (no
// Enter threshold) always "cross" on any match.
func crossesEnter(p Predicate, inAlert bool, value decimal.Decimal) bool {
	if inAlert {
		return false
	}
	if p.Kind == KindOccurrence {
		return true
	}
	if p.Kind == KindLiquidation {
		return true // any predicate pass on LiquidationStarted is itself the enter condition
	}
	if p.Enter == nil {
		return true
	}
	return alertingDirection(p, value, *p.Enter)
}

// crossesExit reports whether value crosses the predicate's exit threshold
// in the recovering direction. Exit defaults to Enter when absent, per
// §4.7.
func crossesExit(p Predicate, inAlert bool, value decimal.Decimal) bool {
	if !inAlert {
		return false
	}
	if p.Kind == KindOccurrence || p.Kind == KindLiquidation {
		return true // no natural recovery observation: treat the match itself as the exit too
	}
	exit := p.Exit
	if exit == nil {
		exit = p.Enter
	}
	if exit == nil {
		return false
	}
	return !alertingDirection(p, value, *exit)
}

// alertingDirection interprets the predicate's comparison operator to
// decide which side of threshold counts as "in the alerting direction".
func alertingDirection(p Predicate, value, threshold decimal.Decimal) bool {
	switch p.Price.Op {
	case OpLT, OpLTE:
		return value.LessThanOrEqual(threshold)
	default: // >, >=, change_pct_abs all alert on the high side
		return value.GreaterThanOrEqual(threshold)
	}
}

func enterMessage(c Candidate) string {
	return fmt.Sprintf("subscription %s: %s matched on %s (value=%s)", c.Subscription.ID, c.Event.EventType, c.StateKey, c.Value.String())
}

func exitMessage(c Candidate) string {
	return fmt.Sprintf("subscription %s: %s recovered on %s (value=%s)", c.Subscription.ID, c.Event.EventType, c.StateKey, c.Value.String())
}
