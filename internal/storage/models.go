package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Chain identifies which network a piece of chain-derived state belongs to.
type Chain string

const (
	ChainFlare    Chain = "flare"
	ChainSongbird Chain = "songbird"
)

// AddressType classifies a MonitoredAddress for display and predicate
// defaults.
type AddressType string

const (
	AddressTypeFtsoProvider    AddressType = "ftso_provider"
	AddressTypeFassetAgent     AddressType = "fasset_agent"
	AddressTypeGenericContract AddressType = "generic_contract"
	AddressTypeEOA             AddressType = "eoa"
)

// EventType enumerates every decodable event kind plus the opt-in generic
// fallback. String values match the wire/JSON representation stored in
// indexed_events.event_type and subscriptions.event_type.
type EventType string

const (
	EventPriceEpochFinalized EventType = "price_epoch_finalized"
	EventVotePowerChanged    EventType = "vote_power_changed"
	EventRewardEpochStarted  EventType = "reward_epoch_started"
	EventAttestationRequest  EventType = "attestation_requested"
	EventAttestationProved   EventType = "attestation_proved"
	EventRoundFinalized      EventType = "round_finalized"
	EventCollateralDeposited EventType = "collateral_deposited"
	EventCollateralWithdrawn EventType = "collateral_withdrawn"
	EventMintingExecuted     EventType = "minting_executed"
	EventRedemptionRequested EventType = "redemption_requested"
	EventLiquidationStarted  EventType = "liquidation_started"
	EventGeneric             EventType = "generic_event"

	// EventWildcard matches a subscription against any event_type for its
	// address, per §4.6.
	EventWildcard EventType = "*"
)

// Severity classifies an Alert for display/routing priority.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ChannelType enumerates supported notification transports. The core only
// ever writes these as opaque strings into queue jobs; it never dials any
// of them itself.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
	ChannelEmail    ChannelType = "email"
)

// DeliveryStatus tracks a Notification's lifecycle. The core only ever
// writes "pending"; external workers transition it onward.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// IndexerCursor is the per-chain checkpoint the poller advances.
type IndexerCursor struct {
	Chain     Chain
	LastBlock uint64
	UpdatedAt time.Time
}

// IndexedEvent is a canonically decoded, durably persisted log. Unique by
// (TxHash, LogIndex). Never deleted; IsReorged flips true when its block
// falls off the canonical chain.
type IndexedEvent struct {
	ID              int64
	TxHash          string
	LogIndex        *uint64
	BlockNumber     uint64
	BlockTimestamp  time.Time
	Chain           Chain
	Address         string
	EventType       EventType
	DecodedData     json.RawMessage
	IsReorged       bool
	CreatedAt       time.Time
}

// FtsoPriceTick is one recorded (feed, price, timestamp) triple, derived
// from FTSO PriceEpochFinalized decoding.
type FtsoPriceTick struct {
	ID             int64
	FeedID         string
	Price          decimal.Decimal
	Decimals       int32
	BlockNumber    uint64
	BlockTimestamp time.Time
	EpochID        *uint64
	TxHash         string
}

// MonitoredAddress is lazily created on first subscription referencing an
// address. Unique by (Address, Chain).
type MonitoredAddress struct {
	ID             uuid.UUID
	Address        string
	Chain          Chain
	AddressType    AddressType
	DetectedEvents int64
	LastIndexedAt  *time.Time
}

// NotificationChannel is a user-owned delivery destination. Subscriptions
// may not target it until Verified.
type NotificationChannel struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	ChannelType ChannelType
	Config      json.RawMessage
	Verified    bool
	CreatedAt   time.Time
}

// Subscription is an (address, event_type) filter plus optional threshold
// predicate plus delivery channel. Active=false suppresses matching without
// deletion.
type Subscription struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	AddressID       uuid.UUID
	ChannelID       uuid.UUID
	EventType       EventType
	ThresholdConfig json.RawMessage
	Active          bool
	CreatedAt       time.Time
}

// HysteresisState is one row per (Subscription, StateKey), created lazily
// on first observation. Source of truth for the hysteresis engine; an
// in-memory cache may front it but never replaces it.
type HysteresisState struct {
	SubscriptionID uuid.UUID
	StateKey       string
	InAlert        bool
	LastFireAt     *time.Time
	LastValue      *decimal.Decimal
	UpdatedAt      time.Time
}

// Alert is created when the hysteresis engine fires. Immutable. Uniqueness
// on (SubscriptionID, EventID) makes replay safe.
type Alert struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	EventID        int64
	Severity       Severity
	Message        string
	TriggeredAt    time.Time
}

// Notification is created pending when queued; external workers transition
// it onward. The core never reads back Status once written.
type Notification struct {
	ID          uuid.UUID
	AlertID     uuid.UUID
	ChannelID   uuid.UUID
	Status      DeliveryStatus
	SentAt      *time.Time
	ErrorDetail *string
	CreatedAt   time.Time
}
