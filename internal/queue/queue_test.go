package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"flare-emissary/internal/storage"
)

func TestNewProducer_DefaultsStreamPrefix(t *testing.T) {
	p := NewProducer(nil, "", nil, zerolog.Nop())
	require.Equal(t, "flareemissary:notifications:telegram", p.streamName(storage.ChannelTelegram))
}

func TestNewProducer_CustomStreamPrefix(t *testing.T) {
	p := NewProducer(nil, "custom-prefix", nil, zerolog.Nop())
	require.Equal(t, "custom-prefix:discord", p.streamName(storage.ChannelDiscord))
}

func TestTranslatePayload(t *testing.T) {
	alert := storage.Alert{
		ID:             uuid.New(),
		SubscriptionID: uuid.New(),
		EventID:        42,
		Severity:       storage.SeverityWarning,
		Message:        "feed x crossed threshold",
		TriggeredAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	sub := storage.Subscription{ID: alert.SubscriptionID}
	channel := storage.NotificationChannel{ID: uuid.New(), ChannelType: storage.ChannelTelegram}

	raw, err := translatePayload(alert, sub, channel)
	require.NoError(t, err)

	var decoded struct {
		SubscriptionID string    `json:"subscription_id"`
		EventID        int64     `json:"event_id"`
		Severity       string    `json:"severity"`
		Message        string    `json:"message"`
		TriggeredAt    time.Time `json:"triggered_at"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	require.Equal(t, sub.ID.String(), decoded.SubscriptionID)
	require.Equal(t, alert.EventID, decoded.EventID)
	require.Equal(t, string(storage.SeverityWarning), decoded.Severity)
	require.Equal(t, alert.Message, decoded.Message)
	require.True(t, alert.TriggeredAt.Equal(decoded.TriggeredAt))
}

func TestJob_RoundTripsThroughJSON(t *testing.T) {
	job := Job{
		NotificationID: uuid.New(),
		ChannelType:    string(storage.ChannelEmail),
		Config:         json.RawMessage(`{"to":"ops@example.com"}`),
		Payload:        json.RawMessage(`{"message":"hi"}`),
	}

	body, err := json.Marshal(job)
	require.NoError(t, err)

	var decoded Job
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Equal(t, job, decoded)
}
