package broker

import (
	"context"
	"time"

	"github.com/classtrack/billing/tier"
)

// TierChange announces one applied entitlement transition to the rest of the
// platform (usage-limit service, notification mailer). Consumers must treat
// the message as a hint and read the profile table for authoritative state.
type TierChange struct {
	Email        string      `json:"email"`
	PreviousTier tier.Tier   `json:"previousTier"`
	NewTier      tier.Tier   `json:"newTier"`
	Status       tier.Status `json:"status"`
	EventType    string      `json:"eventType"`
	OccurredAt   time.Time   `json:"occurredAt"`
}

// Producer defines the interface for announcing tier changes via message broker
type Producer interface {
	Close()
	SendTierChange(ctx context.Context, c *TierChange) error
}
