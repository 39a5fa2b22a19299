package profile

import (
	"time"

	"github.com/classtrack/billing/tier"
)

// Event is one append-only audit record of a provider-driven transition.
// Rows are write-once: never mutated, never deleted, never read back by this
// service.
type Event struct {
	ID                    string      `json:"id" gorm:"primaryKey"`
	Email                 string      `json:"email" gorm:"index"`
	EventType             string      `json:"eventType"` // Provider event type (e.g. customer.subscription.updated)
	Tier                  tier.Tier   `json:"tier"`      // Resulting tier after the transition
	Status                tier.Status `json:"status"`    // Resulting status after the transition
	BillingCustomerID     string      `json:"billingCustomerId"`
	BillingSubscriptionID string      `json:"billingSubscriptionId"`
	AmountCents           int64       `json:"amountCents"` // Monetary amount when the event carries one (invoice events), otherwise zero
	Currency              string      `json:"currency"`
	CreatedAt             time.Time   `json:"createdAt"`
}
