package profile

import (
	"time"

	"github.com/classtrack/billing/tier"
)

// Profile describes the billing entitlement of a single user, keyed by the
// user's billing email. It is created implicitly on first derivation (upsert
// semantics) and never deleted by this service.
type Profile struct {
	Email                 string      `json:"email" gorm:"primaryKey"`
	Tier                  tier.Tier   `json:"tier"`
	Status                tier.Status `json:"status"`
	BillingCustomerID     string      `json:"billingCustomerId" gorm:"index"` // Corresponds to Stripe's Customer ID
	BillingSubscriptionID string      `json:"billingSubscriptionId"`          // Corresponds to Stripe's Subscription ID
	PeriodEndAt           *time.Time  `json:"periodEndAt"`                    // When the current paid period ends. Nil while Status is inactive
	LastEventAt           time.Time   `json:"lastEventAt"`                    // Provider event time of the last applied write, used to reject out-of-order deliveries
	UpdatedAt             time.Time   `json:"updatedAt"`
}

// Subscribed reports whether the profile currently grants a paid tier.
func (p *Profile) Subscribed() bool {
	return p.Tier != tier.TierFree && p.Status != tier.StatusInactive
}
