package tier

// Tier is the custom type to define the feature-gating level granted to a user
type Tier string

// Defining different Tiers a user can hold
const (
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierUniversity Tier = "university"
)

// Status is the custom type to define the lifecycle state of the underlying subscription.
// It is distinct from Tier: a cancelled-but-not-yet-expired subscription keeps its paid Tier.
type Status string

// Defining different Statuses for a user's subscription
const (
	StatusInactive  Status = "inactive"
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusPastDue   Status = "past_due"
)
