package tier

import (
	"time"

	"github.com/stripe/stripe-go/v72"
)

// Derivation is the local tier/status model computed from the provider's
// subscription state. PeriodEnd is nil whenever Status is StatusInactive.
type Derivation struct {
	Tier           Tier
	Status         Status
	PeriodEnd      *time.Time
	CustomerID     string
	SubscriptionID string
}

// Inactive returns the zero entitlement: never subscribed, subscription
// deleted, or subscription expired.
func Inactive() Derivation {
	return Derivation{
		Tier:   TierFree,
		Status: StatusInactive,
	}
}

// Derive maps a customer's subscriptions as reported by the provider onto the
// local tier/status model. It is a pure function: no I/O, deterministic for a
// fixed now, and total (malformed input degrades to the free tier, never to a
// paid one).
func Derive(subs []*stripe.Subscription, prices PriceTable, now time.Time) Derivation {
	sub := mostRelevant(subs, now)
	if sub == nil {
		return Inactive()
	}
	d := deriveOne(sub, prices, now)
	if sub.Customer != nil {
		d.CustomerID = sub.Customer.ID
	}
	d.SubscriptionID = sub.ID
	return d
}

// mostRelevant selects the single subscription that decides the user's
// entitlement when the provider reports more than one:
//  1. first active or trialing
//  2. else first in payment trouble (grace period candidates)
//  3. else first cancelled-at-period-end whose paid period has not ended
//  4. else the first one reported
func mostRelevant(subs []*stripe.Subscription, now time.Time) *stripe.Subscription {
	for _, sub := range subs {
		if sub == nil {
			continue
		}
		switch sub.Status {
		case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
			return sub
		}
	}
	for _, sub := range subs {
		if sub == nil {
			continue
		}
		switch sub.Status {
		case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusIncomplete, stripe.SubscriptionStatusIncompleteExpired:
			return sub
		}
	}
	for _, sub := range subs {
		if sub == nil {
			continue
		}
		if sub.CancelAtPeriodEnd && sub.CurrentPeriodEnd > 0 && time.Unix(sub.CurrentPeriodEnd, 0).After(now) {
			return sub
		}
	}
	for _, sub := range subs {
		if sub != nil {
			return sub
		}
	}
	return nil
}

func deriveOne(sub *stripe.Subscription, prices PriceTable, now time.Time) Derivation {
	var periodEnd *time.Time
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0)
		periodEnd = &end
	}

	// Expiration by timestamp wins over everything else: the provider keeps
	// reporting cancel_at_period_end subscriptions as "active" right up until
	// the period actually ends.
	if periodEnd != nil && now.After(*periodEnd) {
		return Inactive()
	}

	resolved := prices.Resolve(firstPriceID(sub))

	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		status := StatusActive
		if sub.CancelAtPeriodEnd {
			status = StatusCancelled
		}
		return Derivation{
			Tier:      resolved,
			Status:    status,
			PeriodEnd: periodEnd,
		}
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusIncomplete, stripe.SubscriptionStatusIncompleteExpired:
		// Grace period: a momentarily failed payment does not strip the tier.
		return Derivation{
			Tier:      resolved,
			Status:    StatusPastDue,
			PeriodEnd: periodEnd,
		}
	default:
		// canceled, unpaid, or anything the provider invents later
		return Inactive()
	}
}

func firstPriceID(sub *stripe.Subscription) string {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	item := sub.Items.Data[0]
	if item == nil || item.Price == nil {
		return ""
	}
	return item.Price.ID
}
