package subscription

import (
	"context"
	"time"

	"github.com/classtrack/billing/broker"
	"github.com/classtrack/billing/profile"

	"github.com/stripe/stripe-go/v72"
)

type fakeStore struct {
	profiles map[string]*profile.Profile
	events   []*profile.Event
	upserts  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles: make(map[string]*profile.Profile),
	}
}

func (f *fakeStore) Upsert(ctx context.Context, p *profile.Profile, eventAt time.Time) (*profile.UpsertResult, error) {
	f.upserts++
	res := &profile.UpsertResult{}
	if existing, ok := f.profiles[p.Email]; ok {
		prev := *existing
		res.Previous = &prev
		if eventAt.Before(existing.LastEventAt) {
			return res, nil
		}
	}
	p.LastEventAt = eventAt
	stored := *p
	f.profiles[p.Email] = &stored
	res.Applied = true
	return res, nil
}

func (f *fakeStore) RecordEvent(ctx context.Context, e *profile.Event) error {
	f.events = append(f.events, e)
	return nil
}

func (f *fakeStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]profile.Profile, error) {
	expired := make([]profile.Profile, 0)
	for _, p := range f.profiles {
		if p.Status == "inactive" {
			continue
		}
		if p.PeriodEndAt != nil && p.PeriodEndAt.Before(now) {
			expired = append(expired, *p)
		}
	}
	return expired, nil
}

type fakeBilling struct {
	customersByEmail map[string]*stripe.Customer
	customersByID    map[string]*stripe.Customer
	subsByCustomer   map[string][]*stripe.Subscription
	subsByID         map[string]*stripe.Subscription
	err              error
}

func newFakeBilling() *fakeBilling {
	return &fakeBilling{
		customersByEmail: make(map[string]*stripe.Customer),
		customersByID:    make(map[string]*stripe.Customer),
		subsByCustomer:   make(map[string][]*stripe.Subscription),
		subsByID:         make(map[string]*stripe.Subscription),
	}
}

func (f *fakeBilling) addCustomer(id, email string) *stripe.Customer {
	c := &stripe.Customer{ID: id, Email: email}
	f.customersByEmail[email] = c
	f.customersByID[id] = c
	return c
}

func (f *fakeBilling) addSubscription(customerID string, sub *stripe.Subscription) {
	f.subsByCustomer[customerID] = append(f.subsByCustomer[customerID], sub)
	f.subsByID[sub.ID] = sub
}

func (f *fakeBilling) FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.customersByEmail[email], nil
}

func (f *fakeBilling) ListSubscriptions(ctx context.Context, customerID string, limit int) ([]*stripe.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	subs := f.subsByCustomer[customerID]
	if len(subs) > limit {
		subs = subs[:limit]
	}
	return subs, nil
}

func (f *fakeBilling) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	if sub, ok := f.subsByID[id]; ok {
		return sub, nil
	}
	return nil, &stripe.Error{Code: stripe.ErrorCodeResourceMissing}
}

func (f *fakeBilling) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	if f.err != nil {
		return nil, f.err
	}
	if c, ok := f.customersByID[id]; ok {
		return c, nil
	}
	return nil, &stripe.Error{Code: stripe.ErrorCodeResourceMissing}
}

type fakeProducer struct {
	changes []*broker.TierChange
}

func (f *fakeProducer) Close() {}

func (f *fakeProducer) SendTierChange(ctx context.Context, c *broker.TierChange) error {
	f.changes = append(f.changes, c)
	return nil
}
