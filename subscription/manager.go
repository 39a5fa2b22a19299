package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/classtrack/billing/broker"
	"github.com/classtrack/billing/profile"
	"github.com/classtrack/billing/tier"

	"github.com/go-redis/redis/v7"
	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
)

// subscriptionWindow bounds how many of the customer's most recent
// subscriptions are considered when deriving entitlement. The provider API is
// paginated; selection scans the whole window.
const subscriptionWindow = 10

const checkCacheTTL = 30 * time.Second

const checkCachePrefix = "billing:check:"

// BillingAPI is the provider surface the manager consumes
type BillingAPI interface {
	FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error)
	ListSubscriptions(ctx context.Context, customerID string, limit int) ([]*stripe.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	GetCustomer(ctx context.Context, id string) (*stripe.Customer, error)
}

// ProfileStore is the persistence surface the manager consumes
type ProfileStore interface {
	Upsert(ctx context.Context, p *profile.Profile, eventAt time.Time) (*profile.UpsertResult, error)
	RecordEvent(ctx context.Context, e *profile.Event) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]profile.Profile, error)
}

// ProviderEvent carries the webhook delivery context into the update path
type ProviderEvent struct {
	Type        string
	OccurredAt  time.Time // provider-side creation time, drives the ordering guard
	AmountCents int64
	Currency    string
}

type ManagerOptions struct {
	Billing  BillingAPI
	Store    ProfileStore
	Prices   tier.PriceTable
	Logger   *zap.Logger
	Producer broker.Producer       // optional, tier-change announcements
	Redis    redis.UniversalClient // optional, check-response cache
}

type Manager struct {
	ManagerOptions
}

func NewManager(option ManagerOptions) (*Manager, error) {
	if option.Billing == nil {
		return nil, fmt.Errorf("nil Billing is invalid")
	}
	if option.Store == nil {
		return nil, fmt.Errorf("nil Store is invalid")
	}
	if option.Prices == nil {
		return nil, fmt.Errorf("nil Prices is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// CheckSubscription derives and persists the user's current entitlement from
// fresh provider state, answering from the short-TTL cache when a recent
// answer exists.
func (m *Manager) CheckSubscription(ctx context.Context, email string) (*profile.Profile, error) {
	if cached := m.cacheGet(email); cached != nil {
		return cached, nil
	}
	p, err := m.Refresh(ctx, email)
	if err != nil {
		return nil, err
	}
	m.cacheSet(email, p)
	return p, nil
}

// Refresh queries the provider for the customer and their subscriptions,
// derives tier/status, and persists the result with last-write-wins
// semantics. A missing customer is a valid empty result, never an error.
func (m *Manager) Refresh(ctx context.Context, email string) (*profile.Profile, error) {
	now := time.Now()

	cust, err := m.Billing.FindCustomerByEmail(ctx, email)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot look up customer on provider")
	}

	var d tier.Derivation
	if cust == nil {
		d = tier.Inactive()
	} else {
		subs, err := m.Billing.ListSubscriptions(ctx, cust.ID, subscriptionWindow)
		if err != nil {
			return nil, extErrors.Wrap(err, "Cannot list subscriptions on provider")
		}
		d = tier.Derive(subs, m.Prices, now)
		if len(d.CustomerID) == 0 {
			d.CustomerID = cust.ID
		}
	}

	// a fresh provider read is by definition current, so the guard time is now
	p, res, err := m.persist(ctx, email, d, now)
	if err != nil {
		return nil, err
	}
	m.announce(ctx, p, res, "subscription.check")
	return p, nil
}

// ApplySubscription runs the full update path for one subscription object
// delivered by webhook: resolve the customer email, derive, upsert the
// profile, append one audit row.
func (m *Manager) ApplySubscription(ctx context.Context, sub *stripe.Subscription, evt ProviderEvent) error {
	if sub == nil {
		return fmt.Errorf("nil subscription is invalid")
	}
	logger := m.Logger.With(
		zap.String("EventType", evt.Type),
		zap.String("SubscriptionID", sub.ID),
	)

	email, err := m.resolveEmail(ctx, sub.Customer)
	if err != nil {
		return err
	}
	if len(email) == 0 {
		// fail soft: nothing to reconcile against, and a retry won't help
		logger.Warn("Subscription has no resolvable customer email, skipping")
		return nil
	}

	d := tier.Derive([]*stripe.Subscription{sub}, m.Prices, time.Now())
	return m.apply(ctx, logger, email, d, evt)
}

// ApplySubscriptionByID re-reads the authoritative subscription record before
// running the full update path. Payment events alone do not carry full
// subscription state.
func (m *Manager) ApplySubscriptionByID(ctx context.Context, subscriptionID string, evt ProviderEvent) error {
	sub, err := m.Billing.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return extErrors.Wrap(err, "Cannot fetch subscription from provider")
	}
	return m.ApplySubscription(ctx, sub, evt)
}

// ApplyDeletion force-writes the zero entitlement. Deletion is terminal: no
// derivation needed.
func (m *Manager) ApplyDeletion(ctx context.Context, sub *stripe.Subscription, evt ProviderEvent) error {
	if sub == nil {
		return fmt.Errorf("nil subscription is invalid")
	}
	logger := m.Logger.With(
		zap.String("EventType", evt.Type),
		zap.String("SubscriptionID", sub.ID),
	)

	email, err := m.resolveEmail(ctx, sub.Customer)
	if err != nil {
		return err
	}
	if len(email) == 0 {
		logger.Warn("Subscription has no resolvable customer email, skipping")
		return nil
	}

	d := tier.Inactive()
	if sub.Customer != nil {
		d.CustomerID = sub.Customer.ID
	}
	d.SubscriptionID = sub.ID
	return m.apply(ctx, logger, email, d, evt)
}

func (m *Manager) apply(ctx context.Context, logger *zap.Logger, email string, d tier.Derivation, evt ProviderEvent) error {
	p, res, err := m.persist(ctx, email, d, evt.OccurredAt)
	if err != nil {
		return err
	}
	if !res.Applied {
		logger.Info("Dropping stale event delivery",
			zap.Time("EventAt", evt.OccurredAt),
			zap.Time("LastEventAt", res.Previous.LastEventAt),
		)
		return nil
	}

	// the audit row is best effort: an audit-table outage must never block
	// entitlement updates
	m.Store.RecordEvent(ctx, &profile.Event{
		Email:                 email,
		EventType:             evt.Type,
		Tier:                  d.Tier,
		Status:                d.Status,
		BillingCustomerID:     d.CustomerID,
		BillingSubscriptionID: d.SubscriptionID,
		AmountCents:           evt.AmountCents,
		Currency:              evt.Currency,
		CreatedAt:             evt.OccurredAt,
	})

	m.cacheInvalidate(email)
	m.announce(ctx, p, res, evt.Type)
	return nil
}

func (m *Manager) persist(ctx context.Context, email string, d tier.Derivation, eventAt time.Time) (*profile.Profile, *profile.UpsertResult, error) {
	p := &profile.Profile{
		Email:                 email,
		Tier:                  d.Tier,
		Status:                d.Status,
		BillingCustomerID:     d.CustomerID,
		BillingSubscriptionID: d.SubscriptionID,
		PeriodEndAt:           d.PeriodEnd,
	}
	res, err := m.Store.Upsert(ctx, p, eventAt)
	if err != nil {
		return nil, nil, err
	}
	return p, res, nil
}

// resolveEmail follows the customer reference on a subscription to an email
// address. Events embed only the customer id, so a second read is usually
// required. Returns empty (not an error) for deleted or email-less customers.
func (m *Manager) resolveEmail(ctx context.Context, cust *stripe.Customer) (string, error) {
	if cust == nil {
		return "", nil
	}
	if len(cust.Email) > 0 {
		return cust.Email, nil
	}
	full, err := m.Billing.GetCustomer(ctx, cust.ID)
	if err != nil {
		// a hard-deleted customer is gone for good; retrying won't help
		var sErr *stripe.Error
		if errors.As(err, &sErr) && sErr.Code == stripe.ErrorCodeResourceMissing {
			return "", nil
		}
		return "", extErrors.Wrap(err, "Cannot fetch customer from provider")
	}
	if full == nil || full.Deleted || len(full.Email) == 0 {
		return "", nil
	}
	return full.Email, nil
}

func (m *Manager) announce(ctx context.Context, p *profile.Profile, res *profile.UpsertResult, eventType string) {
	if m.Producer == nil || !res.Applied {
		return
	}
	prevTier := tier.TierFree
	prevStatus := tier.StatusInactive
	if res.Previous != nil {
		prevTier = res.Previous.Tier
		prevStatus = res.Previous.Status
	}
	if prevTier == p.Tier && prevStatus == p.Status {
		return
	}
	if err := m.Producer.SendTierChange(ctx, &broker.TierChange{
		Email:        p.Email,
		PreviousTier: prevTier,
		NewTier:      p.Tier,
		Status:       p.Status,
		EventType:    eventType,
		OccurredAt:   time.Now(),
	}); err != nil {
		m.Logger.Warn("Unable to announce tier change",
			zap.String("Email", p.Email),
			zap.Error(err),
		)
	}
}

func (m *Manager) cacheGet(email string) *profile.Profile {
	if m.Redis == nil {
		return nil
	}
	val, err := m.Redis.Get(checkCachePrefix + email).Result()
	if err != nil {
		if err != redis.Nil {
			m.Logger.Debug("Cache read failed",
				zap.Error(err),
			)
		}
		return nil
	}
	var p profile.Profile
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		return nil
	}
	return &p
}

func (m *Manager) cacheSet(email string, p *profile.Profile) {
	if m.Redis == nil {
		return
	}
	jsonBytes, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := m.Redis.Set(checkCachePrefix+email, jsonBytes, checkCacheTTL).Err(); err != nil {
		m.Logger.Debug("Cache write failed",
			zap.Error(err),
		)
	}
}

func (m *Manager) cacheInvalidate(email string) {
	if m.Redis == nil {
		return
	}
	if err := m.Redis.Del(checkCachePrefix + email).Err(); err != nil {
		m.Logger.Debug("Cache invalidation failed",
			zap.Error(err),
		)
	}
}
