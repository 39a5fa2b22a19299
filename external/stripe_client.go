package external

import (
	"context"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
)

// All provider calls are single round trips; none may block a request handler
// indefinitely.
const outboundTimeout = 10 * time.Second

// NewStripeClient returns a Stripe API client with a bounded outbound timeout
func NewStripeClient(key string) *client.API {
	config := &stripe.BackendConfig{
		HTTPClient: &http.Client{
			Timeout: outboundTimeout,
		},
	}
	sc := &client.API{}
	sc.Init(key, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, config),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, config),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, config),
	})
	return sc
}

// Stripe adapts the SDK client to the narrow surface the billing services
// consume.
type Stripe struct {
	api *client.API
}

// NewStripe returns the provider adapter backed by a timeout-bounded client
func NewStripe(key string) *Stripe {
	return &Stripe{
		api: NewStripeClient(key),
	}
}

// FindCustomerByEmail returns the first customer matching the email, or
// (nil, nil) when none exists. "No customer" means "never subscribed" and is
// not an error.
func (s *Stripe) FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error) {
	params := &stripe.CustomerListParams{
		ListParams: stripe.ListParams{
			Context: ctx,
			Limit:   stripe.Int64(1),
		},
		Email: stripe.String(email),
	}
	iter := s.api.Customers.List(params)
	for iter.Next() {
		return iter.Customer(), nil
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

// ListSubscriptions returns up to limit of the customer's most recent
// subscriptions, in any lifecycle status
func (s *Stripe) ListSubscriptions(ctx context.Context, customerID string, limit int) ([]*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		ListParams: stripe.ListParams{
			Context: ctx,
			Limit:   stripe.Int64(int64(limit)),
		},
		Customer: customerID,
		Status:   "all",
	}
	subs := make([]*stripe.Subscription, 0, limit)
	iter := s.api.Subscriptions.List(params)
	for iter.Next() {
		subs = append(subs, iter.Subscription())
		if len(subs) >= limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return subs, nil
}

// GetSubscription re-reads the authoritative subscription record by id
func (s *Stripe) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return s.api.Subscriptions.Get(id, &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
	})
}

// GetCustomer fetches the customer record by id
func (s *Stripe) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	return s.api.Customers.Get(id, &stripe.CustomerParams{
		Params: stripe.Params{
			Context: ctx,
		},
	})
}
