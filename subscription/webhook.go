package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	resp "github.com/classtrack/billing/response"

	"github.com/go-chi/chi"
	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"
	"go.uber.org/zap"
)

// Stripe sends well under this; anything larger is not a webhook
const webhookBodyLimit = 1 << 16

// WebhookOptions contains the configuration for the webhook reconciler
type WebhookOptions struct {
	Manager *Manager
	Logger  *zap.Logger
	Secret  string // webhook signing secret, the sole trust boundary on this endpoint
}

// Webhook receives signed provider events and reconciles billing profiles
type Webhook struct {
	WebhookOptions
}

// NewWebhook will create an instance of the webhook reconciler router
func NewWebhook(option WebhookOptions) (*Webhook, error) {
	if option.Manager == nil {
		return nil, fmt.Errorf("nil Manager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if len(option.Secret) == 0 {
		return nil, fmt.Errorf("empty Secret is invalid")
	}
	return &Webhook{
		WebhookOptions: option,
	}, nil
}

func (h *Webhook) handleEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, webhookBodyLimit))
	if err != nil {
		resp.WriteError(w, http.StatusInternalServerError, "Unable to read request body")
		return
	}

	// verify before parsing: no user session exists here, the signature is
	// the only authentication
	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.Secret)
	if err != nil {
		h.Logger.Warn("Rejected webhook with invalid signature",
			zap.Error(err),
		)
		resp.WriteSignatureError(w, err)
		return
	}

	logger := h.Logger.With(
		zap.String("EventID", event.ID),
		zap.String("EventType", event.Type),
	)

	evt := ProviderEvent{
		Type:       event.Type,
		OccurredAt: time.Unix(event.Created, 0),
	}

	ctx := r.Context()
	switch event.Type {
	case "checkout.session.completed":
		err = h.handleCheckoutCompleted(ctx, logger, event.Data.Raw, evt)
	case "customer.subscription.created", "customer.subscription.updated":
		err = h.handleSubscriptionChange(ctx, event.Data.Raw, evt)
	case "customer.subscription.deleted":
		err = h.handleSubscriptionDeleted(ctx, event.Data.Raw, evt)
	case "invoice.payment_succeeded", "invoice.payment_failed":
		err = h.handleInvoice(ctx, logger, event.Data.Raw, evt)
	default:
		// unknown events must not cause provider retries
		logger.Debug("Ignoring unhandled event type")
	}

	if err != nil {
		// the provider retries on 5xx; the update path is idempotent so
		// redelivery is safe
		logger.Error("Unable to process webhook event",
			zap.Error(err),
		)
		resp.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp.WriteReceived(w)
}

func (h *Webhook) handleCheckoutCompleted(ctx context.Context, logger *zap.Logger, raw json.RawMessage, evt ProviderEvent) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return extErrors.Wrap(err, "Cannot parse checkout session")
	}
	if session.Mode != stripe.CheckoutSessionModeSubscription || session.Subscription == nil {
		logger.Debug("Checkout session is not in subscription mode, skipping")
		return nil
	}
	// the session embeds only the subscription id
	return h.Manager.ApplySubscriptionByID(ctx, session.Subscription.ID, evt)
}

func (h *Webhook) handleSubscriptionChange(ctx context.Context, raw json.RawMessage, evt ProviderEvent) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return extErrors.Wrap(err, "Cannot parse subscription")
	}
	return h.Manager.ApplySubscription(ctx, &sub, evt)
}

func (h *Webhook) handleSubscriptionDeleted(ctx context.Context, raw json.RawMessage, evt ProviderEvent) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return extErrors.Wrap(err, "Cannot parse subscription")
	}
	return h.Manager.ApplyDeletion(ctx, &sub, evt)
}

func (h *Webhook) handleInvoice(ctx context.Context, logger *zap.Logger, raw json.RawMessage, evt ProviderEvent) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return extErrors.Wrap(err, "Cannot parse invoice")
	}
	if inv.Subscription == nil || len(inv.Subscription.ID) == 0 {
		logger.Debug("Invoice carries no subscription reference, skipping")
		return nil
	}
	if evt.Type == "invoice.payment_succeeded" {
		evt.AmountCents = inv.AmountPaid
	} else {
		evt.AmountCents = inv.AmountDue
	}
	evt.Currency = string(inv.Currency)
	return h.Manager.ApplySubscriptionByID(ctx, inv.Subscription.ID, evt)
}

// Router will return the routes under the webhook endpoint
func (h *Webhook) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/", h.handleEvent)

	return r
}
