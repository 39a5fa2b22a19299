package subscription

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	resp "github.com/classtrack/billing/response"
	"github.com/classtrack/billing/tier"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// ServiceOptions contains the configuration for the Service router
type ServiceOptions struct {
	Manager *Manager
	Logger  *zap.Logger
}

// Service is the subscription query API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the subscription query API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Manager == nil {
		return nil, fmt.Errorf("nil Manager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// CheckRequest is the model of the app backend's subscription check call
type CheckRequest struct {
	UserEmail string `json:"userEmail" validate:"required,email"`
}

// CheckResponse is the wire shape the app consumes for feature gating
type CheckResponse struct {
	Subscribed         bool        `json:"subscribed"`
	UserTier           tier.Tier   `json:"user_tier"`
	SubscriptionStatus tier.Status `json:"subscription_status"`
	SubscriptionEnd    *string     `json:"subscription_end"` // ISO-8601, null while inactive
}

func (s *Service) checkSubscription(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	logger := s.Logger.With(zap.String("Email", req.UserEmail))

	p, err := s.Manager.CheckSubscription(r.Context(), req.UserEmail)
	if err != nil {
		logger.Error("Unable to check subscription",
			zap.Error(err),
		)
		resp.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var end *string
	if p.PeriodEndAt != nil {
		formatted := p.PeriodEndAt.UTC().Format(time.RFC3339)
		end = &formatted
	}
	resp.WriteResponse(w, CheckResponse{
		Subscribed:         p.Subscribed(),
		UserTier:           p.Tier,
		SubscriptionStatus: p.Status,
		SubscriptionEnd:    end,
	})
}

// Router will return the routes under the subscription query API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/check", s.checkSubscription)

	return r
}
