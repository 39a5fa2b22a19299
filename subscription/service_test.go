package subscription

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/classtrack/billing/tier"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*Service, *fakeStore, *fakeBilling) {
	t.Helper()
	store := newFakeStore()
	billing := newFakeBilling()
	m, err := NewManager(ManagerOptions{
		Billing: billing,
		Store:   store,
		Prices:  testPrices,
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)
	s, err := NewService(ServiceOptions{
		Manager: m,
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)
	return s, store, billing
}

func checkRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/check", strings.NewReader(body))
}

func serveCheck(s *Service, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decodeCheck(t *testing.T, rr *httptest.ResponseRecorder) CheckResponse {
	t.Helper()
	var res CheckResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	return res
}

func TestCheckRejectsBadInput(t *testing.T) {
	s, store, _ := newTestService(t)

	for _, body := range []string{`{}`, `{"userEmail": ""}`, `{"userEmail": "not-an-email"}`, `not json`} {
		rr := serveCheck(s, checkRequest(body))
		assert.Equal(t, http.StatusBadRequest, rr.Code, "body %q", body)
	}
	assert.Equal(t, 0, store.upserts)
}

func TestCheckNoCustomerMeansFree(t *testing.T) {
	s, store, _ := newTestService(t)

	rr := serveCheck(s, checkRequest(`{"userEmail": "nobody@example.edu"}`))
	require.Equal(t, http.StatusOK, rr.Code)

	res := decodeCheck(t, rr)
	assert.False(t, res.Subscribed)
	assert.Equal(t, tier.TierFree, res.UserTier)
	assert.Equal(t, tier.StatusInactive, res.SubscriptionStatus)
	assert.Nil(t, res.SubscriptionEnd)

	// the empty result is persisted, not just returned
	p := store.profiles["nobody@example.edu"]
	require.NotNil(t, p)
	assert.Equal(t, tier.TierFree, p.Tier)
	assert.Equal(t, tier.StatusInactive, p.Status)
	assert.Nil(t, p.PeriodEndAt)

	// the query path writes no audit rows
	assert.Len(t, store.events, 0)
}

func TestCheckActiveSubscription(t *testing.T) {
	s, store, billing := newTestService(t)
	billing.addCustomer("cus_1", "student@example.edu")

	end := time.Now().Add(30 * 24 * time.Hour)
	var sub stripe.Subscription
	require.NoError(t, json.Unmarshal([]byte(subscriptionJSON("sub_1", "cus_1", "active", "price_premium_monthly", false, end)), &sub))
	billing.addSubscription("cus_1", &sub)

	rr := serveCheck(s, checkRequest(`{"userEmail": "student@example.edu"}`))
	require.Equal(t, http.StatusOK, rr.Code)

	res := decodeCheck(t, rr)
	assert.True(t, res.Subscribed)
	assert.Equal(t, tier.TierPremium, res.UserTier)
	assert.Equal(t, tier.StatusActive, res.SubscriptionStatus)
	require.NotNil(t, res.SubscriptionEnd)
	assert.Equal(t, time.Unix(end.Unix(), 0).UTC().Format(time.RFC3339), *res.SubscriptionEnd)

	p := store.profiles["student@example.edu"]
	require.NotNil(t, p)
	assert.Equal(t, "cus_1", p.BillingCustomerID)
	assert.Equal(t, "sub_1", p.BillingSubscriptionID)
}

func TestCheckCancelledKeepsTier(t *testing.T) {
	s, _, billing := newTestService(t)
	billing.addCustomer("cus_1", "student@example.edu")

	end := time.Now().Add(10 * 24 * time.Hour)
	var sub stripe.Subscription
	require.NoError(t, json.Unmarshal([]byte(subscriptionJSON("sub_1", "cus_1", "active", "price_premium_monthly", true, end)), &sub))
	billing.addSubscription("cus_1", &sub)

	rr := serveCheck(s, checkRequest(`{"userEmail": "student@example.edu"}`))
	require.Equal(t, http.StatusOK, rr.Code)

	res := decodeCheck(t, rr)
	assert.True(t, res.Subscribed)
	assert.Equal(t, tier.TierPremium, res.UserTier)
	assert.Equal(t, tier.StatusCancelled, res.SubscriptionStatus)
}

func TestCheckUpstreamFailure(t *testing.T) {
	s, store, billing := newTestService(t)
	billing.err = fmt.Errorf("provider is down")

	rr := serveCheck(s, checkRequest(`{"userEmail": "student@example.edu"}`))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	var res struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Contains(t, res.Error, "provider is down")
	assert.Equal(t, 0, store.upserts)
}
