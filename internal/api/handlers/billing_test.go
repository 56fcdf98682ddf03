package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hugh/go-orgs/internal/api/dto"
	"github.com/hugh/go-orgs/internal/api/handlers"
	"github.com/hugh/go-orgs/internal/api/middleware"
	"github.com/hugh/go-orgs/internal/billing"
	"github.com/hugh/go-orgs/internal/database/models"
	"github.com/hugh/go-orgs/internal/testutil"
	"github.com/hugh/go-orgs/pkg/config"
	"github.com/hugh/go-orgs/pkg/util"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	creemURL      = "https://creem.test"
	billingSecret = "whsec_handlers"
)

func setupBillingRouter(t *testing.T) (*env, *httpmock.MockTransport) {
	t.Helper()

	client := billing.NewClient(&config.BillingConfig{CreemBaseURL: creemURL, CreemAPIKey: "key"}, nil,
		billing.WithRetry(0, time.Millisecond, time.Millisecond))
	mock := httpmock.NewMockTransport()
	client.HTTPClient().Transport = mock

	e := newEnv(t, func(e *env, r chi.Router) {
		svc := billing.NewService(e.DB, client, e.AuthService, util.DiscardLogger())
		h := handlers.NewBillingHandler(svc, billingSecret, util.DiscardLogger())

		r.Route("/api/billing", func(r chi.Router) {
			r.Post("/webhook", h.Webhook)
			r.Group(func(r chi.Router) {
				r.Use(middleware.Auth(e.AuthService))
				r.Get("/products", h.Products)
				r.Post("/checkout", h.Checkout)
				r.Get("/portal", h.Portal)
				r.Get("/subscriptions", h.Subscriptions)
				r.Post("/subscriptions/{id}/{action}", h.ChangeSubscription)
			})
		})
	})
	return e, mock
}

func TestBillingHandler_Checkout(t *testing.T) {
	e, mock := setupBillingRouter(t)

	mock.RegisterResponder(http.MethodPost, creemURL+"/v1/checkouts",
		func(req *http.Request) (*http.Response, error) {
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			metadata := body["metadata"].(map[string]interface{})
			assert.Equal(t, e.Org.ID.String(), metadata["entityId"])
			return httpmock.NewJsonResponse(200, map[string]interface{}{
				"id":           "ch_1",
				"checkout_url": "https://checkout.creem.test/ch_1",
			})
		})

	tests := []struct {
		name       string
		token      func(t *testing.T) string
		body       map[string]interface{}
		wantStatus int
	}{
		{
			name:       "owner",
			token:      func(t *testing.T) string { return e.Token },
			body:       map[string]interface{}{"productId": "prod_basic"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing product",
			token:      func(t *testing.T) string { return e.Token },
			body:       map[string]interface{}{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "plain member",
			token: func(t *testing.T) string {
				_, token := e.newUser(t, e.Org, models.RoleMember)
				return token
			},
			body:       map[string]interface{}{"productId": "prod_basic"},
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := e.do(testutil.AuthenticatedRequest(t, http.MethodPost, "/api/billing/checkout", tt.body, tt.token(t)))
			testutil.AssertStatus(t, rr, tt.wantStatus)

			if tt.wantStatus == http.StatusOK {
				var resp dto.URLResponse
				testutil.ParseJSONResponse(t, rr, &resp)
				assert.Equal(t, "https://checkout.creem.test/ch_1", resp.URL)
			}
		})
	}
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestBillingHandler_ProviderError(t *testing.T) {
	e, mock := setupBillingRouter(t)

	mock.RegisterResponder(http.MethodGet, `=~^`+creemURL+`/v1/products/search`,
		httpmock.NewStringResponder(500, `{"message":"boom"}`))

	rr := e.do(testutil.AuthenticatedRequest(t, http.MethodGet, "/api/billing/products", nil, e.Token))
	testutil.AssertStatus(t, rr, http.StatusBadGateway)

	var resp dto.ErrorResponse
	testutil.ParseJSONResponse(t, rr, &resp)
	assert.Equal(t, "Billing provider unavailable", resp.Error)
}

func TestBillingHandler_ChangeSubscription(t *testing.T) {
	e, mock := setupBillingRouter(t)
	require.NoError(t, e.DB.Create(&models.Subscription{
		EntityID:       e.Org.ID.String(),
		SubscriptionID: "sub_1",
		CustomerID:     "cust_1",
		ProductID:      "prod_basic",
		Status:         "active",
	}).Error)

	mock.RegisterResponder(http.MethodPost, creemURL+"/v1/subscriptions/sub_1/cancel",
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{
			"id":       "sub_1",
			"status":   "canceled",
			"customer": "cust_1",
			"product":  "prod_basic",
		}))

	rr := e.do(testutil.AuthenticatedRequest(t, http.MethodPost, "/api/billing/subscriptions/sub_1/cancel", nil, e.Token))
	testutil.AssertStatus(t, rr, http.StatusOK)

	var sub models.Subscription
	testutil.ParseJSONResponse(t, rr, &sub)
	assert.Equal(t, "canceled", sub.Status)

	rr = e.do(testutil.AuthenticatedRequest(t, http.MethodPost, "/api/billing/subscriptions/sub_1/explode", nil, e.Token))
	testutil.AssertStatus(t, rr, http.StatusBadRequest)

	rr = e.do(testutil.AuthenticatedRequest(t, http.MethodPost, "/api/billing/subscriptions/sub_other/cancel", nil, e.Token))
	testutil.AssertStatus(t, rr, http.StatusNotFound)

	rr = e.do(testutil.AuthenticatedRequest(t, http.MethodGet, "/api/billing/subscriptions", nil, e.Token))
	testutil.AssertStatus(t, rr, http.StatusOK)
	var subs []models.Subscription
	testutil.ParseJSONResponse(t, rr, &subs)
	assert.Len(t, subs, 1)
}

func TestBillingHandler_Portal_NoCustomer(t *testing.T) {
	e, _ := setupBillingRouter(t)

	rr := e.do(testutil.AuthenticatedRequest(t, http.MethodGet, "/api/billing/portal", nil, e.Token))
	testutil.AssertStatus(t, rr, http.StatusNotFound)
}

func TestBillingHandler_Webhook(t *testing.T) {
	e, _ := setupBillingRouter(t)

	body, err := json.Marshal(map[string]interface{}{
		"id":        "evt_1",
		"eventType": "subscription.active",
		"object": map[string]interface{}{
			"id":       "sub_7",
			"status":   "active",
			"customer": "cust_7",
			"product":  "prod_basic",
			"metadata": map[string]string{"entityId": e.Org.ID.String()},
		},
	})
	require.NoError(t, err)

	post := func(signature string, payload []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/billing/webhook", bytes.NewReader(payload))
		req.Header.Set(billing.SignatureHeader, signature)
		return e.do(req)
	}

	rr := post("deadbeef", body)
	testutil.AssertStatus(t, rr, http.StatusUnauthorized)

	rr = post(billing.Sign(billingSecret, body), body)
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Equal(t, int64(1), testutil.CountRows(t, e.DB, &models.Subscription{}, "subscription_id = ? AND entity_id = ?", "sub_7", e.Org.ID.String()))

	orphan := []byte(`{"id":"evt_2","eventType":"subscription.active","object":{"id":"sub_orphan","status":"active"}}`)
	rr = post(billing.Sign(billingSecret, orphan), orphan)
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}
