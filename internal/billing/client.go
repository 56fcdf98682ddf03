// Package billing sells subscriptions through Creem. Every checkout and
// subscription belongs to a billing entity: the buyer's active organization,
// or the buyer themselves when no organization is active.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/hugh/go-orgs/pkg/config"
)

// APIError is a non-2xx answer from the Creem API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("creem: %d %s", e.StatusCode, e.Message)
}

type Product struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Price         int    `json:"price"`
	Currency      string `json:"currency"`
	BillingType   string `json:"billing_type"`
	BillingPeriod string `json:"billing_period"`
}

type CheckoutRequest struct {
	ProductID  string            `json:"product_id"`
	RequestID  string            `json:"request_id,omitempty"`
	Units      int               `json:"units,omitempty"`
	SuccessURL string            `json:"success_url,omitempty"`
	Customer   *CheckoutCustomer `json:"customer,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type CheckoutCustomer struct {
	Email string `json:"email"`
}

type Checkout struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
}

// Subscription is the subset of a Creem subscription object the service keeps.
// Customer and product may arrive expanded or as bare ids.
type Subscription struct {
	ID                   string            `json:"id"`
	Status               string            `json:"status"`
	Customer             Ref               `json:"customer"`
	Product              Ref               `json:"product"`
	CurrentPeriodEndDate *time.Time        `json:"current_period_end_date,omitempty"`
	CanceledAt           *time.Time        `json:"canceled_at,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// Ref decodes either "id" or {"id": "..."}.
type Ref string

func (r *Ref) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*r = Ref(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*r = Ref(obj.ID)
	return nil
}

type UpgradeRequest struct {
	ProductID      string `json:"product_id"`
	UpdateBehavior string `json:"update_behavior,omitempty"`
}

type Client struct {
	http    *retryablehttp.Client
	baseURL string
	apiKey  string
}

type Option func(*retryablehttp.Client)

// WithRetry overrides the retry policy, mostly for tests.
func WithRetry(max int, waitMin, waitMax time.Duration) Option {
	return func(c *retryablehttp.Client) {
		c.RetryMax = max
		c.RetryWaitMin = waitMin
		c.RetryWaitMax = waitMax
	}
}

func NewClient(cfg *config.BillingConfig, logger *slog.Logger, opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.HTTPClient.Timeout = 15 * time.Second
	// hand the last response back so provider errors keep their status
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	if logger != nil {
		rc.Logger = logger
	}
	for _, opt := range opts {
		opt(rc)
	}

	return &Client{
		http:    rc,
		baseURL: cfg.CreemBaseURL,
		apiKey:  cfg.CreemAPIKey,
	}
}

// HTTPClient exposes the transport so tests can intercept it.
func (c *Client) HTTPClient() *http.Client {
	return c.http.HTTPClient
}

func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	var out Checkout
	if err := c.do(ctx, http.MethodPost, "/v1/checkouts", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CustomerPortalURL returns a one-off link to the customer's billing portal.
func (c *Client) CustomerPortalURL(ctx context.Context, customerID string) (string, error) {
	var out struct {
		CustomerPortalLink string `json:"customer_portal_link"`
	}
	body := map[string]string{"customer_id": customerID}
	if err := c.do(ctx, http.MethodPost, "/v1/customers/billing", body, &out); err != nil {
		return "", err
	}
	return out.CustomerPortalLink, nil
}

func (c *Client) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	var out Subscription
	path := "/v1/subscriptions?subscription_id=" + url.QueryEscape(id)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpgradeSubscription(ctx context.Context, id string, req UpgradeRequest) (*Subscription, error) {
	return c.subscriptionAction(ctx, id, "upgrade", req)
}

func (c *Client) CancelSubscription(ctx context.Context, id string) (*Subscription, error) {
	return c.subscriptionAction(ctx, id, "cancel", nil)
}

func (c *Client) PauseSubscription(ctx context.Context, id string) (*Subscription, error) {
	return c.subscriptionAction(ctx, id, "pause", nil)
}

func (c *Client) ResumeSubscription(ctx context.Context, id string) (*Subscription, error) {
	return c.subscriptionAction(ctx, id, "resume", nil)
}

func (c *Client) subscriptionAction(ctx context.Context, id, action string, body interface{}) (*Subscription, error) {
	var out Subscription
	path := "/v1/subscriptions/" + url.PathEscape(id) + "/" + action
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListProducts(ctx context.Context) ([]Product, error) {
	var out struct {
		Items []Product `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/products/search?page_number=1&page_size=100", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("creem %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var msg struct {
			Message interface{} `json:"message"`
		}
		if json.Unmarshal(data, &msg) == nil && msg.Message != nil {
			apiErr.Message = fmt.Sprint(msg.Message)
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
