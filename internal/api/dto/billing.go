package dto

import "github.com/hugh/go-orgs/internal/api/validation"

type CheckoutRequest struct {
	ProductID  string `json:"productId"`
	SuccessURL string `json:"successUrl,omitempty"`
	Units      int    `json:"units,omitempty"`
}

func (r CheckoutRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.ProductID == "" {
		errors["productId"] = "Product id is required"
	}
	if r.SuccessURL != "" && !validation.IsValidHTTPURL(r.SuccessURL) {
		errors["successUrl"] = "Invalid success URL"
	}
	if r.Units < 0 {
		errors["units"] = "Units cannot be negative"
	}

	return errors
}

type ChangeSubscriptionRequest struct {
	ProductID string `json:"productId"`
}
