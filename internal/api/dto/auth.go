package dto

import (
	"strings"

	"github.com/hugh/go-orgs/internal/api/validation"
	"github.com/hugh/go-orgs/internal/auth"
	"github.com/hugh/go-orgs/internal/database/models"
)

type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (r SignUpRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Email == "" {
		errors["email"] = "Email is required"
	} else if !validation.IsValidEmail(strings.TrimSpace(r.Email)) {
		errors["email"] = "Invalid email format"
	}
	if r.Password == "" {
		errors["password"] = "Password is required"
	} else if len(r.Password) < auth.MinPasswordLength {
		errors["password"] = "Password must be at least 8 characters"
	}
	if strings.TrimSpace(r.Name) == "" {
		errors["name"] = "Name is required"
	}

	return errors
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r SignInRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Email == "" {
		errors["email"] = "Email is required"
	}
	if r.Password == "" {
		errors["password"] = "Password is required"
	}

	return errors
}

type ForgetPasswordRequest struct {
	Email      string `json:"email"`
	RedirectTo string `json:"redirectTo"`
}

func (r ForgetPasswordRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Email == "" {
		errors["email"] = "Email is required"
	}
	if r.RedirectTo != "" && !validation.IsValidHTTPURL(r.RedirectTo) && !validation.IsLocalRedirect(r.RedirectTo) {
		errors["redirectTo"] = "Invalid redirect URL"
	}

	return errors
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (r ResetPasswordRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Token == "" {
		errors["token"] = "Token is required"
	}
	if len(r.NewPassword) < auth.MinPasswordLength {
		errors["newPassword"] = "Password must be at least 8 characters"
	}

	return errors
}

// SessionResponse is null-safe: both fields are nil when there is no session.
type SessionResponse struct {
	Session *models.Session `json:"session"`
	User    *models.User    `json:"user"`
}

// callbackErrors accepts an empty callback or a path on this site.
func callbackErrors(errors map[string]string, callbackURL string) {
	if callbackURL != "" && !validation.IsLocalRedirect(callbackURL) {
		errors["callbackURL"] = "Invalid callback URL"
	}
}

func emailErrors(errors map[string]string, field, email string) {
	if strings.TrimSpace(email) == "" {
		errors[field] = "Email is required"
	} else if !validation.IsValidEmail(strings.TrimSpace(email)) {
		errors[field] = "Invalid email format"
	}
}

type ChangeEmailRequest struct {
	NewEmail    string `json:"newEmail"`
	CallbackURL string `json:"callbackURL"`
}

func (r ChangeEmailRequest) Validate() map[string]string {
	errors := make(map[string]string)
	emailErrors(errors, "newEmail", r.NewEmail)
	callbackErrors(errors, r.CallbackURL)
	return errors
}

type MagicLinkRequest struct {
	Email       string `json:"email"`
	CallbackURL string `json:"callbackURL"`
}

func (r MagicLinkRequest) Validate() map[string]string {
	errors := make(map[string]string)
	emailErrors(errors, "email", r.Email)
	callbackErrors(errors, r.CallbackURL)
	return errors
}

type SendOTPRequest struct {
	Email string `json:"email"`
	Type  string `json:"type"`
}

func (r SendOTPRequest) Validate() map[string]string {
	errors := make(map[string]string)
	emailErrors(errors, "email", r.Email)
	if !auth.ValidOTPType(r.Type) {
		errors["type"] = "Type must be sign-in, email-verification or forget-password"
	}
	return errors
}

type OTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

func (r OTPRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if r.Email == "" {
		errors["email"] = "Email is required"
	}
	if r.OTP == "" {
		errors["otp"] = "OTP is required"
	}
	return errors
}

type OTPResetPasswordRequest struct {
	OTPRequest
	Password string `json:"password"`
}

func (r OTPResetPasswordRequest) Validate() map[string]string {
	errors := r.OTPRequest.Validate()
	if len(r.Password) < auth.MinPasswordLength {
		errors["password"] = "Password must be at least 8 characters"
	}
	return errors
}

type UserResponse struct {
	Status bool         `json:"status"`
	User   *models.User `json:"user"`
}

const maxAPIKeyName = 64

type CreateAPIKeyRequest struct {
	Name string `json:"name"`
	// ExpiresIn is in seconds; zero never expires.
	ExpiresIn int64 `json:"expiresIn"`
}

func (r CreateAPIKeyRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if len(strings.TrimSpace(r.Name)) > maxAPIKeyName {
		errors["name"] = "Name must be at most 64 characters"
	}
	if r.ExpiresIn < 0 {
		errors["expiresIn"] = "expiresIn cannot be negative"
	}
	return errors
}

type DeleteAPIKeyRequest struct {
	KeyID string `json:"keyId"`
}

func (r DeleteAPIKeyRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if !validation.IsValidUUID(r.KeyID) {
		errors["keyId"] = "Invalid key id"
	}
	return errors
}

type DeviceCodeRequest struct {
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
}

func (r DeviceCodeRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if r.ClientID == "" {
		errors["client_id"] = "client_id is required"
	}
	return errors
}

type DeviceTokenRequest struct {
	GrantType  string `json:"grant_type"`
	DeviceCode string `json:"device_code"`
	ClientID   string `json:"client_id"`
}

func (r DeviceTokenRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if r.DeviceCode == "" {
		errors["device_code"] = "device_code is required"
	}
	if r.ClientID == "" {
		errors["client_id"] = "client_id is required"
	}
	return errors
}

type DeviceDecisionRequest struct {
	UserCode string `json:"userCode"`
}

func (r DeviceDecisionRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if strings.TrimSpace(r.UserCode) == "" {
		errors["userCode"] = "userCode is required"
	}
	return errors
}

type DeviceStatusResponse struct {
	Status string `json:"status"`
}

type DeviceLookupResponse struct {
	UserCode string `json:"user_code"`
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
	Status   string `json:"status"`
}
