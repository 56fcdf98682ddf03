package auth

import (
	"net/http"
	"strings"
)

// APIError is returned by every adapter operation that fails for a reason the
// caller can act on. Status is the upper snake case HTTP status name.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func NewAPIError(code int, message string) *APIError {
	return &APIError{
		StatusCode: code,
		Status:     strings.ToUpper(strings.ReplaceAll(http.StatusText(code), " ", "_")),
		Message:    message,
	}
}

func (e *APIError) Error() string {
	return e.Message
}

var (
	ErrUserNotFound       = NewAPIError(http.StatusNotFound, "User not found")
	ErrUserExists         = NewAPIError(http.StatusUnprocessableEntity, "User already exists")
	ErrInvalidCredentials = NewAPIError(http.StatusUnauthorized, "Invalid email or password")
	ErrEmailNotVerified   = NewAPIError(http.StatusForbidden, "Email not verified")
	ErrInvalidSession     = NewAPIError(http.StatusUnauthorized, "Unauthorized")
	ErrSessionRequired    = NewAPIError(http.StatusUnauthorized, "Session is required")
	ErrPasswordAlreadySet = NewAPIError(http.StatusBadRequest, "User already has a password")
	ErrPasswordTooShort   = NewAPIError(http.StatusBadRequest, "Password too short")
	ErrInvalidToken       = NewAPIError(http.StatusBadRequest, "Invalid or expired token")
	ErrUnknownProvider    = NewAPIError(http.StatusNotFound, "Provider not found")
	ErrProviderEmail      = NewAPIError(http.StatusBadRequest, "Email not available from provider")
	ErrAccountNotLinked   = NewAPIError(http.StatusUnauthorized, "Account not linked")
	ErrFeatureDisabled    = NewAPIError(http.StatusNotFound, "Not enabled")
	ErrEmailUnchanged     = NewAPIError(http.StatusBadRequest, "Email is the same")
	ErrInvalidOTP         = NewAPIError(http.StatusBadRequest, "Invalid OTP")
	ErrInvalidOTPType     = NewAPIError(http.StatusBadRequest, "Invalid OTP type")
	ErrOTPExpired         = NewAPIError(http.StatusBadRequest, "OTP expired")
	ErrTooManyAttempts    = NewAPIError(http.StatusForbidden, "Too many attempts")
	ErrAPIKeyNotFound     = NewAPIError(http.StatusNotFound, "API key not found")
	ErrInvalidAPIKey      = NewAPIError(http.StatusUnauthorized, "Invalid API key")

	// Device authorization errors carry the RFC 8628 error code as message.
	ErrInvalidClient        = NewAPIError(http.StatusBadRequest, "Invalid client_id")
	ErrInvalidUserCode      = NewAPIError(http.StatusBadRequest, "Invalid user code")
	ErrDeviceCodeProcessed  = NewAPIError(http.StatusBadRequest, "Device code already processed")
	ErrAuthorizationPending = NewAPIError(http.StatusBadRequest, "authorization_pending")
	ErrSlowDown             = NewAPIError(http.StatusBadRequest, "slow_down")
	ErrExpiredDeviceCode    = NewAPIError(http.StatusBadRequest, "expired_token")
	ErrAccessDenied         = NewAPIError(http.StatusBadRequest, "access_denied")
	ErrInvalidGrant         = NewAPIError(http.StatusBadRequest, "invalid_grant")
	ErrUnsupportedGrantType = NewAPIError(http.StatusBadRequest, "unsupported_grant_type")

	ErrOrganizationSlugTaken  = NewAPIError(http.StatusBadRequest, "Organization slug already taken")
	ErrOrganizationNotFound   = NewAPIError(http.StatusBadRequest, "Organization not found")
	ErrOrganizationIncomplete = NewAPIError(http.StatusBadRequest, "Organization name and slug are required")
	ErrNotAMember             = NewAPIError(http.StatusForbidden, "You are not a member of this organization")
	ErrNoActiveOrganization   = NewAPIError(http.StatusBadRequest, "No active organization")
	ErrMemberNotFound         = NewAPIError(http.StatusBadRequest, "Member not found")
	ErrLastOwner              = NewAPIError(http.StatusBadRequest, "You cannot leave the organization as the only owner")
	ErrInvalidRole            = NewAPIError(http.StatusBadRequest, "Invalid role")
	ErrAlreadyMember          = NewAPIError(http.StatusBadRequest, "User is already a member of this organization")
	ErrAlreadyInvited         = NewAPIError(http.StatusBadRequest, "User is already invited to this organization")
	ErrInvitationNotFound     = NewAPIError(http.StatusBadRequest, "Invitation not found")
	ErrNotInvitationRecipient = NewAPIError(http.StatusForbidden, "You are not the recipient of the invitation")
)

func forbidden(message string) *APIError {
	return NewAPIError(http.StatusForbidden, message)
}
