package dto

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/hugh/go-orgs/internal/api/validation"
	"github.com/hugh/go-orgs/internal/database/models"
)

type CreateOrganizationRequest struct {
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	LogoID string `json:"logoId,omitempty"`
}

func (r CreateOrganizationRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if strings.TrimSpace(r.Name) == "" {
		errors["name"] = "Name is required"
	}
	if r.Slug != "" && !validation.IsValidSlug(r.Slug) {
		errors["slug"] = "Slug must contain only lowercase letters, numbers, and hyphens"
	}

	return errors
}

// OptionalBlobID tells an absent JSON field apart from an explicit null.
// Present is false when the field was omitted; Value is nil for null.
type OptionalBlobID struct {
	Present bool
	Value   *string
}

func (o *OptionalBlobID) UnmarshalJSON(data []byte) error {
	o.Present = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	o.Value = &id
	return nil
}

type UpdateOrganizationRequest struct {
	Name   *string        `json:"name"`
	Slug   *string        `json:"slug"`
	LogoID OptionalBlobID `json:"logoId"`
}

func (r UpdateOrganizationRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		errors["name"] = "Organization name cannot be empty"
	}
	if r.Slug != nil && !validation.IsValidSlug(*r.Slug) {
		errors["slug"] = "Slug must contain only lowercase letters, numbers, and hyphens"
	}
	if r.LogoID.Value != nil && *r.LogoID.Value == "" {
		errors["logoId"] = "Logo id cannot be empty"
	}

	return errors
}

type SetActiveOrganizationRequest struct {
	OrganizationID *string `json:"organizationId"`
}

func (r SetActiveOrganizationRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.OrganizationID != nil && !validation.IsValidUUID(*r.OrganizationID) {
		errors["organizationId"] = "Invalid organization id"
	}

	return errors
}

type LeaveOrganizationRequest struct {
	SuccessorMemberID *string `json:"successorMemberId"`
}

func (r LeaveOrganizationRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.SuccessorMemberID != nil && !validation.IsValidUUID(*r.SuccessorMemberID) {
		errors["successorMemberId"] = "Invalid member id"
	}

	return errors
}

type InviteMemberRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (r *InviteMemberRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if !validation.IsValidEmail(strings.TrimSpace(r.Email)) {
		errors["email"] = "Invalid email format"
	}
	if r.Role == "" {
		r.Role = models.RoleMember
	}
	if !models.IsValidRole(r.Role) {
		errors["role"] = "Invalid role"
	}

	return errors
}

type UpdateMemberRoleRequest struct {
	Role string `json:"role"`
}

func (r UpdateMemberRoleRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if !models.IsValidRole(r.Role) {
		errors["role"] = "Invalid role"
	}

	return errors
}

// RoleResponse carries a null role when the caller is not a member.
type RoleResponse struct {
	Role *string `json:"role"`
}
