package dto

import (
	"github.com/hugh/go-orgs/internal/auth"
	"github.com/hugh/go-orgs/internal/database/models"
)

// BootstrapResponse is everything the frontend needs on first paint.
type BootstrapResponse struct {
	User               *models.User           `json:"user"`
	Accounts           []models.Account       `json:"accounts"`
	ActiveOrganization *auth.FullOrganization `json:"activeOrganization"`
	Organizations      []models.Organization  `json:"organizations"`
	Invitations        []models.Invitation    `json:"invitations"`
	Role               *string                `json:"role"`
	Permissions        Permissions            `json:"permissions"`
}

// Permissions are the role predicates the UI uses to show or hide controls.
type Permissions struct {
	IsOwner               bool `json:"isOwner"`
	CanManageOrganization bool `json:"canManageOrganization"`
	CanManageBilling      bool `json:"canManageBilling"`
}
