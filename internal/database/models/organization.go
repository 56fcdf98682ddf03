package models

import (
	"time"

	"github.com/google/uuid"
)

type Organization struct {
	Base
	Name string `gorm:"not null" json:"name"`
	Slug string `gorm:"uniqueIndex;not null" json:"slug"`
	Logo string `json:"logo,omitempty"`
	// LogoID is the storage key of the logo blob; the organization owns it.
	LogoID   string `json:"logo_id,omitempty"`
	Metadata string `json:"metadata,omitempty"`

	Members     []Member     `gorm:"foreignKey:OrganizationID" json:"-"`
	Invitations []Invitation `gorm:"foreignKey:OrganizationID" json:"-"`
}

func (Organization) TableName() string {
	return "organizations"
}

// Member roles
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

func IsValidRole(role string) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

type Member struct {
	Base
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_member_org_user" json:"organization_id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_member_org_user;index" json:"user_id"`
	Role           string    `gorm:"not null;default:'member'" json:"role"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (Member) TableName() string {
	return "members"
}

// Invitation statuses
const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationRejected = "rejected"
	InvitationCanceled = "canceled"
	InvitationExpired  = "expired"
)

type Invitation struct {
	Base
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;index" json:"organization_id"`
	Email          string    `gorm:"not null;index" json:"email"`
	Role           string    `gorm:"not null;default:'member'" json:"role"`
	Status         string    `gorm:"not null;default:'pending';index" json:"status"`
	InviterID      uuid.UUID `gorm:"type:uuid" json:"inviter_id"`
	ExpiresAt      time.Time `gorm:"not null" json:"expires_at"`
}

func (Invitation) TableName() string {
	return "invitations"
}
