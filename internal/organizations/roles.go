package organizations

import "github.com/hugh/go-orgs/internal/database/models"

// Role is a member's role within an organization.
type Role string

const (
	RoleOwner  Role = models.RoleOwner
	RoleAdmin  Role = models.RoleAdmin
	RoleMember Role = models.RoleMember
)

func (r Role) IsOwner() bool { return r == RoleOwner }
func (r Role) IsAdmin() bool { return r == RoleAdmin }

func (r Role) IsOwnerOrAdmin() bool {
	return r == RoleOwner || r == RoleAdmin
}

// IsMember reports whether r is any valid role.
func (r Role) IsMember() bool {
	return models.IsValidRole(string(r))
}
