package handlers

import (
	"log/slog"
	"net/http"

	"github.com/hugh/go-orgs/internal/api/dto"
	"github.com/hugh/go-orgs/internal/auth"
	"github.com/hugh/go-orgs/internal/database/models"
	"github.com/hugh/go-orgs/internal/organizations"
	"github.com/hugh/go-orgs/internal/users"
	"golang.org/x/sync/errgroup"
)

// BootstrapHandler loads everything the frontend renders on first paint in a
// single round trip.
type BootstrapHandler struct {
	users  *users.Service
	orgs   *organizations.Service
	logger *slog.Logger
}

func NewBootstrapHandler(usersService *users.Service, orgs *organizations.Service, logger *slog.Logger) *BootstrapHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BootstrapHandler{users: usersService, orgs: orgs, logger: logger}
}

func (h *BootstrapHandler) Get(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	g, ctx := errgroup.WithContext(r.Context())

	var (
		user        *models.User
		accounts    []models.Account
		active      *auth.FullOrganization
		orgs        []models.Organization
		invitations []models.Invitation
		role        organizations.Role
		isMember    bool
	)

	g.Go(func() (err error) {
		user, err = h.users.GetActiveUser(ctx, p.UserID)
		return err
	})
	g.Go(func() (err error) {
		accounts, err = h.users.ListAccounts(ctx, p.UserID)
		return err
	})
	g.Go(func() (err error) {
		active, err = h.orgs.GetActive(ctx, p)
		return err
	})
	g.Go(func() (err error) {
		orgs, err = h.orgs.List(ctx, p.UserID)
		return err
	})
	g.Go(func() (err error) {
		invitations, err = h.orgs.ListInvitations(ctx, p)
		return err
	})
	g.Go(func() (err error) {
		role, isMember, err = h.orgs.GetRole(ctx, p, nil)
		return err
	})

	if err := g.Wait(); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	resp := dto.BootstrapResponse{
		User:               user,
		Accounts:           accounts,
		ActiveOrganization: active,
		Organizations:      orgs,
		Invitations:        invitations,
	}
	if isMember && role.IsMember() {
		s := string(role)
		resp.Role = &s
		resp.Permissions = dto.Permissions{
			IsOwner:               role.IsOwner(),
			CanManageOrganization: role.IsOwnerOrAdmin(),
			CanManageBilling:      role.IsOwnerOrAdmin(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
