package handlers

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/hugh/go-orgs/internal/api/dto"
	"github.com/hugh/go-orgs/internal/api/validation"
	"github.com/hugh/go-orgs/internal/organizations"
)

type OrganizationHandler struct {
	orgs   *organizations.Service
	logger *slog.Logger
}

func NewOrganizationHandler(orgs *organizations.Service, logger *slog.Logger) *OrganizationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrganizationHandler{orgs: orgs, logger: logger}
}

func (h *OrganizationHandler) List(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.orgs.List(r.Context(), principal(r).UserID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orgs)
}

func (h *OrganizationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateOrganizationRequest
	if !decodeJSON(w, r, &req, false) || !validate(w, req.Validate()) {
		return
	}

	name := validation.SanitizeName(req.Name)
	slug := req.Slug
	if slug == "" {
		slug = organizations.Slugify(name)
	}

	p := principal(r)
	org, err := h.orgs.Create(r.Context(), organizations.CreateInput{
		UserID:    p.UserID,
		SessionID: p.SessionID,
		Name:      name,
		Slug:      slug,
		LogoID:    req.LogoID,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, org)
}

// GetActive answers null when the session has no active organization.
func (h *OrganizationHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	full, err := h.orgs.GetActive(r.Context(), principal(r))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, full)
}

func (h *OrganizationHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req dto.SetActiveOrganizationRequest
	if !decodeJSON(w, r, &req, true) || !validate(w, req.Validate()) {
		return
	}

	var orgID *uuid.UUID
	if req.OrganizationID != nil {
		id := uuid.MustParse(*req.OrganizationID)
		orgID = &id
	}

	org, err := h.orgs.SetActive(r.Context(), principal(r), orgID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (h *OrganizationHandler) UpdateActive(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, uuid.Nil)
}

func (h *OrganizationHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	h.update(w, r, id)
}

func (h *OrganizationHandler) update(w http.ResponseWriter, r *http.Request, orgID uuid.UUID) {
	var req dto.UpdateOrganizationRequest
	if !decodeJSON(w, r, &req, false) || !validate(w, req.Validate()) {
		return
	}

	upd := organizations.ProfileUpdate{Slug: req.Slug, Logo: organizations.KeepLogo()}
	if req.Name != nil {
		name := validation.SanitizeName(*req.Name)
		upd.Name = &name
	}
	switch {
	case !req.LogoID.Present:
	case req.LogoID.Value == nil:
		upd.Logo = organizations.ClearLogo()
	default:
		upd.Logo = organizations.SetLogo(*req.LogoID.Value)
	}

	org, err := h.orgs.UpdateProfile(r.Context(), principal(r), orgID, upd)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

// DeleteActive and Delete answer with the organization that became active.
func (h *OrganizationHandler) DeleteActive(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, uuid.Nil)
}

func (h *OrganizationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	h.delete(w, r, id)
}

func (h *OrganizationHandler) delete(w http.ResponseWriter, r *http.Request, orgID uuid.UUID) {
	next, err := h.orgs.Delete(r.Context(), principal(r), orgID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (h *OrganizationHandler) Leave(w http.ResponseWriter, r *http.Request) {
	var req dto.LeaveOrganizationRequest
	if !decodeJSON(w, r, &req, true) || !validate(w, req.Validate()) {
		return
	}

	var successor *uuid.UUID
	if req.SuccessorMemberID != nil {
		id := uuid.MustParse(*req.SuccessorMemberID)
		successor = &id
	}

	next, err := h.orgs.Leave(r.Context(), principal(r), successor)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (h *OrganizationHandler) GetRole(w http.ResponseWriter, r *http.Request) {
	var orgID *uuid.UUID
	if raw := r.URL.Query().Get("organizationId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organizationId"})
			return
		}
		orgID = &id
	}

	role, ok, err := h.orgs.GetRole(r.Context(), principal(r), orgID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	var resp dto.RoleResponse
	if ok {
		s := string(role)
		resp.Role = &s
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrganizationHandler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	invitations, err := h.orgs.ListInvitations(r.Context(), principal(r))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invitations)
}

func (h *OrganizationHandler) Invite(w http.ResponseWriter, r *http.Request) {
	var req dto.InviteMemberRequest
	if !decodeJSON(w, r, &req, false) || !validate(w, req.Validate()) {
		return
	}

	invitation, err := h.orgs.Invite(r.Context(), principal(r), req.Email, req.Role)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, invitation)
}

func (h *OrganizationHandler) CancelInvitation(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.orgs.CancelInvitation(r.Context(), principal(r), id); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrganizationHandler) ListActiveMembers(w http.ResponseWriter, r *http.Request) {
	h.listMembers(w, r, uuid.Nil)
}

func (h *OrganizationHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	h.listMembers(w, r, id)
}

func (h *OrganizationHandler) listMembers(w http.ResponseWriter, r *http.Request, orgID uuid.UUID) {
	members, err := h.orgs.ListMembers(r.Context(), principal(r), orgID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *OrganizationHandler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	memberID, ok := uuidParam(w, r, "memberId")
	if !ok {
		return
	}

	var req dto.UpdateMemberRoleRequest
	if !decodeJSON(w, r, &req, false) || !validate(w, req.Validate()) {
		return
	}

	member, err := h.orgs.UpdateMemberRole(r.Context(), principal(r), orgID, memberID, req.Role)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (h *OrganizationHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	memberID, ok := uuidParam(w, r, "memberId")
	if !ok {
		return
	}

	if err := h.orgs.RemoveMember(r.Context(), principal(r), orgID, memberID); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
