package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/hugh/go-orgs/internal/api/dto"
	"github.com/hugh/go-orgs/internal/api/validation"
	"github.com/hugh/go-orgs/internal/users"
	"github.com/hugh/go-orgs/pkg/storage"
)

type UsersHandler struct {
	users         *users.Service
	logger        *slog.Logger
	secureCookies bool
}

func NewUsersHandler(usersService *users.Service, logger *slog.Logger, secureCookies bool) *UsersHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsersHandler{users: usersService, logger: logger, secureCookies: secureCookies}
}

// Me answers null when the signed-in user no longer exists.
func (h *UsersHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetActiveUser(r.Context(), principal(r).UserID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UsersHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.users.ListAccounts(r.Context(), principal(r).UserID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *UsersHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateAvatarRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	url, err := h.users.UpdateAvatar(r.Context(), principal(r).UserID, req.StorageID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.URLResponse{URL: url})
}

func (h *UsersHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.SetPasswordRequest
	if !decodeJSON(w, r, &req, false) || !validate(w, req.Validate()) {
		return
	}

	if err := h.users.SetPassword(r.Context(), principal(r).UserID, req.NewPassword); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.StatusResponse{Status: true})
}

func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req dto.DeleteUserRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	if err := h.users.DeleteUser(r.Context(), principal(r).UserID, req.Password); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	clearSessionCookie(w, h.secureCookies)
	writeJSON(w, http.StatusOK, dto.StatusResponse{Status: true})
}

func (h *UsersHandler) Exists(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if !validation.IsValidEmail(email) {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid email format"})
		return
	}

	exists, err := h.users.IsUserExisting(r.Context(), email)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.UserExistsResponse{Exists: exists})
}

type StorageHandler struct {
	storage storage.Storage
	logger  *slog.Logger
}

func NewStorageHandler(store storage.Storage, logger *slog.Logger) *StorageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StorageHandler{storage: store, logger: logger}
}

func (h *StorageHandler) UploadURL(w http.ResponseWriter, r *http.Request) {
	target, err := h.storage.GenerateUploadURL(r.Context())
	if err != nil {
		h.logger.Error("failed to generate upload url", "user_id", principal(r).UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to generate upload URL"})
		return
	}
	writeJSON(w, http.StatusOK, target)
}
