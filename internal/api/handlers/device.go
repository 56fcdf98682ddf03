package handlers

import (
	"mime"
	"net/http"

	"github.com/hugh/go-orgs/internal/api/dto"
)

// DeviceCode starts a device authorization. The caller is a device, so
// there is no session.
func (h *AuthHandler) DeviceCode(w http.ResponseWriter, r *http.Request) {
	var req dto.DeviceCodeRequest
	if isFormRequest(r) {
		if !parseForm(w, r) {
			return
		}
		req = dto.DeviceCodeRequest{ClientID: r.PostForm.Get("client_id"), Scope: r.PostForm.Get("scope")}
	} else if !decodeJSON(w, r, &req, false) {
		return
	}
	if !validate(w, req.Validate()) {
		return
	}

	da, err := h.authService.RequestDeviceCode(r.Context(), req.ClientID, req.Scope)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, da)
}

// DeviceToken is polled by the device until the user decides.
func (h *AuthHandler) DeviceToken(w http.ResponseWriter, r *http.Request) {
	var req dto.DeviceTokenRequest
	if isFormRequest(r) {
		if !parseForm(w, r) {
			return
		}
		req = dto.DeviceTokenRequest{
			GrantType:  r.PostForm.Get("grant_type"),
			DeviceCode: r.PostForm.Get("device_code"),
			ClientID:   r.PostForm.Get("client_id"),
		}
	} else if !decodeJSON(w, r, &req, false) {
		return
	}
	if !validate(w, req.Validate()) {
		return
	}

	tok, err := h.authService.DeviceToken(r.Context(), req.GrantType, req.DeviceCode, req.ClientID, sessionMeta(r))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tok)
}

func (h *AuthHandler) DeviceStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, err := h.authService.DeviceCodeStatus(r.Context(), q.Get("client_id"), q.Get("device_code"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.DeviceStatusResponse{Status: status})
}

// DeviceLookup backs the page where a signed-in user types the user code.
func (h *AuthHandler) DeviceLookup(w http.ResponseWriter, r *http.Request) {
	row, err := h.authService.LookupDeviceCode(r.Context(), r.URL.Query().Get("user_code"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.DeviceLookupResponse{
		UserCode: row.UserCode,
		ClientID: row.ClientID,
		Scope:    row.Scope,
		Status:   row.Status,
	})
}

func (h *AuthHandler) DeviceApprove(w http.ResponseWriter, r *http.Request) {
	var req dto.DeviceDecisionRequest
	if !decodeJSON(w, r, &req, false) || !validate(w, req.Validate()) {
		return
	}

	if err := h.authService.ApproveDevice(r.Context(), principal(r).UserID, req.UserCode); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.StatusResponse{Status: true})
}

func (h *AuthHandler) DeviceDeny(w http.ResponseWriter, r *http.Request) {
	var req dto.DeviceDecisionRequest
	if !decodeJSON(w, r, &req, false) || !validate(w, req.Validate()) {
		return
	}

	if err := h.authService.DenyDevice(r.Context(), principal(r).UserID, req.UserCode); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.StatusResponse{Status: true})
}

func isFormRequest(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/x-www-form-urlencoded"
}

func parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return false
	}
	return true
}
