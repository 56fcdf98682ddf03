package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hugh/go-orgs/internal/api/dto"
	"github.com/hugh/go-orgs/internal/api/middleware"
	"github.com/hugh/go-orgs/internal/apperr"
	"github.com/hugh/go-orgs/internal/auth"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads the request body into v. An empty body is accepted when
// optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}, optional bool) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
	return false
}

func validate(w http.ResponseWriter, errs map[string]string) bool {
	if len(errs) == 0 {
		return true
	}
	writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
	return false
}

// writeError maps service errors to a status and a client-safe message.
// Anything unrecognised is logged and reported as a 500.
func writeError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	var appErr *apperr.Error
	var apiErr *auth.APIError

	switch {
	case errors.As(err, &appErr):
		status := appErr.HTTPStatus()
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "kind", appErr.Kind.String(), "error", err)
		}
		writeJSON(w, status, dto.ErrorResponse{Error: appErr.Message})
	case errors.As(err, &apiErr):
		writeJSON(w, apiErr.StatusCode, dto.ErrorResponse{Error: apiErr.Message})
	default:
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Internal server error"})
	}
}

func principal(r *http.Request) auth.Principal {
	p, _ := middleware.GetPrincipal(r.Context())
	return p
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func sessionMeta(r *http.Request) auth.SessionMeta {
	return auth.SessionMeta{
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}
