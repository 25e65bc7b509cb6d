package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ivankudzin/modgate/internal/pkg/txn"
	authsvc "github.com/ivankudzin/modgate/internal/services/auth"
	"github.com/ivankudzin/modgate/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/modgate/internal/transport/http/errors"
)

type AuthHandler struct {
	service *authsvc.Service
}

func NewAuthHandler(service *authsvc.Service) *AuthHandler {
	return &AuthHandler{service: service}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "AUTH_SERVICE_UNAVAILABLE", "auth service is unavailable")
		return
	}

	var req dto.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "malformed login payload")
		return
	}

	token, err := h.service.Login(r.Context(), req.AdminID, req.Secret)
	if err != nil {
		if errors.Is(err, txn.ErrPermissionDenied) {
			writeUnauthorized(w, "UNAUTHORIZED", "admin secret rejected")
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to issue admin token")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.LoginResponse{Token: token})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "AUTH_SERVICE_UNAVAILABLE", "auth service is unavailable")
		return
	}

	token, ok := ExtractBearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "missing bearer token")
		return
	}

	if err := h.service.Logout(r.Context(), token); err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to revoke admin session")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.LogoutResponse{OK: true})
}

func ExtractBearerToken(value string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(value), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return parts[1], true
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeBadRequest(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusBadRequest, httperrors.APIError{Code: code, Message: message})
}

func writeUnauthorized(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{Code: code, Message: message})
}

func writeNotFound(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusNotFound, httperrors.APIError{Code: code, Message: message})
}

func writeInternal(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusInternalServerError, httperrors.APIError{Code: code, Message: message})
}
