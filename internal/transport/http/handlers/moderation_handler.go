package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ivankudzin/modgate/internal/domain/enums"
	pgrepo "github.com/ivankudzin/modgate/internal/repo/postgres"
	authsvc "github.com/ivankudzin/modgate/internal/services/auth"
	modsvc "github.com/ivankudzin/modgate/internal/services/moderation"
	"github.com/ivankudzin/modgate/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/modgate/internal/transport/http/errors"
)

type ModerationHandler struct {
	service *modsvc.Service
}

func NewModerationHandler(service *modsvc.Service) *ModerationHandler {
	return &ModerationHandler{service: service}
}

func (h *ModerationHandler) Kick(w http.ResponseWriter, r *http.Request) {
	identity, userID, ok := h.adminAndTarget(w, r)
	if !ok {
		return
	}

	var req dto.KickRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "malformed kick payload")
		return
	}

	writeAction(w, h.service.Kick(r.Context(), userID, identity.AdminID, req.Reason))
}

func (h *ModerationHandler) Unkick(w http.ResponseWriter, r *http.Request) {
	identity, userID, ok := h.adminAndTarget(w, r)
	if !ok {
		return
	}

	writeAction(w, h.service.Unkick(r.Context(), userID, identity.AdminID))
}

func (h *ModerationHandler) Ban(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.admin(w, r)
	if !ok {
		return
	}

	var req dto.BanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "malformed ban payload")
		return
	}

	writeAction(w, h.service.Ban(r.Context(), enums.TargetKind(req.TargetKind), req.TargetID, identity.AdminID, req.Reason, req.DurationHours))
}

func (h *ModerationHandler) Unban(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.admin(w, r)
	if !ok {
		return
	}

	var req dto.UnbanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "malformed unban payload")
		return
	}

	writeAction(w, h.service.Unban(r.Context(), enums.TargetKind(req.TargetKind), req.TargetID, identity.AdminID))
}

func (h *ModerationHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	identity, userID, ok := h.adminAndTarget(w, r)
	if !ok {
		return
	}

	var req dto.RoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "malformed role payload")
		return
	}

	role := enums.Role(req.Role)
	if !role.Valid() {
		writeBadRequest(w, "INVALID_ROLE", "unknown role value")
		return
	}

	result := h.service.UpdateRole(r.Context(), userID, identity.AdminID, req.ExpectedVersion, role)
	if !result.Success {
		// A version conflict is the caller's problem to resolve, not a
		// server fault.
		httperrors.Write(w, http.StatusConflict, dto.ActionResponse{Success: false, Message: result.Message})
		return
	}
	httperrors.Write(w, http.StatusOK, dto.ActionResponse{Success: true})
}

func (h *ModerationHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "MODERATION_SERVICE_UNAVAILABLE", "moderation service is unavailable")
		return
	}

	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || userID <= 0 {
		writeBadRequest(w, "INVALID_REQUEST", "invalid user id")
		return
	}

	view, err := h.service.Status(r.Context(), userID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrUserNotFound) {
			writeNotFound(w, "USER_NOT_FOUND", "user does not exist")
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to load user status")
		return
	}

	resp := dto.StatusResponse{
		UserID:    view.UserID,
		Status:    string(view.Status),
		Online:    view.Online,
		FromCache: view.FromCache,
	}
	if view.Kick != nil {
		resp.Kick = &dto.KickView{Reason: view.Kick.Reason, ExpiresAt: view.Kick.ExpiresAt}
	}
	if view.Ban != nil {
		resp.Ban = &dto.BanView{Reason: view.Ban.Reason, ExpiresAt: view.Ban.ExpiresAt, Permanent: view.Ban.Permanent()}
	}

	httperrors.Write(w, http.StatusOK, resp)
}

func (h *ModerationHandler) admin(w http.ResponseWriter, r *http.Request) (authsvc.Identity, bool) {
	if h.service == nil {
		writeInternal(w, "MODERATION_SERVICE_UNAVAILABLE", "moderation service is unavailable")
		return authsvc.Identity{}, false
	}

	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return authsvc.Identity{}, false
	}
	return identity, true
}

func (h *ModerationHandler) adminAndTarget(w http.ResponseWriter, r *http.Request) (authsvc.Identity, int64, bool) {
	identity, ok := h.admin(w, r)
	if !ok {
		return authsvc.Identity{}, 0, false
	}

	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || userID <= 0 {
		writeBadRequest(w, "INVALID_REQUEST", "invalid user id")
		return authsvc.Identity{}, 0, false
	}
	return identity, userID, true
}

func writeAction(w http.ResponseWriter, result modsvc.ActionResult) {
	if !result.Success {
		httperrors.Write(w, http.StatusUnprocessableEntity, dto.ActionResponse{Success: false, Message: result.Message})
		return
	}
	httperrors.Write(w, http.StatusOK, dto.ActionResponse{Success: true})
}
