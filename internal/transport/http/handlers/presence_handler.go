package handlers

import (
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	redrepo "github.com/ivankudzin/modgate/internal/repo/redis"
	presencesvc "github.com/ivankudzin/modgate/internal/services/presence"
	"github.com/ivankudzin/modgate/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/modgate/internal/transport/http/errors"
)

type PresenceHandler struct {
	service *presencesvc.Service
}

func NewPresenceHandler(service *presencesvc.Service) *PresenceHandler {
	return &PresenceHandler{service: service}
}

func (h *PresenceHandler) Online(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "PRESENCE_SERVICE_UNAVAILABLE", "presence service is unavailable")
		return
	}

	var req dto.PresenceOnlineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "malformed presence payload")
		return
	}

	meta := presencesvc.SessionMetadata{UserAgent: req.UserAgent, IP: clientIP(r)}
	if err := h.service.MarkOnline(r.Context(), req.UserID, meta); err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to register presence")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.OKResponse{OK: true})
}

func (h *PresenceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "PRESENCE_SERVICE_UNAVAILABLE", "presence service is unavailable")
		return
	}

	var req dto.PresenceUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "malformed heartbeat payload")
		return
	}

	if err := h.service.Heartbeat(r.Context(), req.UserID); err != nil {
		if errors.Is(err, presencesvc.ErrNotOnline) {
			// The session must re-establish itself with a fresh online call.
			httperrors.Write(w, http.StatusGone, httperrors.APIError{
				Code:    "NOT_ONLINE",
				Message: "no live presence for this user",
			})
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to refresh heartbeat")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.OKResponse{OK: true})
}

func (h *PresenceHandler) Offline(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "PRESENCE_SERVICE_UNAVAILABLE", "presence service is unavailable")
		return
	}

	var req dto.PresenceUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "malformed presence payload")
		return
	}

	if err := h.service.MarkOffline(r.Context(), req.UserID); err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to remove presence")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.OKResponse{OK: true})
}

func (h *PresenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "PRESENCE_SERVICE_UNAVAILABLE", "presence service is unavailable")
		return
	}

	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || userID <= 0 {
		writeBadRequest(w, "INVALID_REQUEST", "invalid user id")
		return
	}

	record, err := h.service.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, redrepo.ErrPresenceNotFound) {
			httperrors.Write(w, http.StatusOK, dto.PresenceResponse{UserID: userID, Online: false})
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to load presence")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.PresenceResponse{
		UserID:        record.UserID,
		Online:        record.Online,
		JoinedAt:      record.JoinedAt,
		LastHeartbeat: record.LastHeartbeat,
	})
}

func clientIP(r *http.Request) string {
	// RealIP middleware already rewrote RemoteAddr when forwarding headers
	// were present.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
