package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ivankudzin/modgate/internal/domain/model"
	"github.com/ivankudzin/modgate/internal/jobs/cleanup"
	"github.com/ivankudzin/modgate/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/modgate/internal/transport/http/errors"
)

type AuditLister interface {
	ListRecent(ctx context.Context, limit int) ([]model.AuditEntry, error)
}

type CleanupRunner interface {
	Run(ctx context.Context) cleanup.Report
}

type StatsReader interface {
	Stats(ctx context.Context) (model.UserStats, error)
}

type AdminHandler struct {
	audit   AuditLister
	cleanup CleanupRunner
	stats   StatsReader
}

func NewAdminHandler(audit AuditLister, cleanupJob CleanupRunner, stats StatsReader) *AdminHandler {
	return &AdminHandler{audit: audit, cleanup: cleanupJob, stats: stats}
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeInternal(w, "STATS_UNAVAILABLE", "stats are unavailable")
		return
	}

	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to load user stats")
		return
	}

	httperrors.Write(w, http.StatusOK, stats)
}

func (h *AdminHandler) AuditList(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeInternal(w, "AUDIT_UNAVAILABLE", "audit log is unavailable")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.audit.ListRecent(r.Context(), limit)
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to load audit log")
		return
	}

	views := make([]dto.AuditEntryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, dto.AuditEntryView{
			ID:         entry.ID,
			AdminID:    entry.AdminID,
			Action:     string(entry.Action),
			TargetType: entry.TargetType,
			TargetID:   entry.TargetID,
			Details:    entry.Details,
			CreatedAt:  entry.CreatedAt,
		})
	}

	httperrors.Write(w, http.StatusOK, dto.AuditListResponse{Entries: views})
}

// Cleanup forces a full sweep outside the schedule.
func (h *AdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	if h.cleanup == nil {
		writeInternal(w, "CLEANUP_UNAVAILABLE", "cleanup job is unavailable")
		return
	}

	report := h.cleanup.Run(r.Context())
	httperrors.Write(w, http.StatusOK, dto.CleanupResponse{
		ExpiredKicks:   report.ExpiredKicks,
		ExpiredBans:    report.ExpiredBans,
		GhostsResolved: report.GhostsResolved,
		UsersPurged:    report.UsersPurged,
		RecordsSwept:   report.RecordsSwept,
	})
}
