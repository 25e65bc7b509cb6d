package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/modgate/internal/domain/enums"
	"github.com/ivankudzin/modgate/internal/domain/model"
)

type AuditRepo struct {
	db querier
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	if pool == nil {
		return &AuditRepo{}
	}
	return &AuditRepo{db: pool}
}

// Append writes one audit entry. The log is append-only; nothing here
// updates or deletes rows.
func (r *AuditRepo) Append(ctx context.Context, entry model.AuditEntry) error {
	if r.db == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	details := entry.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}

	if _, err := r.db.Exec(ctx, `
INSERT INTO audit_log (admin_id, action, target_type, target_id, details, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`, entry.AdminID, string(entry.Action), entry.TargetType, entry.TargetID, string(details), entry.CreatedAt); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}

	return nil
}

func (r *AuditRepo) ListRecent(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	if r.db == nil {
		return []model.AuditEntry{}, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(ctx, `
SELECT id, admin_id, action, target_type, target_id, details, created_at
FROM audit_log
ORDER BY created_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent audit entries: %w", err)
	}
	defer rows.Close()

	result := make([]model.AuditEntry, 0, limit)
	for rows.Next() {
		var entry model.AuditEntry
		var action string
		var details []byte
		if err := rows.Scan(&entry.ID, &entry.AdminID, &action, &entry.TargetType, &entry.TargetID, &details, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		entry.Action = enums.AuditAction(action)
		entry.Details = json.RawMessage(details)
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}

	return result, nil
}
