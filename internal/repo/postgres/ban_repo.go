package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/modgate/internal/domain/enums"
	"github.com/ivankudzin/modgate/internal/domain/model"
	"github.com/ivankudzin/modgate/internal/pkg/txn"
)

var ErrBanNotFound = fmt.Errorf("ban record not found: %w", txn.ErrNotFound)

type BanRepo struct {
	db querier
}

func NewBanRepo(pool *pgxpool.Pool) *BanRepo {
	if pool == nil {
		return &BanRepo{}
	}
	return &BanRepo{db: pool}
}

func (r *BanRepo) WithTx(tx pgx.Tx) *BanRepo {
	return &BanRepo{db: tx}
}

func (r *BanRepo) GetActive(ctx context.Context, kind enums.TargetKind, targetID string) (model.BanRecord, error) {
	if r.db == nil {
		return model.BanRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(targetID) == "" {
		return model.BanRecord{}, fmt.Errorf("invalid ban target")
	}

	var ban model.BanRecord
	err := r.db.QueryRow(ctx, `
SELECT id, target_kind, target_id, reason, issued_by, issued_at, expires_at, active
FROM bans
WHERE target_kind = $1 AND target_id = $2 AND active = TRUE
`, string(kind), targetID).Scan(&ban.ID, &ban.TargetKind, &ban.TargetID, &ban.Reason, &ban.IssuedBy, &ban.IssuedAt, &ban.ExpiresAt, &ban.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.BanRecord{}, ErrBanNotFound
		}
		return model.BanRecord{}, fmt.Errorf("get active ban: %w", err)
	}

	return ban, nil
}

// Upsert keeps at most one active ban per target: re-banning refreshes
// reason and expiry on the existing active row instead of inserting a
// duplicate. The partial unique index on active rows backs this up.
func (r *BanRepo) Upsert(ctx context.Context, ban model.BanRecord) error {
	if r.db == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(ban.TargetID) == "" || strings.TrimSpace(ban.Reason) == "" {
		return fmt.Errorf("invalid ban payload")
	}

	if _, err := r.db.Exec(ctx, `
INSERT INTO bans (target_kind, target_id, reason, issued_by, issued_at, expires_at, active)
VALUES ($1, $2, $3, $4, $5, $6, TRUE)
ON CONFLICT (target_kind, target_id) WHERE active DO UPDATE SET
	reason = EXCLUDED.reason,
	issued_by = EXCLUDED.issued_by,
	issued_at = EXCLUDED.issued_at,
	expires_at = EXCLUDED.expires_at
`, string(ban.TargetKind), strings.TrimSpace(ban.TargetID), strings.TrimSpace(ban.Reason), ban.IssuedBy, ban.IssuedAt, ban.ExpiresAt); err != nil {
		return fmt.Errorf("upsert ban: %w", txn.WrapConstraint(err))
	}

	return nil
}

func (r *BanRepo) Deactivate(ctx context.Context, kind enums.TargetKind, targetID string) error {
	if r.db == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(targetID) == "" {
		return fmt.Errorf("invalid ban target")
	}

	if _, err := r.db.Exec(ctx, `
UPDATE bans
SET active = FALSE
WHERE target_kind = $1 AND target_id = $2 AND active = TRUE
`, string(kind), targetID); err != nil {
		return fmt.Errorf("deactivate ban: %w", err)
	}

	return nil
}

func (r *BanRepo) ListExpiredActive(ctx context.Context, now time.Time) ([]model.BanRecord, error) {
	if r.db == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := r.db.Query(ctx, `
SELECT id, target_kind, target_id, reason, issued_by, issued_at, expires_at, active
FROM bans
WHERE active = TRUE AND expires_at IS NOT NULL AND expires_at <= $1
`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired bans: %w", err)
	}
	defer rows.Close()

	var bans []model.BanRecord
	for rows.Next() {
		var ban model.BanRecord
		if err := rows.Scan(&ban.ID, &ban.TargetKind, &ban.TargetID, &ban.Reason, &ban.IssuedBy, &ban.IssuedAt, &ban.ExpiresAt, &ban.Active); err != nil {
			return nil, fmt.Errorf("scan expired ban: %w", err)
		}
		bans = append(bans, ban)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired bans: %w", err)
	}

	return bans, nil
}
