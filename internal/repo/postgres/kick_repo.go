package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/modgate/internal/domain/model"
	"github.com/ivankudzin/modgate/internal/pkg/txn"
)

var ErrKickNotFound = fmt.Errorf("kick record not found: %w", txn.ErrNotFound)

type KickRepo struct {
	db querier
}

func NewKickRepo(pool *pgxpool.Pool) *KickRepo {
	if pool == nil {
		return &KickRepo{}
	}
	return &KickRepo{db: pool}
}

func (r *KickRepo) WithTx(tx pgx.Tx) *KickRepo {
	return &KickRepo{db: tx}
}

func (r *KickRepo) Get(ctx context.Context, userID int64) (model.KickRecord, error) {
	if r.db == nil {
		return model.KickRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return model.KickRecord{}, fmt.Errorf("invalid user id")
	}

	var kick model.KickRecord
	err := r.db.QueryRow(ctx, `
SELECT user_id, reason, issued_by, issued_at, expires_at
FROM kicks
WHERE user_id = $1
`, userID).Scan(&kick.UserID, &kick.Reason, &kick.IssuedBy, &kick.IssuedAt, &kick.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.KickRecord{}, ErrKickNotFound
		}
		return model.KickRecord{}, fmt.Errorf("get kick: %w", err)
	}

	return kick, nil
}

// Upsert refreshes reason and expiry in place when the user is already
// kicked; one row per user by construction.
func (r *KickRepo) Upsert(ctx context.Context, kick model.KickRecord) error {
	if r.db == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if kick.UserID <= 0 || strings.TrimSpace(kick.Reason) == "" {
		return fmt.Errorf("invalid kick payload")
	}
	if !kick.ExpiresAt.After(kick.IssuedAt) {
		return fmt.Errorf("kick expiry must be after issue time")
	}

	if _, err := r.db.Exec(ctx, `
INSERT INTO kicks (user_id, reason, issued_by, issued_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE SET
	reason = EXCLUDED.reason,
	issued_by = EXCLUDED.issued_by,
	issued_at = EXCLUDED.issued_at,
	expires_at = EXCLUDED.expires_at
`, kick.UserID, strings.TrimSpace(kick.Reason), kick.IssuedBy, kick.IssuedAt, kick.ExpiresAt); err != nil {
		return fmt.Errorf("upsert kick: %w", txn.WrapConstraint(err))
	}

	return nil
}

func (r *KickRepo) Delete(ctx context.Context, userID int64) error {
	if r.db == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return fmt.Errorf("invalid user id")
	}

	if _, err := r.db.Exec(ctx, `DELETE FROM kicks WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete kick: %w", err)
	}

	return nil
}

func (r *KickRepo) ListExpired(ctx context.Context, now time.Time) ([]model.KickRecord, error) {
	if r.db == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := r.db.Query(ctx, `
SELECT user_id, reason, issued_by, issued_at, expires_at
FROM kicks
WHERE expires_at <= $1
`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired kicks: %w", err)
	}
	defer rows.Close()

	var kicks []model.KickRecord
	for rows.Next() {
		var kick model.KickRecord
		if err := rows.Scan(&kick.UserID, &kick.Reason, &kick.IssuedBy, &kick.IssuedAt, &kick.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan expired kick: %w", err)
		}
		kicks = append(kicks, kick)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired kicks: %w", err)
	}

	return kicks, nil
}
