package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/modgate/internal/domain/enums"
	"github.com/ivankudzin/modgate/internal/domain/model"
	"github.com/ivankudzin/modgate/internal/pkg/txn"
)

var ErrUserNotFound = fmt.Errorf("user not found: %w", txn.ErrNotFound)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type UserRepo struct {
	db querier
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	if pool == nil {
		return &UserRepo{}
	}
	return &UserRepo{db: pool}
}

// WithTx returns a copy bound to the transaction so user writes can compose
// with kick/ban writes atomically.
func (r *UserRepo) WithTx(tx pgx.Tx) *UserRepo {
	return &UserRepo{db: tx}
}

func (r *UserRepo) Get(ctx context.Context, userID int64) (model.User, error) {
	if r.db == nil {
		return model.User{}, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return model.User{}, fmt.Errorf("invalid user id")
	}

	var user model.User
	err := r.db.QueryRow(ctx, `
SELECT id, username, role, status, online, version, created_at, updated_at
FROM users
WHERE id = $1
`, userID).Scan(&user.ID, &user.Username, &user.Role, &user.Status, &user.Online, &user.Version, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, ErrUserNotFound
		}
		return model.User{}, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

// UpdateStatusVersioned is the optimistic-locked status write: the update
// lands only if the caller's version is still current, and the version
// advances by exactly one in the same conditional statement. A stale
// version yields txn.ErrLockConflict and leaves the row untouched.
func (r *UserRepo) UpdateStatusVersioned(ctx context.Context, userID, expectVersion int64, status enums.SessionStatus) (int64, error) {
	return r.versionedUpdate(ctx, userID, expectVersion, `
UPDATE users
SET status = $3, version = version + 1, updated_at = NOW()
WHERE id = $1 AND version = $2
RETURNING version
`, string(status))
}

func (r *UserRepo) UpdateRoleVersioned(ctx context.Context, userID, expectVersion int64, role enums.Role) (int64, error) {
	return r.versionedUpdate(ctx, userID, expectVersion, `
UPDATE users
SET role = $3, version = version + 1, updated_at = NOW()
WHERE id = $1 AND version = $2
RETURNING version
`, string(role))
}

func (r *UserRepo) versionedUpdate(ctx context.Context, userID, expectVersion int64, sql string, value string) (int64, error) {
	if r.db == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return 0, fmt.Errorf("invalid user id")
	}

	var newVersion int64
	err := r.db.QueryRow(ctx, sql, userID, expectVersion, value).Scan(&newVersion)
	if err == nil {
		return newVersion, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("versioned user update: %w", txn.WrapConstraint(err))
	}

	// No row matched: either the user is gone or the version is stale.
	var exists bool
	if checkErr := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); checkErr != nil {
		return 0, fmt.Errorf("check user existence: %w", checkErr)
	}
	if !exists {
		return 0, ErrUserNotFound
	}
	return 0, txn.ErrLockConflict
}

// SetOnline flips the online flag. The presence service is the only caller;
// everything else treats the flag as read-only.
func (r *UserRepo) SetOnline(ctx context.Context, userID int64, online bool) error {
	if r.db == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return fmt.Errorf("invalid user id")
	}

	tag, err := r.db.Exec(ctx, `
UPDATE users
SET online = $2, updated_at = NOW()
WHERE id = $1
`, userID, online)
	if err != nil {
		return fmt.Errorf("set user online flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

func (r *UserRepo) ListOnline(ctx context.Context) ([]model.User, error) {
	if r.db == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := r.db.Query(ctx, `
SELECT id, username, role, status, online, version, created_at, updated_at
FROM users
WHERE online = TRUE
`)
	if err != nil {
		return nil, fmt.Errorf("list online users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var user model.User
		if err := rows.Scan(&user.ID, &user.Username, &user.Role, &user.Status, &user.Online, &user.Version, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan online user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate online users: %w", err)
	}

	return users, nil
}

// Stats is the aggregate snapshot behind the admin dashboard read.
func (r *UserRepo) Stats(ctx context.Context) (model.UserStats, error) {
	if r.db == nil {
		return model.UserStats{}, fmt.Errorf("postgres pool is nil")
	}

	var stats model.UserStats
	err := r.db.QueryRow(ctx, `
SELECT
	(SELECT COUNT(*) FROM users),
	(SELECT COUNT(*) FROM users WHERE online = TRUE),
	(SELECT COUNT(*) FROM users WHERE status = 'kicked'),
	(SELECT COUNT(*) FROM bans WHERE active = TRUE)
`).Scan(&stats.TotalUsers, &stats.OnlineUsers, &stats.KickedUsers, &stats.ActiveBans)
	if err != nil {
		return model.UserStats{}, fmt.Errorf("load user stats: %w", err)
	}

	return stats, nil
}

// DeleteOfflineStandardBefore removes standard accounts that have been
// offline since before the cutoff. Privileged accounts are never deleted.
func (r *UserRepo) DeleteOfflineStandardBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if r.db == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.db.Exec(ctx, `
DELETE FROM users
WHERE role = $1 AND online = FALSE AND updated_at < $2
`, string(enums.RoleStandard), cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete offline standard users: %w", err)
	}

	return tag.RowsAffected(), nil
}
