package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/modgate/internal/services/moderation"
)

// Atomic runs a moderation unit of work inside one Postgres transaction,
// rebinding the repositories to it so every write commits or rolls back
// together.
type Atomic struct {
	pool  *pgxpool.Pool
	users *UserRepo
	kicks *KickRepo
	bans  *BanRepo
}

func NewAtomic(pool *pgxpool.Pool, users *UserRepo, kicks *KickRepo, bans *BanRepo) *Atomic {
	return &Atomic{pool: pool, users: users, kicks: kicks, bans: bans}
}

func (a *Atomic) Run(ctx context.Context, fn func(moderation.Stores) error) error {
	if a.pool == nil || a.users == nil || a.kicks == nil || a.bans == nil {
		return fmt.Errorf("atomic runner is not configured")
	}

	return WithTx(ctx, a.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(moderation.Stores{
			Users: a.users.WithTx(tx),
			Kicks: a.kicks.WithTx(tx),
			Bans:  a.bans.WithTx(tx),
		})
	})
}
