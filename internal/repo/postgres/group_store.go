package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/modgate/internal/domain/enums"
	"github.com/ivankudzin/modgate/internal/domain/model"
)

// GroupStore executes a grouped transaction's operations inside a single
// database transaction, so a failing operation rolls back the whole group.
type GroupStore struct {
	pool  *pgxpool.Pool
	users *UserRepo
	kicks *KickRepo
	bans  *BanRepo
}

func NewGroupStore(pool *pgxpool.Pool, users *UserRepo, kicks *KickRepo, bans *BanRepo) *GroupStore {
	return &GroupStore{
		pool:  pool,
		users: users,
		kicks: kicks,
		bans:  bans,
	}
}

func (s *GroupStore) Apply(ctx context.Context, ops []model.TxOperation) error {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	return WithTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		for i, op := range ops {
			if err := s.applyOne(ctx, tx, op); err != nil {
				return fmt.Errorf("operation %d (%s %s): %w", i, op.Kind, op.Target, err)
			}
		}
		return nil
	})
}

func (s *GroupStore) applyOne(ctx context.Context, tx pgx.Tx, op model.TxOperation) error {
	switch op.Target + "/" + op.Kind {
	case "users/update_status":
		userID, version, err := idAndVersion(op)
		if err != nil {
			return err
		}
		status, _ := op.Payload["status"].(string)
		_, err = s.users.WithTx(tx).UpdateStatusVersioned(ctx, userID, version, enums.SessionStatus(status))
		return err

	case "users/update_role":
		userID, version, err := idAndVersion(op)
		if err != nil {
			return err
		}
		role, _ := op.Payload["role"].(string)
		_, err = s.users.WithTx(tx).UpdateRoleVersioned(ctx, userID, version, enums.Role(role))
		return err

	case "users/set_online":
		userID, err := payloadInt64(op.Payload, "user_id")
		if err != nil {
			return err
		}
		online, _ := op.Payload["online"].(bool)
		return s.users.WithTx(tx).SetOnline(ctx, userID, online)

	case "kicks/upsert":
		kick, err := kickFromPayload(op.Payload)
		if err != nil {
			return err
		}
		return s.kicks.WithTx(tx).Upsert(ctx, kick)

	case "kicks/delete":
		userID, err := payloadInt64(op.Payload, "user_id")
		if err != nil {
			return err
		}
		return s.kicks.WithTx(tx).Delete(ctx, userID)

	case "bans/upsert":
		ban, err := banFromPayload(op.Payload)
		if err != nil {
			return err
		}
		return s.bans.WithTx(tx).Upsert(ctx, ban)

	case "bans/deactivate":
		kind, _ := op.Payload["target_kind"].(string)
		targetID, _ := op.Payload["target_id"].(string)
		return s.bans.WithTx(tx).Deactivate(ctx, enums.TargetKind(kind), targetID)
	}

	return fmt.Errorf("unsupported operation")
}

func idAndVersion(op model.TxOperation) (int64, int64, error) {
	userID, err := payloadInt64(op.Payload, "user_id")
	if err != nil {
		return 0, 0, err
	}
	version, err := payloadInt64(op.Preconditions, "version")
	if err != nil {
		return 0, 0, err
	}
	return userID, version, nil
}

func payloadInt64(values map[string]any, key string) (int64, error) {
	switch v := values[key].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	}
	return 0, fmt.Errorf("missing or invalid %s", key)
}

func kickFromPayload(payload map[string]any) (model.KickRecord, error) {
	userID, err := payloadInt64(payload, "user_id")
	if err != nil {
		return model.KickRecord{}, err
	}
	issuedBy, err := payloadInt64(payload, "issued_by")
	if err != nil {
		return model.KickRecord{}, err
	}

	reason, _ := payload["reason"].(string)
	issuedAt, _ := payload["issued_at"].(time.Time)
	expiresAt, _ := payload["expires_at"].(time.Time)

	return model.KickRecord{
		UserID:    userID,
		Reason:    reason,
		IssuedBy:  issuedBy,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

func banFromPayload(payload map[string]any) (model.BanRecord, error) {
	issuedBy, err := payloadInt64(payload, "issued_by")
	if err != nil {
		return model.BanRecord{}, err
	}

	kind, _ := payload["target_kind"].(string)
	targetID, _ := payload["target_id"].(string)
	reason, _ := payload["reason"].(string)
	issuedAt, _ := payload["issued_at"].(time.Time)

	var expiresAt *time.Time
	if v, ok := payload["expires_at"].(time.Time); ok {
		expiresAt = &v
	}

	return model.BanRecord{
		TargetKind: enums.TargetKind(kind),
		TargetID:   targetID,
		Reason:     reason,
		IssuedBy:   issuedBy,
		IssuedAt:   issuedAt,
		ExpiresAt:  expiresAt,
		Active:     true,
	}, nil
}
