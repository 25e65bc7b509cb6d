package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ivankudzin/modgate/internal/domain/model"
)

const (
	presencePrefix = "presence:"

	// Abandoned records are bounded by this TTL even if nothing ever
	// deletes them; every heartbeat pushes it forward.
	presenceMaxAge = 24 * time.Hour
)

var ErrPresenceNotFound = errors.New("presence record not found")

type PresenceRepo struct {
	client *goredis.Client
}

func NewPresenceRepo(client *goredis.Client) *PresenceRepo {
	return &PresenceRepo{client: client}
}

// Create overwrites any previous record for the user; a user has at most
// one presence record at a time.
func (r *PresenceRepo) Create(ctx context.Context, record model.PresenceRecord) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if record.UserID <= 0 {
		return fmt.Errorf("invalid user id")
	}

	key := presenceKey(record.UserID)
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]interface{}{
		"joined_at":      record.JoinedAt.Unix(),
		"last_heartbeat": record.LastHeartbeat.Unix(),
		"user_agent":     record.UserAgent,
		"ip":             record.IP,
	})
	pipe.Expire(ctx, key, presenceMaxAge)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create presence record: %w", err)
	}

	return nil
}

// Touch refreshes the heartbeat timestamp. Missing records are reported so
// the caller can re-register instead of resurrecting a deleted session.
func (r *PresenceRepo) Touch(ctx context.Context, userID int64, at time.Time) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if userID <= 0 {
		return fmt.Errorf("invalid user id")
	}

	key := presenceKey(userID)
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check presence record: %w", err)
	}
	if exists == 0 {
		return ErrPresenceNotFound
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, "last_heartbeat", at.Unix())
	pipe.Expire(ctx, key, presenceMaxAge)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("touch presence record: %w", err)
	}

	return nil
}

func (r *PresenceRepo) Get(ctx context.Context, userID int64) (model.PresenceRecord, error) {
	if r.client == nil {
		return model.PresenceRecord{}, fmt.Errorf("redis client is nil")
	}
	if userID <= 0 {
		return model.PresenceRecord{}, fmt.Errorf("invalid user id")
	}

	values, err := r.client.HGetAll(ctx, presenceKey(userID)).Result()
	if err != nil {
		return model.PresenceRecord{}, fmt.Errorf("get presence hash: %w", err)
	}
	if len(values) == 0 {
		return model.PresenceRecord{}, ErrPresenceNotFound
	}

	record, err := parsePresence(userID, values)
	if err != nil {
		return model.PresenceRecord{}, err
	}
	return record, nil
}

func (r *PresenceRepo) Delete(ctx context.Context, userID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if userID <= 0 {
		return nil
	}

	if err := r.client.Del(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete presence record: %w", err)
	}

	return nil
}

func parsePresence(userID int64, values map[string]string) (model.PresenceRecord, error) {
	joinedUnix, err := strconv.ParseInt(values["joined_at"], 10, 64)
	if err != nil {
		return model.PresenceRecord{}, fmt.Errorf("parse presence joined_at: %w", err)
	}
	heartbeatUnix, err := strconv.ParseInt(values["last_heartbeat"], 10, 64)
	if err != nil {
		return model.PresenceRecord{}, fmt.Errorf("parse presence last_heartbeat: %w", err)
	}

	return model.PresenceRecord{
		UserID:        userID,
		Online:        true,
		JoinedAt:      time.Unix(joinedUnix, 0).UTC(),
		LastHeartbeat: time.Unix(heartbeatUnix, 0).UTC(),
		UserAgent:     values["user_agent"],
		IP:            values["ip"],
	}, nil
}

func presenceKey(userID int64) string {
	return presencePrefix + strconv.FormatInt(userID, 10)
}
