package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const sessionPrefix = "admin_session:"

var ErrSessionNotFound = errors.New("admin session not found")

// SessionRepo stores admin sessions keyed by token ID with a hard TTL;
// revocation is a plain delete.
type SessionRepo struct {
	client *goredis.Client
}

func NewSessionRepo(client *goredis.Client) *SessionRepo {
	return &SessionRepo{client: client}
}

func sessionKey(tokenID string) string {
	return sessionPrefix + tokenID
}

func (r *SessionRepo) Put(ctx context.Context, tokenID string, adminID int64, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if tokenID == "" || adminID <= 0 || ttl <= 0 {
		return fmt.Errorf("invalid session parameters")
	}

	if err := r.client.Set(ctx, sessionKey(tokenID), adminID, ttl).Err(); err != nil {
		return fmt.Errorf("store admin session: %w", err)
	}
	return nil
}

func (r *SessionRepo) Get(ctx context.Context, tokenID string) (int64, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}

	value, err := r.client.Get(ctx, sessionKey(tokenID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, ErrSessionNotFound
		}
		return 0, fmt.Errorf("get admin session: %w", err)
	}

	adminID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse admin session value: %w", err)
	}
	return adminID, nil
}

func (r *SessionRepo) Delete(ctx context.Context, tokenID string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	if err := r.client.Del(ctx, sessionKey(tokenID)).Err(); err != nil {
		return fmt.Errorf("delete admin session: %w", err)
	}
	return nil
}
