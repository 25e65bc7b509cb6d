package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	ChannelUserStatus = "user_status_updates"
	ChannelPresence   = "presence_updates"
	ChannelSettings   = "setting_changes"

	EventUserStatusChanged = "user_status_changed"
	EventPresenceChanged   = "presence_changed"
	EventUserKicked        = "user_kicked"
	EventSettingChanged    = "setting_changed"

	kickChannelPrefix = "user_kicked:"
)

// KickChannel names the per-user kick channel. The payload still carries
// target_user_id so subscribers on shared channels can filter.
func KickChannel(userID int64) string {
	return kickChannelPrefix + strconv.FormatInt(userID, 10)
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// PublishResult makes the best-effort nature of a broadcast explicit:
// storage is already the source of truth, so the error is logged by the
// service and callers ignore the result by convention.
type PublishResult struct {
	Err error
}

func (r PublishResult) Delivered() bool {
	return r.Err == nil
}

type Service struct {
	client *goredis.Client
	logger *zap.Logger
}

func NewService(client *goredis.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{client: client, logger: logger}
}

// Publish is fire-and-forget: failures are logged, never retried, and never
// block the action that triggered them.
func (s *Service) Publish(ctx context.Context, channel, eventType string, payload any) PublishResult {
	if s.client == nil {
		return PublishResult{Err: fmt.Errorf("redis client is nil")}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("broadcast payload marshal failed",
			zap.String("channel", channel),
			zap.String("event", eventType),
			zap.Error(err))
		return PublishResult{Err: err}
	}

	message, err := json.Marshal(envelope{Type: eventType, Payload: body})
	if err != nil {
		return PublishResult{Err: err}
	}

	if err := s.client.Publish(ctx, channel, message).Err(); err != nil {
		s.logger.Warn("broadcast publish failed",
			zap.String("channel", channel),
			zap.String("event", eventType),
			zap.Error(err))
		return PublishResult{Err: err}
	}

	return PublishResult{}
}

// Subscribe delivers matching events to the handler until the returned
// unsubscribe func is called or ctx is canceled. Delivery is at-most-once;
// handlers must filter by target identity themselves.
func (s *Service) Subscribe(ctx context.Context, channel, eventType string, handler func(json.RawMessage)) (func(), error) {
	if s.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is nil")
	}

	sub := s.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	go func() {
		for msg := range sub.Channel() {
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				s.logger.Warn("broadcast message decode failed",
					zap.String("channel", channel),
					zap.Error(err))
				continue
			}
			if env.Type != eventType {
				continue
			}
			handler(env.Payload)
		}
	}()

	return func() {
		_ = sub.Close()
	}, nil
}
