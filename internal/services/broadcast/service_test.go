package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestPublishReachesMatchingSubscriber(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	svc := NewService(client, nil)
	ctx := context.Background()

	received := make(chan json.RawMessage, 1)
	unsubscribe, err := svc.Subscribe(ctx, ChannelUserStatus, EventUserStatusChanged, func(payload json.RawMessage) {
		received <- payload
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	result := svc.Publish(ctx, ChannelUserStatus, EventUserStatusChanged, map[string]any{
		"user_id": 7,
		"status":  "kicked",
	})
	if !result.Delivered() {
		t.Fatalf("publish: %v", result.Err)
	}

	select {
	case payload := <-received:
		var decoded struct {
			UserID int64  `json:"user_id"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal(payload, &decoded); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if decoded.UserID != 7 || decoded.Status != "kicked" {
			t.Fatalf("unexpected payload: %+v", decoded)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("subscriber never received the event")
	}
}

func TestSubscriberIgnoresOtherEventTypes(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	svc := NewService(client, nil)
	ctx := context.Background()

	received := make(chan json.RawMessage, 1)
	unsubscribe, err := svc.Subscribe(ctx, ChannelSettings, EventSettingChanged, func(payload json.RawMessage) {
		received <- payload
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	if result := svc.Publish(ctx, ChannelSettings, EventUserStatusChanged, map[string]any{"noise": true}); !result.Delivered() {
		t.Fatalf("publish: %v", result.Err)
	}

	select {
	case <-received:
		t.Fatalf("handler must not receive events of other types")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestPublishFailureIsReportedNotThrown(t *testing.T) {
	svc := NewService(nil, nil)

	result := svc.Publish(context.Background(), ChannelPresence, EventPresenceChanged, map[string]any{"user_id": 1})
	if result.Delivered() {
		t.Fatalf("expected failed publish result with nil client")
	}
}

func TestKickChannelIsPerUser(t *testing.T) {
	if KickChannel(42) == KickChannel(43) {
		t.Fatalf("kick channels must be scoped per user")
	}
}

func newMiniRedisClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return mr, client
}
