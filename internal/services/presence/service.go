package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/modgate/internal/domain/model"
	redrepo "github.com/ivankudzin/modgate/internal/repo/redis"
	"github.com/ivankudzin/modgate/internal/services/broadcast"
)

var ErrNotOnline = errors.New("user has no live presence")

type PresenceStore interface {
	Create(ctx context.Context, record model.PresenceRecord) error
	Touch(ctx context.Context, userID int64, at time.Time) error
	Get(ctx context.Context, userID int64) (model.PresenceRecord, error)
	Delete(ctx context.Context, userID int64) error
}

// OnlineFlagStore is the user-row side of presence. This service is the
// only writer of the online flag; every other component reads it.
type OnlineFlagStore interface {
	SetOnline(ctx context.Context, userID int64, online bool) error
}

type Broadcaster interface {
	Publish(ctx context.Context, channel, eventType string, payload any) broadcast.PublishResult
}

type SessionMetadata struct {
	UserAgent string
	IP        string
}

type Service struct {
	presence          PresenceStore
	users             OnlineFlagStore
	broadcaster       Broadcaster
	heartbeatInterval time.Duration
	now               func() time.Time
	logger            *zap.Logger
}

func NewService(presence PresenceStore, users OnlineFlagStore, broadcaster Broadcaster, heartbeatInterval time.Duration, logger *zap.Logger) *Service {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		presence:          presence,
		users:             users,
		broadcaster:       broadcaster,
		heartbeatInterval: heartbeatInterval,
		now:               time.Now,
		logger:            logger,
	}
}

// MarkOnline creates or overwrites the presence record and flips the user
// row online.
func (s *Service) MarkOnline(ctx context.Context, userID int64, meta SessionMetadata) error {
	if userID <= 0 {
		return fmt.Errorf("invalid user id")
	}
	if s.presence == nil || s.users == nil {
		return fmt.Errorf("presence service dependencies are not configured")
	}

	now := s.now().UTC()
	record := model.PresenceRecord{
		UserID:        userID,
		Online:        true,
		JoinedAt:      now,
		LastHeartbeat: now,
		UserAgent:     meta.UserAgent,
		IP:            meta.IP,
	}

	if err := s.presence.Create(ctx, record); err != nil {
		return fmt.Errorf("register presence: %w", err)
	}
	if err := s.users.SetOnline(ctx, userID, true); err != nil {
		return fmt.Errorf("set online flag: %w", err)
	}

	s.publishPresence(ctx, userID, true)
	return nil
}

// Heartbeat refreshes the liveness timestamp. Staleness is judged only by
// the cleanup scheduler, never here: a session cannot certify its own
// liveness past the central threshold.
func (s *Service) Heartbeat(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return fmt.Errorf("invalid user id")
	}
	if s.presence == nil {
		return fmt.Errorf("presence service dependencies are not configured")
	}

	if err := s.presence.Touch(ctx, userID, s.now().UTC()); err != nil {
		if errors.Is(err, redrepo.ErrPresenceNotFound) {
			return ErrNotOnline
		}
		return fmt.Errorf("refresh heartbeat: %w", err)
	}

	return nil
}

// MarkOffline deletes the presence record (not just flags it) and clears
// the online flag.
func (s *Service) MarkOffline(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return fmt.Errorf("invalid user id")
	}
	if s.presence == nil || s.users == nil {
		return fmt.Errorf("presence service dependencies are not configured")
	}

	if err := s.presence.Delete(ctx, userID); err != nil {
		return fmt.Errorf("remove presence: %w", err)
	}
	if err := s.users.SetOnline(ctx, userID, false); err != nil {
		return fmt.Errorf("clear online flag: %w", err)
	}

	s.publishPresence(ctx, userID, false)
	return nil
}

func (s *Service) Get(ctx context.Context, userID int64) (model.PresenceRecord, error) {
	if s.presence == nil {
		return model.PresenceRecord{}, fmt.Errorf("presence service dependencies are not configured")
	}
	return s.presence.Get(ctx, userID)
}

// StartHeartbeat runs the heartbeat loop for a live session. Write failures
// are logged and retried on the next tick; they never reach the caller.
// The returned stop func ends the loop; ctx cancellation does too.
func (s *Service) StartHeartbeat(ctx context.Context, userID int64) func() {
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(s.heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if err := s.Heartbeat(ctx, userID); err != nil {
					if errors.Is(err, ErrNotOnline) {
						return
					}
					s.logger.Warn("heartbeat write failed, will retry next tick",
						zap.Int64("user_id", userID),
						zap.Error(err))
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

func (s *Service) publishPresence(ctx context.Context, userID int64, online bool) {
	if s.broadcaster == nil {
		return
	}
	// Result deliberately dropped: the broadcast is a latency optimization,
	// the store already holds the truth.
	_ = s.broadcaster.Publish(ctx, broadcast.ChannelPresence, broadcast.EventPresenceChanged, map[string]any{
		"user_id": userID,
		"online":  online,
	})
}
