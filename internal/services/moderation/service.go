package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/modgate/internal/domain/enums"
	"github.com/ivankudzin/modgate/internal/domain/model"
	"github.com/ivankudzin/modgate/internal/pkg/statuscache"
	"github.com/ivankudzin/modgate/internal/pkg/txn"
	"github.com/ivankudzin/modgate/internal/services/broadcast"
)

const lockConflictAttempts = 3

var errBannedTarget = errors.New("user is banned")

type UserStore interface {
	Get(ctx context.Context, userID int64) (model.User, error)
	UpdateStatusVersioned(ctx context.Context, userID, expectVersion int64, status enums.SessionStatus) (int64, error)
	UpdateRoleVersioned(ctx context.Context, userID, expectVersion int64, role enums.Role) (int64, error)
}

type KickStore interface {
	Get(ctx context.Context, userID int64) (model.KickRecord, error)
	Upsert(ctx context.Context, kick model.KickRecord) error
	Delete(ctx context.Context, userID int64) error
}

type BanStore interface {
	GetActive(ctx context.Context, kind enums.TargetKind, targetID string) (model.BanRecord, error)
	Upsert(ctx context.Context, ban model.BanRecord) error
	Deactivate(ctx context.Context, kind enums.TargetKind, targetID string) error
}

type AuditStore interface {
	Append(ctx context.Context, entry model.AuditEntry) error
}

// Offliner tears down the affected user's presence. The presence service
// stays the single writer of the online flag.
type Offliner interface {
	MarkOffline(ctx context.Context, userID int64) error
}

type Broadcaster interface {
	Publish(ctx context.Context, channel, eventType string, payload any) broadcast.PublishResult
}

// Stores bundles the writable repositories as seen inside one atomic unit.
type Stores struct {
	Users UserStore
	Kicks KickStore
	Bans  BanStore
}

// Atomic runs fn so that either every write in it lands or none does.
type Atomic interface {
	Run(ctx context.Context, fn func(Stores) error) error
}

// ActionResult is the structured outcome every admin action returns;
// failures surface as a renderable message, never as a panic across the
// component boundary.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type StatusView struct {
	UserID    int64               `json:"user_id"`
	Status    enums.SessionStatus `json:"status"`
	Online    bool                `json:"online"`
	Kick      *model.KickRecord   `json:"kick,omitempty"`
	Ban       *model.BanRecord    `json:"ban,omitempty"`
	FromCache bool                `json:"from_cache,omitempty"`
}

type Config struct {
	KickTTL     time.Duration
	MaxBanHours int
	Retry       txn.RetryPolicy
}

type Service struct {
	atomic      Atomic
	stores      Stores
	audit       AuditStore
	presence    Offliner
	broadcaster Broadcaster
	cache       *statuscache.Cache
	cfg         Config
	now         func() time.Time
	logger      *zap.Logger
}

func NewService(atomic Atomic, stores Stores, audit AuditStore, presence Offliner, broadcaster Broadcaster, cache *statuscache.Cache, cfg Config, logger *zap.Logger) *Service {
	if cfg.KickTTL <= 0 {
		cfg.KickTTL = 24 * time.Hour
	}
	if cfg.MaxBanHours <= 0 {
		cfg.MaxBanHours = 8760
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.BaseDelay == 0 {
		cfg.Retry = txn.DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		atomic:      atomic,
		stores:      stores,
		audit:       audit,
		presence:    presence,
		broadcaster: broadcaster,
		cache:       cache,
		cfg:         cfg,
		now:         time.Now,
		logger:      logger,
	}
}

// Kick puts the user into the kicked state for the configured TTL.
// Re-kicking an already-kicked user refreshes reason and expiry in place.
func (s *Service) Kick(ctx context.Context, userID, adminID int64, reason string) ActionResult {
	if err := txn.ValidatePayload(txn.KickPayload{UserID: userID, AdminID: adminID, Reason: reason}); err != nil {
		return failure(err)
	}
	if s.atomic == nil {
		return ActionResult{Message: "moderation service is not configured"}
	}

	now := s.now().UTC()
	kick := model.KickRecord{
		UserID:    userID,
		Reason:    reason,
		IssuedBy:  adminID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.KickTTL),
	}

	err := s.withLockRetry(ctx, func(ctx context.Context) error {
		return s.atomic.Run(ctx, func(st Stores) error {
			user, err := st.Users.Get(ctx, userID)
			if err != nil {
				return err
			}
			if user.Status == enums.SessionStatusBanned {
				return errBannedTarget
			}

			if err := st.Kicks.Upsert(ctx, kick); err != nil {
				return err
			}
			if user.Status != enums.SessionStatusKicked {
				if _, err := st.Users.UpdateStatusVersioned(ctx, user.ID, user.Version, enums.SessionStatusKicked); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return failure(err)
	}

	s.cacheStatus(userID, enums.SessionStatusKicked)
	s.forceOffline(ctx, userID)
	s.appendAudit(ctx, adminID, enums.AuditActionKick, "user", strconv.FormatInt(userID, 10), map[string]any{
		"reason":     reason,
		"expires_at": kick.ExpiresAt,
	})
	s.publishStatus(ctx, userID, enums.SessionStatusKicked)
	if s.broadcaster != nil {
		_ = s.broadcaster.Publish(ctx, broadcast.KickChannel(userID), broadcast.EventUserKicked, map[string]any{
			"target_user_id": userID,
			"reason":         reason,
		})
	}

	return ActionResult{Success: true}
}

// Ban bans a user or an IP. A nil duration means permanent; a second ban
// for an already-banned target refreshes the existing active record.
// Banning a kicked user collapses the kick.
func (s *Service) Ban(ctx context.Context, kind enums.TargetKind, targetID string, adminID int64, reason string, durationHours *int) ActionResult {
	if err := txn.ValidatePayload(txn.BanPayload{
		TargetKind:    string(kind),
		TargetID:      targetID,
		AdminID:       adminID,
		Reason:        reason,
		DurationHours: durationHours,
	}); err != nil {
		return failure(err)
	}
	if s.atomic == nil {
		return ActionResult{Message: "moderation service is not configured"}
	}

	now := s.now().UTC()
	var expiresAt *time.Time
	if durationHours != nil {
		t := now.Add(time.Duration(*durationHours) * time.Hour)
		expiresAt = &t
	}

	ban := model.BanRecord{
		TargetKind: kind,
		TargetID:   targetID,
		Reason:     reason,
		IssuedBy:   adminID,
		IssuedAt:   now,
		ExpiresAt:  expiresAt,
		Active:     true,
	}

	var bannedUserID int64
	err := s.withLockRetry(ctx, func(ctx context.Context) error {
		bannedUserID = 0
		return s.atomic.Run(ctx, func(st Stores) error {
			if kind != enums.TargetKindUser {
				return st.Bans.Upsert(ctx, ban)
			}

			userID, err := strconv.ParseInt(targetID, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user target id: %w", err)
			}
			user, err := st.Users.Get(ctx, userID)
			if err != nil {
				return err
			}

			// Ban supersedes kick: the kick record goes away with it.
			if err := st.Kicks.Delete(ctx, userID); err != nil {
				return err
			}
			if err := st.Bans.Upsert(ctx, ban); err != nil {
				return err
			}
			if user.Status != enums.SessionStatusBanned {
				if _, err := st.Users.UpdateStatusVersioned(ctx, user.ID, user.Version, enums.SessionStatusBanned); err != nil {
					return err
				}
			}
			bannedUserID = userID
			return nil
		})
	})
	if err != nil {
		return failure(err)
	}

	if bannedUserID > 0 {
		s.cacheStatus(bannedUserID, enums.SessionStatusBanned)
		s.forceOffline(ctx, bannedUserID)
		s.publishStatus(ctx, bannedUserID, enums.SessionStatusBanned)
	}
	s.appendAudit(ctx, adminID, enums.AuditActionBan, string(kind), targetID, map[string]any{
		"reason":    reason,
		"permanent": expiresAt == nil,
	})

	return ActionResult{Success: true}
}

// Unkick removes the kick record. Status reverts to active only when no
// other restriction remains; for a banned user this only clears a stray
// kick record.
func (s *Service) Unkick(ctx context.Context, userID, adminID int64) ActionResult {
	if userID <= 0 || adminID <= 0 {
		return ActionResult{Message: "invalid user or admin id"}
	}
	if s.atomic == nil {
		return ActionResult{Message: "moderation service is not configured"}
	}

	var reverted bool
	err := s.withLockRetry(ctx, func(ctx context.Context) error {
		reverted = false
		return s.atomic.Run(ctx, func(st Stores) error {
			user, err := st.Users.Get(ctx, userID)
			if err != nil {
				return err
			}
			if err := st.Kicks.Delete(ctx, userID); err != nil {
				return err
			}
			if user.Status == enums.SessionStatusKicked {
				if _, err := st.Users.UpdateStatusVersioned(ctx, user.ID, user.Version, enums.SessionStatusActive); err != nil {
					return err
				}
				reverted = true
			}
			return nil
		})
	})
	if err != nil {
		return failure(err)
	}

	if reverted {
		s.cacheStatus(userID, enums.SessionStatusActive)
		s.publishStatus(ctx, userID, enums.SessionStatusActive)
	}
	s.appendAudit(ctx, adminID, enums.AuditActionUnkick, "user", strconv.FormatInt(userID, 10), nil)

	return ActionResult{Success: true}
}

// Unban deactivates the active ban. A still-valid kick keeps the user in
// the kicked state; otherwise the user returns to active.
func (s *Service) Unban(ctx context.Context, kind enums.TargetKind, targetID string, adminID int64) ActionResult {
	if targetID == "" || adminID <= 0 {
		return ActionResult{Message: "invalid ban target or admin id"}
	}
	if s.atomic == nil {
		return ActionResult{Message: "moderation service is not configured"}
	}

	now := s.now().UTC()
	var revertedTo enums.SessionStatus
	var revertedUserID int64

	err := s.withLockRetry(ctx, func(ctx context.Context) error {
		revertedUserID = 0
		return s.atomic.Run(ctx, func(st Stores) error {
			if err := st.Bans.Deactivate(ctx, kind, targetID); err != nil {
				return err
			}
			if kind != enums.TargetKindUser {
				return nil
			}

			userID, err := strconv.ParseInt(targetID, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user target id: %w", err)
			}
			user, err := st.Users.Get(ctx, userID)
			if err != nil {
				return err
			}
			if user.Status != enums.SessionStatusBanned {
				return nil
			}

			next := enums.SessionStatusActive
			kick, kickErr := st.Kicks.Get(ctx, userID)
			if kickErr != nil && !errors.Is(kickErr, txn.ErrNotFound) {
				return kickErr
			}
			if kickErr == nil && !kick.Expired(now) {
				next = enums.SessionStatusKicked
			}
			if _, err := st.Users.UpdateStatusVersioned(ctx, user.ID, user.Version, next); err != nil {
				return err
			}
			revertedTo = next
			revertedUserID = userID
			return nil
		})
	})
	if err != nil {
		return failure(err)
	}

	if revertedUserID > 0 {
		s.cacheStatus(revertedUserID, revertedTo)
		s.publishStatus(ctx, revertedUserID, revertedTo)
	}
	s.appendAudit(ctx, adminID, enums.AuditActionUnban, string(kind), targetID, nil)

	return ActionResult{Success: true}
}

// UpdateRole is the versioned role write. A stale version surfaces the
// lock conflict to the caller unchanged; the caller re-reads and decides.
func (s *Service) UpdateRole(ctx context.Context, userID, adminID, expectVersion int64, role enums.Role) ActionResult {
	if userID <= 0 || adminID <= 0 {
		return ActionResult{Message: "invalid user or admin id"}
	}
	if s.stores.Users == nil {
		return ActionResult{Message: "moderation service is not configured"}
	}

	if _, err := s.stores.Users.UpdateRoleVersioned(ctx, userID, expectVersion, role); err != nil {
		return failure(err)
	}

	s.appendAudit(ctx, adminID, enums.AuditActionRole, "user", strconv.FormatInt(userID, 10), map[string]any{
		"role": string(role),
	})

	return ActionResult{Success: true}
}

// Status reads the user's effective state with lazy expiry: an expired
// kick or ban reads as absent and its removal is triggered on the spot.
func (s *Service) Status(ctx context.Context, userID int64) (StatusView, error) {
	if userID <= 0 {
		return StatusView{}, fmt.Errorf("invalid user id")
	}
	if s.stores.Users == nil {
		return StatusView{}, fmt.Errorf("moderation service is not configured")
	}

	user, err := s.stores.Users.Get(ctx, userID)
	if err != nil {
		if cached, ok := s.cachedStatus(userID); ok && txn.Classify(err) == txn.KindTransient {
			return StatusView{UserID: userID, Status: cached, FromCache: true}, nil
		}
		return StatusView{}, err
	}

	view := StatusView{UserID: userID, Status: user.Status, Online: user.Online}
	now := s.now().UTC()

	switch user.Status {
	case enums.SessionStatusKicked:
		kick, kickErr := s.stores.Kicks.Get(ctx, userID)
		switch {
		case kickErr == nil && !kick.Expired(now):
			view.Kick = &kick
			return view, nil
		case kickErr == nil || errors.Is(kickErr, txn.ErrNotFound):
			// Expired, or the status row outlived its record. Only proven
			// absence collapses the kick; a failed read must not.
			s.expireKick(ctx, user)
			view.Status = enums.SessionStatusActive
		default:
			return StatusView{}, fmt.Errorf("read kick record: %w", kickErr)
		}

	case enums.SessionStatusBanned:
		ban, banErr := s.stores.Bans.GetActive(ctx, enums.TargetKindUser, strconv.FormatInt(userID, 10))
		switch {
		case banErr == nil && !ban.Expired(now):
			view.Ban = &ban
			return view, nil
		case banErr == nil || errors.Is(banErr, txn.ErrNotFound):
			s.expireBan(ctx, user, ban)
			view.Status = enums.SessionStatusActive
		default:
			return StatusView{}, fmt.Errorf("read ban record: %w", banErr)
		}
	}

	return view, nil
}

func (s *Service) IsKicked(ctx context.Context, userID int64) (bool, error) {
	view, err := s.Status(ctx, userID)
	if err != nil {
		return false, err
	}
	return view.Status == enums.SessionStatusKicked, nil
}

func (s *Service) IsBanned(ctx context.Context, kind enums.TargetKind, targetID string) (bool, error) {
	if s.stores.Bans == nil {
		return false, fmt.Errorf("moderation service is not configured")
	}

	ban, err := s.stores.Bans.GetActive(ctx, kind, targetID)
	if err != nil {
		if errors.Is(err, txn.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("read ban record: %w", err)
	}
	if ban.Expired(s.now().UTC()) {
		if deactivateErr := s.stores.Bans.Deactivate(ctx, kind, targetID); deactivateErr != nil {
			s.logger.Warn("lazy ban expiry failed", zap.String("target", targetID), zap.Error(deactivateErr))
		}
		return false, nil
	}
	return true, nil
}

func (s *Service) withLockRetry(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < lockConflictAttempts; attempt++ {
		err = txn.Retry(ctx, s.cfg.Retry, fn)
		if txn.Classify(err) != txn.KindLockConflict {
			return err
		}
		// Conflict means a concurrent writer won the version race; the
		// next pass re-reads the fresh version before deciding again.
	}
	return err
}

func (s *Service) expireKick(ctx context.Context, user model.User) {
	err := s.atomic.Run(ctx, func(st Stores) error {
		if err := st.Kicks.Delete(ctx, user.ID); err != nil {
			return err
		}
		if _, err := st.Users.UpdateStatusVersioned(ctx, user.ID, user.Version, enums.SessionStatusActive); err != nil && !errors.Is(err, txn.ErrLockConflict) {
			return err
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("lazy kick expiry failed", zap.Int64("user_id", user.ID), zap.Error(err))
		return
	}
	s.cacheStatus(user.ID, enums.SessionStatusActive)
	s.publishStatus(ctx, user.ID, enums.SessionStatusActive)
}

func (s *Service) expireBan(ctx context.Context, user model.User, ban model.BanRecord) {
	err := s.atomic.Run(ctx, func(st Stores) error {
		if ban.Active {
			if err := st.Bans.Deactivate(ctx, ban.TargetKind, ban.TargetID); err != nil {
				return err
			}
		}
		if _, err := st.Users.UpdateStatusVersioned(ctx, user.ID, user.Version, enums.SessionStatusActive); err != nil && !errors.Is(err, txn.ErrLockConflict) {
			return err
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("lazy ban expiry failed", zap.Int64("user_id", user.ID), zap.Error(err))
		return
	}
	s.cacheStatus(user.ID, enums.SessionStatusActive)
	s.publishStatus(ctx, user.ID, enums.SessionStatusActive)
}

func (s *Service) forceOffline(ctx context.Context, userID int64) {
	if s.presence == nil {
		return
	}
	if err := s.presence.MarkOffline(ctx, userID); err != nil {
		// The cleanup scheduler reconciles presence drift; the state
		// transition itself has already committed.
		s.logger.Warn("force offline failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// appendAudit never blocks or rolls back the action that produced it.
func (s *Service) appendAudit(ctx context.Context, adminID int64, action enums.AuditAction, targetType, targetID string, details map[string]any) {
	if s.audit == nil {
		return
	}

	var raw json.RawMessage
	if details != nil {
		if encoded, err := json.Marshal(details); err == nil {
			raw = encoded
		}
	}

	entry := model.AuditEntry{
		AdminID:    adminID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    raw,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Warn("audit append failed", zap.String("action", string(action)), zap.Error(err))
	}
}

func (s *Service) publishStatus(ctx context.Context, userID int64, status enums.SessionStatus) {
	if s.broadcaster == nil {
		return
	}
	_ = s.broadcaster.Publish(ctx, broadcast.ChannelUserStatus, broadcast.EventUserStatusChanged, map[string]any{
		"user_id": userID,
		"status":  string(status),
	})
}

func (s *Service) cacheStatus(userID int64, status enums.SessionStatus) {
	if s.cache == nil {
		return
	}
	s.cache.Set(cacheKey(userID), string(status))
}

func (s *Service) cachedStatus(userID int64) (enums.SessionStatus, bool) {
	if s.cache == nil {
		return "", false
	}
	value, ok := s.cache.Get(cacheKey(userID))
	if !ok {
		return "", false
	}
	return enums.SessionStatus(value), true
}

func cacheKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

func failure(err error) ActionResult {
	switch txn.Classify(err) {
	case txn.KindLockConflict:
		return ActionResult{Message: "conflicting update in progress; re-read and retry"}
	case txn.KindPermission:
		return ActionResult{Message: "unauthenticated"}
	case txn.KindTransient:
		return ActionResult{Message: "store unavailable; retries exhausted"}
	case txn.KindNotFound:
		return ActionResult{Message: "target not found"}
	case txn.KindUnique, txn.KindForeignKey, txn.KindCheck:
		var constraintErr *txn.ConstraintError
		if errors.As(err, &constraintErr) {
			return ActionResult{Message: fmt.Sprintf("constraint violated: %s", constraintErr.Constraint)}
		}
		return ActionResult{Message: "constraint violated"}
	}
	return ActionResult{Message: err.Error()}
}
