package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/modgate/internal/domain/enums"
	"github.com/ivankudzin/modgate/internal/domain/model"
	redrepo "github.com/ivankudzin/modgate/internal/repo/redis"
	"github.com/ivankudzin/modgate/internal/services/moderation"
)

type KickLister interface {
	ListExpired(ctx context.Context, now time.Time) ([]model.KickRecord, error)
}

type BanLister interface {
	ListExpiredActive(ctx context.Context, now time.Time) ([]model.BanRecord, error)
}

type OnlineLister interface {
	ListOnline(ctx context.Context) ([]model.User, error)
}

type UserPurger interface {
	DeleteOfflineStandardBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type PresenceReader interface {
	Get(ctx context.Context, userID int64) (model.PresenceRecord, error)
	MarkOffline(ctx context.Context, userID int64) error
}

// Moderator is the slice of the moderation service the sweeps lean on:
// reading a status or a ban already performs the lazy expiry with full
// transactional and broadcast semantics, so the job never duplicates
// the state machine.
type Moderator interface {
	Status(ctx context.Context, userID int64) (moderation.StatusView, error)
	IsBanned(ctx context.Context, kind enums.TargetKind, targetID string) (bool, error)
}

type AuditStore interface {
	Append(ctx context.Context, entry model.AuditEntry) error
}

type RecordSweeper interface {
	Sweep() int
}

type Config struct {
	FullInterval   time.Duration
	StaleInterval  time.Duration
	StaleThreshold time.Duration
	GuestGrace     time.Duration

	// CallTimeout bounds each sweep phase. The scheduler runs on the app
	// context, which never expires on its own.
	CallTimeout time.Duration
}

// Report counts what one sweep actually changed; a second run right after
// a full one reports all zeros.
type Report struct {
	ExpiredKicks   int
	ExpiredBans    int
	GhostsResolved int
	UsersPurged    int64
	RecordsSwept   int
}

func (r Report) Empty() bool {
	return r.ExpiredKicks == 0 && r.ExpiredBans == 0 && r.GhostsResolved == 0 && r.UsersPurged == 0 && r.RecordsSwept == 0
}

type Job struct {
	kicks     KickLister
	bans      BanLister
	users     OnlineLister
	purger    UserPurger
	presence  PresenceReader
	moderator Moderator
	audit     AuditStore
	registry  RecordSweeper
	cfg       Config
	now       func() time.Time
	logger    *zap.Logger
}

func NewJob(kicks KickLister, bans BanLister, users OnlineLister, purger UserPurger, presence PresenceReader, moderator Moderator, audit AuditStore, registry RecordSweeper, cfg Config, logger *zap.Logger) *Job {
	if cfg.FullInterval <= 0 {
		cfg.FullInterval = time.Hour
	}
	if cfg.StaleInterval <= 0 {
		cfg.StaleInterval = 2 * time.Minute
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 5 * time.Minute
	}
	if cfg.GuestGrace <= 0 {
		cfg.GuestGrace = 24 * time.Hour
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		kicks:     kicks,
		bans:      bans,
		users:     users,
		purger:    purger,
		presence:  presence,
		moderator: moderator,
		audit:     audit,
		registry:  registry,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

// Run is the full sweep. Each phase is independent: a failing phase is
// logged and the rest still run, so one bad dependency never blocks the
// others.
func (j *Job) Run(ctx context.Context) Report {
	now := j.now().UTC()
	var report Report

	report.ExpiredKicks = j.expireKicks(ctx, now)
	report.ExpiredBans = j.expireBans(ctx, now)
	report.GhostsResolved = j.resolveGhosts(ctx, now)
	report.UsersPurged = j.purgeUsers(ctx, now)
	if j.registry != nil {
		report.RecordsSwept = j.registry.Sweep()
	}

	if !report.Empty() {
		j.appendAudit(ctx, report, now)
	}

	j.logger.Info("cleanup sweep finished",
		zap.Int("expired_kicks", report.ExpiredKicks),
		zap.Int("expired_bans", report.ExpiredBans),
		zap.Int("ghosts_resolved", report.GhostsResolved),
		zap.Int64("users_purged", report.UsersPurged),
		zap.Int("records_swept", report.RecordsSwept))

	return report
}

// RunStaleSweep reconciles presence only; it runs on a much shorter
// interval than the full sweep.
func (j *Job) RunStaleSweep(ctx context.Context) int {
	return j.resolveGhosts(ctx, j.now().UTC())
}

// Start runs both sweeps on their intervals until ctx is canceled.
func (j *Job) Start(ctx context.Context) {
	go func() {
		full := time.NewTicker(j.cfg.FullInterval)
		stale := time.NewTicker(j.cfg.StaleInterval)
		defer full.Stop()
		defer stale.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-full.C:
				j.Run(ctx)
			case <-stale.C:
				j.RunStaleSweep(ctx)
			}
		}
	}()
}

func (j *Job) expireKicks(ctx context.Context, now time.Time) int {
	if j.kicks == nil || j.moderator == nil {
		return 0
	}

	ctx, cancel := context.WithTimeout(ctx, j.cfg.CallTimeout)
	defer cancel()

	expired, err := j.kicks.ListExpired(ctx, now)
	if err != nil {
		j.logger.Warn("list expired kicks failed", zap.Error(err))
		return 0
	}

	resolved := 0
	for _, kick := range expired {
		// The status read performs the expiry itself.
		if _, err := j.moderator.Status(ctx, kick.UserID); err != nil {
			j.logger.Warn("expire kick failed", zap.Int64("user_id", kick.UserID), zap.Error(err))
			continue
		}
		resolved++
	}
	return resolved
}

func (j *Job) expireBans(ctx context.Context, now time.Time) int {
	if j.bans == nil || j.moderator == nil {
		return 0
	}

	ctx, cancel := context.WithTimeout(ctx, j.cfg.CallTimeout)
	defer cancel()

	expired, err := j.bans.ListExpiredActive(ctx, now)
	if err != nil {
		j.logger.Warn("list expired bans failed", zap.Error(err))
		return 0
	}

	resolved := 0
	for _, ban := range expired {
		var err error
		if ban.TargetKind == enums.TargetKindUser {
			if userID, parseErr := strconv.ParseInt(ban.TargetID, 10, 64); parseErr == nil {
				_, err = j.moderator.Status(ctx, userID)
			} else {
				err = parseErr
			}
		} else {
			_, err = j.moderator.IsBanned(ctx, ban.TargetKind, ban.TargetID)
		}
		if err != nil {
			j.logger.Warn("expire ban failed",
				zap.String("target_kind", string(ban.TargetKind)),
				zap.String("target_id", ban.TargetID),
				zap.Error(err))
			continue
		}
		resolved++
	}
	return resolved
}

// resolveGhosts flips users whose row says online but whose presence
// record is gone or whose heartbeat went stale past the threshold.
func (j *Job) resolveGhosts(ctx context.Context, now time.Time) int {
	if j.users == nil || j.presence == nil {
		return 0
	}

	ctx, cancel := context.WithTimeout(ctx, j.cfg.CallTimeout)
	defer cancel()

	online, err := j.users.ListOnline(ctx)
	if err != nil {
		j.logger.Warn("list online users failed", zap.Error(err))
		return 0
	}

	resolved := 0
	for _, user := range online {
		record, err := j.presence.Get(ctx, user.ID)
		switch {
		case err == nil && now.Sub(record.LastHeartbeat) <= j.cfg.StaleThreshold:
			continue
		case err != nil && !errors.Is(err, redrepo.ErrPresenceNotFound):
			// Unreadable is not the same as absent; leave the user alone.
			j.logger.Warn("read presence failed", zap.Int64("user_id", user.ID), zap.Error(err))
			continue
		}

		if err := j.presence.MarkOffline(ctx, user.ID); err != nil {
			j.logger.Warn("resolve ghost failed", zap.Int64("user_id", user.ID), zap.Error(err))
			continue
		}
		resolved++
	}
	return resolved
}

func (j *Job) purgeUsers(ctx context.Context, now time.Time) int64 {
	if j.purger == nil {
		return 0
	}

	ctx, cancel := context.WithTimeout(ctx, j.cfg.CallTimeout)
	defer cancel()

	purged, err := j.purger.DeleteOfflineStandardBefore(ctx, now.Add(-j.cfg.GuestGrace))
	if err != nil {
		j.logger.Warn("purge offline standard users failed", zap.Error(err))
		return 0
	}
	return purged
}

func (j *Job) appendAudit(ctx context.Context, report Report, now time.Time) {
	if j.audit == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, j.cfg.CallTimeout)
	defer cancel()

	details, err := json.Marshal(map[string]any{
		"expired_kicks":   report.ExpiredKicks,
		"expired_bans":    report.ExpiredBans,
		"ghosts_resolved": report.GhostsResolved,
		"users_purged":    report.UsersPurged,
		"records_swept":   report.RecordsSwept,
	})
	if err != nil {
		return
	}

	entry := model.AuditEntry{
		AdminID:    0,
		Action:     enums.AuditActionCleanup,
		TargetType: "system",
		TargetID:   "cleanup",
		Details:    details,
		CreatedAt:  now,
	}
	if err := j.audit.Append(ctx, entry); err != nil {
		j.logger.Warn("cleanup audit append failed", zap.Error(err))
	}
}
