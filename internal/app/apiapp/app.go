package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ivankudzin/modgate/internal/config"
	"github.com/ivankudzin/modgate/internal/jobs/cleanup"
	"github.com/ivankudzin/modgate/internal/pkg/statuscache"
	"github.com/ivankudzin/modgate/internal/pkg/txn"
	pgrepo "github.com/ivankudzin/modgate/internal/repo/postgres"
	redrepo "github.com/ivankudzin/modgate/internal/repo/redis"
	authsvc "github.com/ivankudzin/modgate/internal/services/auth"
	broadcastsvc "github.com/ivankudzin/modgate/internal/services/broadcast"
	modsvc "github.com/ivankudzin/modgate/internal/services/moderation"
	presencesvc "github.com/ivankudzin/modgate/internal/services/presence"
)

const statusCacheSize = 4096

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	var pool *pgxpool.Pool
	if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		pool = p
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)

	userRepo := pgrepo.NewUserRepo(pool)
	kickRepo := pgrepo.NewKickRepo(pool)
	banRepo := pgrepo.NewBanRepo(pool)
	auditRepo := pgrepo.NewAuditRepo(pool)
	presenceRepo := redrepo.NewPresenceRepo(redisClient)
	sessionRepo := redrepo.NewSessionRepo(redisClient)

	retryPolicy := txn.RetryPolicy{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay,
		CapDelay:   cfg.Retry.CapDelay,
	}
	sessionBreaker := txn.NewBreaker(cfg.Breaker.MinInterval, cfg.Breaker.MaxFailures)

	authService := authsvc.NewService(sessionRepo, sessionBreaker, authsvc.Config{
		JWTSecret:       cfg.Auth.JWTSecret,
		AccessTTL:       cfg.Auth.JWTAccessTTL,
		AdminSecretHash: cfg.Auth.AdminSecretHash,
	}, log)

	broadcaster := broadcastsvc.NewService(redisClient, log)
	presenceService := presencesvc.NewService(presenceRepo, userRepo, broadcaster, cfg.Presence.HeartbeatInterval, log)

	statusCache := statuscache.New(statusCacheSize, cfg.Presence.StaleThreshold)
	atomic := pgrepo.NewAtomic(pool, userRepo, kickRepo, banRepo)
	moderationService := modsvc.NewService(atomic, modsvc.Stores{
		Users: userRepo,
		Kicks: kickRepo,
		Bans:  banRepo,
	}, auditRepo, presenceService, broadcaster, statusCache, modsvc.Config{
		KickTTL:     cfg.Moderation.KickTTL,
		MaxBanHours: cfg.Moderation.MaxBanHours,
		Retry:       retryPolicy,
	}, log)

	groupStore := pgrepo.NewGroupStore(pool, userRepo, kickRepo, banRepo)
	registry := txn.NewRegistry(groupStore)

	cleanupJob := cleanup.NewJob(kickRepo, banRepo, userRepo, userRepo, presenceService, moderationService, auditRepo, registry, cleanup.Config{
		FullInterval:   cfg.Cleanup.FullInterval,
		StaleInterval:  cfg.Cleanup.StaleInterval,
		StaleThreshold: cfg.Presence.StaleThreshold,
		GuestGrace:     cfg.Cleanup.GuestGrace,
		CallTimeout:    cfg.Postgres.CallTimeout,
	}, log)
	cleanupJob.Start(ctx)

	RegisterRoutes(r, Dependencies{
		AuthService:       authService,
		ModerationService: moderationService,
		PresenceService:   presenceService,
		CleanupJob:        cleanupJob,
		AuditRepo:         auditRepo,
		UserRepo:          userRepo,
		Registry:          registry,
		Logger:            log,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		redis:      redisClient,
		httpRouter: r,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}
