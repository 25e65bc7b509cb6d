package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ivankudzin/modgate/internal/pkg/txn"
	pgrepo "github.com/ivankudzin/modgate/internal/repo/postgres"
	authsvc "github.com/ivankudzin/modgate/internal/services/auth"
	modsvc "github.com/ivankudzin/modgate/internal/services/moderation"
	presencesvc "github.com/ivankudzin/modgate/internal/services/presence"
	"github.com/ivankudzin/modgate/internal/jobs/cleanup"
	"github.com/ivankudzin/modgate/internal/transport/http/handlers"
)

type Dependencies struct {
	AuthService       *authsvc.Service
	ModerationService *modsvc.Service
	PresenceService   *presencesvc.Service
	CleanupJob        *cleanup.Job
	AuditRepo         *pgrepo.AuditRepo
	UserRepo          *pgrepo.UserRepo
	Registry          *txn.Registry
	Logger            *zap.Logger
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler()
	authHandler := handlers.NewAuthHandler(deps.AuthService)
	moderationHandler := handlers.NewModerationHandler(deps.ModerationService)
	presenceHandler := handlers.NewPresenceHandler(deps.PresenceService)
	adminHandler := handlers.NewAdminHandler(deps.AuditRepo, deps.CleanupJob, deps.UserRepo)
	transactionHandler := handlers.NewTransactionHandler(deps.Registry)
	adminMW := AdminAuthMiddleware(deps.AuthService, deps.Logger)

	r.Get("/healthz", healthHandler.Get)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
	})

	r.Route("/presence", func(r chi.Router) {
		r.Post("/online", presenceHandler.Online)
		r.Post("/heartbeat", presenceHandler.Heartbeat)
		r.Post("/offline", presenceHandler.Offline)
		r.Get("/{id}", presenceHandler.Get)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminMW)

		r.Post("/users/{id}/kick", moderationHandler.Kick)
		r.Post("/users/{id}/unkick", moderationHandler.Unkick)
		r.Post("/users/{id}/role", moderationHandler.UpdateRole)
		r.Get("/users/{id}/status", moderationHandler.Status)
		r.Post("/bans", moderationHandler.Ban)
		r.Post("/bans/remove", moderationHandler.Unban)

		r.Post("/transactions", transactionHandler.Create)
		r.Post("/transactions/{id}/submit", transactionHandler.Submit)
		r.Get("/transactions/{id}", transactionHandler.Get)

		r.Get("/audit", adminHandler.AuditList)
		r.Get("/stats", adminHandler.Stats)
		r.Post("/cleanup", adminHandler.Cleanup)
	})
}
