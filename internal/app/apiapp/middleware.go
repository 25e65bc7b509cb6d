package apiapp

import (
	"errors"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ivankudzin/modgate/internal/pkg/txn"
	authsvc "github.com/ivankudzin/modgate/internal/services/auth"
	"github.com/ivankudzin/modgate/internal/transport/http/handlers"
	httperrors "github.com/ivankudzin/modgate/internal/transport/http/errors"
)

func ApplyMiddlewares(r chiRouter, log *zap.Logger) {
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(requestLogger(log))
}

// AdminAuthMiddleware gates the moderation surface: every request must
// carry a bearer token backed by a live admin session.
func AdminAuthMiddleware(authService *authsvc.Service, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authService == nil {
				httperrors.Write(w, http.StatusInternalServerError, httperrors.APIError{
					Code:    "AUTH_SERVICE_UNAVAILABLE",
					Message: "auth service is unavailable",
				})
				return
			}

			token, ok := handlers.ExtractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{
					Code:    "UNAUTHORIZED",
					Message: "missing bearer token",
				})
				return
			}

			adminID, err := authService.Verify(r.Context(), token)
			if err != nil {
				if log != nil {
					log.Debug("admin auth failed", zap.Error(err))
				}
				if errors.Is(err, txn.ErrUnavailable) {
					httperrors.Write(w, http.StatusServiceUnavailable, httperrors.APIError{
						Code:    "AUTH_UNAVAILABLE",
						Message: "session store is unavailable, try again shortly",
					})
					return
				}
				httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{
					Code:    "UNAUTHORIZED",
					Message: "invalid admin token",
				})
				return
			}

			ctx := authsvc.WithIdentity(r.Context(), authsvc.Identity{AdminID: adminID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			if log != nil {
				log.Info("http_request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Duration("duration", time.Since(start)),
				)
			}
		})
	}
}

type chiRouter interface {
	Use(middlewares ...func(http.Handler) http.Handler)
}
