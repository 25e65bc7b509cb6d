package apiapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	redrepo "github.com/ivankudzin/modgate/internal/repo/redis"
	authsvc "github.com/ivankudzin/modgate/internal/services/auth"
)

func newAuthService(t *testing.T) *authsvc.Service {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte("sesame"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}

	return authsvc.NewService(redrepo.NewSessionRepo(client), nil, authsvc.Config{
		JWTSecret:       "test-signing-key",
		AccessTTL:       time.Hour,
		AdminSecretHash: string(hash),
	}, nil)
}

func TestAdminAuthMiddlewareRejectsMissingToken(t *testing.T) {
	mw := AdminAuthMiddleware(newAuthService(t), nil)
	handler := mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run without a token")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/audit", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAdminAuthMiddlewarePassesIdentity(t *testing.T) {
	svc := newAuthService(t)
	token, err := svc.Login(context.Background(), 42, "sesame")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	var seen authsvc.Identity
	mw := AdminAuthMiddleware(svc, nil)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = authsvc.IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/audit", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen.AdminID != 42 {
		t.Fatalf("expected admin 42 in context, got %+v", seen)
	}
}
