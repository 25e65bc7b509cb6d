package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	redrepo "github.com/ivankudzin/modgate/internal/repo/redis"
	"github.com/ivankudzin/modgate/internal/pkg/txn"
)

var ErrInvalidToken = errors.New("invalid admin token")

// SessionStore keeps one revocable record per issued token; a token whose
// record is gone is dead no matter what its signature says.
type SessionStore interface {
	Put(ctx context.Context, tokenID string, adminID int64, ttl time.Duration) error
	Get(ctx context.Context, tokenID string) (int64, error)
	Delete(ctx context.Context, tokenID string) error
}

type adminClaims struct {
	AdminID int64 `json:"admin_id"`
	jwt.RegisteredClaims
}

type Config struct {
	JWTSecret       string
	AccessTTL       time.Duration
	AdminSecretHash string
}

// Service authenticates admins: a bcrypt-checked shared secret buys a JWT,
// and every later check verifies both the signature and the live session.
type Service struct {
	sessions SessionStore
	breaker  *txn.Breaker
	cfg      Config
	now      func() time.Time
	logger   *zap.Logger
}

func NewService(sessions SessionStore, breaker *txn.Breaker, cfg Config, logger *zap.Logger) *Service {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 12 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		sessions: sessions,
		breaker:  breaker,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
}

// Login checks the admin secret and issues a signed token backed by a
// session record. A wrong secret is a permission failure, never retried.
func (s *Service) Login(ctx context.Context, adminID int64, secret string) (string, error) {
	if adminID <= 0 {
		return "", fmt.Errorf("invalid admin id")
	}
	if s.sessions == nil || s.cfg.JWTSecret == "" || s.cfg.AdminSecretHash == "" {
		return "", fmt.Errorf("auth service is not configured")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminSecretHash), []byte(secret)); err != nil {
		return "", txn.ErrPermissionDenied
	}

	now := s.now().UTC()
	tokenID := uuid.NewString()
	claims := adminClaims{
		AdminID: adminID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}

	if err := s.sessions.Put(ctx, tokenID, adminID, s.cfg.AccessTTL); err != nil {
		return "", fmt.Errorf("store admin session: %w", err)
	}

	return signed, nil
}

// Verify returns the admin ID behind a token. Signature failures and
// revoked sessions both come back as txn.ErrPermissionDenied so callers
// treat them uniformly; transient session-store trouble passes through
// breaker-classified for the retry layer.
func (s *Service) Verify(ctx context.Context, token string) (int64, error) {
	if s.sessions == nil || s.cfg.JWTSecret == "" {
		return 0, fmt.Errorf("auth service is not configured")
	}

	claims, err := s.parse(token)
	if err != nil {
		return 0, txn.ErrPermissionDenied
	}

	var adminID int64
	lookup := func(ctx context.Context) error {
		id, err := s.sessions.Get(ctx, claims.ID)
		if err != nil {
			return err
		}
		adminID = id
		return nil
	}

	if s.breaker != nil {
		err = s.breaker.Do(ctx, lookup)
	} else {
		err = lookup(ctx)
	}
	if err != nil {
		if errors.Is(err, redrepo.ErrSessionNotFound) {
			return 0, txn.ErrPermissionDenied
		}
		return 0, fmt.Errorf("check admin session: %w", err)
	}

	if adminID != claims.AdminID {
		// Session record no longer matches the token; treat the token as
		// revoked and drop the record.
		_ = s.sessions.Delete(ctx, claims.ID)
		return 0, txn.ErrPermissionDenied
	}

	return adminID, nil
}

// Logout revokes the session behind the token. An already-dead token is
// not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	if s.sessions == nil {
		return fmt.Errorf("auth service is not configured")
	}

	claims, err := s.parse(token)
	if err != nil {
		return nil
	}
	return s.sessions.Delete(ctx, claims.ID)
}

func (s *Service) parse(token string) (*adminClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &adminClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*adminClaims)
	if !ok || !parsed.Valid || claims.ID == "" || claims.AdminID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
