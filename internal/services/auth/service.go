package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/FeedbackBox/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "feedbackbox"

type Repository interface {
	GetAdminByUsername(ctx context.Context, username string) (*models.AdminUser, error)
	EnsureAdmin(ctx context.Context, username, passwordHash string) (bool, error)
}

// Claims несут только факт входа; ролей нет.
type Claims struct {
	Username      string `json:"username"`
	Authenticated bool   `json:"authenticated"`
	jwt.RegisteredClaims
}

type Service struct {
	repo   Repository
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func New(repo Repository, secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Service{repo: repo, secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *Service) TTL() time.Duration {
	return s.ttl
}

func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "bcrypt hash")
	}
	return string(b), nil
}

// EnsureAdmin заводит админа по умолчанию при старте, если его нет.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return errors.New("admin username and password are required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	created, err := s.repo.EnsureAdmin(ctx, username, hash)
	if err != nil {
		return err
	}
	if created {
		slog.Info("default admin created", "username", username)
	}
	return nil
}

// Authenticate проверяет пароль и выдаёт подписанный токен сессии.
func (s *Service) Authenticate(ctx context.Context, username, password string) (string, error) {
	u, err := s.repo.GetAdminByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", models.ErrInvalidCredentials
		}
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", models.ErrInvalidCredentials
	}

	now := s.now()
	claims := &Claims{
		Username:      u.Username,
		Authenticated: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   u.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	slog.Info("admin logged in", "username", u.Username)
	return token, nil
}

func (s *Service) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, errors.Wrap(models.ErrInvalidCredentials, err.Error())
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || !claims.Authenticated {
		return nil, models.ErrInvalidCredentials
	}
	return claims, nil
}
