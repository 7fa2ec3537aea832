// auth.go — регистрация, вход и выход пользователей.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/bigkaa/homedrive/internal/auth"
	"github.com/bigkaa/homedrive/internal/crypto"
	"github.com/bigkaa/homedrive/internal/domain/model"
	"github.com/bigkaa/homedrive/internal/storage/registry"
)

const (
	// MinPasswordLen — минимальная длина пароля в символах.
	MinPasswordLen = 8
	// MaxPasswordLen — верхняя граница длины пароля в байтах.
	MaxPasswordLen = 1024
)

// ErrWeakPassword — пароль не удовлетворяет требованиям длины.
var ErrWeakPassword = errors.New("пароль должен содержать от 8 символов")

// AuthService — учётные записи и токены.
type AuthService struct {
	registry registry.Store
	issuer   *auth.Issuer
	revoked  *auth.RevocationList
	logger   *slog.Logger
}

// NewAuthService создаёт сервис аутентификации.
func NewAuthService(
	reg registry.Store,
	issuer *auth.Issuer,
	revoked *auth.RevocationList,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		registry: reg,
		issuer:   issuer,
		revoked:  revoked,
		logger:   logger.With(slog.String("component", "auth")),
	}
}

// Signup регистрирует пользователя и выпускает токен.
func (s *AuthService) Signup(ctx context.Context, username, password string) (tok *auth.Token, err error) {
	defer func() { observeAuth("signup", err) }()

	if err := model.ValidateUsername(username); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(password) < MinPasswordLen || len(password) > MaxPasswordLen {
		return nil, ErrWeakPassword
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("ошибка хэширования пароля: %w", err)
	}
	if _, err := s.registry.CreateUser(ctx, username, hash); err != nil {
		return nil, err
	}

	s.logger.Info("Пользователь зарегистрирован", slog.String("username", username))
	return s.issuer.Issue(username)
}

// Login проверяет учётные данные и выпускает токен.
// Для неизвестного пользователя и неверного пароля ошибка одинакова.
func (s *AuthService) Login(ctx context.Context, username, password string) (tok *auth.Token, err error) {
	defer func() { observeAuth("login", err) }()

	if len(password) > MaxPasswordLen {
		return nil, model.ErrInvalidCredentials
	}
	user, err := s.registry.Authenticate(ctx, username, password)
	if err != nil {
		if errors.Is(err, model.ErrInvalidName) {
			return nil, model.ErrInvalidCredentials
		}
		return nil, err
	}
	return s.issuer.Issue(user.Username)
}

// Verify проверяет токен и его отсутствие в списке отзыва.
func (s *AuthService) Verify(ctx context.Context, token string) (*auth.Claims, error) {
	claims, err := s.issuer.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	if s.revoked.IsRevoked(claims.ID) {
		return nil, fmt.Errorf("%w: токен отозван", auth.ErrInvalidToken)
	}
	return claims, nil
}

// Logout отзывает токен до истечения его срока.
func (s *AuthService) Logout(claims *auth.Claims) {
	exp := claims.ExpiresAt.Time
	s.revoked.Revoke(claims.ID, exp)
	s.logger.Info("Токен отозван",
		slog.String("username", claims.Subject),
		slog.String("jti", claims.ID),
	)
}

// JWKS возвращает публичные ключи подписи в формате JWK Set.
func (s *AuthService) JWKS() []byte {
	return s.issuer.JWKS()
}

func observeAuth(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	authAttemptsTotal.WithLabelValues(operation, result).Inc()
}
