// auth.go — middleware аутентификации по Bearer-токену.
// Проверка подписи, срока и отзыва выполняется TokenVerifier;
// middleware только извлекает токен и кладёт claims в контекст.
// Публичные endpoints (signup, login, health, info, metrics) — без аутентификации.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/homedrive/internal/api/errors"
	"github.com/bigkaa/homedrive/internal/auth"
)

type contextKey string

const (
	// ContextKeySubject — имя пользователя (sub) в контексте запроса.
	ContextKeySubject contextKey = "jwt_subject"
	// ContextKeyClaims — проверенные claims токена.
	ContextKeyClaims contextKey = "jwt_claims"
)

// TokenVerifier проверяет токен и возвращает его claims.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

// JWTAuth — middleware для JWT-аутентификации.
type JWTAuth struct {
	verifier TokenVerifier
	logger   *slog.Logger
}

// NewJWTAuth создаёт middleware аутентификации.
func NewJWTAuth(verifier TokenVerifier, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		verifier: verifier,
		logger:   logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token из заголовка Authorization, помещает sub и claims в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			claims, err := j.verifier.Verify(r.Context(), tokenString)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySubject, claims.Subject)
			ctx = context.WithValue(ctx, ContextKeyClaims, claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubjectFromContext извлекает sub из контекста запроса.
// Возвращает пустую строку, если sub не найден.
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(ContextKeySubject).(string)
	return subject
}

// ClaimsFromContext извлекает claims из контекста запроса.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(ContextKeyClaims).(*auth.Claims)
	return claims
}

// WithSubject возвращает контекст с именем пользователя (для тестов обработчиков).
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ContextKeySubject, subject)
}
