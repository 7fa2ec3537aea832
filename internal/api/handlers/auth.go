// auth.go — регистрация, вход, выход и публикация JWKS.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/homedrive/internal/api/errors"
	"github.com/bigkaa/homedrive/internal/api/middleware"
	"github.com/bigkaa/homedrive/internal/service"
)

// maxCredentialsBody — ограничение тела запроса signup/login.
const maxCredentialsBody = 8 << 10

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse — ответ signup/login.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
}

// AuthHandler — обработчик endpoints аутентификации.
type AuthHandler struct {
	svc    *service.AuthService
	logger *slog.Logger
}

// NewAuthHandler создаёт обработчик аутентификации.
func NewAuthHandler(svc *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		svc:    svc,
		logger: logger.With(slog.String("component", "auth_handler")),
	}
}

// Signup обрабатывает POST /api/v1/auth/signup.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredentials(w, r)
	if !ok {
		return
	}

	tok, err := h.svc.Signup(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrWeakPassword) {
			apierrors.ValidationError(w, err.Error())
			return
		}
		apierrors.FromError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, TokenResponse{
		Token:     tok.Value,
		ExpiresAt: tok.ExpiresAt,
		Username:  tok.Subject,
	})
}

// Login обрабатывает POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredentials(w, r)
	if !ok {
		return
	}

	tok, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		apierrors.FromError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{
		Token:     tok.Value,
		ExpiresAt: tok.ExpiresAt,
		Username:  tok.Subject,
	})
}

// Logout обрабатывает POST /api/v1/auth/logout: отзывает текущий токен.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}
	h.svc.Logout(claims)
	w.WriteHeader(http.StatusNoContent)
}

// JWKS обрабатывает GET /.well-known/jwks.json.
func (h *AuthHandler) JWKS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.svc.JWKS())
}

func (h *AuthHandler) decodeCredentials(w http.ResponseWriter, r *http.Request) (*credentialsRequest, bool) {
	var req credentialsRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCredentialsBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: ожидается {\"username\", \"password\"}")
		return nil, false
	}
	if req.Username == "" || req.Password == "" {
		apierrors.ValidationError(w, "Поля username и password обязательны")
		return nil, false
	}
	return &req, true
}
