// Пакет server — HTTP-сервер homedrive: маршруты chi, TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/homedrive/internal/api/handlers"
	"github.com/bigkaa/homedrive/internal/api/middleware"
	"github.com/bigkaa/homedrive/internal/config"
)

// Handlers — набор обработчиков, монтируемых в роутер.
type Handlers struct {
	Auth        *handlers.AuthHandler
	Files       *handlers.FilesHandler
	Maintenance *handlers.MaintenanceHandler
	Health      *handlers.HealthHandler
	System      *handlers.SystemHandler
	OpenAPI     http.Handler
	// JWTAuth — middleware аутентификации для защищённых маршрутов
	JWTAuth *middleware.JWTAuth
}

// NewRouter собирает маршруты API.
//
// Публичные: signup, login, JWKS, info, openapi, health, metrics.
// Остальные требуют Bearer-токен.
func NewRouter(h Handlers, logger *slog.Logger) chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	router.Get("/.well-known/jwks.json", h.Auth.JWKS)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/info", h.System.GetInfo)
		r.Method(http.MethodGet, "/openapi.json", h.OpenAPI)

		r.Post("/auth/signup", h.Auth.Signup)
		r.Post("/auth/login", h.Auth.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.JWTAuth.Middleware())

			r.Post("/auth/logout", h.Auth.Logout)

			r.Get("/files", h.Files.ListFiles)
			r.Post("/files", h.Files.UploadFile)
			r.Get("/files/{filename}/download", h.Files.DownloadFile)
			r.Delete("/files/{filename}", h.Files.TrashFile)

			r.Get("/trash", h.Files.ListTrash)
			r.Post("/trash/{filename}/restore", h.Files.RestoreFile)
			r.Delete("/trash/{filename}", h.Files.PurgeFile)

			r.Get("/recent", h.Files.ListRecent)

			r.Post("/maintenance/reconcile", h.Maintenance.Reconcile)
		})
	})

	return router
}

// Server — HTTP-сервер homedrive.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер поверх собранного роутера.
func New(cfg *config.Config, logger *slog.Logger, handler http.Handler) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// ReadTimeout/WriteTimeout не заданы: загрузка и скачивание
		// больших файлов ограничены только размером
	}

	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. Затем выполняется graceful shutdown с HD_SHUTDOWN_TIMEOUT.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.cfg.TLSCert != ""),
		)

		var err error
		if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменён")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...",
		slog.Duration("timeout", s.cfg.ShutdownTimeout),
	)
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
