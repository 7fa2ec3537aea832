// Точка входа homedrive — сервиса персонального хранения файлов.
package main

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"os"

	"github.com/bigkaa/homedrive/internal/api/handlers"
	"github.com/bigkaa/homedrive/internal/api/middleware"
	"github.com/bigkaa/homedrive/internal/api/openapi"
	"github.com/bigkaa/homedrive/internal/auth"
	"github.com/bigkaa/homedrive/internal/config"
	"github.com/bigkaa/homedrive/internal/keylock"
	"github.com/bigkaa/homedrive/internal/server"
	"github.com/bigkaa/homedrive/internal/service"
	"github.com/bigkaa/homedrive/internal/storage/lock"
	"github.com/bigkaa/homedrive/internal/storage/registry"
	"github.com/bigkaa/homedrive/internal/storage/vault"
	"github.com/bigkaa/homedrive/internal/storage/wal"
)

// revocationCapacity — максимум одновременно отозванных токенов.
const revocationCapacity = 100_000

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("homedrive запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("data_dir", cfg.DataDir),
		slog.String("registry_backend", cfg.RegistryBackend),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Ошибка сервиса", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("homedrive остановлен")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// 1. Единственный экземпляр на директорию данных
	dataLock, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := dataLock.Release(); err != nil {
			logger.Warn("Ошибка снятия блокировки", slog.String("error", err.Error()))
		}
	}()

	// 2. Реестр
	reg, err := openRegistry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer reg.Close()

	// 3. Файловое хранилище и журнал
	v, err := vault.New(cfg.DataDir)
	if err != nil {
		return err
	}
	journal, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		return err
	}
	locks := keylock.New()

	// 4. Ключ подписи токенов
	key, err := signingKey(cfg, logger)
	if err != nil {
		return err
	}
	issuer, err := auth.NewIssuer(key, cfg.TokenTTL)
	if err != nil {
		return err
	}
	revoked := auth.NewRevocationList(revocationCapacity, cfg.TokenTTL)

	// 5. Сервисы
	authSvc := service.NewAuthService(reg, issuer, revoked, logger)
	filesSvc := service.NewFileService(reg, v, journal, locks, logger)
	reconcileSvc := service.NewReconcileService(reg, v, locks, cfg.ReconcileInterval, logger)
	gcSvc := service.NewGCService(filesSvc, reg, v, journal, cfg.TrashRetention, cfg.GCInterval, logger)

	// 6. Восстановление после незавершённых операций, затем фоновые процессы
	if err := service.RecoverJournal(ctx, journal, reconcileSvc, logger); err != nil {
		return fmt.Errorf("восстановление журнала: %w", err)
	}
	reconcileSvc.Start(ctx)
	defer reconcileSvc.Stop()
	gcSvc.Start(ctx)
	defer gcSvc.Stop()

	// 7. HTTP
	doc, err := openapi.Load(ctx)
	if err != nil {
		return err
	}
	openapiHandler, err := openapi.NewHandler(doc)
	if err != nil {
		return err
	}

	router := server.NewRouter(server.Handlers{
		Auth:        handlers.NewAuthHandler(authSvc, logger),
		Files:       handlers.NewFilesHandler(filesSvc, cfg.MaxFileSize, cfg.RecentWindow, logger),
		Maintenance: handlers.NewMaintenanceHandler(reconcileSvc, logger),
		Health:      handlers.NewHealthHandler(cfg.DataDir, cfg.WALDir, reg),
		System:      handlers.NewSystemHandler(reg, cfg.DataDir, getDiskUsage, logger),
		OpenAPI:     openapiHandler,
		JWTAuth:     middleware.NewJWTAuth(authSvc, logger),
	}, logger)

	return server.New(cfg, logger, router).Run(ctx)
}

// openRegistry открывает реестр выбранного бэкенда.
// Для postgres перед подключением применяются миграции.
func openRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (registry.Store, error) {
	switch cfg.RegistryBackend {
	case config.BackendPostgres:
		if err := registry.Migrate(cfg.MigrateURL(), logger); err != nil {
			return nil, err
		}
		return registry.OpenPostgres(ctx, cfg.DatabaseDSN(), logger)
	default:
		store, err := registry.OpenJSON(cfg.RegistryPath())
		if err != nil {
			return nil, err
		}
		logger.Info("Реестр загружен", slog.String("path", cfg.RegistryPath()))
		return store, nil
	}
}

// signingKey читает ключ из HD_SIGNING_KEY или генерирует временный.
// Токены, подписанные временным ключом, не переживают рестарт.
func signingKey(cfg *config.Config, logger *slog.Logger) (*rsa.PrivateKey, error) {
	if cfg.SigningKey != "" {
		return auth.LoadKey(cfg.SigningKey)
	}
	logger.Warn("HD_SIGNING_KEY не задан, используется временный ключ")
	return auth.GenerateKey()
}
